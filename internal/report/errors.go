package report

import "errors"

var (
	// ErrInvalidPageSize is returned when a page size below one is requested.
	ErrInvalidPageSize = errors.New("report: page size must be positive")
	// ErrInvalidPage is returned when a page number below one is requested.
	ErrInvalidPage = errors.New("report: page must be at least 1")
	// ErrInvalidSort is returned for a sort direction other than asc/desc.
	ErrInvalidSort = errors.New("report: invalid sort direction")
	// ErrPageOutOfRange is returned by GoToPage beyond the last page.
	ErrPageOutOfRange = errors.New("report: page out of range")
	// ErrSuperseded marks a response that arrived after a newer request was issued.
	ErrSuperseded = errors.New("report: request superseded")
	// ErrIncompleteSet is returned when a full-set fetch did not receive every record.
	ErrIncompleteSet = errors.New("report: full set incomplete")
	// ErrMalformedResponse is returned when the envelope cannot be decoded.
	ErrMalformedResponse = errors.New("report: malformed response")
)
