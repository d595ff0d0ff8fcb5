package report

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// DefaultAllPageSize is the page size used by full-set fetches. It has to
// exceed any realistic result count of a back-office collection.
const DefaultAllPageSize = 10000

var validate = validator.New()

// PageRequest selects one page of a collection.
type PageRequest struct {
	Page     int `json:"page" validate:"min=1"`
	PageSize int `json:"pageSize" validate:"min=1"`
}

// PageResult is one page of records plus the size of the whole matching set.
type PageResult[R any] struct {
	Records    []R `json:"records"`
	TotalCount int `json:"totalCount"`
}

// Empty reports whether the page has no rows to display.
func (p PageResult[R]) Empty() bool {
	return len(p.Records) == 0
}

// MaxPage returns the highest valid page number for total records split
// into pages of size. It is zero when there are no records.
func MaxPage(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Validate checks the request before any network call is made.
func (p PageRequest) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			if fe.StructField() == "PageSize" {
				return fmt.Errorf("%w: %d", ErrInvalidPageSize, p.PageSize)
			}
		}
		return fmt.Errorf("%w: %d", ErrInvalidPage, p.Page)
	}
	return err
}

func validateSort(s SortSpec) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSort, s.Direction)
	}
	return nil
}
