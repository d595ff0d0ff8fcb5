package report

import (
	"errors"
	"log/slog"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Level classifies a transient notification.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// GenericFailure is shown for transport and server failures.
const GenericFailure = "Unable to load data right now. Please try again."

// Notification is a transient message surfaced to the user after a failed fetch.
type Notification struct {
	Level   Level
	Message string
	Err     error
}

// Notifier receives transient notifications from the controller.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(n Notification) {
	if l.Logger == nil {
		return
	}
	l.Logger.Warn("report notification", slog.String("level", string(n.Level)), slog.String("message", n.Message), slog.Any("error", n.Err))
}

// Describe converts a fetch error into the notification shown to the user.
// Client errors carry the server's message verbatim; anything else gets the
// generic transient message.
func Describe(err error) Notification {
	var se *httpx.StatusError
	if errors.As(err, &se) && httpx.IsClientError(err) {
		msg := se.Detail
		if msg == "" {
			msg = se.Title
		}
		if msg == "" {
			msg = se.Error()
		}
		return Notification{Level: LevelWarning, Message: msg, Err: err}
	}
	switch {
	case errors.Is(err, ErrInvalidPage), errors.Is(err, ErrInvalidPageSize),
		errors.Is(err, ErrPageOutOfRange), errors.Is(err, ErrInvalidSort):
		return Notification{Level: LevelWarning, Message: err.Error(), Err: err}
	case errors.Is(err, ErrIncompleteSet):
		return Notification{Level: LevelError, Message: "The report is too large to export in one piece. Narrow the filters and try again.", Err: err}
	}
	return Notification{Level: LevelError, Message: GenericFailure, Err: err}
}
