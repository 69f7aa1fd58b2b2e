package deliverynote

import "github.com/cockroachdb/errors"

// Error classes.  Concrete errors are marked with one of these so callers
// can decide how far a failure propagates with errors.Is.
var (
	// ErrConfig marks a missing or malformed rule or service configuration.
	// Fatal at startup.
	ErrConfig = errors.New("configuration error")
	// ErrConnection marks an unreachable mailbox.  Fatal for the current
	// cycle only.
	ErrConnection = errors.New("mailbox connection error")
	// ErrExtraction marks an unreadable spreadsheet, sheet or row.  The
	// smallest enclosing unit is skipped.
	ErrExtraction = errors.New("extraction error")
	// ErrPersistence marks a failed output or watermark write.  Nothing is
	// committed, so the work is retried on a later cycle.
	ErrPersistence = errors.New("persistence error")
	// ErrCycleInProgress is returned when a poll cycle is requested while
	// another one is still running.
	ErrCycleInProgress = errors.New("poll cycle already in progress")
)

func configErrorf(err error, format string, args ...any) error {
	if err == nil {
		return errors.Mark(errors.Newf(format, args...), ErrConfig)
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrConfig)
}

func extractionErrorf(err error, format string, args ...any) error {
	if err == nil {
		return errors.Mark(errors.Newf(format, args...), ErrExtraction)
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrExtraction)
}

func persistenceErrorf(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrPersistence)
}

// AppError wraps an application error with an HTTP response code.
type AppError struct {
	Code     int    // HTTP response code
	Message  string // custom message
	Internal error  // original error, if any
}

// AppErr returns a new AppError including the given HTTP response code.
func AppErr(code int, message string) *AppError {
	return &AppError{Code: code, Message: message, Internal: nil}
}

// WrapErr returns a new AppError wrapping the given error.
func WrapErr(code int, err error) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: err.Error(), Internal: err}
}

// Error returns the error message.
func (e *AppError) Error() string {
	return e.Message
}

// appendError combines two errors into a single error using errors.Join.
func appendError(err1, err2 error) error {
	if err1 == nil && err2 == nil {
		return nil
	}

	if err1 == nil {
		return err2
	}

	if err2 == nil {
		return err1
	}

	return errors.Join(err1, err2)
}
