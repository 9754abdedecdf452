package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrTooLarge is returned when upstream refuses a table as too large for a
	// synchronous download. Retrying does not help.
	ErrTooLarge     = errors.New("table too large for direct download")
	ErrUnauthorized = errors.New("upstream rejected credentials")
	ErrJobPending   = errors.New("upstream job still running")
	ErrUnexpected   = errors.New("unexpected upstream response")
)

// ExtractionError reports a failed extraction of one table year.
type ExtractionError struct {
	TableID   string
	Year      int
	Retryable bool
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract table %s year %d: %v", e.TableID, e.Year, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure was transient upstream trouble that
// outlasted the retry budget.
func (e *ExtractionError) Temporary() bool {
	return e.Retryable
}

// statusError is an HTTP failure from upstream.
type statusError struct {
	StatusCode int
	Body       string
	retryAfter int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode == 429 || se.StatusCode >= 500
	}
	if errors.Is(err, ErrJobPending) {
		return true
	}
	return !errors.Is(err, ErrTooLarge) && !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrUnexpected)
}
