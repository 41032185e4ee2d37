package extractor

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRejected means the platform refused the credential's session.
	ErrAuthRejected = errors.New("credential rejected by platform")
	// ErrRateLimited covers throttling, including an empty response.
	ErrRateLimited = errors.New("rate limited by platform")
)

type Reason string

const (
	ReasonTimeout    Reason = "timeout"
	ReasonParse      Reason = "parse"
	ReasonNavigation Reason = "navigation"
)

type ExtractionError struct {
	Reason Reason
	URL    string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("extraction failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed (%s) for %s: %v", e.Reason, e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsReason reports whether err is an ExtractionError with the given reason.
func IsReason(err error, reason Reason) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) && ee.Reason == reason
}

func parseError(format string, args ...any) error {
	return &ExtractionError{Reason: ReasonParse, Err: fmt.Errorf(format, args...)}
}
