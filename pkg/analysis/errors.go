package analysis

import (
	"errors"
	"fmt"
)

// ErrSuperseded is returned by Pipeline.Submit when a newer submission or
// an input change replaced the request before its response arrived.
var ErrSuperseded = errors.New("analysis superseded by a newer request")

// ValidationError reports an incomplete or malformed selection. No backend
// call is made when validation fails.
type ValidationError struct {
	Op    string
	Field string
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AnalysisError reports a failed backend call: transport, status or an
// unreadable payload.
type AnalysisError struct {
	Op  string
	Msg string
	Err error
}

func (e *AnalysisError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// FormatError reports a result that is not in an exportable shape.
type FormatError struct {
	Op  string
	Msg string
	Err error
}

func (e *FormatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// UserMessage returns the message to show for err, falling back to a
// generic text for errors outside the analysis taxonomy.
func UserMessage(err error) string {
	var (
		verr *ValidationError
		aerr *AnalysisError
		ferr *FormatError
	)
	switch {
	case errors.As(err, &verr):
		return verr.Msg
	case errors.As(err, &aerr):
		return aerr.Msg
	case errors.As(err, &ferr):
		return ferr.Msg
	case errors.Is(err, ErrSuperseded):
		return "A newer analysis replaced this request."
	default:
		return "Unexpected error."
	}
}
