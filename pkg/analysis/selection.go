// Package analysis submits correlation requests to the analysis backend and
// holds the single current result of each dashboard session.
package analysis

import (
	"math"
	"slices"
	"strings"
	"time"
)

// RequiredStreams is the exact number of streams an analysis compares.
const RequiredStreams = 3

// DefaultStreams are the selectable streams when none are configured.
var DefaultStreams = []string{"Sensor 1", "Sensor 2", "Sensor 3", "Sensor 4", "Sensor 5"}

// Selection is the editable form state. Fields may be empty or incomplete.
type Selection struct {
	Streams             []string `json:"streams"`
	Start               string   `json:"start"`
	End                 string   `json:"end"`
	ExpectedCorrelation *float64 `json:"expectedCorrelation"`
}

// Clone returns a deep copy.
func (s Selection) Clone() Selection {
	out := s
	out.Streams = slices.Clone(s.Streams)
	if s.ExpectedCorrelation != nil {
		v := *s.ExpectedCorrelation
		out.ExpectedCorrelation = &v
	}
	return out
}

// Equal reports whether both selections hold the same inputs. Stream order
// matters since it is forwarded to the backend as is.
func (s Selection) Equal(o Selection) bool {
	if s.Start != o.Start || s.End != o.End || !slices.Equal(s.Streams, o.Streams) {
		return false
	}
	switch {
	case s.ExpectedCorrelation == nil && o.ExpectedCorrelation == nil:
		return true
	case s.ExpectedCorrelation == nil || o.ExpectedCorrelation == nil:
		return false
	default:
		return *s.ExpectedCorrelation == *o.ExpectedCorrelation
	}
}

// Request is the body of POST /api/analyze.
type Request struct {
	Streams             []string `json:"streams"`
	Start               string   `json:"start"`
	End                 string   `json:"end"`
	ExpectedCorrelation float64  `json:"expectedCorrelation"`
}

// Validate checks a selection and builds the request for it.
func Validate(sel Selection) (Request, error) {
	return ValidateAgainst(sel, nil)
}

// ValidateAgainst is Validate restricted to the given stream names. A nil
// list accepts any stream.
func ValidateAgainst(sel Selection, available []string) (Request, error) {
	const op = "validate"

	streams := normalizeStreams(sel.Streams)
	if len(streams) != RequiredStreams {
		return Request{}, &ValidationError{Op: op, Field: "streams", Msg: "Please select exactly 3 streams."}
	}
	if available != nil {
		for _, s := range streams {
			if !slices.Contains(available, s) {
				return Request{}, &ValidationError{Op: op, Field: "streams", Msg: "Unknown stream " + s + "."}
			}
		}
	}

	start := strings.TrimSpace(sel.Start)
	if start == "" {
		return Request{}, &ValidationError{Op: op, Field: "start", Msg: "Start time is required."}
	}
	if err := checkTimeOfDay(start); err != nil {
		return Request{}, &ValidationError{Op: op, Field: "start", Msg: "Start time must be HH:MM.", Err: err}
	}

	end := strings.TrimSpace(sel.End)
	if end == "" {
		return Request{}, &ValidationError{Op: op, Field: "end", Msg: "End time is required."}
	}
	if err := checkTimeOfDay(end); err != nil {
		return Request{}, &ValidationError{Op: op, Field: "end", Msg: "End time must be HH:MM.", Err: err}
	}

	if sel.ExpectedCorrelation == nil {
		return Request{}, &ValidationError{Op: op, Field: "expectedCorrelation", Msg: "Expected correlation is required."}
	}
	corr := *sel.ExpectedCorrelation
	if math.IsNaN(corr) || corr < 0 || corr > 1 {
		return Request{}, &ValidationError{Op: op, Field: "expectedCorrelation", Msg: "Expected correlation must be between 0 and 1."}
	}

	return Request{
		Streams:             streams,
		Start:               start,
		End:                 end,
		ExpectedCorrelation: corr,
	}, nil
}

// normalizeStreams trims names and drops blanks and duplicates, keeping the
// first occurrence.
func normalizeStreams(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func checkTimeOfDay(v string) error {
	if _, err := time.Parse("15:04", v); err == nil {
		return nil
	}
	_, err := time.Parse("15:04:05", v)
	return err
}
