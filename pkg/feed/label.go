package feed

import (
	"fmt"
	"strings"
)

// Filters are optional display tags attached to the feed. They only decorate
// the label; they never change which samples are kept.
type Filters struct {
	TimeRange string   `json:"timeRange,omitempty"`
	Sensor    string   `json:"sensor,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Label renders the legend text for the feed, e.g.
// "Sensor Stream (Sensor 2) [range 1h, threshold 30]".
func (f Filters) Label() string {
	var b strings.Builder
	b.WriteString("Sensor Stream")
	if f.Sensor != "" {
		fmt.Fprintf(&b, " (%s)", f.Sensor)
	}

	var tags []string
	if f.TimeRange != "" {
		tags = append(tags, "range "+f.TimeRange)
	}
	if f.Threshold != nil {
		tags = append(tags, fmt.Sprintf("threshold %g", *f.Threshold))
	}
	if len(tags) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(tags, ", "))
	}
	return b.String()
}
