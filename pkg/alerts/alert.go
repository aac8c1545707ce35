// Package alerts relays alerts from the upstream alert service to the
// dashboard's websocket hub.
package alerts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Toast severities understood by the dashboard.
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Alert is one notification from the alert service.
type Alert struct {
	Severity  string `json:"severity"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NormalizeSeverity maps upstream levels onto toast severities. Unknown
// values become info.
func NormalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "ok", "resolved":
		return SeveritySuccess
	case "warning", "warn", "medium":
		return SeverityWarning
	case "error", "high", "critical":
		return SeverityError
	default:
		return SeverityInfo
	}
}

type wireAlert struct {
	Severity  string `json:"severity"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp any    `json:"timestamp"`
}

// ParseAlert decodes an alert frame. The timestamp may be an epoch number
// (seconds or milliseconds) or a string; a missing one is filled with now.
func ParseAlert(data []byte, now time.Time) (Alert, error) {
	var w wireAlert
	if err := json.Unmarshal(data, &w); err != nil {
		return Alert{}, fmt.Errorf("decode alert: %w", err)
	}
	if w.Type == "" && w.Message == "" {
		return Alert{}, fmt.Errorf("decode alert: empty type and message")
	}

	a := Alert{
		Severity: NormalizeSeverity(w.Severity),
		Type:     w.Type,
		Message:  w.Message,
	}
	switch ts := w.Timestamp.(type) {
	case float64:
		a.Timestamp = epoch(ts).UTC().Format(time.RFC3339)
	case string:
		a.Timestamp = ts
	}
	if a.Timestamp == "" {
		a.Timestamp = now.UTC().Format(time.RFC3339)
	}
	return a, nil
}

// epoch reads v as Unix milliseconds when it is too large to be seconds.
func epoch(v float64) time.Time {
	if v >= 1e11 {
		return time.UnixMilli(int64(v))
	}
	return time.Unix(int64(v), 0)
}
