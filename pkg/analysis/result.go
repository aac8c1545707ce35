package analysis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Result is the backend's response, kept opaque. The only shape the
// dashboard relies on is an optional "data" array of row objects.
type Result struct {
	Raw        json.RawMessage `json:"result"`
	Request    Request         `json:"request"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Generation uint64          `json:"generation"`
}

// Field is one key/value pair of a result row.
type Field struct {
	Key   string
	Value gjson.Result
}

// Text renders the value as it should appear in a table cell: strings
// unquoted, numbers exactly as sent, null as an empty cell.
func (f Field) Text() string {
	switch f.Value.Type {
	case gjson.String:
		return f.Value.Str
	case gjson.Null:
		return ""
	default:
		return f.Value.Raw
	}
}

// Row is a result row with its keys in document order.
type Row []Field

// Keys returns the row's keys in document order.
func (r Row) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Key
	}
	return keys
}

// Get returns the field named key.
func (r Row) Get(key string) (Field, bool) {
	for _, f := range r {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Rows returns result.data as ordered rows. It fails with FormatError when
// data is missing, not an array, or holds something other than objects.
func (r *Result) Rows() ([]Row, error) {
	return ParseRows(r.Raw)
}

// ParseRows extracts the "data" rows of a raw result document.
func ParseRows(raw []byte) ([]Row, error) {
	const op = "rows"

	if !gjson.ValidBytes(raw) {
		return nil, &FormatError{Op: op, Msg: "Result is not valid JSON."}
	}

	data := gjson.GetBytes(raw, "data")
	if !data.IsArray() {
		return nil, &FormatError{Op: op, Msg: "Result data is not a list of rows."}
	}

	var (
		rows   []Row
		rowErr error
	)
	data.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			rowErr = &FormatError{Op: op, Msg: fmt.Sprintf("Result row %d is not an object.", len(rows)+1)}
			return false
		}
		var row Row
		item.ForEach(func(key, value gjson.Result) bool {
			row = append(row, Field{Key: key.String(), Value: value})
			return true
		})
		rows = append(rows, row)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}

	return rows, nil
}
