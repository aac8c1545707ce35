package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"

	"github.com/HatiCode/sensorboard/pkg/analysis"
	"github.com/HatiCode/sensorboard/pkg/feed"
)

// CSV converts the data rows of an analysis result to CSV.
//
// The header is the key list of the first row in document order. Later rows
// are written in header order; keys missing from a row produce an empty
// field and keys absent from the first row are dropped. Fields containing a
// comma, quote or line break are quoted. Every record ends with "\n".
func CSV(raw json.RawMessage) ([]byte, error) {
	rows, err := analysis.ParseRows(raw)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &analysis.FormatError{Op: "export csv", Msg: "The analysis result has no rows to export."}
	}

	header := rows[0].Keys()
	records := make([][]string, 0, len(rows)+1)
	records = append(records, header)
	for _, row := range rows {
		rec := make([]string, len(header))
		for i, key := range header {
			if f, ok := row.Get(key); ok {
				rec[i] = f.Text()
			}
		}
		records = append(records, rec)
	}
	return writeCSV(records)
}

// CSVFromSamples writes a feed window as Time,Value records.
func CSVFromSamples(samples []feed.Sample) ([]byte, error) {
	records := make([][]string, 0, len(samples)+1)
	records = append(records, []string{"Time", "Value"})
	for _, s := range samples {
		records = append(records, []string{s.Timestamp, strconv.FormatFloat(s.Value, 'f', -1, 64)})
	}
	return writeCSV(records)
}

func writeCSV(records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, &ExportError{Op: "export", Format: FormatCSV, Msg: "Could not write CSV.", Err: err}
	}
	return buf.Bytes(), nil
}
