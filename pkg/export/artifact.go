// Package export materializes CSV, PNG and PDF artifacts from an analysis
// result, the live feed window and their rendered graphs.
//
// Every artifact is built completely in memory before it is handed to a
// Sink, so a failed step never leaves a partial file behind and never
// touches an artifact that was already delivered.
package export

import (
	"errors"
	"fmt"
	"strings"
)

// Content types of the produced artifacts.
const (
	ContentTypeCSV = "text/csv"
	ContentTypePNG = "image/png"
	ContentTypePDF = "application/pdf"
	ContentTypeZIP = "application/zip"
)

// Artifact is a fully materialized export file.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// Names are the file names used for one export source.
type Names struct {
	CSV string
	PNG string
	PDF string
}

var (
	// ResultNames name artifacts exported from an analysis result.
	ResultNames = Names{CSV: "analysis.csv", PNG: "analysis.png", PDF: "analysis.pdf"}
	// FeedNames name artifacts exported from the live feed window.
	FeedNames = Names{CSV: "sensor-data.csv", PNG: "sensor-graph.png", PDF: "sensor-analysis.pdf"}
)

// Format is an export format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPNG Format = "png"
	FormatPDF Format = "pdf"
	FormatAll Format = "all"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat parses a case-insensitive format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatPNG, FormatPDF, FormatAll:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ExportError reports a failed export step. In a combined export the
// remaining steps are skipped.
type ExportError struct {
	Op     string
	Format Format
	Msg    string
	Err    error
}

func (e *ExportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Format, e.Msg)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Format, e.Msg, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }
