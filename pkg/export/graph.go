package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HatiCode/sensorboard/pkg/analysis"
	"github.com/HatiCode/sensorboard/pkg/render"
	"github.com/tidwall/gjson"
)

// Graph is anything that can be drawn as a line chart.
type Graph interface {
	Title() string
	Series() []render.Series
}

// ResultGraph draws the numeric columns of an analysis result.
//
// The first string column of the first row labels the X axis. Every column
// that holds a number in every row becomes one series.
type ResultGraph struct {
	title  string
	series []render.Series
}

// NewResultGraph builds the graph of an analysis result.
func NewResultGraph(title string, raw json.RawMessage) (*ResultGraph, error) {
	rows, err := analysis.ParseRows(raw)
	if err != nil {
		return nil, err
	}
	g := &ResultGraph{title: title}
	if len(rows) == 0 {
		return g, nil
	}

	var labelKey string
	var numeric []string
	for _, f := range rows[0] {
		switch f.Value.Type {
		case gjson.String:
			if labelKey == "" {
				labelKey = f.Key
			}
		case gjson.Number:
			if columnIsNumeric(rows, f.Key) {
				numeric = append(numeric, f.Key)
			}
		}
	}

	var labels []string
	if labelKey != "" {
		labels = make([]string, len(rows))
		for i, row := range rows {
			if f, ok := row.Get(labelKey); ok {
				labels[i] = f.Text()
			}
		}
	}

	for _, key := range numeric {
		s := render.Series{Name: key, Labels: labels, Values: make([]float64, len(rows))}
		for i, row := range rows {
			f, _ := row.Get(key)
			s.Values[i] = f.Value.Float()
		}
		g.series = append(g.series, s)
	}
	return g, nil
}

func columnIsNumeric(rows []analysis.Row, key string) bool {
	for _, row := range rows {
		f, ok := row.Get(key)
		if !ok || f.Value.Type != gjson.Number {
			return false
		}
	}
	return true
}

// Title implements Graph.
func (g *ResultGraph) Title() string { return g.title }

// Series implements Graph.
func (g *ResultGraph) Series() []render.Series { return g.series }

// ResultTitle is the chart title of an analysis request.
func ResultTitle(req analysis.Request) string {
	if len(req.Streams) == 0 {
		return "Analysis"
	}
	return fmt.Sprintf("Analysis: %s (%s-%s)", strings.Join(req.Streams, ", "), req.Start, req.End)
}
