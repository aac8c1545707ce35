package export

import (
	"errors"
	"slices"
	"testing"

	"github.com/HatiCode/sensorboard/pkg/analysis"
)

func TestNewResultGraph(t *testing.T) {
	raw := []byte(`{"data":[
		{"Time":"08:00","Sensor 1":21.5,"Sensor 2":30,"flag":"x","mixed":1},
		{"Time":"08:05","Sensor 1":22,"Sensor 2":31,"flag":"y","mixed":"n/a"}
	]}`)

	g, err := NewResultGraph("Analysis", raw)
	if err != nil {
		t.Fatalf("NewResultGraph: %v", err)
	}
	if g.Title() != "Analysis" {
		t.Errorf("Title = %q", g.Title())
	}

	series := g.Series()
	if len(series) != 2 {
		t.Fatalf("len(series) = %d, want 2", len(series))
	}
	if series[0].Name != "Sensor 1" || series[1].Name != "Sensor 2" {
		t.Errorf("names = %q, %q", series[0].Name, series[1].Name)
	}
	if !slices.Equal(series[0].Labels, []string{"08:00", "08:05"}) {
		t.Errorf("labels = %v", series[0].Labels)
	}
	if !slices.Equal(series[0].Values, []float64{21.5, 22}) {
		t.Errorf("values = %v", series[0].Values)
	}
}

func TestNewResultGraph_NotAnArray(t *testing.T) {
	var ferr *analysis.FormatError
	if _, err := NewResultGraph("x", []byte(`{"data":1}`)); !errors.As(err, &ferr) {
		t.Fatalf("err = %v, want *analysis.FormatError", err)
	}
}

func TestResultTitle(t *testing.T) {
	got := ResultTitle(analysis.Request{Streams: []string{"Sensor 1", "Sensor 2", "Sensor 3"}, Start: "08:00", End: "09:00"})
	if got != "Analysis: Sensor 1, Sensor 2, Sensor 3 (08:00-09:00)" {
		t.Errorf("ResultTitle = %q", got)
	}
	if ResultTitle(analysis.Request{}) != "Analysis" {
		t.Error("empty request title")
	}
}
