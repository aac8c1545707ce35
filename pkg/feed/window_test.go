package feed

import (
	"testing"
)

func TestWindow_LengthIsMinOfTicksAndCapacity(t *testing.T) {
	w := NewWindow(DefaultCapacity)

	for n := 1; n <= 30; n++ {
		w.Push(Sample{Value: float64(n)})

		want := min(n, DefaultCapacity)
		if w.Len() != want {
			t.Fatalf("after %d pushes Len() = %d, want %d", n, w.Len(), want)
		}

		samples := w.Samples()
		first := n - want + 1
		for i, s := range samples {
			if s.Value != float64(first+i) {
				t.Fatalf("after %d pushes samples[%d] = %v, want %d", n, i, s.Value, first+i)
			}
		}
	}
}

func TestWindow_SamplesIsCopy(t *testing.T) {
	w := NewWindow(3)
	w.Push(Sample{Value: 1})

	got := w.Samples()
	got[0].Value = 99

	if w.Samples()[0].Value != 1 {
		t.Error("mutating Samples() result changed the window")
	}
}

func TestWindow_DefaultCapacity(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		want     int
	}{
		{name: "zero", capacity: 0, want: DefaultCapacity},
		{name: "negative", capacity: -1, want: DefaultCapacity},
		{name: "custom", capacity: 4, want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewWindow(tt.capacity).Cap(); got != tt.want {
				t.Errorf("Cap() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWindow_Last(t *testing.T) {
	w := NewWindow(2)
	if _, ok := w.Last(); ok {
		t.Fatal("Last() on empty window reported a sample")
	}
	w.Push(Sample{Value: 1})
	w.Push(Sample{Value: 2})
	w.Push(Sample{Value: 3})

	last, ok := w.Last()
	if !ok || last.Value != 3 {
		t.Errorf("Last() = %v, %v; want 3, true", last.Value, ok)
	}
}
