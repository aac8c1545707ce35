package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HatiCode/sensorboard/pkg/storage"
)

type fakeAnalyzer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req Request) (*Result, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	f.calls.Add(1)
	return f.fn(ctx, req)
}

func okAnalyzer(body string) *fakeAnalyzer {
	return &fakeAnalyzer{fn: func(ctx context.Context, req Request) (*Result, error) {
		return &Result{Raw: json.RawMessage(body)}, nil
	}}
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *countingRecorder) RecordAnalysis(outcome string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func validSelection() Selection {
	return Selection{
		Streams:             []string{"Sensor 1", "Sensor 2", "Sensor 3"},
		Start:               "08:00",
		End:                 "09:00",
		ExpectedCorrelation: ptr(0.8),
	}
}

func newTestPipeline(t *testing.T, analyzer Analyzer) (*Pipeline, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	p := NewPipeline("s1", analyzer, store, PipelineOptions{
		Streams: DefaultStreams,
		Logger:  discardLogger(),
	})
	return p, store
}

func TestPipeline_Submit_RejectsIncompleteSelection(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Selection)
	}{
		{name: "two streams", mutate: func(s *Selection) { s.Streams = s.Streams[:2] }},
		{name: "no start", mutate: func(s *Selection) { s.Start = "" }},
		{name: "no correlation", mutate: func(s *Selection) { s.ExpectedCorrelation = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := okAnalyzer(`{"data":[]}`)
			p, _ := newTestPipeline(t, analyzer)

			sel := validSelection()
			tt.mutate(&sel)
			if err := p.SetSelection(context.Background(), sel); err != nil {
				t.Fatalf("SetSelection: %v", err)
			}

			_, err := p.Submit(context.Background())
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if n := analyzer.calls.Load(); n != 0 {
				t.Errorf("backend calls = %d, want 0", n)
			}

			st := p.Status()
			if st.Outcome != OutcomeInvalid || st.State != StateIdle {
				t.Errorf("status = %+v", st)
			}
			if st.Message != verr.Msg {
				t.Errorf("Message = %q, want %q", st.Message, verr.Msg)
			}
		})
	}
}

func TestPipeline_Submit_Success(t *testing.T) {
	analyzer := okAnalyzer(`{"data":[{"Time":"08:00","Sensor 1":21.5}]}`)
	p, store := newTestPipeline(t, analyzer)
	rec := &countingRecorder{}
	p.recorder = rec
	ctx := context.Background()

	if err := p.SetSelection(ctx, validSelection()); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}

	res, err := p.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if n := analyzer.calls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
	if res.Request.ExpectedCorrelation != 0.8 {
		t.Errorf("Request = %+v", res.Request)
	}

	stored, found, err := store.GetLatest(ctx, "s1")
	if err != nil || !found {
		t.Fatalf("GetLatest = %v, %v", found, err)
	}
	if string(stored.Body) != `{"data":[{"Time":"08:00","Sensor 1":21.5}]}` {
		t.Errorf("stored body = %s", stored.Body)
	}
	if stored.Generation != res.Generation {
		t.Errorf("stored generation = %d, want %d", stored.Generation, res.Generation)
	}

	cur, found, err := p.Current(ctx)
	if err != nil || !found {
		t.Fatalf("Current = %v, %v", found, err)
	}
	if cur.Request.Start != "08:00" || len(cur.Request.Streams) != 3 {
		t.Errorf("Current request = %+v", cur.Request)
	}

	st := p.Status()
	if !st.HasResult || st.Outcome != OutcomeSucceeded {
		t.Errorf("status = %+v", st)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != "succeeded" {
		t.Errorf("recorded outcomes = %v", rec.outcomes)
	}
}

func TestPipeline_InputChangeClearsResult(t *testing.T) {
	corr := 0.5
	changes := []struct {
		name   string
		change func(ctx context.Context, p *Pipeline) error
	}{
		{name: "toggle stream", change: func(ctx context.Context, p *Pipeline) error { return p.ToggleStream(ctx, "Sensor 4") }},
		{name: "streams", change: func(ctx context.Context, p *Pipeline) error {
			return p.SetStreams(ctx, []string{"Sensor 2", "Sensor 3", "Sensor 4"})
		}},
		{name: "start", change: func(ctx context.Context, p *Pipeline) error { return p.SetStart(ctx, "08:30") }},
		{name: "end", change: func(ctx context.Context, p *Pipeline) error { return p.SetEnd(ctx, "10:00") }},
		{name: "correlation", change: func(ctx context.Context, p *Pipeline) error { return p.SetExpectedCorrelation(ctx, &corr) }},
	}

	for _, tt := range changes {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p, store := newTestPipeline(t, okAnalyzer(`{"data":[]}`))
			if err := p.SetSelection(ctx, validSelection()); err != nil {
				t.Fatalf("SetSelection: %v", err)
			}
			if _, err := p.Submit(ctx); err != nil {
				t.Fatalf("Submit: %v", err)
			}

			if err := tt.change(ctx, p); err != nil {
				t.Fatalf("change: %v", err)
			}

			if _, found, _ := store.GetLatest(ctx, "s1"); found {
				t.Error("result still stored after input change")
			}
			if p.Status().HasResult {
				t.Error("status still reports a result")
			}
		})
	}
}

func TestPipeline_UnchangedInputKeepsResult(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPipeline(t, okAnalyzer(`{"data":[]}`))
	if err := p.SetSelection(ctx, validSelection()); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}
	if _, err := p.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := p.SetStart(ctx, "08:00"); err != nil {
		t.Fatalf("SetStart: %v", err)
	}
	if err := p.SetSelection(ctx, validSelection()); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}

	if _, found, _ := store.GetLatest(ctx, "s1"); !found {
		t.Error("result cleared by a no-op update")
	}
}

func TestPipeline_ToggleStream(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, okAnalyzer(`{}`))

	for _, s := range []string{"Sensor 1", "Sensor 2", "Sensor 1"} {
		if err := p.ToggleStream(ctx, s); err != nil {
			t.Fatalf("ToggleStream: %v", err)
		}
	}
	got := p.Selection().Streams
	if len(got) != 1 || got[0] != "Sensor 2" {
		t.Errorf("Streams = %v, want [Sensor 2]", got)
	}
}

func TestPipeline_FailureClearsPreviousResult(t *testing.T) {
	ctx := context.Background()
	fail := false
	analyzer := &fakeAnalyzer{fn: func(ctx context.Context, req Request) (*Result, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return &Result{Raw: json.RawMessage(`{"data":[]}`)}, nil
	}}
	p, store := newTestPipeline(t, analyzer)

	if err := p.SetSelection(ctx, validSelection()); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}
	if _, err := p.Submit(ctx); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	fail = true
	_, err := p.Submit(ctx)
	var aerr *AnalysisError
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want *AnalysisError", err)
	}
	if aerr.Msg != "Analysis failed. Check backend or network." {
		t.Errorf("Msg = %q", aerr.Msg)
	}

	if _, found, _ := store.GetLatest(ctx, "s1"); found {
		t.Error("stale result survived a failed analysis")
	}
	st := p.Status()
	if st.HasResult || st.Outcome != OutcomeFailed || st.Message == "" {
		t.Errorf("status = %+v", st)
	}
	if n := analyzer.calls.Load(); n != 2 {
		t.Errorf("backend calls = %d, want 2", n)
	}
}

// blockingAnalyzer parks each call until released and reports when a call
// has started.
type blockingAnalyzer struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	b.started <- struct{}{}
	<-b.release
	return &Result{Raw: json.RawMessage(`{"data":[{"Time":"` + req.Start + `"}]}`)}, nil
}

func TestPipeline_LateResponseAfterInputChange(t *testing.T) {
	ctx := context.Background()
	analyzer := &blockingAnalyzer{started: make(chan struct{}, 1), release: make(chan struct{})}
	p, store := newTestPipeline(t, analyzer)
	if err := p.SetSelection(ctx, validSelection()); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := p.Submit(ctx)
		errc <- err
	}()

	<-analyzer.started
	if err := p.SetStart(ctx, "08:15"); err != nil {
		t.Fatalf("SetStart: %v", err)
	}
	close(analyzer.release)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("err = %v, want ErrSuperseded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Submit did not return")
	}

	if _, found, _ := store.GetLatest(ctx, "s1"); found {
		t.Error("late response stored for changed inputs")
	}
}

func TestPipeline_LatestSubmissionWins(t *testing.T) {
	ctx := context.Background()
	first := make(chan struct{})
	var calls atomic.Int32
	analyzer := &fakeAnalyzer{fn: func(ctx context.Context, req Request) (*Result, error) {
		if calls.Add(1) == 1 {
			close(first)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &Result{Raw: json.RawMessage(`{"data":[{"n":2}]}`)}, nil
	}}
	p, store := newTestPipeline(t, analyzer)
	if err := p.SetSelection(ctx, validSelection()); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := p.Submit(ctx)
		errc <- err
	}()
	<-first

	if _, err := p.Submit(ctx); err != nil {
		t.Fatalf("second Submit: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("first Submit err = %v, want ErrSuperseded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first Submit was not canceled")
	}

	rec, found, err := store.GetLatest(ctx, "s1")
	if err != nil || !found {
		t.Fatalf("GetLatest = %v, %v", found, err)
	}
	if string(rec.Body) != `{"data":[{"n":2}]}` {
		t.Errorf("stored body = %s", rec.Body)
	}
	if st := p.Status(); st.Outcome != OutcomeSucceeded {
		t.Errorf("Outcome = %q", st.Outcome)
	}
}

func TestPipeline_UnknownStreamRejected(t *testing.T) {
	analyzer := okAnalyzer(`{}`)
	p, _ := newTestPipeline(t, analyzer)
	sel := validSelection()
	sel.Streams[2] = "Sensor 42"
	if err := p.SetSelection(context.Background(), sel); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}

	var verr *ValidationError
	if _, err := p.Submit(context.Background()); !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if analyzer.calls.Load() != 0 {
		t.Error("backend called for unknown stream")
	}
}

func TestPipeline_InputChangeDuringValidation(t *testing.T) {
	ctx := context.Background()
	analyzer := okAnalyzer(`{"data":[{"Time":"08:00"}]}`)
	p, store := newTestPipeline(t, analyzer)
	if err := p.SetSelection(ctx, validSelection()); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}

	var once sync.Once
	p.validate = func(sel Selection, streams []string) (Request, error) {
		once.Do(func() {
			if err := p.SetStart(ctx, "07:00"); err != nil {
				t.Errorf("SetStart: %v", err)
			}
		})
		return ValidateAgainst(sel, streams)
	}

	if _, err := p.Submit(ctx); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("err = %v, want ErrSuperseded", err)
	}
	if n := analyzer.calls.Load(); n != 0 {
		t.Errorf("backend calls = %d, want 0", n)
	}
	if _, found, _ := store.GetLatest(ctx, "s1"); found {
		t.Error("result stored for a selection that changed before submission")
	}
	st := p.Status()
	if st.HasResult || st.State != StateIdle || st.Selection.Start != "07:00" {
		t.Errorf("status = %+v", st)
	}

	// The changed selection submits normally.
	res, err := p.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Request.Start != "07:00" {
		t.Errorf("Request.Start = %q, want 07:00", res.Request.Start)
	}
}

func TestPipeline_InvalidSubmitLeavesInFlightRequest(t *testing.T) {
	ctx := context.Background()
	analyzer := &blockingAnalyzer{started: make(chan struct{}, 1), release: make(chan struct{})}
	p, store := newTestPipeline(t, analyzer)

	invalid := validSelection()
	invalid.Streams = invalid.Streams[:2]
	if err := p.SetSelection(ctx, invalid); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}

	errc := make(chan error, 1)
	var injected atomic.Bool
	p.validate = func(sel Selection, streams []string) (Request, error) {
		if injected.CompareAndSwap(false, true) {
			if err := p.SetSelection(ctx, validSelection()); err != nil {
				t.Errorf("SetSelection: %v", err)
			}
			go func() {
				_, err := p.Submit(ctx)
				errc <- err
			}()
			<-analyzer.started
		}
		return ValidateAgainst(sel, streams)
	}

	var verr *ValidationError
	if _, err := p.Submit(ctx); !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if st := p.Status(); st.State != StateSubmitting || st.Outcome != OutcomeNone {
		t.Errorf("status while request in flight = %+v", st)
	}

	close(analyzer.release)
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("in-flight Submit: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight Submit did not return")
	}
	if _, found, _ := store.GetLatest(ctx, "s1"); !found {
		t.Error("in-flight result was not stored")
	}
	if st := p.Status(); st.Outcome != OutcomeSucceeded || !st.HasResult {
		t.Errorf("status = %+v", st)
	}
}

func TestPipeline_CanceledRequestStillClearsResult(t *testing.T) {
	var calls atomic.Int32
	reqCtx, cancelReq := context.WithCancel(context.Background())
	defer cancelReq()
	analyzer := &fakeAnalyzer{fn: func(ctx context.Context, req Request) (*Result, error) {
		if calls.Add(1) == 1 {
			return &Result{Raw: json.RawMessage(`{"data":[]}`)}, nil
		}
		cancelReq()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p, store := newTestPipeline(t, analyzer)
	ctx := context.Background()
	if err := p.SetSelection(ctx, validSelection()); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}
	if _, err := p.Submit(ctx); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	_, err := p.Submit(reqCtx)
	var aerr *AnalysisError
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want *AnalysisError", err)
	}
	if _, found, _ := store.GetLatest(ctx, "s1"); found {
		t.Error("stale result survived a canceled analysis")
	}
	if st := p.Status(); st.HasResult || st.Outcome != OutcomeFailed {
		t.Errorf("status = %+v", st)
	}
}

func TestPipeline_InputChangeWithCanceledContext(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPipeline(t, okAnalyzer(`{"data":[]}`))
	if err := p.SetSelection(ctx, validSelection()); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}
	if _, err := p.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := p.SetStart(canceled, "07:00"); err != nil {
		t.Fatalf("SetStart: %v", err)
	}
	if _, found, _ := store.GetLatest(ctx, "s1"); found {
		t.Error("result survived an input change")
	}
	if st := p.Status(); st.HasResult || st.Selection.Start != "07:00" {
		t.Errorf("status = %+v", st)
	}
}

// brokenDeleteStore fails every Delete.
type brokenDeleteStore struct {
	*storage.MemoryStore
}

func (brokenDeleteStore) Delete(ctx context.Context, session string) error {
	return errors.New("store unavailable")
}

func TestPipeline_FailedClearKeepsSelection(t *testing.T) {
	ctx := context.Background()
	store := brokenDeleteStore{storage.NewMemoryStore()}
	p := NewPipeline("s1", okAnalyzer(`{"data":[]}`), store, PipelineOptions{
		Streams: DefaultStreams,
		Logger:  discardLogger(),
	})

	if err := p.SetStart(ctx, "07:00"); err == nil {
		t.Fatal("SetStart succeeded with a failing store")
	}
	st := p.Status()
	if st.Selection.Start != "" || st.Generation != 0 {
		t.Errorf("status after failed clear = %+v", st)
	}
}
