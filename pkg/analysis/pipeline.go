package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/HatiCode/sensorboard/pkg/storage"
)

// storeTimeout bounds result store writes made on behalf of a request.
const storeTimeout = 5 * time.Second

// State is the phase of the current analysis cycle.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateSubmitting State = "submitting"
)

// Outcome is how the last completed cycle ended.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeInvalid   Outcome = "invalid"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Analyzer runs one analysis request.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// Recorder receives pipeline instrumentation. A nil Recorder disables it.
type Recorder interface {
	RecordAnalysis(outcome string, seconds float64)
}

// Status is a point-in-time view of a pipeline for display.
type Status struct {
	Session    string    `json:"session"`
	Selection  Selection `json:"selection"`
	State      State     `json:"state"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	Message    string    `json:"message,omitempty"`
	Generation uint64    `json:"generation"`
	HasResult  bool      `json:"hasResult"`
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	// Streams restricts the selectable stream names. Nil accepts any.
	Streams  []string
	Logger   *slog.Logger
	Recorder Recorder
	Now      func() time.Time
}

// Pipeline owns the form state and the single current result of one
// session. It is safe for concurrent use.
//
// Every submission and every input change bumps the generation counter.
// A response is stored only if its generation is still current, so the
// latest submission always wins and a late response never resurrects a
// result for inputs that have since changed.
type Pipeline struct {
	session  string
	analyzer Analyzer
	store    storage.Store
	streams  []string
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
	validate func(Selection, []string) (Request, error)

	mu         sync.Mutex
	sel        Selection
	state      State
	outcome    Outcome
	lastErr    error
	generation uint64
	cancel     context.CancelFunc
	hasResult  bool
	lastUsed   time.Time
}

// NewPipeline creates an idle pipeline for session.
func NewPipeline(session string, analyzer Analyzer, store storage.Store, opts PipelineOptions) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		session:  session,
		analyzer: analyzer,
		store:    store,
		streams:  slices.Clone(opts.Streams),
		logger:   opts.Logger.With("session", session),
		recorder: opts.Recorder,
		now:      opts.Now,
		validate: ValidateAgainst,
		state:    StateIdle,
		lastUsed: opts.Now(),
	}
}

// Session returns the session id.
func (p *Pipeline) Session() string { return p.session }

// Selection returns a copy of the form state.
func (p *Pipeline) Selection() Selection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sel.Clone()
}

// Status returns the current pipeline status.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Session:    p.session,
		Selection:  p.sel.Clone(),
		State:      p.state,
		Outcome:    p.outcome,
		Generation: p.generation,
		HasResult:  p.hasResult,
	}
	if p.lastErr != nil {
		st.Message = UserMessage(p.lastErr)
	}
	return st
}

// SetSelection replaces the whole form state. The current result is cleared
// if any input changed.
func (p *Pipeline) SetSelection(ctx context.Context, sel Selection) error {
	return p.update(ctx, func(cur *Selection) { *cur = sel.Clone() })
}

// SetStreams replaces the selected streams.
func (p *Pipeline) SetStreams(ctx context.Context, streams []string) error {
	return p.update(ctx, func(cur *Selection) { cur.Streams = slices.Clone(streams) })
}

// ToggleStream selects stream if absent and deselects it otherwise.
func (p *Pipeline) ToggleStream(ctx context.Context, stream string) error {
	return p.update(ctx, func(cur *Selection) {
		if i := slices.Index(cur.Streams, stream); i >= 0 {
			cur.Streams = slices.Delete(slices.Clone(cur.Streams), i, i+1)
			return
		}
		cur.Streams = append(slices.Clone(cur.Streams), stream)
	})
}

// SetStart sets the start time of day.
func (p *Pipeline) SetStart(ctx context.Context, start string) error {
	return p.update(ctx, func(cur *Selection) { cur.Start = start })
}

// SetEnd sets the end time of day.
func (p *Pipeline) SetEnd(ctx context.Context, end string) error {
	return p.update(ctx, func(cur *Selection) { cur.End = end })
}

// SetExpectedCorrelation sets the expected correlation. Nil clears it.
func (p *Pipeline) SetExpectedCorrelation(ctx context.Context, corr *float64) error {
	return p.update(ctx, func(cur *Selection) {
		if corr == nil {
			cur.ExpectedCorrelation = nil
			return
		}
		v := *corr
		cur.ExpectedCorrelation = &v
	})
}

func (p *Pipeline) update(ctx context.Context, mutate func(*Selection)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastUsed = p.now()

	next := p.sel.Clone()
	mutate(&next)
	if next.Equal(p.sel) {
		return nil
	}
	if err := p.invalidateLocked(ctx); err != nil {
		return err
	}
	p.sel = next
	return nil
}

// invalidateLocked drops the current result and abandons any in-flight
// request. Nothing changes when the stored result cannot be removed.
func (p *Pipeline) invalidateLocked(ctx context.Context) error {
	// Delete unconditionally: another replica may have stored the result.
	if err := p.clearStored(ctx); err != nil {
		return fmt.Errorf("clear result: %w", err)
	}

	p.generation++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.state = StateIdle
	p.outcome = OutcomeNone
	p.lastErr = nil
	if p.hasResult {
		p.logger.Debug("analysis result cleared after input change", "generation", p.generation)
	}
	p.hasResult = false
	return nil
}

// storeContext detaches store writes from the caller so that a client
// going away does not leave a stale result behind.
func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}

func (p *Pipeline) clearStored(ctx context.Context) error {
	sctx, cancel := storeContext(ctx)
	defer cancel()
	return p.store.Delete(sctx, p.session)
}

// Submit validates the current selection and, when valid, sends it to the
// backend. On success the result replaces the stored one. On failure any
// stored result is cleared.
//
// A newer Submit or an input change cancels this request; Submit then
// returns ErrSuperseded and leaves the stored result alone. The same holds
// for an input change that lands while the selection is being validated.
func (p *Pipeline) Submit(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	p.lastUsed = p.now()
	sel := p.sel.Clone()
	seen := p.generation
	if p.cancel == nil {
		p.state = StateValidating
	}
	p.mu.Unlock()

	req, err := p.validate(sel, p.streams)

	p.mu.Lock()
	if err != nil {
		// Another submission may have started in the meantime.
		if seen == p.generation && p.cancel == nil {
			p.finishLocked(OutcomeInvalid, err)
		}
		p.mu.Unlock()
		p.record(string(OutcomeInvalid), 0)
		p.logger.Info("analysis rejected", "error", err)
		return nil, err
	}
	if seen != p.generation {
		p.mu.Unlock()
		p.record("superseded", 0)
		p.logger.Info("analysis submission discarded", "generation", seen)
		return nil, ErrSuperseded
	}
	p.generation++
	gen := p.generation
	if p.cancel != nil {
		p.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = StateSubmitting
	p.mu.Unlock()
	defer cancel()

	start := time.Now()
	res, err := p.analyzer.Analyze(reqCtx, req)
	elapsed := time.Since(start)

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation {
		p.record("superseded", elapsed.Seconds())
		p.logger.Info("analysis response discarded", "generation", gen, "current", p.generation)
		return nil, ErrSuperseded
	}
	p.cancel = nil

	if err != nil {
		var aerr *AnalysisError
		if !errors.As(err, &aerr) {
			err = &AnalysisError{Op: "analyze", Msg: "Analysis failed. Check backend or network.", Err: err}
		}
		if derr := p.clearStored(ctx); derr != nil {
			p.logger.Error("failed to clear stale result", "error", derr)
		} else {
			p.hasResult = false
		}
		p.finishLocked(OutcomeFailed, err)
		p.record(string(OutcomeFailed), elapsed.Seconds())
		p.logger.Warn("analysis failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return nil, err
	}

	res.Request = req
	res.Generation = gen
	if res.ReceivedAt.IsZero() {
		res.ReceivedAt = p.now()
	}

	rec := storage.Record{
		Session:             p.session,
		Streams:             req.Streams,
		Start:               req.Start,
		End:                 req.End,
		ExpectedCorrelation: req.ExpectedCorrelation,
		Body:                res.Raw,
		CompletedAt:         res.ReceivedAt,
		Generation:          gen,
	}
	sctx, scancel := storeContext(ctx)
	defer scancel()
	if err := p.store.Put(sctx, rec); err != nil {
		serr := &AnalysisError{Op: "store", Msg: "Analysis succeeded but the result could not be saved.", Err: err}
		p.finishLocked(OutcomeFailed, serr)
		p.record(string(OutcomeFailed), elapsed.Seconds())
		p.logger.Error("failed to store analysis result", "error", err)
		return nil, serr
	}

	p.hasResult = true
	p.finishLocked(OutcomeSucceeded, nil)
	p.record(string(OutcomeSucceeded), elapsed.Seconds())
	p.logger.Info("analysis complete",
		"streams", req.Streams,
		"generation", gen,
		"bytes", len(res.Raw),
		"duration_ms", elapsed.Milliseconds(),
	)
	return res, nil
}

func (p *Pipeline) finishLocked(outcome Outcome, err error) {
	p.state = StateIdle
	p.outcome = outcome
	p.lastErr = err
}

func (p *Pipeline) record(outcome string, seconds float64) {
	if p.recorder != nil {
		p.recorder.RecordAnalysis(outcome, seconds)
	}
}

// Current returns the stored result, if any.
func (p *Pipeline) Current(ctx context.Context) (*Result, bool, error) {
	rec, found, err := p.store.GetLatest(ctx, p.session)
	if err != nil {
		return nil, false, fmt.Errorf("load result: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &Result{
		Raw: rec.Body,
		Request: Request{
			Streams:             rec.Streams,
			Start:               rec.Start,
			End:                 rec.End,
			ExpectedCorrelation: rec.ExpectedCorrelation,
		},
		ReceivedAt: rec.CompletedAt,
		Generation: rec.Generation,
	}, true, nil
}

// Close abandons any in-flight request.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Pipeline) idleSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return p.now()
	}
	return p.lastUsed
}
