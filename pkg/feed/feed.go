package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HatiCode/sensorboard/pkg/adapters"
	"github.com/HatiCode/sensorboard/pkg/render"
)

// DefaultInterval is the polling period of a feed.
const DefaultInterval = 2 * time.Second

// ErrRunning is returned by Start when the feed loop is already active.
var ErrRunning = errors.New("feed already running")

// Recorder receives feed instrumentation. All methods must be cheap and
// non-blocking; a nil Recorder disables instrumentation.
type Recorder interface {
	RecordFetch(source string, seconds float64)
	RecordTick(outcome string)
	SetWindow(length int, last float64)
}

// Snapshot is the published state of a feed.
type Snapshot struct {
	Label   string    `json:"label"`
	Samples []Sample  `json:"samples"`
	At      time.Time `json:"at"`
}

// Subscriber is called synchronously after each successful tick.
type Subscriber func(Snapshot)

// Options configures a Feed. Zero values fall back to defaults.
type Options struct {
	Interval time.Duration
	Capacity int
	Filters  Filters
	// Location is used for sample labels. Defaults to UTC.
	Location *time.Location
	// Now overrides the wall clock, mainly for tests.
	Now      func() time.Time
	Logger   *slog.Logger
	Recorder Recorder
}

// Feed polls a source on a fixed interval and keeps the latest samples.
type Feed struct {
	source   adapters.Adapter
	interval time.Duration
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder

	// tickMu serializes ticks so subscribers see windows in order.
	tickMu sync.Mutex

	mu       sync.RWMutex
	window   *Window
	filters  Filters
	lastTick time.Time
	subs     map[int]Subscriber
	nextSub  int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a feed reading from source.
func New(source adapters.Adapter, opts Options) *Feed {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Feed{
		source:   source,
		interval: opts.Interval,
		location: opts.Location,
		now:      opts.Now,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		window:   NewWindow(opts.Capacity),
		filters:  opts.Filters,
		subs:     make(map[int]Subscriber),
	}
}

// Interval returns the polling period.
func (f *Feed) Interval() time.Duration { return f.interval }

// Start runs the polling loop in a background goroutine until Stop is called
// or ctx is canceled.
func (f *Feed) Start(ctx context.Context) error {
	f.runMu.Lock()
	defer f.runMu.Unlock()

	if f.done != nil {
		select {
		case <-f.done:
		default:
			return ErrRunning
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	f.cancel = cancel
	f.done = done

	go func() {
		defer close(done)
		if err := f.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			f.logger.Error("feed loop failed", "error", err)
		}
	}()

	return nil
}

// Stop cancels the polling loop and waits for it to exit. Once Stop returns
// no further tick is published. Calling Stop on an idle feed is a no-op.
func (f *Feed) Stop() {
	f.runMu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the background loop is active.
func (f *Feed) Running() bool {
	f.runMu.Lock()
	defer f.runMu.Unlock()

	if f.done == nil {
		return false
	}
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}

// Run executes Tick at every interval. The first tick happens one interval
// after Run is called. Blocks until ctx is canceled.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Info("starting feed loop",
		"source", f.source.Name(),
		"interval", f.interval,
		"capacity", f.window.Cap(),
	)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("feed loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := f.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.logger.Warn("feed tick failed", "source", f.source.Name(), "error", err)
			}
		}
	}
}

// Tick performs one poll. A failed fetch contributes no sample and leaves
// the window untouched.
// Exported for testing purposes.
func (f *Feed) Tick(ctx context.Context) error {
	f.tickMu.Lock()
	defer f.tickMu.Unlock()

	start := time.Now()
	value, err := f.source.Fetch(ctx)
	elapsed := time.Since(start)

	if f.recorder != nil {
		f.recorder.RecordFetch(f.source.Name(), elapsed.Seconds())
	}
	if err != nil {
		if f.recorder != nil {
			f.recorder.RecordTick("error")
		}
		return fmt.Errorf("fetch: %w", err)
	}

	at := f.now()
	sample := Sample{
		Timestamp: at.In(f.location).Format(LabelLayout),
		Value:     value,
		Time:      at,
	}

	f.mu.Lock()
	f.window.Push(sample)
	f.lastTick = at
	snap := f.snapshotLocked()
	subs := make([]Subscriber, 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	if f.recorder != nil {
		f.recorder.RecordTick("ok")
		f.recorder.SetWindow(len(snap.Samples), value)
	}

	f.logger.Debug("feed tick complete",
		"timestamp", sample.Timestamp,
		"value", value,
		"window", len(snap.Samples),
		"fetch_ms", elapsed.Milliseconds(),
	)

	for _, fn := range subs {
		fn(snap)
	}

	return nil
}

// Subscribe registers fn and returns a function that removes it.
func (f *Feed) Subscribe(fn Subscriber) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Snapshot returns a copy of the current window. At is the time of the last
// successful tick.
func (f *Feed) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshotLocked()
}

func (f *Feed) snapshotLocked() Snapshot {
	return Snapshot{
		Label:   f.filters.Label(),
		Samples: f.window.Samples(),
		At:      f.lastTick,
	}
}

// SetFilters replaces the display filters.
func (f *Feed) SetFilters(filters Filters) {
	f.mu.Lock()
	f.filters = filters
	f.mu.Unlock()
}

// Label returns the legend text of the feed.
func (f *Feed) Label() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filters.Label()
}

// Title implements export.Graph.
func (f *Feed) Title() string { return f.Label() }

// Series returns the window as a single chart series.
func (f *Feed) Series() []render.Series {
	snap := f.Snapshot()
	return []render.Series{SeriesOf(snap)}
}

// SeriesOf converts a snapshot to a chart series.
func SeriesOf(snap Snapshot) render.Series {
	s := render.Series{
		Name:   snap.Label,
		Labels: make([]string, len(snap.Samples)),
		Values: make([]float64, len(snap.Samples)),
	}
	for i, sample := range snap.Samples {
		s.Labels[i] = sample.Timestamp
		s.Values[i] = sample.Value
	}
	return s
}
