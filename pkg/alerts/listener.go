package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HatiCode/sensorboard/pkg/hub"
)

// Defaults for Options.
const (
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 30 * time.Second
	DefaultHistory    = 50
)

// Publisher receives decoded alerts.
type Publisher interface {
	Publish(topic string, payload any)
}

// Recorder receives listener instrumentation. A nil Recorder disables it.
type Recorder interface {
	RecordAlert(severity string)
	RecordError(component, reason string)
}

// Options configures a Listener.
type Options struct {
	URL        string
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// History is the number of recent alerts kept for new clients.
	History  int
	Logger   *slog.Logger
	Recorder Recorder
	Now      func() time.Time
}

// Listener keeps a websocket connection to the alert service open and
// publishes every alert on hub.TopicAlerts.
type Listener struct {
	opts Options
	pub  Publisher

	mu     sync.Mutex
	recent []Alert
}

// NewListener returns a listener for opts.URL.
func NewListener(opts Options, pub Publisher) *Listener {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.MinBackoff)
	}
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Listener{opts: opts, pub: pub}
}

// Run connects and relays alerts until ctx is canceled. Connection
// failures are retried with exponential backoff capped at MaxBackoff; a
// connection that delivered at least one alert resets the backoff.
func (l *Listener) Run(ctx context.Context) error {
	if l.opts.URL == "" {
		return errors.New("alerts url is required")
	}

	backoff := l.opts.MinBackoff
	for {
		delivered, err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if delivered > 0 {
			backoff = l.opts.MinBackoff
		}
		l.opts.Logger.Warn("alert stream disconnected", "url", l.opts.URL, "error", err, "retry_in", backoff)
		l.recordError("disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, l.opts.MaxBackoff)
	}
}

func (l *Listener) listen(ctx context.Context) (int, error) {
	conn, _, err := l.opts.Dialer.DialContext(ctx, l.opts.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	l.opts.Logger.Info("alert stream connected", "url", l.opts.URL)

	delivered := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return delivered, fmt.Errorf("read: %w", err)
		}

		a, err := ParseAlert(data, l.opts.Now())
		if err != nil {
			l.opts.Logger.Warn("dropping malformed alert", "error", err)
			l.recordError("decode")
			continue
		}

		l.remember(a)
		l.pub.Publish(hub.TopicAlerts, a)
		if l.opts.Recorder != nil {
			l.opts.Recorder.RecordAlert(a.Severity)
		}
		delivered++
	}
}

func (l *Listener) remember(a Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recent = append(l.recent, a)
	if over := len(l.recent) - l.opts.History; over > 0 {
		l.recent = slices.Delete(l.recent, 0, over)
	}
}

// Recent returns the most recent alerts, oldest first.
func (l *Listener) Recent() []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.recent)
}

func (l *Listener) recordError(reason string) {
	if l.opts.Recorder != nil {
		l.opts.Recorder.RecordError("alerts", reason)
	}
}
