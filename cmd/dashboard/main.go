// Command dashboard serves the data plumbing behind the sensor dashboard.
//
// The dashboard:
//  1. Polls a sample source and keeps the live window behind the real-time chart
//  2. Streams every window to browsers over /ws/feed
//  3. Submits correlation analysis requests to the analysis backend
//  4. Holds the current analysis result of each browser session
//  5. Builds CSV, PNG and PDF exports of the result or the live window
//  6. Relays upstream alerts to browsers over /ws/alerts
//
// Usage:
//
//	dashboard \
//	  -adapter=prometheus \
//	  -analyze-url=http://analysis:8000/api/analyze \
//	  -storage=redis -redis-addr=redis:6379
//
// Environment variables:
//
//	LISTEN          - HTTP listen address (default: :8080)
//	GRPC_LISTEN     - gRPC health listen address, empty disables (default: :50051)
//	ADAPTER         - Sample source: random, http, prometheus, victoriametrics
//	ADAPTER_*       - Source settings, e.g. ADAPTER_URL, ADAPTER_QUERY
//	FEED_INTERVAL   - Live feed polling interval (default: 2s)
//	WINDOW_SIZE     - Samples kept in the live window (default: 10)
//	ANALYZE_URL     - Analysis backend endpoint
//	STORAGE         - Result storage: memory or redis (default: memory)
//	ALERTS_URL      - Upstream alert websocket, empty disables
//	THEME_FILE      - File persisting the dashboard theme
//	LOG_LEVEL       - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT      - Logging format: text, json (default: text)
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/sensorboard/cmd/dashboard/config"
	"github.com/HatiCode/sensorboard/cmd/dashboard/logger"
	"github.com/HatiCode/sensorboard/cmd/dashboard/metrics"
	"github.com/HatiCode/sensorboard/cmd/dashboard/router"
	"github.com/HatiCode/sensorboard/pkg/adapters"
	"github.com/HatiCode/sensorboard/pkg/alerts"
	"github.com/HatiCode/sensorboard/pkg/analysis"
	"github.com/HatiCode/sensorboard/pkg/export"
	"github.com/HatiCode/sensorboard/pkg/feed"
	"github.com/HatiCode/sensorboard/pkg/httpx"
	"github.com/HatiCode/sensorboard/pkg/hub"
	"github.com/HatiCode/sensorboard/pkg/render"
	"github.com/HatiCode/sensorboard/pkg/storage"
	"github.com/HatiCode/sensorboard/pkg/theme"
	sbtls "github.com/HatiCode/sensorboard/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

const pruneInterval = time.Minute

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	log.Info("starting sensorboard dashboard",
		"version", version,
		"listen", cfg.Listen,
		"adapter", cfg.Adapter,
		"analyze_url", cfg.AnalyzeURL,
		"storage", cfg.Storage,
		"tls_enabled", cfg.TLS.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("dashboard failed", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

type resultStore interface {
	storage.Store
	io.Closer
}

func newStore(cfg *config.Config, log *slog.Logger) (resultStore, error) {
	switch cfg.Storage {
	case "redis":
		log.Info("using redis result store", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ResultTTL)
	default:
		log.Info("using in-memory result store", "ttl", cfg.ResultTTL)
		return storage.NewMemoryStoreWithTTL(cfg.ResultTTL, time.Minute), nil
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	source, err := adapters.New(cfg.Adapter, cfg.AdapterConfig)
	if err != nil {
		return fmt.Errorf("create adapter: %w", err)
	}

	store, err := newStore(cfg, log)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}()

	backend, err := httpx.NewClient(cfg.BackendTLS, cfg.AnalyzeTimeout)
	if err != nil {
		return fmt.Errorf("create backend client: %w", err)
	}
	sessions := analysis.NewSessions(
		analysis.NewClient(cfg.AnalyzeURL, backend, log),
		store,
		analysis.PipelineOptions{Streams: cfg.Streams, Logger: log, Recorder: m},
	)

	themes, err := theme.Load(cfg.ThemeFile)
	if err != nil {
		return fmt.Errorf("load theme: %w", err)
	}
	exporter := export.New(render.NewChartRenderer(render.DefaultWidth, render.DefaultHeight), export.Options{
		Style:    func() render.Style { return render.Style(themes.Mode()) },
		Logger:   log,
		Recorder: m,
	})

	h := hub.New(log, m)
	f := feed.New(source, feed.Options{
		Interval: cfg.FeedInterval,
		Capacity: cfg.WindowSize,
		Filters:  cfg.Filters(),
		Logger:   log,
		Recorder: m,
	})
	unsubscribe := f.Subscribe(func(snap feed.Snapshot) {
		h.Publish(hub.TopicFeed, snap)
	})
	defer unsubscribe()

	deps := router.Deps{
		Feed:     f,
		Sessions: sessions,
		Exporter: exporter,
		Hub:      h,
		Theme:    themes,
		Streams:  cfg.Streams,
		Logger:   log,
	}

	var listener *alerts.Listener
	if cfg.AlertsURL != "" {
		dialer, err := alertsDialer(cfg.BackendTLS)
		if err != nil {
			return fmt.Errorf("create alerts dialer: %w", err)
		}
		listener = alerts.NewListener(alerts.Options{
			URL:      cfg.AlertsURL,
			Dialer:   dialer,
			Logger:   log,
			Recorder: m,
		}, h)
		deps.Alerts = listener
	}

	var serverTLS *tls.Config
	if cfg.TLS.Enabled {
		serverTLS, err = sbtls.NewServerTLSConfig(cfg.TLS)
		if err != nil {
			return fmt.Errorf("create server TLS config: %w", err)
		}
	}

	httpServer := httpx.NewServer(cfg.Listen, router.SetupRoutes(deps), log)
	if serverTLS != nil {
		httpServer.SetTLSConfig(serverTLS)
	}

	var grpcLn net.Listener
	if cfg.GRPCListen != "" {
		grpcLn, err = net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCListen, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return h.Run(gctx) })

	if err := f.Start(gctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		f.Stop()
		return nil
	})

	g.Go(func() error {
		pruneSessions(gctx, sessions, cfg.SessionIdle, m, log)
		return nil
	})

	if listener != nil {
		g.Go(func() error { return listener.Run(gctx) })
	}

	if grpcLn != nil {
		gh := newGRPCHealth(serverTLS, log)
		g.Go(func() error { return gh.Run(gctx, grpcLn, f.Running, time.Second) })
	}

	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return httpServer.Stop(cfg.ShutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func pruneSessions(ctx context.Context, sessions *analysis.Sessions, maxIdle time.Duration, m *metrics.Metrics, log *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := sessions.Prune(now, maxIdle); n > 0 {
				log.Debug("pruned idle sessions", "count", n)
			}
			m.SetSessions(sessions.Len())
		}
	}
}

func alertsDialer(c sbtls.Config) (*websocket.Dialer, error) {
	d := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: 10 * time.Second,
	}
	if c.Enabled {
		cfg, err := sbtls.NewClientTLSConfig(c)
		if err != nil {
			return nil, err
		}
		d.TLSClientConfig = cfg
	}
	return d, nil
}
