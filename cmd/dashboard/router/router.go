// Package router configures the dashboard's HTTP API.
//
// Routes configured:
//   - GET  /healthz - liveness, 503 once the feed has stopped
//   - GET  /metrics - Prometheus metrics
//   - GET  /api/feed - current live window and legend label
//   - GET  /api/streams - selectable analysis streams
//   - GET  /api/selection - session form state and pipeline status
//   - PUT  /api/selection - replace the form state
//   - POST /api/analyze - optionally replace the form state, then submit it
//   - GET  /api/result - the session's current analysis result
//   - GET  /api/export/{format}?source=result|feed - csv, png, pdf or all (zip)
//   - GET  /api/theme, PUT /api/theme, POST /api/theme/toggle
//   - GET  /api/alerts - recently relayed alerts
//   - GET  /ws/feed, /ws/alerts - websocket streams
//
// Every /api request belongs to a session identified by the X-Session-ID
// header or the sensorboard_session cookie. Requests carrying neither get a
// fresh session cookie.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/sensorboard/pkg/alerts"
	"github.com/HatiCode/sensorboard/pkg/analysis"
	"github.com/HatiCode/sensorboard/pkg/export"
	"github.com/HatiCode/sensorboard/pkg/feed"
	"github.com/HatiCode/sensorboard/pkg/httpx"
	"github.com/HatiCode/sensorboard/pkg/hub"
	"github.com/HatiCode/sensorboard/pkg/render"
	"github.com/HatiCode/sensorboard/pkg/theme"
)

// FeedView is the part of the live feed the API reads.
type FeedView interface {
	Snapshot() feed.Snapshot
	Running() bool
}

// AlertHistory returns recently relayed alerts.
type AlertHistory interface {
	Recent() []alerts.Alert
}

// Deps are the components served by the API. Alerts and Gatherer are
// optional.
type Deps struct {
	Feed     FeedView
	Sessions *analysis.Sessions
	Exporter *export.Exporter
	Hub      *hub.Hub
	Theme    *theme.Store
	Streams  []string
	Alerts   AlertHistory
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type api struct {
	Deps
}

// SetupRoutes builds the dashboard handler.
func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	a := &api{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httpx.RecoveryMiddleware(d.Logger))
	r.Use(httpx.LoggingMiddleware(d.Logger))

	r.Get("/healthz", httpx.HealthHandlerWithCheck(a.ready))
	r.Handle("/metrics", a.metricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(sessionMiddleware(d.Logger))

		r.Get("/feed", a.handleFeed)
		r.Get("/streams", a.handleStreams)
		r.Get("/selection", a.handleGetSelection)
		r.Put("/selection", a.handlePutSelection)
		r.Post("/analyze", a.handleAnalyze)
		r.Get("/result", a.handleResult)
		r.Get("/export/{format}", a.handleExport)
		r.Get("/theme", a.handleGetTheme)
		r.Put("/theme", a.handlePutTheme)
		r.Post("/theme/toggle", a.handleToggleTheme)
		r.Get("/alerts", a.handleAlerts)
	})

	r.Get("/ws/feed", func(w http.ResponseWriter, r *http.Request) {
		d.Hub.ServeWS(w, r, hub.TopicFeed, d.Feed.Snapshot())
	})
	r.Get("/ws/alerts", func(w http.ResponseWriter, r *http.Request) {
		var initial any
		if d.Alerts != nil {
			initial = d.Alerts.Recent()
		}
		d.Hub.ServeWS(w, r, hub.TopicAlerts, initial)
	})

	return r
}

func (a *api) metricsHandler() http.Handler {
	if a.Gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{})
}

func (a *api) ready() error {
	if !a.Feed.Running() {
		return errFeedStopped
	}
	return nil
}

// snapshotGraph draws a frozen feed window so an export never mixes two
// windows.
type snapshotGraph struct {
	snap feed.Snapshot
}

func (g snapshotGraph) Title() string { return g.snap.Label }

func (g snapshotGraph) Series() []render.Series {
	return []render.Series{feed.SeriesOf(g.snap)}
}
