package router

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/HatiCode/sensorboard/cmd/dashboard/metrics"
	"github.com/HatiCode/sensorboard/pkg/analysis"
	"github.com/HatiCode/sensorboard/pkg/export"
	"github.com/HatiCode/sensorboard/pkg/feed"
	"github.com/HatiCode/sensorboard/pkg/httpx"
	"github.com/HatiCode/sensorboard/pkg/hub"
	"github.com/HatiCode/sensorboard/pkg/render"
	"github.com/HatiCode/sensorboard/pkg/storage"
	"github.com/HatiCode/sensorboard/pkg/theme"
)

const rowsBody = `{"data":[{"time":"08:00","Sensor 1":21.5},{"time":"09:00","Sensor 1":23}]}`

type fakeFeed struct {
	snap    feed.Snapshot
	running bool
}

func (f *fakeFeed) Snapshot() feed.Snapshot { return f.snap }
func (f *fakeFeed) Running() bool           { return f.running }

type fakeAnalyzer struct {
	calls atomic.Int32
	body  string
	err   error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return &analysis.Result{Raw: json.RawMessage(a.body)}, nil
}

type testAPI struct {
	handler  http.Handler
	analyzer *fakeAnalyzer
	feed     *fakeFeed
	hub      *hub.Hub
	metrics  *metrics.Metrics
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAPI(t *testing.T, body string) *testAPI {
	t.Helper()

	logger := discardLogger()
	analyzer := &fakeAnalyzer{body: body}
	store := storage.NewMemoryStore()
	t.Cleanup(store.Stop)

	themes, err := theme.Load("")
	if err != nil {
		t.Fatalf("theme.Load: %v", err)
	}

	ff := &fakeFeed{
		running: true,
		snap: feed.Snapshot{
			Label: "Sensor Stream",
			Samples: []feed.Sample{
				{Timestamp: "10:00:00", Value: 21},
				{Timestamp: "10:00:02", Value: 34},
			},
			At: time.Date(2026, 3, 1, 10, 0, 2, 0, time.UTC),
		},
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	h := hub.New(logger, m)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	handler := SetupRoutes(Deps{
		Feed:     ff,
		Sessions: analysis.NewSessions(analyzer, store, analysis.PipelineOptions{Streams: analysis.DefaultStreams, Logger: logger, Recorder: m}),
		Exporter: export.New(render.NewChartRenderer(320, 160), export.Options{Logger: logger, Recorder: m}),
		Hub:      h,
		Theme:    themes,
		Streams:  analysis.DefaultStreams,
		Gatherer: reg,
		Logger:   logger,
	})
	return &testAPI{handler: handler, analyzer: analyzer, feed: ff, hub: h, metrics: m}
}

func (a *testAPI) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set(SessionHeader, "s1")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorResponse {
	t.Helper()
	var resp httpx.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

const validSelection = `{"streams":["Sensor 1","Sensor 2","Sensor 3"],"start":"08:00","end":"09:00","expectedCorrelation":0.8}`

func TestSession_CookieIssued(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	req := httptest.NewRequest(http.MethodGet, "/api/selection", nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookie || cookies[0].Value == "" {
		t.Fatalf("cookies = %v, want one %s cookie", cookies, SessionCookie)
	}
	if got := rec.Header().Get(SessionHeader); got != cookies[0].Value {
		t.Errorf("%s = %q, want %q", SessionHeader, got, cookies[0].Value)
	}
}

func TestSession_CookieReused(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	req := httptest.NewRequest(http.MethodGet, "/api/selection", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "browser-1"})
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	if len(rec.Result().Cookies()) != 0 {
		t.Error("expected no new cookie for a known session")
	}
	var st analysis.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Session != "browser-1" {
		t.Errorf("session = %q, want browser-1", st.Session)
	}
}

func TestSession_InvalidID(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	req := httptest.NewRequest(http.MethodGet, "/api/selection", nil)
	req.Header.Set(SessionHeader, "../etc")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAnalyze_Validation(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	rec := api.do(t, http.MethodPost, "/api/analyze", `{"streams":["Sensor 1","Sensor 2"],"start":"08:00","end":"09:00","expectedCorrelation":0.8}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Kind != kindValidation || resp.Error != "Please select exactly 3 streams." {
		t.Errorf("error = %+v", resp)
	}
	if n := api.analyzer.calls.Load(); n != 0 {
		t.Errorf("backend calls = %d, want 0", n)
	}
}

func TestAnalyze_InvalidBody(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	rec := api.do(t, http.MethodPost, "/api/analyze", `{"streams":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAnalyze_ResultAndExport(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	rec := api.do(t, http.MethodGet, "/api/result", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("result before analysis: status = %d, want 404", rec.Code)
	}

	rec = api.do(t, http.MethodPost, "/api/analyze", validSelection)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d, body %s", rec.Code, rec.Body)
	}
	if n := api.analyzer.calls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}

	rec = api.do(t, http.MethodGet, "/api/result", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d", rec.Code)
	}
	var res analysis.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Request.ExpectedCorrelation != 0.8 || len(res.Request.Streams) != 3 {
		t.Errorf("request = %+v", res.Request)
	}

	rec = api.do(t, http.MethodGet, "/api/export/csv", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("csv status = %d, body %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != export.ContentTypeCSV {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "analysis.csv") {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got, want := rec.Body.String(), "time,Sensor 1\n08:00,21.5\n09:00,23\n"; got != want {
		t.Errorf("csv = %q, want %q", got, want)
	}

	rec = api.do(t, http.MethodGet, "/api/export/png", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("png status = %d, body %s", rec.Code, rec.Body)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("png export is not a PNG")
	}
}

func TestAnalyze_InputChangeClearsResult(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	if rec := api.do(t, http.MethodPost, "/api/analyze", validSelection); rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d", rec.Code)
	}

	changed := strings.Replace(validSelection, "09:00", "10:00", 1)
	rec := api.do(t, http.MethodPut, "/api/selection", changed)
	if rec.Code != http.StatusOK {
		t.Fatalf("put selection status = %d", rec.Code)
	}
	var st analysis.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.HasResult || st.Selection.End != "10:00" {
		t.Errorf("status = %+v", st)
	}

	if rec := api.do(t, http.MethodGet, "/api/result", ""); rec.Code != http.StatusNotFound {
		t.Errorf("result after change: status = %d, want 404", rec.Code)
	}
	if rec := api.do(t, http.MethodGet, "/api/export/csv", ""); rec.Code != http.StatusNotFound {
		t.Errorf("export after change: status = %d, want 404", rec.Code)
	}
}

func TestAnalyze_BackendFailure(t *testing.T) {
	api := newTestAPI(t, rowsBody)
	api.analyzer.err = errors.New("connection refused")

	rec := api.do(t, http.MethodPost, "/api/analyze", validSelection)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Kind != kindAnalysis || resp.Error != "Analysis failed. Check backend or network." {
		t.Errorf("error = %+v", resp)
	}
}

func TestExport_NonArrayResult(t *testing.T) {
	api := newTestAPI(t, `{"summary":"strong correlation"}`)

	if rec := api.do(t, http.MethodPost, "/api/analyze", validSelection); rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d", rec.Code)
	}

	for _, format := range []string{"csv", "all"} {
		rec := api.do(t, http.MethodGet, "/api/export/"+format, "")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: status = %d, want 422", format, rec.Code)
		}
		if got := rec.Header().Get("Content-Disposition"); got != "" {
			t.Errorf("%s: unexpected attachment %q", format, got)
		}
		if resp := decodeError(t, rec); resp.Kind != kindFormat {
			t.Errorf("%s: kind = %q, want %q", format, resp.Kind, kindFormat)
		}
	}
}

func TestExport_FeedCSV(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	rec := api.do(t, http.MethodGet, "/api/export/csv?source=feed", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got, want := rec.Body.String(), "Time,Value\n10:00:00,21\n10:00:02,34\n"; got != want {
		t.Errorf("csv = %q, want %q", got, want)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "sensor-data.csv") {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestExport_FeedAllZip(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	rec := api.do(t, http.MethodGet, "/api/export/all?source=feed", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != export.ContentTypeZIP {
		t.Errorf("Content-Type = %q", got)
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	want := []string{"sensor-data.csv", "sensor-graph.png", "sensor-analysis.pdf"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("zip entries = %v, want %v", names, want)
	}
}

func TestExport_EmptyFeedGraph(t *testing.T) {
	api := newTestAPI(t, rowsBody)
	api.feed.snap = feed.Snapshot{Label: "Sensor Stream"}

	rec := api.do(t, http.MethodGet, "/api/export/png?source=feed", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "There is no data to draw yet." {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestExport_BadRequests(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	tests := []struct {
		name   string
		target string
	}{
		{name: "unknown format", target: "/api/export/xlsx"},
		{name: "unknown source", target: "/api/export/csv?source=disk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodGet, tt.target, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestStreams(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	rec := api.do(t, http.MethodGet, "/api/streams", "")
	var resp struct {
		Streams  []string `json:"streams"`
		Required int      `json:"required"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Streams) != 5 || resp.Required != 3 {
		t.Errorf("streams = %+v", resp)
	}
}

func TestTheme(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantTheme  string
	}{
		{name: "default", method: http.MethodGet, target: "/api/theme", wantStatus: http.StatusOK, wantTheme: "light"},
		{name: "set dark", method: http.MethodPut, target: "/api/theme", body: `{"theme":"Dark"}`, wantStatus: http.StatusOK, wantTheme: "dark"},
		{name: "invalid", method: http.MethodPut, target: "/api/theme", body: `{"theme":"sepia"}`, wantStatus: http.StatusBadRequest},
		{name: "toggle", method: http.MethodPost, target: "/api/theme/toggle", wantStatus: http.StatusOK, wantTheme: "light"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, tt.target, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantTheme == "" {
				return
			}
			var body themeBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if string(body.Theme) != tt.wantTheme {
				t.Errorf("theme = %q, want %q", body.Theme, tt.wantTheme)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	if rec := api.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("running: status = %d, want 200", rec.Code)
	}
	api.feed.running = false
	if rec := api.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("stopped: status = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	if rec := api.do(t, http.MethodPost, "/api/analyze", validSelection); rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d", rec.Code)
	}

	rec := api.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `sensorboard_analysis_requests_total{outcome="succeeded"} 1`) {
		t.Errorf("metrics body missing analysis counter:\n%s", body)
	}
}

func TestAlerts_EmptyWithoutListener(t *testing.T) {
	api := newTestAPI(t, rowsBody)

	rec := api.do(t, http.MethodGet, "/api/alerts", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestWebsocketFeed_InitialSnapshot(t *testing.T) {
	api := newTestAPI(t, rowsBody)
	server := httptest.NewServer(api.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string        `json:"type"`
		Payload feed.Snapshot `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != hub.TopicFeed || len(msg.Payload.Samples) != 2 {
		t.Errorf("message = %+v", msg)
	}
}
