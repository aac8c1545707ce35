package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/HatiCode/sensorboard/pkg/alerts"
	"github.com/HatiCode/sensorboard/pkg/analysis"
	"github.com/HatiCode/sensorboard/pkg/export"
	"github.com/HatiCode/sensorboard/pkg/httpx"
	"github.com/HatiCode/sensorboard/pkg/render"
	"github.com/HatiCode/sensorboard/pkg/theme"
)

// Error kinds returned in the "kind" field of error responses.
const (
	kindValidation  = "validation"
	kindAnalysis    = "analysis"
	kindFormat      = "format"
	kindExport      = "export"
	kindSuperseded  = "superseded"
	kindNotFound    = "not_found"
	kindUnsupported = "unsupported"
	kindInternal    = "internal"
)

const maxBodyBytes = 1 << 20

var (
	errNoResult    = errors.New("no analysis result")
	errFeedStopped = errors.New("feed is not running")
)

func (a *api) handleFeed(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.Feed.Snapshot())
}

func (a *api) handleStreams(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"streams":  a.Streams,
		"required": analysis.RequiredStreams,
	})
}

func (a *api) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	p, ok := a.pipeline(w, r)
	if !ok {
		return
	}
	a.writeJSON(w, http.StatusOK, p.Status())
}

func (a *api) handlePutSelection(w http.ResponseWriter, r *http.Request) {
	p, ok := a.pipeline(w, r)
	if !ok {
		return
	}

	var sel analysis.Selection
	if found, err := decodeBody(w, r, &sel); err != nil || !found {
		httpx.WriteErrorKind(w, http.StatusBadRequest, kindValidation, "invalid JSON body")
		return
	}
	if err := p.SetSelection(r.Context(), sel); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, p.Status())
}

// handleAnalyze submits the session's selection. A JSON body, when present,
// replaces the selection first.
func (a *api) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	p, ok := a.pipeline(w, r)
	if !ok {
		return
	}

	var sel analysis.Selection
	found, err := decodeBody(w, r, &sel)
	if err != nil {
		httpx.WriteErrorKind(w, http.StatusBadRequest, kindValidation, "invalid JSON body")
		return
	}
	if found {
		if err := p.SetSelection(r.Context(), sel); err != nil {
			a.writeDomainError(w, err)
			return
		}
	}

	res, err := p.Submit(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *api) handleResult(w http.ResponseWriter, r *http.Request) {
	p, ok := a.pipeline(w, r)
	if !ok {
		return
	}

	res, found, err := p.Current(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	if !found {
		a.writeDomainError(w, errNoResult)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *api) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		httpx.WriteErrorKind(w, http.StatusBadRequest, kindUnsupported, "Unsupported export format.")
		return
	}

	source := r.URL.Query().Get("source")
	var job export.Job
	switch source {
	case "", "result":
		source = "result"
		p, ok := a.pipeline(w, r)
		if !ok {
			return
		}
		job, err = resultJob(r, p)
	case "feed":
		job = a.feedJob()
	default:
		httpx.WriteErrorKind(w, http.StatusBadRequest, kindUnsupported, "source must be result or feed")
		return
	}
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	if format != export.FormatAll {
		art, err := a.Exporter.Export(job, format)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		httpx.WriteAttachment(w, art.Name, art.ContentType, art.Data)
		return
	}

	var buf bytes.Buffer
	zs := export.NewZipSink(&buf)
	if err := a.Exporter.All(r.Context(), job, zs); err != nil {
		a.writeDomainError(w, err)
		return
	}
	if err := zs.Close(); err != nil {
		a.writeDomainError(w, &export.ExportError{Op: "export all", Format: export.FormatAll, Msg: "Could not build the archive.", Err: err})
		return
	}
	name := "sensor-export.zip"
	if source == "result" {
		name = "analysis-export.zip"
	}
	httpx.WriteAttachment(w, name, export.ContentTypeZIP, buf.Bytes())
}

func resultJob(r *http.Request, p *analysis.Pipeline) (export.Job, error) {
	res, found, err := p.Current(r.Context())
	if err != nil {
		return export.Job{}, err
	}
	if !found {
		return export.Job{}, errNoResult
	}

	graph, err := export.NewResultGraph(export.ResultTitle(res.Request), res.Raw)
	if err != nil {
		return export.Job{}, err
	}
	return export.Job{
		Result:  res.Raw,
		Graph:   graph,
		Caption: caption(res.ReceivedAt),
	}, nil
}

func (a *api) feedJob() export.Job {
	snap := a.Feed.Snapshot()
	return export.Job{
		Samples: snap.Samples,
		Graph:   snapshotGraph{snap: snap},
		Caption: caption(snap.At),
	}
}

func caption(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return "Generated " + t.UTC().Format("2006-01-02 15:04:05") + " UTC"
}

type themeBody struct {
	Theme theme.Mode `json:"theme"`
}

func (a *api) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, themeBody{Theme: a.Theme.Mode()})
}

func (a *api) handlePutTheme(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Theme string `json:"theme"`
	}
	if found, err := decodeBody(w, r, &body); err != nil || !found {
		httpx.WriteErrorKind(w, http.StatusBadRequest, kindValidation, "invalid JSON body")
		return
	}
	mode, err := theme.ParseMode(body.Theme)
	if err != nil {
		httpx.WriteErrorKind(w, http.StatusBadRequest, kindValidation, "Theme must be light or dark.")
		return
	}
	if err := a.Theme.Set(mode); err != nil {
		a.Logger.Error("failed to save theme", "error", err)
		httpx.WriteErrorKind(w, http.StatusInternalServerError, kindInternal, "Could not save the theme.")
		return
	}
	a.writeJSON(w, http.StatusOK, themeBody{Theme: mode})
}

func (a *api) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	mode, err := a.Theme.Toggle()
	if err != nil {
		a.Logger.Error("failed to save theme", "error", err)
		httpx.WriteErrorKind(w, http.StatusInternalServerError, kindInternal, "Could not save the theme.")
		return
	}
	a.writeJSON(w, http.StatusOK, themeBody{Theme: mode})
}

func (a *api) handleAlerts(w http.ResponseWriter, r *http.Request) {
	recent := []alerts.Alert{}
	if a.Alerts != nil {
		recent = a.Alerts.Recent()
	}
	a.writeJSON(w, http.StatusOK, recent)
}

func (a *api) pipeline(w http.ResponseWriter, r *http.Request) (*analysis.Pipeline, bool) {
	p, err := a.Sessions.Get(SessionFrom(r.Context()))
	if err != nil {
		httpx.WriteErrorKind(w, http.StatusBadRequest, kindValidation, "invalid session id")
		return nil, false
	}
	return p, true
}

// writeDomainError maps the analysis and export error taxonomy onto HTTP
// statuses.
func (a *api) writeDomainError(w http.ResponseWriter, err error) {
	var (
		verr *analysis.ValidationError
		aerr *analysis.AnalysisError
		ferr *analysis.FormatError
		xerr *export.ExportError
	)
	switch {
	case errors.As(err, &verr):
		httpx.WriteErrorKind(w, http.StatusBadRequest, kindValidation, verr.Msg)
	case errors.Is(err, analysis.ErrSuperseded):
		httpx.WriteErrorKind(w, http.StatusConflict, kindSuperseded, analysis.UserMessage(err))
	case errors.As(err, &aerr):
		httpx.WriteErrorKind(w, http.StatusBadGateway, kindAnalysis, aerr.Msg)
	case errors.As(err, &ferr):
		httpx.WriteErrorKind(w, http.StatusUnprocessableEntity, kindFormat, ferr.Msg)
	case errors.Is(err, errNoResult):
		httpx.WriteErrorKind(w, http.StatusNotFound, kindNotFound, "No analysis result yet. Run an analysis first.")
	case errors.Is(err, export.ErrUnknownFormat):
		httpx.WriteErrorKind(w, http.StatusBadRequest, kindUnsupported, export.Message(err))
	case errors.Is(err, render.ErrEmptySeries):
		httpx.WriteErrorKind(w, http.StatusUnprocessableEntity, kindExport, export.Message(err))
	case errors.As(err, &xerr):
		a.Logger.Error("export failed", "format", xerr.Format, "error", err)
		httpx.WriteErrorKind(w, http.StatusInternalServerError, kindExport, export.Message(err))
	default:
		a.Logger.Error("request failed", "error", err)
		httpx.WriteErrorKind(w, http.StatusInternalServerError, kindInternal, "internal server error")
	}
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := httpx.WriteJSON(w, status, v); err != nil {
		a.Logger.Error("failed to write JSON response", "error", err)
	}
}

// decodeBody decodes an optional JSON body into v. found is false for an
// empty body.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) (found bool, err error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
