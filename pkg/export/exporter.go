package export

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/HatiCode/sensorboard/pkg/analysis"
	"github.com/HatiCode/sensorboard/pkg/feed"
	"github.com/HatiCode/sensorboard/pkg/render"
)

// Recorder receives export instrumentation. A nil Recorder disables it.
type Recorder interface {
	RecordExport(format, outcome string, seconds float64)
}

// Options configures an Exporter.
type Options struct {
	// Style returns the chart style for each snapshot. Nil keeps the
	// renderer's own style.
	Style    func() render.Style
	Logger   *slog.Logger
	Recorder Recorder
}

// Job describes what one export reads. A job with a Result exports the
// analysis result; a job without one exports the feed Samples.
type Job struct {
	Result  json.RawMessage
	Samples []feed.Sample
	Graph   Graph
	Caption string
}

// Names returns the file names for the job's source.
func (j Job) Names() Names {
	if j.Result != nil {
		return ResultNames
	}
	return FeedNames
}

// Exporter builds artifacts with a Renderer.
type Exporter struct {
	renderer render.Renderer
	style    func() render.Style
	logger   *slog.Logger
	recorder Recorder
}

// New returns an Exporter drawing graphs with renderer.
func New(renderer render.Renderer, opts Options) *Exporter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Exporter{
		renderer: renderer,
		style:    opts.Style,
		logger:   opts.Logger,
		recorder: opts.Recorder,
	}
}

// Export builds a single artifact. FormatAll is rejected; use All.
func (e *Exporter) Export(job Job, format Format) (Artifact, error) {
	start := time.Now()
	art, err := e.build(job, format)
	e.record(format, err, time.Since(start))
	if err != nil {
		e.logger.Warn("export failed", "format", format, "error", err)
		return Artifact{}, err
	}
	e.logger.Debug("export built", "name", art.Name, "bytes", len(art.Data))
	return art, nil
}

func (e *Exporter) build(job Job, format Format) (Artifact, error) {
	names := job.Names()
	switch format {
	case FormatCSV:
		var data []byte
		var err error
		if job.Result != nil {
			data, err = CSV(job.Result)
		} else {
			data, err = CSVFromSamples(job.Samples)
		}
		if err != nil {
			return Artifact{}, err
		}
		return Artifact{Name: names.CSV, ContentType: ContentTypeCSV, Data: data}, nil

	case FormatPNG:
		bm, err := e.snapshot(job)
		if err != nil {
			return Artifact{}, err
		}
		return Artifact{Name: names.PNG, ContentType: ContentTypePNG, Data: bm.PNG}, nil

	case FormatPDF:
		bm, err := e.snapshot(job)
		if err != nil {
			return Artifact{}, err
		}
		data, err := PDF(job.Graph.Title(), bm, job.Result)
		if err != nil {
			return Artifact{}, &ExportError{Op: "export", Format: FormatPDF, Msg: "Could not build the PDF.", Err: err}
		}
		return Artifact{Name: names.PDF, ContentType: ContentTypePDF, Data: data}, nil

	default:
		return Artifact{}, &ExportError{Op: "export", Format: format, Msg: "Unsupported export format.", Err: ErrUnknownFormat}
	}
}

func (e *Exporter) snapshot(job Job) (render.Bitmap, error) {
	if job.Graph == nil {
		return render.Bitmap{}, &ExportError{Op: "export", Format: FormatPNG, Msg: "There is no graph to export.", Err: render.ErrEmptySeries}
	}
	v, err := e.renderer.Render(job.Graph.Title(), job.Graph.Series())
	if err != nil {
		msg := "Could not draw the graph."
		if errors.Is(err, render.ErrEmptySeries) {
			msg = "There is no data to draw yet."
		}
		return render.Bitmap{}, &ExportError{Op: "render", Format: FormatPNG, Msg: msg, Err: err}
	}
	if e.style != nil {
		v.Style = e.style()
	}
	v.Caption = job.Caption

	bm, err := e.renderer.Snapshot(v)
	if err != nil {
		return render.Bitmap{}, &ExportError{Op: "snapshot", Format: FormatPNG, Msg: "Could not draw the graph.", Err: err}
	}
	return bm, nil
}

// All exports CSV, PNG and PDF in that order, delivering each artifact to
// sink as soon as it is complete. The first failure stops the run and is
// returned as an *ExportError; artifacts delivered before it are kept.
func (e *Exporter) All(ctx context.Context, job Job, sink Sink) error {
	for _, format := range []Format{FormatCSV, FormatPNG, FormatPDF} {
		if err := ctx.Err(); err != nil {
			return &ExportError{Op: "export all", Format: format, Msg: "Export canceled.", Err: err}
		}

		art, err := e.Export(job, format)
		if err != nil {
			return &ExportError{Op: "export all", Format: format, Msg: Message(err), Err: err}
		}
		if err := sink.Deliver(ctx, art); err != nil {
			e.logger.Error("export delivery failed", "name", art.Name, "error", err)
			return &ExportError{Op: "export all", Format: format, Msg: "Could not save " + art.Name + ".", Err: err}
		}
	}
	e.logger.Info("export complete", "source", job.Names().CSV)
	return nil
}

func (e *Exporter) record(format Format, err error, elapsed time.Duration) {
	if e.recorder == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	e.recorder.RecordExport(string(format), outcome, elapsed.Seconds())
}

// Message returns the user-facing text of an export or analysis error.
func Message(err error) string {
	var xerr *ExportError
	if errors.As(err, &xerr) && xerr.Msg != "" {
		var ferr *analysis.FormatError
		if errors.As(err, &ferr) {
			return ferr.Msg
		}
		return xerr.Msg
	}
	return analysis.UserMessage(err)
}
