package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/HatiCode/sensorboard/pkg/analysis"
	"github.com/HatiCode/sensorboard/pkg/export"
	"github.com/HatiCode/sensorboard/pkg/render"
	"github.com/HatiCode/sensorboard/pkg/storage"
)

type analyzeOptions struct {
	url         string
	streams     []string
	start       string
	end         string
	correlation float64
	timeout     time.Duration
	export      string
	out         string
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Submit a correlation analysis and optionally export the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "http://localhost:8000/api/analyze", "Analysis backend endpoint")
	f.StringSliceVar(&opts.streams, "streams", nil, "Exactly 3 comma-separated stream names")
	f.StringVar(&opts.start, "start", "", "Start time of day (HH:MM)")
	f.StringVar(&opts.end, "end", "", "End time of day (HH:MM)")
	f.Float64Var(&opts.correlation, "correlation", 0, "Expected correlation between 0 and 1")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Analysis request timeout")
	f.StringVar(&opts.export, "export", "none", "Export format: csv, png, pdf, all or none")
	f.StringVar(&opts.out, "out", ".", "Directory receiving exported files")

	return cmd
}

func runAnalyze(cmd *cobra.Command, root *rootOptions, opts *analyzeOptions) error {
	log := root.logger()

	format, doExport, err := parseExportFormat(opts.export)
	if err != nil {
		return err
	}

	sel := analysis.Selection{
		Streams: opts.streams,
		Start:   opts.start,
		End:     opts.end,
	}
	if cmd.Flags().Changed("correlation") {
		corr := opts.correlation
		sel.ExpectedCorrelation = &corr
	}

	store := storage.NewMemoryStore()
	client := analysis.NewClient(opts.url, &http.Client{Timeout: opts.timeout}, log)
	p := analysis.NewPipeline("sensorctl", client, store, analysis.PipelineOptions{Logger: log})
	defer p.Close()

	if err := p.SetSelection(cmd.Context(), sel); err != nil {
		return err
	}
	res, err := p.Submit(cmd.Context())
	if err != nil {
		return friendly(err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, res.Raw, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(res.Raw)
	}
	fmt.Fprintln(cmd.OutOrStdout(), pretty.String())

	if !doExport {
		return nil
	}

	job := export.Job{Result: res.Raw}
	if format != export.FormatCSV {
		graph, err := export.NewResultGraph(export.ResultTitle(res.Request), res.Raw)
		if err != nil {
			return friendly(err)
		}
		job.Graph = graph
		job.Caption = "Generated " + res.ReceivedAt.UTC().Format("2006-01-02 15:04:05") + " UTC"
	}

	exp := export.New(render.NewChartRenderer(render.DefaultWidth, render.DefaultHeight), export.Options{Logger: log})
	return writeArtifacts(cmd, exp, job, format, opts.out)
}
