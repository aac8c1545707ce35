package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/HatiCode/sensorboard/pkg/adapters"
	"github.com/HatiCode/sensorboard/pkg/export"
	"github.com/HatiCode/sensorboard/pkg/feed"
	"github.com/HatiCode/sensorboard/pkg/render"
)

type watchOptions struct {
	adapter       string
	adapterConfig map[string]string
	interval      time.Duration
	ticks         int
	window        int
	sensor        string
	out           string
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the live feed for a number of ticks and print each window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.adapter, "adapter", "random", "Sample source: random, http, prometheus or victoriametrics")
	f.StringToStringVar(&opts.adapterConfig, "adapter-config", nil, "Source settings, e.g. url=http://...,valuePath=reading.value")
	f.DurationVar(&opts.interval, "interval", feed.DefaultInterval, "Polling interval")
	f.IntVar(&opts.ticks, "ticks", 25, "Number of ticks to run")
	f.IntVar(&opts.window, "window", feed.DefaultCapacity, "Samples kept in the window")
	f.StringVar(&opts.sensor, "sensor", "", "Sensor tag shown in the label")
	f.StringVar(&opts.out, "out", "", "Export sensor-data.csv, sensor-graph.png and sensor-analysis.pdf here when done")

	return cmd
}

func runWatch(cmd *cobra.Command, root *rootOptions, opts *watchOptions) error {
	if opts.ticks <= 0 {
		return fmt.Errorf("ticks must be > 0")
	}

	log := root.logger()
	source, err := adapters.New(opts.adapter, opts.adapterConfig)
	if err != nil {
		return err
	}

	f := feed.New(source, feed.Options{
		Interval: opts.interval,
		Capacity: opts.window,
		Filters:  feed.Filters{Sensor: opts.sensor},
		Logger:   log,
	})

	out := cmd.OutOrStdout()
	unsubscribe := f.Subscribe(func(snap feed.Snapshot) {
		values := make([]string, len(snap.Samples))
		for i, s := range snap.Samples {
			values[i] = fmt.Sprintf("%g", s.Value)
		}
		fmt.Fprintf(out, "%s  %s  [%s]\n", snap.At.UTC().Format(feed.LabelLayout), snap.Label, strings.Join(values, " "))
	})
	defer unsubscribe()

	ctx := cmd.Context()
	for i := 0; i < opts.ticks; i++ {
		if i > 0 && opts.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.interval):
			}
		}
		if err := f.Tick(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "tick failed: %v\n", err)
		}
	}

	if opts.out == "" {
		return nil
	}

	snap := f.Snapshot()
	job := export.Job{
		Samples: snap.Samples,
		Graph:   f,
		Caption: "Generated " + snap.At.UTC().Format("2006-01-02 15:04:05") + " UTC",
	}
	exp := export.New(render.NewChartRenderer(render.DefaultWidth, render.DefaultHeight), export.Options{Logger: log})
	return writeArtifacts(cmd, exp, job, export.FormatAll, opts.out)
}
