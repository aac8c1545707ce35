package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/HatiCode/sensorboard/cmd/dashboard/logger"
	"github.com/HatiCode/sensorboard/pkg/export"
)

type rootOptions struct {
	logLevel  string
	logFormat string
}

func (o *rootOptions) logger() *slog.Logger {
	return logger.New(o.logFormat, o.logLevel)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "sensorctl",
		Short:        "Sensor dashboard command line",
		Long:         `Runs analyses, watches the live feed and writes CSV, PNG and PDF exports without the browser.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")

	cmd.AddCommand(newAnalyzeCmd(opts), newWatchCmd(opts))
	return cmd
}

// parseExportFormat accepts the export formats plus "none".
func parseExportFormat(s string) (export.Format, bool, error) {
	if s == "" || s == "none" {
		return "", false, nil
	}
	f, err := export.ParseFormat(s)
	if err != nil {
		return "", false, err
	}
	return f, true, nil
}

// userError keeps err for errors.Is/As while printing the message the
// dashboard would show.
type userError struct {
	msg string
	err error
}

func (e *userError) Error() string { return e.msg }
func (e *userError) Unwrap() error { return e.err }

func friendly(err error) error {
	if err == nil {
		return nil
	}
	var uerr *userError
	if errors.As(err, &uerr) {
		return err
	}
	return &userError{msg: export.Message(err), err: err}
}

func writeArtifacts(cmd *cobra.Command, exp *export.Exporter, job export.Job, format export.Format, dir string) error {
	sink := export.DirSink{Dir: dir}
	if format == export.FormatAll {
		if err := exp.All(cmd.Context(), job, sink); err != nil {
			return friendly(err)
		}
		names := job.Names()
		for _, name := range []string{names.CSV, names.PNG, names.PDF} {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", name)
		}
		return nil
	}

	art, err := exp.Export(job, format)
	if err != nil {
		return friendly(err)
	}
	if err := sink.Deliver(cmd.Context(), art); err != nil {
		return fmt.Errorf("save %s: %w", art.Name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", art.Name)
	return nil
}
