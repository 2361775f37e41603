package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FranksOps/enricher/internal/config"
	"github.com/FranksOps/enricher/internal/metrics"
	"github.com/FranksOps/enricher/internal/pipeline"
	"github.com/FranksOps/enricher/internal/report"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		runID  string
		format string
	)
	cmd := &cobra.Command{
		Use:   "run RUNFILE",
		Short: "Run the full pipeline for the searches and prompt in RUNFILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), args[0], runID, format)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier (default: random UUID)")
	cmd.Flags().StringVar(&format, "summary", "text", "summary format: text, json or html")
	return cmd
}

func (a *app) run(ctx context.Context, out io.Writer, runFile, runID, format string) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	rf, err := config.LoadRunFile(runFile)
	if err != nil {
		return pipeline.NewConfigError("invalid run file", err)
	}
	if err := pipeline.ValidatePrompt(rf.Prompt); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.Metrics.Port > 0 {
		srv := metrics.Start(a.cfg.Metrics.Port, a.logger)
		defer srv.Stop(context.Background())
	}

	st, err := newStages(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	store, err := openBackend(ctx, a.cfg.Storage, rf.Prompt.Columns)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	sinks, closers, err := openSinks(a.cfg.Progress, a.logger)
	if err != nil {
		return err
	}
	defer closeAll(closers, a.logger)

	p, err := pipeline.New(pipeline.Options{
		Searcher:   st.search,
		Fetcher:    st.collector,
		Cleaner:    st.cleaner,
		Analyzer:   st.analyzer,
		Store:      store,
		Sinks:      sinks,
		ExcludePDF: a.cfg.Search.ExcludePDF,
	}, a.logger)
	if err != nil {
		return err
	}
	st.search.Stopped = p.Aborted
	st.collector.Stopped = p.Aborted

	stop := handleInterrupts(p, cancel, a.logger)
	defer stop()

	res, runErr := p.Run(ctx, runID, rf.Search, rf.Prompt)
	if res != nil {
		if err := writeSummary(out, res.Summary, format); err != nil {
			return err
		}
	}
	return runErr
}

// handleInterrupts aborts the pipeline on the first interrupt and cancels
// in-flight work on the second.
func handleInterrupts(p *pipeline.Pipeline, cancel context.CancelFunc, logger *slog.Logger) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		n := 0
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				n++
				if n == 1 {
					logger.Warn("interrupt received, finishing in-flight work", "signal", sig)
					p.Abort()
					continue
				}
				logger.Warn("second interrupt, cancelling", "signal", sig)
				cancel()
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func writeSummary(w io.Writer, s report.Summary, format string) error {
	switch format {
	case "json":
		return report.WriteJSON(w, s)
	case "html":
		return report.WriteHTML(w, s)
	case "text", "":
		return report.WriteText(w, s)
	default:
		return fmt.Errorf("unknown summary format %q", format)
	}
}
