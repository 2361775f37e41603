package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/enricher/internal/config"
	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/pipeline"
	"github.com/FranksOps/enricher/internal/report"
	"github.com/FranksOps/enricher/internal/storage"
)

type analyzeOptions struct {
	runFile      string
	inputBackend string
	input        string
	runID        string
	format       string
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var opts analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze RUNFILE",
		Short: "Re-analyze exported records that failed or were never answered",
		Long: "analyze reads records from --input, sends every record whose last analysis\n" +
			"failed or is missing to the model with the prompt in RUNFILE, and writes the\n" +
			"records to the configured storage backend. A CSV or JSON input that is also\n" +
			"the configured output is rewritten in place.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.runFile = args[0]
			return a.analyze(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.inputBackend, "input-backend", config.BackendCSV, "backend holding the records to resume")
	f.StringVar(&opts.input, "input", "", "file path or DSN of the records to resume")
	f.StringVar(&opts.runID, "run-id", "", "only resume records of this run")
	f.StringVar(&opts.format, "summary", "text", "summary format: text, json or html")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (a *app) analyze(ctx context.Context, out io.Writer, opts analyzeOptions) error {
	if err := a.cfg.ValidateLLM(); err != nil {
		return err
	}
	rf, err := config.LoadRunFile(opts.runFile)
	if err != nil {
		return pipeline.NewConfigError("invalid run file", err)
	}
	if err := pipeline.ValidatePrompt(rf.Prompt); err != nil {
		return err
	}

	inCfg := a.cfg.Storage
	inCfg.Backend, inCfg.Path = opts.inputBackend, opts.input
	in, err := openBackend(ctx, inCfg, nil)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	all, err := in.Query(ctx, storage.Filter{})
	in.Close()
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	records := all
	if opts.runID != "" {
		records = slices.DeleteFunc(slices.Clone(all), func(r *domain.AnalysisRecord) bool { return r.RunID != opts.runID })
	}
	if len(records) == 0 {
		return fmt.Errorf("no records found in %s", opts.input)
	}

	analyzer, err := newAnalyzer(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	logger := a.logger.With("component", "resume")
	n := pipeline.Reanalyze(ctx, analyzer, records, rf.Prompt, nil, func(done, total int) {
		logger.Info("analyzed", "done", done, "total", total)
	}, time.Now().UTC())
	logger.Info("resume finished", "records", len(records), "reanalyzed", n)

	// Append-only files resumed in place are rewritten whole, other runs included.
	outCfg := a.cfg.Storage
	inPlace := appendOnly(outCfg.Backend) && outCfg.Backend == inCfg.Backend && sameFile(outCfg.Path, inCfg.Path)
	toSave := records
	if inPlace {
		toSave = all
		outCfg.Path = inCfg.Path + ".resume"
		if err := os.Remove(outCfg.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale %s: %w", outCfg.Path, err)
		}
		logger.Info("rewriting input in place", "path", inCfg.Path, "records", len(all))
	}
	if err := saveRecords(ctx, outCfg, rf.Prompt.Columns, toSave); err != nil {
		return err
	}
	if inPlace {
		if err := os.Rename(outCfg.Path, inCfg.Path); err != nil {
			return fmt.Errorf("replace %s: %w", inCfg.Path, err)
		}
	}
	return writeSummary(out, report.GenerateSummary(records), opts.format)
}

func saveRecords(ctx context.Context, sc config.StorageConfig, columns []string, records []*domain.AnalysisRecord) error {
	store, err := openBackend(ctx, sc, columns)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	if err := storage.SaveAll(ctx, store, records); err != nil {
		store.Close()
		return fmt.Errorf("save records: %w", err)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

// appendOnly reports whether a backend only ever appends rows, so saving a
// record twice duplicates it.
func appendOnly(backend string) bool {
	return backend == config.BackendCSV || backend == config.BackendJSON
}

func sameFile(a, b string) bool {
	fa, err := os.Stat(a)
	if err != nil {
		return false
	}
	fb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(fa, fb)
}
