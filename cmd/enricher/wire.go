package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/FranksOps/enricher/internal/clean"
	"github.com/FranksOps/enricher/internal/config"
	"github.com/FranksOps/enricher/internal/llm"
	"github.com/FranksOps/enricher/internal/pipeline"
	"github.com/FranksOps/enricher/internal/progress"
	"github.com/FranksOps/enricher/internal/scraper"
	"github.com/FranksOps/enricher/internal/search"
	"github.com/FranksOps/enricher/internal/storage"
	"github.com/FranksOps/enricher/internal/storage/csvbackend"
	"github.com/FranksOps/enricher/internal/storage/elastic"
	"github.com/FranksOps/enricher/internal/storage/jsonbackend"
	"github.com/FranksOps/enricher/internal/storage/postgres"
	"github.com/FranksOps/enricher/internal/storage/sqlite"
)

// openBackend opens the configured record store. columns fixes the CSV
// header; nil adopts whatever an existing file has.
func openBackend(ctx context.Context, sc config.StorageConfig, columns []string) (storage.Backend, error) {
	switch sc.Backend {
	case config.BackendCSV:
		return csvbackend.New(sc.Path, columns)
	case config.BackendJSON:
		return jsonbackend.New(sc.Path)
	case config.BackendSQLite:
		return sqlite.New(sc.Path)
	case config.BackendPostgres:
		return postgres.New(ctx, sc.Path)
	case config.BackendElastic:
		return elastic.New(ctx, sc.Addresses, sc.Index)
	default:
		return nil, pipeline.NewConfigError(fmt.Sprintf("unknown storage backend %q", sc.Backend), nil)
	}
}

// openSinks builds the progress sinks. The returned closers must be closed
// once the run is over.
func openSinks(pc config.ProgressConfig, logger *slog.Logger) ([]progress.Sink, []io.Closer, error) {
	var (
		sinks   []progress.Sink
		closers []io.Closer
	)
	for _, name := range pc.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, progress.LogSink{Logger: logger.With("component", "progress")})
		case "kafka":
			s := progress.NewKafkaSink(pc.Brokers, pc.Topic)
			sinks = append(sinks, s)
			closers = append(closers, s)
		case "amqp":
			s, err := progress.NewAMQPSink(pc.AMQPURL, pc.Exchange, pc.RoutingKey)
			if err != nil {
				closeAll(closers, logger)
				return nil, nil, err
			}
			sinks = append(sinks, s)
			closers = append(closers, s)
		default:
			closeAll(closers, logger)
			return nil, nil, pipeline.NewConfigError(fmt.Sprintf("unknown progress sink %q", name), nil)
		}
	}
	return sinks, closers, nil
}

func closeAll(closers []io.Closer, logger *slog.Logger) {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("failed to close progress sinks", "error", err)
	}
}

// newAnalyzer builds the analysis client. Provider setup errors are
// configuration errors.
func newAnalyzer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*llm.Analyzer, error) {
	factory, err := llm.NewFactory(ctx, cfg.LLMClient())
	if err != nil {
		return nil, pipeline.NewConfigError("language model setup failed", err)
	}
	return llm.NewAnalyzer(factory, llm.NewKeyPool(cfg.LLM.APIKeys), cfg.Analyzer(), logger), nil
}

// stages holds the concrete pipeline stages for one run.
type stages struct {
	search    *search.Client
	collector *scraper.Collector
	cleaner   *clean.Cleaner
	analyzer  *llm.Analyzer
}

func newStages(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stages, error) {
	sc, err := search.New(cfg.SearchClient(), logger)
	if err != nil {
		return nil, pipeline.NewConfigError("search client setup failed", err)
	}
	fc, err := cfg.Fetcher()
	if err != nil {
		return nil, pipeline.NewConfigError("fetcher setup failed", err)
	}
	fetcher, err := scraper.NewFetcher(fc, logger)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	analyzer, err := newAnalyzer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &stages{
		search:    sc,
		collector: scraper.NewCollector(cfg.Collector(), fetcher, logger),
		cleaner:   clean.New(cfg.Cleaner(), logger),
		analyzer:  analyzer,
	}, nil
}
