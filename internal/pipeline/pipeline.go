// Package pipeline runs one enrichment: expand queries, search, fetch
// articles, clean them, have the model analyze each one and parse the answers
// into records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/enricher/internal/clean"
	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/llm"
	"github.com/FranksOps/enricher/internal/parse"
	"github.com/FranksOps/enricher/internal/progress"
	"github.com/FranksOps/enricher/internal/query"
	"github.com/FranksOps/enricher/internal/report"
	"github.com/FranksOps/enricher/internal/scraper"
	"github.com/FranksOps/enricher/internal/search"
	"github.com/FranksOps/enricher/internal/storage"
)

// PDFExclusion is appended to every query when PDFs are excluded.
const PDFExclusion = "-filetype:pdf"

// searchShare is the part of the search stage spent querying; fetching
// articles fills the rest.
const searchShare = 50

// Searcher runs expanded queries against the search API.
type Searcher interface {
	SearchAll(ctx context.Context, queries []string, spec domain.SearchQuerySpec, onDone search.QueryDone) ([]domain.RawSearchHit, error)
}

// Fetcher turns hits into articles.
type Fetcher interface {
	FetchAll(ctx context.Context, hits []domain.RawSearchHit, onProgress scraper.Progress) ([]domain.ArticleRecord, map[scraper.Reason]int, error)
}

// Cleaner removes duplicate and unusable articles.
type Cleaner interface {
	Clean(articles []domain.ArticleRecord) ([]domain.CleanedArticle, clean.Stats)
}

// Analyzer sends articles to the model. Result i belongs to article i.
type Analyzer interface {
	AnalyzeAll(ctx context.Context, articles []domain.CleanedArticle, prompt domain.PromptSpec, stopped func() bool, onDone func(done, total int)) []llm.Response
}

var (
	_ Searcher = (*search.Client)(nil)
	_ Fetcher  = (*scraper.Collector)(nil)
	_ Cleaner  = (*clean.Cleaner)(nil)
	_ Analyzer = (*llm.Analyzer)(nil)
)

// Options wires the stages of a Pipeline. Store and Sinks are optional.
type Options struct {
	Searcher Searcher
	Fetcher  Fetcher
	Cleaner  Cleaner
	Analyzer Analyzer
	Store    storage.Backend
	Sinks    []progress.Sink
	// ExcludePDF adds PDFExclusion to every query.
	ExcludePDF bool
}

// Pipeline orchestrates the stages of an enrichment run.
type Pipeline struct {
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
	aborted atomic.Bool
}

// Result is everything a run produced, including for failed runs.
type Result struct {
	Run     domain.PipelineRun
	Records []*domain.AnalysisRecord
	Summary report.Summary
}

// New checks that every required stage is present.
func New(opts Options, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case opts.Searcher == nil:
		return nil, NewConfigError("no search client configured", nil)
	case opts.Fetcher == nil:
		return nil, NewConfigError("no article fetcher configured", nil)
	case opts.Analyzer == nil:
		return nil, NewConfigError("no analysis client configured", nil)
	}
	if opts.Cleaner == nil {
		opts.Cleaner = clean.New(clean.DefaultConfig(), logger)
	}
	return &Pipeline{
		opts:   opts,
		logger: logger.With("component", "pipeline"),
		now:    time.Now,
	}, nil
}

// Abort asks a running Run to stop before its next unit of work.
func (p *Pipeline) Abort() { p.aborted.Store(true) }

// Aborted reports whether Abort was called.
func (p *Pipeline) Aborted() bool { return p.aborted.Load() }

// ValidatePrompt returns a ConfigError when prompt cannot drive a run.
func ValidatePrompt(prompt domain.PromptSpec) error {
	if strings.TrimSpace(prompt.Body) == "" {
		return NewConfigError("no active prompt found", nil)
	}
	if len(prompt.Columns) == 0 {
		return NewConfigError("prompt defines no output columns", nil)
	}
	return nil
}

// Queries expands spec into the query strings a run searches for.
func (p *Pipeline) Queries(spec domain.SearchQuerySpec) []string {
	return ExpandQueries(spec, p.opts.ExcludePDF)
}

// ExpandQueries is Queries without a Pipeline. spec is not modified.
func ExpandQueries(spec domain.SearchQuerySpec, excludePDF bool) []string {
	exclude := spec.Exclude
	if excludePDF && !slices.Contains(exclude, PDFExclusion) {
		exclude = append(slices.Clone(exclude), PDFExclusion)
	}
	return query.Expand(spec.Keywords, spec.Include, exclude)
}

// run is the state of one Run call.
type run struct {
	p      *Pipeline
	res    *Result
	rep    *progress.Reporter
	logger *slog.Logger
}

// Run executes one enrichment. It always returns a Result whose Run reflects
// the terminal status; the error is non-nil exactly when that status is
// failed. An empty runID is replaced by a fresh UUID.
func (p *Pipeline) Run(ctx context.Context, runID string, spec domain.SearchQuerySpec, prompt domain.PromptSpec) (*Result, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	r := &run{
		p: p,
		res: &Result{
			Run: domain.PipelineRun{
				ID:        runID,
				Stage:     domain.StageSearch,
				Status:    domain.StatusRunning,
				StartedAt: p.now().UTC(),
			},
			Summary: report.NewSummary(runID),
		},
		rep:    progress.New(runID, p.logger, p.opts.Sinks...),
		logger: p.logger.With("run_id", runID),
	}

	if err := ValidatePrompt(prompt); err != nil {
		return r.fail(err)
	}

	// Search: query the API, then fetch each hit.
	queries := p.Queries(spec)
	r.res.Summary.Queries = len(queries)
	r.logger.Info("run started", "queries", len(queries), "prompt", prompt.Name, "columns", len(prompt.Columns))
	r.rep.Stage(domain.StageSearch, fmt.Sprintf("Searching %d queries", len(queries)), 0)

	var hits []domain.RawSearchHit
	if len(queries) > 0 {
		var err error
		hits, err = p.opts.Searcher.SearchAll(ctx, queries, spec, func(done, total int, q string, n int) {
			r.rep.Stage(domain.StageSearch, fmt.Sprintf("Searched %d/%d queries", done, total), done*searchShare/total)
		})
		if err != nil {
			return r.fail(fmt.Errorf("search: %w", err))
		}
	}
	r.res.Summary.Hits = len(hits)
	if len(hits) == 0 {
		return r.fail(ErrNoSearchResults)
	}
	if p.Aborted() {
		return r.fail(ErrAborted)
	}

	r.rep.Stage(domain.StageSearch, fmt.Sprintf("Fetching %d articles", len(hits)), searchShare)
	articles, rejected, err := p.opts.Fetcher.FetchAll(ctx, hits, func(done, total int) {
		r.rep.Stage(domain.StageSearch, fmt.Sprintf("Fetched %d/%d articles", done, total), searchShare+done*(100-searchShare)/total)
	})
	if err != nil {
		return r.fail(fmt.Errorf("fetch articles: %w", err))
	}
	r.res.Summary.Fetched = len(articles)
	for reason, n := range rejected {
		r.res.Summary.Rejected[string(reason)] = n
	}
	r.logger.Info("search stage done", "hits", len(hits), "articles", len(articles))
	if p.Aborted() {
		return r.fail(ErrAborted)
	}

	// Clean.
	r.res.Run.Stage = domain.StageClean
	r.rep.Stage(domain.StageClean, fmt.Sprintf("Cleaning %d articles", len(articles)), 0)
	cleaned, stats := p.opts.Cleaner.Clean(articles)
	r.res.Summary.Cleaned = len(cleaned)
	for reason, n := range stats.Dropped {
		r.res.Summary.Dropped[reason] = n
	}
	r.rep.Stage(domain.StageClean, fmt.Sprintf("Kept %d of %d articles", len(cleaned), len(articles)), 100)
	if p.Aborted() {
		return r.fail(ErrAborted)
	}

	// Analyze and parse.
	r.res.Run.Stage = domain.StageAnalyze
	r.rep.Stage(domain.StageAnalyze, fmt.Sprintf("Analyzing %d articles", len(cleaned)), 0)
	responses := p.opts.Analyzer.AnalyzeAll(ctx, cleaned, prompt, p.Aborted, func(done, total int) {
		r.rep.Stage(domain.StageAnalyze, fmt.Sprintf("Analyzed %d/%d articles", done, total), done*100/total)
	})
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}

	r.res.Records = BuildRecords(r.res.Run.ID, cleaned, responses, prompt.Columns, p.now().UTC())
	r.res.Summary.Tally(r.res.Records)

	if p.opts.Store != nil {
		if err := storage.SaveAll(ctx, p.opts.Store, r.res.Records); err != nil {
			return r.fail(fmt.Errorf("save records: %w", err))
		}
	}
	if p.Aborted() {
		return r.fail(ErrAborted)
	}

	return r.complete()
}

// BuildRecords pairs each article with its response, parses the response
// against columns and returns the records in discovery order.
func BuildRecords(runID string, articles []domain.CleanedArticle, responses []llm.Response, columns []string, at time.Time) []*domain.AnalysisRecord {
	records := make([]*domain.AnalysisRecord, 0, len(articles))
	for i, art := range articles {
		var resp llm.Response
		if i < len(responses) {
			resp = responses[i]
		}
		parsed := parse.ParseN(resp.Text, len(columns))
		records = append(records, &domain.AnalysisRecord{
			CleanedArticle: art,
			RunID:          runID,
			Columns:        slices.Clone(columns),
			RawResponse:    resp.Text,
			Fields:         parsed.Fields,
			ParseRoute:     string(parsed.Route),
			Failed:         resp.Failed,
			Skipped:        resp.Skipped,
			AnalyzedAt:     at,
		})
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return records
}

func (r *run) complete() (*Result, error) {
	r.rep.Report(domain.StageAnalyze, "Completed", 100, 100)
	r.rep.Close()
	r.finish(domain.StatusCompleted, "")
	r.logger.Info("run completed",
		"records", r.res.Summary.Records,
		"analyzed", r.res.Summary.Analyzed,
		"failed", r.res.Summary.Failed,
		"duration", r.res.Summary.Duration,
	)
	return r.res, nil
}

func (r *run) fail(err error) (*Result, error) {
	msg := err.Error()
	if errors.Is(err, ErrNoSearchResults) {
		msg = "No search results found for any query"
	}
	r.rep.Report(r.res.Run.Stage, "Failed: "+msg, r.rep.Overall(), 0)
	r.rep.Close()
	r.finish(domain.StatusFailed, err.Error())
	r.logger.Error("run failed", "stage", r.res.Run.Stage, "fatal", IsFatal(err), "error", err)
	return r.res, err
}

func (r *run) finish(status domain.RunStatus, errMsg string) {
	end := r.p.now().UTC()
	r.res.Run.Status = status
	r.res.Run.Error = errMsg
	r.res.Run.Progress = r.rep.Overall()
	r.res.Run.EndedAt = end

	s := &r.res.Summary
	s.Status = status
	s.Error = errMsg
	s.StartTime = r.res.Run.StartedAt
	s.EndTime = end
	s.Duration = end.Sub(r.res.Run.StartedAt)
}
