package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/FranksOps/enricher/internal/domain"
)

// Pending reports whether rec still needs a model answer: its last attempt
// failed or it was never answered. Records skipped as too short stay skipped.
func Pending(rec *domain.AnalysisRecord) bool {
	if rec.Failed {
		return true
	}
	return !rec.Skipped && strings.TrimSpace(rec.RawResponse) == ""
}

// Reanalyze sends every pending record to a again and replaces its response
// and fields in place, keeping its ID, run and position. Records left
// unscheduled because stopped returned true are not touched. It returns the
// number of records that were pending.
func Reanalyze(ctx context.Context, a Analyzer, records []*domain.AnalysisRecord, prompt domain.PromptSpec, stopped func() bool, onDone func(done, total int), at time.Time) int {
	var (
		pending  []*domain.AnalysisRecord
		articles []domain.CleanedArticle
	)
	for _, rec := range records {
		if Pending(rec) {
			pending = append(pending, rec)
			articles = append(articles, rec.CleanedArticle)
		}
	}
	if len(pending) == 0 {
		return 0
	}

	responses := a.AnalyzeAll(ctx, articles, prompt, stopped, onDone)
	for i, rec := range pending {
		resp := responses[i]
		if resp.Skipped && resp.Attempts == 0 && stopped != nil && stopped() {
			continue
		}
		*rec = *BuildRecords(rec.RunID, articles[i:i+1], responses[i:i+1], prompt.Columns, at)[0]
	}
	return len(pending)
}
