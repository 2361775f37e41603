package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/llm"
)

func storedRecord(id string, seq int, raw string, failed, skipped bool) *domain.AnalysisRecord {
	rec := &domain.AnalysisRecord{
		RunID:       "run-1",
		Columns:     columns,
		RawResponse: raw,
		Failed:      failed,
		Skipped:     skipped,
	}
	rec.ID = id
	rec.Seq = seq
	rec.URL = "https://example.com/" + id
	rec.Body = "body of " + id
	return rec
}

func TestPending(t *testing.T) {
	tests := []struct {
		name string
		rec  *domain.AnalysisRecord
		want bool
	}{
		{"answered", storedRecord("a", 0, `["x"]`, false, false), false},
		{"failed", storedRecord("b", 1, "Error: timeout", true, false), true},
		{"never answered", storedRecord("c", 2, " ", false, false), true},
		{"too short", storedRecord("d", 3, "", false, true), false},
	}
	for _, tt := range tests {
		if got := Pending(tt.rec); got != tt.want {
			t.Errorf("%s: Pending = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestReanalyze(t *testing.T) {
	records := []*domain.AnalysisRecord{
		storedRecord("a", 0, `["keep","1","me"]`, false, false),
		storedRecord("b", 1, "Error: timeout", true, false),
		storedRecord("c", 2, "", false, false),
	}
	records[0].Fields = []domain.Field{domain.Str("keep")}

	fa := &fakeAnalyzer{}
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	n := Reanalyze(context.Background(), fa, records, prompt, nil, nil, at)

	if n != 2 {
		t.Fatalf("expected 2 pending records, got %d", n)
	}
	if fa.calls.Load() != 1 {
		t.Errorf("expected one batch, got %d", fa.calls.Load())
	}
	if records[0].Fields[0].String() != "keep" {
		t.Errorf("answered record was modified: %+v", records[0])
	}
	for _, rec := range records[1:] {
		if rec.Failed || rec.RawResponse != `["x","y","z"]` {
			t.Errorf("record %s not refreshed: %+v", rec.ID, rec)
		}
		if rec.RunID != "run-1" || !rec.AnalyzedAt.Equal(at) {
			t.Errorf("record %s lost its run or time: %+v", rec.ID, rec)
		}
		if rec.Value("Company").String() != "x" || rec.Value("Notes").String() != "z" {
			t.Errorf("record %s fields = %v", rec.ID, rec.Fields)
		}
	}
	if records[1].ID != "b" || records[1].Seq != 1 {
		t.Errorf("identity lost: %+v", records[1])
	}
}

type stoppingAnalyzer struct{}

func (stoppingAnalyzer) AnalyzeAll(ctx context.Context, articles []domain.CleanedArticle, prompt domain.PromptSpec, stopped func() bool, onDone func(done, total int)) []llm.Response {
	out := make([]llm.Response, len(articles))
	for i := range out {
		out[i] = llm.Response{Skipped: true}
	}
	return out
}

func TestReanalyze_StoppedLeavesRecords(t *testing.T) {
	rec := storedRecord("b", 1, "Error: timeout", true, false)
	Reanalyze(context.Background(), stoppingAnalyzer{}, []*domain.AnalysisRecord{rec}, prompt, func() bool { return true }, nil, time.Now())

	if !rec.Failed || rec.RawResponse != "Error: timeout" {
		t.Errorf("unscheduled record should be untouched, got %+v", rec)
	}
}

func TestReanalyze_NothingPending(t *testing.T) {
	fa := &fakeAnalyzer{}
	if n := Reanalyze(context.Background(), fa, []*domain.AnalysisRecord{storedRecord("a", 0, "[]", false, false)}, prompt, nil, nil, time.Now()); n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
	if fa.calls.Load() != 0 {
		t.Error("analyzer should not be called")
	}
}
