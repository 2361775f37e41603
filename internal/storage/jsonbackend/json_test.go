package jsonbackend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/storage"
)

func sample(id, run string, seq int, at time.Time) *domain.AnalysisRecord {
	rec := &domain.AnalysisRecord{
		RunID:       run,
		Columns:     []string{"Company", "Score"},
		RawResponse: `{"Company": "Acme"}`,
		Fields:      []domain.Field{domain.Str("Acme"), domain.Null},
		ParseRoute:  "json",
		AnalyzedAt:  at,
	}
	rec.ID = id
	rec.Seq = seq
	rec.URL = "https://example.com/" + id
	rec.Domain = "example.com"
	rec.Body = "body of " + id
	return rec
}

func TestJSONBackend(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "records.jsonl")

	b, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to create JSON backend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond).UTC() // JSON marshals with precision limits

	rec1 := sample("json1", "run-a", 1, now.Add(-2*time.Hour))
	rec2 := sample("json2", "run-a", 0, now.Add(-1*time.Hour))
	rec3 := sample("json3", "run-b", 0, now)
	rec3.Failed = true
	rec3.Fields = []domain.Field{domain.Str("Error: timeout"), domain.Str("Err")}

	for _, r := range []*domain.AnalysisRecord{rec1, rec2, rec3} {
		if err := b.Save(ctx, r); err != nil {
			t.Fatalf("Failed to save %s: %v", r.ID, err)
		}
	}

	// Test RunID Filter and ordering
	resultsRun, err := b.Query(ctx, storage.Filter{RunID: "run-a"})
	if err != nil {
		t.Fatalf("Failed to query by run: %v", err)
	}
	if len(resultsRun) != 2 {
		t.Fatalf("Expected 2 results for run-a, got %d", len(resultsRun))
	}
	if resultsRun[0].ID != "json2" || resultsRun[1].ID != "json1" {
		t.Errorf("Expected seq order json2,json1, got %s,%s", resultsRun[0].ID, resultsRun[1].ID)
	}

	// Null fields survive the roundtrip
	got := resultsRun[0]
	if len(got.Fields) != 2 || got.Fields[0] != domain.Str("Acme") || got.Fields[1].Valid {
		t.Errorf("Unexpected fields %+v", got.Fields)
	}
	if !got.AnalyzedAt.Equal(rec2.AnalyzedAt) {
		t.Errorf("Expected analyzed_at %v, got %v", rec2.AnalyzedAt, got.AnalyzedAt)
	}

	// Test Failed Filter
	boolTrue := true
	resultsFailed, err := b.Query(ctx, storage.Filter{Failed: &boolTrue})
	if err != nil {
		t.Fatalf("Failed to query failed: %v", err)
	}
	if len(resultsFailed) != 1 || resultsFailed[0].ID != "json3" {
		t.Fatalf("Expected json3 for failed filter, got %v", resultsFailed)
	}

	// Test Since Filter
	past := now.Add(-90 * time.Minute)
	resultsSince, err := b.Query(ctx, storage.Filter{Since: &past})
	if err != nil {
		t.Fatalf("Failed to query since: %v", err)
	}
	if len(resultsSince) != 2 {
		t.Fatalf("Expected 2 results for since filter, got %d", len(resultsSince))
	}

	// Test limit and offset
	resultsPage, err := b.Query(ctx, storage.Filter{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("Failed to query page: %v", err)
	}
	if len(resultsPage) != 1 || resultsPage[0].ID != "json1" {
		t.Fatalf("Expected json1 on page, got %v", resultsPage)
	}
}

func TestJSONBackend_Empty(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "empty.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	results, err := b.Query(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", results)
	}
}
