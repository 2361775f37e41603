package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/enricher/internal/domain"
)

// columns lists the table columns in insert and select order.
var columns = []string{
	"id", "run_id", "seq", "title", "url", "published", "published_raw", "domain",
	"query", "snippet", "body", "columns", "fields", "raw_response", "parse_route",
	"failed", "skipped", "analyzed_at",
}

// row mirrors one analysis_records row. Times are stored as RFC 3339 text so
// that lexical comparison orders them.
type row struct {
	ID           string `db:"id"`
	RunID        string `db:"run_id"`
	Seq          int    `db:"seq"`
	Title        string `db:"title"`
	URL          string `db:"url"`
	Published    string `db:"published"`
	PublishedRaw string `db:"published_raw"`
	Domain       string `db:"domain"`
	Query        string `db:"query"`
	Snippet      string `db:"snippet"`
	Body         string `db:"body"`
	Columns      string `db:"columns"`
	Fields       string `db:"fields"`
	RawResponse  string `db:"raw_response"`
	ParseRoute   string `db:"parse_route"`
	Failed       bool   `db:"failed"`
	Skipped      bool   `db:"skipped"`
	AnalyzedAt   string `db:"analyzed_at"`
}

func fromRecord(rec *domain.AnalysisRecord) (row, error) {
	cols, err := json.Marshal(rec.Columns)
	if err != nil {
		return row{}, fmt.Errorf("encode columns: %w", err)
	}
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return row{}, fmt.Errorf("encode fields: %w", err)
	}
	return row{
		ID:           rec.ID,
		RunID:        rec.RunID,
		Seq:          rec.Seq,
		Title:        rec.Title,
		URL:          rec.URL,
		Published:    formatTime(rec.Published),
		PublishedRaw: rec.PublishedRaw,
		Domain:       rec.Domain,
		Query:        rec.Query,
		Snippet:      rec.Snippet,
		Body:         rec.Body,
		Columns:      string(cols),
		Fields:       string(fields),
		RawResponse:  rec.RawResponse,
		ParseRoute:   rec.ParseRoute,
		Failed:       rec.Failed,
		Skipped:      rec.Skipped,
		AnalyzedAt:   formatTime(rec.AnalyzedAt),
	}, nil
}

// values returns the row in columns order.
func (r row) values() []any {
	return []any{
		r.ID, r.RunID, r.Seq, r.Title, r.URL, r.Published, r.PublishedRaw, r.Domain,
		r.Query, r.Snippet, r.Body, r.Columns, r.Fields, r.RawResponse, r.ParseRoute,
		r.Failed, r.Skipped, r.AnalyzedAt,
	}
}

func (r row) record() (*domain.AnalysisRecord, error) {
	rec := &domain.AnalysisRecord{
		RunID:       r.RunID,
		RawResponse: r.RawResponse,
		ParseRoute:  r.ParseRoute,
		Failed:      r.Failed,
		Skipped:     r.Skipped,
		AnalyzedAt:  parseTime(r.AnalyzedAt),
	}
	if err := json.Unmarshal([]byte(r.Columns), &rec.Columns); err != nil {
		return nil, fmt.Errorf("decode columns of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s: %w", r.ID, err)
	}
	rec.ID = r.ID
	rec.Seq = r.Seq
	rec.Title = r.Title
	rec.URL = r.URL
	rec.Published = parseTime(r.Published)
	rec.PublishedRaw = r.PublishedRaw
	rec.Domain = r.Domain
	rec.Query = r.Query
	rec.Snippet = r.Snippet
	rec.Body = r.Body
	return rec, nil
}

func toRecords(rows []row) ([]*domain.AnalysisRecord, error) {
	out := make([]*domain.AnalysisRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// timeLayout is fixed-width so stored times compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}
