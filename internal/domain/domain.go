// Package domain holds the records that flow between pipeline stages.
package domain

import (
	"encoding/json"
	"time"
)

// Stage identifies a pipeline phase for progress reporting and run state.
type Stage string

const (
	StageSearch  Stage = "search"
	StageClean   Stage = "clean"
	StageAnalyze Stage = "analyze"
)

// RunStatus is the terminal state of a PipelineRun.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// SearchQuerySpec describes what to search for. It must not change once a run starts.
type SearchQuerySpec struct {
	Keywords       []string `yaml:"keywords" json:"keywords"`
	Include        []string `yaml:"include" json:"include"`
	Exclude        []string `yaml:"exclude" json:"exclude"`
	DaysBack       int      `yaml:"days_back" json:"days_back"`
	ResultsPerPage int      `yaml:"results_per_page" json:"results_per_page"`
	Pages          int      `yaml:"pages" json:"pages"`
}

// MaxHits is the per-query cap on hits.
func (s SearchQuerySpec) MaxHits() int {
	return s.ResultsPerPage * s.Pages
}

// RawSearchHit is one search result entry as returned by the search API.
type RawSearchHit struct {
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	PublishedRaw string    `json:"published_raw"`
	Published    time.Time `json:"published,omitzero"`
	Domain       string    `json:"domain"`
	Snippet      string    `json:"snippet"`
	// Query is the expanded query string that produced the hit.
	Query string `json:"query"`
	// Seq is the discovery order across the whole run.
	Seq int `json:"seq"`
}

// ArticleRecord is a hit whose page was fetched and whose text was extracted.
type ArticleRecord struct {
	RawSearchHit
	ID   string `json:"id"`
	Body string `json:"body"`
}

// SourceQuery returns the query that led to this article.
func (a ArticleRecord) SourceQuery() string {
	return a.Query
}

// CleanedArticle is an ArticleRecord that survived deduplication and quality
// filtering, with whitespace-normalized title and body.
type CleanedArticle struct {
	ArticleRecord
}

// PromptSpec is the instruction text sent as the system message plus the
// ordered output columns the model is asked to fill.
type PromptSpec struct {
	Name    string   `yaml:"name" json:"name"`
	Body    string   `yaml:"body" json:"body"`
	Columns []string `yaml:"columns" json:"columns"`
}

// Field is one parsed column value. Null fields carry no value.
type Field struct {
	Value string
	Valid bool
}

// Str returns a non-null Field.
func Str(s string) Field { return Field{Value: s, Valid: true} }

// Null is the empty field.
var Null = Field{}

// String returns the value, or "" when null.
func (f Field) String() string { return f.Value }

func (f Field) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

func (f *Field) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Null
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = Str(s)
	return nil
}

// Strings renders fields as plain strings, nulls becoming "".
func Strings(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Value
	}
	return out
}

// AnalysisRecord is a cleaned article with the model's answer. len(Fields) always
// equals len(Columns).
type AnalysisRecord struct {
	CleanedArticle
	RunID       string   `json:"run_id"`
	Columns     []string `json:"columns"`
	RawResponse string   `json:"raw_response"`
	Fields      []Field  `json:"fields"`
	// ParseRoute names the parser strategy that produced Fields.
	ParseRoute string `json:"parse_route"`
	// Failed is set when the model call failed and RawResponse holds the error.
	Failed bool `json:"failed"`
	// Skipped is set when the article was never sent to the model.
	Skipped    bool      `json:"skipped,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Value returns the field for column name, or Null if the column is unknown.
func (r AnalysisRecord) Value(column string) Field {
	for i, c := range r.Columns {
		if c == column && i < len(r.Fields) {
			return r.Fields[i]
		}
	}
	return Null
}

// PipelineRun is the externally visible state of one run.
type PipelineRun struct {
	ID        string    `json:"id"`
	Stage     Stage     `json:"stage"`
	Progress  int       `json:"progress"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}
