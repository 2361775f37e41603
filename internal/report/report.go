// Package report summarizes enrichment runs for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"text/template"
	"time"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/parse"
)

// Summary contains per-stage counts for one run.
type Summary struct {
	RunID  string           `json:"run_id"`
	Status domain.RunStatus `json:"status,omitempty"`
	Error  string           `json:"error,omitempty"`

	Queries  int            `json:"queries"`
	Hits     int            `json:"hits"`
	Fetched  int            `json:"fetched"`
	Rejected map[string]int `json:"rejected"`
	Cleaned  int            `json:"cleaned"`
	Dropped  map[string]int `json:"dropped"`

	Records        int `json:"records"`
	Analyzed       int `json:"analyzed"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
	ParseFallbacks int `json:"parse_fallbacks"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}

// NewSummary returns a Summary with its maps allocated.
func NewSummary(runID string) Summary {
	return Summary{
		RunID:    runID,
		Rejected: make(map[string]int),
		Dropped:  make(map[string]int),
	}
}

// Tally counts the analysis outcome of records into s.
func (s *Summary) Tally(records []*domain.AnalysisRecord) {
	for _, r := range records {
		s.Records++
		switch {
		case r.Failed:
			s.Failed++
		case r.Skipped:
			s.Skipped++
		default:
			s.Analyzed++
		}
		if r.ParseRoute == string(parse.RouteFallback) {
			s.ParseFallbacks++
		}
	}
}

// GenerateSummary rebuilds what can be known about a run from its stored
// records. Search, fetch and clean counts are not stored and stay zero, apart
// from Cleaned which equals the number of records.
func GenerateSummary(records []*domain.AnalysisRecord) Summary {
	s := NewSummary("")
	if len(records) == 0 {
		return s
	}

	s.RunID = records[0].RunID
	s.StartTime = records[0].AnalyzedAt
	s.EndTime = records[0].AnalyzedAt

	for _, r := range records {
		if r.RunID != s.RunID {
			s.RunID = ""
		}
		if r.AnalyzedAt.Before(s.StartTime) {
			s.StartTime = r.AnalyzedAt
		}
		if r.AnalyzedAt.After(s.EndTime) {
			s.EndTime = r.AnalyzedAt
		}
	}
	s.Tally(records)
	s.Cleaned = s.Records

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Enrichment Run Summary
----------------------
Run:           {{if .RunID}}{{.RunID}}{{else}}(mixed){{end}}{{if .Status}} [{{.Status}}]{{end}}
{{- if .Error}}
Error:         {{.Error}}
{{- end}}
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}

Queries:       {{.Queries}}
Hits:          {{.Hits}}
Fetched:       {{.Fetched}}
Cleaned:       {{.Cleaned}}
Analyzed:      {{.Analyzed}} of {{.Records}} records
Failed:        {{.Failed}}
Skipped:       {{.Skipped}}
Unparsed:      {{.ParseFallbacks}}

Rejected Fetches:
{{- range $reason, $count := .Rejected}}
  {{$reason}}: {{$count}}
{{- else}}
  None
{{- end}}

Cleaner Drops:
{{- range $reason, $count := .Dropped}}
  {{$reason}}: {{$count}}
{{- else}}
  None
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Enrichment Run Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Enrichment Run Report</h1>
  <p><strong>Run:</strong> {{.RunID}} {{.Status}}</p>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>
  {{- if .Error}}
  <p style="color: red;"><strong>Error:</strong> {{.Error}}</p>
  {{- end}}

  <div class="stat-card">
    <div>Hits</div>
    <div class="stat-val">{{.Hits}}</div>
  </div>
  <div class="stat-card">
    <div>Fetched</div>
    <div class="stat-val">{{.Fetched}}</div>
  </div>
  <div class="stat-card">
    <div>Cleaned</div>
    <div class="stat-val">{{.Cleaned}}</div>
  </div>
  <div class="stat-card">
    <div>Analyzed</div>
    <div class="stat-val">{{.Analyzed}}</div>
  </div>
  <div class="stat-card">
    <div>Failed</div>
    <div class="stat-val" style="color: {{if gt .Failed 0}}red{{else}}green{{end}};">{{.Failed}}</div>
  </div>

  <h3>Rejected Fetches</h3>
  <table>
    <tr><th>Reason</th><th>Count</th></tr>
    {{- range $reason, $count := .Rejected}}
    <tr><td>{{$reason}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Cleaner Drops</h3>
  <table>
    <tr><th>Reason</th><th>Count</th></tr>
    {{- range $reason, $count := .Dropped}}
    <tr><td>{{$reason}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := htmltemplate.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}

	return nil
}
