// Package parse turns free-form model answers into fixed-width records.
//
// Whatever the model returns, Parse yields exactly one field per column.
// Answers are read as JSON first, then as a loosely quoted literal list, and
// anything else is kept verbatim in the first column with ErrMarker in the
// rest.
package parse

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/metrics"
)

// ErrMarker fills the columns after the first when an answer is unreadable.
const ErrMarker = "Err"

// Route records which strategy produced a result.
type Route string

const (
	RouteEmpty    Route = "empty"
	RouteJSON     Route = "json"
	RouteLiteral  Route = "literal"
	RouteFallback Route = "fallback"
)

// Result is a parsed answer.
type Result struct {
	Fields []domain.Field
	Route  Route
}

// Parse returns len(columns) fields for raw.
func Parse(raw string, columns []string) []domain.Field {
	return ParseN(raw, len(columns)).Fields
}

// ParseN parses raw into exactly n fields. n <= 0 yields no fields.
func ParseN(raw string, n int) Result {
	if n <= 0 {
		return Result{Fields: []domain.Field{}, Route: RouteEmpty}
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{Fields: make([]domain.Field, n), Route: RouteEmpty}
	}

	text := StripFences(trimmed)
	candidates := []string{text}
	if located := locate(text); located != "" && located != text {
		candidates = []string{located, text}
	}

	for _, c := range candidates {
		if values, err := decodeJSON(c); err == nil {
			return Result{Fields: fit(values, n), Route: RouteJSON}
		}
	}
	for _, c := range candidates {
		if values, err := decodeLiteral(c); err == nil {
			return Result{Fields: fit(values, n), Route: RouteLiteral}
		}
	}

	metrics.ParseFallbacksTotal.Inc()
	fields := make([]domain.Field, n)
	fields[0] = domain.Str(trimmed)
	for i := 1; i < n; i++ {
		fields[i] = domain.Str(ErrMarker)
	}
	return Result{Fields: fields, Route: RouteFallback}
}

var fenceRe = regexp.MustCompile("```[A-Za-z0-9_+-]*")

// StripFences removes markdown code fence markers, keeping their content.
func StripFences(s string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(s, ""))
}

// locate returns the span from the first opening bracket or brace to the
// last matching closer, or "" when there is none.
func locate(s string) string {
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return ""
	}
	closer := "]"
	if s[start] == '{' {
		closer = "}"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}

// fit stringifies values and pads with nulls or truncates to n.
func fit(values []any, n int) []domain.Field {
	fields := make([]domain.Field, n)
	for i := 0; i < n && i < len(values); i++ {
		fields[i] = field(values[i])
	}
	return fields
}

func field(v any) domain.Field {
	if v == nil {
		return domain.Null
	}
	return domain.Str(stringify(v))
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if e == nil {
				continue
			}
			parts = append(parts, stringify(e))
		}
		return strings.Join(parts, ", ")
	case *object:
		return t.compact()
	default:
		return ""
	}
}
