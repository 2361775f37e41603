// Package query turns keyword/include/exclude lists into search query strings.
package query

import "strings"

// Expand builds one query per keyword phrase and include term, phrases outer and
// includes inner, both in input order. Include terms are quoted; exclude terms are
// appended verbatim, space separated. With no include terms each phrase yields a
// single query.
func Expand(phrases, include, exclude []string) []string {
	if len(phrases) == 0 {
		return nil
	}

	suffix := ""
	if ex := strings.Join(exclude, " "); ex != "" {
		suffix = " " + ex
	}

	out := make([]string, 0, len(phrases)*max(1, len(include)))
	for _, phrase := range phrases {
		if len(include) == 0 {
			out = append(out, phrase+suffix)
			continue
		}
		for _, inc := range include {
			out = append(out, phrase+` "`+inc+`"`+suffix)
		}
	}
	return out
}

// SplitLines splits a multi-line text block into trimmed, non-empty entries.
func SplitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
