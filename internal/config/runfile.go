package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/query"
)

const (
	DefaultResultsPerPage = 10
	DefaultPages          = 1
)

// RunFile is the input of one run: what to search for and how to analyze it.
type RunFile struct {
	Search domain.SearchQuerySpec
	Prompt domain.PromptSpec
}

// lines decodes either a YAML sequence or a multi-line text block.
type lines []string

func (l *lines) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = query.SplitLines(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, s := range items {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a list or a text block", node.Line)
	}
}

// columns decodes either a YAML sequence or a comma/newline separated string.
type columns []string

func (c *columns) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var out []string
		for _, part := range strings.FieldsFunc(node.Value, func(r rune) bool { return r == ',' || r == '\n' }) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*c = out
		return nil
	}
	var l lines
	if err := l.UnmarshalYAML(node); err != nil {
		return err
	}
	*c = columns(l)
	return nil
}

type runFileYAML struct {
	Search struct {
		Keywords       lines `yaml:"keywords"`
		Include        lines `yaml:"include"`
		Exclude        lines `yaml:"exclude"`
		DaysBack       int   `yaml:"days_back"`
		ResultsPerPage int   `yaml:"results_per_page"`
		Pages          int   `yaml:"pages"`
	} `yaml:"search"`
	Prompt struct {
		Name    string  `yaml:"name"`
		Body    string  `yaml:"body"`
		File    string  `yaml:"file"`
		Columns columns `yaml:"columns"`
	} `yaml:"prompt"`
}

// LoadRunFile reads a run file from path. A prompt may be given inline as
// body or as a file path relative to the working directory.
func LoadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}
	rf, err := ParseRunFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("run file %s: %w", path, err)
	}
	return rf, nil
}

// ParseRunFile decodes a run file. Unknown keys are rejected.
func ParseRunFile(r io.Reader) (*RunFile, error) {
	var raw runFileYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	body := raw.Prompt.Body
	if body == "" && raw.Prompt.File != "" {
		b, err := os.ReadFile(raw.Prompt.File)
		if err != nil {
			return nil, fmt.Errorf("read prompt: %w", err)
		}
		body = string(b)
	}

	rf := &RunFile{
		Search: domain.SearchQuerySpec{
			Keywords:       raw.Search.Keywords,
			Include:        raw.Search.Include,
			Exclude:        raw.Search.Exclude,
			DaysBack:       raw.Search.DaysBack,
			ResultsPerPage: raw.Search.ResultsPerPage,
			Pages:          raw.Search.Pages,
		},
		Prompt: domain.PromptSpec{
			Name:    raw.Prompt.Name,
			Body:    body,
			Columns: raw.Prompt.Columns,
		},
	}
	if rf.Search.ResultsPerPage <= 0 {
		rf.Search.ResultsPerPage = DefaultResultsPerPage
	}
	if rf.Search.Pages <= 0 {
		rf.Search.Pages = DefaultPages
	}
	if rf.Search.DaysBack < 0 {
		return nil, fmt.Errorf("days_back must not be negative, got %d", rf.Search.DaysBack)
	}
	return rf, nil
}
