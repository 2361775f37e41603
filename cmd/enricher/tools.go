package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FranksOps/enricher/internal/config"
	"github.com/FranksOps/enricher/internal/parse"
	"github.com/FranksOps/enricher/internal/pipeline"
	"github.com/FranksOps/enricher/internal/report"
	"github.com/FranksOps/enricher/internal/storage"
)

func newExpandCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expand RUNFILE",
		Short: "Print the search queries RUNFILE expands to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rf, err := config.LoadRunFile(args[0])
			if err != nil {
				return err
			}
			for _, q := range pipeline.ExpandQueries(rf.Search, a.cfg.Search.ExcludePDF) {
				fmt.Fprintln(cmd.OutOrStdout(), q)
			}
			return nil
		},
	}
}

func newParseCmd() *cobra.Command {
	var columns []string
	cmd := &cobra.Command{
		Use:   "parse [RESPONSE]",
		Short: "Parse a model response into columns and print it as JSON",
		Long:  "parse reads RESPONSE, or standard input when it is omitted or \"-\".",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readResponse(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return writeParsed(cmd.OutOrStdout(), raw, columns)
		},
	}
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "output column names, in order")
	_ = cmd.MarkFlagRequired("columns")
	return cmd
}

func readResponse(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(b), nil
}

type parsedOutput struct {
	Route  parse.Route    `json:"route"`
	Fields map[string]any `json:"fields"`
}

func writeParsed(w io.Writer, raw string, columns []string) error {
	res := parse.ParseN(raw, len(columns))
	out := parsedOutput{Route: res.Route, Fields: make(map[string]any, len(columns))}
	for i, col := range columns {
		if f := res.Fields[i]; f.Valid {
			out.Fields[strings.TrimSpace(col)] = f.Value
		} else {
			out.Fields[strings.TrimSpace(col)] = nil
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newReportCmd(a *app) *cobra.Command {
	var (
		runID  string
		format string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(cmd.Context(), cmd.OutOrStdout(), runID, format)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "only summarize this run")
	cmd.Flags().StringVar(&format, "format", "text", "text, json or html")
	return cmd
}

func (a *app) report(ctx context.Context, w io.Writer, runID, format string) error {
	store, err := openBackend(ctx, a.cfg.Storage, nil)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	records, err := store.Query(ctx, storage.Filter{RunID: runID})
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	return writeSummary(w, report.GenerateSummary(records), format)
}
