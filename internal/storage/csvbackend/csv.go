// Package csvbackend stores analysis records as spreadsheet-friendly CSV rows:
// the article columns first, then one column per prompt output column.
package csvbackend

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu      sync.Mutex
	file    *os.File
	columns []string
}

// headers defines the fixed CSV column order; prompt columns follow them.
var headers = []string{
	"id",
	"run_id",
	"seq",
	"title",
	"url",
	"published",
	"published_raw",
	"domain",
	"query",
	"snippet",
	"body",
	"raw_response",
	"parse_route",
	"failed",
	"skipped",
	"analyzed_at",
}

// ErrColumnMismatch is returned when an existing file was written for other
// prompt columns.
var ErrColumnMismatch = errors.New("csv prompt columns do not match existing header")

// New creates a new CSV-backed storage.Backend. columns are the prompt output
// columns written after the fixed ones. When the file already has a header its
// columns are used; a non-nil columns argument must then match them.
func New(filePath string, columns []string) (storage.Backend, error) {
	// Open file for appending, create if it doesn't exist
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}

	if info.Size() > 0 {
		existing, err := readHeader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		if columns != nil && !slices.Equal(columns, existing) {
			f.Close()
			return nil, fmt.Errorf("%w: have %v, want %v", ErrColumnMismatch, existing, columns)
		}
		return &csvBackend{file: f, columns: existing}, nil
	}

	w := csv.NewWriter(f)
	if err := w.Write(append(slices.Clone(headers), columns...)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	return &csvBackend{file: f, columns: slices.Clone(columns)}, nil
}

func readHeader(f *os.File) ([]string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek csv file: %w", err)
	}
	defer func() {
		_, _ = f.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	row, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(row) < len(headers) || !slices.Equal(row[:len(headers)], headers) {
		return nil, fmt.Errorf("%s is not an analysis export", f.Name())
	}
	return row[len(headers):], nil
}

func (b *csvBackend) Save(ctx context.Context, rec *domain.AnalysisRecord) error {
	row := []string{
		rec.ID,
		rec.RunID,
		strconv.Itoa(rec.Seq),
		rec.Title,
		rec.URL,
		formatTime(rec.Published),
		rec.PublishedRaw,
		rec.Domain,
		rec.Query,
		rec.Snippet,
		rec.Body,
		rec.RawResponse,
		rec.ParseRoute,
		strconv.FormatBool(rec.Failed),
		strconv.FormatBool(rec.Skipped),
		formatTime(rec.AnalyzedAt),
	}
	for _, col := range b.columns {
		row = append(row, rec.Value(col).String())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Ensure we're at the end of the file for appending (just in case)
	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek csv file: %w", err)
	}

	w := csv.NewWriter(b.file)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}

	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*domain.AnalysisRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Seek to the beginning of the file to read all entries
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek csv file: %w", err)
	}
	defer func() {
		// Restore pointer to end for writing
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)
	r.FieldsPerRecord = -1
	width := len(headers) + len(b.columns)

	// Read headers
	_, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return []*domain.AnalysisRecord{}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var allFiltered []*domain.AnalysisRecord

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		if len(row) != width {
			continue // skip malformed rows
		}

		rec := decodeRow(row, b.columns)
		if !filter.Match(rec) {
			continue
		}
		allFiltered = append(allFiltered, rec)
	}

	storage.Sort(allFiltered)
	return storage.Page(allFiltered, filter), nil
}

func decodeRow(row, columns []string) *domain.AnalysisRecord {
	seq, _ := strconv.Atoi(row[2])
	failed, _ := strconv.ParseBool(row[13])
	skipped, _ := strconv.ParseBool(row[14])

	rec := &domain.AnalysisRecord{
		RunID:       row[1],
		Columns:     slices.Clone(columns),
		RawResponse: row[11],
		ParseRoute:  row[12],
		Failed:      failed,
		Skipped:     skipped,
		AnalyzedAt:  parseTime(row[15]),
	}
	rec.ID = row[0]
	rec.Seq = seq
	rec.Title = row[3]
	rec.URL = row[4]
	rec.Published = parseTime(row[5])
	rec.PublishedRaw = row[6]
	rec.Domain = row[7]
	rec.Query = row[8]
	rec.Snippet = row[9]
	rec.Body = row[10]

	rec.Fields = make([]domain.Field, len(columns))
	for i, cell := range row[len(headers):] {
		// CSV cannot tell an empty value from a missing one.
		if cell != "" {
			rec.Fields[i] = domain.Str(cell)
		}
	}
	return rec
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
