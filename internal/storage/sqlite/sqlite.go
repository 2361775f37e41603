// Package sqlite stores analysis records in a SQLite database.
package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/storage"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS analysis_records (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	published TEXT NOT NULL,
	published_raw TEXT NOT NULL,
	domain TEXT NOT NULL,
	query TEXT NOT NULL,
	snippet TEXT NOT NULL,
	body TEXT NOT NULL,
	columns TEXT NOT NULL,
	fields TEXT NOT NULL,
	raw_response TEXT NOT NULL,
	parse_route TEXT NOT NULL,
	failed BOOLEAN NOT NULL,
	skipped BOOLEAN NOT NULL,
	analyzed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS analysis_records_run ON analysis_records (run_id, seq);
`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

// Save inserts rec, replacing a stored record with the same ID.
func (b *sqliteBackend) Save(ctx context.Context, rec *domain.AnalysisRecord) error {
	r, err := fromRecord(rec)
	if err != nil {
		return err
	}

	query, args, err := sq.Insert("analysis_records").
		Options("OR REPLACE").
		Columns(columns...).
		Values(r.values()...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}

	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*domain.AnalysisRecord, error) {
	builder := sq.Select(columns...).From("analysis_records")

	if filter.RunID != "" {
		builder = builder.Where(sq.Eq{"run_id": filter.RunID})
	}
	if filter.Domain != "" {
		builder = builder.Where(sq.Eq{"domain": filter.Domain})
	}
	if filter.Failed != nil {
		builder = builder.Where(sq.Eq{"failed": *filter.Failed})
	}
	if filter.Since != nil {
		builder = builder.Where(sq.GtOrEq{"analyzed_at": formatTime(*filter.Since)})
	}

	builder = builder.OrderBy("run_id", "seq")

	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			// SQLite only accepts OFFSET after a LIMIT clause.
			builder = builder.Limit(uint64(1<<63 - 1))
		}
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []row
	if err := b.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}

	return toRecords(rows)
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
