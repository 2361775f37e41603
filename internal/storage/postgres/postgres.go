// Package postgres stores analysis records in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/storage"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_records (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	published TIMESTAMPTZ,
	published_raw TEXT NOT NULL,
	domain TEXT NOT NULL,
	query TEXT NOT NULL,
	snippet TEXT NOT NULL,
	body TEXT NOT NULL,
	columns JSONB NOT NULL,
	fields JSONB NOT NULL,
	raw_response TEXT NOT NULL,
	parse_route TEXT NOT NULL,
	failed BOOLEAN NOT NULL,
	skipped BOOLEAN NOT NULL,
	analyzed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS analysis_records_run ON analysis_records (run_id, seq);
`

var columns = []string{
	"id", "run_id", "seq", "title", "url", "published", "published_raw", "domain",
	"query", "snippet", "body", "columns", "fields", "raw_response", "parse_route",
	"failed", "skipped", "analyzed_at",
}

// upsert refreshes the analysis outcome when a record is saved again.
const upsert = `ON CONFLICT (id) DO UPDATE SET
	columns = EXCLUDED.columns,
	fields = EXCLUDED.fields,
	raw_response = EXCLUDED.raw_response,
	parse_route = EXCLUDED.parse_route,
	failed = EXCLUDED.failed,
	skipped = EXCLUDED.skipped,
	analyzed_at = EXCLUDED.analyzed_at`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	_, err = pool.Exec(ctx, schema)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, rec *domain.AnalysisRecord) error {
	colsJSON, err := json.Marshal(rec.Columns)
	if err != nil {
		return fmt.Errorf("encode columns: %w", err)
	}
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	var published *time.Time
	if !rec.Published.IsZero() {
		published = &rec.Published
	}

	query, args, err := psql.Insert("analysis_records").
		Columns(columns...).
		Values(
			rec.ID, rec.RunID, rec.Seq, rec.Title, rec.URL, published, rec.PublishedRaw, rec.Domain,
			rec.Query, rec.Snippet, rec.Body, colsJSON, fieldsJSON, rec.RawResponse, rec.ParseRoute,
			rec.Failed, rec.Skipped, rec.AnalyzedAt,
		).
		Suffix(upsert).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := b.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}

	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*domain.AnalysisRecord, error) {
	builder := psql.Select(columns...).From("analysis_records")

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
		builder = builder.Where(sq.GtOrEq{"analyzed_at": *filter.Since})
	}

	builder = builder.OrderBy("run_id", "seq")

	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	var results []*domain.AnalysisRecord
	for rows.Next() {
		r := &domain.AnalysisRecord{}
		var (
			published            *time.Time
			colsJSON, fieldsJSON []byte
		)

		err := rows.Scan(
			&r.ID, &r.RunID, &r.Seq, &r.Title, &r.URL, &published, &r.PublishedRaw, &r.Domain,
			&r.Query, &r.Snippet, &r.Body, &colsJSON, &fieldsJSON, &r.RawResponse, &r.ParseRoute,
			&r.Failed, &r.Skipped, &r.AnalyzedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		if published != nil {
			r.Published = *published
		}
		if err := json.Unmarshal(colsJSON, &r.Columns); err != nil {
			return nil, fmt.Errorf("decode columns of %s: %w", r.ID, err)
		}
		if err := json.Unmarshal(fieldsJSON, &r.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of %s: %w", r.ID, err)
		}

		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
