// Package storage persists analysis records and reads them back for export,
// reporting and resumed analysis.
package storage

import (
	"context"
	"sort"
	"time"

	"github.com/FranksOps/enricher/internal/domain"
)

// Filter allows querying for specific records. Zero fields match everything.
type Filter struct {
	RunID  string
	Domain string
	Failed *bool
	Since  *time.Time
	Limit  int
	Offset int
}

// Match reports whether r satisfies every predicate of f. Limit and Offset
// are not predicates; see Page.
func (f Filter) Match(r *domain.AnalysisRecord) bool {
	if f.RunID != "" && r.RunID != f.RunID {
		return false
	}
	if f.Domain != "" && r.Domain != f.Domain {
		return false
	}
	if f.Failed != nil && r.Failed != *f.Failed {
		return false
	}
	if f.Since != nil && r.AnalyzedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Backend defines the interface for storing and querying analysis records.
// Query returns records ordered by run and discovery sequence.
type Backend interface {
	Save(ctx context.Context, rec *domain.AnalysisRecord) error
	Query(ctx context.Context, filter Filter) ([]*domain.AnalysisRecord, error)
	Close() error
}

// Sort orders records by run ID, then discovery sequence.
func Sort(recs []*domain.AnalysisRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].RunID != recs[j].RunID {
			return recs[i].RunID < recs[j].RunID
		}
		return recs[i].Seq < recs[j].Seq
	})
}

// Page applies the filter's Offset and Limit to already filtered records.
func Page(recs []*domain.AnalysisRecord, f Filter) []*domain.AnalysisRecord {
	if f.Offset > 0 {
		if f.Offset >= len(recs) {
			return []*domain.AnalysisRecord{}
		}
		recs = recs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(recs) {
		recs = recs[:f.Limit]
	}
	return recs
}

// SaveAll saves records in order, stopping at the first error.
func SaveAll(ctx context.Context, b Backend, recs []*domain.AnalysisRecord) error {
	for _, r := range recs {
		if err := b.Save(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
