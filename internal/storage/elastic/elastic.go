// Package elastic indexes analysis records in Elasticsearch so enriched
// articles can be searched alongside their extracted columns.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/storage"
)

// DefaultIndex is used when no index name is configured.
const DefaultIndex = "analysis_records"

// maxWindow is the largest result window Elasticsearch serves by default.
const maxWindow = 10000

// ensure elasticBackend implements storage.Backend
var _ storage.Backend = (*elasticBackend)(nil)

type elasticBackend struct {
	es    *elasticsearch.Client
	index string
}

const mapping = `{
  "mappings": {
    "properties": {
      "id":          {"type": "keyword"},
      "run_id":      {"type": "keyword"},
      "seq":         {"type": "integer"},
      "url":         {"type": "keyword"},
      "domain":      {"type": "keyword"},
      "query":       {"type": "text"},
      "title":       {"type": "text"},
      "body":        {"type": "text"},
      "columns":     {"type": "keyword"},
      "fields":      {"type": "text"},
      "parse_route": {"type": "keyword"},
      "failed":      {"type": "boolean"},
      "skipped":     {"type": "boolean"},
      "published":   {"type": "date"},
      "analyzed_at": {"type": "date"}
    }
  }
}`

// New connects to the cluster at addresses and ensures index exists.
func New(ctx context.Context, addresses []string, index string) (storage.Backend, error) {
	if index == "" {
		index = DefaultIndex
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	res, err := es.Info(es.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get Elasticsearch info: %w", err)
	}
	res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch info: %s", res.String())
	}

	res, err = es.Indices.Create(index,
		es.Indices.Create.WithContext(ctx),
		es.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return nil, fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if !bytes.Contains(body, []byte("resource_already_exists_exception")) {
			return nil, fmt.Errorf("create index %s: %s", index, body)
		}
	}

	return &elasticBackend{es: es, index: index}, nil
}

// Save indexes rec under its ID, so saving again replaces the document.
func (b *elasticBackend) Save(ctx context.Context, rec *domain.AnalysisRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	res, err := b.es.Index(b.index, bytes.NewReader(body),
		b.es.Index.WithContext(ctx),
		b.es.Index.WithDocumentID(rec.ID),
		b.es.Index.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("index record %s: %w", rec.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch returned error: %s", res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source domain.AnalysisRecord `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (b *elasticBackend) Query(ctx context.Context, filter storage.Filter) ([]*domain.AnalysisRecord, error) {
	body, err := json.Marshal(searchBody(filter))
	if err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}

	size := filter.Limit
	if size <= 0 || size > maxWindow-filter.Offset {
		size = max(maxWindow-filter.Offset, 0)
	}

	res, err := b.es.Search(
		b.es.Search.WithContext(ctx),
		b.es.Search.WithIndex(b.index),
		b.es.Search.WithBody(bytes.NewReader(body)),
		b.es.Search.WithFrom(filter.Offset),
		b.es.Search.WithSize(size),
	)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned error: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]*domain.AnalysisRecord, 0, len(sr.Hits.Hits))
	for i := range sr.Hits.Hits {
		out = append(out, &sr.Hits.Hits[i].Source)
	}
	return out, nil
}

// searchBody translates a Filter into a bool query sorted by run and sequence.
func searchBody(filter storage.Filter) map[string]any {
	var must []map[string]any
	if filter.RunID != "" {
		must = append(must, map[string]any{"term": map[string]any{"run_id": filter.RunID}})
	}
	if filter.Domain != "" {
		must = append(must, map[string]any{"term": map[string]any{"domain": filter.Domain}})
	}
	if filter.Failed != nil {
		must = append(must, map[string]any{"term": map[string]any{"failed": *filter.Failed}})
	}
	if filter.Since != nil {
		must = append(must, map[string]any{"range": map[string]any{
			"analyzed_at": map[string]any{"gte": filter.Since.UTC().Format(time.RFC3339Nano)},
		}})
	}

	query := map[string]any{"match_all": map[string]any{}}
	if len(must) > 0 {
		query = map[string]any{"bool": map[string]any{"filter": must}}
	}
	return map[string]any{
		"query": query,
		"sort": []map[string]any{
			{"run_id": "asc"},
			{"seq": "asc"},
		},
	}
}

func (b *elasticBackend) Close() error {
	return nil
}
