package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/storage"
)

// fakeCluster answers the handful of endpoints the backend uses.
type fakeCluster struct {
	mu      sync.Mutex
	docs    map[string][]byte
	created bool
	search  map[string]any
	from    string
	size    string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/":
		fmt.Fprint(w, `{"name":"fake","cluster_name":"test","version":{"number":"8.10.0"},"tagline":"You Know, for Search"}`)
	case r.Method == http.MethodPut && r.URL.Path == "/records":
		if f.created {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"type":"resource_already_exists_exception"},"status":400}`)
			return
		}
		f.created = true
		fmt.Fprint(w, `{"acknowledged":true,"index":"records"}`)
	case (r.Method == http.MethodPut || r.Method == http.MethodPost) && strings.HasPrefix(r.URL.Path, "/records/_doc/"):
		body, _ := io.ReadAll(r.Body)
		f.docs[strings.TrimPrefix(r.URL.Path, "/records/_doc/")] = body
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"result":"created"}`)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_ = json.NewDecoder(r.Body).Decode(&f.search)
		f.from = r.URL.Query().Get("from")
		f.size = r.URL.Query().Get("size")
		var hits []string
		for _, d := range f.docs {
			hits = append(hits, `{"_source":`+string(d)+`}`)
		}
		fmt.Fprintf(w, `{"hits":{"hits":[%s]}}`, strings.Join(hits, ","))
	default:
		http.NotFound(w, r)
	}
}

func sample(id string) *domain.AnalysisRecord {
	rec := &domain.AnalysisRecord{
		RunID:       "run-a",
		Columns:     []string{"Company", "Score"},
		RawResponse: `["Acme","3"]`,
		Fields:      []domain.Field{domain.Str("Acme"), domain.Null},
		ParseRoute:  "json",
		AnalyzedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	rec.ID = id
	rec.URL = "https://example.com/" + id
	rec.Domain = "example.com"
	return rec
}

func TestElasticBackend_Fake(t *testing.T) {
	cluster := &fakeCluster{docs: map[string][]byte{}}
	srv := httptest.NewServer(cluster)
	defer srv.Close()

	ctx := context.Background()
	b, err := New(ctx, []string{srv.URL}, "records")
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	defer b.Close()

	// A second backend on an existing index is fine.
	if _, err := New(ctx, []string{srv.URL}, "records"); err != nil {
		t.Fatalf("Existing index should be accepted: %v", err)
	}

	if err := b.Save(ctx, sample("e1")); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if _, ok := cluster.docs["e1"]; !ok {
		t.Fatalf("document not indexed under its id: %v", cluster.docs)
	}

	boolTrue := true
	results, err := b.Query(ctx, storage.Filter{RunID: "run-a", Failed: &boolTrue, Offset: 5, Limit: 20})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(results) != 1 || results[0].ID != "e1" || results[0].Value("Company").String() != "Acme" {
		t.Fatalf("Unexpected results %v", results)
	}
	if results[0].Fields[1].Valid {
		t.Errorf("Expected null second field")
	}

	if cluster.from != "5" || cluster.size != "20" {
		t.Errorf("Expected from=5 size=20, got %s/%s", cluster.from, cluster.size)
	}
	q, _ := json.Marshal(cluster.search["query"])
	if !strings.Contains(string(q), `"run_id":"run-a"`) || !strings.Contains(string(q), `"failed":true`) {
		t.Errorf("Unexpected query %s", q)
	}
}

func TestSearchBody(t *testing.T) {
	all := searchBody(storage.Filter{})
	if _, ok := all["query"].(map[string]any)["match_all"]; !ok {
		t.Fatalf("expected match_all, got %v", all["query"])
	}

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	body, _ := json.Marshal(searchBody(storage.Filter{Domain: "a.com", Since: &since}))
	s := string(body)
	if !strings.Contains(s, `"domain":"a.com"`) || !strings.Contains(s, `"gte":"2026-03-01T00:00:00Z"`) {
		t.Fatalf("unexpected body %s", s)
	}
}

func TestElasticBackend_Live(t *testing.T) {
	url := os.Getenv("ENRICHER_TEST_ES_URL")
	if url == "" {
		t.Skip("Skipping Elasticsearch backend test: ENRICHER_TEST_ES_URL not set")
	}

	ctx := context.Background()
	b, err := New(ctx, []string{url}, "enricher_test")
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	defer b.Close()

	rec := sample(uuid.NewString())
	rec.RunID = uuid.NewString()
	if err := b.Save(ctx, rec); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	results, err := b.Query(ctx, storage.Filter{RunID: rec.RunID})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(results) != 1 || results[0].ID != rec.ID {
		t.Fatalf("Expected %s, got %v", rec.ID, results)
	}
}
