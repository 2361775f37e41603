//go:build integration

package test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/enricher/internal/clean"
	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/fingerprint"
	"github.com/FranksOps/enricher/internal/llm"
	"github.com/FranksOps/enricher/internal/pipeline"
	"github.com/FranksOps/enricher/internal/retry"
	"github.com/FranksOps/enricher/internal/scraper"
	"github.com/FranksOps/enricher/internal/search"
	"github.com/FranksOps/enricher/internal/storage"
	"github.com/FranksOps/enricher/internal/storage/sqlite"
	"github.com/FranksOps/enricher/pkg/proxy"
	"github.com/FranksOps/enricher/pkg/useragent"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// articlePage renders an HTML article whose words are unique to stem.
func articlePage(stem string) string {
	words := make([]string, 100)
	for i := range words {
		words[i] = fmt.Sprintf("%s%d", strings.Repeat(stem, 3), i)
	}
	return fmt.Sprintf(`<html><head><title>%s story</title></head><body>
<nav>Home | World | Business</nav>
<article><h1>%s story</h1><p>%s</p><p>%s</p></article>
<footer>Copyright</footer></body></html>`, stem, stem, strings.Join(words[:50], " "), strings.Join(words[50:], " "))
}

func newFetcher(t *testing.T, cfg scraper.FetchConfig) *scraper.Fetcher {
	t.Helper()
	cfg.Fingerprint = fingerprint.ProfileGo
	cfg.Timeout = 5 * time.Second
	if cfg.Attempts == 0 {
		cfg.Attempts = 2
	}
	cfg.Backoff = retry.Linear{Step: time.Millisecond}
	f, err := scraper.NewFetcher(cfg, discard())
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}
	return f
}

func TestIntegration_FullRun(t *testing.T) {
	// 1. Article sites: four usable pages, one bot challenge.
	mux := http.NewServeMux()
	for path, stem := range map[string]string{"/a1": "k", "/a2": "m", "/b2": "q", "/shared": "z"} {
		page := articlePage(stem)
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, page)
		})
	}
	mux.HandleFunc("/b1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<html><body>cf-browser-verification</body></html>`)
	})
	sites := httptest.NewServer(mux)
	defer sites.Close()

	// 2. Search API answering each query with three hits.
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("query")
		paths := []string{"/a1", "/a2", "/shared?utm=a"}
		if strings.HasPrefix(q, "acme layoffs") {
			paths = []string{"/b1", "/b2", "/shared?utm=b"}
		}
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="utf-8"?><yandexsearch><response><results><grouping>`)
		for i, p := range paths {
			fmt.Fprintf(&b, `<group><doc><url>%s</url><title>%s %d</title><pubDate>10 Jan 2026</pubDate><snippet>s</snippet></doc></group>`,
				strings.ReplaceAll(sites.URL+p, "&", "&amp;"), q, i)
		}
		b.WriteString(`</grouping></results></response></yandexsearch>`)
		fmt.Fprint(w, b.String())
	}))
	defer api.Close()

	searcher, err := search.New(search.Config{Endpoint: api.URL, User: "u", Key: "k", Attempts: 1}, discard())
	if err != nil {
		t.Fatal(err)
	}
	collector := scraper.NewCollector(scraper.CollectConfig{Concurrency: 3}, newFetcher(t, scraper.FetchConfig{}), discard())

	// 3. A model that rate-limits the first key once.
	var calls atomic.Int32
	factory := func(key string) (llm.Completer, error) {
		return llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (string, error) {
			if calls.Add(1) == 1 && key == "k1" {
				return "", llm.ErrRateLimited
			}
			return `["Acme","3","note"]`, nil
		}), nil
	}
	analyzer := llm.NewAnalyzer(factory, llm.NewKeyPool([]string{"k1", "k2"}),
		llm.AnalyzerConfig{RateLimit: 100, RatePeriod: time.Second, MaxRetries: 2, RetryDelay: time.Millisecond, Timeout: 5 * time.Second}, discard())

	store, err := sqlite.New(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	p, err := pipeline.New(pipeline.Options{
		Searcher:   searcher,
		Fetcher:    collector,
		Cleaner:    clean.New(clean.DefaultConfig(), discard()),
		Analyzer:   analyzer,
		Store:      store,
		ExcludePDF: true,
	}, discard())
	if err != nil {
		t.Fatal(err)
	}

	spec := domain.SearchQuerySpec{
		Keywords:       []string{"acme funding", "acme layoffs"},
		Include:        []string{"series b"},
		ResultsPerPage: 10,
		Pages:          1,
	}
	prompt := domain.PromptSpec{Name: "p", Body: "Return company, score and note.", Columns: []string{"Company", "Score", "Note"}}

	// 4. Execute.
	res, err := p.Run(context.Background(), "it-run", spec, prompt)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// 5. Verify.
	s := res.Summary
	if s.Hits != 6 || s.Fetched != 5 || s.Cleaned != 4 || s.Records != 4 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if s.Rejected[string(scraper.ReasonChallenge)] != 1 {
		t.Errorf("expected one bot challenge rejection, got %v", s.Rejected)
	}
	if s.Dropped[clean.DropExact] != 1 {
		t.Errorf("expected one exact duplicate, got %v", s.Dropped)
	}

	stored, err := store.Query(context.Background(), storage.Filter{RunID: "it-run"})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 4 {
		t.Fatalf("expected 4 stored records, got %d", len(stored))
	}
	for _, rec := range stored {
		if strings.Join(domain.Strings(rec.Fields), "|") != "Acme|3|note" || rec.Failed {
			t.Errorf("unexpected record %s: %v failed=%v", rec.URL, rec.Fields, rec.Failed)
		}
		if rec.Body == "" || rec.Title == "" {
			t.Errorf("unexpected body for %s: %q", rec.URL, rec.Body)
		}
	}
}

func TestIntegration_ProxyRotation(t *testing.T) {
	var proxyHits int32
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&proxyHits, 1)
		if ua := r.Header.Get("User-Agent"); ua != "IntegrationTest-UA" {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articlePage("p"))
	}))
	defer proxySrv.Close()

	pool := proxy.NewPool(proxy.Config{})
	if err := pool.Add(proxySrv.URL); err != nil {
		t.Fatal(err)
	}
	fetcher := newFetcher(t, scraper.FetchConfig{
		ProxyPool: pool,
		UAPool:    useragent.NewPool([]string{"IntegrationTest-UA"}),
	})
	collector := scraper.NewCollector(scraper.CollectConfig{Concurrency: 1}, fetcher, discard())

	articles, rejected, err := collector.FetchAll(context.Background(), []domain.RawSearchHit{{URL: "http://example.com/testproxy", Seq: 0}}, nil)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if atomic.LoadInt32(&proxyHits) == 0 {
		t.Errorf("expected proxy server to be hit, got 0")
	}
	if len(articles) != 1 || len(rejected) != 0 {
		t.Fatalf("expected 1 article, got %d (rejected %v)", len(articles), rejected)
	}
	if !strings.Contains(articles[0].Body, "ppp0") {
		t.Errorf("expected proxied body, got %q", articles[0].Body)
	}
}

func TestIntegration_CookieJarPersistence(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "123456", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articlePage("l"))
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("session_id")
		if err != nil || cookie.Value != "123456" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articlePage("x"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher := newFetcher(t, scraper.FetchConfig{UseCookieJar: true, Attempts: 1})
	ctx := context.Background()

	if _, err := fetcher.Fetch(ctx, srv.URL+"/login"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	page, err := fetcher.Fetch(ctx, srv.URL+"/protected")
	if err != nil {
		t.Fatalf("expected cookie jar to authorize /protected: %v", err)
	}
	if page.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", page.StatusCode)
	}
}
