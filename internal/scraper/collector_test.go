package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/FranksOps/enricher/internal/domain"
)

func TestCollector_FetchAll(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			http.NotFound(w, r)
		case "/thin":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, articleHTML("Thin", "Too short to matter."))
		default:
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, articleHTML("Story "+r.URL.Path, longParagraph))
		}
	}))
	defer ts.Close()

	hits := []domain.RawSearchHit{
		{URL: ts.URL + "/a", Seq: 0, Query: "q1"},
		{URL: ts.URL + "/gone", Seq: 1, Query: "q1"},
		{URL: ts.URL + "/b", Title: "Search title", Seq: 2, Query: "q2"},
		{URL: ts.URL + "/thin", Seq: 3, Query: "q2"},
		{URL: "ftp://example.com/file", Seq: 4, Query: "q2"},
	}

	fetcher := newTestFetcher(t, FetchConfig{MinHTMLBytes: 100})
	c := NewCollector(CollectConfig{Concurrency: 3, MinTextChars: 100}, fetcher, nil)

	var progressed atomic.Int32
	articles, rejected, err := c.FetchAll(context.Background(), hits, func(done, total int) {
		progressed.Add(1)
		if total != len(hits) {
			t.Errorf("total = %d", total)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %d (rejected %v)", len(articles), rejected)
	}
	if articles[0].Seq != 0 || articles[1].Seq != 2 {
		t.Errorf("articles not in discovery order: %d, %d", articles[0].Seq, articles[1].Seq)
	}
	if articles[0].Title != "Story /a" {
		t.Errorf("missing title should come from the page, got %q", articles[0].Title)
	}
	if articles[1].Title != "Search title" {
		t.Errorf("search title should win, got %q", articles[1].Title)
	}
	if articles[1].SourceQuery() != "q2" || articles[0].ID == "" {
		t.Errorf("unexpected record %+v", articles[1])
	}
	if rejected[ReasonStatus] != 1 || rejected[ReasonShortText] != 1 || rejected[ReasonInvalidURL] != 1 {
		t.Errorf("unexpected rejection tally %v", rejected)
	}
	if progressed.Load() != int32(len(hits)) {
		t.Errorf("progress called %d times", progressed.Load())
	}
}

func TestCollector_Stopped(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, articleHTML("x", longParagraph))
	}))
	defer ts.Close()

	c := NewCollector(CollectConfig{Concurrency: 1}, newTestFetcher(t, FetchConfig{}), nil)
	c.Stopped = func() bool { return true }

	articles, _, err := c.FetchAll(context.Background(), []domain.RawSearchHit{{URL: ts.URL}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 0 || calls.Load() != 0 {
		t.Errorf("stopped collector fetched %d pages", calls.Load())
	}
}

func TestCollector_RespectRobots(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		fmt.Fprint(w, articleHTML("x", longParagraph))
	}))
	defer ts.Close()

	c := NewCollector(CollectConfig{RespectRobots: true, MinTextChars: 100}, newTestFetcher(t, FetchConfig{}), nil)
	articles, rejected, err := c.FetchAll(context.Background(), []domain.RawSearchHit{
		{URL: ts.URL + "/private/a"},
		{URL: ts.URL + "/public", Seq: 1},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 1 || rejected[ReasonRobots] != 1 {
		t.Errorf("articles=%d rejected=%v", len(articles), rejected)
	}
}
