package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRobotsTxtAuditor_IsAllowed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`
User-agent: *
Disallow: /admin/
Allow: /admin/public/

User-agent: BadBot
Disallow: /
		`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	auditor := NewRobotsTxtAuditor(newTestFetcher(t, FetchConfig{}), nil)
	ctx := context.Background()

	tests := []struct {
		path, agent string
		want        bool
	}{
		{"/public-page", "GoodBot", true},
		{"/admin/secret", "GoodBot", false},
		{"/admin/public/index.html", "GoodBot", true},
		{"/public-page", "BadBot", false},
	}
	for _, tt := range tests {
		got, err := auditor.IsAllowed(ctx, ts.URL+tt.path, tt.agent)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tt.want {
			t.Errorf("IsAllowed(%s, %s) = %v, want %v", tt.path, tt.agent, got, tt.want)
		}
	}
}

func TestRobotsTxtAuditor_MissingRobots(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	auditor := NewRobotsTxtAuditor(newTestFetcher(t, FetchConfig{}), nil)
	allowed, err := auditor.IsAllowed(context.Background(), ts.URL+"/anything", "Bot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("expected missing robots.txt to default to allowed")
	}
}

func TestRobotsTxtAuditor_Caches(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			calls++
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
		}
	}))
	defer ts.Close()

	auditor := NewRobotsTxtAuditor(newTestFetcher(t, FetchConfig{}), nil)
	for i := 0; i < 3; i++ {
		_, _ = auditor.IsAllowed(context.Background(), ts.URL+"/a", "*")
	}
	if calls != 1 {
		t.Errorf("expected robots.txt fetched once, got %d", calls)
	}
}
