package proxy

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPool_AddAndNext(t *testing.T) {
	pool := NewPool(Config{})

	if err := pool.Add("127.0.0.1:8080", "http://127.0.0.1:8081", "socks5://127.0.0.1:9050", "127.0.0.1:8080"); err != nil {
		t.Fatalf("unexpected error adding proxies: %v", err)
	}
	if pool.Len() != 3 {
		t.Fatalf("duplicates should be ignored, got %d entries", pool.Len())
	}

	want := []string{
		"http://127.0.0.1:8080",
		"http://127.0.0.1:8081",
		"socks5://127.0.0.1:9050",
		"http://127.0.0.1:8080",
	}
	for _, w := range want {
		if u := pool.Next(); u == nil || u.String() != w {
			t.Errorf("expected %s, got %v", w, u)
		}
	}
}

func TestPool_Benching(t *testing.T) {
	pool := NewPool(Config{MaxFailures: 2, Cooldown: time.Minute})
	now := time.Unix(0, 0)
	pool.now = func() time.Time { return now }

	if err := pool.Add("http://a", "http://b"); err != nil {
		t.Fatal(err)
	}

	a := pool.Next()
	_ = pool.MarkFailure(a)
	_ = pool.MarkFailure(a)

	for i := 0; i < 3; i++ {
		if u := pool.Next(); u.String() != "http://b" {
			t.Fatalf("benched proxy handed out: %v", u)
		}
	}

	now = now.Add(2 * time.Minute)
	seen := map[string]bool{}
	seen[pool.Next().String()] = true
	seen[pool.Next().String()] = true
	if !seen["http://a"] {
		t.Error("proxy should return after cooldown")
	}
}

func TestPool_AllBenched(t *testing.T) {
	pool := NewPool(Config{MaxFailures: 1, Cooldown: time.Hour})
	_ = pool.Add("http://a")

	_ = pool.MarkFailure(pool.Next())
	if u := pool.Next(); u != nil {
		t.Errorf("expected nil when all proxies benched, got %v", u)
	}

	u, err := pool.ProxyFunc()(nil)
	if err != nil || u != nil {
		t.Errorf("benched pool should fall back to direct, got %v %v", u, err)
	}
}

func TestPool_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := "\n# office egress\nhttp://proxy1.com\nproxy2.com:80\n\nsocks5://proxy3.com:1080\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	pool := NewPool(Config{})
	if err := pool.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	expected := []string{"http://proxy1.com", "http://proxy2.com:80", "socks5://proxy3.com:1080"}
	for _, e := range expected {
		if u := pool.Next(); u == nil || u.String() != e {
			t.Errorf("expected %s, got %v", e, u)
		}
	}
}

func TestPool_MarkUnknown(t *testing.T) {
	pool := NewPool(Config{})
	_ = pool.Add("http://a")

	unknown, _ := url.Parse("http://unknown")
	if err := pool.MarkSuccess(unknown); !errors.Is(err, ErrUnknownProxy) {
		t.Errorf("expected ErrUnknownProxy, got %v", err)
	}
	if err := pool.MarkFailure(nil); !errors.Is(err, ErrUnknownProxy) {
		t.Errorf("expected ErrUnknownProxy for nil, got %v", err)
	}
}

func TestPool_Empty(t *testing.T) {
	pool := NewPool(Config{})
	if u := pool.Next(); u != nil {
		t.Errorf("expected nil on empty pool, got %v", u)
	}
}
