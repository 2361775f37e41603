package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrUnknownProxy is returned when reporting on a proxy the pool does not hold.
var ErrUnknownProxy = errors.New("proxy: not in pool")

type endpoint struct {
	url        *url.URL
	failures   int
	successes  int
	benchUntil time.Time
}

// Pool rotates article fetches across outbound proxies and benches the ones
// that keep failing. A pool with no entries means direct connections.
type Pool struct {
	mu          sync.Mutex
	endpoints   []*endpoint
	byKey       map[string]*endpoint
	cursor      int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// Config defines settings for the proxy pool.
type Config struct {
	// MaxFailures before a proxy is benched.
	MaxFailures int
	// Cooldown is how long a benched proxy sits out.
	Cooldown time.Duration
}

// NewPool creates an empty pool. Zero config values take defaults.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		byKey:       make(map[string]*endpoint),
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
}

// LoadFile reads one proxy URL per line. Blank lines and '#' comments are skipped.
func (p *Pool) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open proxy list: %w", err)
	}
	defer file.Close()

	var raws []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raws = append(raws, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read proxy list: %w", err)
	}
	return p.Add(raws...)
}

// Add parses proxy URLs, defaulting to http:// when no scheme is given.
// Duplicates are ignored.
func (p *Pool) Add(raws ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, raw := range raws {
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse proxy %q: %w", raw, err)
		}
		key := u.String()
		if _, ok := p.byKey[key]; ok {
			continue
		}
		ep := &endpoint{url: u}
		p.endpoints = append(p.endpoints, ep)
		p.byKey[key] = ep
	}
	return nil
}

// Len returns the number of proxies in the pool, benched or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Next returns the next proxy that is not benched, or nil when none is usable.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for range p.endpoints {
		ep := p.endpoints[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.endpoints)

		if !ep.benchUntil.IsZero() {
			if now.Before(ep.benchUntil) {
				continue
			}
			ep.benchUntil = time.Time{}
			ep.failures = 0
		}
		return ep.url
	}
	return nil
}

// ProxyFunc adapts the pool to http.Transport.Proxy. An empty or fully benched
// pool connects directly.
func (p *Pool) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(*http.Request) (*url.URL, error) {
		return p.Next(), nil
	}
}

// MarkSuccess records a good response through u.
func (p *Pool) MarkSuccess(u *url.URL) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep, err := p.lookup(u)
	if err != nil {
		return err
	}
	ep.successes++
	if ep.failures > 0 {
		ep.failures--
	}
	return nil
}

// MarkFailure records a failed request through u, benching it after MaxFailures.
func (p *Pool) MarkFailure(u *url.URL) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep, err := p.lookup(u)
	if err != nil {
		return err
	}
	ep.failures++
	if ep.failures >= p.maxFailures {
		ep.benchUntil = p.now().Add(p.cooldown)
	}
	return nil
}

func (p *Pool) lookup(u *url.URL) (*endpoint, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: nil url", ErrUnknownProxy)
	}
	ep, ok := p.byKey[u.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProxy, u.Redacted())
	}
	return ep, nil
}
