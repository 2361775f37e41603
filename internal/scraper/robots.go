package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// RobotsTxtAuditor fetches and caches robots.txt per host and answers whether
// an article URL may be fetched.
type RobotsTxtAuditor struct {
	fetcher *Fetcher
	logger  *slog.Logger
	mu      sync.RWMutex
	cache   map[string]*robotstxt.RobotsData
}

// NewRobotsTxtAuditor creates an auditor that downloads robots.txt through fetcher.
func NewRobotsTxtAuditor(fetcher *Fetcher, logger *slog.Logger) *RobotsTxtAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsTxtAuditor{
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[string]*robotstxt.RobotsData),
	}
}

// IsAllowed reports whether userAgent may fetch targetURL. Hosts whose robots.txt
// cannot be retrieved are allowed.
func (r *RobotsTxtAuditor) IsAllowed(ctx context.Context, targetURL, userAgent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("invalid url: %w", err)
	}

	data, err := r.getOrFetch(ctx, u.Scheme+"://"+u.Host)
	if err != nil {
		r.logger.Debug("robots.txt unavailable, allowing", "host", u.Host, "error", err)
		return true, nil
	}
	if data == nil {
		return true, nil
	}
	return data.TestAgent(u.EscapedPath(), userAgent), nil
}

func (r *RobotsTxtAuditor) getOrFetch(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	r.mu.RLock()
	data, exists := r.cache[host]
	r.mu.RUnlock()
	if exists {
		return data, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if data, exists = r.cache[host]; exists {
		return data, nil
	}

	resp, err := r.fetcher.client.Get(ctx, host+"/robots.txt", r.fetcher.config.UAPool.Next())
	if err != nil {
		r.cache[host] = nil
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		r.cache[host] = nil
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}

	// FromStatusAndBytes treats 4xx as allow-all and 5xx as disallow-all.
	parsed, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		r.cache[host] = nil
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	r.cache[host] = parsed
	return parsed, nil
}
