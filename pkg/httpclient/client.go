package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// ErrNilContext is returned by Do when called without a context.
var ErrNilContext = errors.New("httpclient: nil context")

// Config defines the setup for the HTTP client.
type Config struct {
	Timeout time.Duration
	// MaxRedirects < 0 disables redirect following.
	MaxRedirects int
	UseCookieJar bool
	// Transport is optional, e.g. a uTLS fingerprint transport with a proxy pool.
	Transport http.RoundTripper
	// Headers are added to every request that does not already set them.
	Headers http.Header
}

// Client wraps http.Client with default headers, a redirect cap and context-scoped requests.
type Client struct {
	*http.Client
}

// BrowserHeaders are sent with article fetches so pages render their normal HTML.
func BrowserHeaders() http.Header {
	return http.Header{
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.9,ru;q=0.8"},
	}
}

// New creates a client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &http.Client{Timeout: cfg.Timeout}

	if cfg.MaxRedirects >= 0 {
		limit := cfg.MaxRedirects
		if limit == 0 {
			limit = 10
		}
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	} else {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		c.Jar = jar
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if len(cfg.Headers) > 0 {
		base = &headerTransport{base: base, headers: cfg.Headers.Clone()}
	}
	c.Transport = base

	return &Client{Client: c}, nil
}

// Do executes req bound to ctx.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	resp, err := c.Client.Do(req.Clone(ctx))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}

// Get issues a GET for rawURL with the given User-Agent.
func (c *Client) Get(ctx context.Context, rawURL, userAgent string) (*http.Response, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return c.Do(ctx, req)
}

type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	missing := false
	for k := range t.headers {
		if req.Header.Get(k) == "" {
			missing = true
			break
		}
	}
	if !missing {
		return t.base.RoundTrip(req)
	}

	// RoundTrippers must not mutate the caller's request.
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header[k] = append([]string(nil), v...)
		}
	}
	return t.base.RoundTrip(r)
}
