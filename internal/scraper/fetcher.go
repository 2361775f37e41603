package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/FranksOps/enricher/internal/bypass"
	"github.com/FranksOps/enricher/internal/fingerprint"
	"github.com/FranksOps/enricher/internal/metrics"
	"github.com/FranksOps/enricher/internal/retry"
	"github.com/FranksOps/enricher/pkg/httpclient"
	"github.com/FranksOps/enricher/pkg/proxy"
	"github.com/FranksOps/enricher/pkg/useragent"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// FetchConfig configures article downloads.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	ProxyPool    *proxy.Pool
	UAPool       *useragent.Pool
	Fingerprint  fingerprint.Profile
	// Attempts per URL, including the first (default 3).
	Attempts int
	Backoff  retry.Backoff
	// MinHTMLBytes rejects pages whose body is implausibly short (default 500).
	MinHTMLBytes int
	// MaxBodyBytes caps how much of a page is read (default 5 MiB).
	MaxBodyBytes int64
	// InsecureSkipVerify is for tests against self-signed servers.
	InsecureSkipVerify bool
}

// Page is a successfully downloaded HTML document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	HTML       []byte
	UserAgent  string
	Attempts   int
	Duration   time.Duration
}

// Fetcher downloads article pages with retries, User-Agent rotation and optional proxies.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
	logger *slog.Logger
}

// NewFetcher initializes a Fetcher. A single client is shared across requests so
// connections and cookies are reused.
func NewFetcher(cfg FetchConfig, logger *slog.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.Linear{Step: time.Second}
	}
	if cfg.MinHTMLBytes <= 0 {
		cfg.MinHTMLBytes = 500
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 << 20
	}

	// Proxies rotate per request: the chosen proxy rides in the request context.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(fingerprint.Options{
		Profile:            cfg.Fingerprint,
		Proxy:              proxyFunc,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
		Headers:      httpclient.BrowserHeaders(),
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &Fetcher{
		config: cfg,
		client: client,
		logger: logger.With("component", "fetcher"),
	}, nil
}

// Fetch downloads targetURL. Transient failures (network errors, 403, 429, 5xx)
// are retried with backoff, switching to a different User-Agent after each 403.
// Any other outcome than an HTML page of plausible size is returned as *Rejection.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	start := time.Now()

	if isBinaryPath(targetURL) {
		return nil, f.reject(start, &Rejection{URL: targetURL, Reason: ReasonBinary, Detail: "pdf or binary extension"})
	}

	ua := f.config.UAPool.Next()
	var last *Rejection

	page, err := retry.Do(ctx, retry.Config{
		Attempts: f.config.Attempts,
		Backoff:  f.config.Backoff,
		Jitter:   0.2,
	}, func(ctx context.Context, attempt int) (*Page, error) {
		p, rej := f.once(ctx, targetURL, ua)
		if rej == nil {
			p.Attempts = attempt + 1
			return p, nil
		}
		last = rej
		if rej.Status == http.StatusForbidden {
			next := f.config.UAPool.Rotate(ua)
			f.logger.Debug("403, rotating user agent", "url", targetURL, "attempt", attempt+1, "vendor", rej.Vendor)
			ua = next
		}
		if !rej.transient() {
			return nil, retry.Permanent(rej)
		}
		return nil, rej
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if last == nil {
			return nil, err
		}
		return nil, f.reject(start, last)
	}

	page.Duration = time.Since(start)
	metrics.RecordFetch("ok", page.Duration, len(page.HTML))
	return page, nil
}

func (f *Fetcher) reject(start time.Time, rej *Rejection) error {
	metrics.RecordFetch(string(rej.Reason), time.Since(start), 0)
	return rej
}

// once performs a single GET and classifies the outcome.
func (f *Fetcher) once(ctx context.Context, targetURL, ua string) (*Page, *Rejection) {
	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		if activeProxy = f.config.ProxyPool.Next(); activeProxy != nil {
			ctx = context.WithValue(ctx, proxyKey, activeProxy)
		}
	}

	resp, err := f.client.Get(ctx, targetURL, ua)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
			metrics.ProxyFailures.WithLabelValues(activeProxy.Redacted()).Inc()
		}
		return nil, &Rejection{URL: targetURL, Reason: ReasonRequest, Err: err}
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	if resp.StatusCode != http.StatusOK {
		// A small slice of the body is enough for challenge detection.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		vendor := bypass.Identify(bypass.Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       snippet,
		}, bypass.DefaultDetectors())
		reason := ReasonStatus
		if vendor != "" {
			reason = ReasonChallenge
		}
		return nil, &Rejection{URL: targetURL, Reason: reason, Status: resp.StatusCode, Vendor: vendor}
	}

	ct := resp.Header.Get("Content-Type")
	if !isHTMLContentType(ct) {
		return nil, &Rejection{URL: targetURL, Reason: ReasonBinary, Status: resp.StatusCode, Detail: ct}
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, f.config.MaxBodyBytes), ct)
	if err != nil {
		reader = io.LimitReader(resp.Body, f.config.MaxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &Rejection{URL: targetURL, Reason: ReasonRequest, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if ct == "" && !strings.HasPrefix(http.DetectContentType(body), "text/") {
		return nil, &Rejection{URL: targetURL, Reason: ReasonBinary, Status: resp.StatusCode, Detail: http.DetectContentType(body)}
	}
	if len(body) < f.config.MinHTMLBytes {
		return nil, &Rejection{URL: targetURL, Reason: ReasonShortHTML, Status: resp.StatusCode, Detail: fmt.Sprintf("%d bytes", len(body))}
	}

	return &Page{
		URL:        targetURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		HTML:       body,
		UserAgent:  ua,
	}, nil
}

func isHTMLContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	}
	switch mt {
	case "text/html", "application/xhtml+xml", "text/plain":
		return true
	}
	return false
}

var binaryExt = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".zip": true, ".rar": true, ".gz": true, ".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".mp3": true, ".mp4": true, ".avi": true, ".exe": true,
}

func isBinaryPath(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return binaryExt[strings.ToLower(path.Ext(u.Path))]
}
