// Package search queries the XML search API and turns result pages into hits.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/metrics"
	"github.com/FranksOps/enricher/internal/retry"
	"github.com/FranksOps/enricher/pkg/httpclient"
	"github.com/FranksOps/enricher/pkg/ratelimit"
)

// DefaultEndpoint is the xmlstock Google XML endpoint.
const DefaultEndpoint = "https://xmlstock.com/google/xml/"

// Config holds search API settings.
type Config struct {
	Endpoint string
	User     string
	Key      string
	// Concurrency bounds in-flight page requests across all queries.
	Concurrency int
	// Delay is the pause between consecutive page requests of one query.
	Delay    time.Duration
	Timeout  time.Duration
	Attempts int
	// Params are passed through verbatim (hl, lr, domain, device, tbm).
	Params map[string]string
}

// Client issues paginated queries against the search API.
type Client struct {
	cfg    Config
	http   *httpclient.Client
	sem    *semaphore.Weighted
	logger *slog.Logger
	now    func() time.Time
	// Stopped is polled before each query is scheduled by SearchAll.
	Stopped func() bool
}

// New builds a search client. The client's semaphore is shared by every
// Search call made through it.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}

	hc, err := httpclient.New(httpclient.Config{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("search http client: %w", err)
	}

	return &Client{
		cfg:    cfg,
		http:   hc,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger: logger.With("component", "search"),
		now:    time.Now,
	}, nil
}

// pageError marks a page that failed after retries; the page is skipped.
type pageError struct {
	status int
	err    error
}

func (e *pageError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return "unexpected status " + strconv.Itoa(e.status)
}

func (e *pageError) Unwrap() error { return e.err }

// Search fetches up to spec.ResultsPerPage*spec.Pages hits for one query. Pages
// are requested one at a time with the configured delay between them. Failed
// pages are logged and skipped; the only error returned is context cancellation.
func (c *Client) Search(ctx context.Context, query string, spec domain.SearchQuerySpec) ([]domain.RawSearchHit, error) {
	limit := spec.MaxHits()
	if limit <= 0 {
		return nil, nil
	}

	pace := ratelimit.NewLimiter(c.cfg.Delay, 0)
	var hits []domain.RawSearchHit

	for page := 0; page < spec.Pages && len(hits) < limit; page++ {
		if err := pace.Wait(ctx); err != nil {
			return hits, err
		}
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return hits, err
		}
		docs, err := c.fetchPage(ctx, query, spec, page)
		c.sem.Release(1)

		if err != nil {
			if ctx.Err() != nil {
				return hits, ctx.Err()
			}
			metrics.SearchPagesTotal.WithLabelValues("error").Inc()
			c.logger.Warn("search page skipped", "query", query, "page", page, "error", err)
			continue
		}
		metrics.SearchPagesTotal.WithLabelValues("ok").Inc()

		for _, d := range docs {
			hits = append(hits, c.toHit(d, query))
			if len(hits) >= limit {
				break
			}
		}
		c.logger.Debug("search page fetched", "query", query, "page", page, "docs", len(docs), "total", len(hits))

		// An empty page means the engine has nothing further.
		if len(docs) == 0 {
			break
		}
	}

	metrics.SearchHitsTotal.Add(float64(len(hits)))
	return hits, nil
}

func (c *Client) fetchPage(ctx context.Context, query string, spec domain.SearchQuerySpec, page int) ([]docXML, error) {
	reqURL, err := c.pageURL(query, spec, page)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	return retry.Do(ctx, retry.Config{
		Attempts: c.cfg.Attempts,
		Backoff:  retry.Exponential{Initial: time.Second, Max: 10 * time.Second},
	}, func(ctx context.Context, attempt int) ([]docXML, error) {
		resp, err := c.http.Get(ctx, reqURL, "")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			perr := &pageError{status: resp.StatusCode}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return nil, perr
			}
			return nil, retry.Permanent(perr)
		}

		docs, err := decodeDocs(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return nil, retry.Permanent(err)
			}
			return nil, retry.Permanent(&pageError{status: resp.StatusCode, err: err})
		}
		return docs, nil
	})
}

func (c *Client) pageURL(query string, spec domain.SearchQuerySpec, page int) (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse search endpoint: %w", err)
	}

	q := u.Query()
	q.Set("user", c.cfg.User)
	q.Set("key", c.cfg.Key)
	q.Set("query", query)
	q.Set("groupby", strconv.Itoa(min(max(spec.ResultsPerPage, 10), 100)))
	q.Set("sort", "date")
	if spec.DaysBack > 0 {
		q.Set("tbs", "qdr:d"+strconv.Itoa(spec.DaysBack))
	}
	q.Set("page", strconv.Itoa(page))
	for k, v := range c.cfg.Params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) toHit(d docXML, query string) domain.RawSearchHit {
	link := d.URL.text()
	display := d.DisplayLink.text()
	if display == "" {
		display = d.Domain.text()
	}
	snippet := d.Snippet.text()
	if snippet == "" && len(d.Passages) > 0 {
		snippet = d.Passages[0].text()
	}
	pub := d.PubDate.text()

	return domain.RawSearchHit{
		Title:        d.Title.text(),
		URL:          link,
		PublishedRaw: pub,
		Published:    ParseDate(pub, c.now()),
		Domain:       cleanDomain(display, link),
		Snippet:      snippet,
		Query:        query,
	}
}

// QueryDone is called after each query finishes, with how many have finished so far.
type QueryDone func(done, total int, query string, hits int)

// SearchAll runs Search for every query, several queries at once bounded by the
// client's concurrency. Hits keep query order and get a run-wide Seq.
func (c *Client) SearchAll(ctx context.Context, queries []string, spec domain.SearchQuerySpec, onDone QueryDone) ([]domain.RawSearchHit, error) {
	perQuery := make([][]domain.RawSearchHit, len(queries))

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, q := range queries {
		if c.Stopped != nil && c.Stopped() {
			c.logger.Info("search stopped, not scheduling remaining queries", "remaining", len(queries)-i)
			break
		}
		g.Go(func() error {
			hits, err := c.Search(gctx, q, spec)
			if err != nil {
				return err
			}
			perQuery[i] = hits

			c.logger.Info("query searched", "query", q, "hits", len(hits))

			mu.Lock()
			defer mu.Unlock()
			done++
			if onDone != nil {
				onDone(done, len(queries), q, len(hits))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []domain.RawSearchHit
	for _, hits := range perQuery {
		for _, h := range hits {
			h.Seq = len(all)
			all = append(all, h)
		}
	}
	return all, nil
}
