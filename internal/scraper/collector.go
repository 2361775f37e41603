package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/enricher/internal/domain"
)

// CollectConfig configures FetchAll.
type CollectConfig struct {
	// Concurrency bounds simultaneous fetches (default 20).
	Concurrency int
	// MinTextChars rejects articles with less extracted text (default 200).
	MinTextChars int
	// MaxTextChars caps the stored body (default 5000).
	MaxTextChars int
	// RespectRobots checks robots.txt before fetching.
	RespectRobots bool
	// RobotsAgent is the agent name matched against robots.txt groups.
	RobotsAgent string
}

// Progress is called after each hit is processed.
type Progress func(done, total int)

// Collector turns search hits into article records using a fixed pool of workers.
type Collector struct {
	cfg       CollectConfig
	fetcher   *Fetcher
	extractor Extractor
	auditor   *RobotsTxtAuditor
	logger    *slog.Logger
	// Stopped is polled between hits; once it returns true no new fetches start.
	Stopped func() bool
}

// NewCollector creates a Collector around fetcher.
func NewCollector(cfg CollectConfig, fetcher *Fetcher, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 20
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 200
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = 5000
	}
	if cfg.RobotsAgent == "" {
		cfg.RobotsAgent = "*"
	}

	c := &Collector{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: Extractor{MinChars: cfg.MinTextChars, MaxChars: cfg.MaxTextChars},
		logger:    logger.With("component", "collector"),
	}
	if cfg.RespectRobots {
		c.auditor = NewRobotsTxtAuditor(fetcher, logger)
	}
	return c
}

// FetchAll fetches every hit and returns one ArticleRecord per hit that yielded
// usable text, ordered by discovery sequence. Individual failures are logged
// and skipped. Rejections are tallied by reason in the returned map.
func (c *Collector) FetchAll(ctx context.Context, hits []domain.RawSearchHit, onProgress Progress) ([]domain.ArticleRecord, map[Reason]int, error) {
	jobs := make(chan domain.RawSearchHit)

	var (
		mu       sync.Mutex
		articles []domain.ArticleRecord
		rejected = map[Reason]int{}
		done     int
	)

	finish := func(rec *domain.ArticleRecord, reason Reason) {
		mu.Lock()
		defer mu.Unlock()
		if rec != nil {
			articles = append(articles, *rec)
		} else if reason != "" {
			rejected[reason]++
		}
		done++
		if onProgress != nil {
			onProgress(done, len(hits))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, h := range hits {
			if c.Stopped != nil && c.Stopped() {
				c.logger.Info("collection stopped, not scheduling remaining hits")
				return nil
			}
			select {
			case jobs <- h:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < c.cfg.Concurrency; i++ {
		g.Go(func() error {
			for h := range jobs {
				rec, err := c.collect(gctx, h)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					var rej *Rejection
					reason := ReasonRequest
					if errors.As(err, &rej) {
						reason = rej.Reason
					}
					c.logger.Info("hit dropped", "url", h.URL, "query", h.Query, "reason", reason, "error", err)
					finish(nil, reason)
					continue
				}
				finish(rec, "")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, rejected, err
	}

	sort.Slice(articles, func(i, j int) bool { return articles[i].Seq < articles[j].Seq })
	return articles, rejected, nil
}

func (c *Collector) collect(ctx context.Context, h domain.RawSearchHit) (*domain.ArticleRecord, error) {
	u, err := url.Parse(h.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &Rejection{URL: h.URL, Reason: ReasonInvalidURL, Err: err}
	}

	if c.auditor != nil {
		if ok, _ := c.auditor.IsAllowed(ctx, h.URL, c.cfg.RobotsAgent); !ok {
			return nil, &Rejection{URL: h.URL, Reason: ReasonRobots}
		}
	}

	page, err := c.fetcher.Fetch(ctx, h.URL)
	if err != nil {
		return nil, err
	}

	ex, err := c.extractor.Extract(page.HTML)
	if err != nil {
		return nil, &Rejection{URL: h.URL, Reason: ReasonShortText, Err: err}
	}
	if n := utf8.RuneCountInString(ex.Text); n < c.cfg.MinTextChars {
		return nil, &Rejection{URL: h.URL, Reason: ReasonShortText, Detail: fmt.Sprintf("extracted %d chars", n)}
	}

	hit := h
	if hit.Title == "" {
		hit.Title = ex.Title
	}
	c.logger.Debug("article extracted", "url", h.URL, "method", ex.Method, "chars", utf8.RuneCountInString(ex.Text), "attempts", page.Attempts)

	return &domain.ArticleRecord{
		RawSearchHit: hit,
		ID:           uuid.NewString(),
		Body:         ex.Text,
	}, nil
}
