package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/metrics"
	"github.com/FranksOps/enricher/internal/retry"
	"github.com/FranksOps/enricher/pkg/ratelimit"
)

// AnalyzerConfig bounds how articles are sent to the model.
type AnalyzerConfig struct {
	// Provider labels metrics.
	Provider string
	// Concurrency caps in-flight calls. Zero uses RateLimit.
	Concurrency int
	// RateLimit calls are admitted per RatePeriod.
	RateLimit  int
	RatePeriod time.Duration
	// MaxRetries is the number of tries for transient failures.
	MaxRetries int
	// RetryDelay is the first backoff pause; it doubles after each failure.
	RetryDelay time.Duration
	// Timeout guards each provider call.
	Timeout       time.Duration
	MaxTitleChars int
	MaxBodyChars  int
	// MinTextChars skips articles whose title and body together are shorter.
	MinTextChars int
	Clock        ratelimit.Clock
}

// DefaultAnalyzerConfig returns the limits used when none are configured.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Provider:      ProviderOpenAI,
		RateLimit:     20,
		RatePeriod:    time.Minute,
		MaxRetries:    3,
		RetryDelay:    time.Second,
		Timeout:       60 * time.Second,
		MaxTitleChars: 500,
		MaxBodyChars:  5000,
		MinTextChars:  100,
	}
}

// Response is the outcome of analyzing one article.
type Response struct {
	// Text is the model's answer, or an error description when Failed.
	Text     string
	Failed   bool
	Skipped  bool
	Attempts int
	Err      error
}

// Analyzer sends articles with a prompt to the model. Calls are bounded by a
// semaphore and a rolling-window rate limiter; rate-limit answers rotate the
// key pool and retry at once, other failures back off exponentially.
type Analyzer struct {
	cfg     AnalyzerConfig
	factory Factory
	keys    *KeyPool
	sem     *semaphore.Weighted
	bucket  *ratelimit.Bucket
	logger  *slog.Logger

	mu         sync.Mutex
	completers map[string]Completer
}

// NewAnalyzer builds an Analyzer. Zero config fields take their defaults,
// except MinTextChars where zero disables the length check.
func NewAnalyzer(factory Factory, keys *KeyPool, cfg AnalyzerConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultAnalyzerConfig()
	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RatePeriod <= 0 {
		cfg.RatePeriod = def.RatePeriod
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.RateLimit
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTitleChars <= 0 {
		cfg.MaxTitleChars = def.MaxTitleChars
	}
	if cfg.MaxBodyChars <= 0 {
		cfg.MaxBodyChars = def.MaxBodyChars
	}
	if keys == nil {
		keys = NewKeyPool(nil)
	}
	return &Analyzer{
		cfg:        cfg,
		factory:    factory,
		keys:       keys,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		bucket:     ratelimit.NewBucket(cfg.RateLimit, cfg.RatePeriod, cfg.Clock),
		logger:     logger.With("component", "analyzer"),
		completers: make(map[string]Completer),
	}
}

// Messages builds the system and user messages for one article.
func (a *Analyzer) Messages(article domain.CleanedArticle, prompt domain.PromptSpec) []Message {
	title := truncate(strings.TrimSpace(article.Title), a.cfg.MaxTitleChars)
	body := truncate(strings.TrimSpace(article.Body), a.cfg.MaxBodyChars)
	user := body
	if title != "" {
		user = title + "\n\n" + body
	}
	return []Message{
		{Role: RoleSystem, Content: prompt.Body},
		{Role: RoleUser, Content: user},
	}
}

// Analyze runs one article through the model. It never returns an error:
// failures end up in the Response with an error description as Text.
func (a *Analyzer) Analyze(ctx context.Context, article domain.CleanedArticle, prompt domain.PromptSpec) Response {
	logger := a.logger.With("article_id", article.ID, "url", article.URL)

	msgs := a.Messages(article, prompt)
	if n := len([]rune(strings.TrimSpace(msgs[1].Content))); n < a.cfg.MinTextChars {
		logger.Info("text too short for analysis", "chars", n)
		return Response{Skipped: true}
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return failed(err, 0)
	}
	defer a.sem.Release(1)

	rotations := 0
	attempts := 0
	text, err := retry.Do(ctx, retry.Config{
		Attempts:  a.cfg.MaxRetries,
		Backoff:   retry.Exponential{Initial: a.cfg.RetryDelay, Max: 30 * time.Second},
		Jitter:    0.1,
		Immediate: a.keys.Len(),
		OnRetry: func(attempt int, err error) {
			logger.Warn("analysis attempt failed", "attempt", attempt+1, "error", err)
		},
	}, func(ctx context.Context, _ int) (string, error) {
		attempts++
		if err := a.bucket.Wait(ctx); err != nil {
			return "", retry.Permanent(err)
		}
		key, gen := a.keys.Current()
		c, err := a.completer(key)
		if err != nil {
			return "", retry.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
		start := time.Now()
		out, err := c.Complete(callCtx, msgs)
		class := Classify(err)
		metrics.RecordCompletion(a.cfg.Provider, class.String(), time.Since(start))

		switch class {
		case ClassNone:
			return out, nil
		case ClassRateLimited:
			if _, advanced := a.keys.Rotate(gen); advanced {
				metrics.KeyRotationsTotal.Inc()
				logger.Info("rate limited, rotated API key", "keys", a.keys.Len())
			}
			rotations++
			if rotations < a.keys.Len() {
				return "", retry.Immediate(err)
			}
			// every key has been tried; wait before the next round
			return "", err
		case ClassPermanent:
			return "", retry.Permanent(err)
		default:
			return "", err
		}
	})
	if err != nil {
		logger.Error("analysis failed", "attempts", attempts, "error", err)
		return failed(err, attempts)
	}
	return Response{Text: text, Attempts: attempts}
}

// AnalyzeAll analyzes articles concurrently. Result i always belongs to
// articles[i]. stopped, when non-nil, is polled before each article is
// scheduled; unscheduled articles are marked Skipped. onDone is called once
// per finished article, serialized.
func (a *Analyzer) AnalyzeAll(ctx context.Context, articles []domain.CleanedArticle, prompt domain.PromptSpec, stopped func() bool, onDone func(done, total int)) []Response {
	results := make([]Response, len(articles))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i := range articles {
		if (stopped != nil && stopped()) || gctx.Err() != nil {
			for j := i; j < len(articles); j++ {
				results[j] = Response{Skipped: true}
			}
			break
		}
		g.Go(func() error {
			results[i] = a.Analyze(gctx, articles[i], prompt)
			if onDone != nil {
				mu.Lock()
				done++
				onDone(done, len(articles))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Analyzer) completer(key string) (Completer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.completers[key]; ok {
		return c, nil
	}
	if a.factory == nil {
		return nil, errors.New("no completer factory configured")
	}
	c, err := a.factory(key)
	if err != nil {
		return nil, err
	}
	a.completers[key] = c
	return c, nil
}

// ErrorText is the stored response for an article whose analysis failed.
func ErrorText(err error) string {
	return fmt.Sprintf("Error: %v", err)
}

func failed(err error, attempts int) Response {
	return Response{Text: ErrorText(err), Failed: true, Attempts: attempts, Err: err}
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
