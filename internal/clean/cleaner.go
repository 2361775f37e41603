// Package clean removes duplicate and low-value articles before analysis.
package clean

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/FranksOps/enricher/internal/domain"
	"github.com/FranksOps/enricher/internal/metrics"
)

// Drop reasons, used as the metrics label and in Stats.
const (
	DropExact   = "exact_duplicate"
	DropNear    = "near_duplicate"
	DropBlocked = "blocked"
	DropShort   = "short_body"
)

const DefaultThreshold = 80

// Config controls the cleaning passes.
type Config struct {
	// NearDuplicates enables the pairwise similarity pass.
	NearDuplicates bool
	// Threshold is the similarity score (0..100) above which the later of
	// two articles is dropped.
	Threshold int
	// CompareChars bounds how many leading runes of each body are compared.
	// Zero or negative compares whole bodies.
	CompareChars int
	// Blocklist phrases. Nil selects DefaultBlocklist.
	Blocklist []string
	// MinBodyChars drops articles whose normalized body is shorter. Zero disables.
	MinBodyChars int
	// Similarity overrides the edit-distance score. It receives the
	// lowercased, token-sorted bodies, cut to CompareChars when set.
	Similarity func(a, b string) int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		NearDuplicates: true,
		Threshold:      DefaultThreshold,
	}
}

// Stats counts what a Clean call removed.
type Stats struct {
	Input   int            `json:"input"`
	Output  int            `json:"output"`
	Dropped map[string]int `json:"dropped"`
	// FailedOpen is set when an internal error caused the input to be passed through.
	FailedOpen bool `json:"failed_open,omitempty"`
}

// Cleaner deduplicates and filters articles. It holds no per-call state and
// is safe for concurrent use.
type Cleaner struct {
	cfg       Config
	blocklist *Blocklist
	logger    *slog.Logger
}

// New builds a Cleaner from cfg.
func New(cfg Config, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	phrases := cfg.Blocklist
	if phrases == nil {
		phrases = DefaultBlocklist
	}
	return &Cleaner{
		cfg:       cfg,
		blocklist: NewBlocklist(phrases),
		logger:    logger.With("component", "cleaner"),
	}
}

// Clean returns the survivors in input order. It never fails: if anything
// goes wrong internally the input is returned unmodified and the cause logged.
func (c *Cleaner) Clean(articles []domain.ArticleRecord) (out []domain.CleanedArticle, stats Stats) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cleaning failed, passing articles through", "error", fmt.Sprint(r), "articles", len(articles))
			out = passThrough(articles)
			stats = Stats{Input: len(articles), Output: len(articles), FailedOpen: true}
		}
	}()

	stats = Stats{Input: len(articles), Dropped: make(map[string]int)}
	drop := func(reason string, a domain.ArticleRecord, attrs ...any) {
		stats.Dropped[reason]++
		metrics.CleanDroppedTotal.WithLabelValues(reason).Inc()
		attrs = append(attrs, "reason", reason, "url", a.URL, "article_id", a.ID)
		if reason == DropBlocked || reason == DropShort {
			c.logger.Info("article rejected", attrs...)
			return
		}
		c.logger.Debug("duplicate dropped", attrs...)
	}

	seenURL := make(map[string]struct{}, len(articles))
	seenPair := make(map[[2]string]struct{}, len(articles))
	out = make([]domain.CleanedArticle, 0, len(articles))
	var kept []string

	for _, a := range articles {
		a.Title = NormalizeSpace(a.Title)
		a.Body = NormalizeSpace(a.Body)

		if c.cfg.MinBodyChars > 0 && len([]rune(a.Body)) < c.cfg.MinBodyChars {
			drop(DropShort, a, "chars", len([]rune(a.Body)))
			continue
		}
		if hit, ok := c.blocklist.Match(a.Body); ok {
			drop(DropBlocked, a, "phrase", hit.Phrase, "sentence", hit.Sentence)
			continue
		}

		key := URLKey(a.URL)
		if key != "" {
			if _, dup := seenURL[key]; dup {
				drop(DropExact, a, "match", "url")
				continue
			}
		}
		pair := [2]string{a.Title, a.Body}
		if _, dup := seenPair[pair]; dup {
			drop(DropExact, a, "match", "title_body")
			continue
		}

		var cmp string
		if c.cfg.NearDuplicates {
			cmp = sortedTokens(prefix(a.Body, c.cfg.CompareChars))
			if score, idx := c.nearest(cmp, kept); idx >= 0 {
				drop(DropNear, a, "score", score, "duplicate_of", out[idx].URL)
				continue
			}
		}

		if key != "" {
			seenURL[key] = struct{}{}
		}
		seenPair[pair] = struct{}{}
		kept = append(kept, cmp)
		out = append(out, domain.CleanedArticle{ArticleRecord: a})
	}

	stats.Output = len(out)
	c.logger.Info("cleaning complete", "input", stats.Input, "output", stats.Output,
		"exact", stats.Dropped[DropExact], "near", stats.Dropped[DropNear],
		"blocked", stats.Dropped[DropBlocked], "short", stats.Dropped[DropShort])
	return out, stats
}

// nearest returns the first kept body scoring above the threshold, or -1.
func (c *Cleaner) nearest(cmp string, kept []string) (int, int) {
	n := len([]rune(cmp))
	for i, other := range kept {
		var score int
		if c.cfg.Similarity != nil {
			score = c.cfg.Similarity(cmp, other)
		} else {
			if ratioCeiling(n, len([]rune(other))) <= c.cfg.Threshold {
				continue
			}
			score = ratio(cmp, other)
		}
		if score > c.cfg.Threshold {
			return score, i
		}
	}
	return 0, -1
}

// NormalizeSpace collapses whitespace runs to one space and trims the ends.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// URLKey is the URL with query string and fragment removed, used for exact
// deduplication. Empty input yields an empty key.
func URLKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		base, _, _ := strings.Cut(raw, "?")
		base, _, _ = strings.Cut(base, "#")
		return base
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func passThrough(articles []domain.ArticleRecord) []domain.CleanedArticle {
	out := make([]domain.CleanedArticle, len(articles))
	for i, a := range articles {
		out[i] = domain.CleanedArticle{ArticleRecord: a}
	}
	return out
}
