package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SearchPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_search_pages_total",
			Help: "Search API page requests by outcome",
		},
		[]string{"outcome"},
	)

	SearchHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enricher_search_hits_total",
			Help: "Search hits returned across all queries",
		},
	)

	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_article_fetches_total",
			Help: "Article fetches by outcome (ok or rejection reason)",
		},
		[]string{"outcome"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "enricher_article_fetch_duration_seconds",
			Help:    "Duration of article fetches including retries",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	FetchBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enricher_article_bytes_total",
			Help: "Total HTML bytes downloaded",
		},
	)

	CleanDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_clean_dropped_total",
			Help: "Articles removed by the cleaner, by reason",
		},
		[]string{"reason"},
	)

	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_llm_completions_total",
			Help: "Language model calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enricher_llm_completion_duration_seconds",
			Help:    "Language model call latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	KeyRotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enricher_llm_key_rotations_total",
			Help: "Credential rotations triggered by provider rate limiting",
		},
	)

	ParseFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enricher_parse_fallbacks_total",
			Help: "Model responses that could not be parsed into columns",
		},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_proxy_failures_total",
			Help: "Article fetch failures attributed to a proxy",
		},
		[]string{"proxy_url"},
	)
)

// RecordFetch updates fetch metrics. outcome is "ok" or the rejection reason.
func RecordFetch(outcome string, d time.Duration, bytes int) {
	FetchesTotal.WithLabelValues(outcome).Inc()
	FetchDuration.Observe(d.Seconds())
	FetchBytesTotal.Add(float64(bytes))
}

// RecordCompletion updates language model call metrics.
func RecordCompletion(provider, outcome string, d time.Duration) {
	CompletionsTotal.WithLabelValues(provider, outcome).Inc()
	CompletionDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on port and exposes /metrics.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
