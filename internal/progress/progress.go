// Package progress publishes pipeline progress events. Delivery is best
// effort: a failing sink is logged and never interrupts the run.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FranksOps/enricher/internal/domain"
)

// Event is one progress update.
type Event struct {
	RunID   string       `json:"run_id"`
	Stage   domain.Stage `json:"stage"`
	Message string       `json:"message"`
	// Overall is the run's progress in [0,100]; it never decreases.
	Overall int `json:"overall"`
	// StageProgress is the progress of Stage in [0,100].
	StageProgress int       `json:"stage_progress"`
	Time          time.Time `json:"time"`
}

// Sink delivers events somewhere.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Send(ctx context.Context, e Event) error { return f(ctx, e) }

// Span is the share of overall progress a stage covers.
type Span struct{ From, To int }

// DefaultSpans splits a run into thirds.
var DefaultSpans = map[domain.Stage]Span{
	domain.StageSearch:  {0, 33},
	domain.StageClean:   {33, 66},
	domain.StageAnalyze: {66, 100},
}

// DefaultQueueSize bounds the events waiting for delivery.
const DefaultQueueSize = 256

// Reporter fans events out to sinks and keeps overall progress monotonic.
// Report never waits on a sink: events are queued for a single dispatcher
// that delivers them in order, and dropped when the queue is full.
type Reporter struct {
	runID   string
	sinks   []Sink
	spans   map[domain.Stage]Span
	timeout time.Duration
	logger  *slog.Logger

	events chan Event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	overall int
	dropped int
	closed  bool
}

// New returns a Reporter for one run. Call Close when the run ends.
func New(runID string, logger *slog.Logger, sinks ...Sink) *Reporter {
	return newReporter(runID, logger, 5*time.Second, DefaultQueueSize, sinks...)
}

func newReporter(runID string, logger *slog.Logger, timeout time.Duration, queue int, sinks ...Sink) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		runID:   runID,
		sinks:   sinks,
		spans:   DefaultSpans,
		timeout: timeout,
		logger:  logger.With("component", "progress", "run_id", runID),
		events:  make(chan Event, queue),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go r.dispatch()
	return r
}

// Report publishes an event. overall is raised to the last reported value
// if lower and clamped to [0,100]; stageProgress is clamped likewise.
// Events reported after Close are discarded.
func (r *Reporter) Report(stage domain.Stage, message string, overall, stageProgress int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	overall = clamp(overall)
	if overall < r.overall {
		overall = r.overall
	}
	r.overall = overall
	if r.closed {
		return
	}
	e := Event{
		RunID:         r.runID,
		Stage:         stage,
		Message:       message,
		Overall:       overall,
		StageProgress: clamp(stageProgress),
		Time:          time.Now().UTC(),
	}
	select {
	case r.events <- e:
	default:
		r.dropped++
		r.logger.Warn("progress queue full, event dropped", "stage", stage, "overall", overall, "dropped", r.dropped)
	}
}

// Stage reports progress within a stage, deriving overall progress from the
// stage's span.
func (r *Reporter) Stage(stage domain.Stage, message string, stageProgress int) {
	span, ok := r.spans[stage]
	if !ok {
		r.Report(stage, message, r.Overall(), stageProgress)
		return
	}
	p := clamp(stageProgress)
	r.Report(stage, message, span.From+(span.To-span.From)*p/100, p)
}

// Overall returns the last reported overall progress.
func (r *Reporter) Overall() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overall
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Reporter) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting events and waits up to the sink timeout for queued
// ones to be delivered. Whatever is still queued after that is abandoned.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	defer r.cancel()
	t := time.NewTimer(r.timeout)
	defer t.Stop()
	select {
	case <-r.done:
	case <-t.C:
		r.logger.Warn("progress sinks did not drain, abandoning queued events", "pending", len(r.events))
	}
}

func (r *Reporter) dispatch() {
	defer close(r.done)
	for e := range r.events {
		if r.ctx.Err() != nil {
			continue
		}
		for _, s := range r.sinks {
			r.deliver(s, e)
		}
	}
}

func (r *Reporter) deliver(s Sink, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("progress sink panicked", "sink", fmt.Sprintf("%T", s), "error", fmt.Sprint(rec))
		}
	}()
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	if err := s.Send(ctx, e); err != nil {
		r.logger.Warn("progress event not delivered", "sink", fmt.Sprintf("%T", s), "stage", e.Stage, "error", err)
	}
}

func clamp(p int) int {
	return min(max(p, 0), 100)
}
