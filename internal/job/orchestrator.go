// Package job owns the single long-running operation a process may run at a
// time: import, rematch, AI-assisted matching, or a coverage scan. Progress
// is observable by polling and through a best-effort event stream backed by
// the same counters.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/coverage"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/resolver"
	"github.com/uncovering-world/track-your-regions-sub005/internal/service"
	"github.com/uncovering-world/track-your-regions-sub005/internal/strategy"
)

// ProgressEvent is one progress snapshot pushed to stream subscribers.
// Delivery is best-effort: events are dropped rather than ever blocking the
// matching loop.
type ProgressEvent struct {
	JobID     string        `json:"jobId"`
	Kind      model.JobKind `json:"kind"`
	State     model.JobState `json:"state"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Matched   int           `json:"matched"`
	Failed    int           `json:"failed"`
}

// Orchestrator runs long operations one at a time.
type Orchestrator struct {
	store    service.Storage
	geo      service.Geometry
	resolver *resolver.Resolver
	analyzer *coverage.Analyzer

	text      strategy.Strategy
	geocode   strategy.Strategy
	escalator *Escalator

	mu           sync.Mutex
	current      *handle
	lastCoverage map[string]*model.CoverageReport
	subs         map[chan ProgressEvent]struct{}
}

type handle struct {
	status model.JobStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Store     service.Storage
	Geometry  service.Geometry
	Resolver  *resolver.Resolver
	Analyzer  *coverage.Analyzer
	Text      strategy.Strategy
	Geocode   strategy.Strategy
	Escalator *Escalator
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		store:        cfg.Store,
		geo:          cfg.Geometry,
		resolver:     cfg.Resolver,
		analyzer:     cfg.Analyzer,
		text:         cfg.Text,
		geocode:      cfg.Geocode,
		escalator:    cfg.Escalator,
		lastCoverage: make(map[string]*model.CoverageReport),
		subs:         make(map[chan ProgressEvent]struct{}),
	}
}

// Status returns a snapshot of the in-flight or most recently finished job.
func (o *Orchestrator) Status() (*model.JobStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil {
		return nil, common.ErrNoSuchJob
	}
	status := o.current.status
	return &status, nil
}

// Cancel sets the cooperative cancellation flag. The running pass stops at
// its next per-leaf checkpoint; work already committed stays committed.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil || o.current.status.State != model.JobRunning {
		return common.ErrNoSuchJob
	}
	o.current.status.CancelAsked = true
	o.current.cancel()
	return nil
}

// ForceReset clears the job slot unconditionally. Administrative escape
// hatch for a wedged job; not exposed to ordinary curators.
func (o *Orchestrator) ForceReset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil {
		o.current.cancel()
		o.current = nil
	}
	slog.Warn("Job slot force-reset")
}

// Wait blocks until the current job finishes. Mainly for the CLI and tests.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	if o.current == nil {
		o.mu.Unlock()
		return
	}
	done := o.current.done
	o.mu.Unlock()
	<-done
}

// Subscribe returns a progress event channel and an unsubscribe function.
// Events are dropped when the subscriber falls behind.
func (o *Orchestrator) Subscribe() (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 64)

	o.mu.Lock()
	o.subs[ch] = struct{}{}
	o.mu.Unlock()

	return ch, func() {
		o.mu.Lock()
		if _, ok := o.subs[ch]; ok {
			delete(o.subs, ch)
			close(ch)
		}
		o.mu.Unlock()
	}
}

// LastCoverage returns the most recent completed coverage report for a world
// view, or nil when none has run this process.
func (o *Orchestrator) LastCoverage(worldViewID string) *model.CoverageReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastCoverage[worldViewID]
}

// start claims the single job slot and runs fn on a background context.
func (o *Orchestrator) start(kind model.JobKind, worldViewID string, fn func(ctx context.Context) error) (string, error) {
	o.mu.Lock()
	if o.current != nil && o.current.status.State == model.JobRunning {
		o.mu.Unlock()
		return "", fmt.Errorf("%s requested while %s is running: %w",
			kind, o.current.status.Kind, common.ErrAlreadyRunning)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		status: model.JobStatus{
			ID:          uuid.NewString(),
			Kind:        kind,
			State:       model.JobRunning,
			WorldViewID: worldViewID,
			StartedAt:   time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.current = h
	o.mu.Unlock()

	slog.Info("Job started", "job_id", h.status.ID, "kind", kind, "world_view_id", worldViewID)

	go func() {
		err := fn(ctx)

		o.mu.Lock()
		switch {
		case err == nil:
			h.status.State = model.JobCompleted
		case errors.Is(err, context.Canceled):
			h.status.State = model.JobCanceled
		default:
			h.status.State = model.JobFailed
			h.status.Error = err.Error()
		}
		h.status.FinishedAt = time.Now()
		snapshot := h.status
		o.mu.Unlock()

		o.publish(snapshot)
		cancel()
		close(h.done)

		slog.Info("Job finished",
			"job_id", snapshot.ID,
			"kind", snapshot.Kind,
			"state", snapshot.State,
			"processed", snapshot.Processed,
			"error", snapshot.Error)
	}()

	return h.status.ID, nil
}

// update mutates the current status under lock and publishes the new
// snapshot to stream subscribers, keeping poll and stream consistent.
func (o *Orchestrator) update(fn func(*model.JobStatus)) {
	o.mu.Lock()
	if o.current == nil {
		o.mu.Unlock()
		return
	}
	fn(&o.current.status)
	snapshot := o.current.status
	o.mu.Unlock()

	o.publish(snapshot)
}

func (o *Orchestrator) publish(status model.JobStatus) {
	event := ProgressEvent{
		JobID:     status.ID,
		Kind:      status.Kind,
		State:     status.State,
		Processed: status.Processed,
		Total:     status.Total,
		Matched:   status.Matched,
		Failed:    status.Failed,
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for ch := range o.subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop rather than stall the pass.
		}
	}
}
