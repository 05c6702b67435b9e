package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/spc-outlook-service/internal/domain"
	"github.com/couchcryptid/spc-outlook-service/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

const (
	refreshKey = "outlook"
	// DefaultSinkTimeout bounds each sink notification.
	DefaultSinkTimeout = 5 * time.Second
	// fallbackCycleTimeout applies when the fetcher reports no timeout.
	fallbackCycleTimeout = 30 * time.Second
)

// SnapshotSink receives every successfully published snapshot.
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, snap domain.Snapshot) error
}

type namedSink struct {
	name string
	sink SnapshotSink
}

// RefreshError reports a cycle that did not publish a new snapshot.
type RefreshError struct {
	CycleID string
	Err     error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh cycle %s: %v", e.CycleID, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Refresher owns the published snapshot. It runs cycles periodically and on
// demand; concurrent refresh requests join the cycle already in flight.
type Refresher struct {
	engine       *Engine
	clock        clockwork.Clock
	interval     time.Duration
	cycleTimeout time.Duration
	sinkTimeout  time.Duration
	sinks        []namedSink
	logger       *slog.Logger
	metrics      *observability.Metrics

	group    singleflight.Group
	current  atomic.Pointer[domain.Snapshot]
	ready    atomic.Bool
	inFlight atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// RefresherOption customizes a Refresher.
type RefresherOption func(*Refresher)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) RefresherOption {
	return func(r *Refresher) { r.clock = c }
}

// WithCycleTimeout bounds a whole cycle. By default the cycle timeout equals
// the fetcher's per-layer timeout.
func WithCycleTimeout(d time.Duration) RefresherOption {
	return func(r *Refresher) { r.cycleTimeout = d }
}

// WithSink adds a sink notified after each successful cycle. Sink failures are
// logged and never affect the published snapshot.
func WithSink(name string, s SnapshotSink) RefresherOption {
	return func(r *Refresher) { r.sinks = append(r.sinks, namedSink{name: name, sink: s}) }
}

// NewRefresher creates a Refresher publishing the default snapshot until the
// first successful cycle.
func NewRefresher(engine *Engine, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics, opts ...RefresherOption) *Refresher {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Refresher{
		engine:       engine,
		clock:        clockwork.NewRealClock(),
		interval:     interval,
		cycleTimeout: engine.FetchTimeout(),
		sinkTimeout:  DefaultSinkTimeout,
		logger:       logger,
		metrics:      metrics,
		ctx:          ctx,
		cancel:       cancel,
	}
	if r.cycleTimeout <= 0 {
		r.cycleTimeout = fallbackCycleTimeout
	}
	for _, opt := range opts {
		opt(r)
	}
	initial := engine.DefaultSnapshot()
	r.current.Store(&initial)
	return r
}

// CycleTimeout returns the bound applied to each cycle.
func (r *Refresher) CycleTimeout() time.Duration {
	return r.cycleTimeout
}

// Snapshot returns the currently published snapshot.
func (r *Refresher) Snapshot() domain.Snapshot {
	return *r.current.Load()
}

// Restore publishes a previously persisted snapshot, marked Stale, so readers
// see the last known outlook until the first cycle completes.
func (r *Refresher) Restore(snap domain.Snapshot) {
	if snap.Coordinate != r.engine.Coordinate() {
		r.logger.Warn("ignoring restored snapshot for another coordinate",
			"restored", snap.Coordinate.String(),
			"configured", r.engine.Coordinate().String(),
		)
		return
	}
	stale := snap.MarkStale()
	r.current.Store(&stale)
	r.logger.Info("restored snapshot",
		"cycle_id", snap.CycleID,
		"last_successful_cycle", snap.LastSuccessfulCycle,
	)
}

// CheckReadiness returns nil once a cycle has completed successfully.
func (r *Refresher) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no successful outlook cycle yet")
	}
	return nil
}

// Refresh runs a cycle, or joins the one in flight, and returns the snapshot
// published afterwards. On failure the returned snapshot is the retained
// (stale) one and the error is a *RefreshError. If ctx is done first, Refresh
// returns the current snapshot and ctx.Err() while the cycle keeps running.
func (r *Refresher) Refresh(ctx context.Context) (domain.Snapshot, error) {
	if r.inFlight.Load() {
		r.metrics.RefreshJoins.Inc()
	}
	ch := r.group.DoChan(refreshKey, func() (any, error) {
		return r.runCycle()
	})
	select {
	case res := <-ch:
		snap, _ := res.Val.(domain.Snapshot)
		return snap, res.Err
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// Run performs an immediate cycle and then one every interval until ctx is
// done. Cancelling ctx also cancels a cycle in flight and closes the Refresher.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info("refresher started",
		"interval", r.interval,
		"coordinate", r.engine.Coordinate().String(),
	)
	r.metrics.RefresherRunning.Set(1)
	defer r.metrics.RefresherRunning.Set(0)

	stop := context.AfterFunc(ctx, r.cancel)
	defer stop()

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	_, _ = r.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresher stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			_, _ = r.Refresh(ctx)
		}
	}
}

// Close cancels any cycle in flight. Later cycles are cancelled immediately.
func (r *Refresher) Close() {
	r.cancel()
}

func (r *Refresher) runCycle() (domain.Snapshot, error) {
	r.inFlight.Store(true)
	defer r.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(r.ctx, r.cycleTimeout)
	defer cancel()

	cycle := Cycle{ID: uuid.NewString(), Start: r.clock.Now().UTC()}
	logger := r.logger.With("cycle_id", cycle.ID)

	snap, summary, err := r.engine.Resolve(ctx, cycle)
	elapsed := r.clock.Since(cycle.Start)
	r.metrics.CycleDuration.Observe(elapsed.Seconds())

	switch {
	case errors.Is(err, ErrCycleCancelled):
		r.metrics.Cycles.WithLabelValues("cancelled").Inc()
		logger.Info("outlook cycle cancelled")
		return r.Snapshot(), &RefreshError{CycleID: cycle.ID, Err: err}
	case err != nil:
		r.metrics.Cycles.WithLabelValues("failed").Inc()
		retained := r.retainStale()
		logger.Error("outlook cycle failed, keeping previous snapshot",
			"error", err,
			"feeds", summary.Feeds,
			"failed", summary.Failed,
			"last_successful_cycle", retained.LastSuccessfulCycle,
		)
		return retained, &RefreshError{CycleID: cycle.ID, Err: err}
	}

	r.current.Store(&snap)
	r.ready.Store(true)
	r.metrics.LastSuccessTimestamp.Set(float64(cycle.Start.Unix()))

	outcome := "success"
	if summary.Failed > 0 {
		outcome = "partial"
	}
	r.metrics.Cycles.WithLabelValues(outcome).Inc()
	logger.Info("outlook cycle complete",
		"freshness", snap.Freshness,
		"feeds", summary.Feeds,
		"failed", summary.Failed,
		"matched", summary.Matched,
		"anomalies", summary.Anomalies,
		"duration", elapsed,
	)

	r.notifySinks(logger, snap)
	return snap, nil
}

// retainStale republishes the current snapshot marked Stale and flagged as a
// failed refresh. Before any successful cycle this is the default snapshot.
func (r *Refresher) retainStale() domain.Snapshot {
	stale := r.Snapshot().MarkStale()
	stale.RefreshFailed = true
	r.current.Store(&stale)
	return stale
}

func (r *Refresher) notifySinks(logger *slog.Logger, snap domain.Snapshot) {
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(r.ctx, r.sinkTimeout)
		err := s.sink.PublishSnapshot(ctx, snap)
		cancel()
		if err != nil {
			r.metrics.SinkErrors.WithLabelValues(s.name).Inc()
			logger.Warn("snapshot sink failed", "sink", s.name, "error", err)
		}
	}
}
