package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/spc-outlook-service/internal/domain"
	"github.com/couchcryptid/spc-outlook-service/internal/observability"
)

var (
	// ErrAllFeedsFailed means no layer could be retrieved in a cycle.
	ErrAllFeedsFailed = errors.New("all outlook feeds failed")
	// ErrCycleCancelled means the cycle was cancelled before it settled.
	ErrCycleCancelled = errors.New("outlook cycle cancelled")
)

// Cycle identifies one resolution run.
type Cycle struct {
	ID    string
	Start time.Time
}

// Engine runs one fetch-match-aggregate cycle for a fixed coordinate.
type Engine struct {
	catalog domain.CatalogConfig
	coord   domain.Coordinate
	fetcher Fetcher
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewEngine creates an Engine for the given catalog and query point.
func NewEngine(catalog domain.CatalogConfig, coord domain.Coordinate, f Fetcher, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		catalog: catalog,
		coord:   coord,
		fetcher: f,
		logger:  logger,
		metrics: metrics,
	}
}

// Coordinate returns the query point.
func (e *Engine) Coordinate() domain.Coordinate { return e.coord }

// FetchTimeout returns the fetcher's per-layer timeout, or 0 when it does not
// report one.
func (e *Engine) FetchTimeout() time.Duration {
	if tr, ok := e.fetcher.(timeoutReporter); ok {
		return tr.Timeout()
	}
	return 0
}

// DefaultSnapshot returns the all-sentinel snapshot for this engine's catalog.
func (e *Engine) DefaultSnapshot() domain.Snapshot {
	return domain.DefaultSnapshot(e.catalog, e.coord)
}

// Resolution is the full outcome of one cycle, including every layer result.
type Resolution struct {
	Snapshot domain.Snapshot
	Summary  domain.CycleSummary
	Results  []domain.FeedResult
}

// Resolve fetches every layer, matches the coordinate and aggregates the
// result. A snapshot is returned with ErrAllFeedsFailed so callers can log it,
// but it must not be published. Cancellation of ctx yields ErrCycleCancelled;
// a deadline on ctx only times out the layers still in flight.
func (e *Engine) Resolve(ctx context.Context, c Cycle) (domain.Snapshot, domain.CycleSummary, error) {
	res, err := e.ResolveDetailed(ctx, c)
	return res.Snapshot, res.Summary, err
}

// ResolveDetailed is Resolve that also returns the per-layer fetch results.
// Results are filled in whenever the fetch stage completed, even on error.
func (e *Engine) ResolveDetailed(ctx context.Context, c Cycle) (Resolution, error) {
	logger := e.logger.With("cycle_id", c.ID)

	descs := domain.BuildCatalog(e.catalog)
	results := FetchAll(ctx, e.fetcher, descs)
	if errors.Is(ctx.Err(), context.Canceled) {
		return Resolution{}, fmt.Errorf("cycle %s: %w", c.ID, ErrCycleCancelled)
	}

	outcomes := matchAll(results, e.coord, logger)
	snap, summary, err := domain.Aggregate(e.catalog, e.coord, outcomes, c.Start)
	if err != nil {
		return Resolution{Summary: summary, Results: results}, fmt.Errorf("aggregate cycle %s: %w", c.ID, err)
	}
	snap.CycleID = c.ID
	e.metrics.GeometryAnomalies.Add(float64(summary.Anomalies))

	res := Resolution{Snapshot: snap, Summary: summary, Results: results}
	if summary.AllFailed() {
		return res, ErrAllFeedsFailed
	}
	return res, nil
}
