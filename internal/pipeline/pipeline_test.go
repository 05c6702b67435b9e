package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/spc-outlook-service/internal/adapter/spc"
	"github.com/couchcryptid/spc-outlook-service/internal/domain"
	"github.com/couchcryptid/spc-outlook-service/internal/observability"
	"github.com/couchcryptid/spc-outlook-service/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emptyLayer = `{"type": "FeatureCollection", "features": []}`

var (
	annArbor  = domain.Coordinate{Latitude: 42.2808, Longitude: -83.7430}
	seattle   = domain.Coordinate{Latitude: 47.6062, Longitude: -122.3321}
	cycleTime = time.Date(2024, time.May, 6, 13, 0, 0, 0, time.UTC)
)

// --- mocks ---

type funcFetcher func(ctx context.Context, d domain.FeedDescriptor) domain.FeedResult

func (f funcFetcher) Fetch(ctx context.Context, d domain.FeedDescriptor) domain.FeedResult {
	return f(ctx, d)
}

func statusFetcher(status domain.FeedStatus) funcFetcher {
	return func(_ context.Context, d domain.FeedDescriptor) domain.FeedResult {
		return domain.FeedResult{Descriptor: d, Status: status}
	}
}

func box(minLon, minLat, maxLon, maxLat float64) orb.Polygon {
	return orb.Polygon{{{minLon, minLat}, {maxLon, minLat}, {maxLon, maxLat}, {minLon, maxLat}, {minLon, minLat}}}
}

// labelFetcher answers every layer with one polygon around Ann Arbor labelled by fn.
func labelFetcher(fn func(d domain.FeedDescriptor) string) funcFetcher {
	return func(_ context.Context, d domain.FeedDescriptor) domain.FeedResult {
		return domain.FeedResult{
			Descriptor: d,
			Status:     domain.StatusOK,
			Features:   []domain.Feature{{Geometry: box(-85, 41, -82, 44), Label: fn(d)}},
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixtureServer serves testdata layers, an empty collection for layers without
// a fixture, and the given status for failing paths.
func fixtureServer(t *testing.T, failing map[string]int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code, ok := failing[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		body, err := os.ReadFile(filepath.Join("testdata", filepath.Base(r.URL.Path)))
		if err != nil {
			body = []byte(emptyLayer)
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fixtureEngine(t *testing.T, coord domain.Coordinate, failing map[string]int) (*pipeline.Engine, *observability.Metrics) {
	t.Helper()
	srv := fixtureServer(t, failing)
	metrics := observability.NewMetricsForTesting()
	client := spc.NewClient(2*time.Second, metrics, discardLogger(), spc.WithRetry(1, 0), spc.WithoutCache())
	catalog := domain.CatalogConfig{BaseURL: srv.URL, DetailedDays: 2, Hazards: domain.DetailedHazards}
	return pipeline.NewEngine(catalog, coord, client, discardLogger(), metrics), metrics
}

// --- FetchAll ---

func TestFetchAll_ResultsFollowDescriptorOrder(t *testing.T) {
	descs := domain.BuildCatalog(domain.DefaultCatalogConfig())
	var calls atomic.Int32
	f := funcFetcher(func(_ context.Context, d domain.FeedDescriptor) domain.FeedResult {
		calls.Add(1)
		if d.Day == 3 {
			return domain.FeedResult{Status: domain.StatusHTTPError, StatusCode: http.StatusInternalServerError}
		}
		return domain.FeedResult{Status: domain.StatusOK}
	})

	results := pipeline.FetchAll(context.Background(), f, descs)

	require.Len(t, results, len(descs))
	assert.Equal(t, int32(len(descs)), calls.Load())
	for i, res := range results {
		assert.Equal(t, descs[i], res.Descriptor)
		if descs[i].Day == 3 {
			assert.Equal(t, domain.StatusHTTPError, res.Status)
		} else {
			assert.Equal(t, domain.StatusOK, res.Status, "a failed layer must not affect %s", descs[i].Key())
		}
	}
}

func TestFetchAll_RunsConcurrently(t *testing.T) {
	descs := domain.BuildCatalog(domain.DefaultCatalogConfig())
	var arrived atomic.Int32
	release := make(chan struct{})
	f := funcFetcher(func(ctx context.Context, d domain.FeedDescriptor) domain.FeedResult {
		if int(arrived.Add(1)) == len(descs) {
			close(release)
		}
		select {
		case <-release:
			return domain.FeedResult{Status: domain.StatusOK}
		case <-ctx.Done():
			return domain.FeedResult{Status: domain.StatusTimeout}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results := pipeline.FetchAll(ctx, f, descs)

	for _, res := range results {
		assert.Equal(t, domain.StatusOK, res.Status, "every fetch should be in flight at once")
	}
}

// --- Engine ---

func TestEngine_Resolve_FixtureLayers(t *testing.T) {
	engine, metrics := fixtureEngine(t, annArbor, nil)

	snap, summary, err := engine.Resolve(context.Background(), pipeline.Cycle{ID: "c1", Start: cycleTime})
	require.NoError(t, err)

	day1, err := snap.Day(1)
	require.NoError(t, err)
	assert.Equal(t, "Slight", day1.CategoricalRisk)
	assert.Equal(t, &domain.Styling{Stroke: "#DDAA00", Fill: "#FFE066"}, day1.CategoricalStyling)
	assert.Equal(t, &domain.Validity{Valid: "202405061300", Issue: "202405061246", Expire: "202405071200"}, day1.Validity)

	torn, _ := day1.Probability(domain.Tornado)
	assert.Equal(t, "5%", torn)
	hail, _ := day1.Probability(domain.Hail)
	assert.Equal(t, domain.NoData, hail)
	wind, _ := day1.Probability(domain.Wind)
	assert.Equal(t, domain.NoData, wind)

	for day := 2; day <= domain.MaxDay; day++ {
		rec, _ := snap.Day(day)
		assert.Equal(t, domain.NoRisk, rec.CategoricalRisk, "day %d", day)
	}

	assert.Equal(t, "c1", snap.CycleID)
	assert.Equal(t, domain.Fresh, snap.Freshness)
	assert.Equal(t, cycleTime, snap.LastSuccessfulCycle)
	assert.Equal(t, 14, summary.Feeds)
	assert.Equal(t, 1, summary.Anomalies, "null geometry in the hail fixture")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeometryAnomalies))
}

func TestEngine_Resolve_FailedCategoricalDay(t *testing.T) {
	engine, _ := fixtureEngine(t, annArbor, map[string]int{
		"/day3otlk_cat.lyr.geojson": http.StatusInternalServerError,
	})

	snap, summary, err := engine.Resolve(context.Background(), pipeline.Cycle{ID: "c2", Start: cycleTime})
	require.NoError(t, err)

	day3, _ := snap.Day(3)
	assert.Equal(t, domain.NoRisk, day3.CategoricalRisk)
	assert.Equal(t, domain.Stale, day3.Freshness)

	day1, _ := snap.Day(1)
	assert.Equal(t, "Slight", day1.CategoricalRisk)
	assert.Equal(t, domain.Fresh, day1.Freshness)

	assert.Equal(t, domain.PartiallyStale, snap.Freshness)
	assert.Equal(t, 1, summary.Failed)
}

func TestEngine_ResolveDetailed_ReportsLayerResults(t *testing.T) {
	engine, _ := fixtureEngine(t, annArbor, map[string]int{
		"/day3otlk_cat.lyr.geojson": http.StatusInternalServerError,
	})
	assert.Equal(t, 2*time.Second, engine.FetchTimeout())

	res, err := engine.ResolveDetailed(context.Background(), pipeline.Cycle{ID: "c3", Start: cycleTime})
	require.NoError(t, err)

	require.Len(t, res.Results, catalogSize)
	var failed []string
	for _, r := range res.Results {
		if !r.OK() {
			failed = append(failed, r.Descriptor.Key().String())
			assert.Equal(t, http.StatusInternalServerError, r.StatusCode)
		}
	}
	assert.Equal(t, []string{"cat_day3"}, failed)
	assert.Equal(t, "c3", res.Snapshot.CycleID)
	assert.Equal(t, 1, res.Summary.Failed)
}

func TestEngine_Resolve_NoContainingPolygons(t *testing.T) {
	engine, _ := fixtureEngine(t, seattle, nil)

	snap, summary, err := engine.Resolve(context.Background(), pipeline.Cycle{ID: "c3", Start: cycleTime})
	require.NoError(t, err)

	want := engine.DefaultSnapshot()
	for i := range want.Days {
		want.Days[i].Freshness = domain.Fresh
	}
	if diff := cmp.Diff(want.Days, snap.Days); diff != "" {
		t.Fatalf("expected default records (-want +got):\n%s", diff)
	}
	assert.Equal(t, domain.Fresh, snap.Freshness)
	assert.Zero(t, summary.Matched)
}

func TestEngine_Resolve_AllFeedsFailed(t *testing.T) {
	engine := pipeline.NewEngine(domain.DefaultCatalogConfig(), annArbor, statusFetcher(domain.StatusTimeout), discardLogger(), observability.NewMetricsForTesting())

	snap, summary, err := engine.Resolve(context.Background(), pipeline.Cycle{ID: "c4", Start: cycleTime})

	require.ErrorIs(t, err, pipeline.ErrAllFeedsFailed)
	assert.Equal(t, 14, summary.Failed)
	assert.Equal(t, domain.Stale, snap.Freshness)
}

func TestEngine_Resolve_Cancelled(t *testing.T) {
	engine := pipeline.NewEngine(domain.DefaultCatalogConfig(), annArbor, statusFetcher(domain.StatusTimeout), discardLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := engine.Resolve(ctx, pipeline.Cycle{ID: "c5", Start: cycleTime})
	require.ErrorIs(t, err, pipeline.ErrCycleCancelled)
}

func TestEngine_Resolve_DeadlineIsNotCancellation(t *testing.T) {
	f := funcFetcher(func(ctx context.Context, d domain.FeedDescriptor) domain.FeedResult {
		if d.Day == 1 {
			<-ctx.Done()
			return domain.FeedResult{Descriptor: d, Status: domain.StatusTimeout}
		}
		return domain.FeedResult{Descriptor: d, Status: domain.StatusOK}
	})
	engine := pipeline.NewEngine(domain.DefaultCatalogConfig(), annArbor, f, discardLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	snap, _, err := engine.Resolve(ctx, pipeline.Cycle{ID: "c6", Start: cycleTime})
	require.NoError(t, err)

	day1, _ := snap.Day(1)
	assert.Equal(t, domain.Stale, day1.Freshness)
	assert.Equal(t, domain.PartiallyStale, snap.Freshness)
}
