package domain

import (
	"io"
	"log/slog"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// box builds a closed rectangular polygon in lon/lat order.
func box(minLon, minLat, maxLon, maxLat float64) orb.Polygon {
	return orb.Polygon{{
		{minLon, minLat},
		{maxLon, minLat},
		{maxLon, maxLat},
		{minLon, maxLat},
		{minLon, minLat},
	}}
}

func okResult(day int, h Hazard, features ...Feature) FeedResult {
	return FeedResult{
		Descriptor: FeedDescriptor{Day: day, Hazard: h},
		Features:   features,
		Status:     StatusOK,
	}
}

var annArbor = Coordinate{Latitude: 42.28, Longitude: -83.74}

func TestMatchFeed_SingleContainingPolygon(t *testing.T) {
	res := okResult(1, Categorical,
		Feature{Geometry: box(-100, 30, -95, 35), Label: "Marginal"},
		Feature{Geometry: box(-85, 40, -80, 45), Label: "Slight"},
		Feature{Geometry: box(-70, 40, -65, 45), Label: "Enhanced"},
	)

	out := MatchFeed(res, annArbor, discardLogger())

	require.NotNil(t, out.Feature)
	assert.Equal(t, "Slight", out.Feature.Label)
	assert.Zero(t, out.Anomalies)
}

func TestMatchFeed_LastOverlappingFeatureWins(t *testing.T) {
	res := okResult(1, Categorical,
		Feature{Geometry: box(-90, 35, -75, 50), Label: "A"},
		Feature{Geometry: box(-85, 40, -80, 45), Label: "B"},
	)

	out := MatchFeed(res, annArbor, discardLogger())

	require.NotNil(t, out.Feature)
	assert.Equal(t, "B", out.Feature.Label)
}

func TestMatchFeed_LaterNonContainingFeatureDoesNotOverride(t *testing.T) {
	res := okResult(1, Categorical,
		Feature{Geometry: box(-85, 40, -80, 45), Label: "A"},
		Feature{Geometry: box(-100, 30, -95, 35), Label: "B"},
	)

	out := MatchFeed(res, annArbor, discardLogger())

	require.NotNil(t, out.Feature)
	assert.Equal(t, "A", out.Feature.Label)
}

func TestMatchFeed_BoundaryIsInclusive(t *testing.T) {
	res := okResult(1, Categorical, Feature{Geometry: box(-90, 40, -83.74, 45), Label: "Edge"})

	out := MatchFeed(res, annArbor, discardLogger())

	require.NotNil(t, out.Feature, "point on the eastern edge should be contained")
	assert.Equal(t, "Edge", out.Feature.Label)

	corner := Coordinate{Latitude: 40, Longitude: -90}
	out = MatchFeed(res, corner, discardLogger())
	require.NotNil(t, out.Feature, "vertex should be contained")
}

func TestMatchFeed_HoleExcludesPoint(t *testing.T) {
	donut := box(-90, 35, -75, 50)
	donut = append(donut, box(-85, 40, -80, 45)[0])

	out := MatchFeed(okResult(1, Categorical, Feature{Geometry: donut, Label: "Donut"}), annArbor, discardLogger())

	assert.Nil(t, out.Feature)
}

func TestMatchFeed_HoleBoundaryIsInclusive(t *testing.T) {
	donut := orb.Polygon{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
	}
	res := okResult(1, Categorical, Feature{Geometry: donut, Label: "Donut"})

	tests := []struct {
		name   string
		coord  Coordinate
		inside bool
	}{
		{"hole edge", Coordinate{Latitude: 5, Longitude: 4}, true},
		{"hole vertex", Coordinate{Latitude: 6, Longitude: 6}, true},
		{"hole interior", Coordinate{Latitude: 5, Longitude: 5}, false},
		{"outer edge", Coordinate{Latitude: 0, Longitude: 5}, true},
		{"ring body", Coordinate{Latitude: 2, Longitude: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := MatchFeed(res, tt.coord, discardLogger())
			assert.Equal(t, tt.inside, out.Feature != nil)
			assert.Zero(t, out.Anomalies)
		})
	}
}

func TestMatchFeed_CollinearRingIsDegenerate(t *testing.T) {
	sliver := orb.Polygon{{{0, 0}, {10, 10}, {0, 0}, {0, 0}}}
	res := okResult(1, Categorical, Feature{Geometry: sliver, Label: "Sliver"})

	out := MatchFeed(res, Coordinate{Latitude: 5, Longitude: 5}, discardLogger())

	assert.Nil(t, out.Feature)
	assert.Equal(t, 1, out.Anomalies)
}

func TestMatchFeed_MultiPolygon(t *testing.T) {
	mp := orb.MultiPolygon{
		box(-100, 30, -95, 35),
		box(-85, 40, -80, 45),
	}

	out := MatchFeed(okResult(1, Tornado, Feature{Geometry: mp, Label: "5%"}), annArbor, discardLogger())

	require.NotNil(t, out.Feature)
	assert.Equal(t, "5%", out.Feature.Label)
}

func TestMatchFeed_SkipsMissingAndDegenerateGeometry(t *testing.T) {
	res := okResult(1, Categorical,
		Feature{Geometry: box(-90, 35, -75, 50), Label: "Slight"},
		Feature{Geometry: nil, Label: "Missing"},
		Feature{Geometry: orb.Polygon{}, Label: "Empty"},
		Feature{Geometry: orb.MultiPolygon{orb.Polygon{}}, Label: "EmptyMulti"},
		Feature{Geometry: orb.Polygon{{{-83.74, 42.28}, {-83.74, 42.28}, {-83.74, 42.28}}}, Label: "Collapsed"},
		Feature{Geometry: orb.Point{-83.74, 42.28}, Label: "Point"},
	)

	out := MatchFeed(res, annArbor, discardLogger())

	require.NotNil(t, out.Feature)
	assert.Equal(t, "Slight", out.Feature.Label)
	assert.Equal(t, 5, out.Anomalies)
}

func TestMatchFeed_OutsideEveryPolygon(t *testing.T) {
	res := okResult(2, Categorical, Feature{Geometry: box(-100, 30, -95, 35), Label: "Slight"})

	out := MatchFeed(res, annArbor, discardLogger())

	assert.Nil(t, out.Feature)
	assert.Equal(t, StatusOK, out.Status)
}

func TestMatchFeed_FailedFeedIsNotMatched(t *testing.T) {
	res := okResult(1, Categorical, Feature{Geometry: box(-90, 35, -75, 50), Label: "Slight"})
	res.Status = StatusInvalidBody

	out := MatchFeed(res, annArbor, discardLogger())

	assert.Nil(t, out.Feature)
	assert.Equal(t, StatusInvalidBody, out.Status)
}

func TestMatchFeed_NoFeatures(t *testing.T) {
	out := MatchFeed(okResult(4, Categorical), annArbor, discardLogger())
	assert.Nil(t, out.Feature)
	assert.Zero(t, out.Anomalies)
}
