package domain

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

var (
	errMissingGeometry    = errors.New("missing geometry")
	errDegenerateGeometry = errors.New("degenerate geometry")
)

// MatchOutcome is the matcher's verdict for one layer. Feature is nil when no
// polygon contains the point or the layer was not retrieved.
type MatchOutcome struct {
	Descriptor FeedDescriptor
	Status     FeedStatus
	Feature    *Feature
	// Anomalies counts features skipped for missing or unusable geometry.
	Anomalies int
}

// MatchFeed finds the feature of an OK layer that contains c. Features are
// tested in feed order and the last containing feature wins. Features without
// usable geometry are skipped and logged.
func MatchFeed(res FeedResult, c Coordinate, logger *slog.Logger) MatchOutcome {
	out := MatchOutcome{Descriptor: res.Descriptor, Status: res.Status}
	if !res.OK() {
		return out
	}

	pt := c.Point()
	for i := range res.Features {
		f := &res.Features[i]
		hit, err := containsPoint(f.Geometry, pt)
		if err != nil {
			out.Anomalies++
			logger.Warn("skipping feature",
				"feed", res.Descriptor.Key().String(),
				"index", i,
				"label", f.Label,
				"error", err,
			)
			continue
		}
		if hit {
			out.Feature = f
		}
	}
	return out
}

// containsPoint tests inclusive containment. Holes are honored.
func containsPoint(g orb.Geometry, pt orb.Point) (bool, error) {
	switch geom := g.(type) {
	case nil:
		return false, errMissingGeometry
	case orb.Polygon:
		if degeneratePolygon(geom) {
			return false, errDegenerateGeometry
		}
		return polygonContains(geom, pt), nil
	case orb.MultiPolygon:
		usable := 0
		hit := false
		for _, p := range geom {
			if degeneratePolygon(p) {
				continue
			}
			usable++
			if polygonContains(p, pt) {
				hit = true
			}
		}
		if usable == 0 {
			return false, errDegenerateGeometry
		}
		return hit, nil
	default:
		return false, fmt.Errorf("unsupported geometry type %s", g.GeoJSONType())
	}
}

// polygonContains is inclusive on every ring. A point on the edge of a hole
// lies on the polygon boundary and is contained; only hole interiors are
// excluded.
func polygonContains(p orb.Polygon, pt orb.Point) bool {
	if !planar.RingContains(p[0], pt) {
		return false
	}
	for _, hole := range p[1:] {
		if onRing(hole, pt) {
			return true
		}
		if planar.RingContains(hole, pt) {
			return false
		}
	}
	return true
}

// onRing reports whether pt lies on one of the ring's edges.
func onRing(r orb.Ring, pt orb.Point) bool {
	for i := 0; i+1 < len(r); i++ {
		if onSegment(r[i], r[i+1], pt) {
			return true
		}
	}
	// Unclosed rings still have a closing edge.
	if n := len(r); n > 2 && !r[0].Equal(r[n-1]) {
		return onSegment(r[n-1], r[0], pt)
	}
	return false
}

func onSegment(a, b, pt orb.Point) bool {
	cross := (b[0]-a[0])*(pt[1]-a[1]) - (b[1]-a[1])*(pt[0]-a[0])
	if cross != 0 {
		return false
	}
	return pt[0] >= min(a[0], b[0]) && pt[0] <= max(a[0], b[0]) &&
		pt[1] >= min(a[1], b[1]) && pt[1] <= max(a[1], b[1])
}

// degeneratePolygon reports whether the outer ring cannot enclose any area,
// including collinear rings whose bounding box is not flat.
func degeneratePolygon(p orb.Polygon) bool {
	if len(p) == 0 || len(p[0]) < 3 {
		return true
	}
	return planar.Area(p[0]) == 0
}
