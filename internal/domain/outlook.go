package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
)

const (
	// MaxDay is the last forecast day the SPC publishes.
	MaxDay = 8
	// DefaultDetailedDays is the number of leading days with hazard layers.
	DefaultDetailedDays = 2

	NoRisk        = "No Risk"
	NoData        = "No Data"
	UnknownValue  = "Unknown"
	DefaultFill   = "#000000"
	DefaultStroke = "#FFFFFF"
)

// Coordinate is a WGS-84 query point.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinate validates latitude/longitude ranges.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return Coordinate{}, fmt.Errorf("latitude %v out of range [-90, 90]", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return Coordinate{}, fmt.Errorf("longitude %v out of range [-180, 180]", lon)
	}
	return Coordinate{Latitude: lat, Longitude: lon}, nil
}

// Point returns the coordinate in GeoJSON (lon, lat) order.
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Latitude, c.Longitude)
}

// FeedDescriptor is one remote layer to fetch this cycle.
type FeedDescriptor struct {
	Day    int    `json:"day"`
	Hazard Hazard `json:"hazard"`
	URL    string `json:"url"`
}

// Key returns the (day, hazard) identity of the descriptor.
func (d FeedDescriptor) Key() FeedKey {
	return FeedKey{Day: d.Day, Hazard: d.Hazard}
}

// Feature is one polygon parsed from a layer.
type Feature struct {
	Geometry orb.Geometry
	Label    string
	Valid    string
	Issue    string
	Expire   string
	Stroke   string
	Fill     string
}

// FeedStatus is the typed outcome of fetching one layer.
type FeedStatus uint8

const (
	StatusOK FeedStatus = iota
	StatusHTTPError
	StatusTimeout
	StatusInvalidBody
	StatusEmpty
)

func (s FeedStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusHTTPError:
		return "http_error"
	case StatusTimeout:
		return "timeout"
	case StatusInvalidBody:
		return "invalid_body"
	case StatusEmpty:
		return "empty"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s FeedStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// FeedResult is always produced for a descriptor, whatever happened on the wire.
// Err carries the underlying cause for logging only.
type FeedResult struct {
	Descriptor FeedDescriptor
	Features   []Feature
	Status     FeedStatus
	StatusCode int
	Err        error
}

// OK reports whether the layer was retrieved and parsed.
func (r FeedResult) OK() bool { return r.Status == StatusOK }

// Freshness describes how current a record or snapshot is.
type Freshness string

const (
	Fresh          Freshness = "fresh"
	PartiallyStale Freshness = "partially_stale"
	Stale          Freshness = "stale"
)

// Styling holds the SVG colors of a matched polygon.
type Styling struct {
	Stroke string `json:"stroke"`
	Fill   string `json:"fill"`
}

// Validity holds the opaque SPC timestamps of a matched polygon.
type Validity struct {
	Valid  string `json:"valid"`
	Issue  string `json:"issue"`
	Expire string `json:"expire"`
}

// HazardOutlook is one hazard's probability for a day.
type HazardOutlook struct {
	Probability string    `json:"probability"`
	Styling     *Styling  `json:"styling,omitempty"`
	Validity    *Validity `json:"validity,omitempty"`
}

// OutlookRecord is the normalized outlook for one forecast day.
// Hazards is nil for days outside the detailed window.
type OutlookRecord struct {
	Day                int                      `json:"day"`
	CategoricalRisk    string                   `json:"categorical_risk"`
	CategoricalStyling *Styling                 `json:"categorical_styling,omitempty"`
	Validity           *Validity                `json:"validity,omitempty"`
	Hazards            map[Hazard]HazardOutlook `json:"hazards,omitempty"`
	Freshness          Freshness                `json:"freshness"`
}

// Probability returns the hazard probability label, and false when the hazard
// is not reported for this day.
func (r OutlookRecord) Probability(h Hazard) (string, bool) {
	o, ok := r.Hazards[h]
	if !ok {
		return "", false
	}
	return o.Probability, true
}

// Attributes renders the record as flat string attributes
// ("categorical_fill", "torn_probability", "hail_stroke", ...), falling back to
// default colors where nothing matched. A matched categorical feature also
// contributes its raw "fill", "stroke", "valid", "issue" and "expire" values.
func (r OutlookRecord) Attributes() map[string]string {
	attrs := map[string]string{
		"categorical_risk":   r.CategoricalRisk,
		"categorical_fill":   DefaultFill,
		"categorical_stroke": DefaultStroke,
		"freshness":          string(r.Freshness),
	}
	if r.CategoricalStyling != nil {
		attrs["fill"] = r.CategoricalStyling.Fill
		attrs["stroke"] = r.CategoricalStyling.Stroke
		attrs["categorical_fill"] = r.CategoricalStyling.Fill
		attrs["categorical_stroke"] = r.CategoricalStyling.Stroke
	}
	if r.Validity != nil {
		attrs["valid"] = r.Validity.Valid
		attrs["issue"] = r.Validity.Issue
		attrs["expire"] = r.Validity.Expire
	}
	for h, o := range r.Hazards {
		prefix := h.Suffix()
		attrs[prefix+"_probability"] = o.Probability
		attrs[prefix+"_fill"] = DefaultFill
		attrs[prefix+"_stroke"] = DefaultStroke
		if o.Styling != nil {
			attrs[prefix+"_fill"] = o.Styling.Fill
			attrs[prefix+"_stroke"] = o.Styling.Stroke
		}
	}
	return attrs
}

// Snapshot is the complete set of per-day records published at one time.
// Snapshots are values; a new one replaces the old one wholesale.
type Snapshot struct {
	CycleID             string                `json:"cycle_id,omitempty"`
	Coordinate          Coordinate            `json:"coordinate"`
	Days                [MaxDay]OutlookRecord `json:"days"`
	GeneratedAt         time.Time             `json:"generated_at"`
	LastSuccessfulCycle time.Time             `json:"last_successful_cycle"`
	Freshness           Freshness             `json:"freshness"`
	RefreshFailed       bool                  `json:"refresh_failed"`
}

// ErrDayOutOfRange is returned for forecast days outside 1..MaxDay.
var ErrDayOutOfRange = errors.New("forecast day out of range")

// Day returns the record for forecast day d (1-based).
func (s Snapshot) Day(d int) (OutlookRecord, error) {
	if d < 1 || d > MaxDay {
		return OutlookRecord{}, fmt.Errorf("day %d: %w", d, ErrDayOutOfRange)
	}
	return s.Days[d-1], nil
}

// MarkStale returns a copy of s with the snapshot and every record marked
// Stale. Record contents and LastSuccessfulCycle are kept.
func (s Snapshot) MarkStale() Snapshot {
	out := s
	out.Freshness = Stale
	for i := range out.Days {
		out.Days[i].Freshness = Stale
	}
	return out
}

// DefaultSnapshot returns the all-sentinel snapshot for cfg. It is Stale and
// has no successful cycle time.
func DefaultSnapshot(cfg CatalogConfig, coord Coordinate) Snapshot {
	s := Snapshot{
		Coordinate: coord,
		Freshness:  Stale,
	}
	for i := range s.Days {
		s.Days[i] = defaultRecord(cfg, i+1)
		s.Days[i].Freshness = Stale
	}
	return s
}

func defaultRecord(cfg CatalogConfig, day int) OutlookRecord {
	rec := OutlookRecord{
		Day:             day,
		CategoricalRisk: Categorical.Sentinel(),
	}
	if cfg.InDetailedWindow(day) {
		rec.Hazards = make(map[Hazard]HazardOutlook)
		for _, h := range cfg.DetailedHazards() {
			rec.Hazards[h] = HazardOutlook{Probability: h.Sentinel()}
		}
	}
	return rec
}
