package domain

import (
	"fmt"
	"strings"
)

// Hazard identifies an outlook layer family.
type Hazard uint8

const (
	Categorical Hazard = iota
	Tornado
	Hail
	Wind
)

// DetailedHazards lists the hazard-specific layers in catalog order.
var DetailedHazards = []Hazard{Tornado, Hail, Wind}

var hazardNames = [...]struct {
	name   string
	suffix string
}{
	Categorical: {name: "categorical", suffix: "cat"},
	Tornado:     {name: "tornado", suffix: "torn"},
	Hail:        {name: "hail", suffix: "hail"},
	Wind:        {name: "wind", suffix: "wind"},
}

// Valid reports whether h is one of the known hazards.
func (h Hazard) Valid() bool { return int(h) < len(hazardNames) }

// Detailed reports whether h is a hazard-specific (probabilistic) layer.
func (h Hazard) Detailed() bool { return h.Valid() && h != Categorical }

func (h Hazard) String() string {
	if !h.Valid() {
		return fmt.Sprintf("hazard(%d)", uint8(h))
	}
	return hazardNames[h].name
}

// Suffix returns the SPC file-name suffix for the layer ("cat", "torn", ...).
func (h Hazard) Suffix() string {
	if !h.Valid() {
		return ""
	}
	return hazardNames[h].suffix
}

// Sentinel returns the value reported when the layer has no match or failed.
func (h Hazard) Sentinel() string {
	if h == Categorical {
		return NoRisk
	}
	return NoData
}

func (h Hazard) MarshalText() ([]byte, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("invalid hazard %d", uint8(h))
	}
	return []byte(h.String()), nil
}

func (h *Hazard) UnmarshalText(text []byte) error {
	parsed, err := ParseHazard(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHazard accepts either the hazard name ("tornado") or its SPC suffix
// ("torn"), case-insensitively.
func ParseHazard(s string) (Hazard, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range hazardNames {
		if s == n.name || s == n.suffix {
			return Hazard(i), nil
		}
	}
	return 0, fmt.Errorf("unknown hazard %q", s)
}

// FeedKey identifies one layer for one forecast day.
type FeedKey struct {
	Day    int
	Hazard Hazard
}

// String renders the key as "<suffix>_day<N>", e.g. "torn_day1".
func (k FeedKey) String() string {
	return fmt.Sprintf("%s_day%d", k.Hazard.Suffix(), k.Day)
}
