package domain

import (
	"fmt"
	"strings"
)

// DefaultBaseURL is the SPC convective outlook product root.
const DefaultBaseURL = "https://www.spc.noaa.gov/products/outlook"

// CatalogConfig selects which layers are fetched each cycle.
type CatalogConfig struct {
	BaseURL string
	// DetailedDays is the number of leading days that carry hazard layers.
	DetailedDays int
	// Hazards is the detailed hazard set. Categorical entries are ignored; the
	// categorical layer is always fetched.
	Hazards []Hazard
}

// DefaultCatalogConfig returns the stock SPC layout.
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		BaseURL:      DefaultBaseURL,
		DetailedDays: DefaultDetailedDays,
		Hazards:      DetailedHazards,
	}
}

// InDetailedWindow reports whether day carries hazard layers.
func (c CatalogConfig) InDetailedWindow(day int) bool {
	return day >= 1 && day <= MaxDay && day <= c.DetailedDays
}

// DetailedHazards returns the configured hazard set deduplicated and in
// catalog order.
func (c CatalogConfig) DetailedHazards() []Hazard {
	var want [len(hazardNames)]bool
	for _, h := range c.Hazards {
		if h.Detailed() {
			want[h] = true
		}
	}
	out := make([]Hazard, 0, len(DetailedHazards))
	for _, h := range DetailedHazards {
		if want[h] {
			out = append(out, h)
		}
	}
	return out
}

// BuildCatalog lists the layers to fetch: for each day 1..MaxDay the
// categorical layer, followed on detailed days by each configured hazard.
// The result is deterministic and free of duplicate keys.
func BuildCatalog(cfg CatalogConfig) []FeedDescriptor {
	hazards := cfg.DetailedHazards()
	base := strings.TrimRight(cfg.BaseURL, "/")

	descs := make([]FeedDescriptor, 0, MaxDay+len(hazards)*min(max(cfg.DetailedDays, 0), MaxDay))
	for day := 1; day <= MaxDay; day++ {
		descs = append(descs, newDescriptor(base, day, Categorical))
		if !cfg.InDetailedWindow(day) {
			continue
		}
		for _, h := range hazards {
			descs = append(descs, newDescriptor(base, day, h))
		}
	}
	return descs
}

func newDescriptor(base string, day int, h Hazard) FeedDescriptor {
	return FeedDescriptor{
		Day:    day,
		Hazard: h,
		URL:    fmt.Sprintf("%s/day%dotlk_%s.lyr.geojson", base, day, h.Suffix()),
	}
}
