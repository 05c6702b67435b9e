package domain

import (
	"fmt"
	"time"
)

// CycleSummary counts layer outcomes for one resolution cycle.
type CycleSummary struct {
	Feeds     int `json:"feeds"`
	OK        int `json:"ok"`
	Failed    int `json:"failed"`
	Matched   int `json:"matched"`
	Anomalies int `json:"anomalies"`
}

// AllFailed reports whether no layer was retrieved this cycle.
func (s CycleSummary) AllFailed() bool { return s.Feeds > 0 && s.OK == 0 }

type dayTally struct {
	expected int
	failed   int
}

// Aggregate merges per-layer match outcomes into a Snapshot. Every day starts
// from its sentinel defaults and is only changed by outcomes for that day.
// Hazard outcomes outside the detailed window, or for hazards not in the
// configured set, are ignored. Outcomes for unknown days or hazards, and
// duplicate keys, are errors.
func Aggregate(cfg CatalogConfig, coord Coordinate, outcomes []MatchOutcome, cycleTime time.Time) (Snapshot, CycleSummary, error) {
	snap := Snapshot{
		Coordinate:          coord,
		GeneratedAt:         cycleTime,
		LastSuccessfulCycle: cycleTime,
	}
	for i := range snap.Days {
		snap.Days[i] = defaultRecord(cfg, i+1)
	}

	var (
		summary CycleSummary
		tally   [MaxDay]dayTally
		seen    = make(map[FeedKey]struct{}, len(outcomes))
	)
	for _, o := range outcomes {
		key := o.Descriptor.Key()
		if key.Day < 1 || key.Day > MaxDay {
			return Snapshot{}, CycleSummary{}, fmt.Errorf("outcome %s: %w", key, ErrDayOutOfRange)
		}
		if !key.Hazard.Valid() {
			return Snapshot{}, CycleSummary{}, fmt.Errorf("outcome for day %d: unknown hazard %d", key.Day, key.Hazard)
		}
		if _, dup := seen[key]; dup {
			return Snapshot{}, CycleSummary{}, fmt.Errorf("duplicate outcome for %s", key)
		}
		seen[key] = struct{}{}

		rec := &snap.Days[key.Day-1]
		if key.Hazard.Detailed() {
			if _, tracked := rec.Hazards[key.Hazard]; !tracked {
				continue
			}
		}

		summary.Feeds++
		summary.Anomalies += o.Anomalies
		tally[key.Day-1].expected++
		if o.Status != StatusOK {
			summary.Failed++
			tally[key.Day-1].failed++
			continue
		}
		summary.OK++
		if o.Feature == nil {
			continue
		}
		summary.Matched++
		applyMatch(rec, key.Hazard, o.Feature)
	}

	allFresh := true
	for i := range snap.Days {
		f := dayFreshness(tally[i])
		snap.Days[i].Freshness = f
		if f != Fresh {
			allFresh = false
		}
	}
	switch {
	case summary.AllFailed():
		snap.Freshness = Stale
	case allFresh:
		snap.Freshness = Fresh
	default:
		snap.Freshness = PartiallyStale
	}
	return snap, summary, nil
}

func applyMatch(rec *OutlookRecord, h Hazard, f *Feature) {
	styling := &Styling{Stroke: f.Stroke, Fill: f.Fill}
	validity := &Validity{Valid: f.Valid, Issue: f.Issue, Expire: f.Expire}
	if h == Categorical {
		rec.CategoricalRisk = f.Label
		rec.CategoricalStyling = styling
		rec.Validity = validity
		return
	}
	rec.Hazards[h] = HazardOutlook{
		Probability: f.Label,
		Styling:     styling,
		Validity:    validity,
	}
}

func dayFreshness(t dayTally) Freshness {
	switch {
	case t.expected == 0 || t.failed == t.expected:
		return Stale
	case t.failed == 0:
		return Fresh
	default:
		return PartiallyStale
	}
}
