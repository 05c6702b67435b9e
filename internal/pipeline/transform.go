package pipeline

import (
	"log/slog"

	"github.com/couchcryptid/spc-outlook-service/internal/domain"
)

// matchAll runs the geometry matcher over every fetched layer, in order.
func matchAll(results []domain.FeedResult, coord domain.Coordinate, logger *slog.Logger) []domain.MatchOutcome {
	outcomes := make([]domain.MatchOutcome, len(results))
	for i, res := range results {
		outcomes[i] = domain.MatchFeed(res, coord, logger)
		if o := outcomes[i]; o.Feature != nil {
			logger.Debug("feed matched",
				"feed", o.Descriptor.Key().String(),
				"label", o.Feature.Label,
			)
		}
	}
	return outcomes
}
