package pipeline

import (
	"context"
	"time"

	"github.com/couchcryptid/spc-outlook-service/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Fetcher retrieves one outlook layer. Implementations report every failure
// through FeedResult.Status and never return an error.
type Fetcher interface {
	Fetch(ctx context.Context, d domain.FeedDescriptor) domain.FeedResult
}

// timeoutReporter is implemented by fetchers with a fixed per-layer timeout.
type timeoutReporter interface {
	Timeout() time.Duration
}

// FetchAll fetches every descriptor concurrently and waits for all of them.
// results[i] always corresponds to descs[i]; one failed layer never cancels
// the others.
func FetchAll(ctx context.Context, f Fetcher, descs []domain.FeedDescriptor) []domain.FeedResult {
	results := make([]domain.FeedResult, len(descs))

	var g errgroup.Group
	for i, d := range descs {
		g.Go(func() error {
			res := f.Fetch(ctx, d)
			res.Descriptor = d
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}
