package worker

import (
	"context"
	"slices"
	"sync"

	"github.com/diitku/diitku-offline/internal/cachestorage"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/observability/metrics"
)

// janitor deletes stale buckets on activate and claims clients.
type janitor struct {
	profile Profile
	storage *cachestorage.Storage
	clients ClientController
	metrics *metrics.Metrics
	log     logger.Logger
}

// Sweep deletes every bucket outside the current set. Deletions run
// concurrently; a failed deletion is logged and the bucket stays. Clients
// are claimed once all deletions settled. It returns the deleted names.
func (j *janitor) Sweep(ctx context.Context) ([]string, error) {
	names, err := j.storage.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		deleted []string
	)
	for _, name := range names {
		if j.profile.IsCurrent(name) {
			continue
		}
		wg.Go(func() {
			ok, err := j.storage.Delete(ctx, name)
			if err != nil {
				j.log.Warn("failed to delete stale bucket",
					logger.String("bucket", name),
					logger.Error(err))
				return
			}
			if !ok {
				return
			}
			j.metrics.RecordBucketDeleted()
			mu.Lock()
			deleted = append(deleted, name)
			mu.Unlock()
		})
	}
	wg.Wait()
	slices.Sort(deleted)

	claimed := 0
	if j.clients != nil {
		claimed = j.clients.Claim(j.profile.Version)
	}
	j.log.Info("activation cleanup finished",
		logger.Strings("deleted", deleted),
		logger.Int("claimed_clients", claimed))
	return deleted, nil
}
