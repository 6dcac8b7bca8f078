package worker

import (
	"context"

	"github.com/diitku/diitku-offline/internal/cachestorage"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/network"
	"github.com/diitku/diitku-offline/internal/observability/metrics"
)

// provisioner fills the static bucket from the manifest on install.
type provisioner struct {
	profile Profile
	origin  string
	storage *cachestorage.Storage
	fetcher network.Fetcher
	metrics *metrics.Metrics
	log     logger.Logger
}

// Provision opens the static bucket and stores every manifest entry. If
// any entry fails nothing is stored.
func (p *provisioner) Provision(ctx context.Context) error {
	urls, err := p.profile.ResolveManifest(p.origin)
	if err != nil {
		return err
	}
	cache, err := p.storage.Open(ctx, p.profile.StaticBucket)
	if err != nil {
		return err
	}
	n, err := cache.AddAll(ctx, p.fetcher, urls)
	if err != nil {
		return errors.New(err).
			Component("worker").
			Category(errors.CategoryLifecycle).
			Context("bucket", p.profile.StaticBucket).
			Context("operation", "provision").
			Build()
	}
	p.metrics.SetProvisionedBytes(n)
	p.log.Info("static assets cached",
		logger.String("bucket", p.profile.StaticBucket),
		logger.Int("entries", len(urls)),
		logger.Int64("bytes", n))
	return nil
}
