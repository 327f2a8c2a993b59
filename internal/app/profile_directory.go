package app

import (
	"context"

	"github.com/cureliah/backend/internal/cache"
	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/metrics"
	"github.com/google/uuid"
)

const profileCacheName = "profile"

// ProfileReader is the store method the directory needs.
type ProfileReader interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
}

// ProfileDirectory caches profile rows for role checks and email lookups.
type ProfileDirectory struct {
	reader ProfileReader
	cache  *cache.Cache[uuid.UUID, *domain.Profile]
}

func NewProfileDirectory(reader ProfileReader, c *cache.Cache[uuid.UUID, *domain.Profile]) *ProfileDirectory {
	return &ProfileDirectory{reader: reader, cache: c}
}

func (d *ProfileDirectory) Lookup(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	if d.cache == nil {
		p, err := d.reader.GetProfile(ctx, id)
		return p, translateStoreErr(err)
	}
	if p, ok := d.cache.Get(id); ok {
		metrics.CacheLookups.WithLabelValues(profileCacheName, "hit").Inc()
		return p, nil
	}
	metrics.CacheLookups.WithLabelValues(profileCacheName, "miss").Inc()
	p, err := d.reader.GetProfile(ctx, id)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	d.cache.Set(id, p)
	return p, nil
}

// Forget drops a cached profile, e.g. after a role change.
func (d *ProfileDirectory) Forget(id uuid.UUID) {
	if d.cache != nil {
		d.cache.Invalidate(id)
	}
}
