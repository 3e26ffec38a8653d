package appointment

import (
	"context"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
)

const activeDoctorsKey = "doctors:active"

// CachedDirectory serves ListActiveDoctors from memory for ttl. The roster
// changes rarely and is read on every booking form.
type CachedDirectory struct {
	next  DirectoryStore
	cache *cache.Cache
}

// NewCachedDirectory wraps next. A ttl of zero or less disables caching.
func NewCachedDirectory(next DirectoryStore, ttl time.Duration) DirectoryStore {
	if ttl <= 0 {
		return next
	}
	return &CachedDirectory{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *CachedDirectory) ListActiveDoctors(ctx context.Context) ([]string, error) {
	if cached, found := c.cache.Get(activeDoctorsKey); found {
		return slices.Clone(cached.([]string)), nil
	}

	names, err := c.next.ListActiveDoctors(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(activeDoctorsKey, slices.Clone(names), cache.DefaultExpiration)
	return names, nil
}

func (c *CachedDirectory) SetDoctorActive(ctx context.Context, name string, active bool) (bool, error) {
	defer c.Invalidate()
	return c.next.SetDoctorActive(ctx, name, active)
}

func (c *CachedDirectory) SeedDefaults(ctx context.Context) error {
	defer c.Invalidate()
	return c.next.SeedDefaults(ctx)
}

func (c *CachedDirectory) Invalidate() {
	c.cache.Delete(activeDoctorsKey)
}
