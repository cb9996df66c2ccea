package service

import (
	"context"
	"sync"
	"time"

	"github.com/jobportal/internal/logger"
	"github.com/jobportal/internal/model"
	"github.com/jobportal/internal/storage"
)

// PrincipalDirectory is a read-through cache in front of a PrincipalLookup. Only found
// principals are cached; Invalidate must be called whenever a principal changes.
//
// A fill whose source read started before an Invalidate is not written back, and a user whose
// cache entry could not be deleted bypasses the cache on this instance until the entry's TTL
// has run out.
type PrincipalDirectory struct {
	source PrincipalLookup
	cache  storage.PrincipalCache
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	gen    map[string]uint64
	bypass map[string]time.Time
}

func NewPrincipalDirectory(source PrincipalLookup, cache storage.PrincipalCache, ttl time.Duration) *PrincipalDirectory {
	return &PrincipalDirectory{
		source: source,
		cache:  cache,
		ttl:    ttl,
		now:    time.Now,
		gen:    make(map[string]uint64),
		bypass: make(map[string]time.Time),
	}
}

func (d *PrincipalDirectory) cached(userID string) bool {
	if d.cache == nil || d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.bypass[userID]
	if !ok {
		return true
	}
	if d.now().Before(until) {
		return false
	}
	delete(d.bypass, userID)
	return true
}

func (d *PrincipalDirectory) GetPrincipal(ctx context.Context, userID string) (model.Principal, error) {
	useCache := d.cached(userID)
	if useCache {
		p, ok, err := d.cache.GetPrincipal(ctx, userID)
		if err != nil {
			// Fall through to the source.
			logger.Warnf("principal cache get: %v", err)
		} else if ok {
			return p, nil
		}
	}

	d.mu.Lock()
	gen := d.gen[userID]
	d.mu.Unlock()

	p, err := d.source.GetPrincipal(ctx, userID)
	if err != nil {
		return model.Principal{}, err
	}
	if useCache {
		d.fill(ctx, p, gen)
	}
	return p, nil
}

// fill stores p unless userID was invalidated after gen was read. The lock is held across the
// write so an Invalidate cannot slip between the check and the store.
func (d *PrincipalDirectory) fill(ctx context.Context, p model.Principal, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen[p.ID] != gen {
		logger.Debugf("principal %s changed during lookup, not cached", logger.MaskID(p.ID))
		return
	}
	if err := d.cache.SetPrincipal(ctx, p, d.ttl); err != nil {
		logger.Warnf("principal cache set: %v", err)
	}
}

// Invalidate drops the cached principal. On error the user keeps bypassing the cache here, but
// other instances may serve the old entry until it expires, so callers must report the failure.
func (d *PrincipalDirectory) Invalidate(ctx context.Context, userID string) error {
	if d.cache == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen[userID]++
	if err := d.cache.DeletePrincipal(ctx, userID); err != nil {
		d.bypass[userID] = d.now().Add(d.ttl)
		return err
	}
	return nil
}
