package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jobportal/internal/model"
)

type principalItem struct {
	p   model.Principal
	exp time.Time
}

type subscriber struct {
	fn func([]byte)
}

// Client is an in-process Store. Pub/sub only reaches subscribers of the same process.
type Client struct {
	mu         sync.RWMutex
	limit      map[string][]time.Time
	principals map[string]principalItem
	subs       map[string]map[*subscriber]struct{}
	now        func() time.Time
}

func New() *Client {
	return &Client{
		limit:      make(map[string][]time.Time),
		principals: make(map[string]principalItem),
		subs:       make(map[string]map[*subscriber]struct{}),
		now:        time.Now,
	}
}

// WithClock replaces the clock used for expiry, for tests.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

func (c *Client) Close() error { return nil }

// Allow uses a sliding window of hit timestamps.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	cut := now.Add(-window)
	var kept []time.Time
	for _, t := range c.limit[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		c.limit[key] = kept
		return false, nil
	}
	c.limit[key] = append(kept, now)
	return true, nil
}

func (c *Client) Reset(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.limit, key)
	return nil
}

func (c *Client) GetPrincipal(ctx context.Context, userID string) (model.Principal, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.principals[userID]
	if !ok || !c.now().Before(v.exp) {
		return model.Principal{}, false, nil
	}
	return v.p, true, nil
}

func (c *Client) SetPrincipal(ctx context.Context, p model.Principal, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.principals[p.ID] = principalItem{p: p, exp: c.now().Add(ttl)}
	return nil
}

func (c *Client) DeletePrincipal(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.principals, userID)
	return nil
}

func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	c.mu.RLock()
	fns := make([]func([]byte), 0, len(c.subs[channel]))
	for s := range c.subs[channel] {
		fns = append(fns, s.fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		fn(msg)
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error {
	s := &subscriber{fn: fn}
	c.mu.Lock()
	if c.subs[channel] == nil {
		c.subs[channel] = make(map[*subscriber]struct{})
	}
	c.subs[channel][s] = struct{}{}
	c.mu.Unlock()
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs[channel], s)
		c.mu.Unlock()
	}()
	return nil
}
