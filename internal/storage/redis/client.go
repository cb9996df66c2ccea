package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jobportal/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	rateLimitPrefix = "login_limit:"
	principalPrefix = "principal:"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.cli.Ping(ctx).Err()
}

// Allow is a fixed-window counter. SET NX EX and INCR run in one MULTI, so the counter never
// exists without the window expiry.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := rateLimitPrefix + key
	var incr *redis.IntCmd
	_, err := c.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, window)
		incr = pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}

func (c *Client) Reset(ctx context.Context, key string) error {
	return c.cli.Del(ctx, rateLimitPrefix+key).Err()
}

func (c *Client) GetPrincipal(ctx context.Context, userID string) (model.Principal, bool, error) {
	raw, err := c.cli.Get(ctx, principalPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Principal{}, false, nil
	}
	if err != nil {
		return model.Principal{}, false, fmt.Errorf("redis get principal: %w", err)
	}
	var p model.Principal
	if err := json.Unmarshal(raw, &p); err != nil {
		// Unreadable entry counts as a miss; the caller reloads and overwrites it.
		return model.Principal{}, false, nil
	}
	return p, true, nil
}

func (c *Client) SetPrincipal(ctx context.Context, p model.Principal, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.cli.Set(ctx, principalPrefix+p.ID, raw, ttl).Err()
}

func (c *Client) DeletePrincipal(ctx context.Context, userID string) error {
	return c.cli.Del(ctx, principalPrefix+userID).Err()
}

func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.cli.Publish(ctx, channel, payload).Err()
}

func (c *Client) Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error {
	sub := c.cli.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fn([]byte(msg.Payload))
			}
		}
	}()
	return nil
}
