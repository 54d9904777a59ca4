// Package events keeps a bounded feed of recent scan outcomes for the
// control API. The feed is a display buffer, not a store of record; the
// remote attendance system stays the source of truth.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"scanstation/internal/submit"
)

// Event types published by the scanner.
const (
	TypeScanSuccess = "scan.success"
	TypeScanFailure = "scan.failure"
	TypeScanNotice  = "scan.notice"
)

// Event is one entry in the outcome feed.
type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Class   string          `json:"class,omitempty"`
	Message string          `json:"message,omitempty"`
	Outcome *submit.Outcome `json:"outcome,omitempty"`
}

// Feed is the abstraction over feed backends.
type Feed interface {
	Publish(ctx context.Context, e Event) error
	// Recent returns up to n events, newest first.
	Recent(ctx context.Context, n int) ([]Event, error)
}

// InMemory is a ring buffer of recent events for single-process setups.
type InMemory struct {
	mu     sync.Mutex
	events []Event
	max    int
}

// NewInMemory creates a feed retaining the last max events.
func NewInMemory(max int) *InMemory {
	if max <= 0 {
		max = 100
	}
	return &InMemory{max: max}
}

// Publish appends an event, evicting the oldest when full. It never blocks
// the scan loop.
func (f *InMemory) Publish(_ context.Context, e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	if len(f.events) > f.max {
		f.events = f.events[len(f.events)-f.max:]
	}
	return nil
}

// Recent returns up to n events, newest first.
func (f *InMemory) Recent(_ context.Context, n int) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= 0 || n > len(f.events) {
		n = len(f.events)
	}
	out := make([]Event, 0, n)
	for i := len(f.events) - 1; i >= len(f.events)-n; i-- {
		out = append(out, f.events[i])
	}
	return out, nil
}

// RedisFeed keeps the feed in a capped Redis list so several stations can
// share one recent-scans view.
type RedisFeed struct {
	client *redis.Client
	key    string
	max    int64
}

// NewRedisFeed builds a feed using LPUSH/LTRIM semantics.
func NewRedisFeed(client *redis.Client, key string, max int) *RedisFeed {
	if key == "" {
		key = "scanstation:events"
	}
	if max <= 0 {
		max = 100
	}
	return &RedisFeed{client: client, key: key, max: int64(max)}
}

// Publish pushes the event and trims the list to the retention cap.
func (f *RedisFeed) Publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := f.client.TxPipeline()
	pipe.LPush(ctx, f.key, raw)
	pipe.LTrim(ctx, f.key, 0, f.max-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to n events, newest first.
func (f *RedisFeed) Recent(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 || int64(n) > f.max {
		n = int(f.max)
	}
	raws, err := f.client.LRange(ctx, f.key, 0, int64(n)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var e Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
}

// Healthy verifies redis connectivity.
func Healthy(ctx context.Context, client *redis.Client) bool {
	if client == nil {
		return false
	}
	return client.Ping(ctx).Err() == nil
}
