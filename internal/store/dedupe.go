package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// DefaultMemoryDedupeWindow is how long the in-process deduper remembers an event id.
const DefaultMemoryDedupeWindow = time.Hour

// Deduper remembers which webhook event ids have already been handled.
type Deduper interface {
	// MarkProcessed records eventID and reports whether this is its first delivery.
	MarkProcessed(ctx context.Context, eventID, eventType string) (first bool, err error)
}

// eventMarker is the value stored under a processed event key.
type eventMarker struct {
	EventType  string    `json:"event_type"`
	ReceivedAt time.Time `json:"received_at"`
}

// RedisDeduper de-duplicates with SET NX so every replica shares one view.
type RedisDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{
		client: client,
		prefix: normalizePrefix(prefix),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (d *RedisDeduper) key(eventID string) string {
	return fmt.Sprintf("%s:webhook:%s", d.prefix, eventID)
}

func (d *RedisDeduper) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return true, nil
	}

	value, err := sonic.Marshal(eventMarker{EventType: eventType, ReceivedAt: d.now().UTC()})
	if err != nil {
		return true, fmt.Errorf("failed to encode event marker: %w", err)
	}

	ok, err := d.client.SetNX(ctx, d.key(eventID), value, d.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("failed to record event %s in redis: %w", eventID, err)
	}
	return ok, nil
}

// MemoryDeduper is a process-local Deduper with a sliding window.
type MemoryDeduper struct {
	mu        sync.Mutex
	processed map[string]time.Time
	window    time.Duration
	now       func() time.Time
}

func NewMemoryDeduper(window time.Duration) *MemoryDeduper {
	if window <= 0 {
		window = DefaultMemoryDedupeWindow
	}
	return &MemoryDeduper{
		processed: make(map[string]time.Time),
		window:    window,
		now:       time.Now,
	}
}

func (d *MemoryDeduper) MarkProcessed(_ context.Context, eventID, _ string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return true, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cutoff := now.Add(-d.window)
	for id, seen := range d.processed {
		if seen.Before(cutoff) {
			delete(d.processed, id)
		}
	}

	if _, exists := d.processed[eventID]; exists {
		return false, nil
	}
	d.processed[eventID] = now
	return true, nil
}

func normalizePrefix(prefix string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		return "aop"
	}
	return trimmed
}
