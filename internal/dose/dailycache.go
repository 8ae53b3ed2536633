package dose

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DailyCache accumulates a patient's dose for the current UTC day and
// expires the bucket at UTC midnight.
type DailyCache interface {
	Add(ctx context.Context, patientID string, delta float64) (float64, error)
	Get(ctx context.Context, patientID string) (float64, error)
}

// RedisDailyCache backs the daily bucket with a Redis float counter
// keyed by patient and UTC date, TTL'd to expire at the next UTC
// midnight so a forgotten key never silently persists into the next
// day's accumulation.
type RedisDailyCache struct {
	client *redis.Client
	prefix string
}

// NewRedisDailyCache wraps client; prefix namespaces keys (e.g.
// "hnvue:dose:daily").
func NewRedisDailyCache(client *redis.Client, prefix string) *RedisDailyCache {
	return &RedisDailyCache{client: client, prefix: prefix}
}

func (c *RedisDailyCache) key(patientID string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, patientID, now.UTC().Format("2006-01-02"))
}

// Add increments the patient's UTC-today bucket by delta and returns
// the new total. It sets the key's expiry to the next UTC midnight on
// every write, so the TTL always reflects the current day's boundary
// even if the process clock drifts across a write.
func (c *RedisDailyCache) Add(ctx context.Context, patientID string, delta float64) (float64, error) {
	now := time.Now()
	key := c.key(patientID, now)

	total, err := c.client.IncrByFloat(ctx, key, delta).Result()
	if err != nil {
		return 0, err
	}

	nextMidnight := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	c.client.ExpireAt(ctx, key, nextMidnight)

	return total, nil
}

// Get returns the patient's UTC-today total, or 0 if no bucket exists
// yet.
func (c *RedisDailyCache) Get(ctx context.Context, patientID string) (float64, error) {
	key := c.key(patientID, time.Now())
	val, err := c.client.Get(ctx, key).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// InMemoryDailyCache is a process-local DailyCache for tests and for
// the detached-simulator deployment profile, where no Redis instance
// is configured.
type InMemoryDailyCache struct {
	mu     sync.Mutex
	totals map[string]float64
	day    map[string]string
}

// NewInMemoryDailyCache constructs an empty cache.
func NewInMemoryDailyCache() *InMemoryDailyCache {
	return &InMemoryDailyCache{totals: map[string]float64{}, day: map[string]string{}}
}

func (c *InMemoryDailyCache) Add(_ context.Context, patientID string, delta float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	today := time.Now().UTC().Format("2006-01-02")
	if c.day[patientID] != today {
		c.totals[patientID] = 0
		c.day[patientID] = today
	}
	c.totals[patientID] += delta
	return c.totals[patientID], nil
}

func (c *InMemoryDailyCache) Get(_ context.Context, patientID string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	today := time.Now().UTC().Format("2006-01-02")
	if c.day[patientID] != today {
		return 0, nil
	}
	return c.totals[patientID], nil
}
