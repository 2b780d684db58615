package metrics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror periodically publishes every tracked venue's Snapshot to
// Redis so other processes (a second executor instance, an analytics
// dashboard) can read venue quality without sharing this process's Tracker.
// Optional: the engine runs fine against an in-process Tracker alone.
type RedisMirror struct {
	client  *redis.Client
	tracker *Tracker
	prefix  string
	ttl     time.Duration
}

// NewRedisMirror builds a mirror from a RedisConfig-style URL. Returns nil
// if url is empty, matching the "Redis is optional" design.
func NewRedisMirror(url, password string, db int, tracker *Tracker) *RedisMirror {
	if url == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: url, Password: password, DB: db})
	return &RedisMirror{client: client, tracker: tracker, prefix: "execd:venue_metrics:", ttl: 30 * time.Second}
}

// Run publishes a snapshot of every tracked venue on each tick until ctx is
// cancelled.
func (m *RedisMirror) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.publishAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *RedisMirror) publishAll(ctx context.Context) {
	for _, snap := range m.tracker.All() {
		payload, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		m.client.Set(ctx, m.prefix+snap.VenueID, payload, m.ttl)
	}
}

// Close releases the underlying Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
