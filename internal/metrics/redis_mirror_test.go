package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisMirrorReturnsNilWithoutURL(t *testing.T) {
	mirror := NewRedisMirror("", "", 0, NewTracker())
	assert.Nil(t, mirror)
}

func TestNewRedisMirrorConfiguresDefaults(t *testing.T) {
	tracker := NewTracker()
	mirror := NewRedisMirror("localhost:6399", "", 0, tracker)
	require.NotNil(t, mirror)
	defer mirror.Close()

	assert.Equal(t, "execd:venue_metrics:", mirror.prefix)
	assert.Equal(t, 30*time.Second, mirror.ttl)
	assert.Same(t, tracker, mirror.tracker)
}

func TestPublishAllToleratesUnreachableRedis(t *testing.T) {
	tracker := NewTracker()
	tracker.Record("venueA", Observation{Filled: true, Success: true})

	mirror := NewRedisMirror("127.0.0.1:1", "", 0, tracker)
	require.NotNil(t, mirror)
	defer mirror.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NotPanics(t, func() { mirror.publishAll(ctx) })
}
