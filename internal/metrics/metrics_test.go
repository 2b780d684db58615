package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTrackerDefaultsNewVenueToOptimistic(t *testing.T) {
	tracker := NewTracker()
	snap := tracker.Snapshot("venueA")
	assert.Equal(t, 1.0, snap.FillRate)
	assert.Equal(t, 1.0, snap.Reliability)
	assert.Equal(t, int64(0), snap.SampleCount)
}

func TestTrackerFirstObservationSetsBaseline(t *testing.T) {
	tracker := NewTracker()
	tracker.Record("venueA", Observation{FillLatencyMs: 100, SlippageBps: 5, Filled: true, Success: true})

	snap := tracker.Snapshot("venueA")
	assert.Equal(t, 100.0, snap.AvgLatencyMs)
	assert.Equal(t, 5.0, snap.AvgSlippageBps)
	assert.Equal(t, int64(1), snap.SampleCount)
}

func TestTrackerEWMASmoothsSubsequentObservations(t *testing.T) {
	tracker := NewTracker()
	tracker.Record("venueA", Observation{FillLatencyMs: 100, Filled: true, Success: true})
	tracker.Record("venueA", Observation{FillLatencyMs: 300, Filled: true, Success: true})

	snap := tracker.Snapshot("venueA")
	// 100*(1-0.1) + 300*0.1 = 120
	assert.InDelta(t, 120.0, snap.AvgLatencyMs, 0.001)
}

func TestTrackerDecayPullsReliabilityDown(t *testing.T) {
	tracker := NewTracker()
	tracker.Record("venueA", Observation{Filled: true, Success: true})
	before := tracker.Snapshot("venueA").Reliability

	for i := 0; i < 5; i++ {
		tracker.Decay("venueA")
	}
	after := tracker.Snapshot("venueA").Reliability
	assert.Less(t, after, before)
}

func TestCompositeScoreRanksCheaperFasterVenueHigher(t *testing.T) {
	good := Snapshot{AvgLatencyMs: 50, FillRate: 1.0, Reliability: 1.0}
	bad := Snapshot{AvgLatencyMs: 1500, FillRate: 0.5, Reliability: 0.5}

	goodScore := good.CompositeScore(decimal.NewFromInt(1))
	badScore := bad.CompositeScore(decimal.NewFromInt(1))
	assert.True(t, goodScore.GreaterThan(badScore))
}

func TestCompositeScoreWeightsCostHeavily(t *testing.T) {
	base := Snapshot{AvgLatencyMs: 50, FillRate: 1.0, Reliability: 1.0}

	cheapScore := base.CompositeScore(decimal.NewFromInt(1))
	expensiveScore := base.CompositeScore(decimal.NewFromInt(50))
	assert.True(t, cheapScore.GreaterThan(expensiveScore))
}

func TestAllReturnsEveryTrackedVenue(t *testing.T) {
	tracker := NewTracker()
	tracker.Record("venueA", Observation{Filled: true, Success: true})
	tracker.Record("venueB", Observation{Filled: true, Success: true})

	snaps := tracker.All()
	assert.Len(t, snaps, 2)
}

func TestSnapshotLastUpdatedAdvancesOnRecord(t *testing.T) {
	tracker := NewTracker()
	tracker.Record("venueA", Observation{Filled: true, Success: true})
	first := tracker.Snapshot("venueA").LastUpdated

	time.Sleep(5 * time.Millisecond)
	tracker.Record("venueA", Observation{Filled: true, Success: true})
	second := tracker.Snapshot("venueA").LastUpdated

	assert.True(t, second.After(first))
}
