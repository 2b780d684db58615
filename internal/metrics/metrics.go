// Package metrics tracks per-venue execution quality with an
// exponentially-weighted moving average, and rolls those observations up
// into the composite score the router uses to rank candidates.
package metrics

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ewmaAlpha is the smoothing factor applied to every venue metric update.
// Low enough that a single bad fill doesn't whipsaw a venue's score, high
// enough that a venue recovers within a few dozen fills.
const ewmaAlpha = 0.1

// Observation is one data point fed into a venue's running metrics: a
// completed fill, a rejected order, or a synthetic health-check tick.
type Observation struct {
	FillLatencyMs int64
	SlippageBps   float64
	Filled        bool
	Success       bool
}

// Snapshot is the current EWMA state for one venue, safe to copy and
// publish (e.g. mirrored to Redis or exported as a Prometheus gauge).
type Snapshot struct {
	VenueID         string
	AvgLatencyMs    float64
	AvgSlippageBps  float64
	FillRate        float64
	Reliability     float64
	SampleCount     int64
	LastUpdated     time.Time
}

// CompositeScore combines a venue's EWMA snapshot into the single score
// the router ranks candidates by. Weights sum to 1; cost dominates
// because basis points of slippage directly cost money, speed and
// reliability are tie-breakers.
func (s Snapshot) CompositeScore(expectedCostBps decimal.Decimal) decimal.Decimal {
	costScore := decimal.NewFromFloat(1.0).Sub(clamp01(expectedCostBps.Div(decimal.NewFromInt(100))))
	speedScore := decimal.NewFromFloat(1.0).Sub(clamp01(decimal.NewFromFloat(s.AvgLatencyMs / 2000)))
	sizeScore := clamp01(decimal.NewFromFloat(s.FillRate))
	reliabilityScore := clamp01(decimal.NewFromFloat(s.Reliability))

	const (
		wCost        = 0.4
		wSpeed       = 0.2
		wSize        = 0.2
		wReliability = 0.2
	)

	return costScore.Mul(decimal.NewFromFloat(wCost)).
		Add(speedScore.Mul(decimal.NewFromFloat(wSpeed))).
		Add(sizeScore.Mul(decimal.NewFromFloat(wSize))).
		Add(reliabilityScore.Mul(decimal.NewFromFloat(wReliability)))
}

func clamp01(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return d
}

type venueState struct {
	mu          sync.Mutex
	avgLatency  float64
	avgSlippage float64
	fillRate    float64
	reliability float64
	samples     int64
	lastUpdated time.Time
}

// Tracker owns one venueState per venue, each independently locked so
// concurrent fills on different venues never contend with each other.
type Tracker struct {
	mu     sync.RWMutex
	venues map[string]*venueState
}

func NewTracker() *Tracker {
	return &Tracker{venues: make(map[string]*venueState)}
}

func (t *Tracker) stateFor(venueID string) *venueState {
	t.mu.RLock()
	s, ok := t.venues[venueID]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.venues[venueID]; ok {
		return s
	}
	s = &venueState{reliability: 1.0, fillRate: 1.0, lastUpdated: time.Now()}
	t.venues[venueID] = s
	return s
}

// Record folds one observation into venueID's running EWMA state.
func (t *Tracker) Record(venueID string, obs Observation) {
	s := t.stateFor(venueID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.samples == 0 {
		s.avgLatency = float64(obs.FillLatencyMs)
		s.avgSlippage = obs.SlippageBps
	} else {
		s.avgLatency = s.avgLatency*(1-ewmaAlpha) + float64(obs.FillLatencyMs)*ewmaAlpha
		s.avgSlippage = s.avgSlippage*(1-ewmaAlpha) + obs.SlippageBps*ewmaAlpha
	}

	filledVal := 0.0
	if obs.Filled {
		filledVal = 1.0
	}
	s.fillRate = s.fillRate*(1-ewmaAlpha) + filledVal*ewmaAlpha

	successVal := 0.0
	if obs.Success {
		successVal = 1.0
	}
	s.reliability = s.reliability*(1-ewmaAlpha) + successVal*ewmaAlpha

	s.samples++
	s.lastUpdated = time.Now()
}

// Decay folds in a "no data" tick for a venue that has gone quiet,
// pulling its reliability toward zero so a silent venue doesn't keep the
// score it earned from its last real fill forever.
func (t *Tracker) Decay(venueID string) {
	t.Record(venueID, Observation{Success: false, Filled: false})
}

// Snapshot returns the current state for venueID.
func (t *Tracker) Snapshot(venueID string) Snapshot {
	s := t.stateFor(venueID)
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		VenueID:        venueID,
		AvgLatencyMs:   s.avgLatency,
		AvgSlippageBps: s.avgSlippage,
		FillRate:       s.fillRate,
		Reliability:    s.reliability,
		SampleCount:    s.samples,
		LastUpdated:    s.lastUpdated,
	}
}

// All returns a snapshot per tracked venue.
func (t *Tracker) All() []Snapshot {
	t.mu.RLock()
	ids := make([]string, 0, len(t.venues))
	for id := range t.venues {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.Snapshot(id))
	}
	return out
}
