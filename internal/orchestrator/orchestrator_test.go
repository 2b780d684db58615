package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowbook/execd/internal/algorithm"
	"github.com/shadowbook/execd/internal/executor"
	"github.com/shadowbook/execd/internal/liquidity"
	"github.com/shadowbook/execd/internal/metrics"
	"github.com/shadowbook/execd/internal/model"
	"github.com/shadowbook/execd/internal/predictive"
	"github.com/shadowbook/execd/internal/protection"
	"github.com/shadowbook/execd/internal/router"
	"github.com/shadowbook/execd/internal/routingrules"
	"github.com/shadowbook/execd/internal/safety"
	"github.com/shadowbook/execd/internal/venue"
)

type fakeDepthSource struct {
	venues []string
	price  decimal.Decimal
	depth  decimal.Decimal
}

func (f fakeDepthSource) Depth(ctx context.Context, sym model.Symbol) (map[string]model.VenueDepth, error) {
	out := make(map[string]model.VenueDepth, len(f.venues))
	for _, v := range f.venues {
		out[v] = model.VenueDepth{
			Bids: []model.PriceLevel{{Price: f.price.Sub(decimal.NewFromInt(1)), Qty: f.depth}},
			Asks: []model.PriceLevel{{Price: f.price.Add(decimal.NewFromInt(1)), Qty: f.depth}},
		}
	}
	return out, nil
}

type fakeVenueAdapter struct {
	id        string
	available bool
	delay     time.Duration
}

func (a *fakeVenueAdapter) VenueID() string { return a.id }

func (a *fakeVenueAdapter) IsAvailable(ctx context.Context) bool { return a.available }

func (a *fakeVenueAdapter) Submit(ctx context.Context, orderID string, alloc model.Allocation, sym model.Symbol, side model.Side) (venue.SubmitResult, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return venue.SubmitResult{}, ctx.Err()
		}
	}
	return venue.SubmitResult{
		Accepted: true,
		Fills: []model.Fill{{
			FillID: orderID + "-" + a.id, OrderID: orderID, VenueID: a.id, Symbol: sym, Side: side,
			Qty: alloc.Qty, Price: alloc.ExpectedPrice, Timestamp: time.Now(),
		}},
	}, nil
}

func (a *fakeVenueAdapter) Cancel(ctx context.Context, orderID, venueOrderID string) error { return nil }

// partialFillVenueAdapter only ever fills a fixed fraction of what it's
// asked for, modeling a venue that can't absorb the whole allocation.
type partialFillVenueAdapter struct {
	id           string
	fillFraction decimal.Decimal
}

func (a *partialFillVenueAdapter) VenueID() string { return a.id }

func (a *partialFillVenueAdapter) IsAvailable(ctx context.Context) bool { return true }

func (a *partialFillVenueAdapter) Submit(ctx context.Context, orderID string, alloc model.Allocation, sym model.Symbol, side model.Side) (venue.SubmitResult, error) {
	return venue.SubmitResult{
		Accepted: true,
		Fills: []model.Fill{{
			FillID: orderID + "-" + a.id, OrderID: orderID, VenueID: a.id, Symbol: sym, Side: side,
			Qty: alloc.Qty.Mul(a.fillFraction), Price: alloc.ExpectedPrice, Timestamp: time.Now(),
		}},
	}, nil
}

func (a *partialFillVenueAdapter) Cancel(ctx context.Context, orderID, venueOrderID string) error {
	return nil
}

// slippageVenueAdapter always fills away from the expected price by a
// fixed number of basis points, modeling a venue whose realized prices
// blow through the allocation's expectation.
type slippageVenueAdapter struct {
	id        string
	offsetBps decimal.Decimal
}

func (a *slippageVenueAdapter) VenueID() string { return a.id }

func (a *slippageVenueAdapter) IsAvailable(ctx context.Context) bool { return true }

func (a *slippageVenueAdapter) Submit(ctx context.Context, orderID string, alloc model.Allocation, sym model.Symbol, side model.Side) (venue.SubmitResult, error) {
	shift := alloc.ExpectedPrice.Mul(a.offsetBps).Div(decimal.NewFromInt(10000))
	return venue.SubmitResult{
		Accepted: true,
		Fills: []model.Fill{{
			FillID: orderID + "-" + a.id, OrderID: orderID, VenueID: a.id, Symbol: sym, Side: side,
			Qty: alloc.Qty, Price: alloc.ExpectedPrice.Add(shift), Timestamp: time.Now(),
		}},
	}, nil
}

func (a *slippageVenueAdapter) Cancel(ctx context.Context, orderID, venueOrderID string) error {
	return nil
}

// countingVolumeEstimator records how many times its volume was sampled,
// so a test can confirm an adaptive algorithm pulled live volume beyond
// its initial Schedule() estimate.
type countingVolumeEstimator struct {
	mu     sync.Mutex
	calls  int
	volume decimal.Decimal
}

func (c *countingVolumeEstimator) RecentVolume(ctx context.Context, sym model.Symbol, window time.Duration) (decimal.Decimal, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.volume, nil
}

func (c *countingVolumeEstimator) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestOrchestrator(t *testing.T, mode safety.Mode, venueIDs ...string) (*Orchestrator, *safety.Gate) {
	t.Helper()

	reg := venue.NewRegistry()
	for _, id := range venueIDs {
		reg.Register(venue.Descriptor{ID: id, RateLimitRPS: 1000, RateLimitBurst: 1000}, &fakeVenueAdapter{id: id, available: true})
	}

	liqView := liquidity.NewView(fakeDepthSource{venues: venueIDs, price: decimal.NewFromInt(100), depth: decimal.NewFromInt(10000)})
	require.NoError(t, liqView.Refresh(context.Background(), "BTC-USD"))

	tracker := metrics.NewTracker()
	rules := routingrules.New()
	r := router.New(router.Config{
		MaxVenuesPerOrder: 3,
		MinFillSize:       decimal.NewFromInt(1),
		MinDepthFraction:  decimal.NewFromFloat(0.01),
	}, reg, liqView, tracker, rules)

	exec := executor.New(reg, executor.DefaultConfig(), nil, nil)
	factory := algorithm.NewFactory(predictive.FlatEngine{}, nil, 1)
	gate := safety.NewGate(mode)

	orch := New(gate, r, exec, factory, protection.NoopService{}, nil, nil, nil)
	t.Cleanup(orch.Close)

	return orch, gate
}

func TestSubmitDirectFillSingleVenue(t *testing.T) {
	orch, _ := newTestOrchestrator(t, safety.ModeSimulation, "venueA")

	order := model.ParentOrder{
		OrderID: "ord-1", Symbol: "BTC-USD", Side: model.SideBuy,
		TotalQty: decimal.NewFromInt(10), Algorithm: model.AlgorithmNone,
	}

	result, err := orch.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.True(t, result.FilledQty.Equal(order.TotalQty))
}

func TestSubmitProportionalSplitAcrossVenues(t *testing.T) {
	orch, _ := newTestOrchestrator(t, safety.ModeSimulation, "venueA", "venueB", "venueC")

	order := model.ParentOrder{
		OrderID: "ord-2", Symbol: "BTC-USD", Side: model.SideBuy,
		TotalQty: decimal.NewFromInt(100), Algorithm: model.AlgorithmNone,
	}

	result, err := orch.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.True(t, result.FilledQty.Equal(order.TotalQty))
	assert.GreaterOrEqual(t, len(result.RouteSummaries), 1)
}

func TestSubmitRejectedWhenTradingPaused(t *testing.T) {
	orch, _ := newTestOrchestrator(t, safety.ModePaused, "venueA")

	order := model.ParentOrder{
		OrderID: "ord-3", Symbol: "BTC-USD", Side: model.SideBuy,
		TotalQty: decimal.NewFromInt(10),
	}

	result, err := orch.Submit(context.Background(), order)
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, result.Status)
}

func TestSubmitWithTWAPAlgorithmSchedulesMultipleSlices(t *testing.T) {
	orch, _ := newTestOrchestrator(t, safety.ModeSimulation, "venueA")
	orch.algorithms = &algorithm.Factory{DefaultSlices: 3, RandomSeed: 1}

	order := model.ParentOrder{
		OrderID: "ord-4", Symbol: "BTC-USD", Side: model.SideBuy,
		TotalQty: decimal.NewFromInt(30), Algorithm: model.AlgorithmTWAP,
		Constraints: model.Constraints{MaxSlices: 3},
		Metadata:    model.OrderMetadata{Urgency: model.UrgencyCritical},
	}

	result, err := orch.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.True(t, result.FilledQty.Equal(order.TotalQty))
}

func TestSubmitRejectsInvalidOrder(t *testing.T) {
	orch, _ := newTestOrchestrator(t, safety.ModeSimulation, "venueA")

	order := model.ParentOrder{OrderID: "", Symbol: "BTC-USD", TotalQty: decimal.NewFromInt(10)}
	_, err := orch.Submit(context.Background(), order)
	assert.Error(t, err)
}

func TestCancelStopsInFlightOrderBeforeGrace(t *testing.T) {
	reg := venue.NewRegistry()
	reg.Register(venue.Descriptor{ID: "venueA", RateLimitRPS: 1000, RateLimitBurst: 1000}, &fakeVenueAdapter{id: "venueA", available: true, delay: 5 * time.Second})

	liqView := liquidity.NewView(fakeDepthSource{venues: []string{"venueA"}, price: decimal.NewFromInt(100), depth: decimal.NewFromInt(10000)})
	require.NoError(t, liqView.Refresh(context.Background(), "BTC-USD"))

	tracker := metrics.NewTracker()
	r := router.New(router.Config{MaxVenuesPerOrder: 3, MinDepthFraction: decimal.NewFromFloat(0.01)}, reg, liqView, tracker, routingrules.New())
	exec := executor.New(reg, executor.DefaultConfig(), nil, nil)
	factory := algorithm.NewFactory(predictive.FlatEngine{}, nil, 1)
	gate := safety.NewGate(safety.ModeSimulation)

	orch := New(gate, r, exec, factory, protection.NoopService{}, nil, nil, nil)
	t.Cleanup(orch.Close)

	order := model.ParentOrder{OrderID: "ord-5", Symbol: "BTC-USD", Side: model.SideBuy, TotalQty: decimal.NewFromInt(10)}

	done := make(chan struct{})
	go func() {
		_, _ = orch.Submit(context.Background(), order)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	require.NoError(t, orch.Cancel(context.Background(), order.OrderID))
	assert.Less(t, time.Since(start), cancelGrace)

	<-done
}

func TestSubmitRejectedWhileSafetyGatePaused(t *testing.T) {
	orch, gate := newTestOrchestrator(t, safety.ModeLive, "venueA")

	gate.SetMode(context.Background(), safety.ModePaused, "operator pause")
	time.Sleep(50 * time.Millisecond)

	order := model.ParentOrder{
		OrderID: "ord-6", Symbol: "BTC-USD", Side: model.SideBuy,
		TotalQty: decimal.NewFromInt(10),
	}
	result, err := orch.Submit(context.Background(), order)
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, result.Status)
}

func TestSubmitUnderfilledOrderReportsPartialStatus(t *testing.T) {
	reg := venue.NewRegistry()
	reg.Register(venue.Descriptor{ID: "venueA", RateLimitRPS: 1000, RateLimitBurst: 1000}, &partialFillVenueAdapter{id: "venueA", fillFraction: decimal.NewFromFloat(0.5)})

	liqView := liquidity.NewView(fakeDepthSource{venues: []string{"venueA"}, price: decimal.NewFromInt(100), depth: decimal.NewFromInt(10000)})
	require.NoError(t, liqView.Refresh(context.Background(), "BTC-USD"))

	tracker := metrics.NewTracker()
	r := router.New(router.Config{MaxVenuesPerOrder: 3, MinDepthFraction: decimal.NewFromFloat(0.01)}, reg, liqView, tracker, routingrules.New())
	exec := executor.New(reg, executor.DefaultConfig(), nil, nil)
	factory := algorithm.NewFactory(predictive.FlatEngine{}, nil, 1)
	gate := safety.NewGate(safety.ModeSimulation)

	orch := New(gate, r, exec, factory, protection.NoopService{}, nil, nil, nil)
	t.Cleanup(orch.Close)

	order := model.ParentOrder{OrderID: "ord-8", Symbol: "BTC-USD", Side: model.SideBuy, TotalQty: decimal.NewFromInt(10)}

	result, err := orch.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, result.Status)
	assert.True(t, result.FilledQty.Equal(decimal.NewFromFloat(5)))
}

func TestSubmitCancelsRemainingSlicesWhenSlippageExceedsConstraint(t *testing.T) {
	reg := venue.NewRegistry()
	reg.Register(venue.Descriptor{ID: "venueA", RateLimitRPS: 1000, RateLimitBurst: 1000}, &slippageVenueAdapter{id: "venueA", offsetBps: decimal.NewFromInt(500)})

	liqView := liquidity.NewView(fakeDepthSource{venues: []string{"venueA"}, price: decimal.NewFromInt(100), depth: decimal.NewFromInt(10000)})
	require.NoError(t, liqView.Refresh(context.Background(), "BTC-USD"))

	tracker := metrics.NewTracker()
	r := router.New(router.Config{MaxVenuesPerOrder: 3, MinDepthFraction: decimal.NewFromFloat(0.01)}, reg, liqView, tracker, routingrules.New())
	exec := executor.New(reg, executor.DefaultConfig(), nil, nil)
	factory := algorithm.NewFactory(predictive.FlatEngine{}, nil, 1)
	factory.DefaultSlices = 2
	gate := safety.NewGate(safety.ModeSimulation)

	orch := New(gate, r, exec, factory, protection.NoopService{}, nil, nil, nil)
	t.Cleanup(orch.Close)

	order := model.ParentOrder{
		OrderID: "ord-9", Symbol: "BTC-USD", Side: model.SideBuy,
		TotalQty: decimal.NewFromInt(30), Algorithm: model.AlgorithmTWAP,
		Constraints: model.Constraints{MaxSlices: 2, MaxSlippageBps: 10},
	}

	result, err := orch.Submit(context.Background(), order)
	require.Error(t, err)
	assert.Equal(t, model.StatusPartial, result.Status)
	assert.True(t, result.FilledQty.LessThan(order.TotalQty), "the second slice should never have executed once slippage breached the constraint")
}

func TestSubmitExpiresWhenExceedingMaxExecutionTime(t *testing.T) {
	orch, _ := newTestOrchestrator(t, safety.ModeSimulation, "venueA")
	orch.algorithms.DefaultSlices = 2

	order := model.ParentOrder{
		OrderID: "ord-10", Symbol: "BTC-USD", Side: model.SideBuy,
		TotalQty: decimal.NewFromInt(30), Algorithm: model.AlgorithmTWAP,
		Constraints: model.Constraints{MaxSlices: 2, MaxExecutionTime: 10 * time.Millisecond},
	}

	result, err := orch.Submit(context.Background(), order)
	require.Error(t, err)
	assert.Equal(t, model.StatusExpired, result.Status)
	assert.True(t, result.FilledQty.LessThan(order.TotalQty))
}

func TestSubmitWithPOVAlgorithmCallsAdjustBetweenTicks(t *testing.T) {
	orch, _ := newTestOrchestrator(t, safety.ModeSimulation, "venueA")

	est := &countingVolumeEstimator{volume: decimal.NewFromInt(100)}
	dur := algorithm.DefaultDurations()
	dur.Critical = 3
	orch.algorithms = &algorithm.Factory{DefaultSlices: 3, DefaultHorizon: dur, VolumeEstimator: est, RandomSeed: 1}

	order := model.ParentOrder{
		OrderID: "ord-11", Symbol: "BTC-USD", Side: model.SideBuy,
		TotalQty: decimal.NewFromInt(25), Algorithm: model.AlgorithmPOV,
		Metadata: model.OrderMetadata{Urgency: model.UrgencyCritical},
	}

	result, err := orch.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.True(t, result.FilledQty.Equal(order.TotalQty))
	assert.GreaterOrEqual(t, est.callCount(), 2, "POV.Adjust should have pulled live volume beyond the initial Schedule estimate")
}
