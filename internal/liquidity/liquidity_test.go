package liquidity

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowbook/execd/internal/model"
)

type fakeSource struct {
	perVenue map[string]model.VenueDepth
	err      error
}

func (f fakeSource) Depth(ctx context.Context, sym model.Symbol) (map[string]model.VenueDepth, error) {
	return f.perVenue, f.err
}

func lvl(price, qty int64) model.PriceLevel {
	return model.PriceLevel{Price: decimal.NewFromInt(price), Qty: decimal.NewFromInt(qty)}
}

func TestRefreshAggregatesAcrossVenues(t *testing.T) {
	src := fakeSource{perVenue: map[string]model.VenueDepth{
		"venueA": {Asks: []model.PriceLevel{lvl(101, 10)}, Bids: []model.PriceLevel{lvl(99, 10)}},
		"venueB": {Asks: []model.PriceLevel{lvl(101, 5)}, Bids: []model.PriceLevel{lvl(98, 20)}},
	}}
	v := NewView(src)
	require.NoError(t, v.Refresh(context.Background(), "BTC-USD"))

	snap, fresh := v.Snapshot("BTC-USD")
	require.True(t, fresh)
	assert.True(t, snap.BestAsk.Equal(decimal.NewFromInt(101)))
	assert.True(t, snap.BestBid.Equal(decimal.NewFromInt(99)))

	// Both venues quote 101 on the ask side; they should merge into one level.
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Qty.Equal(decimal.NewFromInt(15)))
}

func TestSnapshotReportsStaleAfterWindow(t *testing.T) {
	src := fakeSource{perVenue: map[string]model.VenueDepth{
		"venueA": {Asks: []model.PriceLevel{lvl(101, 10)}, Bids: []model.PriceLevel{lvl(99, 10)}},
	}}
	v := NewView(src)
	require.NoError(t, v.Refresh(context.Background(), "BTC-USD"))

	v.mu.Lock()
	snap := v.snapshots["BTC-USD"]
	snap.Timestamp = time.Now().Add(-3 * time.Second)
	v.snapshots["BTC-USD"] = snap
	v.mu.Unlock()

	_, fresh := v.Snapshot("BTC-USD")
	assert.False(t, fresh)
}

func TestSnapshotMissingSymbolIsNotFresh(t *testing.T) {
	v := NewView(fakeSource{})
	_, fresh := v.Snapshot("ETH-USD")
	assert.False(t, fresh)
}

func TestDepthAtPriceSumsOnlyBetterOrEqualLevels(t *testing.T) {
	snap := model.LiquiditySnapshot{
		Asks: []model.AggregatedLevel{
			{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(10)},
			{Price: decimal.NewFromInt(101), Qty: decimal.NewFromInt(10)},
			{Price: decimal.NewFromInt(105), Qty: decimal.NewFromInt(10)},
		},
	}
	depth := DepthAtPrice(snap, model.SideBuy, decimal.NewFromInt(101))
	assert.True(t, depth.Equal(decimal.NewFromInt(20)))
}

func TestImbalanceFavorsHeavierSide(t *testing.T) {
	src := fakeSource{perVenue: map[string]model.VenueDepth{
		"venueA": {Bids: []model.PriceLevel{lvl(99, 90)}, Asks: []model.PriceLevel{lvl(101, 10)}},
	}}
	v := NewView(src)
	require.NoError(t, v.Refresh(context.Background(), "BTC-USD"))

	snap, _ := v.Snapshot("BTC-USD")
	assert.True(t, snap.Imbalance.GreaterThan(decimal.Zero), "heavier bid side should yield positive imbalance")
}

func TestRefreshPropagatesSourceError(t *testing.T) {
	v := NewView(fakeSource{err: assert.AnError})
	err := v.Refresh(context.Background(), "BTC-USD")
	assert.Error(t, err)
}
