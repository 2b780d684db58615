// Package liquidity maintains the aggregated, read-only order-book view
// the router and algorithms price against.
package liquidity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/model"
)

// Source is the external collaborator a concrete market-data feed
// implements; the View polls or subscribes to it and republishes
// coalesced snapshots.
type Source interface {
	Depth(ctx context.Context, sym model.Symbol) (map[string]model.VenueDepth, error)
}

// staleAfter is how long a snapshot may be served before a consumer
// should treat it as stale and refuse to route against it.
const staleAfter = 2 * time.Second

// View holds the latest LiquiditySnapshot per symbol, replacing it
// atomically on each refresh so readers never observe a partially
// updated book.
type View struct {
	mu        sync.RWMutex
	snapshots map[model.Symbol]model.LiquiditySnapshot
	source    Source
}

func NewView(source Source) *View {
	return &View{
		snapshots: make(map[model.Symbol]model.LiquiditySnapshot),
		source:    source,
	}
}

// Refresh pulls depth from the source and republishes the aggregated
// snapshot for sym.
func (v *View) Refresh(ctx context.Context, sym model.Symbol) error {
	perVenue, err := v.source.Depth(ctx, sym)
	if err != nil {
		return err
	}

	snap := aggregate(sym, perVenue)

	v.mu.Lock()
	v.snapshots[sym] = snap
	v.mu.Unlock()

	return nil
}

// Snapshot returns the current snapshot for sym and whether it is fresh
// enough to route against.
func (v *View) Snapshot(sym model.Symbol) (model.LiquiditySnapshot, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	snap, ok := v.snapshots[sym]
	if !ok {
		return model.LiquiditySnapshot{}, false
	}
	fresh := time.Since(snap.Timestamp) <= staleAfter
	return snap, fresh
}

// DepthAtPrice returns the cumulative available quantity at or better
// than limitPrice on the requested side, used by the router's
// InsufficientLiquidity check.
func DepthAtPrice(snap model.LiquiditySnapshot, side model.Side, limitPrice decimal.Decimal) decimal.Decimal {
	levels := snap.Asks
	if side == model.SideSell {
		levels = snap.Bids
	}

	total := decimal.Zero
	for _, lvl := range levels {
		if side == model.SideBuy && lvl.Price.GreaterThan(limitPrice) {
			break
		}
		if side == model.SideSell && lvl.Price.LessThan(limitPrice) {
			break
		}
		total = total.Add(lvl.Qty)
	}
	return total
}

func aggregate(sym model.Symbol, perVenue map[string]model.VenueDepth) model.LiquiditySnapshot {
	bidLevels := map[string]*model.AggregatedLevel{}
	askLevels := map[string]*model.AggregatedLevel{}

	for venueID, depth := range perVenue {
		mergeInto(bidLevels, depth.Bids, venueID)
		mergeInto(askLevels, depth.Asks, venueID)
	}

	bids := flatten(bidLevels)
	asks := flatten(askLevels)

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	snap := model.LiquiditySnapshot{
		Symbol:    sym,
		Timestamp: time.Now(),
		Bids:      bids,
		Asks:      asks,
		PerVenue:  perVenue,
	}

	if len(bids) > 0 {
		snap.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		snap.BestAsk = asks[0].Price
	}
	if !snap.BestBid.IsZero() && !snap.BestAsk.IsZero() {
		snap.Spread = snap.BestAsk.Sub(snap.BestBid)
	}
	snap.Imbalance = computeImbalance(bids, asks)

	return snap
}

func mergeInto(levels map[string]*model.AggregatedLevel, raw []model.PriceLevel, venueID string) {
	for _, l := range raw {
		key := l.Price.String()
		agg, ok := levels[key]
		if !ok {
			agg = &model.AggregatedLevel{Price: l.Price}
			levels[key] = agg
		}
		agg.Qty = agg.Qty.Add(l.Qty)
		agg.Venues = append(agg.Venues, venueID)
	}
}

func flatten(levels map[string]*model.AggregatedLevel) []model.AggregatedLevel {
	out := make([]model.AggregatedLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, *l)
	}
	return out
}

// computeImbalance is (bidQty - askQty) / (bidQty + askQty) over the top
// five levels on each side, in [-1, 1].
func computeImbalance(bids, asks []model.AggregatedLevel) decimal.Decimal {
	bidQty := sumTop(bids, 5)
	askQty := sumTop(asks, 5)
	total := bidQty.Add(askQty)
	if total.IsZero() {
		return decimal.Zero
	}
	return bidQty.Sub(askQty).Div(total)
}

func sumTop(levels []model.AggregatedLevel, n int) decimal.Decimal {
	total := decimal.Zero
	for i, l := range levels {
		if i >= n {
			break
		}
		total = total.Add(l.Qty)
	}
	return total
}
