package liquidity

import (
	"context"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/model"
)

// SyntheticSource fabricates a multi-venue order book from a mid-price
// and a depth curve, for tests and for running the engine standalone.
type SyntheticSource struct {
	venues    []string
	midPrice  decimal.Decimal
	spreadBps decimal.Decimal
	levels    int
	rng       *rand.Rand
}

func NewSyntheticSource(venues []string, midPrice, spreadBps decimal.Decimal, levels int, seed int64) *SyntheticSource {
	return &SyntheticSource{
		venues:    venues,
		midPrice:  midPrice,
		spreadBps: spreadBps,
		levels:    levels,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

func (s *SyntheticSource) Depth(ctx context.Context, sym model.Symbol) (map[string]model.VenueDepth, error) {
	out := make(map[string]model.VenueDepth, len(s.venues))
	for i, venueID := range s.venues {
		out[venueID] = s.depthFor(i)
	}
	return out, nil
}

func (s *SyntheticSource) depthFor(venueIdx int) model.VenueDepth {
	halfSpread := s.midPrice.Mul(s.spreadBps).Div(decimal.NewFromInt(20000))
	skew := decimal.NewFromFloat(1.0 + 0.05*float64(venueIdx))

	bids := make([]model.PriceLevel, 0, s.levels)
	asks := make([]model.PriceLevel, 0, s.levels)

	for i := 0; i < s.levels; i++ {
		tick := decimal.NewFromInt(int64(i)).Mul(halfSpread).Div(decimal.NewFromInt(4))
		qty := decimal.NewFromFloat(1.0 + s.rng.Float64()*3).Mul(skew).Div(decimal.NewFromInt(int64(i + 1)))

		bids = append(bids, model.PriceLevel{Price: s.midPrice.Sub(halfSpread).Sub(tick), Qty: qty})
		asks = append(asks, model.PriceLevel{Price: s.midPrice.Add(halfSpread).Add(tick), Qty: qty})
	}

	return model.VenueDepth{
		Bids:      bids,
		Asks:      asks,
		Volume24h: decimal.NewFromFloat(1000).Mul(skew),
		LastTrade: s.midPrice,
	}
}
