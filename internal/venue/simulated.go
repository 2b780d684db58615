package venue

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/model"
)

// SimulatedAdapter fabricates fills around a configurable mid-price and
// spread, for running the engine and its tests without live exchange
// connectivity. Mirrors the role of the teacher's mock-exchange test
// fixtures.
type SimulatedAdapter struct {
	id            string
	midPrice      decimal.Decimal
	spreadBps     decimal.Decimal
	latency       time.Duration
	fillRatio     decimal.Decimal // fraction of requested qty that actually fills
	rng           *rand.Rand
	availableFunc func() bool
}

// NewSimulatedAdapter builds a deterministic simulated venue. seed makes
// its quote-price jitter reproducible across test runs.
func NewSimulatedAdapter(id string, midPrice decimal.Decimal, spreadBps decimal.Decimal, latency time.Duration, seed int64) *SimulatedAdapter {
	return &SimulatedAdapter{
		id:            id,
		midPrice:      midPrice,
		spreadBps:     spreadBps,
		latency:       latency,
		fillRatio:     decimal.NewFromFloat(1.0),
		rng:           rand.New(rand.NewSource(seed)),
		availableFunc: func() bool { return true },
	}
}

func (s *SimulatedAdapter) VenueID() string { return s.id }

func (s *SimulatedAdapter) IsAvailable(ctx context.Context) bool {
	return s.availableFunc()
}

// SetAvailable lets tests flip a venue offline to exercise fallback routing.
func (s *SimulatedAdapter) SetAvailable(fn func() bool) {
	s.availableFunc = fn
}

func (s *SimulatedAdapter) Submit(ctx context.Context, orderID string, alloc model.Allocation, sym model.Symbol, side model.Side) (SubmitResult, error) {
	select {
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	case <-time.After(s.latency):
	}

	if !s.IsAvailable(ctx) {
		return SubmitResult{Accepted: false, RejectReason: "venue unavailable"}, nil
	}

	price := s.quotePrice(side)
	filled := alloc.Qty.Mul(s.fillRatio)
	if filled.IsZero() {
		return SubmitResult{Accepted: false, RejectReason: "no liquidity"}, nil
	}

	fill := model.Fill{
		FillID:        uuid.NewString(),
		OrderID:       orderID,
		VenueID:       s.id,
		Symbol:        sym,
		Side:          side,
		Qty:           filled,
		Price:         price,
		Fee:           filled.Mul(price).Mul(decimal.NewFromFloat(0.0005)),
		Timestamp:     time.Now(),
		LiquidityRole: model.LiquidityRoleTaker,
	}

	return SubmitResult{Fills: []model.Fill{fill}, Accepted: true}, nil
}

func (s *SimulatedAdapter) Cancel(ctx context.Context, orderID, venueOrderID string) error {
	return nil
}

func (s *SimulatedAdapter) quotePrice(side model.Side) decimal.Decimal {
	halfSpread := s.midPrice.Mul(s.spreadBps).Div(decimal.NewFromInt(20000))
	jitter := decimal.NewFromFloat(s.rng.Float64()*0.1 - 0.05).Mul(halfSpread)
	if side == model.SideBuy {
		return s.midPrice.Add(halfSpread).Add(jitter)
	}
	return s.midPrice.Sub(halfSpread).Add(jitter)
}

// SetFillRatio lets a test model partial fills or a dried-up book.
func (s *SimulatedAdapter) SetFillRatio(ratio decimal.Decimal) {
	s.fillRatio = ratio
}

func (s *SimulatedAdapter) String() string {
	return fmt.Sprintf("simulated(%s)", s.id)
}
