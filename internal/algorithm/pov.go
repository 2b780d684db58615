package algorithm

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/model"
)

// POV (percentage-of-volume) works an order at a fixed fraction of recent
// traded volume rather than a fixed time schedule: each tick it estimates
// volume over the tick window and releases ParticipationRate of it, up to
// the remaining order quantity. MinClipSize keeps ticks from degenerating
// into dust when volume is thin.
type POV struct {
	ParticipationRate decimal.Decimal
	TickInterval      time.Duration
	MaxTicks          int
	MinClipSize       decimal.Decimal
	Estimator         VolumeEstimator
}

func NewPOV(participation decimal.Decimal, tick time.Duration, maxTicks int, minClip decimal.Decimal, est VolumeEstimator) *POV {
	return &POV{
		ParticipationRate: participation,
		TickInterval:      tick,
		MaxTicks:          maxTicks,
		MinClipSize:       minClip,
		Estimator:         est,
	}
}

func (p *POV) Name() model.AlgorithmHint { return model.AlgorithmPOV }

// Schedule lays out an initial plan using the volume estimate available
// at submission time, repeated across every tick since future windows
// cannot be measured yet. The orchestrator calls Adjust before each
// subsequent tick releases to recompute that tick's quantity from the
// volume actually realized in the window since the last tick.
func (p *POV) Schedule(ctx context.Context, order model.ParentOrder, now time.Time) ([]Slice, error) {
	maxTicks := p.MaxTicks
	if maxTicks <= 0 {
		maxTicks = 1
	}

	var recentVolume decimal.Decimal
	if p.Estimator != nil {
		v, err := p.Estimator.RecentVolume(ctx, order.Symbol, p.TickInterval)
		if err == nil {
			recentVolume = v
		}
	}

	perTick := recentVolume.Mul(p.ParticipationRate)
	if perTick.LessThan(p.MinClipSize) {
		perTick = p.MinClipSize
	}

	slices := make([]Slice, 0, maxTicks)
	remaining := order.TotalQty
	for i := 0; i < maxTicks && remaining.GreaterThan(decimal.Zero); i++ {
		qty := perTick
		if qty.GreaterThan(remaining) {
			qty = remaining
		}
		slices = append(slices, Slice{
			Qty:       qty,
			ReleaseAt: now.Add(time.Duration(i) * p.TickInterval),
			Priority:  i,
		})
		remaining = remaining.Sub(qty)
	}

	// Anything volume couldn't absorb within MaxTicks goes out on the
	// final tick so the order still completes within its constraints.
	if remaining.GreaterThan(decimal.Zero) && len(slices) > 0 {
		slices[len(slices)-1].Qty = slices[len(slices)-1].Qty.Add(remaining)
	}

	return slices, nil
}

// Adjust recomputes the next tick's quantity as
// participation_rate * volume_in_last_window using live volume, rather
// than the flat estimate Schedule had to assume for every tick up front.
func (p *POV) Adjust(ctx context.Context, order model.ParentOrder, remaining []Slice, now time.Time) ([]Slice, error) {
	if len(remaining) == 0 || p.Estimator == nil {
		return remaining, nil
	}

	recentVolume, err := p.Estimator.RecentVolume(ctx, order.Symbol, p.TickInterval)
	if err != nil {
		return remaining, nil
	}

	qty := recentVolume.Mul(p.ParticipationRate)
	if qty.LessThan(p.MinClipSize) {
		qty = p.MinClipSize
	}

	remainingTotal := decimal.Zero
	for _, s := range remaining {
		remainingTotal = remainingTotal.Add(s.Qty)
	}
	if qty.GreaterThan(remainingTotal) {
		qty = remainingTotal
	}

	out := append([]Slice(nil), remaining...)
	out[0].Qty = qty
	return out, nil
}
