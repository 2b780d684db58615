package algorithm

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/model"
	"github.com/shadowbook/execd/internal/predictive"
)

// VWAP sizes slices proportional to a volume profile split into buckets
// across the horizon, so more quantity is worked during historically
// high-volume buckets. When the predictive engine returns a confident
// forecast, the current bucket's weight is nudged toward the forecast
// instead of the static profile, per its adaptive-sizing mandate.
type VWAP struct {
	BucketCount       int
	Horizon           time.Duration
	Predictive        predictive.Engine
	ParticipationRate decimal.Decimal
	Estimator         VolumeEstimator
	profile           []decimal.Decimal // static U-shaped weights, summing to 1
}

func NewVWAP(bucketCount int, horizon time.Duration, participation decimal.Decimal, pred predictive.Engine, est VolumeEstimator) *VWAP {
	return &VWAP{
		BucketCount:       bucketCount,
		Horizon:           horizon,
		Predictive:        pred,
		ParticipationRate: participation,
		Estimator:         est,
		profile:           uShapedProfile(bucketCount),
	}
}

// uShapedProfile weights the open and close buckets heavier, matching
// typical intraday volume curves, and normalizes to sum to 1.
func uShapedProfile(n int) []decimal.Decimal {
	if n <= 0 {
		n = 1
	}
	raw := make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1+boolToInt(n == 1))
		w := 1.2 - x*(1-x)*2 // higher at the edges, lower in the middle
		raw[i] = w
		total += w
	}
	out := make([]decimal.Decimal, n)
	for i, w := range raw {
		out[i] = decimal.NewFromFloat(w / total)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (v *VWAP) Name() model.AlgorithmHint { return model.AlgorithmVWAP }

func (v *VWAP) Schedule(ctx context.Context, order model.ParentOrder, now time.Time) ([]Slice, error) {
	n := len(v.profile)
	interval := v.Horizon / time.Duration(n)

	weights := append([]decimal.Decimal(nil), v.profile...)

	if v.Predictive != nil {
		forecast, err := v.Predictive.Forecast(ctx, order.Symbol, v.Horizon)
		if err == nil && forecast.Confidence.GreaterThan(decimal.NewFromFloat(0.5)) {
			// Blend the first bucket toward the forecast's confidence,
			// leaving the remaining profile proportionally unchanged.
			blend := forecast.Confidence
			weights[0] = weights[0].Mul(decimal.NewFromFloat(1).Sub(blend)).Add(blend)
		}
	}

	total := decimal.Zero
	for _, w := range weights {
		total = total.Add(w)
	}

	slices := make([]Slice, 0, n)
	allocated := decimal.Zero
	for i, w := range weights {
		var qty decimal.Decimal
		if i == n-1 {
			qty = order.TotalQty.Sub(allocated)
		} else {
			qty = order.TotalQty.Mul(w).Div(total)
			allocated = allocated.Add(qty)
		}
		slices = append(slices, Slice{Qty: qty, ReleaseAt: now.Add(time.Duration(i) * interval), Priority: i})
	}

	return slices, nil
}

// Adjust rescales the next unreleased bucket by how realized volume
// compared to the volume Schedule implicitly assumed for that bucket
// (bucket qty / ParticipationRate), shrinking down to 0.8x when volume
// came in light and growing up to 1.5x when it came in heavy, capped by
// what ParticipationRate alone would allow. Whatever quantity that
// rescaling adds or removes is redistributed evenly across the
// remaining buckets so the order's total committed quantity never
// drifts from what Schedule originally promised.
func (v *VWAP) Adjust(ctx context.Context, order model.ParentOrder, remaining []Slice, now time.Time) ([]Slice, error) {
	if len(remaining) == 0 || v.Estimator == nil || v.ParticipationRate.LessThanOrEqual(decimal.Zero) {
		return remaining, nil
	}

	n := len(v.profile)
	if n <= 0 {
		n = 1
	}
	interval := v.Horizon / time.Duration(n)

	recentVolume, err := v.Estimator.RecentVolume(ctx, order.Symbol, interval)
	if err != nil {
		return remaining, nil
	}

	next := remaining[0]
	forecastVolume := next.Qty.Div(v.ParticipationRate)
	if forecastVolume.LessThanOrEqual(decimal.Zero) {
		return remaining, nil
	}

	factor := recentVolume.Div(forecastVolume)
	switch {
	case factor.LessThan(decimal.NewFromFloat(0.8)):
		factor = decimal.NewFromFloat(0.8)
	case factor.GreaterThan(decimal.NewFromFloat(1.5)):
		factor = decimal.NewFromFloat(1.5)
	}

	adjustedQty := next.Qty.Mul(factor)
	participationCap := v.ParticipationRate.Mul(recentVolume)
	if participationCap.GreaterThan(decimal.Zero) && adjustedQty.GreaterThan(participationCap) {
		adjustedQty = participationCap
	}

	out := append([]Slice(nil), remaining...)
	delta := next.Qty.Sub(adjustedQty)
	out[0].Qty = adjustedQty

	if len(out) > 1 && !delta.IsZero() {
		share := delta.Div(decimal.NewFromInt(int64(len(out) - 1)))
		for i := 1; i < len(out); i++ {
			out[i].Qty = out[i].Qty.Add(share)
			if out[i].Qty.LessThan(decimal.Zero) {
				out[i].Qty = decimal.Zero
			}
		}
	}

	return out, nil
}
