package algorithm

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/model"
)

// TWAP splits a parent order into evenly-sized, evenly-timed slices over
// a fixed horizon. RandomizeTiming jitters each release time by up to
// ±10% of the slice interval so the schedule isn't trivially detectable.
type TWAP struct {
	Slices          int
	Horizon         time.Duration
	RandomizeTiming bool
	rng             *rand.Rand
}

func NewTWAP(slices int, horizon time.Duration, randomize bool, seed int64) *TWAP {
	return &TWAP{Slices: slices, Horizon: horizon, RandomizeTiming: randomize, rng: rand.New(rand.NewSource(seed))}
}

func (t *TWAP) Name() model.AlgorithmHint { return model.AlgorithmTWAP }

func (t *TWAP) Schedule(ctx context.Context, order model.ParentOrder, now time.Time) ([]Slice, error) {
	n := t.Slices
	if n <= 0 {
		n = 1
	}
	if order.Constraints.MaxSlices > 0 && order.Constraints.MaxSlices < n {
		n = order.Constraints.MaxSlices
	}

	interval := t.Horizon / time.Duration(n)
	sliceQty := order.TotalQty.Div(decimal.NewFromInt(int64(n)))

	slices := make([]Slice, 0, n)
	allocated := decimal.Zero
	for i := 0; i < n; i++ {
		qty := sliceQty
		if i == n-1 {
			qty = order.TotalQty.Sub(allocated)
		} else {
			allocated = allocated.Add(qty)
		}

		releaseAt := now.Add(time.Duration(i) * interval)
		if t.RandomizeTiming && i > 0 {
			jitter := time.Duration((t.rng.Float64()*0.2 - 0.1) * float64(interval))
			releaseAt = releaseAt.Add(jitter)
		}

		slices = append(slices, Slice{Qty: qty, ReleaseAt: releaseAt, Priority: i})
	}

	return slices, nil
}
