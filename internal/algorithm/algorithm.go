// Package algorithm implements the execution algorithms that turn a
// ParentOrder into a schedule of child slices: TWAP, VWAP, POV, and
// Iceberg.
package algorithm

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/model"
)

// Slice is one scheduled child execution: a quantity to route no earlier
// than ReleaseAt. The orchestrator's slice loop blocks until ReleaseAt,
// then hands the slice to the router/executor pair.
type Slice struct {
	Qty       decimal.Decimal
	ReleaseAt time.Time
	Priority  int
}

// Algorithm produces a slice schedule for a parent order. Implementations
// must be deterministic given the same TimeSource and RNG seed so tests
// can assert exact schedules.
type Algorithm interface {
	Name() model.AlgorithmHint
	Schedule(ctx context.Context, order model.ParentOrder, now time.Time) ([]Slice, error)
}

// Adaptive is implemented by algorithms whose schedule is a plan, not a
// commitment: after each slice group releases, the orchestrator offers
// the still-unreleased slices back to Adjust so the remaining schedule
// can react to realized volume instead of riding out the original
// Schedule() forecast unchanged. VWAP and POV implement it; TWAP and
// Iceberg work to a fixed plan and don't.
type Adaptive interface {
	Algorithm
	Adjust(ctx context.Context, order model.ParentOrder, remaining []Slice, now time.Time) ([]Slice, error)
}

// VolumeEstimator supplies the recent traded volume an algorithm needs to
// size its slices (VWAP's bucket weights, POV's participation target).
// cmd/executord wires no estimator (nil): VWAP.Adjust and POV.Adjust then
// return the schedule unchanged, and POV.Schedule sizes every tick at
// MinClipSize.
type VolumeEstimator interface {
	RecentVolume(ctx context.Context, sym model.Symbol, window time.Duration) (decimal.Decimal, error)
}
