package algorithm

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/model"
	"github.com/shadowbook/execd/internal/predictive"
)

// Factory builds the concrete Algorithm for an order's algorithm hint,
// using urgency to pick each algorithm's horizon: higher urgency
// compresses the horizon, and with it POV's tick interval and Iceberg's
// replenish interval. Participation rates and clip sizes do not depend on
// urgency.
type Factory struct {
	DefaultSlices   int
	DefaultHorizon  durationByUrgency
	Predictive      predictive.Engine
	VolumeEstimator VolumeEstimator
	RandomSeed      int64
}

// durationByUrgency lets callers tune the base horizon per urgency level;
// Select scales it further based on the hint.
type durationByUrgency struct {
	Low, Medium, High, Critical int64 // seconds
}

func DefaultDurations() durationByUrgency {
	return durationByUrgency{Low: 1800, Medium: 600, High: 120, Critical: 30}
}

func NewFactory(pred predictive.Engine, est VolumeEstimator, seed int64) *Factory {
	return &Factory{
		DefaultSlices:   10,
		DefaultHorizon:  DefaultDurations(),
		Predictive:      pred,
		VolumeEstimator: est,
		RandomSeed:      seed,
	}
}

func (f *Factory) horizonSeconds(urgency model.Urgency) int64 {
	switch urgency {
	case model.UrgencyLow:
		return f.DefaultHorizon.Low
	case model.UrgencyMedium:
		return f.DefaultHorizon.Medium
	case model.UrgencyHigh:
		return f.DefaultHorizon.High
	case model.UrgencyCritical:
		return f.DefaultHorizon.Critical
	default:
		return f.DefaultHorizon.Medium
	}
}

// Select returns the Algorithm implementation for an order's algorithm
// hint. AlgorithmNone is not schedulable here; callers should route
// it directly through the executor as a single slice.
func (f *Factory) Select(order model.ParentOrder) (Algorithm, error) {
	horizon := secondsToDuration(f.horizonSeconds(order.Metadata.Urgency))

	switch order.Algorithm {
	case model.AlgorithmTWAP:
		slices := f.DefaultSlices
		if order.Constraints.MaxSlices > 0 && order.Constraints.MaxSlices < slices {
			slices = order.Constraints.MaxSlices
		}
		return NewTWAP(slices, horizon, true, f.RandomSeed), nil

	case model.AlgorithmVWAP:
		return NewVWAP(f.DefaultSlices, horizon, decimal.NewFromFloat(0.1), f.Predictive, f.VolumeEstimator), nil

	case model.AlgorithmPOV:
		tick := secondsToDuration(f.horizonSeconds(order.Metadata.Urgency) / int64(f.DefaultSlices))
		return NewPOV(decimal.NewFromFloat(0.1), tick, f.DefaultSlices*3, decimal.NewFromFloat(1), f.VolumeEstimator), nil

	case model.AlgorithmIceberg:
		visible := order.TotalQty.Div(decimal.NewFromInt(int64(f.DefaultSlices)))
		return NewIceberg(visible, decimal.NewFromFloat(0.2), secondsToDuration(f.horizonSeconds(order.Metadata.Urgency)/int64(f.DefaultSlices)), f.RandomSeed), nil

	default:
		return nil, fmt.Errorf("algorithm: no schedulable algorithm for hint %q", order.Algorithm)
	}
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
