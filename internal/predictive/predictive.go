// Package predictive defines the forward-looking price/volume signal an
// algorithm MAY consult to adapt its schedule (VWAP blends its first
// bucket's weight toward a confident forecast). Bounded-timeout contract: a slow predictor must never stall the
// slice loop.
package predictive

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/model"
)

// Forecast is a short-horizon prediction for one symbol.
type Forecast struct {
	ExpectedMidPrice  decimal.Decimal
	ExpectedVolume    decimal.Decimal
	Confidence        decimal.Decimal
	HorizonSeconds    int
}

// Engine is the external collaborator algorithms consult for forward
// guidance. Implementations MAY operate in a synthetic mode.
type Engine interface {
	Forecast(ctx context.Context, sym model.Symbol, horizon time.Duration) (Forecast, error)
}

// FlatEngine is a default implementation that predicts "no change" with
// zero confidence, so algorithms fall back to their non-adaptive
// schedule when no real predictive integration is configured.
type FlatEngine struct{}

func (FlatEngine) Forecast(ctx context.Context, sym model.Symbol, horizon time.Duration) (Forecast, error) {
	return Forecast{Confidence: decimal.Zero, HorizonSeconds: int(horizon.Seconds())}, nil
}
