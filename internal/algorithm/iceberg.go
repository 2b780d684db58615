package algorithm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/model"
)

// clipHistoryWindow bounds how many recent clips feed the size and timing
// consistency heuristics, so detection risk reacts to the current
// cadence rather than the order's entire history.
const clipHistoryWindow = 5

// Default detection-score coefficients. The source this was distilled
// from hardcoded these; since it's unclear whether they were empirically
// tuned, Iceberg exposes them as overridable fields instead of baking
// them into the formula.
const (
	defaultDetectionAlertThreshold = 0.7
	defaultDetectionEWMAAlpha      = 0.5
	defaultNaturalSizeCV           = 0.15
	defaultNaturalTimingCV         = 0.2
	defaultPricePersistenceStreak  = 3
)

// Iceberg repeatedly exposes a small visible clip, waits for it to fill
// (approximated here by a fixed Replenish interval), and exposes the next
// clip, hiding the true order size from the book. VarianceFraction jitters
// each clip's size by up to that fraction so consecutive clips aren't
// trivially identical, which is itself a detectable fingerprint.
//
// Every clip is fed through a four-heuristic detection-risk model: size
// consistency, timing consistency, price persistence, and size relative
// to typical market clips. When the EWMA of those scores crosses the
// alert threshold, the iceberg treats itself as fingerprinted and adapts
// by widening its size variance and nudging its resting price.
type Iceberg struct {
	VisibleQty       decimal.Decimal
	VarianceFraction decimal.Decimal
	Replenish        time.Duration
	PriceTick        decimal.Decimal
	// MarketAvgClipQty is the typical clip size seen elsewhere in this
	// market; the market-percentile heuristic is skipped when unset.
	MarketAvgClipQty decimal.Decimal

	// Detection-score coefficients, defaulted by NewIceberg but callers
	// may override per venue/market as empirical tuning data arrives.
	DetectionAlertThreshold decimal.Decimal
	DetectionEWMAAlpha      decimal.Decimal
	NaturalSizeCV           decimal.Decimal
	NaturalTimingCV         decimal.Decimal
	PricePersistenceStreak  int

	rng *rand.Rand

	clipQtys      []decimal.Decimal
	clipIntervals []time.Duration
	lastReleaseAt time.Time
	samePriceRun  int
	priceOffset   int
	detectionRisk decimal.Decimal

	// Alerts records one entry every time a clip pushed detection risk
	// above DetectionAlertThreshold.
	Alerts []string
}

func NewIceberg(visibleQty, varianceFraction decimal.Decimal, replenish time.Duration, seed int64) *Iceberg {
	return &Iceberg{
		VisibleQty:              visibleQty,
		VarianceFraction:        varianceFraction,
		Replenish:               replenish,
		PriceTick:               decimal.NewFromFloat(0.01),
		DetectionAlertThreshold: decimal.NewFromFloat(defaultDetectionAlertThreshold),
		DetectionEWMAAlpha:      decimal.NewFromFloat(defaultDetectionEWMAAlpha),
		NaturalSizeCV:           decimal.NewFromFloat(defaultNaturalSizeCV),
		NaturalTimingCV:         decimal.NewFromFloat(defaultNaturalTimingCV),
		PricePersistenceStreak:  defaultPricePersistenceStreak,
		rng:                     rand.New(rand.NewSource(seed)),
	}
}

func (ic *Iceberg) Name() model.AlgorithmHint { return model.AlgorithmIceberg }

func (ic *Iceberg) Schedule(ctx context.Context, order model.ParentOrder, now time.Time) ([]Slice, error) {
	visible := ic.VisibleQty
	if visible.LessThanOrEqual(decimal.Zero) || visible.GreaterThan(order.TotalQty) {
		visible = order.TotalQty
	}

	var slices []Slice
	remaining := order.TotalQty
	i := 0
	for remaining.GreaterThan(decimal.Zero) {
		releaseAt := now.Add(time.Duration(i) * ic.Replenish)
		qty := ic.jitteredClip(visible)
		if qty.GreaterThan(remaining) {
			qty = remaining
		}

		slices = append(slices, Slice{
			Qty:       qty,
			ReleaseAt: releaseAt,
			Priority:  i,
		})

		ic.recordClip(qty, releaseAt)

		remaining = remaining.Sub(qty)
		i++
	}

	return slices, nil
}

func (ic *Iceberg) jitteredClip(visible decimal.Decimal) decimal.Decimal {
	if ic.VarianceFraction.LessThanOrEqual(decimal.Zero) {
		return visible
	}
	jitter := (ic.rng.Float64()*2 - 1) * ic.VarianceFraction.InexactFloat64()
	factor := decimal.NewFromFloat(1 + jitter)
	clip := visible.Mul(factor)
	if clip.LessThanOrEqual(decimal.Zero) {
		return visible
	}
	return clip
}

// recordClip folds one released clip into the detection-risk EWMA and
// triggers adaptation once the alert threshold is crossed.
func (ic *Iceberg) recordClip(qty decimal.Decimal, releaseAt time.Time) {
	if !ic.lastReleaseAt.IsZero() {
		ic.clipIntervals = appendBounded(ic.clipIntervals, releaseAt.Sub(ic.lastReleaseAt), clipHistoryWindow)
	}
	ic.lastReleaseAt = releaseAt
	ic.clipQtys = appendDecimalBounded(ic.clipQtys, qty, clipHistoryWindow)

	// The resting price only moves in adapt, which resets the run.
	ic.samePriceRun++

	raw := ic.sizeConsistencyScore().
		Add(ic.timingConsistencyScore()).
		Add(ic.pricePersistenceScore()).
		Add(ic.marketPercentileScore(qty))

	alpha := ic.detectionAlpha()
	ic.detectionRisk = ic.detectionRisk.Mul(decimal.NewFromInt(1).Sub(alpha)).
		Add(raw.Mul(alpha))

	threshold := ic.detectionThreshold()
	if ic.detectionRisk.GreaterThan(threshold) {
		ic.Alerts = append(ic.Alerts, fmt.Sprintf("clip %d: detection risk %s above %s threshold",
			len(ic.clipQtys), ic.detectionRisk.StringFixed(2), threshold.StringFixed(2)))
		ic.adapt()
	}
}

func (ic *Iceberg) detectionAlpha() decimal.Decimal {
	if ic.DetectionEWMAAlpha.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromFloat(defaultDetectionEWMAAlpha)
	}
	return ic.DetectionEWMAAlpha
}

func (ic *Iceberg) detectionThreshold() decimal.Decimal {
	if ic.DetectionAlertThreshold.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromFloat(defaultDetectionAlertThreshold)
	}
	return ic.DetectionAlertThreshold
}

func (ic *Iceberg) naturalSizeCV() decimal.Decimal {
	if ic.NaturalSizeCV.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromFloat(defaultNaturalSizeCV)
	}
	return ic.NaturalSizeCV
}

func (ic *Iceberg) naturalTimingCV() decimal.Decimal {
	if ic.NaturalTimingCV.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromFloat(defaultNaturalTimingCV)
	}
	return ic.NaturalTimingCV
}

func (ic *Iceberg) pricePersistenceStreak() int64 {
	if ic.PricePersistenceStreak <= 0 {
		return defaultPricePersistenceStreak
	}
	return int64(ic.PricePersistenceStreak)
}

// sizeConsistencyScore rewards (with up to 0.3) clip sizes that vary less
// than a natural iceberg's sizing jitter would.
func (ic *Iceberg) sizeConsistencyScore() decimal.Decimal {
	if len(ic.clipQtys) < 2 {
		return decimal.Zero
	}
	cv := coefficientOfVariation(ic.clipQtys)
	ratio := cv.Div(ic.naturalSizeCV())
	return decimal.NewFromFloat(0.3).Mul(clampUnit(decimal.NewFromInt(1).Sub(ratio)))
}

// timingConsistencyScore rewards (with up to 0.3) inter-clip intervals
// that are more regular than natural market timing.
func (ic *Iceberg) timingConsistencyScore() decimal.Decimal {
	if len(ic.clipIntervals) < 2 {
		return decimal.Zero
	}
	vals := make([]decimal.Decimal, len(ic.clipIntervals))
	for i, d := range ic.clipIntervals {
		vals[i] = decimal.NewFromFloat(d.Seconds())
	}
	cv := coefficientOfVariation(vals)
	ratio := cv.Div(ic.naturalTimingCV())
	return decimal.NewFromFloat(0.3).Mul(clampUnit(decimal.NewFromInt(1).Sub(ratio)))
}

// pricePersistenceScore adds up to 0.2 once clips have rested on the same
// price level for PricePersistenceStreak consecutive clips.
func (ic *Iceberg) pricePersistenceScore() decimal.Decimal {
	ratio := decimal.NewFromInt(int64(ic.samePriceRun)).Div(decimal.NewFromInt(ic.pricePersistenceStreak()))
	return decimal.NewFromFloat(0.2).Mul(clampUnit(ratio))
}

// marketPercentileScore adds up to 0.2 the further a clip's size sits
// above the typical market clip size; skipped when no reference is set.
func (ic *Iceberg) marketPercentileScore(qty decimal.Decimal) decimal.Decimal {
	if ic.MarketAvgClipQty.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	ratio := qty.Div(ic.MarketAvgClipQty).Sub(decimal.NewFromInt(1))
	return decimal.NewFromFloat(0.2).Mul(clampUnit(ratio))
}

// adapt widens size variance and nudges the resting price by up to 5
// ticks, breaking the streak the persistence heuristic was tracking.
func (ic *Iceberg) adapt() {
	widened := ic.VarianceFraction.Mul(decimal.NewFromFloat(1.5))
	ceiling := decimal.NewFromFloat(0.5)
	if widened.GreaterThan(ceiling) {
		widened = ceiling
	}
	ic.VarianceFraction = widened

	ic.priceOffset += ic.rng.Intn(11) - 5 // ±5 ticks
	ic.samePriceRun = 0
}

// DetectionRisk reports the current EWMA detection-risk score, in [0,1].
func (ic *Iceberg) DetectionRisk() decimal.Decimal {
	return clampUnit(ic.detectionRisk)
}

func clampUnit(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return d
}

func coefficientOfVariation(vals []decimal.Decimal) decimal.Decimal {
	n := float64(len(vals))
	if n == 0 {
		return decimal.Zero
	}
	sum := 0.0
	for _, v := range vals {
		sum += v.InexactFloat64()
	}
	mean := sum / n
	if mean == 0 {
		return decimal.Zero
	}
	variance := 0.0
	for _, v := range vals {
		d := v.InexactFloat64() - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / n)
	return decimal.NewFromFloat(stddev / mean)
}

func appendDecimalBounded(s []decimal.Decimal, v decimal.Decimal, limit int) []decimal.Decimal {
	s = append(s, v)
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}

func appendBounded(s []time.Duration, v time.Duration, limit int) []time.Duration {
	s = append(s, v)
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}
