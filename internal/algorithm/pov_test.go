package algorithm

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowbook/execd/internal/model"
)

type fixedVolumeEstimator struct {
	volume decimal.Decimal
	err    error
}

func (f fixedVolumeEstimator) RecentVolume(ctx context.Context, sym model.Symbol, window time.Duration) (decimal.Decimal, error) {
	return f.volume, f.err
}

func TestPOVSchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	order := model.ParentOrder{OrderID: "ord-2", Symbol: "ETH-USD", TotalQty: decimal.NewFromInt(50)}

	t.Run("ParticipatesAtConfiguredRate", func(t *testing.T) {
		est := fixedVolumeEstimator{volume: decimal.NewFromInt(100)}
		pov := NewPOV(decimal.NewFromFloat(0.1), time.Minute, 10, decimal.NewFromFloat(0.01), est)

		slices, err := pov.Schedule(context.Background(), order, now)
		require.NoError(t, err)
		require.NotEmpty(t, slices)
		assert.True(t, slices[0].Qty.Equal(decimal.NewFromInt(10)))
	})

	t.Run("FinishesWithinTotalQty", func(t *testing.T) {
		est := fixedVolumeEstimator{volume: decimal.NewFromInt(1000)}
		pov := NewPOV(decimal.NewFromFloat(0.5), time.Minute, 2, decimal.NewFromFloat(0.01), est)

		slices, err := pov.Schedule(context.Background(), order, now)
		require.NoError(t, err)

		sum := decimal.Zero
		for _, s := range slices {
			sum = sum.Add(s.Qty)
		}
		assert.True(t, sum.Equal(order.TotalQty), "remainder must be absorbed by the final tick")
	})

	t.Run("MinClipFloorsThinVolume", func(t *testing.T) {
		est := fixedVolumeEstimator{volume: decimal.Zero}
		pov := NewPOV(decimal.NewFromFloat(0.1), time.Minute, 5, decimal.NewFromFloat(2), est)

		slices, err := pov.Schedule(context.Background(), order, now)
		require.NoError(t, err)
		require.NotEmpty(t, slices)
		assert.True(t, slices[0].Qty.Equal(decimal.NewFromInt(2)))
	})
}

func TestPOVAdjustRecomputesNextTickFromLiveVolume(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	order := model.ParentOrder{OrderID: "ord-2b", Symbol: "ETH-USD", TotalQty: decimal.NewFromInt(50)}

	pov := NewPOV(decimal.NewFromFloat(0.1), time.Minute, 10, decimal.NewFromFloat(0.01), fixedVolumeEstimator{volume: decimal.NewFromInt(100)})
	remaining := []Slice{
		{Qty: decimal.NewFromInt(10), ReleaseAt: now, Priority: 0},
		{Qty: decimal.NewFromInt(10), ReleaseAt: now.Add(time.Minute), Priority: 1},
	}

	pov.Estimator = fixedVolumeEstimator{volume: decimal.NewFromInt(400)}
	adjusted, err := pov.Adjust(context.Background(), order, remaining, now)
	require.NoError(t, err)
	require.Len(t, adjusted, 2)
	assert.True(t, adjusted[0].Qty.Equal(decimal.NewFromInt(20)), "tick quantity should track live volume, not the original flat estimate")
	assert.True(t, adjusted[1].Qty.Equal(decimal.NewFromInt(10)), "only the next tick is recomputed")
}

func TestPOVAdjustFloorsAtMinClipSize(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	order := model.ParentOrder{OrderID: "ord-2c", Symbol: "ETH-USD", TotalQty: decimal.NewFromInt(50)}

	pov := NewPOV(decimal.NewFromFloat(0.1), time.Minute, 10, decimal.NewFromFloat(1), fixedVolumeEstimator{volume: decimal.Zero})
	remaining := []Slice{{Qty: decimal.NewFromInt(5), ReleaseAt: now, Priority: 0}}

	adjusted, err := pov.Adjust(context.Background(), order, remaining, now)
	require.NoError(t, err)
	require.Len(t, adjusted, 1)
	assert.True(t, adjusted[0].Qty.Equal(decimal.NewFromInt(1)))
}
