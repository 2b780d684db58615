package algorithm

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowbook/execd/internal/model"
	"github.com/shadowbook/execd/internal/predictive"
)

func TestVWAPSchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	order := model.ParentOrder{OrderID: "ord-4", Symbol: "BTC-USD", TotalQty: decimal.NewFromInt(1000)}

	t.Run("AllocatesFullQtyAcrossBuckets", func(t *testing.T) {
		vwap := NewVWAP(6, 30*time.Minute, decimal.NewFromFloat(0.1), nil, nil)
		slices, err := vwap.Schedule(context.Background(), order, now)
		require.NoError(t, err)
		require.Len(t, slices, 6)

		sum := decimal.Zero
		for _, s := range slices {
			sum = sum.Add(s.Qty)
		}
		assert.True(t, sum.Equal(order.TotalQty))
	})

	t.Run("UShapeFrontLoadsOpenAndClose", func(t *testing.T) {
		vwap := NewVWAP(5, 25*time.Minute, decimal.NewFromFloat(0.1), nil, nil)
		slices, err := vwap.Schedule(context.Background(), order, now)
		require.NoError(t, err)
		require.Len(t, slices, 5)

		assert.True(t, slices[0].Qty.GreaterThan(slices[2].Qty), "opening bucket should carry more size than the middle")
	})

	t.Run("IgnoresLowConfidenceForecast", func(t *testing.T) {
		vwap := NewVWAP(4, 20*time.Minute, decimal.NewFromFloat(0.1), predictive.FlatEngine{}, nil)
		slices, err := vwap.Schedule(context.Background(), order, now)
		require.NoError(t, err)
		require.Len(t, slices, 4)
	})
}

func TestVWAPAdjust(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	order := model.ParentOrder{OrderID: "ord-4b", Symbol: "BTC-USD", TotalQty: decimal.NewFromInt(1000)}

	t.Run("ShrinksNextBucketWhenVolumeIsLight", func(t *testing.T) {
		vwap := NewVWAP(4, 20*time.Minute, decimal.NewFromFloat(0.5), nil, fixedVolumeEstimator{volume: decimal.Zero})
		remaining := []Slice{
			{Qty: decimal.NewFromInt(200), ReleaseAt: now},
			{Qty: decimal.NewFromInt(200), ReleaseAt: now.Add(5 * time.Minute)},
		}

		adjusted, err := vwap.Adjust(context.Background(), order, remaining, now)
		require.NoError(t, err)
		require.Len(t, adjusted, 2)
		assert.True(t, adjusted[0].Qty.Equal(decimal.NewFromInt(160)), "bucket should shrink to the 0.8x floor when realized volume is far below forecast")

		total := adjusted[0].Qty.Add(adjusted[1].Qty)
		assert.True(t, total.Equal(decimal.NewFromInt(400)), "total committed quantity across remaining buckets must be unchanged")
	})

	t.Run("GrowsNextBucketWhenVolumeIsHeavy", func(t *testing.T) {
		vwap := NewVWAP(4, 20*time.Minute, decimal.NewFromFloat(0.1), nil, fixedVolumeEstimator{volume: decimal.NewFromInt(10000)})
		remaining := []Slice{
			{Qty: decimal.NewFromInt(100), ReleaseAt: now},
			{Qty: decimal.NewFromInt(100), ReleaseAt: now.Add(5 * time.Minute)},
		}

		adjusted, err := vwap.Adjust(context.Background(), order, remaining, now)
		require.NoError(t, err)
		require.Len(t, adjusted, 2)
		assert.True(t, adjusted[0].Qty.Equal(decimal.NewFromInt(150)), "bucket should grow to the 1.5x cap when realized volume is far above forecast")
	})

	t.Run("NoEstimatorLeavesScheduleUntouched", func(t *testing.T) {
		vwap := NewVWAP(4, 20*time.Minute, decimal.NewFromFloat(0.1), nil, nil)
		remaining := []Slice{{Qty: decimal.NewFromInt(100), ReleaseAt: now}}

		adjusted, err := vwap.Adjust(context.Background(), order, remaining, now)
		require.NoError(t, err)
		assert.Equal(t, remaining, adjusted)
	})
}
