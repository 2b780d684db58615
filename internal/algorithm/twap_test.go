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

func TestTWAPSchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	order := model.ParentOrder{
		OrderID:  "ord-1",
		Symbol:   "BTC-USD",
		TotalQty: decimal.NewFromInt(100),
	}

	t.Run("EvenSplit", func(t *testing.T) {
		twap := NewTWAP(5, 10*time.Minute, false, 1)
		slices, err := twap.Schedule(context.Background(), order, now)
		require.NoError(t, err)
		require.Len(t, slices, 5)

		total := decimal.Zero
		for i, s := range slices {
			total = total.Add(s.Qty)
			assert.Equal(t, i, s.Priority)
		}
		assert.True(t, total.Equal(order.TotalQty))
		assert.True(t, slices[0].ReleaseAt.Equal(now))
		assert.True(t, slices[4].ReleaseAt.Equal(now.Add(8*time.Minute)))
	})

	t.Run("ClampedByMaxSlices", func(t *testing.T) {
		constrained := order
		constrained.Constraints.MaxSlices = 3
		twap := NewTWAP(10, 10*time.Minute, false, 1)
		slices, err := twap.Schedule(context.Background(), constrained, now)
		require.NoError(t, err)
		assert.Len(t, slices, 3)
	})

	t.Run("JitterStaysWithinBound", func(t *testing.T) {
		twap := NewTWAP(4, 8*time.Minute, true, 42)
		slices, err := twap.Schedule(context.Background(), order, now)
		require.NoError(t, err)
		require.Len(t, slices, 4)

		interval := 2 * time.Minute
		assert.True(t, slices[0].ReleaseAt.Equal(now), "first slice is never jittered")
		for i := 1; i < len(slices); i++ {
			expected := now.Add(time.Duration(i) * interval)
			diff := slices[i].ReleaseAt.Sub(expected)
			assert.LessOrEqual(t, diff.Abs(), interval/5)
		}
	})

	t.Run("LastSliceAbsorbsRemainder", func(t *testing.T) {
		odd := order
		odd.TotalQty = decimal.NewFromInt(10)
		twap := NewTWAP(3, 3*time.Minute, false, 1)
		slices, err := twap.Schedule(context.Background(), odd, now)
		require.NoError(t, err)

		sum := decimal.Zero
		for _, s := range slices {
			sum = sum.Add(s.Qty)
		}
		assert.True(t, sum.Equal(odd.TotalQty))
	})
}
