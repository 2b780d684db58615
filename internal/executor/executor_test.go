package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowbook/execd/internal/model"
	"github.com/shadowbook/execd/internal/venue"
)

type fakeAdapter struct {
	id          string
	available   bool
	failCount   int32 // number of Submit calls that should fail before succeeding
	attempts    int32
	canceled    int32
	submitDelay time.Duration
}

func (f *fakeAdapter) VenueID() string { return f.id }

func (f *fakeAdapter) IsAvailable(ctx context.Context) bool { return f.available }

func (f *fakeAdapter) Submit(ctx context.Context, orderID string, alloc model.Allocation, sym model.Symbol, side model.Side) (venue.SubmitResult, error) {
	n := atomic.AddInt32(&f.attempts, 1)
	if f.submitDelay > 0 {
		select {
		case <-time.After(f.submitDelay):
		case <-ctx.Done():
			return venue.SubmitResult{}, ctx.Err()
		}
	}
	if n <= int32(f.failCount) {
		return venue.SubmitResult{Accepted: false, RejectReason: "simulated rejection"}, nil
	}
	return venue.SubmitResult{
		Accepted: true,
		Fills: []model.Fill{{
			FillID: "f1", OrderID: orderID, VenueID: f.id, Symbol: sym, Side: side,
			Qty: alloc.Qty, Price: alloc.ExpectedPrice, Timestamp: time.Now(),
		}},
	}, nil
}

func (f *fakeAdapter) Cancel(ctx context.Context, orderID, venueOrderID string) error {
	atomic.AddInt32(&f.canceled, 1)
	return nil
}

func newTestRegistry(adapters ...*fakeAdapter) *venue.Registry {
	reg := venue.NewRegistry()
	for _, a := range adapters {
		reg.Register(venue.Descriptor{ID: a.id, RateLimitRPS: 1000, RateLimitBurst: 1000}, a)
	}
	return reg
}

func TestExecuteSucceedsOnFirstAttempt(t *testing.T) {
	a := &fakeAdapter{id: "venueA", available: true}
	reg := newTestRegistry(a)
	exec := New(reg, Config{VenueTimeout: time.Second, MaxAttempts: 3}, nil, nil)

	decision := model.RoutingDecision{Allocations: []model.Allocation{
		{VenueID: "venueA", Qty: decimal.NewFromInt(10), ExpectedPrice: decimal.NewFromInt(100)},
	}}

	results := collect(t, exec.Execute(context.Background(), "ord-1", decision, "BTC-USD", model.SideBuy))
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Len(t, results[0].Fills, 1)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	a := &fakeAdapter{id: "venueA", available: true, failCount: 2}
	reg := newTestRegistry(a)
	exec := New(reg, Config{VenueTimeout: time.Second, MaxAttempts: 3}, nil, nil)
	backoffSchedule = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	decision := model.RoutingDecision{Allocations: []model.Allocation{
		{VenueID: "venueA", Qty: decimal.NewFromInt(10), ExpectedPrice: decimal.NewFromInt(100)},
	}}

	results := collect(t, exec.Execute(context.Background(), "ord-2", decision, "BTC-USD", model.SideBuy))
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 3, results[0].Attempts)
}

func TestExecuteExhaustsRetriesAndFails(t *testing.T) {
	a := &fakeAdapter{id: "venueA", available: true, failCount: 10}
	reg := newTestRegistry(a)
	exec := New(reg, Config{VenueTimeout: time.Second, MaxAttempts: 3}, nil, nil)
	backoffSchedule = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	decision := model.RoutingDecision{Allocations: []model.Allocation{
		{VenueID: "venueA", Qty: decimal.NewFromInt(10), ExpectedPrice: decimal.NewFromInt(100)},
	}}

	results := collect(t, exec.Execute(context.Background(), "ord-3", decision, "BTC-USD", model.SideBuy))
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestExecuteDispatchesBackupOnlyAfterPrimaryFails(t *testing.T) {
	primary := &fakeAdapter{id: "primary", available: true, failCount: 10}
	backup := &fakeAdapter{id: "backup", available: true}
	reg := newTestRegistry(primary, backup)
	exec := New(reg, Config{VenueTimeout: time.Second, MaxAttempts: 1}, nil, nil)

	decision := model.RoutingDecision{Allocations: []model.Allocation{
		{VenueID: "primary", Qty: decimal.NewFromInt(10), ExpectedPrice: decimal.NewFromInt(100)},
		{VenueID: "backup", Qty: decimal.NewFromInt(10), ExpectedPrice: decimal.NewFromInt(100), IsBackup: true},
	}}

	results := collect(t, exec.Execute(context.Background(), "ord-4", decision, "BTC-USD", model.SideBuy))
	require.Len(t, results, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backup.attempts))
}

func TestExecuteSkipsBackupWhenPrimarySucceeds(t *testing.T) {
	primary := &fakeAdapter{id: "primary", available: true}
	backup := &fakeAdapter{id: "backup", available: true}
	reg := newTestRegistry(primary, backup)
	exec := New(reg, Config{VenueTimeout: time.Second, MaxAttempts: 1}, nil, nil)

	decision := model.RoutingDecision{Allocations: []model.Allocation{
		{VenueID: "primary", Qty: decimal.NewFromInt(10), ExpectedPrice: decimal.NewFromInt(100)},
		{VenueID: "backup", Qty: decimal.NewFromInt(10), ExpectedPrice: decimal.NewFromInt(100), IsBackup: true},
	}}

	results := collect(t, exec.Execute(context.Background(), "ord-5", decision, "BTC-USD", model.SideBuy))
	require.Len(t, results, 1)
	assert.Equal(t, int32(0), atomic.LoadInt32(&backup.attempts))
}

func TestExecuteWrapsTimeoutError(t *testing.T) {
	a := &fakeAdapter{id: "venueA", available: true, submitDelay: 50 * time.Millisecond}
	reg := newTestRegistry(a)
	exec := New(reg, Config{VenueTimeout: 5 * time.Millisecond, MaxAttempts: 1}, nil, nil)

	decision := model.RoutingDecision{Allocations: []model.Allocation{
		{VenueID: "venueA", Qty: decimal.NewFromInt(10), ExpectedPrice: decimal.NewFromInt(100)},
	}}

	results := collect(t, exec.Execute(context.Background(), "ord-6", decision, "BTC-USD", model.SideBuy))
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestCancelPropagatesToAdapter(t *testing.T) {
	a := &fakeAdapter{id: "venueA", available: true}
	reg := newTestRegistry(a)
	exec := New(reg, DefaultConfig(), nil, nil)

	err := exec.Cancel(context.Background(), "venueA", "ord-7", "vo-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&a.canceled))
}

func TestCancelUnknownVenueErrors(t *testing.T) {
	reg := newTestRegistry()
	exec := New(reg, DefaultConfig(), nil, nil)

	err := exec.Cancel(context.Background(), "missing", "ord-8", "vo-1")
	assert.Error(t, err)
}

func collect(t *testing.T, ch <-chan AllocationResult) []AllocationResult {
	t.Helper()
	var out []AllocationResult
	timeout := time.After(2 * time.Second)
	for {
		select {
		case res, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, res)
		case <-timeout:
			t.Fatal("timed out waiting for executor results")
			return out
		}
	}
}
