// Package executor dispatches a routing decision's allocations to their
// venues, handling per-venue retry/backoff, timeouts, and cancellation.
package executor

import (
	"context"
	"time"

	"github.com/shadowbook/execd/internal/execerr"
	"github.com/shadowbook/execd/internal/model"
	"github.com/shadowbook/execd/internal/venue"
	"github.com/shadowbook/execd/pkg/observability"
)

// backoffSchedule is the delay before each retry attempt; the final
// attempt is not followed by a wait. Three attempts total.
var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second}

// Config bounds a single allocation's execution.
type Config struct {
	VenueTimeout time.Duration
	MaxAttempts  int
}

func DefaultConfig() Config {
	return Config{VenueTimeout: 3 * time.Second, MaxAttempts: len(backoffSchedule)}
}

// AllocationResult is what RouteExecutor reports back for one allocation,
// successful or not, so the orchestrator's slice loop can aggregate fills
// without itself knowing about retries or venue-level failure handling.
type AllocationResult struct {
	Allocation model.Allocation
	Fills      []model.Fill
	Err        error
	Attempts   int
}

// RouteExecutor submits allocations to venues with bounded retry, reports
// fills as they arrive (for partial-fill streaming), and propagates
// cancellation through to in-flight venue submissions.
type RouteExecutor struct {
	registry *venue.Registry
	cfg      Config
	metrics  *observability.MetricsProvider
	logger   *observability.Logger
}

func New(registry *venue.Registry, cfg Config, metrics *observability.MetricsProvider, logger *observability.Logger) *RouteExecutor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = len(backoffSchedule)
	}
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = 3 * time.Second
	}
	return &RouteExecutor{registry: registry, cfg: cfg, metrics: metrics, logger: logger}
}

// Execute submits every allocation concurrently and streams results on the
// returned channel as each venue responds; the channel is closed once all
// allocations have either succeeded, exhausted retries, or ctx was
// cancelled. Backup (IsBackup) allocations are submitted, all of them and
// one after another, only if at least one primary allocation ultimately
// fails.
func (e *RouteExecutor) Execute(ctx context.Context, orderID string, decision model.RoutingDecision, sym model.Symbol, side model.Side) <-chan AllocationResult {
	out := make(chan AllocationResult, len(decision.Allocations))

	primaries := make([]model.Allocation, 0, len(decision.Allocations))
	backups := make([]model.Allocation, 0)
	for _, a := range decision.Allocations {
		if a.IsBackup {
			backups = append(backups, a)
		} else {
			primaries = append(primaries, a)
		}
	}

	go func() {
		defer close(out)

		done := make(chan AllocationResult, len(primaries))
		for _, alloc := range primaries {
			go func(a model.Allocation) {
				done <- e.submitWithRetry(ctx, orderID, a, sym, side)
			}(alloc)
		}

		var failedPrimaries int
		for range primaries {
			select {
			case res := <-done:
				out <- res
				if res.Err != nil {
					failedPrimaries++
				}
			case <-ctx.Done():
				return
			}
		}

		// Only burn backup allocations if something actually failed;
		// otherwise they'd double-fill the order.
		if failedPrimaries == 0 || len(backups) == 0 {
			return
		}
		for _, alloc := range backups {
			select {
			case out <- e.submitWithRetry(ctx, orderID, alloc, sym, side):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (e *RouteExecutor) submitWithRetry(ctx context.Context, orderID string, alloc model.Allocation, sym model.Symbol, side model.Side) AllocationResult {
	var lastErr error

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return AllocationResult{Allocation: alloc, Err: ctx.Err(), Attempts: attempt}
		}

		if !e.registry.Allow(alloc.VenueID) {
			lastErr = execerr.New(execerr.KindRateLimited, orderID, "venue "+alloc.VenueID+" rate limit exhausted")
			e.sleepBackoff(ctx, attempt)
			continue
		}

		fills, err := e.submitOnce(ctx, orderID, alloc, sym, side)
		if err == nil {
			return AllocationResult{Allocation: alloc, Fills: fills, Attempts: attempt + 1}
		}

		lastErr = err
		if e.logger != nil {
			e.logger.Warn(ctx, "allocation attempt failed", map[string]interface{}{
				"order_id": orderID, "venue_id": alloc.VenueID, "attempt": attempt + 1, "error": err.Error(),
			})
		}
		e.sleepBackoff(ctx, attempt)
	}

	return AllocationResult{Allocation: alloc, Err: lastErr, Attempts: e.cfg.MaxAttempts}
}

func (e *RouteExecutor) submitOnce(ctx context.Context, orderID string, alloc model.Allocation, sym model.Symbol, side model.Side) ([]model.Fill, error) {
	adapter, ok := e.registry.Adapter(alloc.VenueID)
	if !ok {
		return nil, execerr.VenueErrorFor(alloc.VenueID, orderID, "no adapter registered", nil)
	}

	if !adapter.IsAvailable(ctx) {
		return nil, execerr.VenueErrorFor(alloc.VenueID, orderID, "venue unavailable", nil)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.cfg.VenueTimeout)
	defer cancel()

	result, err := adapter.Submit(timeoutCtx, orderID, alloc, sym, side)
	if err != nil {
		if timeoutCtx.Err() != nil {
			return nil, execerr.Wrap(execerr.KindTimeout, orderID, "venue submit timed out", err)
		}
		return nil, execerr.VenueErrorFor(alloc.VenueID, orderID, "submit failed", err)
	}

	if !result.Accepted {
		return nil, execerr.VenueErrorFor(alloc.VenueID, orderID, "rejected: "+result.RejectReason, nil)
	}

	if e.metrics != nil {
		e.metrics.RecordFill(ctx, alloc.VenueID, "")
	}

	return result.Fills, nil
}

func (e *RouteExecutor) sleepBackoff(ctx context.Context, attempt int) {
	if attempt >= len(backoffSchedule) || attempt >= e.cfg.MaxAttempts-1 {
		return
	}
	select {
	case <-time.After(backoffSchedule[attempt]):
	case <-ctx.Done():
	}
}

// Cancel propagates cancellation to a venue for an in-flight order.
func (e *RouteExecutor) Cancel(ctx context.Context, venueID, orderID, venueOrderID string) error {
	adapter, ok := e.registry.Adapter(venueID)
	if !ok {
		return execerr.VenueErrorFor(venueID, orderID, "no adapter registered", nil)
	}
	return adapter.Cancel(ctx, orderID, venueOrderID)
}
