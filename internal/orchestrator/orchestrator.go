// Package orchestrator drives a parent order through its full lifecycle:
// validation, safety-gate check, algorithm scheduling, per-slice routing
// and execution, and finalization into an ExecutionResult.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/algorithm"
	"github.com/shadowbook/execd/internal/execerr"
	"github.com/shadowbook/execd/internal/executor"
	"github.com/shadowbook/execd/internal/model"
	"github.com/shadowbook/execd/internal/protection"
	"github.com/shadowbook/execd/internal/router"
	"github.com/shadowbook/execd/internal/safety"
	"github.com/shadowbook/execd/internal/telemetry"
	"github.com/shadowbook/execd/pkg/observability"
)

// sliceGroupTimeout bounds how long the orchestrator waits for a single
// release-time group of slices to finish routing and executing before it
// moves on, so one stuck venue can't stall the whole order.
const sliceGroupTimeout = 30 * time.Second

// cancelGrace is how long Cancel waits for in-flight slices to settle
// before declaring the order cancelled regardless of their outcome.
const cancelGrace = 10 * time.Second

// Order tracks one parent order's live lifecycle state. The orchestrator
// owns mutation; callers only see the ExecutionResult copy Submit returns.
type Order struct {
	mu       sync.Mutex
	parent   model.ParentOrder
	status   model.Status
	fills    []model.Fill
	cancel   context.CancelFunc
	started  time.Time
	finished time.Time
}

func (o *Order) snapshotStatus() model.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Orchestrator coordinates the algorithm factory, router, and executor
// for every order submitted to it, and reacts to safety-gate events by
// cancelling in-flight orders.
type Orchestrator struct {
	gate       *safety.Gate
	router     *router.Router
	executor   *executor.RouteExecutor
	algorithms *algorithm.Factory
	protection protection.Service
	telemetry  *telemetry.Sink
	metrics    *observability.MetricsProvider
	logger     *observability.Logger

	mu     sync.Mutex
	orders map[string]*Order

	safetyEvents <-chan safety.Event
	done         chan struct{}
}

func New(
	gate *safety.Gate,
	r *router.Router,
	exec *executor.RouteExecutor,
	algorithms *algorithm.Factory,
	prot protection.Service,
	telemetrySink *telemetry.Sink,
	metrics *observability.MetricsProvider,
	logger *observability.Logger,
) *Orchestrator {
	if prot == nil {
		prot = protection.NoopService{}
	}
	o := &Orchestrator{
		gate:         gate,
		router:       r,
		executor:     exec,
		algorithms:   algorithms,
		protection:   prot,
		telemetry:    telemetrySink,
		metrics:      metrics,
		logger:       logger,
		orders:       make(map[string]*Order),
		safetyEvents: gate.Subscribe(),
		done:         make(chan struct{}),
	}
	go o.watchSafetyEvents()
	return o
}

// Close stops the safety-event watcher. Orders already in flight are left
// to finish on their own context.
func (o *Orchestrator) Close() {
	close(o.done)
}

func (o *Orchestrator) watchSafetyEvents() {
	for {
		select {
		case evt, ok := <-o.safetyEvents:
			if !ok {
				return
			}
			if evt.Kind == "emergency_stop" || evt.Current == safety.ModePaused {
				o.cancelAllNonTerminal(evt.Reason)
			}
		case <-o.done:
			return
		}
	}
}

func (o *Orchestrator) cancelAllNonTerminal(reason string) {
	o.mu.Lock()
	orders := make([]*Order, 0, len(o.orders))
	for _, ord := range o.orders {
		orders = append(orders, ord)
	}
	o.mu.Unlock()

	for _, ord := range orders {
		if !ord.snapshotStatus().Terminal() {
			_ = o.Cancel(context.Background(), ord.parent.OrderID)
			if o.logger != nil {
				o.logger.Warn(context.Background(), "order cancelled by safety event", map[string]interface{}{
					"order_id": ord.parent.OrderID, "reason": reason,
				})
			}
		}
	}
}

// Submit validates and begins executing a parent order. It returns once
// the order reaches a terminal status. In-flight state is not exposed;
// while Submit runs, callers can only Cancel the order by its ID.
func (o *Orchestrator) Submit(ctx context.Context, parent model.ParentOrder) (model.ExecutionResult, error) {
	if err := validate(parent); err != nil {
		return model.ExecutionResult{Status: model.StatusFailed}, err
	}

	if !o.gate.Allows() {
		return model.ExecutionResult{Status: model.StatusFailed}, execerr.New(execerr.KindTradingPaused, parent.OrderID, "trading is paused")
	}

	orderCtx, cancel := context.WithCancel(ctx)
	ord := &Order{parent: parent, status: model.StatusReceived, cancel: cancel, started: time.Now()}

	o.mu.Lock()
	o.orders[parent.OrderID] = ord
	o.mu.Unlock()

	o.setStatus(ord, model.StatusValidated)

	if o.metrics != nil {
		o.metrics.IncrementActiveOrders(ctx, 1)
		defer o.metrics.IncrementActiveOrders(ctx, -1)
	}

	result, err := o.run(orderCtx, ord)

	o.mu.Lock()
	delete(o.orders, parent.OrderID)
	o.mu.Unlock()

	if o.telemetry != nil {
		o.telemetry.Observe(ctx, parent, result)
	}

	return result, err
}

func (o *Orchestrator) run(ctx context.Context, ord *Order) (model.ExecutionResult, error) {
	parent := ord.parent

	var slices []algorithm.Slice
	var adaptiveAlg algorithm.Adaptive
	if parent.Algorithm == model.AlgorithmNone {
		slices = []algorithm.Slice{{Qty: parent.TotalQty, ReleaseAt: time.Now(), Priority: 0}}
	} else {
		alg, err := o.algorithms.Select(parent)
		if err != nil {
			o.setStatus(ord, model.StatusFailed)
			return o.finalize(ord, err), err
		}
		slices, err = alg.Schedule(ctx, parent, time.Now())
		if err != nil {
			o.setStatus(ord, model.StatusFailed)
			return o.finalize(ord, err), err
		}
		adaptiveAlg, _ = alg.(algorithm.Adaptive)
	}

	o.setStatus(ord, model.StatusRouted)
	o.setStatus(ord, model.StatusExecuting)

	var deadline time.Time
	if parent.Constraints.MaxExecutionTime > 0 {
		deadline = ord.started.Add(parent.Constraints.MaxExecutionTime)
	}

	var runErr error
	var expired bool
	remaining := slices
	for len(remaining) > 0 {
		groups := groupByReleaseTime(remaining)
		group := groups[0]

		if !deadline.IsZero() && group[0].ReleaseAt.After(deadline) {
			expired = true
			runErr = execerr.New(execerr.KindTimeout, parent.OrderID, "order exceeded its maximum execution time")
			break
		}

		if err := waitUntil(ctx, group[0].ReleaseAt); err != nil {
			runErr = err
			break
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			expired = true
			runErr = execerr.New(execerr.KindTimeout, parent.OrderID, "order exceeded its maximum execution time")
			break
		}

		groupCtx, cancel := context.WithTimeout(ctx, sliceGroupTimeout)
		err := o.executeGroup(groupCtx, ord, group)
		cancel()
		if err != nil {
			runErr = err
			break
		}

		remaining = remaining[len(group):]

		// Offer the still-unreleased tail back to the algorithm so VWAP's
		// realized-volume rescale and POV's per-tick recompute can react
		// to what actually filled instead of riding out the original plan.
		if adaptiveAlg != nil && len(remaining) > 0 {
			if adjusted, err := adaptiveAlg.Adjust(ctx, parent, remaining, time.Now()); err == nil {
				remaining = adjusted
			}
		}
	}

	fills := ord.fillsCopy()
	_, filledQty, _ := aggregate(fills)
	completionFloor := parent.TotalQty.Mul(decimal.NewFromFloat(0.99))

	var status model.Status
	switch {
	case expired:
		status = model.StatusExpired
	case errors.Is(runErr, context.Canceled):
		status = model.StatusCancelled
	case execerr.OfKind(runErr, execerr.KindSlippageExceeded):
		status = model.StatusPartial
	case runErr != nil && filledQty.GreaterThan(decimal.Zero):
		status = model.StatusPartial
	case runErr != nil:
		status = model.StatusFailed
	case !parent.TotalQty.IsZero() && filledQty.GreaterThanOrEqual(completionFloor):
		status = model.StatusCompleted
	case filledQty.GreaterThan(decimal.Zero):
		status = model.StatusPartial
	default:
		status = model.StatusFailed
	}
	o.setStatus(ord, status)

	return o.finalize(ord, runErr), runErr
}

func (o *Orchestrator) executeGroup(ctx context.Context, ord *Order, group []algorithm.Slice) error {
	maxSlippageBps := decimal.NewFromInt(int64(ord.parent.Constraints.MaxSlippageBps))
	enforceSlippage := ord.parent.Constraints.MaxSlippageBps > 0

	for _, slice := range group {
		strategy := router.StrategyProportional
		if ord.parent.Metadata.Urgency == model.UrgencyCritical {
			strategy = router.StrategyTimeWeighted
		}

		start := time.Now()
		decision, err := o.router.Route(ctx, ord.parent, slice.Qty, strategy)
		if o.metrics != nil {
			o.metrics.RecordRouteDecisionLatency(ctx, time.Since(start))
		}
		if err != nil {
			return err
		}

		if ord.parent.Metadata.MEVProtection {
			for _, alloc := range decision.Allocations {
				verdict, err := o.protection.Protect(ctx, ord.parent, alloc, protection.TxEnvelope{VenueID: alloc.VenueID})
				if err != nil || !verdict.Safe {
					return execerr.New(execerr.KindMEVAttackDetected, ord.parent.OrderID, verdict.Reason)
				}
			}
		}

		results := o.executor.Execute(ctx, ord.parent.OrderID, decision, ord.parent.Symbol, ord.parent.Side)
		var sliceErr error
		var breached bool
		for res := range results {
			if res.Err != nil {
				sliceErr = res.Err
				continue
			}
			ord.addFills(res.Fills)
			for _, f := range res.Fills {
				slippageBps := f.Price.Sub(decision.Allocations[0].ExpectedPrice).Abs().
					Div(maxDecimal(decision.Allocations[0].ExpectedPrice, decimal.NewFromInt(1))).
					Mul(decimal.NewFromInt(10000))
				if o.metrics != nil {
					o.metrics.RecordSlippage(ctx, string(f.Symbol), slippageBps.InexactFloat64())
				}
				if enforceSlippage && slippageBps.GreaterThan(maxSlippageBps) {
					breached = true
				}
			}
		}
		if sliceErr != nil {
			return sliceErr
		}
		if breached {
			return execerr.New(execerr.KindSlippageExceeded, ord.parent.OrderID, "fill slippage exceeded the order's maximum")
		}
	}
	return nil
}

// Cancel requests cancellation of an in-flight order and waits up to
// cancelGrace for it to settle.
func (o *Orchestrator) Cancel(ctx context.Context, orderID string) error {
	o.mu.Lock()
	ord, ok := o.orders[orderID]
	o.mu.Unlock()
	if !ok {
		return execerr.New(execerr.KindInvalidOrder, orderID, "no such in-flight order")
	}

	ord.cancel()

	deadline := time.Now().Add(cancelGrace)
	for time.Now().Before(deadline) {
		if ord.snapshotStatus().Terminal() {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	o.setStatus(ord, model.StatusCancelled)
	return nil
}

func (o *Orchestrator) setStatus(ord *Order, status model.Status) {
	ord.mu.Lock()
	ord.status = status
	if status.Terminal() {
		ord.finished = time.Now()
	}
	ord.mu.Unlock()
}

func (o *Orchestrator) finalize(ord *Order, runErr error) model.ExecutionResult {
	ord.mu.Lock()
	fills := append([]model.Fill(nil), ord.fills...)
	status := ord.status
	started := ord.started
	finished := ord.finished
	ord.mu.Unlock()

	if finished.IsZero() {
		finished = time.Now()
	}

	summaries := routeSummaries(fills)
	avgPrice, filledQty, totalFees := aggregate(fills)

	result := model.ExecutionResult{
		OrderID:         ord.parent.OrderID,
		Status:          status,
		Fills:           fills,
		AvgPrice:        avgPrice,
		FilledQty:       filledQty,
		TotalFees:       totalFees,
		ExecutionTimeMs: finished.Sub(started).Milliseconds(),
		RouteSummaries:  summaries,
	}

	if !ord.parent.TotalQty.IsZero() {
		result.Performance.FillRate = filledQty.Div(ord.parent.TotalQty)
	}

	return result
}

func (ord *Order) addFills(fills []model.Fill) {
	if len(fills) == 0 {
		return
	}
	ord.mu.Lock()
	ord.fills = append(ord.fills, fills...)
	ord.mu.Unlock()
}

func (ord *Order) fillsCopy() []model.Fill {
	ord.mu.Lock()
	defer ord.mu.Unlock()
	return append([]model.Fill(nil), ord.fills...)
}

func validate(p model.ParentOrder) error {
	if p.OrderID == "" {
		return execerr.New(execerr.KindInvalidOrder, p.OrderID, "order id required")
	}
	if p.TotalQty.LessThanOrEqual(decimal.Zero) {
		return execerr.New(execerr.KindInvalidOrder, p.OrderID, "total quantity must be positive")
	}
	if p.Symbol == "" {
		return execerr.New(execerr.KindInvalidOrder, p.OrderID, "symbol required")
	}
	return nil
}

// groupByReleaseTime buckets consecutive slices that share an identical
// release time so they are released together under one sliceGroupTimeout;
// executeGroup still routes and executes a bucket's slices one after
// another. Distinct release times remain separate groups executed in order.
func groupByReleaseTime(slices []algorithm.Slice) [][]algorithm.Slice {
	if len(slices) == 0 {
		return nil
	}
	groups := make([][]algorithm.Slice, 0, len(slices))
	current := []algorithm.Slice{slices[0]}
	for _, s := range slices[1:] {
		if s.ReleaseAt.Equal(current[0].ReleaseAt) {
			current = append(current, s)
			continue
		}
		groups = append(groups, current)
		current = []algorithm.Slice{s}
	}
	return append(groups, current)
}

func waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func routeSummaries(fills []model.Fill) []model.RouteSummary {
	byVenue := make(map[string]*model.RouteSummary)
	order := make([]string, 0)
	for _, f := range fills {
		s, ok := byVenue[f.VenueID]
		if !ok {
			s = &model.RouteSummary{VenueID: f.VenueID}
			byVenue[f.VenueID] = s
			order = append(order, f.VenueID)
		}
		notional := s.AvgPrice.Mul(s.FilledQty)
		s.FilledQty = s.FilledQty.Add(f.Qty)
		s.TotalFees = s.TotalFees.Add(f.Fee)
		s.FillCount++
		if !s.FilledQty.IsZero() {
			s.AvgPrice = notional.Add(f.Qty.Mul(f.Price)).Div(s.FilledQty)
		}
	}
	out := make([]model.RouteSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byVenue[id])
	}
	return out
}

func aggregate(fills []model.Fill) (avgPrice, filledQty, totalFees decimal.Decimal) {
	notional := decimal.Zero
	for _, f := range fills {
		filledQty = filledQty.Add(f.Qty)
		totalFees = totalFees.Add(f.Fee)
		notional = notional.Add(f.Qty.Mul(f.Price))
	}
	if !filledQty.IsZero() {
		avgPrice = notional.Div(filledQty)
	}
	return avgPrice, filledQty, totalFees
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
