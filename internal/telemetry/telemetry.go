// Package telemetry watches completed fills and execution results for
// threshold breaches (excess slippage, slow execution, high cost) and
// raises alerts through the observability metrics/logging stack.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/config"
	"github.com/shadowbook/execd/internal/model"
	"github.com/shadowbook/execd/pkg/observability"
)

// Alert is one threshold breach raised by the telemetry sink.
type Alert struct {
	Kind      string
	OrderID   string
	Symbol    model.Symbol
	Detail    string
	Value     decimal.Decimal
	Threshold decimal.Decimal
	Timestamp time.Time
}

// Sink is the event bus every order-completion handler publishes to, and
// every alert subscriber (logging, an ops dashboard, a paging hook)
// drains from.
type Sink struct {
	cfg     config.TelemetryConfig
	metrics *observability.MetricsProvider
	logger  *observability.Logger

	mu          sync.Mutex
	subscribers []chan Alert
}

func New(cfg config.TelemetryConfig, metrics *observability.MetricsProvider, logger *observability.Logger) *Sink {
	return &Sink{cfg: cfg, metrics: metrics, logger: logger}
}

// Subscribe registers a buffered channel to receive future alerts.
func (s *Sink) Subscribe() <-chan Alert {
	ch := make(chan Alert, 32)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Observe inspects a finalized ExecutionResult against configured
// thresholds and raises an alert for every breach found.
func (s *Sink) Observe(ctx context.Context, order model.ParentOrder, result model.ExecutionResult) {
	now := time.Now()

	slippageThreshold := decimal.NewFromInt(int64(s.cfg.SlippageAlertBps))
	if result.Performance.SlippageBps.GreaterThan(slippageThreshold) {
		s.raise(ctx, Alert{
			Kind: "slippage_exceeded", OrderID: order.OrderID, Symbol: order.Symbol,
			Detail:    fmt.Sprintf("realized slippage %s bps exceeds alert threshold", result.Performance.SlippageBps),
			Value:     result.Performance.SlippageBps,
			Threshold: slippageThreshold,
			Timestamp: now,
		})
	}

	execTime := time.Duration(result.ExecutionTimeMs) * time.Millisecond
	if s.cfg.ExecutionTimeAlert > 0 && execTime > s.cfg.ExecutionTimeAlert {
		s.raise(ctx, Alert{
			Kind: "execution_time_exceeded", OrderID: order.OrderID, Symbol: order.Symbol,
			Detail:    fmt.Sprintf("execution took %s, exceeding %s", execTime, s.cfg.ExecutionTimeAlert),
			Value:     decimal.NewFromInt(result.ExecutionTimeMs),
			Threshold: decimal.NewFromInt(s.cfg.ExecutionTimeAlert.Milliseconds()),
			Timestamp: now,
		})
	}

	costThreshold := decimal.NewFromInt(int64(s.cfg.CostAlertBps))
	costBps := costBpsOf(order, result)
	if costBps.GreaterThan(costThreshold) {
		s.raise(ctx, Alert{
			Kind: "cost_exceeded", OrderID: order.OrderID, Symbol: order.Symbol,
			Detail:    fmt.Sprintf("total cost %s bps exceeds alert threshold", costBps),
			Value:     costBps,
			Threshold: costThreshold,
			Timestamp: now,
		})
	}
}

func costBpsOf(order model.ParentOrder, result model.ExecutionResult) decimal.Decimal {
	if result.FilledQty.IsZero() || result.AvgPrice.IsZero() {
		return decimal.Zero
	}
	notional := result.FilledQty.Mul(result.AvgPrice)
	if notional.IsZero() {
		return decimal.Zero
	}
	return result.TotalFees.Div(notional).Mul(decimal.NewFromInt(10000))
}

func (s *Sink) raise(ctx context.Context, alert Alert) {
	if s.metrics != nil {
		s.metrics.RecordAlert(ctx, alert.Kind)
	}
	if s.logger != nil {
		s.logger.Warn(ctx, "telemetry alert raised", map[string]interface{}{
			"kind": alert.Kind, "order_id": alert.OrderID, "symbol": string(alert.Symbol), "detail": alert.Detail,
		})
	}

	s.mu.Lock()
	subs := append([]chan Alert(nil), s.subscribers...)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- alert:
		default:
		}
	}
}
