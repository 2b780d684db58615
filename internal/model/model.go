// Package model defines the shared data types that flow between the
// execution engine's components: orders, allocations, routing decisions,
// fills, and the liquidity/metrics snapshots that feed them.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol identifies a tradeable pair. Immutable once constructed.
type Symbol string

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType enumerates the order types the engine understands.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
	OrderTypeIceberg   OrderType = "iceberg"
	OrderTypeTWAP      OrderType = "twap"
	OrderTypeVWAP      OrderType = "vwap"
)

// TimeInForce mirrors standard exchange semantics.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
	TimeInForceGTD TimeInForce = "gtd"
)

// Urgency expresses how aggressively an order should be worked.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// AlgorithmHint names the scheduling algorithm the caller would like used.
type AlgorithmHint string

const (
	AlgorithmTWAP    AlgorithmHint = "twap"
	AlgorithmVWAP    AlgorithmHint = "vwap"
	AlgorithmPOV     AlgorithmHint = "pov"
	AlgorithmIceberg AlgorithmHint = "iceberg"
	AlgorithmNone    AlgorithmHint = ""
)

// Constraints bound how an order may be executed.
type Constraints struct {
	MaxSlippageBps  int
	MaxExecutionTime time.Duration
	MaxSlices       int
	MinFillRate     decimal.Decimal
}

// OrderMetadata carries caller intent that isn't part of the order's
// economic terms. A concrete record rather than a bag of `any`, per the
// event-emitter/dynamic-typing redesign note.
type OrderMetadata struct {
	Urgency         Urgency
	Simulation      bool
	MEVProtection   bool
	PreferredVenues []string
	BlockedVenues   []string
}

// ParentOrder is the unit the Orchestrator receives from a caller.
type ParentOrder struct {
	OrderID     string
	Symbol      Symbol
	Side        Side
	TotalQty    decimal.Decimal
	LimitPrice  *decimal.Decimal
	TimeInForce TimeInForce
	Algorithm   AlgorithmHint
	Constraints Constraints
	Metadata    OrderMetadata
	CreatedAt   time.Time
}

// Allocation binds a slice quantity to one venue within a routing decision.
type Allocation struct {
	VenueID            string
	Qty                decimal.Decimal
	ExpectedPrice       decimal.Decimal
	ExpectedFee         decimal.Decimal
	ExpectedSlippage    decimal.Decimal
	ExpectedLatencyMs   int64
	Priority            int
	IsBackup            bool
}

// RoutingDecision is the Smart Order Router's output for a single slice.
// Produced once and never mutated afterward.
type RoutingDecision struct {
	Allocations            []Allocation
	TotalExpectedCost      decimal.Decimal
	ExpectedSlippage       decimal.Decimal
	ExpectedLatencyMs      int64
	Confidence             decimal.Decimal
	AlternativeAllocations []Allocation
	Reasoning              []string
}

// LiquidityRole is whether a fill provided or removed liquidity.
type LiquidityRole string

const (
	LiquidityRoleMaker LiquidityRole = "maker"
	LiquidityRoleTaker LiquidityRole = "taker"
)

// Fill is a venue-confirmed partial execution. Immutable once created.
type Fill struct {
	FillID        string
	OrderID       string
	VenueID       string
	Symbol        Symbol
	Side          Side
	Qty           decimal.Decimal
	Price         decimal.Decimal
	Fee           decimal.Decimal
	Timestamp     time.Time
	LiquidityRole LiquidityRole
}

// Status is the terminal (or in-flight) lifecycle state of a parent order.
type Status string

const (
	StatusReceived  Status = "received"
	StatusValidated Status = "validated"
	StatusRouted    Status = "routed"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether a status is one of the terminal states from
// which no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// RouteSummary aggregates the fills dispatched to a single venue.
type RouteSummary struct {
	VenueID     string
	FilledQty   decimal.Decimal
	AvgPrice    decimal.Decimal
	TotalFees   decimal.Decimal
	FillCount   int
}

// PerformanceMetrics are the benchmark figures computed at finalization.
type PerformanceMetrics struct {
	SlippageBps            decimal.Decimal
	FillRate                decimal.Decimal
	ImplementationShortfall decimal.Decimal
	VWAPDeviation           decimal.Decimal
}

// ExecutionResult is the terminal summary of a parent order's lifecycle.
type ExecutionResult struct {
	OrderID           string
	Status            Status
	Fills             []Fill
	AvgPrice          decimal.Decimal
	FilledQty         decimal.Decimal
	TotalFees         decimal.Decimal
	RealizedSlippage  decimal.Decimal
	ExecutionTimeMs   int64
	RouteSummaries    []RouteSummary
	Performance       PerformanceMetrics
}

// PriceLevel is one level of a venue's order book.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// AggregatedLevel is a price level coalesced across venues quoting the
// same price.
type AggregatedLevel struct {
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Venues  []string
}

// VenueDepth is the raw per-venue book state contributing to a snapshot.
type VenueDepth struct {
	Bids       []PriceLevel
	Asks       []PriceLevel
	Volume24h  decimal.Decimal
	LastTrade  decimal.Decimal
}

// LiquiditySnapshot is a read-only, point-in-time aggregate order-book
// view for one symbol. Producers replace it atomically; consumers borrow
// it and never mutate it.
type LiquiditySnapshot struct {
	Symbol    Symbol
	Timestamp time.Time
	Bids      []AggregatedLevel // descending by price
	Asks      []AggregatedLevel // ascending by price
	PerVenue  map[string]VenueDepth
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Spread    decimal.Decimal
	Imbalance decimal.Decimal
}
