// Package execerr defines the typed error kinds returned across the
// execution engine, so callers dispatch with errors.As/errors.Is instead
// of matching on strings.
package execerr

import (
	"errors"
	"fmt"
)

// Kind identifies which error taxonomy entry a failure belongs to.
type Kind string

const (
	KindInsufficientLiquidity Kind = "insufficient_liquidity"
	KindRateLimited           Kind = "rate_limited"
	KindVenueError            Kind = "venue_error"
	KindInvalidOrder          Kind = "invalid_order"
	KindSlippageExceeded      Kind = "slippage_exceeded"
	KindTimeout               Kind = "timeout"
	KindTradingPaused         Kind = "trading_paused"
	KindConfigurationError    Kind = "configuration_error"
	KindMEVAttackDetected     Kind = "mev_attack_detected"
)

// Error is the single concrete error type implementing every §7 error
// kind; Kind discriminates, OrderID ties it back to the failing order,
// and Cause (if present) is unwrapped by errors.Is/errors.As.
type Error struct {
	Kind    Kind
	OrderID string
	Venue   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("%s: order %s: %s", e.Kind, e.OrderID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, execerr.InsufficientLiquidity) match by Kind
// alone, without requiring identical OrderID/Message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.OrderID != "" && t.OrderID != e.OrderID {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, orderID, message string) *Error {
	return &Error{Kind: kind, OrderID: orderID, Message: message}
}

func Wrap(kind Kind, orderID, message string, cause error) *Error {
	return &Error{Kind: kind, OrderID: orderID, Message: message, Cause: cause}
}

// Sentinel values for errors.Is comparisons where only the Kind matters,
// e.g. `errors.Is(err, execerr.InsufficientLiquidity)`.
var (
	InsufficientLiquidity = &Error{Kind: KindInsufficientLiquidity}
	RateLimited           = &Error{Kind: KindRateLimited}
	VenueErr              = &Error{Kind: KindVenueError}
	InvalidOrder          = &Error{Kind: KindInvalidOrder}
	SlippageExceeded      = &Error{Kind: KindSlippageExceeded}
	Timeout               = &Error{Kind: KindTimeout}
	TradingPaused         = &Error{Kind: KindTradingPaused}
	ConfigurationError    = &Error{Kind: KindConfigurationError}
	MEVAttackDetected     = &Error{Kind: KindMEVAttackDetected}
)

// OfKind reports whether err is an *Error of the given kind, at any depth
// in its wrap chain.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

func VenueErrorFor(venue, orderID, message string, cause error) *Error {
	return &Error{Kind: KindVenueError, OrderID: orderID, Venue: venue, Message: message, Cause: cause}
}
