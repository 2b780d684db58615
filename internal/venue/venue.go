// Package venue tracks the set of trading venues the router may allocate
// to and exposes the VenueAdapter boundary each concrete exchange
// integration implements.
package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/shadowbook/execd/internal/model"
)

// VenueType classifies a venue's market structure.
type VenueType string

const (
	VenueTypeExchange  VenueType = "exchange"
	VenueTypeDarkPool  VenueType = "dark_pool"
	VenueTypeECN       VenueType = "ecn"
	VenueTypeAMM       VenueType = "amm"
)

// Descriptor is the static, operator-configured profile of a venue: its
// identity, fee schedule, and rate-limit budget. Distinct from the
// dynamic VenueMetrics the metrics package tracks from observed behavior.
type Descriptor struct {
	ID           string
	Name         string
	Type         VenueType
	Symbols      map[string]bool
	MakerFeeBps  decimal.Decimal
	TakerFeeBps  decimal.Decimal
	RateLimitRPS int
	RateLimitBurst int
}

// SupportsSymbol reports whether this venue trades the given symbol. An
// empty Symbols set is treated as "supports everything", matching the
// router's synthetic/test venues.
func (d Descriptor) SupportsSymbol(sym model.Symbol) bool {
	if len(d.Symbols) == 0 {
		return true
	}
	return d.Symbols[string(sym)]
}

// SubmitResult is the outcome of handing an allocation to a venue adapter.
type SubmitResult struct {
	Fills        []model.Fill
	Accepted     bool
	RejectReason string
}

// Adapter is the boundary every concrete venue integration implements.
// Implementations MAY operate in a synthetic mode for tests and for
// running the engine without live exchange connectivity.
type Adapter interface {
	VenueID() string
	IsAvailable(ctx context.Context) bool
	Submit(ctx context.Context, orderID string, alloc model.Allocation, sym model.Symbol, side model.Side) (SubmitResult, error)
	Cancel(ctx context.Context, orderID, venueOrderID string) error
}

// Registry is the single source of truth for which venues exist, their
// static profile, and their per-venue rate limiter. Safe for concurrent
// use; registration is rare relative to lookups, so reads take a RWMutex.
type Registry struct {
	mu        sync.RWMutex
	venues    map[string]Descriptor
	adapters  map[string]Adapter
	limiters  map[string]*rate.Limiter
}

func NewRegistry() *Registry {
	return &Registry{
		venues:   make(map[string]Descriptor),
		adapters: make(map[string]Adapter),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Register adds or replaces a venue's descriptor and adapter.
func (r *Registry) Register(d Descriptor, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.venues[d.ID] = d
	r.adapters[d.ID] = adapter

	rps := d.RateLimitRPS
	if rps <= 0 {
		rps = 50
	}
	burst := d.RateLimitBurst
	if burst <= 0 {
		burst = rps
	}
	r.limiters[d.ID] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Deregister removes a venue, e.g. after repeated VenueError failures.
func (r *Registry) Deregister(venueID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.venues, venueID)
	delete(r.adapters, venueID)
	delete(r.limiters, venueID)
}

// Descriptor returns the static profile for a venue.
func (r *Registry) Descriptor(venueID string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.venues[venueID]
	return d, ok
}

// Adapter returns the adapter bound to a venue.
func (r *Registry) Adapter(venueID string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[venueID]
	return a, ok
}

// Eligible returns the venues currently eligible to receive an allocation
// for the given symbol: registered, quoting the symbol, and not
// rate-limit-exhausted right now.
func (r *Registry) Eligible(sym model.Symbol) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.venues))
	for id, d := range r.venues {
		if !d.SupportsSymbol(sym) {
			continue
		}
		if lim, ok := r.limiters[id]; ok && lim.Tokens() < 1 {
			continue
		}
		out = append(out, d)
	}
	return out
}

// All returns every registered venue descriptor regardless of symbol
// eligibility.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.venues))
	for _, d := range r.venues {
		out = append(out, d)
	}
	return out
}

// Allow consumes one rate-limit token for venueID, returning false if the
// venue is currently exhausted (callers should surface execerr.RateLimited).
func (r *Registry) Allow(venueID string) bool {
	r.mu.RLock()
	lim, ok := r.limiters[venueID]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return lim.Allow()
}

// Wait blocks until a rate-limit token for venueID is available or ctx is
// done, for callers that prefer to pace rather than fail fast.
func (r *Registry) Wait(ctx context.Context, venueID string) error {
	r.mu.RLock()
	lim, ok := r.limiters[venueID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return lim.Wait(ctx)
}

// String renders a venue's identity for logging.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.ID, d.Type)
}
