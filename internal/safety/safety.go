// Package safety gates whether the engine is allowed to route real
// orders, and broadcasts mode changes so in-flight orders can react.
package safety

import (
	"context"
	"sync"
	"time"
)

// Mode is the engine's current trading posture.
type Mode string

const (
	ModeLive       Mode = "live"
	ModeSimulation Mode = "simulation"
	ModePaused     Mode = "paused"
)

// Event is published on every mode transition and on an emergency stop,
// so the Orchestrator can cancel non-terminal orders without polling.
type Event struct {
	Kind      string // "mode_changed" | "emergency_stop"
	Previous  Mode
	Current   Mode
	Reason    string
	Timestamp time.Time
}

// Gate is the single authority on whether an order may proceed past
// validation. Cheap to check (a mutex-guarded read) because the
// Orchestrator consults it on every slice, not just once per order.
type Gate struct {
	mu        sync.RWMutex
	mode      Mode
	listeners []chan Event
}

func NewGate(initial Mode) *Gate {
	return &Gate{mode: initial}
}

// Mode returns the current trading mode.
func (g *Gate) Mode() Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// Allows reports whether an order may be routed right now. SIMULATION
// still runs the full pipeline but the executor must route to a
// simulated venue rather than a live one; that dispatch decision belongs
// to the caller, not the gate.
func (g *Gate) Allows() bool {
	m := g.Mode()
	return m == ModeLive || m == ModeSimulation
}

// SetMode transitions the gate to a new mode and notifies listeners.
func (g *Gate) SetMode(ctx context.Context, mode Mode, reason string) {
	g.mu.Lock()
	prev := g.mode
	g.mode = mode
	listeners := append([]chan Event(nil), g.listeners...)
	g.mu.Unlock()

	if prev == mode {
		return
	}

	evt := Event{Kind: "mode_changed", Previous: prev, Current: mode, Reason: reason, Timestamp: time.Now()}
	publish(listeners, evt)
}

// EmergencyStop forces the gate to PAUSED regardless of current mode and
// emits an emergency_stop event in addition to the mode_changed event, so
// subscribers can distinguish an operator pause from an automatic
// safety trip (e.g. MEVAttackDetected).
func (g *Gate) EmergencyStop(ctx context.Context, reason string) {
	g.mu.Lock()
	prev := g.mode
	g.mode = ModePaused
	listeners := append([]chan Event(nil), g.listeners...)
	g.mu.Unlock()

	publish(listeners, Event{Kind: "emergency_stop", Previous: prev, Current: ModePaused, Reason: reason, Timestamp: time.Now()})
	if prev != ModePaused {
		publish(listeners, Event{Kind: "mode_changed", Previous: prev, Current: ModePaused, Reason: reason, Timestamp: time.Now()})
	}
}

// Subscribe registers a channel to receive future mode/emergency events.
// The returned channel is buffered so a slow consumer never blocks the
// gate; callers that can't keep up will miss events rather than stall
// the transition.
func (g *Gate) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	g.mu.Lock()
	g.listeners = append(g.listeners, ch)
	g.mu.Unlock()
	return ch
}

func publish(listeners []chan Event, evt Event) {
	for _, ch := range listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
