// Package routingrules implements an optional operator pre-filter stage
// in front of SmartOrderRouter candidate generation: rules like "always
// reject venue X" or "force venue Y for urgency=Critical" that compose
// with, but do not replace, the router's own scoring.
package routingrules

import (
	"github.com/shadowbook/execd/internal/model"
	"github.com/shadowbook/execd/internal/venue"
)

// ConditionField names the order attribute a condition inspects.
type ConditionField string

const (
	FieldSymbol  ConditionField = "symbol"
	FieldUrgency ConditionField = "urgency"
	FieldSide    ConditionField = "side"
)

// Condition is one predicate in a rule; all conditions in a rule must
// match for its action to apply.
type Condition struct {
	Field ConditionField
	Equals string
}

func (c Condition) matches(order model.ParentOrder) bool {
	switch c.Field {
	case FieldSymbol:
		return string(order.Symbol) == c.Equals
	case FieldUrgency:
		return string(order.Metadata.Urgency) == c.Equals
	case FieldSide:
		return string(order.Side) == c.Equals
	default:
		return false
	}
}

// ActionType is what a matched rule does to the eligible-venue set.
type ActionType string

const (
	ActionBlockVenue ActionType = "block_venue"
	ActionForceVenue ActionType = "force_venue"
)

// Action is applied to the eligible-venue list when its rule's
// conditions all match.
type Action struct {
	Type    ActionType
	VenueID string
}

// Rule is one operator override: a set of conditions and the action to
// take when they all match.
type Rule struct {
	Name       string
	Conditions []Condition
	Action     Action
}

func (r Rule) matches(order model.ParentOrder) bool {
	for _, c := range r.Conditions {
		if !c.matches(order) {
			return false
		}
	}
	return true
}

// Engine holds the active rule set and applies it to the router's
// eligible-venue list before scoring.
type Engine struct {
	rules []Rule
}

func New(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Filter applies every matching rule's action to venues, in rule order.
// A force_venue action narrows the set to just that venue (if present);
// a block_venue action removes it. Later rules act on the already
// narrowed set.
func (e *Engine) Filter(order model.ParentOrder, venues []venue.Descriptor) []venue.Descriptor {
	if e == nil {
		return venues
	}

	for _, rule := range e.rules {
		if !rule.matches(order) {
			continue
		}

		switch rule.Action.Type {
		case ActionBlockVenue:
			venues = without(venues, rule.Action.VenueID)
		case ActionForceVenue:
			if forced, ok := find(venues, rule.Action.VenueID); ok {
				venues = []venue.Descriptor{forced}
			}
		}
	}

	return venues
}

func without(venues []venue.Descriptor, venueID string) []venue.Descriptor {
	out := make([]venue.Descriptor, 0, len(venues))
	for _, v := range venues {
		if v.ID != venueID {
			out = append(out, v)
		}
	}
	return out
}

func find(venues []venue.Descriptor, venueID string) (venue.Descriptor, bool) {
	for _, v := range venues {
		if v.ID == venueID {
			return v, true
		}
	}
	return venue.Descriptor{}, false
}
