// Package models provides the data structures and order-lifecycle state
// management shared across the trading pipeline.
package models

import (
	"fmt"
	"strings"
	"time"
)

// OrderState represents where a submitted order sits in its lifecycle.
type OrderState string

const (
	OrderPending   OrderState = "pending"   // accepted locally, not yet acknowledged by the broker
	OrderRouted    OrderState = "routed"    // broker acknowledged and routed to the exchange
	OrderLive      OrderState = "live"      // working on the book
	OrderFilled    OrderState = "filled"    // fully executed
	OrderCancelled OrderState = "cancelled" // cancelled or expired without a fill
	OrderRejected  OrderState = "rejected"  // refused by the broker or exchange
)

// OrderTransition defines one valid lifecycle transition.
type OrderTransition struct {
	From        OrderState
	To          OrderState
	Condition   string
	Description string
}

// ValidOrderTransitions enumerates every lifecycle move the manager may make.
var ValidOrderTransitions = []OrderTransition{
	{OrderPending, OrderRouted, "broker_acknowledged", "Broker accepted the order"},
	{OrderPending, OrderLive, "working", "Order went straight to the book"},
	{OrderPending, OrderFilled, "filled", "Order filled on entry"},
	{OrderPending, OrderRejected, "broker_rejected", "Broker refused the order"},
	{OrderPending, OrderCancelled, "cancel_requested", "Cancelled before routing"},

	{OrderRouted, OrderLive, "working", "Order working on the book"},
	{OrderRouted, OrderFilled, "filled", "Order filled while routing"},
	{OrderRouted, OrderRejected, "exchange_rejected", "Exchange refused the order"},
	{OrderRouted, OrderCancelled, "cancel_requested", "Cancelled while routing"},

	{OrderLive, OrderFilled, "filled", "Order filled"},
	{OrderLive, OrderCancelled, "cancel_requested", "Cancelled while working"},
	{OrderLive, OrderCancelled, "poll_timeout", "Gave up waiting for a fill"},
}

// IsTerminal reports whether the state admits no further transitions.
func (s OrderState) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// OrderStateFromBroker maps a broker's verbatim status string onto an
// OrderState. The second return is false for statuses this system does not
// track, which callers should log and keep polling through.
func OrderStateFromBroker(status string) (OrderState, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "received", "pending", "contingent":
		return OrderPending, true
	case "routed", "in flight":
		return OrderRouted, true
	case "live", "open", "working":
		return OrderLive, true
	case "filled":
		return OrderFilled, true
	case "cancelled", "canceled", "expired":
		return OrderCancelled, true
	case "rejected", "removed":
		return OrderRejected, true
	default:
		return "", false
	}
}

// OrderStateMachine tracks one order's lifecycle and refuses undefined
// transitions. It is not safe for concurrent use; the owning manager
// serializes access.
type OrderStateMachine struct {
	currentState   OrderState
	previousState  OrderState
	transitionTime time.Time
	history        []OrderTransition
}

// NewOrderStateMachine creates a machine in the pending state.
func NewOrderStateMachine() *OrderStateMachine {
	return &OrderStateMachine{
		currentState:   OrderPending,
		previousState:  OrderPending,
		transitionTime: time.Now().UTC(),
	}
}

// NewOrderStateMachineAt resumes a machine at a persisted state.
func NewOrderStateMachineAt(state OrderState) *OrderStateMachine {
	sm := NewOrderStateMachine()
	sm.currentState = state
	sm.previousState = state
	return sm
}

// GetCurrentState returns the current state.
func (sm *OrderStateMachine) GetCurrentState() OrderState {
	return sm.currentState
}

// GetPreviousState returns the state before the last transition.
func (sm *OrderStateMachine) GetPreviousState() OrderState {
	return sm.previousState
}

// IsValidTransition checks whether moving to the target state under the
// given condition is defined, without performing the move.
func (sm *OrderStateMachine) IsValidTransition(to OrderState, condition string) error {
	if sm.currentState.IsTerminal() {
		return fmt.Errorf("order already terminal in state %s", sm.currentState)
	}
	for _, tr := range ValidOrderTransitions {
		if tr.From == sm.currentState && tr.To == to && tr.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid order transition from %s to %s with condition %q",
		sm.currentState, to, condition)
}

// Transition moves to a new state after validation.
func (sm *OrderStateMachine) Transition(to OrderState, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}
	sm.history = append(sm.history, OrderTransition{
		From:      sm.currentState,
		To:        to,
		Condition: condition,
	})
	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = time.Now().UTC()
	return nil
}

// AdvanceTo walks the machine toward an observed broker state, inferring the
// connecting condition. Polling can skip intermediate states (an order may
// jump pending -> filled between polls), so unreachable targets are an error
// only when no defined path exists from the current state.
func (sm *OrderStateMachine) AdvanceTo(observed OrderState) error {
	if observed == sm.currentState {
		return nil
	}
	for _, tr := range ValidOrderTransitions {
		if tr.From == sm.currentState && tr.To == observed {
			return sm.Transition(observed, tr.Condition)
		}
	}
	return fmt.Errorf("no transition from %s to observed broker state %s", sm.currentState, observed)
}

// TransitionCount returns how many times the machine has entered the state.
func (sm *OrderStateMachine) TransitionCount(state OrderState) int {
	n := 0
	for _, tr := range sm.history {
		if tr.To == state {
			n++
		}
	}
	return n
}

// History returns a copy of the recorded transitions in order.
func (sm *OrderStateMachine) History() []OrderTransition {
	out := make([]OrderTransition, len(sm.history))
	copy(out, sm.history)
	return out
}

// GetStateDescription returns a human-readable description of the current state.
func (sm *OrderStateMachine) GetStateDescription() string {
	switch sm.currentState {
	case OrderPending:
		return "Order accepted locally, waiting for broker acknowledgement"
	case OrderRouted:
		return "Broker routed the order to the exchange"
	case OrderLive:
		return "Order working on the book, waiting for a fill"
	case OrderFilled:
		return "Order fully executed"
	case OrderCancelled:
		return "Order cancelled without a complete fill"
	case OrderRejected:
		return "Order refused by the broker or exchange"
	default:
		return "Unknown state"
	}
}

// Copy creates a deep copy of the machine.
func (sm *OrderStateMachine) Copy() *OrderStateMachine {
	if sm == nil {
		return nil
	}
	cp := &OrderStateMachine{
		currentState:   sm.currentState,
		previousState:  sm.previousState,
		transitionTime: sm.transitionTime,
	}
	cp.history = make([]OrderTransition, len(sm.history))
	copy(cp.history, sm.history)
	return cp
}
