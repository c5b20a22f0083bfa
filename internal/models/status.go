package models

import "fmt"

// OrderStatus is the closed set of sell-order states. Transitions only move
// forward; an order never returns to pending.
type OrderStatus string

const (
	StatusPending       OrderStatus = "pending"
	StatusTradeSent     OrderStatus = "trade_sent"
	StatusItemsReceived OrderStatus = "items_received"
	StatusCompleted     OrderStatus = "completed"
	StatusCancelled     OrderStatus = "cancelled"
	StatusExpired       OrderStatus = "expired"
)

var legalTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:       {StatusTradeSent, StatusCancelled, StatusExpired},
	StatusTradeSent:     {StatusItemsReceived, StatusCancelled},
	StatusItemsReceived: {StatusCompleted},
}

// ParseOrderStatus validates a raw status string against the closed set.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case StatusPending, StatusTradeSent, StatusItemsReceived,
		StatusCompleted, StatusCancelled, StatusExpired:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// CanTransition reports whether moving from s to next is a legal edge of the
// order state machine.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s OrderStatus) Terminal() bool {
	return len(legalTransitions[s]) == 0
}

func (s OrderStatus) String() string { return string(s) }
