package domain

import "time"

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusMatched, OrderStatusCancelled:
		return true
	}
	return false
}

// Order is a simple limit order submitted by a participant.
//
// RemainingQuantity is the mutable quantity that decreases as the order
// fills. CreatedAt and Seq together fix the order's time priority: Seq is
// assigned by the repository on insert and never changes, so two orders
// with the same CreatedAt keep the same relative position across
// matching passes.
type Order struct {
	OrderID           string
	ParticipantID     string
	Symbol            string
	Side              OrderSide
	Price             int64 // cents
	Quantity          int64
	RemainingQuantity int64
	FilledQuantity    int64
	Status            OrderStatus
	Seq               uint64
	CreatedAt         time.Time
	CancelledAt       *time.Time
}

// Clone returns a copy of the order that shares no pointers with o.
func (o *Order) Clone() *Order {
	c := *o
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

// Fill applies an execution of qty to the order and transitions it to
// matched once nothing remains.
func (o *Order) Fill(qty int64) {
	o.RemainingQuantity -= qty
	o.FilledQuantity += qty
	if o.RemainingQuantity == 0 {
		o.Status = OrderStatusMatched
	}
}

// ArrivedBefore reports whether o was submitted strictly earlier than other.
func (o *Order) ArrivedBefore(other *Order) bool {
	return o.CreatedAt.Before(other.CreatedAt)
}
