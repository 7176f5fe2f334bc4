// Package broker defines the gateway contract the engine trades through
// and the order/position types shared across the system.
package broker

import (
	"context"
	"time"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for an entry side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	TypeLimit      OrderType = "LMT"
	TypeMarket     OrderType = "MKT"
	TypeStopLimit  OrderType = "SL-LMT"
	TypeStopMarket OrderType = "SL-MKT"
)

type Status string

const (
	StatusOpen           Status = "OPEN"
	StatusTriggerPending Status = "TRIGGER_PENDING"
	StatusComplete       Status = "COMPLETE"
	StatusRejected       Status = "REJECTED"
	StatusCanceled       Status = "CANCELED"
)

// Terminal reports whether the broker will emit no further transitions
// for an order in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusRejected, StatusCanceled:
		return true
	}
	return false
}

// Order is the broker's view of an order, normalized from the venue fields.
type Order struct {
	ID           string
	Symbol       string
	Exchange     string
	Side         Side
	Type         OrderType
	Quantity     int
	Price        float64
	TriggerPrice float64
	AveragePrice float64
	Status       Status
	Rejection    string
	Tag          string
	UpdatedAt    time.Time
}

// OrderRequest describes a new order to place.
type OrderRequest struct {
	Symbol            string
	Exchange          string
	Side              Side
	Type              OrderType
	Quantity          int
	DisclosedQuantity int
	Price             float64
	TriggerPrice      float64
	Product           string // broker product code, e.g. M for NRML
	Tag               string
}

// ModifyRequest describes an in-place amendment of a resting order.
type ModifyRequest struct {
	OrderID      string
	Symbol       string
	Exchange     string
	Quantity     int
	Type         OrderType
	Price        float64
	TriggerPrice float64
}

type Position struct {
	Symbol        string
	Exchange      string
	Product       string
	Quantity      int // net quantity, negative when short
	UnrealizedPnL float64
}

// Gateway is the seam to a concrete brokerage. Calls are synchronous and
// may fail; QueryOrder returns (nil, nil) when the order is unknown.
type Gateway interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	ModifyOrder(ctx context.Context, req ModifyRequest) error
	CancelOrder(ctx context.Context, orderID string) error
	QueryOrder(ctx context.Context, orderID string) (*Order, error)
	Orders(ctx context.Context) ([]Order, error)
	Positions(ctx context.Context) ([]Position, error)
	LastPrice(ctx context.Context, exchange, token string) (float64, error)
}

// MTM sums the unrealized P&L over open positions.
func MTM(positions []Position) float64 {
	var pnl float64
	for _, p := range positions {
		pnl += p.UnrealizedPnL
	}
	return pnl
}
