package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Gateway = (*Paper)(nil)

// PriceFunc resolves a last traded price for "exchange|token" style keys.
// The paper gateway uses it for market fills and quote lookups.
type PriceFunc func(exchange, token string) (float64, bool)

// Paper is an in-memory Gateway for dry runs and tests. Limit and market
// entries fill immediately; stop orders rest as TRIGGER_PENDING until
// modified to market or canceled.
type Paper struct {
	prices PriceFunc

	mu        sync.Mutex
	orders    map[string]*Order
	sequence  []string // ids in placement order
	positions map[string]*Position
}

func NewPaper(prices PriceFunc) *Paper {
	return &Paper{
		prices:    prices,
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
	}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) PlaceOrder(_ context.Context, req OrderRequest) (string, error) {
	if req.Quantity <= 0 {
		return "", fmt.Errorf("paper: quantity must be positive, got %d", req.Quantity)
	}

	id := uuid.NewString()
	order := &Order{
		ID:           id,
		Symbol:       req.Symbol,
		Exchange:     req.Exchange,
		Side:         req.Side,
		Type:         req.Type,
		Quantity:     req.Quantity,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		Tag:          req.Tag,
		UpdatedAt:    time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.Type {
	case TypeStopLimit, TypeStopMarket:
		order.Status = StatusTriggerPending
	default:
		p.fillLocked(order)
	}

	p.orders[id] = order
	p.sequence = append(p.sequence, id)
	return id, nil
}

// fillLocked marks the order complete and nets it into the position book.
func (p *Paper) fillLocked(order *Order) {
	price := order.Price
	if lp, ok := p.prices(order.Exchange, order.Symbol); ok && order.Type == TypeMarket {
		price = lp
	}
	order.Status = StatusComplete
	order.AveragePrice = price
	order.UpdatedAt = time.Now()

	pos, ok := p.positions[order.Symbol]
	if !ok {
		pos = &Position{Symbol: order.Symbol, Exchange: order.Exchange, Product: "M"}
		p.positions[order.Symbol] = pos
	}
	if order.Side == SideBuy {
		pos.Quantity += order.Quantity
	} else {
		pos.Quantity -= order.Quantity
	}
}

func (p *Paper) ModifyOrder(_ context.Context, req ModifyRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[req.OrderID]
	if !ok {
		return fmt.Errorf("paper: modify unknown order %s", req.OrderID)
	}
	if order.Status.Terminal() {
		return fmt.Errorf("paper: modify %s in terminal status %s", req.OrderID, order.Status)
	}

	order.Type = req.Type
	order.Price = req.Price
	order.TriggerPrice = req.TriggerPrice
	if req.Quantity > 0 {
		order.Quantity = req.Quantity
	}
	if req.Type == TypeMarket {
		p.fillLocked(order)
	}
	return nil
}

func (p *Paper) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: cancel unknown order %s", orderID)
	}
	if order.Status.Terminal() {
		return fmt.Errorf("paper: cancel %s in terminal status %s", orderID, order.Status)
	}
	order.Status = StatusCanceled
	order.UpdatedAt = time.Now()
	return nil
}

func (p *Paper) QueryOrder(_ context.Context, orderID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, nil
	}
	clone := *order
	return &clone, nil
}

func (p *Paper) Orders(_ context.Context) ([]Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	orders := make([]Order, 0, len(p.sequence))
	for _, id := range p.sequence {
		orders = append(orders, *p.orders[id])
	}
	return orders, nil
}

func (p *Paper) Positions(_ context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	positions := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, *pos)
	}
	return positions, nil
}

func (p *Paper) LastPrice(_ context.Context, exchange, token string) (float64, error) {
	if lp, ok := p.prices(exchange, token); ok {
		return lp, nil
	}
	return 0, fmt.Errorf("paper: no price for %s|%s", exchange, token)
}

// Reject forces a non-terminal order into REJECTED. Test hook for
// exercising terminal entry outcomes.
func (p *Paper) Reject(orderID, reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok || order.Status.Terminal() {
		return false
	}
	order.Status = StatusRejected
	order.Rejection = reason
	order.UpdatedAt = time.Now()
	return true
}
