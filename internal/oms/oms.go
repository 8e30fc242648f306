// Package oms owns the local order collection and derived positions for
// one venue: it issues orders through the gateway, reconciles their
// lifecycle against venue state and maintains at most one position per
// symbol.
package oms

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"multi-venue-trading-bot/internal/events"
	"multi-venue-trading-bot/internal/metrics"
	"multi-venue-trading-bot/internal/venue"
)

// OrderFilter narrows GetOrders results
type OrderFilter struct {
	Symbol string
	Status venue.OrderStatus
	Active bool // only non-terminal orders
}

// OMS manages orders and positions for a single venue. All writes are
// serialized behind one mutex (single logical writer per venue); queries
// return snapshot copies.
type OMS struct {
	mu sync.RWMutex

	venueID   string
	gateway   venue.Gateway
	orders    map[string]*venue.Order
	orderSeq  []string // insertion order of local ids
	positions map[string]*venue.Position

	lastSyncTs int64

	bus    *events.Bus
	store  SnapshotStore
	logger zerolog.Logger
}

// New creates an OMS for the venue behind the gateway.
func New(venueID string, gateway venue.Gateway, logger zerolog.Logger) *OMS {
	return &OMS{
		venueID:   venueID,
		gateway:   gateway,
		orders:    make(map[string]*venue.Order),
		positions: make(map[string]*venue.Position),
		logger:    logger.With().Str("component", "oms").Str("venue", venueID).Logger(),
	}
}

// WithEventBus attaches the event bus.
func (o *OMS) WithEventBus(bus *events.Bus) *OMS {
	o.bus = bus
	return o
}

// WithSnapshotStore attaches the crash-recovery snapshot store.
func (o *OMS) WithSnapshotStore(store SnapshotStore) *OMS {
	o.store = store
	return o
}

// VenueID returns the venue this OMS belongs to.
func (o *OMS) VenueID() string { return o.venueID }

// SetExchangeService replaces the gateway, mainly for reconnection with
// fresh credentials.
func (o *OMS) SetExchangeService(gateway venue.Gateway) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gateway = gateway
}

// CreateOrder persists the order locally, submits it to the venue and
// returns the local id. Venue rejection does not fail the call: the order
// transitions to REJECTED and the id is still returned as the
// reconciliation key.
func (o *OMS) CreateOrder(ctx context.Context, req *venue.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	order := &venue.Order{
		ID:        uuid.NewString(),
		VenueID:   o.venueID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Amount:    req.Amount,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Status:    venue.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	o.mu.Lock()
	o.orders[order.ID] = order
	o.orderSeq = append(o.orderSeq, order.ID)
	o.mu.Unlock()

	venueOrderID, err := o.gateway.ExecuteOrder(ctx, req)

	o.mu.Lock()
	if err != nil {
		order.Status = venue.StatusRejected
		order.UpdatedAt = time.Now()
		o.mu.Unlock()
		o.logger.Warn().Err(err).
			Str("order_id", order.ID).
			Str("symbol", req.Symbol).
			Msg("Venue rejected order")
		if o.bus != nil {
			o.bus.PublishOrderEvent(events.EventOrderRejected, o.venueID, order.ID, req.Symbol, string(req.Side), req.Amount)
		}
		return order.ID, nil
	}
	order.VenueOrderID = venueOrderID
	order.Status = venue.StatusPlaced
	order.UpdatedAt = time.Now()
	o.mu.Unlock()

	o.logger.Info().
		Str("order_id", order.ID).
		Str("venue_order_id", venueOrderID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("amount", req.Amount).
		Msg("Order placed")
	if o.bus != nil {
		o.bus.PublishOrderEvent(events.EventOrderPlaced, o.venueID, order.ID, req.Symbol, string(req.Side), req.Amount)
	}
	return order.ID, nil
}

// CancelOrder cancels a tracked order at the venue.
func (o *OMS) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	o.mu.RLock()
	order, ok := o.orders[orderID]
	if !ok {
		o.mu.RUnlock()
		return false, venue.ErrOrderNotFound
	}
	if order.Status.IsTerminal() || order.VenueOrderID == "" {
		o.mu.RUnlock()
		return false, nil
	}
	venueOrderID, symbol := order.VenueOrderID, order.Symbol
	side, amount := order.Side, order.Amount
	o.mu.RUnlock()

	if err := o.gateway.CancelOrder(ctx, venueOrderID, symbol); err != nil {
		return false, fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	o.mu.Lock()
	o.transition(order, venue.StatusCanceled)
	o.mu.Unlock()

	if o.bus != nil {
		o.bus.PublishOrderEvent(events.EventOrderCancelled, o.venueID, orderID, symbol, string(side), amount)
	}
	return true, nil
}

// CancelAllOrders cancels every active order, optionally filtered by
// symbol, returning the number of successful cancellations.
func (o *OMS) CancelAllOrders(ctx context.Context, symbol string) int {
	active := o.GetOrders(OrderFilter{Symbol: symbol, Active: true})

	count := 0
	for _, order := range active {
		ok, err := o.CancelOrder(ctx, order.ID)
		if err != nil {
			o.logger.Warn().Err(err).Str("order_id", order.ID).Msg("Cancel failed")
			continue
		}
		if ok {
			count++
		}
	}
	return count
}

// GetOrders returns copies of tracked orders matching the filter, in
// creation order.
func (o *OMS) GetOrders(filter OrderFilter) []venue.Order {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]venue.Order, 0, len(o.orderSeq))
	for _, id := range o.orderSeq {
		order := o.orders[id]
		if filter.Symbol != "" && order.Symbol != filter.Symbol {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.Active && order.Status.IsTerminal() {
			continue
		}
		out = append(out, *order)
	}
	return out
}

// GetPositions returns copies of open positions, optionally filtered by
// symbol.
func (o *OMS) GetPositions(symbol string) []venue.Position {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]venue.Position, 0, len(o.positions))
	for _, pos := range o.positions {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		out = append(out, *pos)
	}
	return out
}

// GetPositionsBySymbol returns the open positions for one symbol.
func (o *OMS) GetPositionsBySymbol(symbol string) []venue.Position {
	return o.GetPositions(symbol)
}

// SyncOrderStatus reconciles every non-terminal order with venue state and
// updates derived positions from fill deltas.
func (o *OMS) SyncOrderStatus(ctx context.Context) error {
	pending := o.GetOrders(OrderFilter{Active: true})

	var lastErr error
	for _, snapshot := range pending {
		if snapshot.VenueOrderID == "" {
			continue
		}
		remote, err := o.gateway.FetchOrderAndConvert(ctx, snapshot.VenueOrderID, snapshot.Symbol)
		if err != nil {
			o.logger.Warn().Err(err).Str("order_id", snapshot.ID).Msg("Order sync failed")
			lastErr = err
			continue
		}
		o.applyRemote(snapshot.ID, remote)
	}

	o.mu.Lock()
	o.lastSyncTs = time.Now().UnixMilli()
	o.mu.Unlock()

	if o.store != nil {
		if err := o.SaveSnapshot(ctx); err != nil {
			o.logger.Warn().Err(err).Msg("Snapshot save failed")
		}
	}
	return lastErr
}

// applyRemote merges the venue's view of an order into local state.
func (o *OMS) applyRemote(orderID string, remote *venue.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()

	order, ok := o.orders[orderID]
	if !ok || order.Status.IsTerminal() {
		return
	}

	filledDelta := remote.FilledAmount - order.FilledAmount
	statusChanged := remote.Status != order.Status

	if statusChanged {
		metrics.ReconciliationDrift.WithLabelValues(o.venueID).Inc()
		o.transition(order, remote.Status)
	}
	if filledDelta > venue.FlatThreshold {
		order.FilledAmount = remote.FilledAmount
		order.AvgFillPrice = remote.AvgFillPrice
		order.UpdatedAt = time.Now()
		o.applyFill(order.Symbol, order.Side, filledDelta, remote.AvgFillPrice)
		if order.Status == venue.StatusFilled && o.bus != nil {
			o.bus.PublishOrderEvent(events.EventOrderFilled, o.venueID, order.ID, order.Symbol, string(order.Side), order.FilledAmount)
		}
	}
}

// transition moves the order to the new status, enforcing terminal states
// as sinks.
func (o *OMS) transition(order *venue.Order, next venue.OrderStatus) {
	if order.Status.IsTerminal() {
		return
	}
	order.Status = next
	order.UpdatedAt = time.Now()
}

// applyFill updates the symbol's position with a signed fill delta. Same-
// side fills recompute the cost-weighted entry; cross-side fills net the
// position down and flip it when they cross zero.
func (o *OMS) applyFill(symbol string, side venue.OrderSide, filledDelta, fillPrice float64) {
	pos, exists := o.positions[symbol]
	if !exists {
		pos = &venue.Position{
			Symbol:     symbol,
			Side:       side,
			Amount:     filledDelta,
			EntryPrice: fillPrice,
			Timestamp:  time.Now().UnixMilli(),
		}
		pos.MarkToMarket(fillPrice)
		o.positions[symbol] = pos
		o.publishPosition(pos)
		return
	}

	if pos.Side == side {
		total := pos.Amount + filledDelta
		pos.EntryPrice = (pos.Amount*pos.EntryPrice + filledDelta*fillPrice) / total
		pos.Amount = total
	} else {
		remaining := pos.Amount - filledDelta
		switch {
		case math.Abs(remaining) < venue.FlatThreshold:
			delete(o.positions, symbol)
			o.publishFlat(symbol, side)
			return
		case remaining > 0:
			pos.Amount = remaining
		default:
			// Crossed zero: flip side, entry resets to the fill price of
			// the crossing portion.
			pos.Side = side
			pos.Amount = -remaining
			pos.EntryPrice = fillPrice
		}
	}

	if pos.Amount < venue.FlatThreshold {
		delete(o.positions, symbol)
		o.publishFlat(symbol, side)
		return
	}
	pos.Timestamp = time.Now().UnixMilli()
	pos.MarkToMarket(fillPrice)
	o.publishPosition(pos)
}

// MarkPositions refreshes mark-to-market values with current prices.
func (o *OMS) MarkPositions(prices map[string]float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for symbol, pos := range o.positions {
		if price, ok := prices[symbol]; ok && price > 0 {
			pos.MarkToMarket(price)
		}
	}
}

func (o *OMS) publishPosition(pos *venue.Position) {
	if o.bus != nil {
		o.bus.PublishPositionUpdate(o.venueID, pos.Symbol, string(pos.Side), pos.Amount, pos.EntryPrice, pos.UnrealizedPnL)
	}
}

func (o *OMS) publishFlat(symbol string, side venue.OrderSide) {
	if o.bus != nil {
		o.bus.PublishPositionUpdate(o.venueID, symbol, string(side), 0, 0, 0)
	}
}
