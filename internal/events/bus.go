// Package events provides the in-process event bus connecting the order
// managers, the circuit breaker and the status API.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventOrderPlaced     EventType = "ORDER_PLACED"
	EventOrderFilled     EventType = "ORDER_FILLED"
	EventOrderCancelled  EventType = "ORDER_CANCELLED"
	EventOrderRejected   EventType = "ORDER_REJECTED"
	EventPositionUpdate  EventType = "POSITION_UPDATE"
	EventEquityUpdate    EventType = "EQUITY_UPDATE"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventBreakerTripped  EventType = "BREAKER_TRIPPED"
	EventBreakerReset    EventType = "BREAKER_RESET"
	EventModeChanged     EventType = "MODE_CHANGED"
	EventSyncDrift       EventType = "SYNC_DRIFT"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Delivery is asynchronous so a
// slow subscriber never blocks the trading path.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishOrderEvent publishes an order lifecycle event
func (b *Bus) PublishOrderEvent(eventType EventType, venueID, orderID, symbol, side string, amount float64) {
	b.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"venue":    venueID,
			"order_id": orderID,
			"symbol":   symbol,
			"side":     side,
			"amount":   amount,
		},
	})
}

// PublishPositionUpdate publishes a position change
func (b *Bus) PublishPositionUpdate(venueID, symbol, side string, amount, entryPrice, pnl float64) {
	b.Publish(Event{
		Type: EventPositionUpdate,
		Data: map[string]interface{}{
			"venue":       venueID,
			"symbol":      symbol,
			"side":        side,
			"amount":      amount,
			"entry_price": entryPrice,
			"pnl":         pnl,
		},
	})
}
