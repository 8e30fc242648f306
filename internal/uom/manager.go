// Package uom implements the unified order manager: one logical order in,
// per-venue allocations out, with position aggregation across every
// registered venue.
package uom

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"multi-venue-trading-bot/internal/events"
	"multi-venue-trading-bot/internal/oms"
	"multi-venue-trading-bot/internal/venue"
)

var (
	// ErrNoActiveVenue is returned when no registered venue is active
	ErrNoActiveVenue = errors.New("no active venue")
	// ErrInvalidAllocation is returned on policy misconfiguration
	ErrInvalidAllocation = errors.New("invalid allocation config")
)

// registration ties a venue gateway to its OMS inside the manager
type registration struct {
	id       string
	gateway  venue.Gateway
	oms      *oms.OMS
	active   bool
	priority int
	seq      int // insertion order, breaks priority ties
}

// Manager routes logical orders across registered venues per the
// configured allocation policy.
type Manager struct {
	mu        sync.RWMutex
	regs      map[string]*registration
	activeIdx []*registration // sorted by (priority, seq), recomputed on mutation
	alloc     AllocationConfig
	nextSeq   int

	rrCounter atomic.Uint64

	bus    *events.Bus
	store  oms.SnapshotStore
	logger zerolog.Logger
}

// NewManager creates an empty manager with the PRIORITY strategy.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		regs:   make(map[string]*registration),
		alloc:  DefaultAllocationConfig(),
		logger: logger.With().Str("component", "uom").Logger(),
	}
}

// WithEventBus attaches the event bus passed down to each venue OMS.
func (m *Manager) WithEventBus(bus *events.Bus) *Manager {
	m.bus = bus
	return m
}

// WithSnapshotStore attaches the snapshot store passed down to each venue OMS.
func (m *Manager) WithSnapshotStore(store oms.SnapshotStore) *Manager {
	m.store = store
	return m
}

// AddExchange registers a venue with the given priority (lower wins) and
// creates its OMS. Returns false when the id is already registered.
func (m *Manager) AddExchange(id string, gateway venue.Gateway, priority int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.regs[id]; exists {
		return false
	}
	venueOMS := oms.New(id, gateway, m.logger)
	if m.bus != nil {
		venueOMS.WithEventBus(m.bus)
	}
	if m.store != nil {
		venueOMS.WithSnapshotStore(m.store)
	}
	m.regs[id] = &registration{
		id:       id,
		gateway:  gateway,
		oms:      venueOMS,
		active:   true,
		priority: priority,
		seq:      m.nextSeq,
	}
	m.nextSeq++
	m.rebuildActiveIndex()
	m.logger.Info().Str("venue", id).Int("priority", priority).Msg("Venue registered")
	return true
}

// RemoveExchange drops a venue from the registry.
func (m *Manager) RemoveExchange(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.regs[id]; !exists {
		return false
	}
	delete(m.regs, id)
	m.rebuildActiveIndex()
	return true
}

// SetExchangeActive toggles whether a venue participates in allocation.
func (m *Manager) SetExchangeActive(id string, active bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, exists := m.regs[id]
	if !exists {
		return false
	}
	reg.active = active
	m.rebuildActiveIndex()
	return true
}

// OMSFor exposes the per-venue OMS, mainly for recovery and inspection.
func (m *Manager) OMSFor(id string) *oms.OMS {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if reg, ok := m.regs[id]; ok {
		return reg.oms
	}
	return nil
}

// SetAllocationStrategy installs a policy after validating it against the
// currently active venues.
func (m *Manager) SetAllocationStrategy(cfg AllocationConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch cfg.Strategy {
	case StrategyPriority, StrategyRoundRobin, StrategySplitEqual:
	case StrategyWeighted:
		for _, reg := range m.activeIdx {
			if cfg.Weights[reg.id] <= 0 {
				return fmt.Errorf("%w: WEIGHTED needs a positive weight for %s", ErrInvalidAllocation, reg.id)
			}
		}
	case StrategyCustom:
		for _, reg := range m.activeIdx {
			if _, ok := cfg.CustomRatios[reg.id]; !ok {
				return fmt.Errorf("%w: CUSTOM needs a ratio for %s", ErrInvalidAllocation, reg.id)
			}
		}
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidAllocation, cfg.Strategy)
	}

	if cfg.Precision <= 0 {
		cfg.Precision = 2
	}
	m.alloc = cfg
	return nil
}

// Allocate computes the per-venue shares for an amount without placing
// anything. Exposed for pre-trade checks.
func (m *Manager) Allocate(amount float64) (map[string]float64, error) {
	m.mu.RLock()
	active := m.activeIDs()
	cfg := m.alloc
	m.mu.RUnlock()

	if len(active) == 0 {
		return nil, ErrNoActiveVenue
	}
	seq := uint64(0)
	if cfg.Strategy == StrategyRoundRobin {
		seq = m.rrCounter.Add(1) - 1
	}
	shares := allocate(cfg, active, amount, seq)
	if total := allocationSum(shares); math.Abs(total-amount) > sumRemainder*amount {
		m.logger.Error().
			Float64("amount", amount).
			Float64("allocated", total).
			Str("strategy", string(cfg.Strategy)).
			Msg("Allocation sum invariant violated")
	}
	return shares, nil
}

// CreateOrder allocates the request across active venues and fans out to
// each venue OMS in parallel. The result maps venue id to the local order
// id; venues whose submission failed are logged and omitted, so an empty
// map with a nil error means total failure.
func (m *Manager) CreateOrder(ctx context.Context, req *venue.OrderRequest) (map[string]string, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	shares, err := m.Allocate(req.Amount)
	if err != nil {
		return nil, err
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]string, len(shares))
	)
	for venueID, amount := range shares {
		if amount <= 0 {
			continue
		}
		venueOMS := m.OMSFor(venueID)
		if venueOMS == nil {
			continue
		}
		wg.Add(1)
		go func(id string, target *oms.OMS, share float64) {
			defer wg.Done()
			venueReq := *req
			venueReq.Amount = share
			orderID, err := target.CreateOrder(ctx, &venueReq)
			if err != nil {
				m.logger.Warn().Err(err).
					Str("venue", id).
					Str("symbol", req.Symbol).
					Float64("amount", share).
					Msg("Venue submission failed, omitting")
				return
			}
			mu.Lock()
			results[id] = orderID
			mu.Unlock()
		}(venueID, venueOMS, amount)
	}
	wg.Wait()
	return results, nil
}

// CancelOrder cancels one order on one venue.
func (m *Manager) CancelOrder(ctx context.Context, venueID, orderID string) bool {
	venueOMS := m.OMSFor(venueID)
	if venueOMS == nil {
		return false
	}
	ok, err := venueOMS.CancelOrder(ctx, orderID)
	if err != nil {
		m.logger.Warn().Err(err).Str("venue", venueID).Str("order_id", orderID).Msg("Cancel failed")
		return false
	}
	return ok
}

// CancelAllOrders cancels active orders, optionally restricted to one venue
// and/or one symbol, returning the total cancelled.
func (m *Manager) CancelAllOrders(ctx context.Context, venueID, symbol string) int {
	count := 0
	for _, reg := range m.registrations() {
		if venueID != "" && reg.id != venueID {
			continue
		}
		count += reg.oms.CancelAllOrders(ctx, symbol)
	}
	return count
}

// GetAllPositions returns open positions per venue, optionally filtered by
// symbol.
func (m *Manager) GetAllPositions(symbol string) map[string][]venue.Position {
	out := make(map[string][]venue.Position)
	for _, reg := range m.registrations() {
		if positions := reg.oms.GetPositions(symbol); len(positions) > 0 {
			out[reg.id] = positions
		}
	}
	return out
}

// GetTotalPosition consolidates one symbol across venues, or nil when the
// aggregate is flat.
func (m *Manager) GetTotalPosition(symbol string) *venue.Position {
	for _, pos := range m.consolidate(symbol) {
		if pos.Symbol == symbol {
			p := pos
			return &p
		}
	}
	return nil
}

// GetConsolidatedPositions sums positions by symbol across all venues.
func (m *Manager) GetConsolidatedPositions() []venue.Position {
	return m.consolidate("")
}

// consolidate nets per-venue positions by symbol. Entry price is total
// cost over net amount; near-flat aggregates are dropped.
func (m *Manager) consolidate(symbol string) []venue.Position {
	type agg struct {
		netAmount float64 // signed: BUY positive
		cost      float64
		pnl       float64
		lastPrice float64
		timestamp int64
	}
	bySymbol := make(map[string]*agg)
	order := make([]string, 0)

	for _, reg := range m.registrations() {
		for _, pos := range reg.oms.GetPositions(symbol) {
			a, ok := bySymbol[pos.Symbol]
			if !ok {
				a = &agg{}
				bySymbol[pos.Symbol] = a
				order = append(order, pos.Symbol)
			}
			signed := pos.Amount
			cost := pos.Cost
			if pos.Side == venue.SideSell {
				signed = -signed
				cost = -cost
			}
			a.netAmount += signed
			a.cost += cost
			a.pnl += pos.UnrealizedPnL
			a.lastPrice = pos.CurrentPrice
			if pos.Timestamp > a.timestamp {
				a.timestamp = pos.Timestamp
			}
		}
	}
	sort.Strings(order)

	out := make([]venue.Position, 0, len(order))
	for _, sym := range order {
		a := bySymbol[sym]
		if math.Abs(a.netAmount) < venue.FlatThreshold {
			continue
		}
		side := venue.SideBuy
		if a.netAmount < 0 {
			side = venue.SideSell
		}
		out = append(out, venue.Position{
			Symbol:        sym,
			Side:          side,
			Amount:        math.Abs(a.netAmount),
			EntryPrice:    math.Abs(a.cost) / math.Abs(a.netAmount),
			CurrentPrice:  a.lastPrice,
			Cost:          a.cost,
			UnrealizedPnL: a.pnl,
			Timestamp:     a.timestamp,
		})
	}
	return out
}

// SyncAllOrders reconciles every active venue in parallel; per-venue
// failures are logged and do not abort the others.
func (m *Manager) SyncAllOrders(ctx context.Context) {
	m.mu.RLock()
	active := make([]*registration, len(m.activeIdx))
	copy(active, m.activeIdx)
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, reg := range active {
		wg.Add(1)
		go func(r *registration) {
			defer wg.Done()
			if err := r.oms.SyncOrderStatus(ctx); err != nil {
				m.logger.Warn().Err(err).Str("venue", r.id).Msg("Venue sync failed")
			}
		}(reg)
	}
	wg.Wait()
}

// MarkAllPositions refreshes mark-to-market on every venue OMS.
func (m *Manager) MarkAllPositions(prices map[string]float64) {
	for _, reg := range m.registrations() {
		reg.oms.MarkPositions(prices)
	}
}

// rebuildActiveIndex recomputes the sorted active set. Callers hold mu.
func (m *Manager) rebuildActiveIndex() {
	idx := make([]*registration, 0, len(m.regs))
	for _, reg := range m.regs {
		if reg.active {
			idx = append(idx, reg)
		}
	}
	sort.Slice(idx, func(i, j int) bool {
		if idx[i].priority != idx[j].priority {
			return idx[i].priority < idx[j].priority
		}
		return idx[i].seq < idx[j].seq
	})
	m.activeIdx = idx
}

// activeIDs snapshots the sorted active venue ids. Callers hold mu.
func (m *Manager) activeIDs() []string {
	ids := make([]string, len(m.activeIdx))
	for i, reg := range m.activeIdx {
		ids[i] = reg.id
	}
	return ids
}

// registrations snapshots all registrations in insertion order.
func (m *Manager) registrations() []*registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*registration, 0, len(m.regs))
	for _, reg := range m.regs {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
