package oms

import (
	"context"
	"fmt"
	"sync"

	"multi-venue-trading-bot/internal/venue"
)

// Snapshot is the serializable OMS state used for crash recovery. Loading
// a snapshot restores tracking; the next SyncOrderStatus reconciles any
// drift that happened while the process was down.
type Snapshot struct {
	VenueID    string           `json:"venue_id"`
	Orders     []venue.Order    `json:"orders"`
	Positions  []venue.Position `json:"positions"`
	LastSyncTs int64            `json:"last_sync_ts"`
}

// SnapshotStore persists OMS snapshots keyed by venue id.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot *Snapshot) error
	Load(ctx context.Context, venueID string) (*Snapshot, error)
}

// SaveSnapshot writes the current state to the attached store.
func (o *OMS) SaveSnapshot(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	return o.store.Save(ctx, o.Snapshot())
}

// Snapshot captures the current state.
func (o *OMS) Snapshot() *Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snap := &Snapshot{
		VenueID:    o.venueID,
		Orders:     make([]venue.Order, 0, len(o.orderSeq)),
		Positions:  make([]venue.Position, 0, len(o.positions)),
		LastSyncTs: o.lastSyncTs,
	}
	for _, id := range o.orderSeq {
		snap.Orders = append(snap.Orders, *o.orders[id])
	}
	for _, pos := range o.positions {
		snap.Positions = append(snap.Positions, *pos)
	}
	return snap
}

// LoadSnapshot restores state from the attached store. A missing snapshot
// is not an error; the OMS simply starts empty.
func (o *OMS) LoadSnapshot(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	snap, err := o.store.Load(ctx, o.venueID)
	if err != nil {
		return fmt.Errorf("load snapshot for %s: %w", o.venueID, err)
	}
	if snap == nil {
		return nil
	}
	o.Restore(snap)
	o.logger.Info().
		Int("orders", len(snap.Orders)).
		Int("positions", len(snap.Positions)).
		Msg("State restored from snapshot")
	return nil
}

// Restore replaces the OMS state with the snapshot contents.
func (o *OMS) Restore(snap *Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.orders = make(map[string]*venue.Order, len(snap.Orders))
	o.orderSeq = make([]string, 0, len(snap.Orders))
	for i := range snap.Orders {
		order := snap.Orders[i]
		o.orders[order.ID] = &order
		o.orderSeq = append(o.orderSeq, order.ID)
	}
	o.positions = make(map[string]*venue.Position, len(snap.Positions))
	for i := range snap.Positions {
		pos := snap.Positions[i]
		o.positions[pos.Symbol] = &pos
	}
	o.lastSyncTs = snap.LastSyncTs
}

// MemoryStore is an in-memory SnapshotStore for tests and backtests.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*Snapshot)}
}

// Save stores a copy of the snapshot.
func (m *MemoryStore) Save(_ context.Context, snapshot *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snapshot
	cp.Orders = append([]venue.Order(nil), snapshot.Orders...)
	cp.Positions = append([]venue.Position(nil), snapshot.Positions...)
	m.snapshots[snapshot.VenueID] = &cp
	return nil
}

// Load returns the stored snapshot, or nil when none exists.
func (m *MemoryStore) Load(_ context.Context, venueID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[venueID]
	if !ok {
		return nil, nil
	}
	cp := *snap
	cp.Orders = append([]venue.Order(nil), snap.Orders...)
	cp.Positions = append([]venue.Position(nil), snap.Positions...)
	return &cp, nil
}
