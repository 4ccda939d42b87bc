// Package hotkeymap resolves binding ids to entities in O(1), rebuilt
// wholesale from one consistent ordered-registry snapshot and swapped in
// atomically so readers never observe a half-built table.
package hotkeymap

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/atperry7/ffxi-manager-sub000/internal/metrics"
	"github.com/atperry7/ffxi-manager-sub000/internal/order"
)

// Hotkey ids are a deterministic function of slot index. The cycle action is
// a reserved id strictly outside the 0..N-1 slot space.
const (
	BaseID    = 1000
	CycleID   = 999
	CycleSlot = -1
)

// IDForSlot returns the hotkey id for a slot index.
func IDForSlot(slot int) int {
	if slot == CycleSlot {
		return CycleID
	}
	return BaseID + slot
}

// SlotForID inverts IDForSlot. ok is false for ids outside the scheme.
func SlotForID(id int) (slot int, ok bool) {
	if id == CycleID {
		return CycleSlot, true
	}
	if id < BaseID {
		return 0, false
	}
	return id - BaseID, true
}

// Binding is the slice of a configured hotkey binding the cache cares about.
type Binding struct {
	Slot    int
	Enabled bool
}

// Mapped is one resolved binding: hotkey id -> entity at that slot.
type Mapped struct {
	Entity     order.Entity
	Slot       int
	ResolvedAt time.Time
}

// Cache is the binding-id -> entity table. Rebuilds replace the whole table;
// it is never patched incrementally.
type Cache struct {
	reg      *order.Registry
	bindings func() []Binding

	table      atomic.Pointer[map[int]Mapped]
	refreshing atomic.Bool
	log        *slog.Logger
}

// New builds a cache over reg and a bindings provider, subscribing to
// registry change notifications so every ordering change schedules a
// background refresh.
func New(reg *order.Registry, bindings func() []Binding) *Cache {
	c := &Cache{
		reg:      reg,
		bindings: bindings,
		log:      slog.Default().With("component", "hotkeymap"),
	}
	empty := map[int]Mapped{}
	c.table.Store(&empty)
	reg.OnChange(func() { go c.RefreshMappings() })
	return c
}

// RefreshMappings rebuilds the table from the current bindings and one
// ordered-registry snapshot, then swaps it in. The try-acquire is
// non-blocking: if a refresh is already in flight the call returns false and
// the caller should reuse that refresh's imminent result instead of starting
// a duplicate rebuild.
func (c *Cache) RefreshMappings() bool {
	if !c.refreshing.CompareAndSwap(false, true) {
		return false
	}
	defer c.refreshing.Store(false)

	snapshot := c.reg.GetOrdered()
	now := time.Now()
	table := make(map[int]Mapped)
	for _, b := range c.bindings() {
		if !b.Enabled || b.Slot == CycleSlot {
			continue
		}
		if b.Slot < 0 || b.Slot >= len(snapshot) {
			// Slots beyond the current entity count are absent, not null.
			continue
		}
		id := IDForSlot(b.Slot)
		if _, dup := table[id]; dup {
			c.log.Warn("duplicate enabled binding for slot", "slot", b.Slot)
			continue
		}
		table[id] = Mapped{Entity: snapshot[b.Slot], Slot: b.Slot, ResolvedAt: now}
	}
	c.table.Store(&table)
	metrics.IncMappingRefresh()
	return true
}

// Lookup resolves a hotkey id. On a miss it performs exactly one synchronous
// refresh-and-retry before reporting no mapping; it never loops.
func (c *Cache) Lookup(id int) (Mapped, bool) {
	if m, ok := (*c.table.Load())[id]; ok {
		metrics.IncMappingLookup(true)
		return m, true
	}
	// One refresh, whether ours or one already in flight, then one retry.
	c.RefreshMappings()
	m, ok := (*c.table.Load())[id]
	metrics.IncMappingLookup(ok)
	return m, ok
}

// Size returns the number of currently mapped ids.
func (c *Cache) Size() int {
	return len(*c.table.Load())
}

// Snapshot returns a copy of the current table for diagnostics.
func (c *Cache) Snapshot() map[int]Mapped {
	cur := *c.table.Load()
	out := make(map[int]Mapped, len(cur))
	for id, m := range cur {
		out[id] = m
	}
	return out
}
