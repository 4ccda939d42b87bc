// Package order maintains the user-meaningful slot ordering of discovered
// entities, decoupled from raw detection order. It is the single source of
// slot truth: detection appends, removal compacts, health updates never move
// anything.
package order

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/atperry7/ffxi-manager-sub000/internal/monitor"
	"github.com/atperry7/ffxi-manager-sub000/internal/winsys"
)

// Entity is a discovered (process, window) pair of interest. LastActivated
// is written only by the activation path, never by detection or health logic.
type Entity struct {
	PID           int32
	Name          string
	Title         string
	Handle        winsys.Handle
	Responding    bool
	LastActivated time.Time
}

// Source is the domain-event feed the registry connects to. Implemented by
// monitor.Registry via SubscribeGlobal.
type Source interface {
	SubscribeGlobal(ch chan<- monitor.Event)
}

// Registry holds the ordered entity sequence. One mutex guards all mutation;
// change notifications fire strictly after the lock is released so a
// synchronous subscriber can safely call back in.
type Registry struct {
	mu        sync.Mutex
	entities  []*Entity
	listeners []func()

	events chan monitor.Event
	cancel context.CancelFunc
	done   chan struct{}
	log    *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		events: make(chan monitor.Event, 128),
		log:    slog.Default().With("component", "order"),
	}
}

// ConnectToSource subscribes to Detected/Updated/Removed events and starts
// applying them in receipt order.
func (r *Registry) ConnectToSource(ctx context.Context, src Source) {
	src.SubscribeGlobal(r.events)
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.consume(cctx)
}

// Disconnect stops the event loop and drains it.
func (r *Registry) Disconnect() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
		r.cancel = nil
	}
}

func (r *Registry) consume(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.Apply(ev)
		}
	}
}

// Apply folds one domain event into the ordered sequence.
func (r *Registry) Apply(ev monitor.Event) {
	switch ev.Kind {
	case monitor.Detected:
		r.applyDetected(ev.Process)
	case monitor.Updated:
		r.applyUpdated(ev.Process)
	case monitor.Removed:
		r.applyRemoved(ev.Process.PID)
	}
}

// applyDetected appends at the end: new entities always receive the highest
// slot. A pid already present is ignored, making multi-monitor detection of
// the same process idempotent.
func (r *Registry) applyDetected(p monitor.TrackedProcess) {
	e := entityFrom(p)
	r.mu.Lock()
	if r.indexOfLocked(p.PID) >= 0 {
		r.mu.Unlock()
		return
	}
	r.entities = append(r.entities, &e)
	slot := len(r.entities) - 1
	r.mu.Unlock()
	r.log.Debug("entity appended", "pid", p.PID, "slot", slot)
	r.notify()
}

// applyUpdated replaces the payload in place by pid. Slot position is never
// touched, and LastActivated survives the replacement.
func (r *Registry) applyUpdated(p monitor.TrackedProcess) {
	r.mu.Lock()
	i := r.indexOfLocked(p.PID)
	if i < 0 {
		r.mu.Unlock()
		return
	}
	e := entityFrom(p)
	e.LastActivated = r.entities[i].LastActivated
	r.entities[i] = &e
	r.mu.Unlock()
	r.notify()
}

// applyRemoved removes by pid; all higher slots compact downward.
func (r *Registry) applyRemoved(pid int32) {
	r.mu.Lock()
	i := r.indexOfLocked(pid)
	if i < 0 {
		r.mu.Unlock()
		return
	}
	r.entities = append(r.entities[:i], r.entities[i+1:]...)
	r.mu.Unlock()
	r.notify()
}

// GetOrdered returns a snapshot of the current sequence. Slot index equals
// position.
func (r *Registry) GetOrdered() []Entity {
	r.mu.Lock()
	out := make([]Entity, len(r.entities))
	for i, e := range r.entities {
		out[i] = *e
	}
	r.mu.Unlock()
	return out
}

// GetBySlot returns the entity at slot i.
func (r *Registry) GetBySlot(i int) (Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.entities) {
		return Entity{}, false
	}
	return *r.entities[i], true
}

// Len returns the current entity count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities)
}

// MoveToSlot reorders pid to newIndex. Moving to the current slot is a no-op
// returning true without a change notification; an unknown pid or an
// out-of-range index returns false.
func (r *Registry) MoveToSlot(pid int32, newIndex int) bool {
	r.mu.Lock()
	cur := r.indexOfLocked(pid)
	if cur < 0 || newIndex < 0 || newIndex >= len(r.entities) {
		r.mu.Unlock()
		return false
	}
	if cur == newIndex {
		r.mu.Unlock()
		return true
	}
	e := r.entities[cur]
	r.entities = append(r.entities[:cur], r.entities[cur+1:]...)
	r.entities = append(r.entities[:newIndex], append([]*Entity{e}, r.entities[newIndex:]...)...)
	r.mu.Unlock()
	r.notify()
	return true
}

// MarkActivated records a successful activation. This is the only mutation
// point for LastActivated and it never changes ordering, so no change
// notification is emitted.
func (r *Registry) MarkActivated(pid int32, at time.Time) {
	r.mu.Lock()
	if i := r.indexOfLocked(pid); i >= 0 {
		r.entities[i].LastActivated = at
	}
	r.mu.Unlock()
}

// OnChange registers a callback invoked after every ordering or payload
// change, outside the registry lock.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) notify() {
	r.mu.Lock()
	fns := append([]func(){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// indexOfLocked must be called under r.mu.
func (r *Registry) indexOfLocked(pid int32) int {
	for i, e := range r.entities {
		if e.PID == pid {
			return i
		}
	}
	return -1
}

func entityFrom(p monitor.TrackedProcess) Entity {
	e := Entity{
		PID:        p.PID,
		Name:       p.Name,
		Responding: p.Responding,
	}
	if w, ok := p.MainWindow(); ok {
		e.Handle = w.Handle
		e.Title = w.Title
	}
	return e
}
