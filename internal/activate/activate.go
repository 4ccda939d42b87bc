// Package activate executes window-focus changes on behalf of binding
// presses, with per-binding debounce, a shared rate breaker, and typed
// failure classification.
package activate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/atperry7/ffxi-manager-sub000/internal/hotkeymap"
	"github.com/atperry7/ffxi-manager-sub000/internal/metrics"
	"github.com/atperry7/ffxi-manager-sub000/internal/order"
	"github.com/atperry7/ffxi-manager-sub000/internal/winsys"
)

// Outcome is the coarse disposition of one trigger.
type Outcome int

const (
	OutcomeActivated Outcome = iota
	OutcomeCoalesced
	OutcomeRejected
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeActivated:
		return "activated"
	case OutcomeCoalesced:
		return "coalesced"
	case OutcomeRejected:
		return "rejected"
	default:
		return "failed"
	}
}

// Result is the record of one trigger, immediate or deferred.
type Result struct {
	BindingID int
	Slot      int
	PID       int32
	Name      string
	Source    string
	Outcome   Outcome
	Reason    FailureReason
	Err       error
	Latency   time.Duration
	At        time.Time
}

// Sink receives every executed or rejected result for history recording.
type Sink interface {
	RecordActivation(ctx context.Context, r Result) error
}

// Config carries the tunable knobs. Zero values fall back to defaults.
type Config struct {
	DebounceWindow  time.Duration // same-binding same-entity coalescing window
	SameEntityMin   time.Duration // floor between activations of one entity
	FocusTimeout    time.Duration // bound on the native focus call
	GateWait        time.Duration // bound on waiting for the in-flight slot
	BreakerCeiling  int           // triggers per rolling second before tripping
	BreakerCooldown time.Duration
}

const (
	DefaultDebounceWindow  = 250 * time.Millisecond
	DefaultSameEntityMin   = 100 * time.Millisecond
	DefaultFocusTimeout    = 2 * time.Second
	DefaultGateWait        = 150 * time.Millisecond
	DefaultBreakerCeiling  = 17
	DefaultBreakerCooldown = 5 * time.Second
)

func (c *Config) fill() {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.SameEntityMin <= 0 {
		c.SameEntityMin = DefaultSameEntityMin
	}
	if c.FocusTimeout <= 0 {
		c.FocusTimeout = DefaultFocusTimeout
	}
	if c.GateWait <= 0 {
		c.GateWait = DefaultGateWait
	}
	if c.BreakerCeiling <= 0 {
		c.BreakerCeiling = DefaultBreakerCeiling
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = DefaultBreakerCooldown
	}
}

type debounceState struct {
	lastAccepted time.Time
	lastPID      int32
	pending      *time.Timer
}

// Orchestrator serializes focus changes through a single in-flight slot.
// Triggers can arrive concurrently from the keyboard hook and the
// controller poller; everything past the gate runs one at a time.
type Orchestrator struct {
	cache   *hotkeymap.Cache
	reg     *order.Registry
	focuser winsys.Focuser
	sink    Sink
	cfg     Config
	log     *slog.Logger

	gate chan struct{}

	mu        sync.Mutex
	debounce  map[int]*debounceState
	lastDone  map[int32]time.Time // pid -> last successful activation
	lastPID   int32               // most recently activated pid, for cycling
	presses   []time.Time         // rolling breaker window
	openUntil time.Time
	closed    bool
}

func New(cache *hotkeymap.Cache, reg *order.Registry, focuser winsys.Focuser, sink Sink, cfg Config) *Orchestrator {
	cfg.fill()
	return &Orchestrator{
		cache:    cache,
		reg:      reg,
		focuser:  focuser,
		sink:     sink,
		cfg:      cfg,
		log:      slog.Default().With("component", "activate"),
		gate:     make(chan struct{}, 1),
		debounce: make(map[int]*debounceState),
		lastDone: make(map[int32]time.Time),
		lastPID:  -1,
	}
}

// Close cancels pending coalesced triggers. Focus calls already past the
// gate run to completion.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	for _, d := range o.debounce {
		if d.pending != nil {
			d.pending.Stop()
			d.pending = nil
		}
	}
	o.mu.Unlock()
}

// BreakerOpen reports whether the rate breaker is currently rejecting
// triggers.
func (o *Orchestrator) BreakerOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.openUntil.IsZero() && time.Now().Before(o.openUntil)
}

// Trigger runs the full pipeline for one binding press and returns its
// immediate disposition. A coalesced press resolves and executes later from
// its timer; that deferred result reaches the sink, not the caller.
func (o *Orchestrator) Trigger(ctx context.Context, bindingID int, source string) Result {
	now := time.Now()
	if open, until := o.breakerAdmit(now); open {
		r := Result{BindingID: bindingID, Source: source, Outcome: OutcomeRejected, Reason: ReasonBreakerOpen, At: now}
		o.log.Warn("trigger rejected, breaker open", "binding", bindingID, "until", until)
		o.record(ctx, r)
		return r
	}

	target, ok := o.resolve(bindingID)
	if !ok {
		r := Result{BindingID: bindingID, Source: source, Outcome: OutcomeFailed, Reason: ReasonNoMapping, At: now}
		o.record(ctx, r)
		return r
	}

	if o.coalesce(ctx, bindingID, source, target.PID, now) {
		return Result{BindingID: bindingID, Source: source, PID: target.PID, Name: target.Name, Outcome: OutcomeCoalesced, At: now}
	}
	return o.execute(ctx, bindingID, source, target)
}

// resolve turns a binding id into its current target entity, handling the
// reserved cycle action.
func (o *Orchestrator) resolve(bindingID int) (order.Entity, bool) {
	if bindingID == hotkeymap.CycleID {
		return o.nextInCycle()
	}
	m, ok := o.cache.Lookup(bindingID)
	if !ok {
		return order.Entity{}, false
	}
	return m.Entity, true
}

// nextInCycle picks the entity after the most recently activated one in
// slot order, wrapping at the end.
func (o *Orchestrator) nextInCycle() (order.Entity, bool) {
	entities := o.reg.GetOrdered()
	if len(entities) == 0 {
		return order.Entity{}, false
	}
	o.mu.Lock()
	last := o.lastPID
	o.mu.Unlock()
	for i, e := range entities {
		if e.PID == last {
			return entities[(i+1)%len(entities)], true
		}
	}
	return entities[0], true
}

// coalesce applies the per-binding debounce rules. Switching targets is
// never throttled; a burst on the same target collapses so only the final
// press in the window executes, re-resolved at fire time.
func (o *Orchestrator) coalesce(ctx context.Context, bindingID int, source string, pid int32, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return true
	}
	d, ok := o.debounce[bindingID]
	if !ok {
		d = &debounceState{}
		o.debounce[bindingID] = d
	}
	within := !d.lastAccepted.IsZero() && now.Sub(d.lastAccepted) < o.cfg.DebounceWindow
	if within && pid == d.lastPID {
		if d.pending != nil {
			d.pending.Stop()
		}
		fireAt := d.lastAccepted.Add(o.cfg.DebounceWindow)
		if min := o.lastDone[pid].Add(o.cfg.SameEntityMin); min.After(fireAt) {
			fireAt = min
		}
		d.pending = time.AfterFunc(time.Until(fireAt), func() {
			o.fireDeferred(bindingID, source)
		})
		return true
	}
	d.lastAccepted = now
	d.lastPID = pid
	return false
}

// fireDeferred executes the surviving press of a coalesced burst. The
// target is resolved again here so a mapping change during the burst wins,
// and a target the burst already focused is not re-focused.
func (o *Orchestrator) fireDeferred(bindingID int, source string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if d, ok := o.debounce[bindingID]; ok {
		d.pending = nil
	}
	lastPID := o.lastPID
	o.mu.Unlock()

	target, ok := o.resolve(bindingID)
	if !ok {
		return
	}
	if target.PID == lastPID {
		return // already focused by the press that opened the burst
	}
	o.execute(context.Background(), bindingID, source, target)
}

// execute is the post-debounce pipeline: gate, handle re-validation,
// bounded native focus call, bookkeeping.
func (o *Orchestrator) execute(ctx context.Context, bindingID int, source string, target order.Entity) Result {
	slot, _ := hotkeymap.SlotForID(bindingID)
	r := Result{
		BindingID: bindingID,
		Slot:      slot,
		PID:       target.PID,
		Name:      target.Name,
		Source:    source,
		At:        time.Now(),
	}

	wait := time.NewTimer(o.cfg.GateWait)
	defer wait.Stop()
	select {
	case o.gate <- struct{}{}:
	case <-wait.C:
		r.Outcome, r.Reason = OutcomeRejected, ReasonBusy
		o.finish(ctx, r)
		return r
	case <-ctx.Done():
		r.Outcome, r.Reason, r.Err = OutcomeRejected, ReasonBusy, ctx.Err()
		o.finish(ctx, r)
		return r
	}
	defer func() { <-o.gate }()

	// The OS can invalidate the handle at any moment; check right before use.
	if !o.focuser.IsValid(target.Handle) {
		r.Outcome, r.Reason = OutcomeFailed, ReasonInvalidHandle
		o.finish(ctx, r)
		return r
	}

	fctx, cancel := context.WithTimeout(ctx, o.cfg.FocusTimeout)
	start := time.Now()
	err := o.focuser.Focus(fctx, target.Handle)
	cancel()
	r.Latency = time.Since(start)

	if err != nil {
		r.Outcome, r.Reason, r.Err = OutcomeFailed, classify(err), err
		o.log.Warn("activation failed",
			"binding", bindingID, "pid", target.PID, "name", target.Name,
			"reason", r.Reason.String(), "err", err)
		o.finish(ctx, r)
		return r
	}

	r.Outcome = OutcomeActivated
	done := time.Now()
	o.reg.MarkActivated(target.PID, done)
	o.mu.Lock()
	o.lastDone[target.PID] = done
	o.lastPID = target.PID
	o.mu.Unlock()

	o.log.Info("activated window",
		"binding", bindingID, "slot", r.Slot, "pid", target.PID,
		"name", target.Name, "latency", r.Latency)
	metrics.ObserveActivationLatency(r.Latency.Seconds())
	o.finish(ctx, r)
	return r
}

func (o *Orchestrator) finish(ctx context.Context, r Result) {
	metrics.IncActivation(r.Outcome.String())
	o.record(ctx, r)
}

func (o *Orchestrator) record(ctx context.Context, r Result) {
	if o.sink == nil {
		return
	}
	if err := o.sink.RecordActivation(ctx, r); err != nil {
		o.log.Warn("record activation", "err", err)
	}
}

// breakerAdmit counts this trigger against the rolling one-second window
// and reports whether the breaker currently rejects it. The window is
// shared across keyboard and controller sources.
func (o *Orchestrator) breakerAdmit(now time.Time) (open bool, until time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.openUntil.IsZero() {
		if now.Before(o.openUntil) {
			return true, o.openUntil
		}
		o.openUntil = time.Time{}
		o.presses = o.presses[:0]
		metrics.SetBreakerOpen(false)
		o.log.Info("breaker reset, accepting triggers")
	}

	cutoff := now.Add(-time.Second)
	kept := o.presses[:0]
	for _, t := range o.presses {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	o.presses = append(kept, now)

	if len(o.presses) > o.cfg.BreakerCeiling {
		o.openUntil = now.Add(o.cfg.BreakerCooldown)
		metrics.SetBreakerOpen(true)
		metrics.IncBreakerTrip()
		o.log.Warn("breaker tripped, rejecting triggers",
			"rate", len(o.presses), "ceiling", o.cfg.BreakerCeiling,
			"cooldown", o.cfg.BreakerCooldown)
		return true, o.openUntil
	}
	return false, time.Time{}
}
