package activate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atperry7/ffxi-manager-sub000/internal/hotkeymap"
	"github.com/atperry7/ffxi-manager-sub000/internal/monitor"
	"github.com/atperry7/ffxi-manager-sub000/internal/order"
	"github.com/atperry7/ffxi-manager-sub000/internal/winsys"
)

type fakeFocuser struct {
	mu      sync.Mutex
	calls   []winsys.Handle
	invalid map[winsys.Handle]bool
	err     error
	delay   time.Duration
}

func (f *fakeFocuser) IsValid(h winsys.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.invalid[h]
}

func (f *fakeFocuser) Focus(ctx context.Context, h winsys.Handle) error {
	f.mu.Lock()
	f.calls = append(f.calls, h)
	delay, err := f.delay, f.err
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("focus: %w", winsys.ErrFocusTimeout)
		}
	}
	return err
}

func (f *fakeFocuser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu      sync.Mutex
	results []Result
}

func (s *fakeSink) RecordActivation(_ context.Context, r Result) error {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
	return nil
}

func detect(r *order.Registry, pid int32, title string) {
	r.Apply(monitor.Event{Kind: monitor.Detected, Process: monitor.TrackedProcess{
		PID:  pid,
		Name: fmt.Sprintf("app-%d", pid),
		Windows: []monitor.TrackedWindow{
			{Handle: winsys.Handle(pid), Title: title, MainWindow: true, Visible: true},
		},
		Responding: true,
	}})
}

func slotsEnabled(n int) func() []hotkeymap.Binding {
	return func() []hotkeymap.Binding {
		out := make([]hotkeymap.Binding, n)
		for i := range out {
			out[i] = hotkeymap.Binding{Slot: i, Enabled: true}
		}
		return out
	}
}

func setup(t *testing.T, entities int, cfg Config) (*Orchestrator, *order.Registry, *fakeFocuser, *fakeSink) {
	t.Helper()
	reg := order.NewRegistry()
	for i := 1; i <= entities; i++ {
		detect(reg, int32(i), fmt.Sprintf("win-%d", i))
	}
	cache := hotkeymap.New(reg, slotsEnabled(8))
	cache.RefreshMappings()
	f := &fakeFocuser{invalid: make(map[winsys.Handle]bool)}
	s := &fakeSink{}
	o := New(cache, reg, f, s, cfg)
	t.Cleanup(o.Close)
	return o, reg, f, s
}

func TestActivateSuccess(t *testing.T) {
	o, reg, f, s := setup(t, 2, Config{})

	r := o.Trigger(context.Background(), hotkeymap.IDForSlot(1), "keyboard")
	require.Equal(t, OutcomeActivated, r.Outcome)
	assert.Equal(t, int32(2), r.PID)
	assert.Equal(t, 1, r.Slot)
	assert.Equal(t, 1, f.callCount())

	ordered := reg.GetOrdered()
	assert.False(t, ordered[1].LastActivated.IsZero())
	assert.True(t, ordered[0].LastActivated.IsZero())

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.results, 1)
	assert.Equal(t, ReasonNone, s.results[0].Reason)
}

func TestSameBindingBurstActivatesOnce(t *testing.T) {
	o, _, f, _ := setup(t, 1, Config{DebounceWindow: 60 * time.Millisecond, SameEntityMin: 20 * time.Millisecond})

	first := o.Trigger(context.Background(), hotkeymap.IDForSlot(0), "keyboard")
	require.Equal(t, OutcomeActivated, first.Outcome)

	second := o.Trigger(context.Background(), hotkeymap.IDForSlot(0), "keyboard")
	require.Equal(t, OutcomeCoalesced, second.Outcome)

	// The deferred press re-resolves to the entity already focused and
	// collapses, so the burst produced exactly one focus call.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, f.callCount())
}

func TestSwitchingTargetsNeverThrottled(t *testing.T) {
	o, reg, f, _ := setup(t, 2, Config{DebounceWindow: time.Second})

	r := o.Trigger(context.Background(), hotkeymap.IDForSlot(0), "keyboard")
	require.Equal(t, OutcomeActivated, r.Outcome)
	require.Equal(t, int32(1), r.PID)

	require.True(t, reg.MoveToSlot(2, 0))
	require.Eventually(t, func() bool {
		m, ok := o.cache.Lookup(hotkeymap.IDForSlot(0))
		return ok && m.Entity.PID == 2
	}, time.Second, 5*time.Millisecond)

	// Same binding, well inside the window, but a different target now.
	r = o.Trigger(context.Background(), hotkeymap.IDForSlot(0), "keyboard")
	require.Equal(t, OutcomeActivated, r.Outcome)
	assert.Equal(t, int32(2), r.PID)
	assert.Equal(t, 2, f.callCount())
}

func TestBreakerTripsAndRecovers(t *testing.T) {
	o, _, _, _ := setup(t, 0, Config{BreakerCeiling: 3, BreakerCooldown: 80 * time.Millisecond})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		r := o.Trigger(ctx, hotkeymap.IDForSlot(i), "keyboard")
		assert.Equal(t, ReasonNoMapping, r.Reason)
	}
	r := o.Trigger(ctx, hotkeymap.IDForSlot(3), "controller")
	require.Equal(t, OutcomeRejected, r.Outcome)
	assert.Equal(t, ReasonBreakerOpen, r.Reason)

	// Still open mid-cooldown, for either source.
	r = o.Trigger(ctx, hotkeymap.IDForSlot(0), "keyboard")
	assert.Equal(t, ReasonBreakerOpen, r.Reason)

	time.Sleep(100 * time.Millisecond)
	r = o.Trigger(ctx, hotkeymap.IDForSlot(0), "keyboard")
	assert.Equal(t, ReasonNoMapping, r.Reason)
}

func TestGateBusy(t *testing.T) {
	o, _, f, _ := setup(t, 2, Config{GateWait: 40 * time.Millisecond})
	f.delay = 300 * time.Millisecond

	done := make(chan Result, 1)
	go func() { done <- o.Trigger(context.Background(), hotkeymap.IDForSlot(0), "keyboard") }()

	require.Eventually(t, func() bool { return f.callCount() == 1 }, time.Second, 5*time.Millisecond)
	r := o.Trigger(context.Background(), hotkeymap.IDForSlot(1), "keyboard")
	require.Equal(t, OutcomeRejected, r.Outcome)
	assert.Equal(t, ReasonBusy, r.Reason)

	first := <-done
	assert.Equal(t, OutcomeActivated, first.Outcome)
}

func TestInvalidHandleNotFocused(t *testing.T) {
	o, _, f, _ := setup(t, 1, Config{})
	f.invalid[winsys.Handle(1)] = true

	r := o.Trigger(context.Background(), hotkeymap.IDForSlot(0), "keyboard")
	require.Equal(t, OutcomeFailed, r.Outcome)
	assert.Equal(t, ReasonInvalidHandle, r.Reason)
	assert.Equal(t, 0, f.callCount())
	assert.False(t, r.Reason.Retryable())
}

func TestFailureClassification(t *testing.T) {
	o, _, f, _ := setup(t, 1, Config{})
	f.err = fmt.Errorf("activate window: %w", winsys.ErrFocusPrevented)

	r := o.Trigger(context.Background(), hotkeymap.IDForSlot(0), "keyboard")
	require.Equal(t, OutcomeFailed, r.Outcome)
	assert.Equal(t, ReasonFocusPrevented, r.Reason)
	assert.True(t, r.Reason.Retryable())
	assert.ErrorIs(t, r.Err, winsys.ErrFocusPrevented)
}

func TestNoMapping(t *testing.T) {
	o, _, _, _ := setup(t, 1, Config{})
	r := o.Trigger(context.Background(), hotkeymap.IDForSlot(5), "keyboard")
	require.Equal(t, OutcomeFailed, r.Outcome)
	assert.Equal(t, ReasonNoMapping, r.Reason)
}

func TestCycleWrapsInSlotOrder(t *testing.T) {
	o, _, _, _ := setup(t, 3, Config{DebounceWindow: time.Millisecond, SameEntityMin: time.Millisecond})

	var pids []int32
	for i := 0; i < 4; i++ {
		r := o.Trigger(context.Background(), hotkeymap.CycleID, "keyboard")
		require.Equal(t, OutcomeActivated, r.Outcome)
		pids = append(pids, r.PID)
		time.Sleep(3 * time.Millisecond)
	}
	assert.Equal(t, []int32{1, 2, 3, 1}, pids)
}
