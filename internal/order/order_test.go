package order

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atperry7/ffxi-manager-sub000/internal/monitor"
	"github.com/atperry7/ffxi-manager-sub000/internal/winsys"
)

func proc(pid int32, name, title string) monitor.TrackedProcess {
	return monitor.TrackedProcess{
		PID:  pid,
		Name: name,
		Windows: []monitor.TrackedWindow{
			{Handle: winsys.Handle(0x100 + pid), Title: title, MainWindow: true, Visible: true},
		},
		Responding: true,
		Monitors:   map[int64]any{1: nil},
	}
}

func TestAppendAssignsHighestSlot(t *testing.T) {
	r := NewRegistry()
	r.Apply(monitor.Event{Kind: monitor.Detected, Process: proc(1, "a", "A")})
	r.Apply(monitor.Event{Kind: monitor.Detected, Process: proc(2, "b", "B")})

	got := r.GetOrdered()
	require.Len(t, got, 2)
	assert.Equal(t, int32(1), got[0].PID)
	assert.Equal(t, int32(2), got[1].PID)
}

func TestDetectedIsIdempotentNoDuplicatePIDs(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		r.Apply(monitor.Event{Kind: monitor.Detected, Process: proc(7, "a", "A")})
	}
	assert.Equal(t, 1, r.Len())
}

func TestRemoveCompactsSlots(t *testing.T) {
	r := NewRegistry()
	for pid := int32(1); pid <= 4; pid++ {
		r.Apply(monitor.Event{Kind: monitor.Detected, Process: proc(pid, "p", "T")})
	}
	r.Apply(monitor.Event{Kind: monitor.Removed, Process: proc(2, "p", "T")})

	got := r.GetOrdered()
	require.Len(t, got, 3)
	// Dense 0..N-1: positions shift down, relative order preserved.
	assert.Equal(t, []int32{1, 3, 4}, []int32{got[0].PID, got[1].PID, got[2].PID})
	_, ok := r.GetBySlot(3)
	assert.False(t, ok)
}

func TestUpdatedNeverReorders(t *testing.T) {
	r := NewRegistry()
	r.Apply(monitor.Event{Kind: monitor.Detected, Process: proc(1, "a", "A")})
	r.Apply(monitor.Event{Kind: monitor.Detected, Process: proc(2, "b", "B")})

	r.Apply(monitor.Event{Kind: monitor.Updated, Process: proc(1, "a", "A2")})
	got := r.GetOrdered()
	assert.Equal(t, int32(1), got[0].PID)
	assert.Equal(t, "A2", got[0].Title)

	// Updated for an unknown pid is ignored, never an implicit append.
	r.Apply(monitor.Event{Kind: monitor.Updated, Process: proc(9, "x", "X")})
	assert.Equal(t, 2, r.Len())
}

func TestMoveToSlot(t *testing.T) {
	r := NewRegistry()
	r.Apply(monitor.Event{Kind: monitor.Detected, Process: proc(1, "a", "A")})
	r.Apply(monitor.Event{Kind: monitor.Detected, Process: proc(2, "b", "B")})

	var notifications atomic.Int32
	r.OnChange(func() { notifications.Add(1) })

	// Same-slot move: true, no notification.
	require.True(t, r.MoveToSlot(1, 0))
	assert.Equal(t, int32(0), notifications.Load())

	// Real move notifies and reorders.
	require.True(t, r.MoveToSlot(2, 0))
	assert.Equal(t, int32(1), notifications.Load())
	got := r.GetOrdered()
	assert.Equal(t, []int32{2, 1}, []int32{got[0].PID, got[1].PID})

	// A subsequent Updated for the displaced entity does not move it back.
	r.Apply(monitor.Event{Kind: monitor.Updated, Process: proc(1, "a", "A3")})
	got = r.GetOrdered()
	assert.Equal(t, []int32{2, 1}, []int32{got[0].PID, got[1].PID})

	// Unknown entity or out-of-range index fail.
	assert.False(t, r.MoveToSlot(99, 0))
	assert.False(t, r.MoveToSlot(1, 2))
	assert.False(t, r.MoveToSlot(1, -1))
}

func TestMarkActivatedSurvivesUpdate(t *testing.T) {
	r := NewRegistry()
	r.Apply(monitor.Event{Kind: monitor.Detected, Process: proc(1, "a", "A")})
	at := time.Now()
	r.MarkActivated(1, at)

	r.Apply(monitor.Event{Kind: monitor.Updated, Process: proc(1, "a", "A2")})
	got, ok := r.GetBySlot(0)
	require.True(t, ok)
	assert.Equal(t, at, got.LastActivated)
}

func TestNotifyFiresOutsideLock(t *testing.T) {
	r := NewRegistry()
	// A synchronous subscriber that reads back into the registry must not
	// deadlock.
	r.OnChange(func() { _ = r.GetOrdered() })
	r.Apply(monitor.Event{Kind: monitor.Detected, Process: proc(1, "a", "A")})
	assert.Equal(t, 1, r.Len())
}
