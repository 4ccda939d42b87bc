package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atperry7/ffxi-manager-sub000/internal/activate"
)

func openMem(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.RecordActivation(ctx, activate.Result{
			BindingID: 1000 + i,
			Slot:      i,
			PID:       int32(100 + i),
			Name:      "sampleApp",
			Source:    "keyboard",
			Outcome:   activate.OutcomeActivated,
			Latency:   12 * time.Millisecond,
			At:        time.Now(),
		})
		require.NoError(t, err)
	}

	recs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// Newest first.
	assert.Equal(t, 1002, recs[0].BindingID)
	assert.Equal(t, 1001, recs[1].BindingID)
	assert.Equal(t, "activated", recs[0].Outcome)
	assert.Equal(t, "ok", recs[0].Reason)
	assert.EqualValues(t, 12, recs[0].LatencyMS)
}

func TestRecordFailureReason(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	err := s.RecordActivation(ctx, activate.Result{
		BindingID: 1000,
		PID:       100,
		Source:    "controller",
		Outcome:   activate.OutcomeFailed,
		Reason:    activate.ReasonInvalidHandle,
		At:        time.Now(),
	})
	require.NoError(t, err)

	recs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "failed", recs[0].Outcome)
	assert.Equal(t, "window handle invalid or destroyed", recs[0].Reason)
}

func TestPurgeOlderThan(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	old := activate.Result{BindingID: 1000, At: time.Now().Add(-48 * time.Hour)}
	fresh := activate.Result{BindingID: 1001, At: time.Now()}
	require.NoError(t, s.RecordActivation(ctx, old))
	require.NoError(t, s.RecordActivation(ctx, fresh))

	n, err := s.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	recs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1001, recs[0].BindingID)
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}
