package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ffximanager "github.com/atperry7/ffxi-manager-sub000"
)

func testDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ffximanager.Status{Running: true, Ordered: 2})
	})
	mux.HandleFunc("GET /order", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ffximanager.Entity{{PID: 100, Name: "sampleApp"}})
	})
	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]ffximanager.Record{{ID: 1, Outcome: "activated"}})
	})
	mux.HandleFunc("POST /order/move", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PID  int32 `json:"pid"`
			Slot int   `json:"slot"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.PID == 999 {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown pid"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAPIClient(t *testing.T) {
	srv := testDaemon(t)
	c := NewAPIClient(srv.URL, time.Second)

	st, err := c.GetStatus()
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 2, st.Ordered)

	entities, err := c.GetOrder()
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, int32(100), entities[0].PID)

	recs, err := c.GetHistory(3)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "activated", recs[0].Outcome)

	require.NoError(t, c.MoveSlot(100, 0))

	err = c.MoveSlot(999, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pid")
}

func TestAPIClientUnreachable(t *testing.T) {
	c := NewAPIClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.GetStatus()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestBuildRoot(t *testing.T) {
	root := buildRoot()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "status", "order", "history", "version"} {
		assert.True(t, names[want], want)
	}
}
