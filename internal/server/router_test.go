package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atperry7/ffxi-manager-sub000/internal/monitor"
	"github.com/atperry7/ffxi-manager-sub000/internal/order"
	"github.com/atperry7/ffxi-manager-sub000/internal/store"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeView struct {
	procs   []monitor.TrackedProcess
	ordered []order.Entity
	recent  []store.Record
	moved   []moveReq
	moveOK  bool
}

func (v *fakeView) Status() Status {
	return Status{Running: true, StartedAt: time.Now(), Tracked: len(v.procs), Ordered: len(v.ordered)}
}
func (v *fakeView) Processes() []monitor.TrackedProcess { return v.procs }
func (v *fakeView) Ordered() []order.Entity             { return v.ordered }
func (v *fakeView) MoveToSlot(pid int32, slot int) bool {
	v.moved = append(v.moved, moveReq{PID: pid, Slot: slot})
	return v.moveOK
}
func (v *fakeView) Recent(_ context.Context, limit int) ([]store.Record, error) {
	if limit < len(v.recent) {
		return v.recent[:limit], nil
	}
	return v.recent, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	v := &fakeView{ordered: []order.Entity{{PID: 1}}}
	h := NewRouter(v, nil, "").Handler()

	w := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Running)
	assert.Equal(t, 1, st.Ordered)
}

func TestProcessesEmptyIsArray(t *testing.T) {
	h := NewRouter(&fakeView{}, nil, "").Handler()
	w := do(t, h, http.MethodGet, "/processes", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestOrder(t *testing.T) {
	v := &fakeView{ordered: []order.Entity{{PID: 7, Name: "sampleApp", Title: "Hello"}}}
	h := NewRouter(v, nil, "").Handler()

	w := do(t, h, http.MethodGet, "/order", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got []order.Entity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int32(7), got[0].PID)
}

func TestOrderMove(t *testing.T) {
	v := &fakeView{moveOK: true}
	h := NewRouter(v, nil, "").Handler()

	w := do(t, h, http.MethodPost, "/order/move", `{"pid":7,"slot":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, v.moved, 1)
	assert.Equal(t, moveReq{PID: 7, Slot: 0}, v.moved[0])

	w = do(t, h, http.MethodPost, "/order/move", `{"pid":0,"slot":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/order/move", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	v.moveOK = false
	w = do(t, h, http.MethodPost, "/order/move", `{"pid":9,"slot":3}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistory(t *testing.T) {
	v := &fakeView{recent: []store.Record{{ID: 2}, {ID: 1}}}
	h := NewRouter(v, nil, "").Handler()

	w := do(t, h, http.MethodGet, "/history?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got []store.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)

	w = do(t, h, http.MethodGet, "/history?limit=nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBasePath(t *testing.T) {
	h := NewRouter(&fakeView{}, nil, "debug/").Handler()
	w := do(t, h, http.MethodGet, "/debug/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
