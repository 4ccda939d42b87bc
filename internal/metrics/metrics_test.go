package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
	require.NoError(t, Register(prometheus.NewRegistry()))
}

func TestHelpersAfterRegister(t *testing.T) {
	_ = Register(prometheus.DefaultRegisterer)

	// None of these should panic; values are scraped below.
	IncDetection("ffxi")
	IncRemoval("ffxi")
	SetTrackedProcesses(3)
	IncSweepRecovery("stale")
	IncActivation("success")
	ObserveActivationLatency(0.02)
	SetBreakerOpen(true)
	IncBreakerTrip()
	IncMappingLookup(true)
	IncMappingLookup(false)
	IncMappingRefresh()
	IncPress("keyboard")

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
