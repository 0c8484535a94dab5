package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blobworks/blob-revenue-engine/db"
	"github.com/blobworks/blob-revenue-engine/endpoints"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type FakeClock struct {
	now time.Time
}

func (f *FakeClock) Now() time.Time {
	return f.now
}

func (f *FakeClock) Sleep(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *FakeClock) Jitter(min, _ time.Duration) time.Duration {
	return min
}

type FakeStatusProvider struct {
	cycle     uint64
	cycleErr  error
	earned    *big.Int
	earnedErr error
	counts    db.Counts
	swept     map[string]string
	sweptDay  uint64
}

func (f *FakeStatusProvider) GetLastCycle() (uint64, error) {
	return f.cycle, f.cycleErr
}

func (f *FakeStatusProvider) GetTotalEarned() (*big.Int, error) {
	if f.earnedErr != nil {
		return nil, f.earnedErr
	}
	return f.earned, nil
}

func (f *FakeStatusProvider) GetCounts() (db.Counts, error) {
	return f.counts, nil
}

func (f *FakeStatusProvider) GetSweptSources(day uint64) (map[string]string, error) {
	f.sweptDay = day
	if f.swept == nil {
		return map[string]string{}, nil
	}
	return f.swept, nil
}

type FakeEndpointProvider struct {
	snapshot []endpoints.Endpoint
}

func (f *FakeEndpointProvider) Snapshot() []endpoints.Endpoint {
	return f.snapshot
}

func TestHandler_GetHealth(t *testing.T) {
	handler := NewHandler(&FakeStatusProvider{earned: big.NewInt(0)}, &FakeEndpointProvider{}, &FakeClock{now: time.Unix(360000, 0)})
	recorder := httptest.NewRecorder()

	handler.GetHealth(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status":"UP"}`, recorder.Body.String())
}

func TestHandler_GetStatus(t *testing.T) {
	sp := &FakeStatusProvider{
		cycle:  42,
		earned: big.NewInt(123456),
		counts: db.Counts{Cycles: 50, FailedCycles: 8, Fallbacks: 3, Sweeps: 7},
		swept:  map[string]string{"0x1111111111111111111111111111111111111111": "5000"},
	}
	ep := &FakeEndpointProvider{snapshot: []endpoints.Endpoint{
		{URL: "http://first-node:8545", Network: "testnet", Healthy: true},
		{URL: "http://second-node:8545", Network: "testnet", Healthy: false},
	}}
	handler := NewHandler(sp, ep, &FakeClock{now: time.Unix(360000, 0)})
	recorder := httptest.NewRecorder()

	handler.GetStatus(recorder, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	var response StatusResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, uint64(42), response.LastCycle)
	assert.Equal(t, "123456", response.TotalEarnedWei)
	assert.Equal(t, uint64(50), response.Cycles)
	assert.Equal(t, uint64(8), response.FailedCycles)
	assert.Equal(t, uint64(3), response.Fallbacks)
	assert.Equal(t, uint64(7), response.Sweeps)
	assert.Equal(t, "5000", response.SweptToday["0x1111111111111111111111111111111111111111"])
	// Unix 360000 falls on rotation day 4
	assert.Equal(t, uint64(4), sp.sweptDay)
	require.Len(t, response.Endpoints, 2)
	assert.True(t, response.Endpoints[0].Healthy)
	assert.False(t, response.Endpoints[1].Healthy)
}

func TestHandler_GetStatusFreshEngine(t *testing.T) {
	sp := &FakeStatusProvider{cycleErr: db.ErrNotFound, earned: big.NewInt(0)}
	handler := NewHandler(sp, &FakeEndpointProvider{}, &FakeClock{now: time.Unix(360000, 0)})
	recorder := httptest.NewRecorder()

	handler.GetStatus(recorder, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	var response StatusResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, uint64(0), response.LastCycle)
	assert.Equal(t, "0", response.TotalEarnedWei)
}

func TestHandler_GetStatusStoreError(t *testing.T) {
	sp := &FakeStatusProvider{earnedErr: errors.New("pebble: closed")}
	handler := NewHandler(sp, &FakeEndpointProvider{}, &FakeClock{now: time.Unix(360000, 0)})
	recorder := httptest.NewRecorder()

	handler.GetStatus(recorder, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}
