package relay

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() TransferRequest {
	return TransferRequest{
		From:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		To:      common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Amount:  big.NewInt(900_000_000_000_000_000),
		ChainID: big.NewInt(8453),
	}
}

func TestClientQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/quote", r.URL.Path)
		var payload transferPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, testRequest().From, common.HexToAddress(payload.From))
		assert.Equal(t, "900000000000000000", payload.Amount)
		assert.Equal(t, uint64(8453), payload.ChainID)
		_, _ = w.Write([]byte(`{"fee":"2000000000000000"}`))
	}))
	defer srv.Close()

	fee, err := NewClient(srv.URL, 5*time.Second).Quote(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000", fee.String())
}

func TestClientQuoteInvalidFee(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"fee":"lots"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 5*time.Second).Quote(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid fee")
}

func TestClientExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		var payload struct {
			transferPayload
			Fee string `json:"fee"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "2000000000000000", payload.Fee)
		_, _ = w.Write([]byte(`{"taskId":"task-7"}`))
	}))
	defer srv.Close()

	taskID, err := NewClient(srv.URL, 5*time.Second).Execute(context.Background(), testRequest(), big.NewInt(2_000_000_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, "task-7", taskID)
}

func TestClientExecuteRequiresTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 5*time.Second).Execute(context.Background(), testRequest(), big.NewInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no task id")
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 5*time.Second).Quote(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
