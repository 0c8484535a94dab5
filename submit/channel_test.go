package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type FakeBroadcaster struct {
	sent  []*types.Transaction
	txRef string
	err   error
}

func (f *FakeBroadcaster) SendTransaction(_ context.Context, tx *types.Transaction) (string, error) {
	f.sent = append(f.sent, tx)
	return f.txRef, f.err
}

func testEnvelope(t *testing.T) *types.Transaction {
	tx, err := testSubmitter(&FakeChain{}, &FakeChannel{}).
		BuildEnvelope(context.Background(), testIdentity(t), testBundles(t, 1))
	require.NoError(t, err)
	return tx
}

func TestRPCChannelDelegatesToChain(t *testing.T) {
	broadcaster := &FakeBroadcaster{txRef: "0x123"}
	channel := NewRPCChannel(broadcaster)
	assert.Equal(t, "rpc", channel.Name())

	txRef, err := channel.Submit(context.Background(), testEnvelope(t))
	require.NoError(t, err)
	assert.Equal(t, "0x123", txRef)
	assert.Len(t, broadcaster.sent, 1)
}

func TestRelayChannelSubmit(t *testing.T) {
	var gotMethod, gotRaw string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			Method string   `json:"method"`
			Params []string `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		gotMethod = request.Method
		if len(request.Params) > 0 {
			gotRaw = request.Params[0]
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"0x1234"}`)
	}))
	defer server.Close()

	channel := NewRelayChannel(server.URL, time.Second)
	assert.Equal(t, "relay", channel.Name())

	txRef, err := channel.Submit(context.Background(), testEnvelope(t))
	require.NoError(t, err)
	assert.Equal(t, "0x1234", txRef)
	assert.Equal(t, "eth_sendRawTransaction", gotMethod)
	assert.True(t, strings.HasPrefix(gotRaw, "0x03"), "expected typed blob envelope, got %.10s", gotRaw)
}

func TestRelayChannelRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"replacement transaction underpriced"}}`)
	}))
	defer server.Close()

	channel := NewRelayChannel(server.URL, time.Second)
	_, err := channel.Submit(context.Background(), testEnvelope(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "underpriced")
}

func TestRelayChannelHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel := NewRelayChannel(server.URL, time.Second)
	_, err := channel.Submit(context.Background(), testEnvelope(t))
	assert.Error(t, err)
}
