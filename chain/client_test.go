package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blobworks/blob-revenue-engine/clock"
	"github.com/blobworks/blob-revenue-engine/endpoints"
	"github.com/blobworks/blob-revenue-engine/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var m = metrics.NewProcessingMetrics("test")

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcServer fakes the upstream JSON-RPC node.
type rpcServer struct {
	*httptest.Server
	chainID string
	balance string
	nonce   string
	baseFee string
	failing map[string]bool
	calls   map[string]int
}

func newRPCServer(t *testing.T) *rpcServer {
	s := &rpcServer{
		chainID: "0x2105",
		balance: "0x0",
		nonce:   "0x5",
		baseFee: "0x3b9aca00", // 1 gwei
		failing: map[string]bool{},
		calls:   map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *rpcServer) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.calls[req.Method]++
	w.Header().Set("Content-Type", "application/json")
	if s.failing[req.Method] {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":"boom"}}`, req.ID)
		return
	}
	var result string
	switch req.Method {
	case "eth_chainId":
		result = fmt.Sprintf("%q", s.chainID)
	case "eth_getTransactionCount":
		result = fmt.Sprintf("%q", s.nonce)
	case "eth_getBalance":
		result = fmt.Sprintf("%q", s.balance)
	case "eth_sendRawTransaction":
		result = fmt.Sprintf("%q", "0x"+strings.Repeat("11", 32))
	case "eth_getBlockByNumber":
		result = headerJSON(s.baseFee)
	default:
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"method not found"}}`, req.ID)
		return
	}
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, result)
}

func headerJSON(baseFee string) string {
	zeroHash := "0x" + strings.Repeat("0", 64)
	return fmt.Sprintf(`{"parentHash":%q,"sha3Uncles":%q,"miner":"0x0000000000000000000000000000000000000000",`+
		`"stateRoot":%q,"transactionsRoot":%q,"receiptsRoot":%q,"logsBloom":"0x%s","difficulty":"0x0",`+
		`"number":"0x10","gasLimit":"0x1c9c380","gasUsed":"0x0","timestamp":"0x0","extraData":"0x",`+
		`"mixHash":%q,"nonce":"0x0000000000000000","baseFeePerGas":%q}`,
		zeroHash, zeroHash, zeroHash, zeroHash, zeroHash, strings.Repeat("0", 512), zeroHash, baseFee)
}

func testFees() FeeConfig {
	return FeeConfig{
		PriorityFeeCap:   big.NewInt(1_500_000_000),
		FallbackGasPrice: big.NewInt(20_000_000_000),
		BlobFeeCap:       big.NewInt(1_000_000_000),
	}
}

func testClient(t *testing.T, urls ...string) *Client {
	dialer := NewDialer()
	t.Cleanup(dialer.Close)
	networks := []endpoints.Network{{Name: "testnet", ChainID: big.NewInt(8453), URLs: urls}}
	registry, err := endpoints.NewRegistry(dialer, networks, time.Second, clock.System(), m, zap.NewNop().Sugar())
	require.NoError(t, err)
	return NewClient(dialer, registry, "testnet", time.Second, testFees(), zap.NewNop().Sugar())
}

func TestClientBalance(t *testing.T) {
	server := newRPCServer(t)
	server.balance = "0xde0b6b3a7640000" // 1 ether
	client := testClient(t, server.URL)

	balance, err := client.Balance(context.Background(), common.HexToAddress("0xaa"))
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", balance.String())
}

func TestClientPendingNonce(t *testing.T) {
	server := newRPCServer(t)
	client := testClient(t, server.URL)

	nonce, err := client.PendingNonce(context.Background(), common.HexToAddress("0xaa"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), nonce)
}

func TestClientSuggestFees(t *testing.T) {
	server := newRPCServer(t)
	client := testClient(t, server.URL)

	gasFeeCap, gasTipCap := client.SuggestFees(context.Background())
	assert.Equal(t, "2500000000", gasFeeCap.String()) // base fee + premium
	assert.Equal(t, "1500000000", gasTipCap.String())
}

func TestClientSuggestFeesFallback(t *testing.T) {
	server := newRPCServer(t)
	server.failing["eth_getBlockByNumber"] = true
	client := testClient(t, server.URL)

	gasFeeCap, gasTipCap := client.SuggestFees(context.Background())
	assert.Equal(t, "20000000000", gasFeeCap.String())
	assert.Equal(t, "1500000000", gasTipCap.String())
}

func TestClientSendTransaction(t *testing.T) {
	server := newRPCServer(t)
	client := testClient(t, server.URL)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := types.LatestSignerForChainID(big.NewInt(8453))
	tx, err := types.SignNewTx(key, signer, &types.DynamicFeeTx{
		ChainID:   big.NewInt(8453),
		Nonce:     5,
		GasTipCap: big.NewInt(1_500_000_000),
		GasFeeCap: big.NewInt(2_500_000_000),
		Gas:       21000,
		To:        &common.Address{},
		Value:     big.NewInt(1),
	})
	require.NoError(t, err)

	txRef, err := client.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash().Hex(), txRef)
	assert.Equal(t, 1, server.calls["eth_sendRawTransaction"])
}

func TestClientFailsOverToSecondEndpoint(t *testing.T) {
	broken := newRPCServer(t)
	broken.failing["eth_getBalance"] = true
	healthy := newRPCServer(t)
	healthy.balance = "0x64"
	client := testClient(t, broken.URL, healthy.URL)

	balance, err := client.Balance(context.Background(), common.HexToAddress("0xaa"))
	require.NoError(t, err)
	assert.Equal(t, "100", balance.String())
	assert.Equal(t, 1, broken.calls["eth_getBalance"])
	assert.Equal(t, 1, healthy.calls["eth_getBalance"])
}

func TestClientGivesUpAfterOneFailover(t *testing.T) {
	first := newRPCServer(t)
	first.failing["eth_getBalance"] = true
	second := newRPCServer(t)
	second.failing["eth_getBalance"] = true
	client := testClient(t, first.URL, second.URL)

	_, err := client.Balance(context.Background(), common.HexToAddress("0xaa"))
	assert.Error(t, err)
	assert.Equal(t, 1, first.calls["eth_getBalance"])
	assert.Equal(t, 1, second.calls["eth_getBalance"])
}
