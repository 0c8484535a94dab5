package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// Broadcaster sends a raw signed transaction through the chain layer.
type Broadcaster interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) (string, error)
}

// RPCChannel submits through the endpoint registry's JSON-RPC path, with
// the chain layer's failover behavior.
type RPCChannel struct {
	chain Broadcaster
}

func NewRPCChannel(chain Broadcaster) *RPCChannel {
	return &RPCChannel{chain: chain}
}

func (c *RPCChannel) Name() string {
	return "rpc"
}

func (c *RPCChannel) Submit(ctx context.Context, tx *types.Transaction) (string, error) {
	return c.chain.SendTransaction(ctx, tx)
}

// RelayChannel posts the raw envelope to a single private relay instead of
// the public endpoint pool.
type RelayChannel struct {
	url        string
	httpClient *http.Client
}

func NewRelayChannel(url string, timeout time.Duration) *RelayChannel {
	return &RelayChannel{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RelayChannel) Name() string {
	return "relay"
}

func (c *RelayChannel) Submit(ctx context.Context, tx *types.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", errors.Wrap(err, "encoding envelope")
	}
	request := struct {
		JSONRPC string   `json:"jsonrpc"`
		ID      int      `json:"id"`
		Method  string   `json:"method"`
		Params  []string `json:"params"`
	}{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_sendRawTransaction",
		Params:  []string{hexutil.Encode(raw)},
	}
	body, err := json.Marshal(request)
	if err != nil {
		return "", errors.Wrap(err, "marshalling relay request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "creating relay request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "calling relay")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("relay returned status %d", resp.StatusCode)
	}

	var response struct {
		Result string `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", errors.Wrap(err, "decoding relay response")
	}
	if response.Error != nil {
		return "", errors.Errorf("relay rejected envelope: %s", response.Error.Message)
	}
	if response.Result == "" {
		return "", errors.New("relay returned no transaction hash")
	}
	return response.Result, nil
}
