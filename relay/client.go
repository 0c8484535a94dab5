package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// TransferRequest describes one relay-mediated transfer from a source
// address to the final destination.
type TransferRequest struct {
	From    common.Address
	To      common.Address
	Amount  *big.Int
	ChainID *big.Int
}

// Client talks to the bridge relay over REST. The relay fronts the actual
// value movement; the engine only prices transfers and hands them off.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type transferPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
	ChainID uint64 `json:"chainId"`
}

func payloadFor(request TransferRequest) transferPayload {
	return transferPayload{
		From:    request.From.Hex(),
		To:      request.To.Hex(),
		Amount:  request.Amount.String(),
		ChainID: request.ChainID.Uint64(),
	}
}

// Quote returns the relay's fee in wei for the given transfer.
func (c *Client) Quote(ctx context.Context, request TransferRequest) (*big.Int, error) {
	var response struct {
		Fee string `json:"fee"`
	}
	if err := c.post(ctx, "/quote", payloadFor(request), &response); err != nil {
		return nil, errors.Wrap(err, "quoting relay transfer")
	}
	fee, ok := new(big.Int).SetString(response.Fee, 10)
	if !ok {
		return nil, errors.Errorf("relay returned invalid fee [%s]", response.Fee)
	}
	return fee, nil
}

// Execute hands the transfer off to the relay and returns its task id.
func (c *Client) Execute(ctx context.Context, request TransferRequest, fee *big.Int) (string, error) {
	payload := struct {
		transferPayload
		Fee string `json:"fee"`
	}{
		transferPayload: payloadFor(request),
		Fee:             fee.String(),
	}

	var response struct {
		TaskID string `json:"taskId"`
	}
	if err := c.post(ctx, "/execute", payload, &response); err != nil {
		return "", errors.Wrap(err, "executing relay transfer")
	}
	if response.TaskID == "" {
		return "", errors.New("relay returned no task id")
	}
	return response.TaskID, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshalling request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "sending request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}
