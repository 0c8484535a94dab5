package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/blobworks/blob-revenue-engine/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/pkg/errors"
)

// Venue is one resale market for commitments. Quote returns the current bid
// in wei; Execute sells and returns what the settlement actually paid.
type Venue interface {
	Name() string
	Quote(ctx context.Context, commitment kzg4844.Commitment) (*big.Int, error)
	Execute(ctx context.Context, commitment kzg4844.Commitment) (*big.Int, error)
}

// VenueConfig describes one REST venue.
type VenueConfig struct {
	Name     string
	BaseURL  string
	Contract common.Address
	APIKey   string
}

// HTTPVenue talks to one market venue over REST: quote, execute, then poll
// the settlement until it confirms or the settlement timeout passes.
type HTTPVenue struct {
	name              string
	baseURL           string
	contract          common.Address
	apiKey            string
	httpClient        *http.Client
	settlementTimeout time.Duration
	pollInterval      time.Duration
	clk               clock.Clock
}

func NewHTTPVenue(config VenueConfig, settlementTimeout, pollInterval, requestTimeout time.Duration, clk clock.Clock) *HTTPVenue {
	return &HTTPVenue{
		name:              config.Name,
		baseURL:           strings.TrimSuffix(config.BaseURL, "/"),
		contract:          config.Contract,
		apiKey:            config.APIKey,
		httpClient:        &http.Client{Timeout: requestTimeout},
		settlementTimeout: settlementTimeout,
		pollInterval:      pollInterval,
		clk:               clk,
	}
}

func (v *HTTPVenue) Name() string {
	return v.name
}

type commitmentRequest struct {
	Commitment string `json:"commitment"`
}

// Quote asks the venue for its current bid on the commitment, in wei.
func (v *HTTPVenue) Quote(ctx context.Context, commitment kzg4844.Commitment) (*big.Int, error) {
	var response struct {
		Bid string `json:"bid"`
	}
	err := v.post(ctx, "/quote", commitmentRequest{Commitment: hexutil.Encode(commitment[:])}, &response)
	if err != nil {
		return nil, errors.Wrapf(err, "quoting venue [%s]", v.name)
	}
	bid, ok := new(big.Int).SetString(response.Bid, 10)
	if !ok {
		return nil, errors.Errorf("venue [%s] returned invalid bid [%s]", v.name, response.Bid)
	}
	return bid, nil
}

// Execute sells the commitment and waits for the settlement to confirm.
func (v *HTTPVenue) Execute(ctx context.Context, commitment kzg4844.Commitment) (*big.Int, error) {
	var response struct {
		SettlementID string `json:"settlementId"`
	}
	err := v.post(ctx, "/execute", commitmentRequest{Commitment: hexutil.Encode(commitment[:])}, &response)
	if err != nil {
		return nil, errors.Wrapf(err, "executing on venue [%s]", v.name)
	}
	if response.SettlementID == "" {
		return nil, errors.Errorf("venue [%s] returned no settlement id", v.name)
	}
	return v.awaitSettlement(ctx, response.SettlementID)
}

type settlementResponse struct {
	Status string          `json:"status"`
	Logs   []settlementLog `json:"logs"`
}

type settlementLog struct {
	Address string `json:"address"`
	Data    string `json:"data"`
}

func (v *HTTPVenue) awaitSettlement(ctx context.Context, settlementID string) (*big.Int, error) {
	deadline := v.clk.Now().Add(v.settlementTimeout)
	for {
		settlement, err := v.getSettlement(ctx, settlementID)
		if err != nil {
			return nil, errors.Wrapf(err, "fetching settlement [%s]", settlementID)
		}
		switch settlement.Status {
		case "confirmed":
			return v.earnedFromLogs(settlement.Logs), nil
		case "failed":
			return nil, errors.Errorf("settlement [%s] failed on venue [%s]", settlementID, v.name)
		}
		if !v.clk.Now().Before(deadline) {
			return nil, errors.Errorf("settlement [%s] timed out on venue [%s]", settlementID, v.name)
		}
		v.clk.Sleep(v.pollInterval)
	}
}

// earnedFromLogs sums the payout entries emitted by the venue's contract.
// Other contracts' entries in the same settlement do not count.
func (v *HTTPVenue) earnedFromLogs(logs []settlementLog) *big.Int {
	earned := big.NewInt(0)
	for _, entry := range logs {
		if !common.IsHexAddress(entry.Address) || common.HexToAddress(entry.Address) != v.contract {
			continue
		}
		amount, ok := new(big.Int).SetString(strings.TrimPrefix(entry.Data, "0x"), 16)
		if !ok {
			continue
		}
		earned.Add(earned, amount)
	}
	return earned
}

func (v *HTTPVenue) getSettlement(ctx context.Context, settlementID string) (*settlementResponse, error) {
	url := fmt.Sprintf("%s/settlements/%s", v.baseURL, settlementID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	v.authorize(req)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "sending request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	var settlement settlementResponse
	if err := json.NewDecoder(resp.Body).Decode(&settlement); err != nil {
		return nil, errors.Wrap(err, "decoding response")
	}
	return &settlement, nil
}

func (v *HTTPVenue) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshalling request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", "application/json")
	v.authorize(req)

	resp, err := v.httpClient.Do(req)
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

func (v *HTTPVenue) authorize(req *http.Request) {
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}
}
