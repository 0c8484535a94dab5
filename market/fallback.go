package market

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/pkg/errors"
)

// FallbackMinter provides the minimum-revenue action for commitments nobody
// bids on.
type FallbackMinter interface {
	Name() string
	Mint(ctx context.Context, commitment kzg4844.Commitment) (*big.Int, error)
}

// GrantMinter mints a time-boxed access grant for the commitment against
// the grants service. A successful mint yields the configured fixed amount.
type GrantMinter struct {
	baseURL    string
	amount     *big.Int
	ttl        time.Duration
	httpClient *http.Client
}

func NewGrantMinter(baseURL string, amount *big.Int, ttl, timeout time.Duration) *GrantMinter {
	return &GrantMinter{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		amount:     amount,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (g *GrantMinter) Name() string {
	return "grant"
}

func (g *GrantMinter) Mint(ctx context.Context, commitment kzg4844.Commitment) (*big.Int, error) {
	request := struct {
		Commitment string `json:"commitment"`
		TTLSeconds int64  `json:"ttlSeconds"`
	}{
		Commitment: hexutil.Encode(commitment[:]),
		TTLSeconds: int64(g.ttl.Seconds()),
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling grant request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/grants", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "creating grant request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "calling grants service")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, errors.Errorf("grants service returned status %d", resp.StatusCode)
	}
	return new(big.Int).Set(g.amount), nil
}
