package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/blobworks/blob-revenue-engine/endpoints"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EndpointSelector yields the endpoint for the next call and rotates away
// from an endpoint that failed one.
type EndpointSelector interface {
	Select(ctx context.Context, network string) (*endpoints.Endpoint, error)
	Rotate(network string) (*endpoints.Endpoint, error)
}

// FeeConfig holds the static parts of the fee computation.
type FeeConfig struct {
	PriorityFeeCap   *big.Int // premium on top of the base fee, also the tip
	FallbackGasPrice *big.Int // used when the base fee query fails
	BlobFeeCap       *big.Int
}

// Client runs JSON-RPC operations against whatever endpoint the registry
// hands out. Every operation carries a bounded timeout and fails over to
// the next endpoint once before giving up.
type Client struct {
	dialer      *Dialer
	selector    EndpointSelector
	network     string
	callTimeout time.Duration
	fees        FeeConfig
	logger      *zap.SugaredLogger
}

func NewClient(dialer *Dialer, selector EndpointSelector, network string,
	callTimeout time.Duration, fees FeeConfig, logger *zap.SugaredLogger) *Client {

	return &Client{
		dialer:      dialer,
		selector:    selector,
		network:     network,
		callTimeout: callTimeout,
		fees:        fees,
		logger:      logger,
	}
}

// BaseFee returns the base fee of the latest head.
func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	var fee *big.Int
	err := c.withFailover(ctx, "base fee query", func(ctx context.Context, conn *ethclient.Client) error {
		header, err := conn.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		if header.BaseFee == nil {
			return errors.New("head has no base fee")
		}
		fee = header.BaseFee
		return nil
	})
	return fee, err
}

// SuggestFees computes the dynamic fee caps: base fee plus the configured
// priority premium. When the base fee query fails the static fallback gas
// price is used instead.
func (c *Client) SuggestFees(ctx context.Context) (gasFeeCap, gasTipCap *big.Int) {
	base, err := c.BaseFee(ctx)
	if err != nil {
		c.logger.Warnw("base fee query failed, using fallback gas price", "error", err)
		return new(big.Int).Set(c.fees.FallbackGasPrice), new(big.Int).Set(c.fees.PriorityFeeCap)
	}
	return new(big.Int).Add(base, c.fees.PriorityFeeCap), new(big.Int).Set(c.fees.PriorityFeeCap)
}

// BlobFeeCap returns the configured fee cap for the blob side channel.
func (c *Client) BlobFeeCap() *big.Int {
	return new(big.Int).Set(c.fees.BlobFeeCap)
}

// PendingNonce returns the next nonce of the address including pending txs.
func (c *Client) PendingNonce(ctx context.Context, address common.Address) (uint64, error) {
	var nonce uint64
	err := c.withFailover(ctx, "pending nonce query", func(ctx context.Context, conn *ethclient.Client) error {
		n, err := conn.PendingNonceAt(ctx, address)
		if err != nil {
			return err
		}
		nonce = n
		return nil
	})
	return nonce, err
}

// Balance returns the current balance of the address in wei.
func (c *Client) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	var balance *big.Int
	err := c.withFailover(ctx, "balance query", func(ctx context.Context, conn *ethclient.Client) error {
		b, err := conn.BalanceAt(ctx, address, nil)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

// SendTransaction broadcasts the signed transaction and returns its hash.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (string, error) {
	err := c.withFailover(ctx, "transaction submission", func(ctx context.Context, conn *ethclient.Client) error {
		return conn.SendTransaction(ctx, tx)
	})
	if err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

func (c *Client) withFailover(ctx context.Context, op string, call func(ctx context.Context, conn *ethclient.Client) error) error {
	endpoint, err := c.selector.Select(ctx, c.network)
	if err != nil {
		return errors.Wrap(err, "selecting endpoint")
	}
	firstErr := c.callEndpoint(ctx, endpoint.URL, call)
	if firstErr == nil {
		return nil
	}
	c.logger.Warnw("call failed, rotating endpoint", "op", op, "url", endpoint.URL, "error", firstErr)

	endpoint, err = c.selector.Rotate(c.network)
	if err != nil {
		return errors.Wrap(err, "rotating endpoint")
	}
	if err := c.callEndpoint(ctx, endpoint.URL, call); err != nil {
		return errors.Wrapf(err, "%s failed after failover", op)
	}
	return nil
}

func (c *Client) callEndpoint(ctx context.Context, url string, call func(ctx context.Context, conn *ethclient.Client) error) error {
	conn, err := c.dialer.Get(url)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return call(callCtx, conn)
}
