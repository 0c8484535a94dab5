package router

import (
	"context"
	"math/big"

	"github.com/blobworks/blob-revenue-engine/domain"
	"github.com/blobworks/blob-revenue-engine/relay"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const transferGasLimit = 21000

// ChainAPI is the chain surface the router and its executors need.
type ChainAPI interface {
	Balance(ctx context.Context, address common.Address) (*big.Int, error)
	PendingNonce(ctx context.Context, address common.Address) (uint64, error)
	SuggestFees(ctx context.Context) (gasFeeCap, gasTipCap *big.Int)
	SendTransaction(ctx context.Context, tx *types.Transaction) (string, error)
}

// Executor performs one due transfer out of a derived source identity.
type Executor interface {
	Name() string
	Execute(ctx context.Context, transfer *domain.PendingTransfer, source *domain.Identity) error
}

// DirectExecutor sends a plain value transfer from the source to the
// scheduled stealth destination.
type DirectExecutor struct {
	chain   ChainAPI
	chainID *big.Int
	signer  types.Signer
	logger  *zap.SugaredLogger
}

func NewDirectExecutor(chain ChainAPI, chainID *big.Int, logger *zap.SugaredLogger) *DirectExecutor {
	return &DirectExecutor{
		chain:   chain,
		chainID: chainID,
		signer:  types.NewCancunSigner(chainID),
		logger:  logger,
	}
}

func (e *DirectExecutor) Name() string {
	return "direct"
}

func (e *DirectExecutor) Execute(ctx context.Context, transfer *domain.PendingTransfer, source *domain.Identity) error {
	nonce, err := e.chain.PendingNonce(ctx, source.Address)
	if err != nil {
		return errors.Wrap(err, "querying nonce")
	}
	gasFeeCap, gasTipCap := e.chain.SuggestFees(ctx)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       transferGasLimit,
		To:        &transfer.Destination,
		Value:     transfer.Amount,
	})
	signed, err := source.SignTx(tx, e.signer)
	if err != nil {
		return errors.Wrap(err, "signing transfer")
	}

	txRef, err := e.chain.SendTransaction(ctx, signed)
	if err != nil {
		return errors.Wrap(err, "sending transfer")
	}
	e.logger.Infow("direct transfer sent",
		"source", source.Address.Hex(),
		"destination", transfer.Destination.Hex(),
		"amountWei", transfer.Amount,
		"tx", txRef)
	return nil
}

// RelayAPI prices and executes transfers through the bridge relay.
type RelayAPI interface {
	Quote(ctx context.Context, request relay.TransferRequest) (*big.Int, error)
	Execute(ctx context.Context, request relay.TransferRequest, fee *big.Int) (string, error)
}

// BridgeExecutor hands transfers to the relay, which delivers to the final
// wallet net of its fee. The relay replaces the stealth hop for chains where
// a direct send from the source is not wanted.
type BridgeExecutor struct {
	relay       RelayAPI
	chainID     *big.Int
	finalWallet common.Address
	logger      *zap.SugaredLogger
}

func NewBridgeExecutor(relayClient RelayAPI, chainID *big.Int, finalWallet common.Address, logger *zap.SugaredLogger) *BridgeExecutor {
	return &BridgeExecutor{
		relay:       relayClient,
		chainID:     chainID,
		finalWallet: finalWallet,
		logger:      logger,
	}
}

func (e *BridgeExecutor) Name() string {
	return "bridge"
}

func (e *BridgeExecutor) Execute(ctx context.Context, transfer *domain.PendingTransfer, source *domain.Identity) error {
	request := relay.TransferRequest{
		From:    source.Address,
		To:      e.finalWallet,
		Amount:  transfer.Amount,
		ChainID: e.chainID,
	}
	fee, err := e.relay.Quote(ctx, request)
	if err != nil {
		return errors.Wrap(err, "quoting relay")
	}
	if fee.Cmp(transfer.Amount) >= 0 {
		return errors.Errorf("relay fee [%s] eats the whole transfer [%s]", fee, transfer.Amount)
	}

	taskID, err := e.relay.Execute(ctx, request, fee)
	if err != nil {
		return errors.Wrap(err, "executing relay transfer")
	}
	e.logger.Infow("bridge transfer handed off",
		"source", source.Address.Hex(),
		"amountWei", transfer.Amount,
		"feeWei", fee,
		"task", taskID)
	return nil
}
