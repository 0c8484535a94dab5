package submit

import (
	"context"
	"math/big"

	"github.com/blobworks/blob-revenue-engine/domain"
	"github.com/blobworks/blob-revenue-engine/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ChainAPI is the chain access the submitter needs for fees and nonces.
type ChainAPI interface {
	SuggestFees(ctx context.Context) (gasFeeCap, gasTipCap *big.Int)
	BlobFeeCap() *big.Int
	PendingNonce(ctx context.Context, address common.Address) (uint64, error)
}

// Channel broadcasts one signed envelope and returns a submission reference.
type Channel interface {
	Name() string
	Submit(ctx context.Context, tx *types.Transaction) (string, error)
}

// Submitter builds, signs and submits blob transaction envelopes.
type Submitter struct {
	chain    ChainAPI
	channel  Channel
	chainID  *big.Int
	signer   types.Signer
	gasLimit uint64
	nonces   map[common.Address]uint64 // next nonce per address
	metrics  *metrics.ProcessingMetrics
	logger   *zap.SugaredLogger
}

func NewSubmitter(chain ChainAPI, channel Channel, chainID *big.Int, gasLimit uint64,
	m *metrics.ProcessingMetrics, logger *zap.SugaredLogger) *Submitter {

	return &Submitter{
		chain:    chain,
		channel:  channel,
		chainID:  chainID,
		signer:   types.NewCancunSigner(chainID),
		gasLimit: gasLimit,
		nonces:   make(map[common.Address]uint64),
		metrics:  m,
		logger:   logger,
	}
}

// BuildEnvelope assembles and signs the blob transaction carrying the
// bundles. The nonce is consumed here: a later submission failure leaves a
// gap instead of reusing it.
func (s *Submitter) BuildEnvelope(ctx context.Context, id *domain.Identity, bundles []domain.BlobBundle) (*types.Transaction, error) {
	if len(bundles) == 0 {
		return nil, errors.New("no bundles to submit")
	}
	nonce, err := s.nextNonce(ctx, id.Address)
	if err != nil {
		return nil, errors.Wrap(err, "allocating nonce")
	}
	gasFeeCap, gasTipCap := s.chain.SuggestFees(ctx)

	blobHashes := make([]common.Hash, 0, len(bundles))
	sidecar := &types.BlobTxSidecar{}
	for _, bundle := range bundles {
		blobHashes = append(blobHashes, bundle.VersionedHash)
		sidecar.Blobs = append(sidecar.Blobs, *bundle.Blob)
		sidecar.Commitments = append(sidecar.Commitments, bundle.Commitment)
		sidecar.Proofs = append(sidecar.Proofs, bundle.Proof)
	}

	blobTx := &types.BlobTx{
		ChainID:    uint256.MustFromBig(s.chainID),
		Nonce:      nonce,
		GasTipCap:  uint256.MustFromBig(gasTipCap),
		GasFeeCap:  uint256.MustFromBig(gasFeeCap),
		Gas:        s.gasLimit,
		To:         common.Address{}, // the payload rides in the side channel
		Value:      uint256.NewInt(0),
		BlobFeeCap: uint256.MustFromBig(s.chain.BlobFeeCap()),
		BlobHashes: blobHashes,
		Sidecar:    sidecar,
	}
	signed, err := id.SignTx(types.NewTx(blobTx), s.signer)
	if err != nil {
		return nil, errors.Wrap(err, "signing envelope")
	}
	return signed, nil
}

// Submit broadcasts the envelope over the configured channel.
func (s *Submitter) Submit(ctx context.Context, tx *types.Transaction) (string, error) {
	txRef, err := s.channel.Submit(ctx, tx)
	if err != nil {
		s.metrics.IncRejectedTx()
		return "", errors.Wrapf(err, "submitting over [%s] channel", s.channel.Name())
	}
	s.metrics.IncSubmittedTx()
	s.logger.Infow("submitted envelope", "channel", s.channel.Name(), "txRef", txRef, "blobs", len(tx.BlobHashes()))
	return txRef, nil
}

func (s *Submitter) nextNonce(ctx context.Context, address common.Address) (uint64, error) {
	if nonce, ok := s.nonces[address]; ok {
		s.nonces[address] = nonce + 1
		return nonce, nil
	}
	nonce, err := s.chain.PendingNonce(ctx, address)
	if err != nil {
		return 0, err
	}
	s.nonces[address] = nonce + 1
	return nonce, nil
}
