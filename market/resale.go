package market

import (
	"context"
	"math/big"

	"github.com/blobworks/blob-revenue-engine/domain"
	"github.com/blobworks/blob-revenue-engine/metrics"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ResaleClient sells commitments to market venues and falls back to grant
// minting when nobody bids. Every attempt books an outcome, even a zero one.
type ResaleClient struct {
	venues   []Venue
	fallback FallbackMinter
	metrics  *metrics.ProcessingMetrics
	logger   *zap.SugaredLogger
}

func NewResaleClient(venues []Venue, fallback FallbackMinter,
	m *metrics.ProcessingMetrics, logger *zap.SugaredLogger) *ResaleClient {

	return &ResaleClient{
		venues:   venues,
		fallback: fallback,
		metrics:  m,
		logger:   logger,
	}
}

// Resell books revenue for one commitment. The best positive bid wins, ties
// broken by venue order; a failed execution books zero without retrying in
// this cycle. With no positive bid the fallback mints a grant.
func (r *ResaleClient) Resell(ctx context.Context, bundle domain.BlobBundle) (earned *big.Int, fallbackUsed bool) {
	bids := r.quoteAll(ctx, bundle.Commitment)

	best := -1
	bestBid := big.NewInt(0)
	for i, bid := range bids {
		if bid != nil && bid.Cmp(bestBid) > 0 {
			best = i
			bestBid = bid
		}
	}

	if best < 0 {
		return r.mintFallback(ctx, bundle.Commitment), true
	}

	venue := r.venues[best]
	earned, err := venue.Execute(ctx, bundle.Commitment)
	if err != nil {
		r.logger.Warnw("venue execution failed", "venue", venue.Name(), "bid", bestBid, "error", err)
		return big.NewInt(0), false
	}
	r.metrics.AddEarned(earned)
	r.logger.Infow("commitment resold", "venue", venue.Name(), "bid", bestBid, "earned", earned)
	return earned, false
}

// quoteAll gathers bids from all venues concurrently. A failed quote counts
// as a zero bid.
func (r *ResaleClient) quoteAll(ctx context.Context, commitment kzg4844.Commitment) []*big.Int {
	bids := make([]*big.Int, len(r.venues))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, venue := range r.venues {
		group.Go(func() error {
			bid, err := venue.Quote(groupCtx, commitment)
			if err != nil {
				r.logger.Warnw("venue quote failed", "venue", venue.Name(), "error", err)
				bids[i] = big.NewInt(0)
				return nil
			}
			bids[i] = bid
			return nil
		})
	}
	_ = group.Wait() // quote workers never return errors
	return bids
}

func (r *ResaleClient) mintFallback(ctx context.Context, commitment kzg4844.Commitment) *big.Int {
	if r.fallback == nil {
		r.logger.Warnw("no positive bid and no fallback configured")
		return big.NewInt(0)
	}
	earned, err := r.fallback.Mint(ctx, commitment)
	if err != nil {
		r.logger.Warnw("fallback mint failed", "fallback", r.fallback.Name(), "error", err)
		return big.NewInt(0)
	}
	r.metrics.IncFallbacks()
	r.metrics.AddEarned(earned)
	r.logger.Infow("fallback grant minted", "fallback", r.fallback.Name(), "earned", earned)
	return earned
}
