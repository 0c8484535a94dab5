package router

import (
	"context"
	"math/big"
	"time"

	"github.com/blobworks/blob-revenue-engine/clock"
	"github.com/blobworks/blob-revenue-engine/domain"
	"github.com/blobworks/blob-revenue-engine/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// share of the balance a sweep takes, the rest stays behind for gas
const sweepPercent = 90

// StealthDeriver recomputes the per-epoch stealth destination for the final
// wallet.
type StealthDeriver interface {
	StealthDestination(epoch uint64, finalWallet common.Address) (common.Address, error)
}

// SweepRecorder persists executed sweeps for operators.
type SweepRecorder interface {
	RecordSweep(day uint64, source common.Address, amount *big.Int) error
}

// Config bundles the routing knobs.
type Config struct {
	SweepThreshold *big.Int // minimum balance that triggers a sweep
	DelayMin       time.Duration
	DelayMax       time.Duration
	FinalWallet    common.Address
}

// Router watches derived source addresses and drains them to per-epoch
// stealth destinations after a randomized delay. Each source moves
// idle -> scheduled -> processed; the processed set resets on the daily
// rotation so reused addresses become eligible again.
type Router struct {
	chain    ChainAPI
	deriver  StealthDeriver
	executor Executor
	store    SweepRecorder
	clk      clock.Clock
	config   Config

	pending     map[common.Address]*domain.PendingTransfer
	identities  map[common.Address]*domain.Identity
	processed   map[common.Address]bool
	rotationDay uint64

	metrics *metrics.ProcessingMetrics
	logger  *zap.SugaredLogger
}

func NewRouter(chain ChainAPI, deriver StealthDeriver, executor Executor, store SweepRecorder,
	clk clock.Clock, config Config, m *metrics.ProcessingMetrics, logger *zap.SugaredLogger) (*Router, error) {

	if config.SweepThreshold == nil || config.SweepThreshold.Sign() <= 0 {
		return nil, errors.New("sweep threshold must be positive")
	}
	if config.DelayMax < config.DelayMin {
		return nil, errors.Errorf("delay range [%s, %s] is inverted", config.DelayMin, config.DelayMax)
	}
	if config.FinalWallet == (common.Address{}) {
		return nil, errors.New("final wallet must be set")
	}
	return &Router{
		chain:       chain,
		deriver:     deriver,
		executor:    executor,
		store:       store,
		clk:         clk,
		config:      config,
		pending:     make(map[common.Address]*domain.PendingTransfer),
		identities:  make(map[common.Address]*domain.Identity),
		processed:   make(map[common.Address]bool),
		rotationDay: domain.RotationDayAt(clk.Now()),
		metrics:     m,
		logger:      logger,
	}, nil
}

// Monitor checks every source not yet processed and not yet scheduled and
// schedules a sweep when its balance reaches the threshold. The transfer
// amount is a fixed share of the balance and execution is delayed by a
// random interval so sweeps do not trail submissions at a fixed distance.
func (r *Router) Monitor(ctx context.Context, sources []*domain.Identity) {
	now := r.clk.Now()
	r.maybeRotate(now)

	for _, source := range sources {
		if r.processed[source.Address] {
			continue
		}
		if _, scheduled := r.pending[source.Address]; scheduled {
			continue
		}

		balance, err := r.chain.Balance(ctx, source.Address)
		if err != nil {
			r.logger.Warnw("balance check failed", "source", source.Address.Hex(), "error", err)
			continue
		}
		if balance.Cmp(r.config.SweepThreshold) < 0 {
			continue
		}

		destination, err := r.deriver.StealthDestination(domain.EpochAt(now), r.config.FinalWallet)
		if err != nil {
			r.logger.Warnw("stealth derivation failed", "source", source.Address.Hex(), "error", err)
			continue
		}
		amount := new(big.Int).Div(new(big.Int).Mul(balance, big.NewInt(sweepPercent)), big.NewInt(100))
		delay := r.clk.Jitter(r.config.DelayMin, r.config.DelayMax)

		r.pending[source.Address] = &domain.PendingTransfer{
			Source:      source.Address,
			Destination: destination,
			Amount:      amount,
			ExecuteAt:   now.Add(delay),
		}
		r.identities[source.Address] = source
		r.metrics.IncSweepsScheduled()
		r.logger.Infow("sweep scheduled",
			"source", source.Address.Hex(),
			"destination", destination.Hex(),
			"amountWei", amount,
			"delay", delay)
	}
	r.metrics.SetPendingTransfers(len(r.pending))
}

// Tick executes every transfer that has come due and returns how many went
// through. A failed transfer stays due and is retried on the next tick.
func (r *Router) Tick(ctx context.Context) int {
	now := r.clk.Now()
	r.maybeRotate(now)

	executed := 0
	for source, transfer := range r.pending {
		if transfer.ExecuteAt.After(now) {
			continue
		}

		if err := r.executor.Execute(ctx, transfer, r.identities[source]); err != nil {
			r.logger.Warnw("transfer failed, stays due",
				"source", source.Hex(),
				"executor", r.executor.Name(),
				"error", err)
			continue
		}

		r.processed[source] = true
		delete(r.pending, source)
		delete(r.identities, source)
		executed++
		r.metrics.IncSweepsExecuted()
		if err := r.store.RecordSweep(r.rotationDay, source, transfer.Amount); err != nil {
			r.logger.Warnw("sweep bookkeeping failed", "source", source.Hex(), "error", err)
		}
		r.logger.Infow("sweep executed",
			"source", source.Hex(),
			"destination", transfer.Destination.Hex(),
			"amountWei", transfer.Amount,
			"executor", r.executor.Name())
	}
	r.metrics.SetPendingTransfers(len(r.pending))
	return executed
}

func (r *Router) maybeRotate(now time.Time) {
	day := domain.RotationDayAt(now)
	if day == r.rotationDay {
		return
	}
	r.logger.Infow("rotation day changed, processed set reset",
		"day", day, "previouslyProcessed", len(r.processed))
	r.rotationDay = day
	r.processed = make(map[common.Address]bool)
}
