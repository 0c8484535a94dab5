package cycle

import (
	"context"
	"math/big"
	"time"

	"github.com/blobworks/blob-revenue-engine/clock"
	"github.com/blobworks/blob-revenue-engine/domain"
	"github.com/blobworks/blob-revenue-engine/metrics"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// one rotation day of hourly identities
const maxKnownSources = 24

type IdentityProvider interface {
	Current(now time.Time) (*domain.Identity, error)
}

type BundleBuilder interface {
	Build(count int) ([]domain.BlobBundle, error)
}

type EnvelopeSubmitter interface {
	BuildEnvelope(ctx context.Context, id *domain.Identity, bundles []domain.BlobBundle) (*types.Transaction, error)
	Submit(ctx context.Context, tx *types.Transaction) (string, error)
}

type Reseller interface {
	Resell(ctx context.Context, bundle domain.BlobBundle) (earned *big.Int, fallbackUsed bool)
}

type FundRouter interface {
	Monitor(ctx context.Context, sources []*domain.Identity)
	Tick(ctx context.Context) int
}

// OutcomeSink books one finished cycle. Sinks must tolerate being called
// with failed outcomes.
type OutcomeSink interface {
	Record(ctx context.Context, outcome *domain.CycleOutcome) error
}

type Config struct {
	BlobsPerCycle    int
	Interval         time.Duration
	IntervalJitter   time.Duration
	ErrorBackoff     time.Duration
	Cooldown         time.Duration
	FailureThreshold uint
}

// Processor drives the revenue loop: derive identity, build and submit the
// blob envelope, resell every commitment, route accumulated funds, book the
// outcome, sleep. A streak of revenue-less cycles trips a cooldown.
type Processor struct {
	identities IdentityProvider
	builder    BundleBuilder
	submitter  EnvelopeSubmitter
	reseller   Reseller
	router     FundRouter
	sinks      []OutcomeSink
	clk        clock.Clock
	config     Config

	cycle        uint64
	failures     uint
	knownSources []*domain.Identity

	metrics *metrics.ProcessingMetrics
	logger  *zap.SugaredLogger
}

func NewProcessor(identities IdentityProvider, builder BundleBuilder, submitter EnvelopeSubmitter,
	reseller Reseller, router FundRouter, sinks []OutcomeSink, clk clock.Clock, config Config,
	m *metrics.ProcessingMetrics, logger *zap.SugaredLogger) *Processor {

	return &Processor{
		identities: identities,
		builder:    builder,
		submitter:  submitter,
		reseller:   reseller,
		router:     router,
		sinks:      sinks,
		clk:        clk,
		config:     config,
		metrics:    m,
		logger:     logger,
	}
}

// Start runs cycles until the context is cancelled. The first cycle starts
// immediately, sleeping happens at the end of each cycle.
func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Infow("cycle loop stopped", "cycles", p.cycle)
			return
		}
		p.runOnce(ctx)
	}
}

func (p *Processor) runOnce(ctx context.Context) {
	outcome, err := p.runCycle(ctx)
	if err != nil {
		p.logger.Errorw("cycle failed", "cycle", outcome.Cycle, "error", err)
	}

	p.metrics.IncCycles()
	if outcome.Failed {
		p.metrics.IncFailedCycles()
	} else {
		p.metrics.SetProcessedCycle(outcome.Cycle, outcome.Epoch)
	}
	p.record(ctx, outcome)

	if outcome.Earned != nil && outcome.Earned.Sign() > 0 {
		p.failures = 0
	} else {
		p.failures++
	}
	p.metrics.SetFailureStreak(p.failures)

	switch {
	case p.failures >= p.config.FailureThreshold:
		p.logger.Warnw("failure streak reached threshold, cooling down",
			"failures", p.failures, "cooldown", p.config.Cooldown)
		p.clk.Sleep(p.config.Cooldown)
		// the breaker resets unconditionally, it does not compound
		p.failures = 0
		p.metrics.SetFailureStreak(0)
	case err != nil:
		p.clk.Sleep(p.config.ErrorBackoff)
	default:
		p.clk.Sleep(p.config.Interval + p.clk.Jitter(-p.config.IntervalJitter, p.config.IntervalJitter))
	}
}

// runCycle executes one cycle body. A non-nil error marks an unexpected
// failure before submission; a rejected submission books a zero-revenue
// outcome without an error so the loop keeps its normal pace.
func (p *Processor) runCycle(ctx context.Context) (*domain.CycleOutcome, error) {
	p.cycle++
	started := p.clk.Now()
	outcome := &domain.CycleOutcome{Cycle: p.cycle, Earned: big.NewInt(0)}
	defer func() {
		outcome.DurationMs = p.clk.Now().Sub(started).Milliseconds()
	}()

	id, err := p.identities.Current(started)
	if err != nil {
		outcome.Failed = true
		outcome.Reason = "identity derivation failed"
		return outcome, errors.Wrap(err, "deriving identity")
	}
	outcome.Epoch = id.Epoch
	outcome.Operator = id.Address.Hex()
	p.trackSource(id)

	bundles, err := p.builder.Build(p.config.BlobsPerCycle)
	if err != nil {
		outcome.Failed = true
		outcome.Reason = "payload construction failed"
		return outcome, errors.Wrap(err, "building payloads")
	}

	envelope, err := p.submitter.BuildEnvelope(ctx, id, bundles)
	if err != nil {
		outcome.Failed = true
		outcome.Reason = "envelope construction failed"
		return outcome, errors.Wrap(err, "building envelope")
	}

	txRef, err := p.submitter.Submit(ctx, envelope)
	if err != nil {
		outcome.Failed = true
		outcome.Reason = "submission failed"
		p.logger.Warnw("submission failed, booking zero-revenue cycle", "cycle", p.cycle, "error", err)
	} else {
		outcome.TxRef = txRef
		for _, bundle := range bundles {
			earned, fallbackUsed := p.reseller.Resell(ctx, bundle)
			outcome.Earned.Add(outcome.Earned, earned)
			if fallbackUsed {
				outcome.Fallbacks++
			}
		}
	}

	// funds keep moving even when this cycle earned nothing
	p.router.Monitor(ctx, p.knownSources)
	outcome.Swept = p.router.Tick(ctx)

	p.logger.Infow("cycle complete",
		"cycle", p.cycle,
		"epoch", outcome.Epoch,
		"earnedWei", outcome.Earned,
		"fallbacks", outcome.Fallbacks,
		"swept", outcome.Swept,
		"failed", outcome.Failed)
	return outcome, nil
}

// trackSource remembers identities that may still hold funds. Old entries
// fall off once the window is full, their epochs are long rotated out.
func (p *Processor) trackSource(id *domain.Identity) {
	for _, known := range p.knownSources {
		if known.Address == id.Address {
			return
		}
	}
	p.knownSources = append(p.knownSources, id)
	if len(p.knownSources) > maxKnownSources {
		p.knownSources = p.knownSources[1:]
	}
}

func (p *Processor) record(ctx context.Context, outcome *domain.CycleOutcome) {
	for _, sink := range p.sinks {
		if err := sink.Record(ctx, outcome); err != nil {
			p.logger.Warnw("outcome sink failed", "cycle", outcome.Cycle, "error", err)
		}
	}
}
