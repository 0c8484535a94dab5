package metrics

import (
	"fmt"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ProcessingMetrics struct {
	processedCycleGauge   prometheus.Gauge
	currentEpochGauge     prometheus.Gauge
	cyclesCount           prometheus.Counter
	failedCyclesCount     prometheus.Counter
	earnedGweiCount       prometheus.Counter
	fallbackCount         prometheus.Counter
	submittedTxCount      prometheus.Counter
	rejectedTxCount       prometheus.Counter
	failureStreakGauge    prometheus.Gauge
	pendingTransfersGauge prometheus.Gauge
	sweepsScheduledCount  prometheus.Counter
	sweepsExecutedCount   prometheus.Counter
	endpointRotationCount *prometheus.CounterVec
}

func NewProcessingMetrics(namespace string) *ProcessingMetrics {
	m := ProcessingMetrics{
		// metrics for cycle processing
		processedCycleGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_processed_cycle", namespace),
			Help: "The latest fully processed cycle",
		}),
		currentEpochGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_current_epoch", namespace),
			Help: "The identity epoch of the latest cycle",
		}),
		cyclesCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_cycle_count", namespace),
			Help: "The total number of processed cycles",
		}),
		failedCyclesCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_failed_cycle_count", namespace),
			Help: "The total number of zero revenue or errored cycles",
		}),
		failureStreakGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_failure_streak", namespace),
			Help: "The current number of consecutive failed cycles",
		}),
		// metrics for revenue
		earnedGweiCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_earned_gwei_total", namespace),
			Help: "The cumulative resale revenue in gwei",
		}),
		fallbackCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_fallback_count", namespace),
			Help: "The total number of fallback grant mints",
		}),
		// metrics for submissions
		submittedTxCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_submitted_tx_count", namespace),
			Help: "The total number of submitted transaction envelopes",
		}),
		rejectedTxCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_rejected_tx_count", namespace),
			Help: "The total number of failed envelope submissions",
		}),
		// metrics for fund routing
		pendingTransfersGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_pending_transfers", namespace),
			Help: "The number of scheduled transfers not yet executed",
		}),
		sweepsScheduledCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_sweeps_scheduled_count", namespace),
			Help: "The total number of scheduled sweeps",
		}),
		sweepsExecutedCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_sweeps_executed_count", namespace),
			Help: "The total number of executed sweeps",
		}),
		// metrics for endpoint health
		endpointRotationCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_endpoint_rotation_count", namespace),
			Help: "The total number of endpoint rotations per network",
		}, []string{"network"}),
	}
	return &m
}

func (metrics *ProcessingMetrics) SetProcessedCycle(cycle uint64, epoch uint64) {
	metrics.processedCycleGauge.Set(float64(cycle))
	metrics.currentEpochGauge.Set(float64(epoch))
}

func (metrics *ProcessingMetrics) IncCycles() {
	metrics.cyclesCount.Inc()
}

func (metrics *ProcessingMetrics) IncFailedCycles() {
	metrics.failedCyclesCount.Inc()
}

func (metrics *ProcessingMetrics) SetFailureStreak(count uint) {
	metrics.failureStreakGauge.Set(float64(count))
}

// AddEarned records resale revenue. Converted to gwei because counters are
// float64 and wei amounts lose precision there.
func (metrics *ProcessingMetrics) AddEarned(wei *big.Int) {
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	metrics.earnedGweiCount.Add(gwei)
}

func (metrics *ProcessingMetrics) IncFallbacks() {
	metrics.fallbackCount.Inc()
}

func (metrics *ProcessingMetrics) IncSubmittedTx() {
	metrics.submittedTxCount.Inc()
}

func (metrics *ProcessingMetrics) IncRejectedTx() {
	metrics.rejectedTxCount.Inc()
}

func (metrics *ProcessingMetrics) SetPendingTransfers(count int) {
	metrics.pendingTransfersGauge.Set(float64(count))
}

func (metrics *ProcessingMetrics) IncSweepsScheduled() {
	metrics.sweepsScheduledCount.Inc()
}

func (metrics *ProcessingMetrics) IncSweepsExecuted() {
	metrics.sweepsExecutedCount.Inc()
}

func (metrics *ProcessingMetrics) IncEndpointRotations(network string) {
	metrics.endpointRotationCount.WithLabelValues(network).Inc()
}
