package journal

import (
	"context"
	"time"

	"github.com/blobworks/blob-revenue-engine/domain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Journal appends one line per cycle outcome to a file. It is the durable
// artifact operators grep through; the engine never reads it back.
type Journal struct {
	logger *zap.SugaredLogger
}

func New(path string) (*Journal, error) {
	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)
	config.OutputPaths = []string{path}
	config.ErrorOutputPaths = []string{"stderr"}
	config.DisableCaller = true
	config.DisableStacktrace = true
	config.Sampling = nil // every cycle gets its line

	logger, err := config.Build()
	if err != nil {
		return nil, errors.Wrap(err, "creating journal logger")
	}
	return &Journal{logger: logger.Sugar()}, nil
}

// Record appends the outcome. Used as an outcome sink.
func (j *Journal) Record(_ context.Context, outcome *domain.CycleOutcome) error {
	earned := "0"
	if outcome.Earned != nil {
		earned = outcome.Earned.String()
	}
	j.logger.Infow("cycle",
		"cycle", outcome.Cycle,
		"epoch", outcome.Epoch,
		"operator", outcome.Operator,
		"tx", outcome.TxRef,
		"earnedWei", earned,
		"fallbacks", outcome.Fallbacks,
		"swept", outcome.Swept,
		"failed", outcome.Failed,
		"reason", outcome.Reason,
		"durationMs", outcome.DurationMs,
	)
	return nil
}

func (j *Journal) Close() error {
	return j.logger.Sync()
}
