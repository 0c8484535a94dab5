package kafka

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/blobworks/blob-revenue-engine/domain"
	"github.com/twmb/franz-go/pkg/kgo"
)

type OutcomeProducer struct {
	kcl *kgo.Client
}

func NewOutcomeProducer(client *kgo.Client) *OutcomeProducer {
	return &OutcomeProducer{kcl: client}
}

// Record publishes one cycle outcome. Used as an outcome sink.
func (op *OutcomeProducer) Record(ctx context.Context, outcome *domain.CycleOutcome) error {
	record, err := createRecord(outcome)
	if err != nil {
		return fmt.Errorf("creating cycle outcome record: %w", err)
	}

	err = op.kcl.ProduceSync(ctx, record).FirstErr()
	if err != nil {
		return fmt.Errorf("producing cycle outcome record: %w", err)
	}

	return nil
}

func createRecord(outcome *domain.CycleOutcome) (*kgo.Record, error) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("marshalling to json: %w", err)
	}
	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, outcome.Cycle)

	return &kgo.Record{
		Key:   key,
		Value: payload,
	}, nil
}
