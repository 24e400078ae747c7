package sink

import (
	"context"
	"fmt"

	"indicator-pipeline/go/pkg/pipeline"
	"indicator-pipeline/go/pkg/shared"
)

const DefaultSnapshotTopic = "indicators.snapshots"

// Kafka publishes each snapshot as JSON keyed by symbol.
type Kafka struct {
	P     shared.Producer
	Topic string
}

func (k Kafka) Accept(ctx context.Context, s pipeline.Snapshot) error {
	topic := k.Topic
	if topic == "" {
		topic = DefaultSnapshotTopic
	}
	if err := k.P.ProduceJSON(ctx, topic, []byte(s.Symbol), s); err != nil {
		return fmt.Errorf("produce %s: %w", topic, err)
	}
	return nil
}
