package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"gatepass/internal/platform/kafka"
)

// KafkaSink publishes lifecycle events to a Kafka topic, keyed by visit so
// consumers see one visit's transitions in order.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaSink wraps a producer for the given topic.
func NewKafkaSink(producer *kafka.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	return s.producer.Produce(ctx, s.topic, []byte(event.VisitID.String()), payload)
}
