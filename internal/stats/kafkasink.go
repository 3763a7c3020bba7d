package stats

import (
	"encoding/json"

	"github.com/cpopescu/streamgraph/pkg/kafka"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

// KafkaSink publishes every Event as a JSON-encoded Kafka record, keyed
// by the event's kind so a single topic's partitions stay ordered per
// event family. Grounded on pkg/kafka.KafkaProducer (franz-go), the
// teacher's production message-bus client.
type KafkaSink struct {
	producer *kafka.KafkaProducer
	topic    string
	logger   logging.Logger
}

// NewKafkaSink wraps an already-constructed KafkaProducer; the caller owns
// connecting it to the right brokers/cluster id.
func NewKafkaSink(producer *kafka.KafkaProducer, topic string, logger logging.Logger) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic, logger: logger}
}

func (s *KafkaSink) Save(ev *Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).Warn("stats: failed to marshal event for kafka")
		}
		return
	}
	if err := s.producer.ProduceMessage(s.topic, []byte(ev.Kind.String()), value, nil); err != nil {
		if s.logger != nil {
			s.logger.WithError(err).Warn("stats: kafka produce failed")
		}
	}
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}

var _ StatsSaver = (*KafkaSink)(nil)
