package relay

import (
	"context"
	"encoding/json"

	sarama "github.com/IBM/sarama"

	"github.com/mirkobrombin/go-editlock/v1/event"
)

// KafkaSink produces events to a topic keyed by resource id, so every
// resource's events stay ordered within one partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink connects a synchronous producer to brokers.
func NewKafkaSink(brokers []string, topic string, cfg *sarama.Config) (*KafkaSink, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaSinkFromProducer(producer, topic), nil
}

// NewKafkaSinkFromProducer wraps an existing producer.
func NewKafkaSinkFromProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// Send implements Sink.Send.
func (s *KafkaSink) Send(ctx context.Context, ev event.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.ResourceID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(ev.Kind)},
		},
	})
	return err
}

// Close closes the producer.
func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
