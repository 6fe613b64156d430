package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// SaramaProducer publishes with a synchronous sarama producer.
type SaramaProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaProducer(cfg Config) (*SaramaProducer, error) {
	sc, err := SaramaConfig(cfg.Acks)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return newSaramaProducer(producer, cfg.Topic), nil
}

// SaramaConfig builds a sync producer config with the given ack level,
// hashing on the key and retrying a few times.
func SaramaConfig(acks string) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Retry.Max = 5
	switch acks {
	case "", AcksAll:
		cfg.Producer.RequiredAcks = sarama.WaitForAll
	case AcksLeader:
		cfg.Producer.RequiredAcks = sarama.WaitForLocal
	case AcksNone:
		cfg.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("kafka: unknown acks %q", acks)
	}
	return cfg, nil
}

func newSaramaProducer(p sarama.SyncProducer, topic string) *SaramaProducer {
	return &SaramaProducer{producer: p, topic: topic}
}

// Publish blocks until the broker acks. sarama has no context support; ctx
// is only checked before sending.
func (s *SaramaProducer) Publish(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (s *SaramaProducer) Close() error {
	return s.producer.Close()
}
