package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Ack levels accepted in Config.Acks.
const (
	AcksAll    = "all"
	AcksLeader = "leader"
	AcksNone   = "none"
)

const defaultBatchTimeout = 10 * time.Millisecond

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes with segmentio/kafka-go. Messages are hashed on their
// key, so every event of one data set lands on the same partition in order.
type Producer struct {
	writer messageWriter
	topic  string
}

func NewProducer(cfg Config) (*Producer, error) {
	w, err := newWriter(cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{writer: w, topic: cfg.Topic}, nil
}

func newWriter(cfg Config) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: brokers and topic required")
	}
	acks, err := writerAcks(cfg.Acks)
	if err != nil {
		return nil, err
	}
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = defaultBatchTimeout
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		Async:        false,
		BatchTimeout: batch,
	}, nil
}

func writerAcks(s string) (kafka.RequiredAcks, error) {
	switch s {
	case "", AcksAll:
		return kafka.RequireAll, nil
	case AcksLeader:
		return kafka.RequireOne, nil
	case AcksNone:
		return kafka.RequireNone, nil
	default:
		return 0, fmt.Errorf("kafka: unknown acks %q", s)
	}
}

func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value}); err != nil {
		return fmt.Errorf("write %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
