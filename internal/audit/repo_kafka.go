package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaOptions struct {
	Brokers []string
	Topic   string
}

// KafkaRepo publishes events keyed by session id, so one call's events stay
// ordered within a partition.
type KafkaRepo struct {
	writer messageWriter
	topic  string
}

func NewKafkaRepo(opts KafkaOptions) (*KafkaRepo, error) {
	if len(opts.Brokers) == 0 || opts.Topic == "" {
		return nil, errors.New("audit: kafka brokers and topic are required")
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	return &KafkaRepo{writer: w, topic: opts.Topic}, nil
}

func (r *KafkaRepo) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(e.Type)},
		},
	})
}

func (r *KafkaRepo) Close() error {
	return r.writer.Close()
}
