package producer

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// ConsumerConfig configures NewKafkaConsumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaConsumer returns a group reader for the telemetry topic. Call Close when done.
func NewKafkaConsumer(cfg ConsumerConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
}

// Reader is the part of *kafka.Reader the worker loop needs.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Handler processes one message value. Errors are reported to onError and do not stop the loop.
type Handler func(ctx context.Context, value []byte) error

// Consume reads messages until ctx is done, passing each value to handle.
// Read errors while ctx is live are reported and the loop continues.
func Consume(ctx context.Context, r Reader, handle Handler, onError func(error)) {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if onError != nil {
				onError(err)
			}
			continue
		}
		if err := handle(ctx, msg.Value); err != nil && onError != nil {
			onError(err)
		}
	}
}
