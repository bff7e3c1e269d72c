package ingest

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"netwarden/internal/config"
	"netwarden/internal/model"
)

// kafkaReader is the subset of *kafka.Reader the consumer loop needs.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func StartKafka(ctx context.Context, cfg *config.Manager, sink *Sink) {
	current := cfg.Get().Ingest.Kafka
	logger := sink.Logger
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go ConsumeKafka(ctx, reader, sink)
}

// ConsumeKafka forwards every message value to sink and commits its offset
// once the value has been handed off or dropped. A message with an empty
// value is committed without forwarding. The reader is closed on return.
func ConsumeKafka(ctx context.Context, r kafkaReader, sink *Sink) {
	defer r.Close()
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			if sink.Logger != nil {
				sink.Logger.Warn("kafka fetch error", "err", err)
			}
			if !BackoffSleep(ctx, time.Second) {
				return
			}
			continue
		}
		if len(m.Value) > 0 {
			received := m.Time.UTC()
			if m.Time.IsZero() {
				received = time.Now().UTC()
			}
			sink.Send(ctx, model.RawInput{
				Payload:    m.Value,
				Source:     "kafka",
				Remote:     m.Topic + "/" + strconv.Itoa(m.Partition),
				ReceivedAt: received,
			})
		}
		if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil && sink.Logger != nil {
			sink.Logger.Warn("kafka commit error", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "err", err)
		}
	}
}
