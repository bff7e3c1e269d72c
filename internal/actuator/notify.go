package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"

	"netwarden/internal/response"
)

type envelope struct {
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func encodeMessage(msg string) ([]byte, error) {
	return json.Marshal(envelope{Text: msg, Source: "netwarden", Timestamp: time.Now().UTC()})
}

// Webhook posts {"text": msg} to URL.
type Webhook struct {
	URL    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{URL: url, client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Send(ctx context.Context, msg string) error {
	body, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: webhook request: %w", response.ErrInvalidTarget, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// natsConn is the subset of *nats.Conn the notifier needs.
type natsConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATS publishes each message on Subject and flushes so delivery errors
// surface to the caller.
type NATS struct {
	Subject string
	conn    natsConn
}

func NewNATS(conn natsConn, subject string) *NATS {
	return &NATS{Subject: subject, conn: conn}
}

func (n *NATS) Send(ctx context.Context, msg string) error {
	body, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.Subject, body); err != nil {
		return fmt.Errorf("nats publish %s: %w", n.Subject, err)
	}
	return n.conn.FlushWithContext(ctx)
}

// messageWriter is the subset of *kafka.Writer the notifier needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Kafka struct {
	writer messageWriter
}

func NewKafka(writer messageWriter) *Kafka {
	return &Kafka{writer: writer}
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
}

func (k *Kafka) Send(ctx context.Context, msg string) error {
	body, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Log writes alerts to the structured log.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Send(_ context.Context, msg string) error {
	if l.logger != nil {
		l.logger.Warn("security alert", "message", msg)
	}
	return nil
}

// Multi fans a message out to every notifier. It fails when any of them
// fails, so the response engine retries the whole delivery.
type Multi []response.Notifier

func (m Multi) Send(ctx context.Context, msg string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
