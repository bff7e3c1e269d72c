// Package ingest hosts the capture sources. Each source turns what it reads
// into model.RawInput and hands it to a Sink; classification happens later
// in the pipeline.
package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"netwarden/internal/model"
)

// Sink is the shared hand-off from every source to the pipeline.
type Sink struct {
	Out    chan<- model.RawInput
	Logger *slog.Logger
	// OnDrop, when set, is called for every input dropped on a full channel.
	OnDrop func(source string)
}

// Send never blocks: a full channel drops the input with a warning.
func (s *Sink) Send(ctx context.Context, raw model.RawInput) bool {
	select {
	case s.Out <- raw:
		return true
	case <-ctx.Done():
		return false
	default:
		if s.Logger != nil {
			s.Logger.Warn("input channel full, dropping input", "source", raw.Source, "remote", raw.Remote)
		}
		if s.OnDrop != nil {
			s.OnDrop(raw.Source)
		}
		return false
	}
}

// SendLine wraps one line of text. Blank lines are skipped.
func (s *Sink) SendLine(ctx context.Context, source, remote string, line []byte) bool {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}
	return s.Send(ctx, model.RawInput{
		Payload:    append([]byte(nil), line...),
		Source:     source,
		Remote:     remote,
		ReceivedAt: time.Now().UTC(),
	})
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
