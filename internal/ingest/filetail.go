package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"time"

	"netwarden/internal/config"
)

const (
	tailPoll      = 200 * time.Millisecond
	tailReopen    = 500 * time.Millisecond
	tailChunkSize = 32 * 1024
)

func StartFileTail(ctx context.Context, cfg *config.Manager, sink *Sink) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if sink.Logger != nil {
			sink.Logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if sink.Logger != nil {
			sink.Logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go TailFile(ctx, path, current.StartAtEnd, sink)
	}
}

// TailFile follows path line by line until ctx is done. A truncated file is
// read again from the start; a rotated file (new inode at path) is reopened
// and read from the start. startAtEnd only applies to the first open.
func TailFile(ctx context.Context, path string, startAtEnd bool, sink *Sink) {
	t := &tailer{path: path, sink: sink, buf: make([]byte, tailChunkSize)}
	defer t.close()
	for ctx.Err() == nil {
		if t.file == nil {
			if err := t.open(startAtEnd); err != nil {
				t.warn("tail open failed", "err", err)
				if !BackoffSleep(ctx, tailReopen) {
					return
				}
				continue
			}
			startAtEnd = false
		}
		n, err := t.read(ctx)
		switch {
		case err != nil && !errors.Is(err, io.EOF):
			t.warn("tail read error", "err", err)
			t.close()
		case n == 0:
			if !BackoffSleep(ctx, tailPoll) {
				return
			}
			t.checkRotation()
		}
	}
}

type tailer struct {
	path    string
	sink    *Sink
	file    *os.File
	info    os.FileInfo
	offset  int64
	partial []byte
	buf     []byte
}

func (t *tailer) open(atEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	t.file, t.info, t.offset, t.partial = f, info, 0, nil
	if atEnd {
		pos, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			t.close()
			return err
		}
		t.offset = pos
	}
	return nil
}

func (t *tailer) close() {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
}

// read consumes one chunk and emits every complete line in it. A trailing
// partial line is held until its newline arrives.
func (t *tailer) read(ctx context.Context) (int, error) {
	n, err := t.file.Read(t.buf)
	if n == 0 {
		return 0, err
	}
	t.offset += int64(n)
	data := append(t.partial, t.buf[:n]...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		t.sink.SendLine(ctx, "file_tail", t.path, data[:i])
		data = data[i+1:]
	}
	t.partial = append(t.partial[:0:0], data...)
	return n, nil
}

func (t *tailer) checkRotation() {
	info, err := os.Stat(t.path)
	if err != nil {
		return
	}
	if !os.SameFile(info, t.info) {
		t.debug("tail file rotated, reopening")
		t.close()
		return
	}
	if info.Size() < t.offset {
		t.debug("tail file truncated, rewinding")
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			t.close()
			return
		}
		t.offset, t.partial = 0, nil
	}
}

func (t *tailer) warn(msg string, args ...any) {
	if t.sink.Logger != nil {
		t.sink.Logger.Warn(msg, append([]any{"path", t.path}, args...)...)
	}
}

func (t *tailer) debug(msg string, args ...any) {
	if t.sink.Logger != nil {
		t.sink.Logger.Debug(msg, append([]any{"path", t.path}, args...)...)
	}
}
