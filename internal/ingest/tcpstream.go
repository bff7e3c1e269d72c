package ingest

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"netwarden/internal/config"
)

const maxStreamRecord = 1 << 20

// StreamServer reads newline-delimited records from collectors that keep a
// TCP connection open. MaxConns <= 0 means no cap; IdleTimeout <= 0 means a
// connection may stay silent forever.
type StreamServer struct {
	Sink        *Sink
	MaxConns    int
	IdleTimeout time.Duration

	wg sync.WaitGroup
}

// StartTCPStream listens on the configured address and serves it in the
// background until ctx is done.
func StartTCPStream(ctx context.Context, cfg *config.Manager, sink *Sink) {
	current := cfg.Get().Ingest.TCPStream
	logger := sink.Logger
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "addr", current.Addr, "err", err)
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String(), "max_conns", current.MaxConns)
	}
	srv := &StreamServer{Sink: sink, MaxConns: current.MaxConns, IdleTimeout: current.IdleTimeout}
	go srv.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then waits for the open
// connections to finish. Connections past MaxConns are closed immediately.
func (s *StreamServer) Serve(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	var slots chan struct{}
	if s.MaxConns > 0 {
		slots = make(chan struct{}, s.MaxConns)
	}
	defer s.wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.warn("tcp stream accept error", "err", err)
			continue
		}
		if slots != nil {
			select {
			case slots <- struct{}{}:
			default:
				s.warn("tcp stream connection limit reached", "remote", conn.RemoteAddr().String(), "max_conns", s.MaxConns)
				_ = conn.Close()
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if slots != nil {
				defer func() { <-slots }()
			}
			s.handle(ctx, conn)
		}()
	}
}

func (s *StreamServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), maxStreamRecord)
	for {
		if s.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		}
		if !scanner.Scan() {
			break
		}
		s.Sink.SendLine(ctx, "tcp_stream", remote, scanner.Bytes())
	}
	err := scanner.Err()
	var ne net.Error
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.As(err, &ne) && ne.Timeout():
		s.debug("tcp stream connection idle, closing", "remote", remote)
	default:
		s.warn("tcp stream read error", "remote", remote, "err", err)
	}
}

func (s *StreamServer) warn(msg string, args ...any) {
	if s.Sink.Logger != nil {
		s.Sink.Logger.Warn(msg, args...)
	}
}

func (s *StreamServer) debug(msg string, args ...any) {
	if s.Sink.Logger != nil {
		s.Sink.Logger.Debug(msg, args...)
	}
}
