package ingest

import (
	"bytes"
	"context"
	"net"
	"time"

	"netwarden/internal/config"
)

// StartUDP listens for frame or flow records sent as datagrams, one or more
// newline-separated records per datagram.
func StartUDP(ctx context.Context, cfg *config.Manager, sink *Sink) {
	current := cfg.Get().Ingest.UDP
	logger := sink.Logger
	if !current.Enabled {
		if logger != nil {
			logger.Info("udp ingest disabled")
		}
		return
	}
	udpAddr, err := net.ResolveUDPAddr("udp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("udp resolve error", "err", err)
		}
		return
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		if logger != nil {
			logger.Error("udp listen error", "err", err)
		}
		return
	}
	if logger != nil {
		logger.Info("udp ingest enabled", "addr", current.Addr)
	}
	go ServeUDP(ctx, conn, sink)
}

func ServeUDP(ctx context.Context, conn *net.UDPConn, sink *Sink) {
	defer conn.Close()
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if sink.Logger != nil {
				sink.Logger.Warn("udp read error", "err", err)
			}
			continue
		}
		remote := ""
		if addr != nil {
			remote = addr.String()
		}
		for _, line := range bytes.Split(buf[:n], []byte("\n")) {
			sink.SendLine(ctx, "udp", remote, line)
		}
	}
}
