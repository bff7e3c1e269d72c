package actuator

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"netwarden/internal/config"
	"netwarden/internal/response"
)

func NewFirewall(cfg config.FirewallConfig, logger *slog.Logger) (response.Firewall, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "noop":
		return NewNoop(logger), nil
	case "iptables":
		return NewIPTables(cfg.Chain, cfg.Sudo, logger), nil
	case "netsh":
		return NewNetsh(logger), nil
	}
	return nil, fmt.Errorf("unsupported firewall driver %q", cfg.Driver)
}

// NewNotifier builds the configured notifiers. The returned close func
// releases broker connections and is safe to call when nothing was opened.
func NewNotifier(cfg config.NotifyConfig, logger *slog.Logger) (response.Notifier, func() error, error) {
	var out Multi
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	if cfg.Log {
		out = append(out, NewLog(logger))
	}
	if cfg.Webhook.Enabled {
		out = append(out, NewWebhook(cfg.Webhook.URL, cfg.Webhook.Timeout))
	}
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("netwarden-notifier"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if logger != nil && err != nil {
					logger.Warn("nats disconnected", "err", err)
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				if logger != nil {
					logger.Info("nats reconnected", "url", nc.ConnectedUrl())
				}
			}),
		)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("connect nats %s: %w", cfg.NATS.URL, err)
		}
		closers = append(closers, func() error {
			nc.Close()
			return nil
		})
		out = append(out, NewNATS(nc, cfg.NATS.Subject))
	}
	if cfg.Kafka.Enabled {
		w := NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, w.Close)
		out = append(out, NewKafka(w))
	}
	if len(out) == 1 {
		return out[0], closeAll, nil
	}
	return out, closeAll, nil
}
