package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"netwarden/internal/actuator"
	"netwarden/internal/alerts"
	"netwarden/internal/api"
	"netwarden/internal/config"
	"netwarden/internal/engine"
	"netwarden/internal/fingerprint"
	"netwarden/internal/ingest"
	"netwarden/internal/logging"
	"netwarden/internal/metrics"
	"netwarden/internal/model"
	"netwarden/internal/storage"
)

var version = "dev"

func main() {
	var (
		configPath    string
		watchInterval time.Duration
		drainTimeout  time.Duration
		showVersion   bool
	)
	flag.StringVar(&configPath, "config", "netwarden.yaml", "Path to the YAML or JSON config file.")
	flag.DurationVar(&watchInterval, "config.poll", 3*time.Second, "Fallback poll interval for config changes.")
	flag.DurationVar(&drainTimeout, "shutdown.timeout", 15*time.Second, "How long to drain pending actions on shutdown.")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit.")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}
	if err := run(config.ResolvePath(configPath), watchInterval, drainTimeout); err != nil {
		fmt.Fprintln(os.Stderr, "netwarden:", err)
		os.Exit(1)
	}
}

func run(configPath string, watchInterval, drainTimeout time.Duration) error {
	mgr, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting netwarden", "version", version, "config", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewCollectors(reg)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer store.Close()
	}

	firewall, err := actuator.NewFirewall(cfg.Firewall, logging.Component(logger, "firewall"))
	if err != nil {
		return fmt.Errorf("firewall: %w", err)
	}
	notifier, closeNotifier, err := actuator.NewNotifier(cfg.Notify, logging.Component(logger, "notify"))
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			logger.Warn("notifier close failed", "err", err)
		}
	}()

	eng, err := engine.NewEngine(cfg, logging.Component(logger, "engine"), engine.Deps{
		Metrics:    metrics.NewStore(0),
		Collectors: prom,
		Alerts:     alerts.NewStore(cfg.Alerts.StoreLimit),
		Store:      store,
		Firewall:   firewall,
		Notifier:   notifier,
		Prober:     fingerprint.TLSProber{Timeout: cfg.Fingerprint.ProbeTimeout},
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if n, err := eng.Restore(ctx); err != nil {
		logger.Warn("snapshot restore incomplete", "restored", n, "err", err)
	}

	in := make(chan model.RawInput, cfg.Ingest.ChannelBuffer)
	sink := &ingest.Sink{
		Out:    in,
		Logger: logging.Component(logger, "ingest"),
		OnDrop: func(source string) { prom.DroppedTotal.WithLabelValues("channel_full").Inc() },
	}
	eng.Start(ctx, in)

	ingest.StartREST(ctx, mgr, sink)
	ingest.StartUDP(ctx, mgr, sink)
	ingest.StartTCPStream(ctx, mgr, sink)
	ingest.StartFileTail(ctx, mgr, sink)
	ingest.StartKafka(ctx, mgr, sink)
	api.Start(ctx, mgr, eng, reg, logging.Component(logger, "api"), version)

	go mgr.Watch(watchInterval, func(next *config.Config) {
		if err := eng.UpdateConfig(next); err != nil {
			logger.Error("config reload rejected", "err", err)
			return
		}
		logger.Info("config reloaded")
	}, func(err error) {
		logger.Warn("config watch error", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	logger.Info("shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := eng.Shutdown(drainCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("shutdown incomplete", "err", err)
	}
	logger.Info("stopped")
	return nil
}
