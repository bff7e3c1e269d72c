package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"netwarden/internal/model"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	Ingest      IngestConfig      `json:"ingest" yaml:"ingest"`
	Ensemble    EnsembleConfig    `json:"ensemble" yaml:"ensemble"`
	Window      WindowConfig      `json:"window" yaml:"window"`
	BruteForce  BruteForceConfig  `json:"brute_force" yaml:"brute_force"`
	State       StateConfig       `json:"state" yaml:"state"`
	Response    ResponseConfig    `json:"response" yaml:"response"`
	Firewall    FirewallConfig    `json:"firewall" yaml:"firewall"`
	Notify      NotifyConfig      `json:"notify" yaml:"notify"`
	Fingerprint FingerprintConfig `json:"fingerprint" yaml:"fingerprint"`
	API         APIConfig         `json:"api" yaml:"api"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Alerts      AlertsConfig      `json:"alerts" yaml:"alerts"`
	Access      AccessConfig      `json:"access_control" yaml:"access_control"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	Workers       int             `json:"workers" yaml:"workers"`
	DedupeWindow  time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
	MaxClockSkew  time.Duration   `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew time.Duration   `json:"max_future_skew" yaml:"max_future_skew"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	UDP           UDPConfig       `json:"udp" yaml:"udp"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Addr      string  `json:"addr" yaml:"addr"`
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst"`
}

type UDPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Addr        string        `json:"addr" yaml:"addr"`
	MaxConns    int           `json:"max_conns" yaml:"max_conns"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type EnsembleConfig struct {
	Weights           WeightsConfig `json:"weights" yaml:"weights"`
	ThreatThreshold   float64       `json:"threat_threshold" yaml:"threat_threshold"`
	BuiltinPredictors bool          `json:"builtin_predictors" yaml:"builtin_predictors"`
}

type WeightsConfig struct {
	Anomaly    float64 `json:"anomaly" yaml:"anomaly"`
	Classifier float64 `json:"classifier" yaml:"classifier"`
	Neural     float64 `json:"neural" yaml:"neural"`
}

func (w WeightsConfig) Sum() float64 {
	return w.Anomaly + w.Classifier + w.Neural
}

type WindowConfig struct {
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Capacity   int           `json:"capacity" yaml:"capacity"`
	MinSamples int           `json:"min_samples" yaml:"min_samples"`
}

type BruteForceConfig struct {
	Threshold int           `json:"threshold" yaml:"threshold"`
	Window    time.Duration `json:"window" yaml:"window"`
}

type StateConfig struct {
	Shards              int           `json:"shards" yaml:"shards"`
	RetentionTTL        time.Duration `json:"retention_ttl" yaml:"retention_ttl"`
	ThreatHits          int           `json:"threat_hits" yaml:"threat_hits"`
	ThreatHitWindow     time.Duration `json:"threat_hit_window" yaml:"threat_hit_window"`
	SingleHitConfidence float64       `json:"single_hit_confidence" yaml:"single_hit_confidence"`
	DecayHalfLife       time.Duration `json:"decay_half_life" yaml:"decay_half_life"`
	RecentLimit         int           `json:"recent_limit" yaml:"recent_limit"`
	PruneInterval       time.Duration `json:"prune_interval" yaml:"prune_interval"`
}

type ResponseConfig struct {
	AutoBlock      bool          `json:"auto_block" yaml:"auto_block"`
	AlertCooldown  time.Duration `json:"alert_cooldown" yaml:"alert_cooldown"`
	DedupWindow    time.Duration `json:"dedup_window" yaml:"dedup_window"`
	QueueSize      int           `json:"queue_size" yaml:"queue_size"`
	Workers        int           `json:"workers" yaml:"workers"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff"`
	CallTimeout    time.Duration `json:"call_timeout" yaml:"call_timeout"`
	ActionLogLimit int           `json:"action_log_limit" yaml:"action_log_limit"`
}

// EffectiveDedupWindow falls back to the alert cooldown when unset.
func (r ResponseConfig) EffectiveDedupWindow() time.Duration {
	if r.DedupWindow > 0 {
		return r.DedupWindow
	}
	return r.AlertCooldown
}

type FirewallConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	Chain  string `json:"chain" yaml:"chain"`
	Sudo   bool   `json:"sudo" yaml:"sudo"`
}

type NotifyConfig struct {
	Log     bool          `json:"log" yaml:"log"`
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"`
	NATS    NATSConfig    `json:"nats" yaml:"nats"`
	Kafka   KafkaSink     `json:"kafka" yaml:"kafka"`
}

type WebhookConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	URL     string        `json:"url" yaml:"url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type NATSConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

type KafkaSink struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type FingerprintConfig struct {
	CertCacheTTL     time.Duration `json:"cert_cache_ttl" yaml:"cert_cache_ttl"`
	CertCacheSize    int           `json:"cert_cache_size" yaml:"cert_cache_size"`
	ProbeTimeout     time.Duration `json:"probe_timeout" yaml:"probe_timeout"`
	ProbeCerts       bool          `json:"probe_certs" yaml:"probe_certs"`
	ProbeConcurrency int           `json:"probe_concurrency" yaml:"probe_concurrency"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	Driver           string        `json:"driver" yaml:"driver"`
	DSN              string        `json:"dsn" yaml:"dsn"`
	SnapshotInterval time.Duration `json:"snapshot_interval" yaml:"snapshot_interval"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

// AccessConfig pins entities regardless of score. Allowlisted entities are
// never auto-blocked; denylisted ones are blacklisted on first sight.
type AccessConfig struct {
	Allowlist []string `json:"allowlist" yaml:"allowlist"`
	Denylist  []string `json:"denylist" yaml:"denylist"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			Workers:       4,
			DedupeWindow:  1 * time.Second,
			MaxClockSkew:  10 * time.Minute,
			MaxFutureSkew: 5 * time.Second,
			REST:          RESTConfig{Enabled: true, Addr: ":8080", RateLimit: 500, Burst: 1000},
			UDP:           UDPConfig{Enabled: false, Addr: ":5514"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000", MaxConns: 64, IdleTimeout: 5 * time.Minute},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Ensemble: EnsembleConfig{
			Weights:         WeightsConfig{Anomaly: 0.3, Classifier: 0.4, Neural: 0.3},
			ThreatThreshold: 0.95,
		},
		Window: WindowConfig{
			Duration:   300 * time.Second,
			Capacity:   1024,
			MinSamples: 10,
		},
		BruteForce: BruteForceConfig{
			Threshold: 5,
			Window:    60 * time.Second,
		},
		State: StateConfig{
			Shards:              64,
			RetentionTTL:        24 * time.Hour,
			ThreatHits:          3,
			ThreatHitWindow:     1 * time.Hour,
			SingleHitConfidence: 0.9,
			DecayHalfLife:       1 * time.Hour,
			RecentLimit:         64,
			PruneInterval:       1 * time.Minute,
		},
		Response: ResponseConfig{
			AutoBlock:      true,
			AlertCooldown:  300 * time.Second,
			QueueSize:      1024,
			Workers:        4,
			MaxRetries:     5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			CallTimeout:    10 * time.Second,
			ActionLogLimit: 5000,
		},
		Firewall: FirewallConfig{Driver: "noop", Chain: "INPUT"},
		Notify: NotifyConfig{
			Log:     true,
			Webhook: WebhookConfig{Timeout: 5 * time.Second},
			NATS:    NATSConfig{URL: "nats://localhost:4222", Subject: "netwarden.alerts"},
		},
		Fingerprint: FingerprintConfig{
			CertCacheTTL:     1 * time.Hour,
			CertCacheSize:    4096,
			ProbeTimeout:     10 * time.Second,
			ProbeConcurrency: 4,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:netwarden.db?_pragma=busy_timeout(5000)", SnapshotInterval: 5 * time.Minute},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = def.Ingest.Workers
	}
	if cfg.Ensemble.ThreatThreshold <= 0 {
		cfg.Ensemble.ThreatThreshold = def.Ensemble.ThreatThreshold
	}
	if cfg.Ensemble.Weights.Sum() == 0 {
		cfg.Ensemble.Weights = def.Ensemble.Weights
	}
	if cfg.Window.Duration <= 0 {
		cfg.Window.Duration = def.Window.Duration
	}
	if cfg.Window.Capacity <= 0 {
		cfg.Window.Capacity = def.Window.Capacity
	}
	if cfg.Window.MinSamples <= 0 {
		cfg.Window.MinSamples = def.Window.MinSamples
	}
	if cfg.BruteForce.Threshold <= 0 {
		cfg.BruteForce.Threshold = def.BruteForce.Threshold
	}
	if cfg.BruteForce.Window <= 0 {
		cfg.BruteForce.Window = def.BruteForce.Window
	}
	if cfg.State.Shards <= 0 {
		cfg.State.Shards = def.State.Shards
	}
	if cfg.State.RetentionTTL <= 0 {
		cfg.State.RetentionTTL = def.State.RetentionTTL
	}
	if cfg.State.ThreatHits <= 0 {
		cfg.State.ThreatHits = def.State.ThreatHits
	}
	if cfg.State.ThreatHitWindow <= 0 {
		cfg.State.ThreatHitWindow = def.State.ThreatHitWindow
	}
	if cfg.State.SingleHitConfidence <= 0 {
		cfg.State.SingleHitConfidence = def.State.SingleHitConfidence
	}
	if cfg.State.RecentLimit <= 0 {
		cfg.State.RecentLimit = def.State.RecentLimit
	}
	if cfg.State.PruneInterval <= 0 {
		cfg.State.PruneInterval = def.State.PruneInterval
	}
	if cfg.Response.AlertCooldown <= 0 {
		cfg.Response.AlertCooldown = def.Response.AlertCooldown
	}
	if cfg.Response.QueueSize <= 0 {
		cfg.Response.QueueSize = def.Response.QueueSize
	}
	if cfg.Response.Workers <= 0 {
		cfg.Response.Workers = def.Response.Workers
	}
	if cfg.Response.MaxRetries <= 0 {
		cfg.Response.MaxRetries = def.Response.MaxRetries
	}
	if cfg.Response.InitialBackoff <= 0 {
		cfg.Response.InitialBackoff = def.Response.InitialBackoff
	}
	if cfg.Response.MaxBackoff <= 0 {
		cfg.Response.MaxBackoff = def.Response.MaxBackoff
	}
	if cfg.Response.CallTimeout <= 0 {
		cfg.Response.CallTimeout = def.Response.CallTimeout
	}
	if cfg.Response.ActionLogLimit <= 0 {
		cfg.Response.ActionLogLimit = def.Response.ActionLogLimit
	}
	if cfg.Firewall.Driver == "" {
		cfg.Firewall.Driver = def.Firewall.Driver
	}
	if cfg.Firewall.Chain == "" {
		cfg.Firewall.Chain = def.Firewall.Chain
	}
	if cfg.Notify.Webhook.Timeout <= 0 {
		cfg.Notify.Webhook.Timeout = def.Notify.Webhook.Timeout
	}
	if cfg.Notify.NATS.Subject == "" {
		cfg.Notify.NATS.Subject = def.Notify.NATS.Subject
	}
	if cfg.Fingerprint.CertCacheTTL <= 0 {
		cfg.Fingerprint.CertCacheTTL = def.Fingerprint.CertCacheTTL
	}
	if cfg.Fingerprint.CertCacheSize <= 0 {
		cfg.Fingerprint.CertCacheSize = def.Fingerprint.CertCacheSize
	}
	if cfg.Fingerprint.ProbeTimeout <= 0 {
		cfg.Fingerprint.ProbeTimeout = def.Fingerprint.ProbeTimeout
	}
	if cfg.Fingerprint.ProbeConcurrency <= 0 {
		cfg.Fingerprint.ProbeConcurrency = def.Fingerprint.ProbeConcurrency
	}
	if cfg.Storage.SnapshotInterval <= 0 {
		cfg.Storage.SnapshotInterval = def.Storage.SnapshotInterval
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.UDP.Enabled && cfg.Ingest.UDP.Addr == "" {
		return errors.New("ingest.udp.addr required when ingest.udp.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	w := cfg.Ensemble.Weights
	if w.Anomaly < 0 || w.Classifier < 0 || w.Neural < 0 {
		return errors.New("ensemble.weights must be non-negative")
	}
	if math.Abs(w.Sum()-1.0) > 1e-6 {
		return fmt.Errorf("ensemble.weights must sum to 1.0, got %.4f", w.Sum())
	}
	if cfg.Ensemble.ThreatThreshold <= 0 || cfg.Ensemble.ThreatThreshold > 1 {
		return errors.New("ensemble.threat_threshold must be in (0, 1]")
	}
	if cfg.State.SingleHitConfidence > 1 {
		return errors.New("state.single_hit_confidence must be <= 1")
	}
	switch strings.ToLower(cfg.Firewall.Driver) {
	case "noop", "iptables", "netsh":
	default:
		return fmt.Errorf("unsupported firewall.driver: %s", cfg.Firewall.Driver)
	}
	if cfg.Notify.Webhook.Enabled && cfg.Notify.Webhook.URL == "" {
		return errors.New("notify.webhook.url required when notify.webhook.enabled is true")
	}
	if cfg.Notify.NATS.Enabled && cfg.Notify.NATS.URL == "" {
		return errors.New("notify.nats.url required when notify.nats.enabled is true")
	}
	if cfg.Notify.Kafka.Enabled && (len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "") {
		return errors.New("notify.kafka requires brokers and topic")
	}
	for _, entry := range append(append([]string(nil), cfg.Access.Allowlist...), cfg.Access.Denylist...) {
		if _, err := model.ParseEntityKey(entry); err != nil {
			return fmt.Errorf("access_control: %w", err)
		}
	}
	return nil
}
