// Package engine wires the pipeline: classification, feature extraction,
// fingerprinting, ensemble scoring, per-entity state, window and brute-force
// detection, and the response engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"netwarden/internal/alerts"
	"netwarden/internal/bruteforce"
	"netwarden/internal/classify"
	"netwarden/internal/config"
	"netwarden/internal/ensemble"
	"netwarden/internal/features"
	"netwarden/internal/fingerprint"
	"netwarden/internal/logging"
	"netwarden/internal/metrics"
	"netwarden/internal/model"
	"netwarden/internal/response"
	"netwarden/internal/state"
	"netwarden/internal/storage"
	"netwarden/internal/window"
)

var (
	ErrUnknownEntity  = errors.New("unknown entity")
	ErrNotBlacklisted = errors.New("entity is not blacklisted")
)

// Deps carries the collaborators an Engine does not build itself. Every
// field is optional.
type Deps struct {
	Metrics    *metrics.Store
	Collectors *metrics.Collectors
	Alerts     *alerts.Store
	Store      storage.Store
	Firewall   response.Firewall
	Notifier   response.Notifier
	Prober     fingerprint.Prober
	Predictors []ensemble.Predictor
	Clock      func() time.Time
}

type Engine struct {
	logger     *slog.Logger
	cfg        atomic.Value
	access     atomic.Value
	classifier *classify.Classifier
	matcher    *fingerprint.Matcher
	certs      *fingerprint.CertValidator
	scorer     *ensemble.Scorer
	windows    *window.Aggregator
	state      *state.Store
	detector   *bruteforce.Detector
	response   *response.Engine
	metrics    *metrics.Store
	prom       *metrics.Collectors
	alerts     *alerts.Store
	store      storage.Store
	cooldown   *alertGate
	deDupe     *DedupeCache
	now        func() time.Time
	started    time.Time

	probeSlots chan struct{}
	probes     sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewEngine(cfg *config.Config, logger *slog.Logger, deps Deps) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	scorer, err := ensemble.New(ensembleWeights(cfg), cfg.Ensemble.ThreatThreshold)
	if err != nil {
		return nil, fmt.Errorf("ensemble: %w", err)
	}
	predictors := deps.Predictors
	if cfg.Ensemble.BuiltinPredictors {
		predictors = append(ensemble.Builtin(), predictors...)
	}
	for _, p := range predictors {
		if err := scorer.Register(p); err != nil {
			return nil, fmt.Errorf("register predictor: %w", err)
		}
	}

	e := &Engine{
		logger:     logger,
		classifier: classify.New(),
		matcher:    fingerprint.NewMatcher(nil),
		certs: fingerprint.NewCertValidator(deps.Prober, cfg.Fingerprint.CertCacheSize,
			cfg.Fingerprint.CertCacheTTL, cfg.Fingerprint.ProbeTimeout),
		scorer:     scorer,
		windows:    window.New(windowConfig(cfg)),
		state:      state.New(cfg.State.Shards, statePolicy(cfg)),
		metrics:    deps.Metrics,
		prom:       deps.Collectors,
		alerts:     deps.Alerts,
		store:      deps.Store,
		cooldown:   newAlertGate(),
		deDupe:     NewDedupeCache(),
		now:        now,
		started:    now(),
		probeSlots: make(chan struct{}, max(cfg.Fingerprint.ProbeConcurrency, 1)),
	}
	if e.metrics == nil {
		e.metrics = metrics.NewStore(0)
	}
	if e.prom == nil {
		e.prom = metrics.NewCollectors(nil)
	}
	if e.alerts == nil {
		e.alerts = alerts.NewStore(cfg.Alerts.StoreLimit)
	}
	e.detector = bruteforce.NewDetector(e.state, trackerPolicy(cfg))
	e.response = response.New(deps.Firewall, deps.Notifier, responseConfig(cfg), logging.Component(logger, "response"),
		response.WithClock(now),
		response.WithObserver(e.observeAction),
	)
	e.cfg.Store(cfg)
	e.access.Store(buildAccessControl(cfg))
	return e, nil
}

func ensembleWeights(cfg *config.Config) ensemble.Weights {
	w := cfg.Ensemble.Weights
	return ensemble.Weights{Anomaly: w.Anomaly, Classifier: w.Classifier, Neural: w.Neural}
}

func windowConfig(cfg *config.Config) window.Config {
	return window.Config{
		Duration:   cfg.Window.Duration,
		Capacity:   cfg.Window.Capacity,
		MinSamples: cfg.Window.MinSamples,
		Shards:     cfg.State.Shards,
	}
}

func trackerPolicy(cfg *config.Config) bruteforce.Policy {
	return bruteforce.Policy{
		Threshold: cfg.BruteForce.Threshold,
		Window:    cfg.BruteForce.Window,
		Cooldown:  cfg.Response.AlertCooldown,
	}
}

func statePolicy(cfg *config.Config) state.Policy {
	return state.Policy{
		ThreatHits:          cfg.State.ThreatHits,
		HitWindow:           cfg.State.ThreatHitWindow,
		SingleHitConfidence: cfg.State.SingleHitConfidence,
		HalfLife:            cfg.State.DecayHalfLife,
		RecentLimit:         cfg.State.RecentLimit,
		RetentionTTL:        cfg.State.RetentionTTL,
		Tracker:             trackerPolicy(cfg),
	}
}

func responseConfig(cfg *config.Config) response.Config {
	r := cfg.Response
	return response.Config{
		DedupWindow:    r.EffectiveDedupWindow(),
		QueueSize:      r.QueueSize,
		Workers:        r.Workers,
		MaxRetries:     r.MaxRetries,
		InitialBackoff: r.InitialBackoff,
		MaxBackoff:     r.MaxBackoff,
		CallTimeout:    r.CallTimeout,
		LogLimit:       r.ActionLogLimit,
	}
}

// UpdateConfig applies a reloaded configuration. Shard counts, queue size
// and worker counts keep their startup values.
func (e *Engine) UpdateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := e.scorer.Configure(ensembleWeights(cfg), cfg.Ensemble.ThreatThreshold); err != nil {
		return fmt.Errorf("ensemble: %w", err)
	}
	e.syncBuiltinPredictors(cfg.Ensemble.BuiltinPredictors)
	e.windows.SetConfig(windowConfig(cfg))
	e.state.SetPolicy(statePolicy(cfg))
	e.detector.SetPolicy(trackerPolicy(cfg))
	e.response.SetConfig(responseConfig(cfg))
	e.cfg.Store(cfg)
	e.access.Store(buildAccessControl(cfg))
	if e.logger != nil {
		e.logger.Info("engine config updated")
	}
	return nil
}

// syncBuiltinPredictors registers or removes the reference predictors to
// follow ensemble.builtin_predictors on reload.
func (e *Engine) syncBuiltinPredictors(enabled bool) {
	registered := map[string]bool{}
	for _, name := range e.scorer.Predictors() {
		registered[name] = true
	}
	for _, p := range ensemble.Builtin() {
		switch {
		case enabled && !registered[p.Name()]:
			if err := e.scorer.Register(p); err != nil {
				if e.logger != nil {
					e.logger.Warn("builtin predictor not registered", "predictor", p.Name(), "err", err)
				}
				continue
			}
		case !enabled && registered[p.Name()]:
			e.scorer.Unregister(p.Name())
		default:
			continue
		}
		if e.logger != nil {
			e.logger.Info("builtin predictor toggled", "predictor", p.Name(), "enabled", enabled)
		}
	}
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) accessSet() *AccessControlSet {
	if v := e.access.Load(); v != nil {
		if ac, ok := v.(*AccessControlSet); ok {
			return ac
		}
	}
	return nil
}

// Start runs the ingest workers, the response dispatchers and the
// maintenance loop until ctx is done or Shutdown is called.
func (e *Engine) Start(ctx context.Context, in <-chan model.RawInput) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.group != nil {
		return
	}
	cfg := e.config()
	ctx, e.cancel = context.WithCancel(ctx)
	e.response.Start(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Ingest.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case raw, ok := <-in:
					if !ok {
						return nil
					}
					e.ProcessRaw(raw)
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	g.Go(func() error {
		e.maintenanceLoop(gctx)
		return nil
	})
	e.group = g
}

func (e *Engine) maintenanceLoop(ctx context.Context) {
	cfg := e.config()
	prune := time.NewTicker(max(cfg.State.PruneInterval, time.Second))
	defer prune.Stop()
	var snapshot <-chan time.Time
	if e.store != nil {
		t := time.NewTicker(max(cfg.Storage.SnapshotInterval, time.Second))
		defer t.Stop()
		snapshot = t.C
	}
	for {
		select {
		case <-prune.C:
			e.Maintain(e.now())
		case <-snapshot:
			if err := e.SaveSnapshot(ctx); err != nil && e.logger != nil {
				e.logger.Warn("snapshot save failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops the workers after their current event, drains the
// response queue within ctx and writes a final snapshot.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	cancel, g := e.cancel, e.group
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	var errs []error
	if g != nil {
		errs = append(errs, g.Wait())
	}
	e.probes.Wait()
	errs = append(errs, e.response.Shutdown(ctx))
	if e.store != nil {
		if err := e.SaveSnapshot(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final snapshot: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Result describes what one event did to the system.
type Result struct {
	Event       model.NetworkEvent
	Key         model.EntityKey
	Duplicate   bool
	Score       model.ScoreResult
	Record      model.ThreatRecord
	Verdict     window.Verdict
	Predictive  float64
	Fingerprint *model.FingerprintMatch
	Risk        *fingerprint.RiskAssessment
	TLS         *fingerprint.HandshakeAnalysis
	Tracker     *bruteforce.Outcome
	Alerts      []model.Alert
	Actions     []model.Action
}

// ProcessRaw classifies raw and runs the resulting event through the
// pipeline. Unrecognized input is counted and dropped.
func (e *Engine) ProcessRaw(raw model.RawInput) (Result, error) {
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = e.now()
	}
	ev, err := e.classifier.Classify(raw)
	if err != nil {
		e.prom.UnrecognizedTotal.Inc()
		if e.logger != nil {
			e.logger.Debug("input dropped", "source", raw.Source, "remote", raw.Remote, "err", err)
		}
		return Result{}, err
	}
	return e.ProcessEvent(ev), nil
}

func (e *Engine) ProcessEvent(ev model.NetworkEvent) Result {
	cfg := e.config()
	now := e.now()
	ev.Timestamp = clampTimestamp(ev.Timestamp, now, cfg.Ingest.MaxClockSkew, cfg.Ingest.MaxFutureSkew)

	res := Result{Event: ev}
	if e.deDupe.Seen(ev, now, cfg.Ingest.DedupeWindow) {
		res.Duplicate = true
		return res
	}
	e.prom.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	key, ok := entityKeyFor(ev)
	if !ok {
		return res
	}
	res.Key = key
	at := ev.Timestamp
	ac := e.accessSet()

	fv := features.Extract(ev)
	score := e.scorer.Score(fv)
	res.Score = score
	e.prom.ScoresTotal.WithLabelValues(string(score.Method), strconv.FormatBool(score.IsThreat)).Inc()
	if score.Method == model.MethodError && e.logger != nil {
		e.logger.Warn("ensemble scoring failed", "entity_key", key.String(), "err", score.Error)
	}

	tr := e.state.ApplyScore(key, score, at)
	if tr.Reset != nil {
		e.prom.StateResetsTotal.Inc()
		if e.logger != nil {
			e.logger.Warn("entity record reset", "entity_key", key.String(), "err", tr.Reset)
		}
	}
	reason := "threat_score"
	if ac.IsDenied(entityKeys(ev)...) && !tr.Record.Blacklisted {
		if e.state.MarkBlacklisted(key, true, at) {
			tr.Blacklisted = true
			tr.Record.Blacklisted = true
			reason = "denylisted"
		}
	}
	res.Record = tr.Record
	if tr.Blacklisted {
		e.onBlacklisted(&res, ev, ac, reason)
	} else if score.IsThreat {
		e.raise(&res, model.Alert{
			Timestamp: at,
			EntityKey: key.String(),
			Severity:  "high",
			AlertType: "threat_score",
			Score:     score.Score,
			Rules:     []string{"ensemble_threshold"},
			Context: map[string]string{
				"confidence": strconv.FormatFloat(score.Confidence, 'f', 3, 64),
				"kind":       string(ev.Kind),
			},
		})
	}

	res.Verdict = e.windows.Observe(key, at, fv)
	e.metrics.Update(key.String(), res.Verdict, at)
	res.Predictive = e.state.PredictiveScore(key, at, res.Verdict.AvgPacketRate, res.Verdict.AvgByteRate)
	e.evaluatePatterns(&res)

	switch ev.Kind {
	case model.KindAuthFrame:
		e.evaluateAuth(&res, ev)
	case model.KindDeviceSighting:
		e.evaluateDevice(&res, ev)
	case model.KindTLSHandshake:
		e.evaluateTLS(&res, ev)
	}
	return res
}

func (e *Engine) onBlacklisted(res *Result, ev model.NetworkEvent, ac *AccessControlSet, reason string) {
	cfg := e.config()
	key := res.Key
	e.raise(res, model.Alert{
		Timestamp: ev.Timestamp,
		EntityKey: key.String(),
		Severity:  "critical",
		AlertType: "entity_blacklisted",
		Score:     res.Record.Score,
		Rules:     []string{reason},
		Context: map[string]string{
			"hit_count":   strconv.Itoa(res.Record.HitCount),
			"threat_hits": strconv.Itoa(res.Record.ThreatHits),
		},
	})
	if !cfg.Response.AutoBlock || key.Kind != model.KeyIP {
		return
	}
	if ac.IsAllowed(entityKeys(ev)...) {
		if e.logger != nil {
			e.logger.Info("auto-block skipped for allowlisted entity", "entity_key", key.String())
		}
		return
	}
	a := e.response.Submit(response.Request{
		Type:   model.ActionBlock,
		Target: key,
		Reason: reason,
	})
	res.Actions = append(res.Actions, a)
}

func (e *Engine) evaluatePatterns(res *Result) {
	v := res.Verdict
	if !v.Sufficient || len(v.Patterns) == 0 {
		return
	}
	rules := make([]string, 0, len(v.Patterns))
	for _, p := range v.Patterns {
		e.prom.PatternsTotal.WithLabelValues(string(p)).Inc()
		rules = append(rules, string(p))
	}
	e.raise(res, model.Alert{
		Timestamp: res.Event.Timestamp,
		EntityKey: res.Key.String(),
		Severity:  patternSeverity(v.Severity),
		AlertType: "behavioral_pattern",
		Score:     res.Predictive,
		Rules:     rules,
		Context: map[string]string{
			"samples":         strconv.Itoa(v.Samples),
			"avg_packet_rate": strconv.FormatFloat(v.AvgPacketRate, 'f', 2, 64),
			"max_conn_count":  strconv.FormatFloat(v.MaxConnCount, 'f', 0, 64),
		},
	})
}

func patternSeverity(n int) string {
	switch {
	case n >= 3:
		return "critical"
	case n == 2:
		return "high"
	}
	return "medium"
}

func (e *Engine) evaluateAuth(res *Result, ev model.NetworkEvent) {
	if !ev.Auth.Qualifying() {
		return
	}
	macKey, ok := model.MACKey(ev.SrcMAC)
	if !ok {
		return
	}
	mac := macKey.Value
	out := e.detector.Attempt(mac, ev.Timestamp)
	res.Tracker = &out
	if out.Reset {
		e.prom.StateResetsTotal.Inc()
		if e.logger != nil {
			e.logger.Warn("brute-force tracker reset", "mac", mac)
		}
	}
	if !out.Alert {
		return
	}
	e.prom.BruteForceAlerts.Inc()
	ctx := map[string]string{
		"attempts": strconv.Itoa(out.Attempts),
		"subtype":  ev.Auth.Subtype,
	}
	if ev.Auth.BSSID != "" {
		ctx["bssid"] = ev.Auth.BSSID
	}
	e.raise(res, model.Alert{
		Timestamp: ev.Timestamp,
		EntityKey: macKey.String(),
		Severity:  "critical",
		AlertType: "auth_bruteforce",
		Rules:     []string{"auth_frame_threshold"},
		Context:   ctx,
	})
}

func (e *Engine) evaluateDevice(res *Result, ev model.NetworkEvent) {
	match, ok := e.matcher.Match(fingerprint.ObservationFrom(ev))
	if !ok {
		return
	}
	risk := fingerprint.AssessRisk(match)
	res.Fingerprint = &match
	res.Risk = &risk
	if !risk.Elevated() {
		return
	}
	e.raise(res, model.Alert{
		Timestamp: ev.Timestamp,
		EntityKey: res.Key.String(),
		Severity:  strings.ToLower(risk.Level),
		AlertType: "iot_high_risk",
		Score:     float64(risk.Score) / 10,
		Rules:     []string{"device_fingerprint"},
		Context: map[string]string{
			"device":     match.DeviceKey,
			"vendor":     match.Vendor,
			"type":       match.DeviceType,
			"confidence": strconv.FormatFloat(match.Confidence, 'f', 1, 64),
		},
	})
}

func (e *Engine) evaluateTLS(res *Result, ev model.NetworkEvent) {
	if ev.TLS == nil {
		return
	}
	analysis, ok := fingerprint.AnalyzeHandshake(ev.TLS.Record)
	if !ok {
		analysis, ok = fingerprint.AnalyzeVersion(ev.TLS.Version)
	}
	server := ev.TLS.ServerName
	if server == "" {
		server = analysis.ServerName
	}
	if ok {
		if analysis.ServerName == "" {
			analysis.ServerName = server
		}
		res.TLS = &analysis
	}
	alertKey := res.Key
	if dk, ok := model.DomainKey(server); ok {
		alertKey = dk
	}
	if ok && analysis.Deprecated() {
		e.raise(res, model.Alert{
			Timestamp: ev.Timestamp,
			EntityKey: alertKey.String(),
			Severity:  "medium",
			AlertType: "weak_tls",
			Score:     float64(analysis.SecurityScore) / 100,
			Rules:     []string{"deprecated_protocol"},
			Context: map[string]string{
				"version": analysis.Version,
				"client":  ev.SrcIP,
			},
		})
	}
	if e.config().Fingerprint.ProbeCerts && alertKey.Kind == model.KeyDomain {
		e.probeCertificate(alertKey, ev.DstPort)
	}
}

// probeCertificate validates the server certificate off the hot path. When
// every probe slot is busy the sighting is skipped; the next one retries.
func (e *Engine) probeCertificate(domain model.EntityKey, port int) {
	select {
	case e.probeSlots <- struct{}{}:
	default:
		return
	}
	e.probes.Add(1)
	go func() {
		defer e.probes.Done()
		defer func() { <-e.probeSlots }()
		cfg := e.config()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Fingerprint.ProbeTimeout)
		defer cancel()
		report := e.certs.Validate(ctx, domain.Value, port)
		if report.Result != fingerprint.ProbeConfirmed {
			return
		}
		var res Result
		e.raise(&res, model.Alert{
			Timestamp: report.CheckedAt,
			EntityKey: domain.String(),
			Severity:  "high",
			AlertType: "invalid_certificate",
			Rules:     report.Findings,
			Context: map[string]string{
				"issuer":         report.Issuer,
				"fingerprint":    report.Fingerprint,
				"days_remaining": strconv.Itoa(report.DaysRemaining),
			},
		})
	}()
}

// raise records alert unless the same (entity, alert type) fired within the
// alert cooldown, and asks the response engine to notify.
func (e *Engine) raise(res *Result, alert model.Alert) {
	cfg := e.config()
	if !e.cooldown.allow(alert.EntityKey, alert.AlertType, alert.Timestamp, cfg.Response.AlertCooldown) {
		return
	}
	res.Alerts = append(res.Alerts, alert)
	e.alerts.Add(alert)
	e.prom.AlertsTotal.WithLabelValues(alert.AlertType, alert.Severity).Inc()
	if e.logger != nil {
		e.logger.Warn("alert raised",
			"entity_key", alert.EntityKey,
			"alert_type", alert.AlertType,
			"severity", alert.Severity,
			"rules", alert.Rules,
			"score", alert.Score,
		)
	}
	if e.store != nil {
		if err := e.store.SaveAlert(context.Background(), alert); err != nil && e.logger != nil {
			e.logger.Warn("alert persist failed", "err", err)
		}
	}
	target, err := model.ParseEntityKey(alert.EntityKey)
	if err != nil {
		return
	}
	a := e.response.Submit(response.Request{
		Type:    model.ActionAlert,
		Target:  target,
		Reason:  alert.AlertType,
		Message: alertMessage(alert),
	})
	res.Actions = append(res.Actions, a)
}

func alertMessage(a model.Alert) string {
	msg := fmt.Sprintf("[%s] %s on %s", strings.ToUpper(a.Severity), a.AlertType, a.EntityKey)
	if len(a.Rules) > 0 {
		msg += " (" + strings.Join(a.Rules, ", ") + ")"
	}
	return msg
}

func (e *Engine) observeAction(a model.Action) {
	e.prom.ActionsTotal.WithLabelValues(string(a.Type), string(a.Status)).Inc()
	if e.store == nil || a.Status == model.StatusDeduplicated {
		return
	}
	if err := e.store.SaveAction(context.Background(), a); err != nil && e.logger != nil {
		e.logger.Warn("action persist failed", "action_id", a.ID, "err", err)
	}
}

// Unblock clears an entity's blacklist flag and, for IP entities, removes
// the firewall rule.
func (e *Engine) Unblock(key model.EntityKey) (model.Action, error) {
	rec, ok := e.state.Get(key)
	if !ok {
		return model.Action{}, fmt.Errorf("%w: %s", ErrUnknownEntity, key.String())
	}
	if !rec.Blacklisted {
		return model.Action{}, fmt.Errorf("%w: %s", ErrNotBlacklisted, key.String())
	}
	e.state.MarkBlacklisted(key, false, e.now())
	if e.logger != nil {
		e.logger.Info("entity unblocked", "entity_key", key.String())
	}
	if key.Kind != model.KeyIP {
		return model.Action{}, nil
	}
	return e.response.Submit(response.Request{
		Type:   model.ActionUnblock,
		Target: key,
		Reason: "manual unblock",
	}), nil
}

// Maintain prunes idle state and refreshes the gauges.
func (e *Engine) Maintain(now time.Time) {
	cfg := e.config()
	stats := e.state.Prune(now)
	windows := e.windows.Prune(now)
	verdicts := e.metrics.Forget(now.Add(-cfg.State.RetentionTTL))
	e.cooldown.forget(now, cfg.Response.AlertCooldown)
	e.refreshGauges()
	if e.logger != nil && (stats.Records > 0 || stats.Trackers > 0 || windows > 0) {
		e.logger.Debug("state pruned",
			"records", stats.Records,
			"trackers", stats.Trackers,
			"windows", windows,
			"verdicts", verdicts,
		)
	}
}

func (e *Engine) refreshGauges() {
	c := e.state.Counts()
	e.prom.TrackedEntities.Set(float64(c.Records))
	e.prom.BlacklistedEntities.Set(float64(c.Blacklisted))
	e.prom.ActiveTrackers.Set(float64(c.Trackers))
	e.prom.QueueDepth.Set(float64(e.response.QueueDepth()))
}

func (e *Engine) SaveSnapshot(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	return e.store.SaveSnapshot(ctx, e.state.Snapshot())
}

// Restore seeds the state store from the last snapshot and re-applies blocks
// for blacklisted IP entities.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	records, err := e.store.LoadSnapshot(ctx)
	cfg := e.config()
	for _, rec := range records {
		e.state.Restore(rec)
		if rec.Blacklisted && cfg.Response.AutoBlock && rec.Key.Kind == model.KeyIP &&
			!e.accessSet().IsAllowed(rec.Key) {
			e.response.Submit(response.Request{Type: model.ActionBlock, Target: rec.Key, Reason: "restored"})
		}
	}
	if e.logger != nil {
		e.logger.Info("state restored", "records", len(records))
	}
	return len(records), err
}

// entityKeyFor picks the key an event is tracked under.
func entityKeyFor(ev model.NetworkEvent) (model.EntityKey, bool) {
	switch ev.Kind {
	case model.KindFlow:
		return model.IPKey(ev.SrcIP)
	case model.KindAuthFrame:
		return model.MACKey(ev.SrcMAC)
	case model.KindTLSHandshake:
		if k, ok := model.IPKey(ev.SrcIP); ok {
			return k, true
		}
		if ev.TLS != nil {
			return model.DomainKey(ev.TLS.ServerName)
		}
	case model.KindDeviceSighting:
		if k, ok := model.MACKey(ev.SrcMAC); ok {
			return k, true
		}
		return model.IPKey(ev.SrcIP)
	}
	return model.EntityKey{}, false
}

// entityKeys lists every identity an event carries, for access-list checks.
func entityKeys(ev model.NetworkEvent) []model.EntityKey {
	var out []model.EntityKey
	if k, ok := model.IPKey(ev.SrcIP); ok {
		out = append(out, k)
	}
	if k, ok := model.MACKey(ev.SrcMAC); ok {
		out = append(out, k)
	}
	if ev.TLS != nil {
		if k, ok := model.DomainKey(ev.TLS.ServerName); ok {
			out = append(out, k)
		}
	}
	return out
}

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 && now.Sub(ts) > maxPast {
		return now
	}
	if maxFuture > 0 && ts.Sub(now) > maxFuture {
		return now
	}
	return ts
}

type Status struct {
	Started     time.Time      `json:"started"`
	Uptime      string         `json:"uptime"`
	Classifier  classify.Stats `json:"classifier"`
	Entities    state.Counts   `json:"entities"`
	Windows     int            `json:"windows"`
	Alerts      int            `json:"alerts"`
	Suppressed  uint64         `json:"alerts_suppressed"`
	QueueDepth  int            `json:"queue_depth"`
	Predictors  []string       `json:"predictors"`
	AutoBlock   bool           `json:"auto_block"`
	ProbeCerts  bool           `json:"probe_certs"`
	Persistence bool           `json:"persistence"`
}

func (e *Engine) Status() Status {
	cfg := e.config()
	now := e.now()
	return Status{
		Started:     e.started,
		Uptime:      now.Sub(e.started).Truncate(time.Second).String(),
		Classifier:  e.classifier.Stats(),
		Entities:    e.state.Counts(),
		Windows:     e.windows.Len(),
		Alerts:      e.alerts.Len(),
		Suppressed:  e.cooldown.suppressedTotal(),
		QueueDepth:  e.response.QueueDepth(),
		Predictors:  e.scorer.Predictors(),
		AutoBlock:   cfg.Response.AutoBlock,
		ProbeCerts:  cfg.Fingerprint.ProbeCerts,
		Persistence: e.store != nil,
	}
}

// Entities lists tracked records ordered by key.
func (e *Engine) Entities(blacklistedOnly bool) []model.ThreatRecord {
	all := e.state.Snapshot()
	if !blacklistedOnly {
		return all
	}
	out := all[:0]
	for _, rec := range all {
		if rec.Blacklisted {
			out = append(out, rec)
		}
	}
	return out
}

// EntityReport combines everything known about one entity. Verdict is the
// one produced by the entity's last event; Window re-evaluates the live
// window at report time, so it shows samples ageing out.
type EntityReport struct {
	Record       model.ThreatRecord    `json:"record"`
	Verdict      *window.Verdict       `json:"verdict,omitempty"`
	VerdictAt    *time.Time            `json:"verdict_at,omitempty"`
	Window       window.Verdict        `json:"window"`
	Predictive   float64               `json:"predictive_score"`
	Tracker      *model.TrackerSummary `json:"tracker,omitempty"`
	Alerts       []model.Alert         `json:"alerts"`
	RecentAlerts int                   `json:"alerts_last_hour"`
}

func (e *Engine) Entity(key model.EntityKey) (EntityReport, bool) {
	rec, ok := e.state.Get(key)
	if !ok {
		return EntityReport{}, false
	}
	now := e.now()
	report := EntityReport{
		Record:       rec,
		Window:       e.windows.Evaluate(key, now),
		Alerts:       e.alerts.ByEntity(key.String()),
		RecentAlerts: e.alerts.CountSince(key.String(), now.Add(-time.Hour)),
	}
	var avgPkt, avgByte float64
	if v, at, ok := e.metrics.Get(key.String()); ok {
		report.Verdict = &v
		report.VerdictAt = &at
		avgPkt, avgByte = v.AvgPacketRate, v.AvgByteRate
	}
	report.Predictive = e.state.PredictiveScore(key, now, avgPkt, avgByte)
	if key.Kind == model.KeyMAC {
		for _, t := range e.state.Trackers(now) {
			if t.MAC == key.Value {
				report.Tracker = &t
				break
			}
		}
	}
	return report, true
}

func (e *Engine) Trackers() []model.TrackerSummary {
	return e.state.Trackers(e.now())
}

func (e *Engine) Verdicts() map[string]window.Verdict {
	return e.metrics.GetAll()
}

func (e *Engine) Actions(limit int) []model.Action {
	return e.response.Actions(limit)
}

func (e *Engine) Action(id string) (model.Action, bool) {
	return e.response.Action(id)
}

func (e *Engine) Alerts(limit int) []model.Alert {
	return e.alerts.List(limit)
}

func (e *Engine) AlertsSince(ts time.Time) []model.Alert {
	return e.alerts.Since(ts)
}

func (e *Engine) ClearAlerts() {
	e.alerts.Clear()
}
