// Package response turns decisions into enforcement. Requests are
// deduplicated per (target, action type), queued without blocking the
// caller, and dispatched to a Firewall or Notifier by a worker pool that
// retries transient failures with exponential backoff.
package response

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"netwarden/internal/model"
)

type Firewall interface {
	Block(ctx context.Context, ip string) error
	Unblock(ctx context.Context, ip string) error
}

type Notifier interface {
	Send(ctx context.Context, message string) error
}

var (
	// ErrInvalidTarget marks a request no retry can fix.
	ErrInvalidTarget = errors.New("invalid action target")
	// ErrNoActuator marks a request with no configured firewall or notifier.
	ErrNoActuator = errors.New("no actuator configured")
)

const (
	reasonQueueFull = "dispatch queue full"
	reasonStopped   = "response engine stopped"
)

type Config struct {
	DedupWindow    time.Duration
	QueueSize      int
	Workers        int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
	LogLimit       int
}

func DefaultConfig() Config {
	return Config{
		DedupWindow:    300 * time.Second,
		QueueSize:      1024,
		Workers:        4,
		MaxRetries:     5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		CallTimeout:    10 * time.Second,
		LogLimit:       5000,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.LogLimit <= 0 {
		c.LogLimit = d.LogLimit
	}
	return c
}

// Request asks for one action. Message is the notifier payload for alerts;
// it defaults to Reason.
type Request struct {
	Type    model.ActionType
	Target  model.EntityKey
	Reason  string
	Message string
}

type job struct {
	id      string
	req     Request
	idemKey string
}

type Engine struct {
	firewall Firewall
	notifier Notifier
	logger   *slog.Logger
	cfg      atomic.Value
	queue    chan job
	dedup    *dedupIndex
	log      *ActionLog
	now      func() time.Time
	observe  func(model.Action)

	mu      sync.RWMutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

type Option func(*Engine)

// WithObserver registers fn to receive every status change. fn runs on the
// caller's or a worker's goroutine and must not block.
func WithObserver(fn func(model.Action)) Option {
	return func(e *Engine) { e.observe = fn }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(fw Firewall, notifier Notifier, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	cfg = cfg.normalized()
	e := &Engine{
		firewall: fw,
		notifier: notifier,
		logger:   logger,
		queue:    make(chan job, cfg.QueueSize),
		dedup:    newDedupIndex(cfg.LogLimit),
		log:      NewActionLog(cfg.LogLimit),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg.Store(cfg)
	return e
}

// SetConfig applies retry and dedup settings. Queue size and worker count are
// fixed at construction.
func (e *Engine) SetConfig(cfg Config) {
	e.cfg.Store(cfg.normalized())
}

func (e *Engine) config() Config {
	if v := e.cfg.Load(); v != nil {
		return v.(Config)
	}
	return DefaultConfig()
}

// Start launches the dispatch workers. Calling it twice is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.closed {
		return
	}
	e.started = true
	ctx, e.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.config().Workers; i++ {
		g.Go(func() error {
			for j := range e.queue {
				e.process(gctx, j)
			}
			return nil
		})
	}
	e.group = g
}

// Submit records and enqueues req without blocking. A repeat of the same
// (target, type) inside the dedup window returns a deduplicated action that
// is not dispatched again.
func (e *Engine) Submit(req Request) model.Action {
	cfg := e.config()
	now := e.now()
	if req.Message == "" {
		req.Message = req.Reason
	}
	idemKey := req.Target.String() + "|" + string(req.Type)
	action := model.Action{
		ID:             uuid.NewString(),
		Type:           req.Type,
		Target:         req.Target,
		Reason:         req.Reason,
		Message:        req.Message,
		IdempotencyKey: idemKey,
		Status:         model.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := validate(req); err != nil {
		action.Status = model.StatusFailed
		action.LastError = err.Error()
		e.log.Add(action)
		e.notify(action)
		e.warn("action rejected", action)
		return action
	}

	if !e.dedup.reserve(idemKey, action.ID, now, cfg.DedupWindow) {
		action.Status = model.StatusDeduplicated
		e.notify(action)
		return action
	}
	switch req.Type {
	case model.ActionBlock:
		e.dedup.release(req.Target.String() + "|" + string(model.ActionUnblock))
	case model.ActionUnblock:
		e.dedup.release(req.Target.String() + "|" + string(model.ActionBlock))
	}

	e.log.Add(action)
	e.notify(action)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return e.fail(action.ID, idemKey, reasonStopped)
	}
	select {
	case e.queue <- job{id: action.ID, req: req, idemKey: idemKey}:
		return action
	default:
		return e.fail(action.ID, idemKey, reasonQueueFull)
	}
}

func validate(req Request) error {
	switch req.Type {
	case model.ActionBlock, model.ActionUnblock:
		if req.Target.Kind != model.KeyIP || req.Target.Value == "" {
			return fmt.Errorf("%w: %s requires an ip target, got %q", ErrInvalidTarget, req.Type, req.Target.String())
		}
	case model.ActionAlert:
		if req.Target.IsZero() {
			return fmt.Errorf("%w: alert without target", ErrInvalidTarget)
		}
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidTarget, req.Type)
	}
	return nil
}

func (e *Engine) process(ctx context.Context, j job) {
	if ctx.Err() != nil {
		e.fail(j.id, j.idemKey, reasonStopped)
		return
	}
	cfg := e.config()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialBackoff
	bo.MaxInterval = cfg.MaxBackoff

	operation := func() (struct{}, error) {
		e.update(j.id, func(a *model.Action) { a.Attempts++ })
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
		err := e.dispatch(callCtx, j.req)
		if err != nil && (errors.Is(err, ErrInvalidTarget) || errors.Is(err, ErrNoActuator)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, next time.Duration) {
		a, ok := e.update(j.id, func(a *model.Action) {
			a.Status = model.StatusPendingRetry
			a.LastError = err.Error()
		})
		if ok && e.logger != nil {
			e.logger.Warn("action failed, retrying",
				"action_id", a.ID,
				"action_type", a.Type,
				"entity_key", a.Target.String(),
				"attempts", a.Attempts,
				"retry_in", next,
				"err", err,
			)
		}
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(cfg.MaxRetries+1)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		e.fail(j.id, j.idemKey, err.Error())
		return
	}
	a, ok := e.update(j.id, func(a *model.Action) {
		a.Status = model.StatusSucceeded
		a.LastError = ""
	})
	if ok && e.logger != nil {
		e.logger.Info("action succeeded",
			"action_id", a.ID,
			"action_type", a.Type,
			"entity_key", a.Target.String(),
			"attempts", a.Attempts,
		)
	}
}

func (e *Engine) dispatch(ctx context.Context, req Request) error {
	var err error
	switch req.Type {
	case model.ActionBlock:
		if e.firewall == nil {
			return ErrNoActuator
		}
		err = e.firewall.Block(ctx, req.Target.Value)
	case model.ActionUnblock:
		if e.firewall == nil {
			return ErrNoActuator
		}
		err = e.firewall.Unblock(ctx, req.Target.Value)
	case model.ActionAlert:
		if e.notifier == nil {
			return ErrNoActuator
		}
		err = e.notifier.Send(ctx, req.Message)
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidTarget, req.Type)
	}
	if err != nil && !errors.Is(err, ErrInvalidTarget) {
		return fmt.Errorf("%w: %s %s: %w", model.ErrActuatorFailure, req.Type, req.Target.String(), err)
	}
	return err
}

// fail marks the action terminally failed and frees its dedup slot so a later
// request for the same target is dispatched again.
func (e *Engine) fail(id, idemKey, reason string) model.Action {
	e.dedup.releaseIf(idemKey, id)
	a, _ := e.update(id, func(a *model.Action) {
		a.Status = model.StatusFailed
		a.LastError = reason
	})
	e.warn("action failed", a)
	return a
}

func (e *Engine) update(id string, fn func(a *model.Action)) (model.Action, bool) {
	a, ok := e.log.Update(id, func(a *model.Action) {
		fn(a)
		a.UpdatedAt = e.now()
	})
	if ok {
		e.notify(a)
	}
	return a, ok
}

func (e *Engine) notify(a model.Action) {
	if e.observe != nil {
		e.observe(a)
	}
}

func (e *Engine) warn(msg string, a model.Action) {
	if e.logger == nil {
		return
	}
	e.logger.Warn(msg,
		"action_id", a.ID,
		"action_type", a.Type,
		"entity_key", a.Target.String(),
		"reason", a.Reason,
		"err", a.LastError,
	)
}

func (e *Engine) Actions(limit int) []model.Action {
	return e.log.List(limit)
}

func (e *Engine) Action(id string) (model.Action, bool) {
	return e.log.Get(id)
}

func (e *Engine) QueueDepth() int {
	return len(e.queue)
}

// Shutdown stops accepting requests and drains the queue. When ctx expires
// first, in-flight retries are abandoned and remaining actions fail.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	started := e.started
	g, cancel := e.group, e.cancel
	e.mu.Unlock()

	if !started {
		for j := range e.queue {
			e.fail(j.id, j.idemKey, reasonStopped)
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		cancel()
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return fmt.Errorf("drain dispatch queue: %w", ctx.Err())
	}
}
