// Package env implements the environment subsystem (spec.md §4.9, C11):
// the object that hosts the mbox registry, coop registry, the default
// dispatcher, the timer engine, the stop-guards repository, and the
// stats controller, and that drives the ordered startup/shutdown
// sequence described in spec.md §4.9.
//
// It is assembled with functional options (env.Option), mirroring the
// teacher's registry.Option/WithEvictionInterval constructors, per
// SPEC_FULL.md's AMBIENT STACK note that the environment's "configurable
// knobs" are Go struct fields/options rather than CLI flags or files.
package env

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/webitel/actorkit/coop"
	"github.com/webitel/actorkit/disp"
	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/mbox"
	"github.com/webitel/actorkit/mchain"
	"github.com/webitel/actorkit/message"
	"github.com/webitel/actorkit/queuelock"
	"github.com/webitel/actorkit/timer"
)

// ErrEnvStopAlreadyInProgress is returned by RegisterCoop once shutdown
// has begun (spec.md §6 "env_stop_already_in_progress").
var ErrEnvStopAlreadyInProgress = errors.New("env: registration attempted after stop")

// ErrStopGuardSetupFailed is returned by SetupStopGuard once shutdown
// has begun (spec.md §6 "stop_guard_setup_failed_stop_in_progress").
var ErrStopGuardSetupFailed = errors.New("env: stop guard setup failed, stop already in progress")

// ErrCoopAlreadyRegistered is returned by RegisterCoop for a *coop.Coop
// that is currently registered through this environment (spec.md §6
// "coop_already_registered").
var ErrCoopAlreadyRegistered = errors.New("env: coop already registered")

// InfrastructureFactory selects the locking strategy backing the
// environment's default dispatcher (spec.md §6 infrastructure_factory).
type InfrastructureFactory int

const (
	// DefaultMT is the multi-threaded default: the spin-then-condvar
	// queuelock.Default factory, tuned for real contention between
	// worker goroutines.
	DefaultMT InfrastructureFactory = iota
	// SimpleMTSafe is a plain mutex-backed factory: still safe under
	// concurrent access, but without the spin phase a single consumer
	// goroutine never benefits from.
	SimpleMTSafe
	// SimpleNotMTSafe mirrors original_source's single-threaded,
	// non-thread-safe infrastructure. Go always runs workers as
	// goroutines under the real scheduler, so there is no unsynchronized
	// fast path to fall back to; this normalizes to the same factory as
	// SimpleMTSafe (see DESIGN.md).
	SimpleNotMTSafe
)

func (f InfrastructureFactory) queueLockFactory() queuelock.Factory {
	switch f {
	case SimpleMTSafe, SimpleNotMTSafe:
		return queuelock.MutexCondFactory{}
	default:
		return queuelock.Default
	}
}

// TimerEngineKind selects which timer.Engine implementation backs the
// environment's single timer thread (spec.md §6 timer_thread_factory).
type TimerEngineKind int

const (
	TimerHeap TimerEngineKind = iota
	TimerWheel
	TimerList
)

// Layer is a user-installed background component started before the
// default dispatcher and stopped after it (spec.md §4.9 stage 1).
type Layer interface {
	Start(e *Environment) error
	Stop()
}

// CoopEvent names a registration or deregistration notification handed
// to a configured coop_listener (spec.md §6).
type CoopEvent int

const (
	CoopRegistered CoopEvent = iota
	CoopDeregistered
)

// Tracer receives a notification for message deliveries through mboxes
// this environment owns (spec.md §6 message_delivery_tracer). Nothing in
// this module calls OnDeliver: mbox.Mbox's deliver path has no tracer
// hook, and trace.Sink only implements this interface. Environment only
// stores and exposes the configured sink.
type Tracer interface {
	OnDeliver(mboxID id.Mbox, msgType message.Type)
}

type stopper interface{ Stop() }

type config struct {
	logger *slog.Logger

	infra InfrastructureFactory

	timerKind TimerEngineKind
	wheelSize int
	wheelTick time.Duration

	defaultDispatcher disp.Binder
	lockFactory       queuelock.Factory
	eventQueueHook    disp.Hook

	activityTracking bool
	meter            metric.Meter

	autoshutdownDisabled bool
	tracer               Tracer
	coopListener         func(CoopEvent, *coop.Coop)

	layers []Layer
	initFn func(*Environment) error
}

func defaultConfig() config {
	return config{
		logger:    slog.Default(),
		infra:     DefaultMT,
		timerKind: TimerHeap,
		wheelSize: 512,
		wheelTick: 10 * time.Millisecond,
	}
}

// Option configures a new Environment, applied in New.
type Option func(*config)

// WithLogger sets the environment's structured logger, propagated to
// every component it owns. A nil logger is equivalent to omitting this
// option (slog.Default is used).
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithInfrastructureFactory selects the default dispatcher's locking
// strategy (spec.md §6 infrastructure_factory). Ignored if
// WithQueueLockFactory is also given.
func WithInfrastructureFactory(f InfrastructureFactory) Option {
	return func(c *config) { c.infra = f }
}

// WithQueueLockFactory overrides the default dispatcher's queuelock
// factory directly, taking precedence over WithInfrastructureFactory
// (spec.md §6 queue_locks_defaults_manager).
func WithQueueLockFactory(f queuelock.Factory) Option {
	return func(c *config) { c.lockFactory = f }
}

// WithTimerEngine selects which timer.Engine backs the environment's
// timer thread (spec.md §6 timer_thread_factory). Only consulted for
// TimerWheel does WithWheelParams matter.
func WithTimerEngine(kind TimerEngineKind) Option {
	return func(c *config) { c.timerKind = kind }
}

// WithWheelParams configures the bucket count and tick duration used
// when TimerEngine is TimerWheel. Ignored for other engine kinds.
func WithWheelParams(size int, tick time.Duration) Option {
	return func(c *config) { c.wheelSize, c.wheelTick = size, tick }
}

// WithDefaultDispatcher replaces the built-in one-thread default
// dispatcher (spec.md §6 default_disp_params) with one the caller
// constructed directly, e.g. a tuned thread-pool or priority variant.
func WithDefaultDispatcher(b disp.Binder) Option {
	return func(c *config) { c.defaultDispatcher = b }
}

// WithEventQueueHook installs a hook that wraps the event queue of every
// agent bound to the built-in default dispatcher at bind time (spec.md
// §6 event_queue_hook). It has no effect when WithDefaultDispatcher
// supplies the dispatcher.
func WithEventQueueHook(h disp.Hook) Option {
	return func(c *config) { c.eventQueueHook = h }
}

// WithActivityTracking turns on disp.ActivityTracking for the default
// dispatcher, recording OTel wait/work histograms through meter (spec.md
// §6 work_thread_activity_tracking). It composes with, rather than
// replaces, any hook set via WithEventQueueHook.
func WithActivityTracking(meter metric.Meter) Option {
	return func(c *config) { c.activityTracking, c.meter = true, meter }
}

// WithAutoshutdownDisabled, if v is true, keeps the environment running
// after the last coop deregisters instead of stopping automatically
// (spec.md §6 autoshutdown_disabled).
func WithAutoshutdownDisabled(v bool) Option {
	return func(c *config) { c.autoshutdownDisabled = v }
}

// WithTracer installs the message-delivery tracer sink (spec.md §6
// message_delivery_tracer).
func WithTracer(t Tracer) Option {
	return func(c *config) { c.tracer = t }
}

// WithCoopListener installs a callback fired for every coop
// registration and deregistration (spec.md §6 coop_listener).
func WithCoopListener(fn func(CoopEvent, *coop.Coop)) Option {
	return func(c *config) { c.coopListener = fn }
}

// WithLayer adds a background component started during startup stage 1
// and stopped last during shutdown (spec.md §4.9).
func WithLayer(l Layer) Option {
	return func(c *config) { c.layers = append(c.layers, l) }
}

// WithInitFunc sets the user init callback run at startup stage 5,
// after the coop registry starts accepting registrations.
func WithInitFunc(fn func(*Environment) error) Option {
	return func(c *config) { c.initFn = fn }
}

// StatsController turns the environment's run-time stats collection on
// or off and exposes the mbox listeners attach to (spec.md §6
// stats_controller, "attach listeners via the stats distribution
// mbox"). Producing and sending snapshots into the distribution mbox is
// the stats package's job; this type only owns the on/off flag and the
// mbox itself.
type StatsController struct {
	mu      sync.Mutex
	enabled bool
	dist    *mbox.Mbox
}

// TurnOn enables stats collection.
func (s *StatsController) TurnOn() {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
}

// TurnOff disables stats collection.
func (s *StatsController) TurnOff() {
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()
}

// Enabled reports whether stats collection is currently on.
func (s *StatsController) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// DistributionMbox is the mbox snapshots are published to; listeners
// subscribe to it the same way they would any other mbox.
func (s *StatsController) DistributionMbox() *mbox.Mbox { return s.dist }

// Environment hosts and owns every component spec.md §4.9 names: the
// mbox registry, the coop registry, the default dispatcher, the timer
// engine, the stop-guards repository, and the stats controller.
type Environment struct {
	cfg config

	alloc   *id.Allocator
	mboxes  *mbox.Registry
	coops   *coop.Registry
	guards  *coop.StopGuardRepo
	stats   *StatsController

	dispatcher  disp.Binder
	dispStopper stopper
	sched       *timer.Scheduler

	startedLayers []Layer

	mu              sync.Mutex
	cond            *sync.Cond
	registeredCoops map[*coop.Coop]coop.Handle
	stopping        bool
	teardownOnce    sync.Once
	done            chan struct{}
}

// New assembles an Environment and runs startup stages 1-5 of spec.md
// §4.9 in order: start layers, start the default dispatcher, start the
// timer engine, start the coop registry accepting registrations, then
// invoke the user init callback. A failure at any stage rolls back
// every stage that already succeeded, in reverse, before returning the
// error. Stage 6 ("run until stop is requested") is Run, called
// separately once New succeeds.
func New(opts ...Option) (*Environment, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	alloc := &id.Allocator{}
	e := &Environment{
		cfg:             cfg,
		alloc:           alloc,
		mboxes:          mbox.NewRegistry(alloc),
		guards:          coop.NewStopGuardRepo(),
		registeredCoops: make(map[*coop.Coop]coop.Handle),
		done:            make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	e.stats = &StatsController{dist: mbox.New(alloc.NextMbox())}

	var rollback []func()
	unwind := func() {
		for i := len(rollback) - 1; i >= 0; i-- {
			rollback[i]()
		}
	}

	// Stage 1: start layers.
	for _, l := range cfg.layers {
		if err := l.Start(e); err != nil {
			unwind()
			return nil, fmt.Errorf("env: layer startup failed: %w", err)
		}
		layer := l
		e.startedLayers = append(e.startedLayers, layer)
		rollback = append(rollback, layer.Stop)
	}

	// Stage 2: start the default dispatcher.
	e.dispatcher = cfg.defaultDispatcher
	if e.dispatcher == nil {
		hook, err := defaultEventQueueHook(cfg)
		if err != nil {
			unwind()
			return nil, fmt.Errorf("env: activity tracking setup failed: %w", err)
		}
		lf := cfg.lockFactory
		if lf == nil {
			lf = cfg.infra.queueLockFactory()
		}
		e.dispatcher = disp.NewOneThread(cfg.logger, lf, hook)
	}
	if s, ok := e.dispatcher.(stopper); ok {
		e.dispStopper = s
		rollback = append(rollback, s.Stop)
	}

	// Stage 3: start the timer engine.
	engine := buildTimerEngine(cfg)
	e.sched = timer.NewScheduler(engine)
	rollback = append(rollback, e.sched.Stop)

	// Stage 4: start the coop registry, accepting registrations.
	e.coops = coop.NewRegistry(alloc, cfg.logger)
	e.coops.OnRegister(func(c *coop.Coop) {
		if cfg.coopListener != nil {
			cfg.coopListener(CoopRegistered, c)
		}
	})
	e.coops.OnDeregister(func(c *coop.Coop, reason string) {
		e.mu.Lock()
		delete(e.registeredCoops, c)
		remaining := len(e.registeredCoops)
		e.cond.Broadcast()
		e.mu.Unlock()

		if cfg.coopListener != nil {
			cfg.coopListener(CoopDeregistered, c)
		}
		if remaining == 0 && !cfg.autoshutdownDisabled {
			e.Stop()
		}
	})

	// Stage 5: invoke the user init callback.
	if cfg.initFn != nil {
		if err := cfg.initFn(e); err != nil {
			unwind()
			return nil, fmt.Errorf("env: init callback failed: %w", err)
		}
	}

	return e, nil
}

func buildTimerEngine(cfg config) timer.Engine {
	switch cfg.timerKind {
	case TimerWheel:
		return timer.NewWheelEngine(cfg.wheelSize, cfg.wheelTick)
	case TimerList:
		return timer.NewListEngine()
	default:
		return timer.NewHeapEngine()
	}
}

func defaultEventQueueHook(cfg config) (disp.Hook, error) {
	hooks := make([]disp.Hook, 0, 2)
	if cfg.eventQueueHook != nil {
		hooks = append(hooks, cfg.eventQueueHook)
	}
	if cfg.activityTracking {
		tracking, err := disp.ActivityTracking(cfg.meter)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, tracking)
	}
	if len(hooks) == 0 {
		return nil, nil
	}
	return func(agentID id.Agent, q disp.EventQueue) disp.EventQueue {
		for _, h := range hooks {
			q = h(agentID, q)
		}
		return q
	}, nil
}

// Run blocks (stage 6 of spec.md §4.9) until Stop is called or ctx is
// cancelled, returning once the full shutdown sequence has completed.
func (e *Environment) Run(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		e.Stop()
		<-e.done
		return ctx.Err()
	}
}

// Logger returns the logger every component this environment owns was
// constructed with.
func (e *Environment) Logger() *slog.Logger { return e.cfg.logger }

// Allocator returns the id.Allocator minting every mbox, coop, and (by
// caller convention) agent id in this environment, so that all three
// stay unique relative to one another.
func (e *Environment) Allocator() *id.Allocator { return e.alloc }

// DefaultDispatcher returns the environment's default dispatcher,
// wrapped as a coop.ResourceBinder via coop.NoopPreallocation: none of
// package disp's dispatcher variants reserve resources ahead of bind
// time, so there is nothing for Preallocate/UndoPreallocation to do.
func (e *Environment) DefaultDispatcher() coop.ResourceBinder {
	return coop.NoopPreallocation{Binder: e.dispatcher}
}

// Stats returns the environment's stats controller.
func (e *Environment) Stats() *StatsController { return e.stats }

// Tracer returns the configured message-delivery tracer sink, or nil if
// none was set via WithTracer.
func (e *Environment) Tracer() Tracer { return e.cfg.tracer }

// RegisterCoop runs register_coop (spec.md §4.5, §6) against c. It
// fails with ErrEnvStopAlreadyInProgress once shutdown has begun, and
// ErrCoopAlreadyRegistered if c was already successfully registered.
func (e *Environment) RegisterCoop(c *coop.Coop) (coop.Handle, error) {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return coop.Handle{}, ErrEnvStopAlreadyInProgress
	}
	if _, dup := e.registeredCoops[c]; dup {
		e.mu.Unlock()
		return coop.Handle{}, ErrCoopAlreadyRegistered
	}
	e.mu.Unlock()

	h, err := e.coops.Register(c)
	if err != nil {
		return coop.Handle{}, err
	}

	e.mu.Lock()
	e.registeredCoops[c] = h
	e.mu.Unlock()
	return h, nil
}

// DeregisterCoop runs deregister_coop against h, with reason.
func (e *Environment) DeregisterCoop(h coop.Handle, reason string) {
	e.coops.Deregister(h, reason)
}

// CreateMbox returns a fresh, unnamed MPMC mbox (spec.md §6 create_mbox).
func (e *Environment) CreateMbox() *mbox.Mbox {
	return mbox.New(e.alloc.NextMbox())
}

// IntroduceNamedMbox returns the mbox named (namespace, name),
// creating it on first use (spec.md §6 introduce_named_mbox). The only
// mbox variant this environment builds is the MPMC mbox.New, so the
// "factory" argument of spec.md's signature collapses to that one
// constant constructor (see DESIGN.md).
func (e *Environment) IntroduceNamedMbox(namespace, name string) *mbox.Mbox {
	return e.mboxes.Introduce(namespace, name)
}

// ReleaseNamedMbox drops one external reference to a named mbox
// introduced via IntroduceNamedMbox.
func (e *Environment) ReleaseNamedMbox(namespace, name string) {
	e.mboxes.Release(namespace, name)
}

// CreateMchain returns a new message chain configured by p (spec.md §6
// create_mchain).
func (e *Environment) CreateMchain(p mchain.Params) *mchain.Chain {
	return mchain.New(p)
}

// SetupStopGuard registers g, deferring shutdown until it is removed
// (spec.md §6 setup_stop_guard). It fails with ErrStopGuardSetupFailed
// once shutdown has begun.
func (e *Environment) SetupStopGuard(g coop.StopGuard) error {
	if e.guards.SetupGuard(g) == coop.SetupStopAlreadyInProgress {
		return ErrStopGuardSetupFailed
	}
	return nil
}

// RemoveStopGuard removes g (spec.md §6 remove_stop_guard). If shutdown
// is in progress and g was the last guard holding it up, shutdown
// proceeds.
func (e *Environment) RemoveStopGuard(g coop.StopGuard) {
	if e.guards.RemoveGuard(g) == coop.ActionDoActualStop {
		e.beginTeardown()
	}
}

// Stop initiates environment shutdown (spec.md §4.9, §6 stop()). It is
// idempotent and safe to call from any thread, including from within a
// coop_listener callback fired by the last coop's deregistration
// (autoshutdown). Stop-guards are consulted first; once every guard has
// released, every live coop is asked to deregister, and once the
// registry is empty the remaining stages (timer engine, default
// dispatcher, layers) are torn down in reverse startup order.
func (e *Environment) Stop() {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return
	}
	e.stopping = true
	e.mu.Unlock()

	if e.guards.InitiateStop() == coop.ActionDoActualStop {
		e.beginTeardown()
	}
}

func (e *Environment) beginTeardown() {
	e.deregisterAll()
	e.waitCoopsEmpty()
	e.teardownOnce.Do(e.teardownStages)
}

func (e *Environment) deregisterAll() {
	e.mu.Lock()
	handles := make([]coop.Handle, 0, len(e.registeredCoops))
	for _, h := range e.registeredCoops {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		e.coops.Deregister(h, "environment stop")
	}
}

func (e *Environment) waitCoopsEmpty() {
	e.mu.Lock()
	for len(e.registeredCoops) > 0 {
		e.cond.Wait()
	}
	e.mu.Unlock()
}

func (e *Environment) teardownStages() {
	e.sched.Stop()
	if e.dispStopper != nil {
		e.dispStopper.Stop()
	}
	for i := len(e.startedLayers) - 1; i >= 0; i-- {
		e.startedLayers[i].Stop()
	}
	close(e.done)
}

// SingleTimer schedules payload for one-shot delivery to target after
// delay (spec.md §6 single_timer), through e's timer engine.
func SingleTimer[T any](e *Environment, target timer.Target, payload T, delay time.Duration) *timer.ID {
	return timer.SingleShot(e.sched, target, payload, delay)
}

// ScheduleTimer schedules payload for repeated delivery to target,
// first after firstDelay and then every period (spec.md §6
// schedule_timer), through e's timer engine.
func ScheduleTimer[T any](e *Environment, target timer.Target, payload T, firstDelay, period time.Duration) *timer.ID {
	return timer.Periodic(e.sched, target, payload, firstDelay, period)
}
