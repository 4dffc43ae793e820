package hass

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-hass/internal/scheduler"
	"github.com/nerrad567/gray-logic-hass/internal/supervisor"
)

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSupervisor runs background work as units of sup. The engine's
// scheduler shares it unless WithScheduler is also given.
func WithSupervisor(sup *supervisor.Supervisor) Option {
	return func(e *Engine) { e.sup = sup }
}

// WithScheduler uses an already built scheduler.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// ConnectionHook is told when the hub session comes up or goes away.
// haVersion is empty on disconnect. It runs on the engine's receive path
// and must not block.
type ConnectionHook func(connected bool, haVersion string)

// WithConnectionHook sets the hook called on every connect and disconnect.
func WithConnectionHook(h ConnectionHook) Option {
	return func(e *Engine) { e.onConnection = h }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(e *Engine) {
		if d != nil {
			e.dialer = d
		}
	}
}

// outbound is an encoded request waiting for the send pump.
type outbound struct {
	id   int64
	data []byte
}

// reply resolves a pending request.
type reply struct {
	env *envelope
	err error
}

// Engine is the connection engine for one hub.
//
// It owns the websocket session, the entity cache, the listener registries
// and a scheduler. All exported methods are safe for concurrent use.
type Engine struct {
	cfg       Config
	logger    Logger
	sup       *supervisor.Supervisor
	sched     *scheduler.Scheduler
	dialer    *websocket.Dialer
	sessionID string

	cache     *entityCache
	listeners *listenerRegistry

	// idMu serialises id assignment and enqueueing so wire order equals id order.
	idMu     sync.Mutex
	nextID   int64
	outgoing chan outbound

	pendingMu sync.Mutex
	pending   map[int64]chan reply

	canSend   atomic.Bool
	canSendCh chan struct{}

	sess         atomic.Pointer[session]
	connected    atomic.Bool
	running      atomic.Bool
	onConnection ConnectionHook

	versionMu sync.RWMutex
	version   string

	loaded     atomic.Bool
	refreshing atomic.Bool
	alive      atomic.Bool
}

// New builds an engine. No connection is made until Run.
//
// Returns ErrInvalidConfig if cfg lacks a host or access token.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg.withDefaults(),
		logger:    noopLogger{},
		dialer:    &websocket.Dialer{HandshakeTimeout: authTimeout},
		sessionID: uuid.NewString(),
		cache:     newEntityCache(),
		listeners: newListenerRegistry(),
		outgoing:  make(chan outbound, sendQueueSize),
		pending:   make(map[int64]chan reply),
		canSendCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sup == nil {
		e.sup = supervisor.New(context.Background(), supervisor.WithLogger(e.logger))
	}
	if e.sched == nil {
		e.sched = scheduler.New(scheduler.WithSupervisor(e.sup), scheduler.WithLogger(e.logger))
	}

	if info := InspectToken(e.cfg.AccessToken); info.JWT {
		switch {
		case info.Expired(time.Now()):
			e.logger.Warn("access token has expired", "expires_at", info.ExpiresAt)
		case !info.ExpiresAt.IsZero():
			e.logger.Info("access token loaded", "issuer", info.Issuer, "expires_at", info.ExpiresAt)
		}
	}
	return e, nil
}

// Run connects, authenticates and initialises the engine, then keeps the
// connection open or closes it depending on mode.
//
// Initialisation fetches every entity state, subscribes to the event bus and
// runs each automation's Initialize concurrently. A failing automation is
// logged and does not stop the others.
//
// Run returns nil when ctx is cancelled or when mode decided to stop after
// initialisation. It returns ErrAuthenticationFailed when the token is
// rejected and ErrConnectionLost when the connection drops with
// ReconnectOnClose disabled. Under supervisor.PolicyEscalate a fault in any
// background unit stops Run with an error wrapping supervisor.ErrEscalated.
func (e *Engine) Run(ctx context.Context, mode Mode, automations ...Automation) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopOnFault := context.AfterFunc(e.sup.Context(), cancel)
	defer stopOnFault()

	e.logger.Info("connecting to home assistant", "url", e.cfg.URL(), "session_id", e.sessionID)
	sess, err := e.dial(ctx)
	if err != nil {
		return err
	}
	e.attach(sess)
	defer e.detach()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.receiveLoop(gctx, sess) })
	g.Go(func() error { return e.sendLoop(gctx) })

	if err := e.initialize(gctx, automations); err != nil {
		cancel()
		_ = g.Wait() //nolint:errcheck // initialisation error takes precedence
		return e.runError(err)
	}

	if escalated := e.sup.Err(); escalated != nil {
		cancel()
		_ = g.Wait() //nolint:errcheck // the escalated fault takes precedence
		return escalated
	}

	if !e.keepRunning(mode) {
		e.logger.Info("initialisation complete, closing connection", "mode", mode.String())
		cancel()
		_ = g.Wait() //nolint:errcheck // shutting down on purpose
		return e.runError(nil)
	}

	e.logger.Info("initialisation complete, running", "mode", mode.String())
	heartbeat, err := scheduler.NewRegularTask("heartbeat", e.cfg.HeartbeatInterval, time.Now(), e.heartbeat)
	if err != nil {
		return err
	}
	e.sched.Schedule(heartbeat)
	defer e.sched.Cancel(heartbeat)

	return e.runError(g.Wait())
}

// runError maps the pump group's result to Run's contract.
func (e *Engine) runError(err error) error {
	if escalated := e.sup.Err(); escalated != nil {
		return escalated
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// keepRunning applies mode to the current listener and task registrations.
func (e *Engine) keepRunning(mode Mode) bool {
	switch mode {
	case ModeKeepRunning:
		return true
	case ModeJustInitialize:
		return false
	default:
		return e.listeners.hasLive() || !e.sched.IsEmpty()
	}
}

// initialize runs the post-connect sequence and the automations.
func (e *Engine) initialize(ctx context.Context, automations []Automation) error {
	if err := e.resume(ctx); err != nil {
		return err
	}

	if len(automations) == 0 {
		return nil
	}

	group := e.sup.NewGroup()
	for _, a := range automations {
		name := a.Name()
		group.Go("automation:"+name, func(ctx context.Context) error {
			if err := a.Initialize(ctx, e); err != nil {
				e.logger.Error("automation failed to initialise", "automation", name, "error", err)
				return fmt.Errorf("initialising automation %s: %w", name, err)
			}
			e.logger.Debug("automation initialised", "automation", name)
			return nil
		})
	}
	failed := group.Wait()
	e.logger.Info("automations initialised",
		"count", len(automations),
		"failed", len(failed),
	)
	return nil
}

// resume brings a fresh session up to date: full state refresh, then event
// subscription.
func (e *Engine) resume(ctx context.Context) error {
	if err := e.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading initial states: %w", err)
	}
	if err := e.subscribeEvents(ctx); err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	return nil
}

func (e *Engine) subscribeEvents(ctx context.Context) error {
	env, err := e.sendMessage(ctx, &subscribeEventsRequest{header: header{Type: typeSubscribeEvents}}, e.cfg.Timeout)
	if err != nil {
		return err
	}
	return resultError(typeSubscribeEvents, env)
}

// attach makes sess the live session.
func (e *Engine) attach(sess *session) {
	e.setVersion(sess.version)
	e.sess.Store(sess)
	e.setCanSend(true)
	e.connected.Store(true)
	e.logger.Info("connected to home assistant", "ha_version", sess.version)
	if e.onConnection != nil {
		e.onConnection(true, sess.version)
	}
}

// markDisconnected clears the connected flag and tells the hook once per
// lost session.
func (e *Engine) markDisconnected() {
	if e.connected.Swap(false) && e.onConnection != nil {
		e.onConnection(false, "")
	}
}

// detach closes the live session and fails everything still waiting on it.
func (e *Engine) detach() {
	e.markDisconnected()
	if sess := e.sess.Swap(nil); sess != nil {
		sess.close()
	}
	e.failPending(ErrConnectionLost)
	e.drainOutgoing()
}

// reconnect redials until a session is authenticated or ctx ends.
func (e *Engine) reconnect(ctx context.Context) (*session, error) {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.cfg.ReconnectDelay):
		}

		sess, err := e.dial(ctx)
		if err == nil {
			e.logger.Info("reconnected to home assistant", "attempt", attempt)
			return sess, nil
		}
		if isFatalDialError(err) {
			return nil, err
		}
		e.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
	}
}

// heartbeat is the periodic liveness check. Only transitions are logged at
// info/warn level.
func (e *Engine) heartbeat(ctx context.Context) error {
	alive := e.ConnectionIsAlive(ctx)
	if was := e.alive.Swap(alive); was != alive {
		if alive {
			e.logger.Info("connection alive")
		} else {
			e.logger.Warn("connection not alive")
		}
	}
	return nil
}

// Close cancels every scheduled task and stops the supervisor. The engine
// cannot be used afterwards.
func (e *Engine) Close() {
	e.sched.Close()
	e.sup.Stop()
}

// Version returns the hub version recorded during the last handshake.
func (e *Engine) Version() string {
	e.versionMu.RLock()
	defer e.versionMu.RUnlock()
	return e.version
}

func (e *Engine) setVersion(v string) {
	e.versionMu.Lock()
	e.version = v
	e.versionMu.Unlock()
}

// Connected reports whether an authenticated session is open.
func (e *Engine) Connected() bool { return e.connected.Load() }

// LoadedInitialStates reports whether a full state refresh has completed.
func (e *Engine) LoadedInitialStates() bool { return e.loaded.Load() }

// SessionID identifies this engine instance in logs.
func (e *Engine) SessionID() string { return e.sessionID }

// Scheduler returns the engine's scheduler for the RunEvery*/RunIn/RunAt
// helpers.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// Schedule delegates to the engine's scheduler.
func (e *Engine) Schedule(t scheduler.Task) { e.sched.Schedule(t) }

// Cancel delegates to the engine's scheduler.
func (e *Engine) Cancel(t scheduler.Task) bool { return e.sched.Cancel(t) }

// Reschedule delegates to the engine's scheduler.
func (e *Engine) Reschedule(t scheduler.Task) { e.sched.Reschedule(t) }

// DebugLog logs at debug level when the session was configured with Debug.
func (e *Engine) DebugLog(msg string, args ...any) {
	if e.cfg.Debug {
		e.logger.Debug(msg, args...)
	}
}
