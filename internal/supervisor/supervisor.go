package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Policy decides what a fault does to the rest of the supervisor.
type Policy string

const (
	// PolicyIsolate logs and reports the fault; sibling units keep running.
	PolicyIsolate Policy = "isolate"

	// PolicyEscalate cancels the supervisor context on the first fault.
	PolicyEscalate Policy = "escalate"
)

// ParsePolicy converts a configuration string into a Policy.
// An empty string yields PolicyIsolate.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyIsolate:
		return PolicyIsolate, nil
	case PolicyEscalate:
		return PolicyEscalate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Fault describes one failed unit.
type Fault struct {
	ID    string
	Unit  string
	Err   error
	Panic any
	Stack []byte
	At    time.Time
}

// Error implements error.
func (f *Fault) Error() string {
	return fmt.Sprintf("unit %s failed: %v", f.Unit, f.Err)
}

// Unwrap returns the underlying error.
func (f *Fault) Unwrap() error { return f.Err }

// Handler observes every fault. It is called synchronously from the failed
// unit's goroutine and must not block for long.
type Handler func(Fault)

// Logger defines the logging interface used by the supervisor.
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

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPolicy sets the fault policy.
func WithPolicy(p Policy) Option {
	return func(s *Supervisor) { s.policy = p }
}

// WithHandler sets the global fault handler.
func WithHandler(h Handler) Option {
	return func(s *Supervisor) { s.handler = h }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// Supervisor owns a context shared by all of its units.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	policy  Policy
	handler Handler
	logger  Logger

	wg     sync.WaitGroup
	faults atomic.Uint64

	errOnce sync.Once
	err     error
}

// New creates a supervisor whose context derives from parent.
func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancelCause(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		policy: PolicyIsolate,
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Context returns the supervisor context. It is cancelled by Stop, by the
// parent, or by an escalated fault.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Policy returns the configured fault policy.
func (s *Supervisor) Policy() Policy { return s.policy }

// Go starts fn as a supervised unit named unit.
func (s *Supervisor) Go(unit string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(unit, fn)
	}()
}

// run executes fn and converts a returned error or panic into a fault.
// It reports whether the unit completed cleanly.
func (s *Supervisor) run(unit string, fn func(ctx context.Context) error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.report(Fault{
				Unit:  unit,
				Err:   fmt.Errorf("%w: %v", ErrPanic, r),
				Panic: r,
				Stack: debug.Stack(),
			})
			ok = false
		}
	}()

	err := fn(s.ctx)
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
		return true
	}
	s.report(Fault{Unit: unit, Err: err})
	return false
}

func (s *Supervisor) report(f Fault) {
	f.ID = uuid.NewString()
	f.At = time.Now()
	s.faults.Add(1)

	if f.Panic != nil {
		s.logger.Error("unit panicked",
			"fault_id", f.ID,
			"unit", f.Unit,
			"panic", f.Panic,
			"stack", string(f.Stack),
		)
	} else {
		s.logger.Error("unit failed",
			"fault_id", f.ID,
			"unit", f.Unit,
			"error", f.Err,
		)
	}

	if s.handler != nil {
		s.handler(f)
	}

	if s.policy == PolicyEscalate {
		s.errOnce.Do(func() {
			s.err = fmt.Errorf("%w: %w", ErrEscalated, &f)
			s.cancel(s.err)
		})
	}
}

// Faults returns how many faults have been reported so far.
func (s *Supervisor) Faults() uint64 { return s.faults.Load() }

// Err returns the escalated fault, or nil if none has escalated.
func (s *Supervisor) Err() error {
	if s.ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(s.ctx); errors.Is(cause, ErrEscalated) {
		return cause
	}
	return nil
}

// Stop cancels the supervisor context. Units are expected to return promptly.
func (s *Supervisor) Stop() { s.cancel(context.Canceled) }

// Wait blocks until every unit started with Go has returned.
func (s *Supervisor) Wait() { s.wg.Wait() }

// Group is a joinable batch of units that report faults through the
// supervisor.
type Group struct {
	s  *Supervisor
	wg sync.WaitGroup

	mu     sync.Mutex
	failed []string
}

// NewGroup creates an empty group bound to s.
func (s *Supervisor) NewGroup() *Group {
	return &Group{s: s}
}

// Go starts fn as a unit of the group.
func (g *Group) Go(unit string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	g.s.wg.Add(1)
	go func() {
		defer g.s.wg.Done()
		defer g.wg.Done()
		if !g.s.run(unit, fn) {
			g.mu.Lock()
			g.failed = append(g.failed, unit)
			g.mu.Unlock()
		}
	}()
}

// Wait blocks until every unit of the group has returned and reports the
// names of the units that failed.
func (g *Group) Wait() []string {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.failed...)
}
