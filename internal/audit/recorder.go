package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by the recorder.
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

const (
	// queueSize bounds entries waiting to be written. Entries beyond it are
	// dropped rather than blocking the caller.
	queueSize = 256

	writeTimeout = 5 * time.Second
)

// Recorder writes entries to a Repository from a single background
// goroutine. Record never blocks.
type Recorder struct {
	repo   Repository
	logger Logger

	ch   chan Entry
	stop chan struct{}
	done chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Uint64
	written   atomic.Uint64
}

// NewRecorder creates a recorder and starts its writer. Call Close to flush
// queued entries and stop it.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	r := &Recorder{
		repo:   repo,
		logger: logger,
		ch:     make(chan Entry, queueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

// Record queues e for writing. It is dropped, with a warning, when the queue
// is full or the recorder is closed.
func (r *Recorder) Record(e Entry) {
	if r.closed.Load() {
		r.dropped.Add(1)
		return
	}
	select {
	case r.ch <- e:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit queue full, dropping entry", "action", e.Action, "service", e.Service)
	}
}

// List reads entries from the repository.
func (r *Recorder) List(ctx context.Context, f Filter) (*ListResult, error) {
	return r.repo.List(ctx, f)
}

// Dropped returns how many entries were never written.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns how many entries were stored.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Close writes the entries still queued and stops the writer.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.stop)
		<-r.done
	})
}

func (r *Recorder) drain() {
	defer close(r.done)
	for {
		select {
		case e := <-r.ch:
			r.write(e)
		case <-r.stop:
			for {
				select {
				case e := <-r.ch:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, &e); err != nil {
		r.dropped.Add(1)
		r.logger.Error("audit log write failed", "action", e.Action, "service", e.Service, "error", err)
		return
	}
	r.written.Add(1)
}
