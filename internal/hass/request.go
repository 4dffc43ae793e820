package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/scheduler"
)

// sendMessage assigns msg the next id, queues it for the send pump and waits
// for the correlated reply.
//
// Id assignment and enqueueing happen under one lock, so requests reach the
// wire in id order. The pending entry is registered before the request is
// queued so a fast reply always finds it. With a positive timeout a one-shot
// scheduler task races the reply; whichever resolves the entry first wins and
// the loser finds it gone.
func (e *Engine) sendMessage(ctx context.Context, msg request, timeout time.Duration) (*envelope, error) {
	if !e.connected.Load() {
		return nil, ErrNotConnected
	}

	ch := make(chan reply, 1)

	e.idMu.Lock()
	e.nextID++
	id := e.nextID
	msg.setID(id)
	data, err := encode(msg)
	if err != nil {
		e.idMu.Unlock()
		return nil, err
	}

	e.pendingMu.Lock()
	e.pending[id] = ch
	e.pendingMu.Unlock()

	select {
	case e.outgoing <- outbound{id: id, data: data}:
	case <-ctx.Done():
		e.idMu.Unlock()
		e.take(id)
		return nil, ctx.Err()
	}
	e.idMu.Unlock()

	if timeout > 0 {
		expiry := scheduler.NewOneShotTask("response timeout #"+strconv.FormatInt(id, 10), time.Now().Add(timeout),
			func(context.Context) error {
				e.resolve(id, reply{err: ErrResponseTimeout})
				return nil
			})
		e.sched.Schedule(expiry)
		defer e.sched.Cancel(expiry)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%s #%d: %w", msg.messageType(), id, r.err)
		}
		return r.env, nil
	case <-ctx.Done():
		e.take(id)
		return nil, ctx.Err()
	}
}

// take removes and returns the pending entry for id.
func (e *Engine) take(id int64) (chan reply, bool) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	ch, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	return ch, ok
}

// resolve delivers r to the request waiting on id. It reports false when no
// request is waiting, for example after a timeout already resolved it.
func (e *Engine) resolve(id int64, r reply) bool {
	ch, ok := e.take(id)
	if !ok {
		return false
	}
	ch <- r
	return true
}

// failPending resolves every waiting request with err.
func (e *Engine) failPending(err error) {
	e.pendingMu.Lock()
	pending := e.pending
	e.pending = make(map[int64]chan reply)
	e.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: err}
	}
}

// drainOutgoing drops requests queued for a session that no longer exists.
func (e *Engine) drainOutgoing() {
	for {
		select {
		case out := <-e.outgoing:
			e.resolve(out.id, reply{err: ErrConnectionLost})
		default:
			return
		}
	}
}

// pendingCount returns the number of requests waiting for a reply.
func (e *Engine) pendingCount() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

// resultError converts an unsuccessful result into a *CommandError.
func resultError(msgType string, env *envelope) error {
	if env.Type != typeResult || env.Success {
		return nil
	}
	ce := &CommandError{Type: msgType}
	if env.Error != nil {
		ce.Code = env.Error.Code
		ce.Message = env.Error.Message
	}
	return ce
}

// call sends msg and decodes a successful result into R.
func call[R any](ctx context.Context, e *Engine, msg request) (R, error) {
	var out R
	env, err := e.sendMessage(ctx, msg, e.cfg.Timeout)
	if err != nil {
		return out, err
	}
	if err := resultError(msg.messageType(), env); err != nil {
		return out, err
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(env.Result, &out); err != nil {
		return out, fmt.Errorf("%w: decoding %s result: %w", ErrInvalidMessage, msg.messageType(), err)
	}
	return out, nil
}
