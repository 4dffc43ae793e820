package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// receiveLoop drains inbound frames from the live session.
//
// Whenever no frame is buffered it opens the canSend gate so the send pump
// may write; each received frame closes it again, giving inbound traffic
// priority. Frames are decoded, correlated and folded into the cache here, in
// arrival order; listener callbacks run as separate supervised units.
func (e *Engine) receiveLoop(ctx context.Context, sess *session) error {
	for {
		if len(sess.frames) == 0 {
			e.setCanSend(true)
		}

		select {
		case <-ctx.Done():
			return nil

		case data, ok := <-sess.frames:
			if ok {
				e.setCanSend(false)
				e.processFrame(data)
				continue
			}

			// Stream ended.
			e.markDisconnected()
			e.failPending(ErrConnectionLost)
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Warn("connection to home assistant lost", "error", sess.err)
			if !e.cfg.ReconnectOnClose {
				return fmt.Errorf("%w: %v", ErrConnectionLost, sess.err)
			}

			next, err := e.reconnect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if old := e.sess.Swap(nil); old != nil {
				old.close()
			}
			sess = next
			e.attach(sess)

			// resume needs this loop to deliver its replies, so it runs apart.
			// A session that cannot be resumed is dropped, which sends this
			// loop through the reconnect path again.
			resumed := sess
			e.sup.Go("resume session", func(context.Context) error {
				if err := e.resume(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					e.logger.Warn("resuming session failed, reconnecting", "error", err)
					resumed.close()
				}
				return nil
			})
		}
	}
}

// sendLoop writes queued requests in FIFO order, waiting on the canSend gate
// before each write and pausing SendInterval after it.
func (e *Engine) sendLoop(ctx context.Context) error {
	pace := time.NewTimer(0)
	defer pace.Stop()

	for {
		var out outbound
		select {
		case <-ctx.Done():
			return nil
		case out = <-e.outgoing:
		}

		if err := e.waitCanSend(ctx); err != nil {
			e.resolve(out.id, reply{err: ErrConnectionLost})
			return nil
		}

		sess := e.sess.Load()
		if sess == nil {
			e.resolve(out.id, reply{err: ErrConnectionLost})
			continue
		}
		if err := sess.write(out.data); err != nil {
			e.logger.Warn("sending message failed", "message_id", out.id, "error", err)
			e.resolve(out.id, reply{err: fmt.Errorf("%w: %w", ErrConnectionLost, err)})
			continue
		}
		if e.cfg.Debug {
			e.logger.Debug("message sent", "message_id", out.id, "frame", string(out.data))
		}

		pace.Reset(e.cfg.SendInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-pace.C:
		}
	}
}

func (e *Engine) setCanSend(v bool) {
	e.canSend.Store(v)
	if v {
		select {
		case e.canSendCh <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) waitCanSend(ctx context.Context) error {
	for !e.canSend.Load() {
		select {
		case <-e.canSendCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// processFrame handles one inbound frame.
func (e *Engine) processFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		e.logger.Warn("discarding undecodable frame", "error", fmt.Errorf("%w: %w", ErrInvalidMessage, err))
		return
	}
	if e.cfg.Debug {
		e.logger.Debug("message received", "message_id", env.ID, "type", env.Type)
	}

	switch env.Type {
	case typeResult, typePong:
		if !e.resolve(env.ID, reply{env: &env}) {
			e.DebugLog("reply without pending request", "message_id", env.ID)
		}
	case typeEvent:
		if env.Event == nil {
			e.logger.Warn("event frame without event", "message_id", env.ID)
			return
		}
		e.handleEvent(env.Event)
	default:
		e.DebugLog("ignoring frame", "type", env.Type)
	}
}

// handleEvent applies state changes to the cache and fans events out to
// listeners, each listener call as its own unit.
func (e *Engine) handleEvent(ev *Event) {
	if ev.EventType == EventStateChanged {
		var change StateChange
		if err := json.Unmarshal(ev.Data, &change); err != nil {
			e.logger.Warn("discarding malformed state_changed event", "error", err)
			return
		}
		e.cache.apply(&change)

		for _, fn := range e.listeners.stateListeners(change.EntityID) {
			e.sup.Go("state listener:"+change.EntityID, func(ctx context.Context) error {
				if err := fn(ctx, stateChangeCopy(&change)); err != nil {
					e.logger.Error("state listener failed", "entity_id", change.EntityID, "error", err)
					return fmt.Errorf("state listener for %s: %w", change.EntityID, err)
				}
				return nil
			})
		}
	}

	listeners := e.listeners.eventListeners(ev.EventType)
	if len(listeners) == 0 {
		return
	}
	event := *ev
	for _, fn := range listeners {
		e.sup.Go("event listener:"+event.EventType, func(ctx context.Context) error {
			if err := fn(ctx, event); err != nil {
				e.logger.Error("event listener failed", "event_type", event.EventType, "error", err)
				return fmt.Errorf("event listener for %s: %w", event.EventType, err)
			}
			return nil
		})
	}
}

// stateChangeCopy gives each listener its own copy of the change.
func stateChangeCopy(c *StateChange) StateChange {
	return StateChange{
		EntityID: c.EntityID,
		Old:      c.Old.clone(),
		New:      c.New.clone(),
	}
}
