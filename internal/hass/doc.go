// Package hass is the connection engine for the Home Assistant websocket API.
//
// An Engine keeps one authenticated websocket session to the hub, mirrors
// every entity state in memory and lets automations react to state changes
// and time-based triggers.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────────┐
//	│                     Engine (engine.go)                    │
//	│                                                          │
//	│  reader goroutine ──▶ frames ──▶ receiveLoop (pumps.go)   │
//	│                                    │  result/pong ──▶ pending table
//	│                                    │  state_changed ─▶ entity cache
//	│                                    └─ listeners (supervised units)
//	│                                                          │
//	│  sendMessage (request.go) ──▶ outgoing ──▶ sendLoop       │
//	│        │                       (waits on canSend gate)    │
//	│        └─ timeout: one-shot scheduler task                │
//	│                                                          │
//	│  Scheduler: heartbeat, response timeouts, automations    │
//	└──────────────────────────────────────────────────────────┘
//
// # Request correlation
//
// Every request gets the next integer id under one lock that also queues
// it, so ids are unique, gapless and leave in id order. A reply resolves its
// pending entry exactly once; a late reply after a timeout is dropped.
//
// # Backpressure
//
// The receive pump opens the canSend gate only while no inbound frame is
// buffered, so outbound writes yield to inbound traffic.
//
// # Failures
//
// Expected errors (ErrEntityNotFound, ErrResponseTimeout, *CommandError)
// are returned to the caller. Listener, automation and task failures are
// recovered by the supervisor and handled by its fault policy.
//
// # Usage
//
//	engine, err := hass.New(hass.Config{Host: "hass.local", AccessToken: token})
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	porch := hass.AutomationFunc{AutomationName: "porch", Init: func(ctx context.Context, e *hass.Engine) error {
//	    e.RunEveryDayAtSunset(-15*time.Minute, func(ctx context.Context) error {
//	        _, err := e.CallService(ctx, "light", "turn_on", "light.porch", nil)
//	        return err
//	    })
//	    return nil
//	}}
//	return engine.Run(ctx, hass.ModeAutomatic, porch)
package hass
