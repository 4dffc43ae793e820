package hass

import (
	"context"
	"encoding/json"
	"time"
)

// CallService asks the hub to run domain.service.
//
// Parameters:
//   - domain, service: the service to call, e.g. "light" and "turn_on"
//   - entityID: optional target; merged into the service data as entity_id
//   - data: optional service data; not modified
//
// Returns:
//   - *ServiceResult: the context the hub assigned to the call
//   - error: ErrResponseTimeout, a *CommandError (ErrCommandFailed),
//     ErrConnectionLost or ErrNotConnected
func (e *Engine) CallService(ctx context.Context, domain, service, entityID string, data map[string]any) (*ServiceResult, error) {
	serviceData := cloneMap(data)
	if entityID != "" {
		if serviceData == nil {
			serviceData = make(map[string]any, 1)
		}
		serviceData["entity_id"] = entityID
	}

	msg := &callServiceRequest{
		header:      header{Type: typeCallService},
		Domain:      domain,
		Service:     service,
		ServiceData: serviceData,
	}
	e.DebugLog("calling service", "domain", domain, "service", service, "entity_id", entityID)
	res, err := call[ServiceResult](ctx, e, msg)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetConfig returns the hub configuration.
func (e *Engine) GetConfig(ctx context.Context) (*HassConfig, error) {
	cfg, err := call[HassConfig](ctx, e, newRequest(typeGetConfig))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetServices returns the service descriptions keyed by domain and service name.
func (e *Engine) GetServices(ctx context.Context) (map[string]map[string]json.RawMessage, error) {
	return call[map[string]map[string]json.RawMessage](ctx, e, newRequest(typeGetServices))
}

// GetPanels returns the frontend panels keyed by URL path.
func (e *Engine) GetPanels(ctx context.Context) (map[string]Panel, error) {
	return call[map[string]Panel](ctx, e, newRequest(typeGetPanels))
}

// MediaPlayerThumbnail fetches the current artwork of a media player.
func (e *Engine) MediaPlayerThumbnail(ctx context.Context, entityID string) (*Thumbnail, error) {
	msg := &thumbnailRequest{header: header{Type: typeMediaPlayerThumbnail}, EntityID: entityID}
	thumb, err := call[Thumbnail](ctx, e, msg)
	if err != nil {
		return nil, err
	}
	return &thumb, nil
}

// Ping sends a ping and waits for the pong, bounded by timeout.
func (e *Engine) Ping(ctx context.Context, timeout time.Duration) error {
	_, err := e.sendMessage(ctx, newRequest(typePing), timeout)
	return err
}

// ConnectionIsAlive pings the hub with the heartbeat timeout.
func (e *Engine) ConnectionIsAlive(ctx context.Context) bool {
	return e.Ping(ctx, e.cfg.HeartbeatTimeout) == nil
}
