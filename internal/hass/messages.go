package hass

import (
	"encoding/json"
	"time"
)

// Message types exchanged with the hub.
const (
	typeAuthRequired = "auth_required"
	typeAuth         = "auth"
	typeAuthOK       = "auth_ok"
	typeAuthInvalid  = "auth_invalid"

	typeResult = "result"
	typeEvent  = "event"
	typePing   = "ping"
	typePong   = "pong"

	typeSubscribeEvents      = "subscribe_events"
	typeGetStates            = "get_states"
	typeCallService          = "call_service"
	typeGetConfig            = "get_config"
	typeGetServices          = "get_services"
	typeGetPanels            = "get_panels"
	typeMediaPlayerThumbnail = "media_player_thumbnail"
)

// EventStateChanged is the event type the hub emits for entity state changes.
const EventStateChanged = "state_changed"

// Context is the origin bundle the hub attaches to states and events.
type Context struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id"`
	UserID   *string `json:"user_id"`
}

// EntityState is one entity as last reported by the hub.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
	Context     Context        `json:"context"`
}

// Domain returns the part of the entity ID before the first dot.
func (s *EntityState) Domain() string {
	return Domain(s.EntityID)
}

// clone returns a copy that shares no mutable data with s.
func (s *EntityState) clone() *EntityState {
	if s == nil {
		return nil
	}
	c := *s
	c.Attributes = cloneMap(s.Attributes)
	return &c
}

// Event is an event pushed by the hub.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
	Context   Context         `json:"context"`
}

// StateChange is the data of a state_changed event. Old is nil when the
// entity is new; New is nil when the entity was removed.
type StateChange struct {
	EntityID string       `json:"entity_id"`
	Old      *EntityState `json:"old_state"`
	New      *EntityState `json:"new_state"`
}

// HassConfig is the hub configuration returned by get_config.
type HassConfig struct {
	Version      string   `json:"version"`
	ConfigDir    string   `json:"config_dir"`
	Elevation    int      `json:"elevation"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	LocationName string   `json:"location_name"`
	TimeZone     string   `json:"time_zone"`
	Components   []string `json:"components"`
	UnitSystem   struct {
		Length      string `json:"length"`
		Mass        string `json:"mass"`
		Temperature string `json:"temperature"`
		Volume      string `json:"volume"`
	} `json:"unit_system"`
	ExternalURL string `json:"external_url"`
	InternalURL string `json:"internal_url"`
	Currency    string `json:"currency"`
	Country     string `json:"country"`
	Language    string `json:"language"`
	SafeMode    bool   `json:"safe_mode"`
	State       string `json:"state"`
}

// Panel is one entry of get_panels.
type Panel struct {
	ComponentName string          `json:"component_name"`
	Icon          *string         `json:"icon"`
	Title         *string         `json:"title"`
	Config        json.RawMessage `json:"config"`
	URLPath       string          `json:"url_path"`
	RequireAdmin  bool            `json:"require_admin"`
}

// Thumbnail is a media player artwork image.
type Thumbnail struct {
	ContentType string `json:"content_type"`
	// Content arrives base64 encoded and is decoded by encoding/json.
	Content []byte `json:"content"`
}

// ServiceResult is the result of call_service.
type ServiceResult struct {
	Context  Context         `json:"context"`
	Response json.RawMessage `json:"response,omitempty"`
}

// errorInfo is the error object of a failed result.
type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope is the union of every inbound frame shape.
type envelope struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result"`
	Error     *errorInfo      `json:"error"`
	Event     *Event          `json:"event"`
	HAVersion string          `json:"ha_version"`
	Message   string          `json:"message"`
}

// request is implemented by every outbound message that carries an id.
type request interface {
	setID(id int64)
	messageType() string
}

// header is embedded by outbound requests.
type header struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

func (h *header) setID(id int64)      { h.ID = id }
func (h *header) messageType() string { return h.Type }

type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

type simpleRequest struct {
	header
}

type subscribeEventsRequest struct {
	header
	EventType string `json:"event_type,omitempty"`
}

type callServiceRequest struct {
	header
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data,omitempty"`
}

type thumbnailRequest struct {
	header
	EntityID string `json:"entity_id"`
}

func newRequest(msgType string) *simpleRequest {
	return &simpleRequest{header: header{Type: msgType}}
}

// cloneMap deep-copies a decoded JSON object.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
