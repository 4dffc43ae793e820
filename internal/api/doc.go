// Package api implements the diagnostic HTTP API of the Home Assistant bridge.
//
// This package provides:
//   - Read access to the engine's entity cache and scheduled tasks
//   - Service calls forwarded to the hub through the engine
//   - Recorded state history when the SQLite history is enabled
//   - The audit trail of service calls made through the API and MQTT
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Endpoints
//
//	GET  /api/v1/health
//	GET  /api/v1/metrics
//	GET  /api/v1/entities
//	GET  /api/v1/entities/{id}
//	GET  /api/v1/entities/{id}/history
//	POST /api/v1/services/{domain}/{service}
//	GET  /api/v1/scheduler
//	GET  /api/v1/audit
//
// # Error Mapping
//
// Engine errors map to HTTP status codes: an unknown entity is 404, a
// request the hub did not answer in time is 504, a request the hub
// rejected is 502 and a missing connection is 503.
//
// The API has no authentication and binds to 127.0.0.1 by default.
package api
