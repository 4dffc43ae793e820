// Package audit records the service calls the bridge makes on behalf of
// its clients in the audit_logs table.
//
// Calls arrive from two sources: POST /api/v1/services/{domain}/{service}
// and the MQTT command bridge. Both hand an Entry to a Recorder, which
// writes entries serially in the background so a slow disk never delays a
// request. GET /api/v1/audit lists them newest first.
package audit
