// Package logging provides structured logging for Gray Logic HASS.
//
// This package wraps Go's standard log/slog package. Every entry carries
// the service name and build version; components add their own name with
// Logger.Component.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	engine, err := hass.New(hcfg, hass.WithLogger(logger.Component("hass")))
//
// Never log the Home Assistant access token. hass.InspectToken exposes the
// non-secret claims that are safe to log.
package logging
