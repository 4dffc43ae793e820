// Package config handles loading and validating Gray Logic HASS configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRAYLOGIC_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The Home Assistant access token should be set via GRAYLOGIC_HASS_TOKEN
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.PathFromEnv())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.HASS.Host)
package config
