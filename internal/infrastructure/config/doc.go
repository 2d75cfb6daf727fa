// Package config loads and validates incidentdesk configuration.
//
// Values come from three layers, later layers winning:
//   - built-in defaults (Default)
//   - a YAML file
//   - INCIDENTDESK_* environment variables for secrets and endpoints
//
// Secrets (JWT secret, SMTP and MQTT passwords, the seed admin password)
// should be supplied through the environment rather than the file. The
// process refuses to start without a JWT secret of at least 32 characters.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
