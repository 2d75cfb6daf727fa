// Package logging provides structured logging for incidentdesk.
//
// It wraps log/slog with:
//   - JSON output for production and text output for development
//   - service and version attributes on every record
//   - level filtering (debug, info, warn, error)
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log passwords, tokens or verification codes.
package logging
