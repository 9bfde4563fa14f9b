// Package logging provides structured logging for the Autelis bridge.
//
// This package wraps Go's standard log/slog package so every component logs
// the same way: JSON in production, text for development, with service and
// version fields on every entry.
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log controller or broker passwords.
package logging
