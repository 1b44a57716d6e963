// Package logging provides structured logging for the push relay.
//
// It wraps log/slog so every component logs with the same handler,
// level filtering and default fields (service, version).
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
//	logger.Info("dispatch accepted", "origin", addr, "messages", n)
//
// Device tokens and registration ids are credentials. Pass them through
// Redact before logging.
package logging
