// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components receive a *zap.Logger and name it after themselves
// (logger.Named("inventory")); OrNop turns a nil logger into a no-op one so
// constructors never need to check.
//
// Example Usage:
//
//	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	logger.Info("Registry starting", zap.String("port", cfg.Server.Port))
//	logger.Warn("Engine returned no result", zap.Int("profile", 0))
package logging
