// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components take a *zap.Logger and pass it through OrNop, so the sandbox
// and the pipeline can be used in tests without any logging setup.
//
// Example Usage:
//
//	logger, err := logging.New(logging.DefaultConfig())
//	sessionLog := logging.ForSession(logger.Logger, sessionID)
//	sessionLog.Info("Compiled file", zap.String("filename", "index.js"))
//	logger.Error("Run failed", zap.Error(err))
package logging
