// Package logger provides a simple, thread-safe logging facility.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, optional source ID, and message.
// The source is whatever produced the entry: a simulated client, a sandbox
// node, the failure injector.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Server started")
//	logger.Warn("client-cq3k", "connection lost, reconnecting")
//
// Binding a source once:
//
//	log := logger.With("client-cq3k")
//	log.Info("write phase finished in %dms", ms)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("node-1", "Debug message")
//
// # Log Levels
//
// Messages below the configured level are filtered. ParseLevel maps the
// "log.level" config value (debug, info, warn, error) onto a Level.
//
// # Thread Safety
//
// All logging operations are protected by a mutex and safe for concurrent use.
package logger
