// Package logger provides a structured logging facility based on Zap.
//
// New builds a development or production logger from Config. WithRayID tags
// the entries of an HTTP request with its ray id, WithSync tags the entries
// of a sync engine with the sync id and root directory.
//
//	log, _ := logger.New(&logger.Config{Level: "info", Format: "json"})
//	l := logger.WithSync(log, "default", "/home/me/Sync")
//	l.Info("Scan finished", zap.Int("nodes", n))
package logger
