// Package logger provides a small factory around log/slog with
// environment-driven level and format selection.
//
// Production configurations emit JSON for log aggregation; development
// configurations emit text. Components throughout the module take a
// *slog.Logger and fall back to Noop() when given nil.
//
//	var cfg logger.Config
//	config.MustLoad(&cfg)
//	log := logger.New(logger.WithConfig(cfg), logger.WithService("eventkit"))
package logger
