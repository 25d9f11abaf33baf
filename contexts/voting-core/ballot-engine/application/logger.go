package application

import "log/slog"

const ModuleName = "voting-core/ballot-engine"

// ResolveLogger falls back to the process default logger.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
