//go:build !linux

package diretta

import "log/slog"

func setRealtimePriority(logger *slog.Logger) bool {
	logger.Debug("Real-time worker priority not supported on this platform")
	return false
}
