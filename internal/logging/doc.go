// Package logging provides structured logging with per-module log
// level configuration and non-blocking emission.
//
// The package wraps log/slog. Each module (bridge, diretta, ring,
// pipe, process, ...) gets its own logger with a runtime-adjustable
// level:
//
//	logger := logging.GetLogger("diretta")
//	logger.Info("Target online", "mtu", mtu)
//
// All records pass through a shared bounded queue drained by a single
// goroutine, so logging from the audio producer or the transport cycle
// callback never blocks on terminal or journal I/O. When the queue is
// full the record is dropped and counted; Shutdown reports the total.
//
// Output goes to stdout (text or JSON) and, when the process runs
// under systemd, to the journal with structured fields:
//
//	journalctl -t direttanode MODULE=diretta
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	diretta = "debug"
//	ring = "warn"
package logging
