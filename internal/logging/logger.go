package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger is the subset of *slog.Logger the rest of the codebase depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

var (
	mu              sync.RWMutex
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    = Config{Modules: make(map[string]string)}
	initialized     bool
	asyncSink       *asyncHandler
)

// Initialize sets up the logging system. Loggers created before
// Initialize use stdout text output at info level and are rebuilt here
// with the full handler chain.
func Initialize(config Config) {
	mu.Lock()
	defer mu.Unlock()

	if config.Modules == nil {
		config.Modules = make(map[string]string)
	}
	globalConfig = config
	initialized = true

	globalLevel := parseLevel(config.Level, slog.LevelInfo)

	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevel(module, globalLevel))
		moduleLoggers[module] = slog.New(buildHandler(config.Format, levelVar)).With("module", module)
	}

	defaultVar := &slog.LevelVar{}
	defaultVar.Set(globalLevel)
	slog.SetDefault(slog.New(buildHandler(config.Format, defaultVar)))
}

// GetLogger returns the logger for a module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	if logger, ok := moduleLoggers[module]; ok {
		mu.RUnlock()
		return logger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	levelVar := &slog.LevelVar{}
	format := "text"
	if initialized {
		levelVar.Set(moduleLevel(module, parseLevel(globalConfig.Level, slog.LevelInfo)))
		format = globalConfig.Format
	} else {
		levelVar.Set(slog.LevelInfo)
	}

	logger := slog.New(buildHandler(format, levelVar)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevelVars[module] = levelVar
	return logger
}

// SetModuleLevel changes one module's level at runtime. Unknown level
// strings are ignored. Used by the config watcher.
func SetModuleLevel(module, level string) {
	parsed := parseLevelStrict(level)
	if parsed == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if levelVar, ok := moduleLevelVars[module]; ok {
		levelVar.Set(*parsed)
	}
	globalConfig.Modules[module] = level
}

// Shutdown flushes the async sink and reports how many records were
// dropped under load. Call once on process exit.
func Shutdown() (dropped uint64) {
	mu.Lock()
	sink := asyncSink
	asyncSink = nil
	mu.Unlock()
	if sink == nil {
		return 0
	}
	return sink.Close()
}

// moduleLevel resolves a module's effective level. Callers hold mu.
func moduleLevel(module string, global slog.Level) slog.Level {
	if levelStr, ok := globalConfig.Modules[module]; ok {
		if parsed := parseLevelStrict(levelStr); parsed != nil {
			return *parsed
		}
	}
	return global
}

// buildHandler assembles the chain for one module: stdout (text or
// json), journal when running under systemd, all behind the shared
// async sink so the audio hot paths never block on log I/O. Callers
// hold mu.
func buildHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var out slog.Handler
	if format == "json" {
		out = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		out = slog.NewTextHandler(os.Stdout, opts)
	}

	if journalAvailable() {
		out = newFanoutHandler(out, newJournalHandler(level))
	}

	if asyncSink == nil {
		asyncSink = newAsyncHandler(asyncQueueSize)
	}
	return asyncSink.wrap(out, level)
}

func parseLevel(level string, fallback slog.Level) slog.Level {
	if parsed := parseLevelStrict(level); parsed != nil {
		return *parsed
	}
	return fallback
}

func parseLevelStrict(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
