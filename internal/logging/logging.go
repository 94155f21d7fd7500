// Package logging provides categorized structured logging for shiurgen.
// Each subsystem logs through a named zap logger so that log lines carry a
// component tag ([alignment], [llm-retry], [cache], ...) that can be filtered
// downstream. Internal error detail stays in the logs; user-facing messages
// are produced elsewhere.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one logging subsystem. The value becomes the zap logger name.
type Category string

const (
	CategoryGuide     Category = "guide"
	CategoryAlignment Category = "alignment"
	CategoryExplain   Category = "explain"
	CategorySummary   Category = "summary"
	CategoryLLMRetry  Category = "llm-retry"
	CategoryCache     Category = "cache"
	CategorySefaria   Category = "sefaria"
	CategoryStore     Category = "store"
	CategoryChunker   Category = "chunker"
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.Logger)
)

func init() {
	// Default: errors-and-up to stderr until Init is called.
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	root = l
}

// Init installs the process-wide root logger. level is one of
// debug/info/warn/error; unknown values fall back to info. When json is
// false a console encoder is used.
func Init(level string, json bool) error {
	cfg := zap.NewProductionConfig()
	if !json {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.OutputPaths = []string{"stderr"}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	root = l
	loggers = make(map[Category]*zap.Logger)
	return nil
}

// SetLogger replaces the root logger. Intended for tests.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	root = l
	loggers = make(map[Category]*zap.Logger)
}

// Get returns the named logger for a category. Loggers are cached; the
// returned logger is safe for concurrent use.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := root.Named(string(cat))
	loggers[cat] = l
	return l
}

// Sync flushes buffered log entries. Called on process shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// FromEnv initializes logging from SHIURGEN_LOG_LEVEL / SHIURGEN_LOG_JSON.
func FromEnv() {
	level := os.Getenv("SHIURGEN_LOG_LEVEL")
	json := strings.EqualFold(os.Getenv("SHIURGEN_LOG_JSON"), "true")
	_ = Init(level, json)
}
