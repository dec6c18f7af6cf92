package build

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// Subsystem tags. Each package logs under its own tag so that output can be
// attributed at a glance.
const (
	SubsystemMain    = "DLMN"
	SubsystemCatalog = "CATL"
	SubsystemRemote  = "RMTE"
	SubsystemRetry   = "RTRY"
	SubsystemCache   = "CACH"
	SubsystemMCP     = "MCPS"
)

// LogConfig configures logging.
type LogConfig struct {
	// Level is a btclog level name such as "info" or "debug".
	Level string

	// Console receives human readable output. Defaults to stderr so that
	// stdout stays free for command output and the MCP stdio transport.
	Console io.Writer

	// Rotator enables a rotating log file when non-nil and LogDir is set.
	Rotator *LogRotatorConfig
}

// LogManager hands out subsystem loggers sharing one handler chain.
type LogManager struct {
	handler *HandlerSet
	file    *RotatingLogWriter
}

// NewLogManager builds the handler chain described by cfg.
func NewLogManager(cfg LogConfig) (*LogManager, error) {
	level, ok := btclog.LevelFromString(strings.ToLower(cfg.Level))
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []btclogv2.Handler{btclogv2.NewDefaultHandler(console)}

	m := &LogManager{}
	if cfg.Rotator != nil && cfg.Rotator.LogDir != "" {
		file, err := NewRotatingLogWriter(*cfg.Rotator)
		if err != nil {
			return nil, err
		}

		m.file = file
		handlers = append(handlers, btclogv2.NewDefaultHandler(file))
	}

	m.handler = NewHandlerSet(handlers...)
	m.handler.SetLevel(level)

	return m, nil
}

// Logger returns the logger for a subsystem tag.
func (m *LogManager) Logger(subsystem string) btclogv2.Logger {
	return btclogv2.NewSLogger(m.handler.SubSystem(subsystem))
}

// Close flushes and closes the log file, if any.
func (m *LogManager) Close() error {
	if m.file == nil {
		return nil
	}

	return m.file.Close()
}
