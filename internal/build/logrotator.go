package build

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
)

const (
	// DefaultMaxLogFiles is how many rotated log files are kept.
	DefaultMaxLogFiles = 10

	// DefaultMaxLogFileSize is the rotation threshold in megabytes.
	DefaultMaxLogFileSize = 20

	// DefaultLogFilename is the log file name inside the log directory.
	DefaultLogFilename = "dlmenu.log"
)

// LogRotatorConfig configures the rotating log file.
type LogRotatorConfig struct {
	// LogDir is the directory the log file is written to.
	LogDir string

	// MaxLogFiles is how many rotated files are kept. Zero keeps a single
	// file that grows without bound.
	MaxLogFiles int

	// MaxLogFileSize is the rotation threshold in megabytes.
	MaxLogFileSize int

	// Filename overrides DefaultLogFilename.
	Filename string
}

// RotatingLogWriter is an io.Writer feeding a jrick/logrotate rotator
// through a pipe. Rotated files are gzip compressed.
type RotatingLogWriter struct {
	pipe *io.PipeWriter
	done chan struct{}
}

// NewRotatingLogWriter creates the log directory and starts the rotator.
func NewRotatingLogWriter(cfg LogRotatorConfig) (*RotatingLogWriter, error) {
	filename := cfg.Filename
	if filename == "" {
		filename = DefaultLogFilename
	}
	maxSize := cfg.MaxLogFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxLogFileSize
	}

	logFile := filepath.Join(cfg.LogDir, filename)
	if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	// The rotator takes its threshold in kilobytes.
	rot, err := rotator.New(
		logFile, int64(maxSize*1024), false, cfg.MaxLogFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("create log rotator: %w", err)
	}
	rot.SetCompressor(gzip.NewWriter(nil), ".gz")

	pr, pw := io.Pipe()
	w := &RotatingLogWriter{pipe: pw, done: make(chan struct{})}

	go func() {
		defer close(w.done)

		// The rotator is the log destination, so its own failures can
		// only go to stderr.
		if err := rot.Run(pr); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "log rotator: %v\n", err)
		}
		_ = rot.Close()
	}()

	return w, nil
}

// Write sends b to the rotator.
func (w *RotatingLogWriter) Write(b []byte) (int, error) {
	return w.pipe.Write(b)
}

// Close flushes pending output and waits for the rotator to exit.
func (w *RotatingLogWriter) Close() error {
	err := w.pipe.Close()
	<-w.done

	return err
}
