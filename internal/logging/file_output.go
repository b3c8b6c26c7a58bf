package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// ConfigureFileOutput switches log output to a rotating file under dir,
// or back to stderr when dir is empty. Rotation keeps files at 10MB.
func ConfigureFileOutput(dir string) error {
	writerMu.Lock()
	defer writerMu.Unlock()

	if dir == "" {
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
		}
		SetOutput(os.Stderr)
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	if logWriter != nil {
		_ = logWriter.Close()
	}
	logWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "inferkit.log"),
		MaxSize:    10,
		MaxBackups: 0,
		MaxAge:     0,
		Compress:   false,
	}
	SetOutput(logWriter)
	return nil
}

// CloseFileOutput flushes and closes the rotating file, if any.
// Registered as an exit handler by the CLI.
func CloseFileOutput() {
	writerMu.Lock()
	defer writerMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}
