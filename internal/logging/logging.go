// Package logging configures the standard logger's output.
package logging

import (
	"io"
	"log"
	"os"

	"retailsync/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup points the standard logger at stderr, teeing into a rotating file
// when cfg.File is set. The returned closer releases the file.
func Setup(cfg config.LogConfig) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	log.Printf("[Logging] Writing logs to %s (max %dMB x %d)", cfg.File, cfg.MaxSizeMB, cfg.MaxBackups)
	return rotator
}

// New returns a component logger that writes wherever the standard logger
// writes, prefixed with [name].
func New(name string) *log.Logger {
	return log.New(log.Writer(), "["+name+"] ", log.Flags())
}
