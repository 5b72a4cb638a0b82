// Package debuglog writes optional diagnostic output to a rotated file
// under ~/.chronicle. Disabled unless CHRONICLE_DEBUG is set. Secrets
// and full prompts must never be passed to this package.
package debuglog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/untoldecay/chronicle/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	once   sync.Once
	logger *log.Logger
)

func get() *log.Logger {
	once.Do(func() {
		if !config.DebugEnabled() {
			return
		}
		dir, err := os.UserHomeDir()
		if err != nil {
			return
		}
		logger = log.New(&lumberjack.Logger{
			Filename:   filepath.Join(dir, ".chronicle", "debug.log"),
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
		}, "", log.LstdFlags|log.Lmicroseconds)
	})
	return logger
}

// Printf logs a formatted line when debug logging is enabled.
func Printf(format string, args ...any) {
	if l := get(); l != nil {
		l.Output(2, fmt.Sprintf(format, args...))
	}
}
