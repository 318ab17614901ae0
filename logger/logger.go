package logger

import (
	"os"

	"github.com/op/go-logging"
)

// default log format: time, module tag, level and message.
var format = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{module} > %{level:.4s} %{message}`,
)

func init() {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, format)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(logging.INFO, "")
	logging.SetBackend(leveled)
}

// NewLogger returns a module-tagged logger. Callers keep one per
// package:
//
//	var log = logger.NewLogger("[backend]")
func NewLogger(module string) *logging.Logger {
	return logging.MustGetLogger(module)
}

// SetLevel adjusts the minimum level for every module at once.
func SetLevel(level logging.Level) {
	logging.SetLevel(level, "")
}

// SetLevelByName parses a level name such as "DEBUG" or "warning" and
// applies it globally. Unknown names leave the level unchanged.
func SetLevelByName(name string) error {
	level, err := logging.LogLevel(name)
	if err != nil {
		return err
	}
	SetLevel(level)
	return nil
}
