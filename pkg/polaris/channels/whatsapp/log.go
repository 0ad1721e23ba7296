package whatsapp

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogAdapter routes whatsmeow's logger into slog. Library info logs are
// demoted to debug; they are mostly protocol chatter.
type slogAdapter struct {
	logger *slog.Logger
}

func newLogger(logger *slog.Logger, module string) waLog.Logger {
	return slogAdapter{logger: logger.With("module", module)}
}

func (a slogAdapter) Errorf(msg string, args ...any) { a.logger.Error(fmt.Sprintf(msg, args...)) }
func (a slogAdapter) Warnf(msg string, args ...any)  { a.logger.Warn(fmt.Sprintf(msg, args...)) }
func (a slogAdapter) Infof(msg string, args ...any)  { a.logger.Debug(fmt.Sprintf(msg, args...)) }
func (a slogAdapter) Debugf(msg string, args ...any) {}

func (a slogAdapter) Sub(module string) waLog.Logger {
	return slogAdapter{logger: a.logger.With("sub", module)}
}
