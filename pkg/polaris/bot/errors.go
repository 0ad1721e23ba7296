package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
)

// Errors.
var (
	ErrAlreadyStarted = errors.New("bot already started")
	ErrStopped        = errors.New("bot stopped")
	ErrHookTimeout    = errors.New("hook timed out")
)

// Hook names used in HookError.
const (
	HookProcess = "process"
	HookRun     = "run"
	HookInline  = "inline"
	HookCron    = "cron"
)

// HookError is a failure of a single plugin hook invocation. It never
// escapes the dispatcher or the cron loop.
type HookError struct {
	Plugin  string
	Hook    string
	Message *channels.Message
	Err     error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %s: %s hook: %v", e.Plugin, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// ErrorReporter receives isolated plugin failures.
type ErrorReporter interface {
	Report(ctx context.Context, err *HookError)
}

// ReporterFunc adapts a function to ErrorReporter.
type ReporterFunc func(ctx context.Context, err *HookError)

func (f ReporterFunc) Report(ctx context.Context, err *HookError) { f(ctx, err) }

// LogReporter logs hook failures at error level.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(ctx context.Context, err *HookError) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"plugin", err.Plugin, "hook", err.Hook, "error", err.Err}
	if err.Message != nil {
		attrs = append(attrs, "conversation", err.Message.Conversation.ID, "content", err.Message.Content)
	}
	logger.ErrorContext(ctx, "plugin hook failed", attrs...)
}

// adminReporter logs the failure and posts a short notice to an admin
// conversation through the outbox.
type adminReporter struct {
	next         ErrorReporter
	bot          *Bot
	conversation string
}

func (r *adminReporter) Report(ctx context.Context, err *HookError) {
	r.next.Report(ctx, err)

	text := fmt.Sprintf("%s failed in %s: %v", err.Plugin, err.Hook, err.Err)
	if err.Message != nil && err.Message.Content != "" {
		text += "\n> " + err.Message.Content
	}
	msg := channels.NewMessage(channels.Conversation{ID: r.conversation}, r.bot.Me(), text, channels.MessageText)
	if perr := r.bot.Send(msg); perr != nil {
		r.bot.logger.Debug("admin notice dropped", "error", perr)
	}
}
