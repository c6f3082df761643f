// Package logging installs the process-wide slog handler: console output,
// an optional JSON-lines file and optional caregiver alerts over Telegram.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"
	slogtelegram "github.com/samber/slog-telegram/v2"

	"github.com/bdobrica/Sohayok/common/redact"
	"github.com/bdobrica/Sohayok/internal/sohayok/config"
)

// NotifyKey tags a record for delivery to the alert channel regardless of
// level.
const NotifyKey = "notify"

// Preinit installs a console handler so start-up errors are visible before
// the configuration is loaded.
func Preinit() {
	slog.SetDefault(slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	})))
}

// Init builds the configured handler, installs it as the default and
// returns a closer for the log file, if any.
func Init(cfg *config.Config) (io.Closer, error) {
	logger, closer, err := New(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

// New builds a logger writing console output to w.
func New(cfg *config.Config, w io.Writer) (*slog.Logger, io.Closer, error) {
	level := cfg.SlogLevel()
	router := slogmulti.Router()

	router = router.Add(console.NewHandler(w, &console.HandlerOptions{
		AddSource: level == slog.LevelDebug,
		Level:     level,
	}))

	var closer io.Closer = nopCloser{}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open log file: %w", err)
		}
		router = router.Add(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		closer = f
	}

	var alertsDown bool
	if cfg.Log.Telegram.Token != "" {
		// nil when the bot API rejects the token or is unreachable
		tg := slogtelegram.Option{
			Level:     slog.LevelDebug,
			Token:     cfg.Log.Telegram.Token,
			Username:  cfg.Log.Telegram.ChatID,
			AddSource: true,
		}.NewTelegramHandler()
		if tg != nil {
			router = router.Add(tg, ShouldNotify)
		} else {
			alertsDown = true
		}
	}

	handler := router.Handler()
	if tok := cfg.Log.Telegram.Token; tok != "" {
		handler = slogmulti.Pipe(RedactSecrets(tok)).Handler(handler)
	}
	logger := slog.New(handler)
	if alertsDown {
		logger.Warn("logging: telegram alerts disabled, bot login failed", "chat_id", cfg.Log.Telegram.ChatID)
	}
	return logger, closer, nil
}

// RedactSecrets masks the given values in record messages and in string or
// error attributes before any handler sees them. Bot API errors embed the
// token in the request URL.
func RedactSecrets(secrets ...string) slogmulti.Middleware {
	return slogmulti.NewHandleInlineMiddleware(func(ctx context.Context, r slog.Record, next func(context.Context, slog.Record) error) error {
		out := slog.NewRecord(r.Time, r.Level, redact.String(r.Message, secrets...), r.PC)
		r.Attrs(func(attr slog.Attr) bool {
			out.AddAttrs(redactAttr(attr, secrets))
			return true
		})
		return next(ctx, out)
	})
}

func redactAttr(attr slog.Attr, secrets []string) slog.Attr {
	v := attr.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, redact.String(v.String(), secrets...))
	case slog.KindGroup:
		group := v.Group()
		out := make([]slog.Attr, len(group))
		for i, a := range group {
			out[i] = redactAttr(a, secrets)
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(out...)}
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(attr.Key, redact.String(err.Error(), secrets...))
		}
	}
	return slog.Attr{Key: attr.Key, Value: v}
}

// ShouldNotify reports whether a record goes to the alert channel: errors,
// and any record carrying notify=true.
func ShouldNotify(_ context.Context, r slog.Record) bool {
	if r.Level >= slog.LevelError {
		return true
	}
	notify := false
	r.Attrs(func(attr slog.Attr) bool {
		if attr.Key == NotifyKey {
			notify = attr.Value.Kind() == slog.KindBool && attr.Value.Bool()
			return false
		}
		return true
	})
	return notify
}

// Notify is the attribute that routes a record to caregivers.
func Notify() slog.Attr {
	return slog.Bool(NotifyKey, true)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
