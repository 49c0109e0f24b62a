package logger

import (
	"log/slog"
	"os"

	"github.com/14kear/sso-prettyslog/slogpretty/slogpretty"
)

const EnvLocal = "local"

func New(env string) *slog.Logger {
	switch env {
	case EnvLocal:
		return newPretty()
	default:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}

func newPretty() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}
	return slog.New(opts.NewPrettyHandler(os.Stdout))
}
