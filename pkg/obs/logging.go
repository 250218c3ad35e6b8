package obs

import (
	"log/slog"
	"os"
)

// Logger is the global structured logger. It defaults to a JSON handler at
// info level so packages (and their tests) can log before InitLogger runs.
var Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// InitLogger reconfigures the global Logger, optionally with debug level.
func InitLogger(debug bool) {
	lvl := slog.LevelInfo
	if debug {
		lvl = slog.LevelDebug
	}
	Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(Logger)
}
