package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const logLevelEnv = "BWM_LOG_LEVEL"

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger returns a JSON logger on stdout tagged with component. The level
// comes from BWM_LOG_LEVEL.
func NewLogger(component string) zerolog.Logger {
	return newLogger(os.Stdout, component, ParseLogLevel(os.Getenv(logLevelEnv)))
}

func newLogger(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	ctx := zerolog.New(w).Level(level).With().Timestamp()
	return ctx.Str("component", component).Logger()
}

// ParseLogLevel accepts any zerolog level name, case-insensitively.
// Empty or unknown names mean info.
func ParseLogLevel(s string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
