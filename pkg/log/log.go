package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/web3tea/cdc-sentinel/capturer"
)

type ZeroLogger struct {
	logger zerolog.Logger
	name   string
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log
}

func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// SetLevel parses a level name (debug, info, warn, error) and applies it
// globally.
func SetLevel(name string) error {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	SetGlobalLevel(level)
	return nil
}

func NewLogger(name string, output io.Writer) *ZeroLogger {
	if output == nil {
		output = os.Stdout
	}

	logger := zerolog.New(output).
		With().
		Timestamp().
		Str("logger", name).
		Logger()

	return &ZeroLogger{
		logger: logger,
		name:   name,
	}
}

// Named returns a logger writing to the same output under another name.
func (l *ZeroLogger) Named(name string) *ZeroLogger {
	return &ZeroLogger{
		logger: l.logger.With().Str("logger", name).Logger(),
		name:   name,
	}
}

func (l *ZeroLogger) Debugf(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *ZeroLogger) Infof(format string, args ...any) {
	l.logger.Info().Msgf(format, args...)
}

func (l *ZeroLogger) Warnf(format string, args ...any) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *ZeroLogger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}

var _ capturer.Logger = (*ZeroLogger)(nil)

var defaultLogger = NewLogger("default", nil)

// Default returns the process-wide logger used by the package functions.
func Default() *ZeroLogger {
	return defaultLogger
}

func withCaller(event *zerolog.Event) *zerolog.Event {
	_, file, line, ok := runtime.Caller(2)
	if ok {
		event = event.Str("caller", filepath.Base(file)+":"+strconv.Itoa(line))
	}
	return event
}

func Debugf(format string, args ...any) {
	withCaller(defaultLogger.logger.Debug()).Msgf(format, args...)
}

func Infof(format string, args ...any) {
	withCaller(defaultLogger.logger.Info()).Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	withCaller(defaultLogger.logger.Warn()).Msgf(format, args...)
}

func Errorf(format string, args ...any) {
	withCaller(defaultLogger.logger.Error()).Msgf(format, args...)
}

func Fatalf(format string, args ...any) {
	// zerolog exits the process once the event is written
	withCaller(defaultLogger.logger.Fatal()).Msgf(format, args...)
}
