// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"stealth-trader/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "stealth-trader", "logs", "engine.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stdout
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithComponent adds a component name to the logger context.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// LogPositionOpened logs a new position entering the ledger.
func LogPositionOpened(logger zerolog.Logger, ev models.PositionOpened) {
	logger.Info().
		Str("event", "position_opened").
		Str("symbol", ev.Symbol).
		Int("quantity", ev.Quantity).
		Float64("notional", ev.NotionalValue).
		Float64("stop", ev.StopPrice).
		Float64("take_profit", ev.TakeProfitPrice).
		Msg("Position opened")
}

// LogStageAdvance logs a stage machine advance.
func LogStageAdvance(logger zerolog.Logger, symbol string, from, to models.Stage, stop float64) {
	logger.Info().
		Str("event", "stage_advance").
		Str("symbol", symbol).
		Str("from", string(from)).
		Str("to", string(to)).
		Float64("stop", stop).
		Msg("Stage advanced")
}

// LogExit logs an exit event.
func LogExit(logger zerolog.Logger, ev models.ExitEvent) {
	logger.Info().
		Str("event", "exit").
		Str("symbol", ev.Symbol).
		Str("reason", string(ev.Reason)).
		Str("stage", string(ev.StageAtExit)).
		Float64("exit_price", ev.ExitPrice).
		Float64("pnl", ev.RealizedPnL).
		Dur("held", ev.HoldingDuration).
		Msg("Position closed")
}

// LogDataFailure logs a market-data failure for a symbol.
func LogDataFailure(logger zerolog.Logger, symbol string, consecutive int, err error) {
	logger.Warn().
		Str("event", "data_failure").
		Str("symbol", symbol).
		Int("consecutive", consecutive).
		Err(err).
		Msg("Market data unavailable")
}

// LogInvariantViolation logs a rejected ledger mutation. Serious: this
// indicates a logic bug upstream of the ledger.
func LogInvariantViolation(logger zerolog.Logger, symbol string, err error) {
	logger.Error().
		Str("event", "invariant_violation").
		Str("symbol", symbol).
		Err(err).
		Msg("Ledger mutation rejected")
}
