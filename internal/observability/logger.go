package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger and tags every entry with app.
// LOG_LEVEL and LOG_FORMAT are read from the environment; see loggerConfig.
func NewLogger(app string) (*zap.Logger, error) {
	logger, err := loggerConfig(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL")).Build()
	if err != nil {
		return nil, err
	}
	if app != "" {
		logger = logger.With(zap.String("app", app))
	}
	return logger, nil
}

// loggerConfig returns JSON to stdout unless format is "console", which keeps
// the development encoder for a terminal. Timestamps are ISO 8601 under "timestamp".
func loggerConfig(format, level string) zap.Config {
	config := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(level)
	config.OutputPaths = []string{"stdout"}
	return config
}

func parseLogLevel(s string) zap.AtomicLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "WARN", "WARNING":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "ERROR":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
