package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvironmentProd = "prod"
	EnvironmentTest = "test"
	EnvironmentDev  = "dev"
)

// NewLogger builds the process logger for the given environment: JSON in
// prod, zap's example logger in test and a colored console logger otherwise.
func NewLogger(environment string) (*zap.Logger, error) {
	var (
		l   *zap.Logger
		err error
	)
	switch environment {
	case EnvironmentProd, "production":
		l, err = zap.NewProduction()
	case EnvironmentTest:
		l = zap.NewExample()
	default:
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		l, err = cfg.Build()
	}

	return l, err
}

func MustNewLogger(environment string) *zap.Logger {
	return zap.Must(NewLogger(environment))
}
