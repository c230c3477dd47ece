// Package logger builds the structured logger threaded through every
// engine subsystem's Config struct.
package logger

import "go.uber.org/zap"

// New builds a production JSON logger tagged with the given service
// name, falling back to zap's no-op logger if construction fails so
// that callers never have to nil-check a logger.
func New(service string, opts ...zap.Option) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zap.NewProductionEncoderConfig().EncodeTime

	log, err := cfg.Build(opts...)
	if err != nil {
		return zap.NewNop().Sugar()
	}

	return log.Sugar().With("service", service)
}
