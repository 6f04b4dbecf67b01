package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger appending to path when enabled, and a no-op
// logger otherwise. The terminal belongs to the UI, so nothing is written
// to stdout or stderr.
func New(enabled bool, path string) (*zap.Logger, error) {
	if !enabled {
		return zap.NewNop(), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(f),
		zap.DebugLevel,
	)
	return zap.New(core, zap.AddCaller()), nil
}
