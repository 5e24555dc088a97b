package logger

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the application logger from cfg.
func New(cfg *Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Level == "debug" {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}

	switch cfg.Format {
	case "console":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	default:
		zc.Encoding = "json"
	}
	zc.EncoderConfig.LevelKey = "level"
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.MessageKey = "message"

	if cfg.Output != "" {
		out, err := homedir.Expand(cfg.Output)
		if err != nil {
			return nil, err
		}
		if out != "stderr" && out != "stdout" {
			// Color codes do not belong in files.
			zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		zc.OutputPaths = []string{out}
	}

	return zc.Build()
}

// WithRayID returns a logger with the ray_id field set from the Fiber context.
func WithRayID(l *zap.Logger, c *fiber.Ctx) *zap.Logger {
	if rid, ok := c.Locals("ray_id").(string); ok && rid != "" {
		return l.With(zap.String("ray_id", rid))
	}
	return l
}

// WithSync returns a logger tagged with the sync instance and its root.
func WithSync(l *zap.Logger, syncID, root string) *zap.Logger {
	return l.With(zap.String("sync_id", syncID), zap.String("root", root))
}
