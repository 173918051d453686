package logger

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noah-isme/sma-timetable/pkg/config"
	"github.com/noah-isme/sma-timetable/pkg/middleware/requestid"
)

const serviceName = "timetable"

// New builds the service logger: JSON in production, development defaults elsewhere.
func New(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.Env == config.EnvProduction {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Encoding = "json"
	if cfg.Log.Format == "console" {
		zapCfg.Encoding = "console"
	}
	zapCfg.Level = parseLevel(cfg.Log.Level)
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapCfg.Build(zap.Fields(zap.String("service", serviceName)))
}

// NewConsole builds a human-readable logger for command line tools. It writes to stderr so
// anything printed on stdout stays machine readable.
func NewConsole(level string) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Encoding = "console"
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.DisableStacktrace = true
	zapCfg.Level = parseLevel(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
	return zapCfg.Build()
}

// parseLevel falls back to info for empty or unknown levels.
func parseLevel(raw string) zap.AtomicLevel {
	level, err := zap.ParseAtomicLevel(raw)
	if err != nil || raw == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return level
}

// FromContext tags l with the request id carried by ctx, if any.
func FromContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	if id := requestid.FromContext(ctx); id != "" {
		return l.With(zap.String("request_id", id))
	}
	return l
}

// GinMiddleware writes one access log line per request, leveled by status class.
func GinMiddleware(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if reqID := requestid.Value(c); reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			l.Error("http_request", fields...)
		case status >= 400:
			l.Warn("http_request", fields...)
		default:
			l.Info("http_request", fields...)
		}
	}
}
