package logger

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Log is the process-wide logger. It is a no-op until Initialize runs.
	Log = zap.NewNop()
)

type ctxKey string

// RequestIDKey is the key used to store the request ID in gin and context values
const RequestIDKey = "request_id"

const runIDKey ctxKey = "import_run_id"

// Initialize sets up the logger for the environment ("production" gives JSON)
func Initialize(env string) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	built, err := config.Build()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	Log = built
	zap.ReplaceGlobals(built)
}

// Sync flushes buffered entries
func Sync() {
	_ = Log.Sync()
}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// RequestLogger returns a gin middleware that logs request details
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%d", time.Now().UnixNano())
		}
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		Log.Info("Request completed",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.String("tenant_id", c.GetHeader("X-Tenant-ID")),
		)
	}
}

// WithRunID stores the import run ID in ctx
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// ForContext returns the logger annotated with request and run IDs found in ctx
func ForContext(ctx context.Context) *zap.Logger {
	l := Log
	if ginCtx, ok := ctx.(*gin.Context); ok {
		if requestID, exists := ginCtx.Get(RequestIDKey); exists {
			if s, ok := requestID.(string); ok {
				l = l.With(zap.String("request_id", s))
			}
		}
	}
	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		l = l.With(zap.String("import_run_id", runID))
	}
	return l
}

// Error logs an error with the context identifiers
func Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ForContext(ctx).Error(msg, fields...)
}

// Info logs an info message with the context identifiers
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	ForContext(ctx).Info(msg, fields...)
}

// Warn logs a warning message with the context identifiers
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	ForContext(ctx).Warn(msg, fields...)
}
