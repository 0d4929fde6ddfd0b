package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	headerRequestID = "X-Request-Id"
	ginKey          = "logger"
)

// Middleware tags each request with request_id (taken from X-Request-Id or
// generated) and, when the request is traced, trace_id and span_id. It logs
// one summary line per request; routes listed in quiet (health probes) log
// at debug level unless they fail.
func Middleware(l *slog.Logger, quiet ...string) gin.HandlerFunc {
	quietSet := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		quietSet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			reqLogger = reqLogger.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
		}
		Set(c, reqLogger)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", float64(time.Since(start).Milliseconds()),
		}

		level := slog.LevelInfo
		if _, ok := quietSet[path]; ok {
			level = slog.LevelDebug
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
			level = slog.LevelError
		} else if status >= 500 {
			level = slog.LevelError
		}
		// handlers may have enriched the logger (user_id, call_id)
		FromGin(c).Log(c.Request.Context(), level, "request", attrs...)
	}
}

// Set installs l as the request-scoped logger on both the Gin context and the
// request context, so code that only sees a context.Context gets it too.
func Set(c *gin.Context, l *slog.Logger) {
	c.Set(ginKey, l)
	c.Request = c.Request.WithContext(With(c.Request.Context(), l))
}

// Enrich adds attributes to the request-scoped logger for the rest of the
// request, including the summary line.
func Enrich(c *gin.Context, args ...any) *slog.Logger {
	l := FromGin(c).With(args...)
	Set(c, l)
	return l
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
