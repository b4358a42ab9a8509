package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/chunk-streamer/internal/logging"
)

// TraceIDKey ключ trace-ID в контексте gin и заголовок ответа
const TraceIDKey = "trace_id"

// TraceHeader заголовок, в котором клиент получает trace-ID
const TraceHeader = "X-Trace-Id"

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи
type RequestLogger struct {
	logger *logging.Logger
}

// NewRequestLogger создаёт middleware. logger может быть nil (пакетный логгер).
func NewRequestLogger(logger *logging.Logger) *RequestLogger {
	return &RequestLogger{logger: logger}
}

func (rl *RequestLogger) debug(format string, args ...interface{}) {
	if rl.logger != nil {
		rl.logger.Debug(format, args...)
		return
	}
	logging.Debug(format, args...)
}

// Handler возвращает middleware
func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Пытаемся извлечь trace-id из OpenTelemetry, если уже создан.
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set(TraceIDKey, traceID)
		c.Header(TraceHeader, traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path

		c.Next()

		rl.debug("[HTTP] %s %s %d %s ip=%s trace=%s",
			method, path, c.Writer.Status(), time.Since(start), c.ClientIP(), traceID)
	}
}
