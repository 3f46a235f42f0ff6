package web

import (
	"fmt"
	"io"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

// accessLog formats gorilla access log entries through zap. Health and
// metrics scrapes are logged at debug level.
func accessLog(logger *zap.Logger) handlers.LogFormatter {
	return func(_ io.Writer, p handlers.LogFormatterParams) {
		fields := []zap.Field{
			zap.String("method", p.Request.Method),
			zap.String("path", p.URL.Path),
			zap.Int("status", p.StatusCode),
			zap.Int("size", p.Size),
			zap.String("remote_addr", p.Request.RemoteAddr),
			zap.Duration("took", time.Since(p.TimeStamp)),
		}
		switch p.URL.Path {
		case "/health", "/metrics":
			logger.Debug("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}

type recoveryLogger struct {
	logger *zap.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("recovered from panic in http handler", zap.String("panic", fmt.Sprint(v...)))
}
