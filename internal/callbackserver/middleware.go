package callbackserver

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/paypoint-blue/internal/logx"
	"github.com/r9s-ai/paypoint-blue/internal/requestid"
	"github.com/r9s-ai/paypoint-blue/pkg/callback"
)

func requestLoggerWithColor(l *log.Logger, color bool) gin.HandlerFunc {
	if l == nil {
		l = log.New(os.Stdout, "", log.LstdFlags)
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)

		fields := map[string]any{}
		if v := c.GetString(requestid.HeaderKey); v != "" {
			fields["request_id"] = v
		}
		if v, ok := c.Get(callback.CtxKeyKind); ok {
			fields["callback"] = v
		}
		if v, ok := c.Get(callback.CtxKeyTransactionID); ok {
			fields["transaction_id"] = v
		}
		if v, ok := c.Get(callback.CtxKeyAction); ok {
			fields["action"] = v
		}
		fields["latency_ms"] = latency.Milliseconds()
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			fields["error"] = errs.String()
		}

		l.Println(logx.FormatRequestLineWithColor(time.Now(), status, latency, c.ClientIP(), c.Request.Method, c.Request.URL.Path, fields, color))
	}
}
