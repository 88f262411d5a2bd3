package callbackserver

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/paypoint-blue/internal/auth"
	"github.com/r9s-ai/paypoint-blue/internal/config"
	"github.com/r9s-ai/paypoint-blue/internal/requestid"
	"github.com/r9s-ai/paypoint-blue/pkg/callback"
	"github.com/r9s-ai/paypoint-blue/pkg/trafficdump"
)

// NewRouter builds the callback receiver. accessLogger may be nil to
// disable the access log.
func NewRouter(cfg *config.Config, h callback.Handler, accessLogger *log.Logger, accessColor bool) *gin.Engine {
	r := gin.New()
	r.Use(requestIDMiddleware())
	if accessLogger != nil {
		r.Use(requestLoggerWithColor(accessLogger, accessColor))
	}
	r.Use(gin.Recovery())
	if cfg.TrafficDump.Enabled {
		r.Use(trafficDumpMiddleware(cfg.DumpConfig()))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	secured := r.Group("/")
	secured.Use(auth.Middleware(cfg.Callbacks.Token))
	callback.Register(secured, h)

	return r
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := requestid.FromHeader(c.GetHeader(requestid.HeaderKey))
		c.Header(requestid.HeaderKey, id)
		c.Set(requestid.HeaderKey, id)
		c.Next()
	}
}

func trafficDumpMiddleware(cfg trafficdump.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := trafficdump.Start(c, cfg)
		if err != nil {
			c.Next()
			return
		}
		c.Next()
		rec.Close()
	}
}
