package httpserv

import (
	"net/http"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/gin-gonic/gin"

	"github.com/bluenviron/reframer/internal/logger"
)

// MiddlewareLogger is a middleware that logs requests and the amount of
// bytes sent in response. Bodies are not kept in memory since responses
// are media streams.
func MiddlewareLogger(p logger.Writer) func(*gin.Context) {
	return func(ctx *gin.Context) {
		p.Log(logger.Debug, "[conn %v] %s %s", ctx.Request.RemoteAddr, ctx.Request.Method, ctx.Request.URL.Path)

		start := time.Now()

		ctx.Next()

		size := ctx.Writer.Size()
		if size < 0 {
			size = 0
		}

		p.Log(logger.Debug, "[conn %v] %d %s, %s sent in %v",
			ctx.Request.RemoteAddr,
			ctx.Writer.Status(),
			http.StatusText(ctx.Writer.Status()),
			bytefmt.ByteSize(uint64(size)),
			time.Since(start).Round(time.Millisecond))
	}
}

// MiddlewareServerHeader is a middleware that sets the Server header.
func MiddlewareServerHeader(ctx *gin.Context) {
	ctx.Writer.Header().Set("Server", "reframer")
	ctx.Next()
}
