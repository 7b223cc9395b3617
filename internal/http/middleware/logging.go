package middleware

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"leadledger/internal/config"
)

// RequestLogger logs method, path, status and duration for every request.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	log := config.Logger()
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		log.WithFields(logrus.Fields{
			"method":      string(ctx.Method()),
			"path":        string(ctx.Path()),
			"status":      ctx.Response.StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_ip":   ctx.RemoteAddr().String(),
		}).Info("request")
	}
}
