package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/valyala/fasthttp"

	"leadledger/internal/config"
)

// AdminAuth guards the provisioning endpoints with the static operator token
// from APP_ADMIN_TOKEN. No token configured means no admin surface at all.
func AdminAuth(cfg *config.Config) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if cfg.AdminToken == "" {
				ctx.SetStatusCode(fasthttp.StatusNotFound)
				return
			}

			auth := string(ctx.Request.Header.Peek("Authorization"))
			token := strings.TrimPrefix(auth, "Bearer ")
			if token == auth || token == "" {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("missing bearer token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.AdminToken)) != 1 {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid admin token")
				return
			}

			next(ctx)
		}
	}
}
