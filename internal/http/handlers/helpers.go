package handlers

import (
	"github.com/valyala/fasthttp"

	dbpkg "leadledger/internal/db"
	httpctx "leadledger/internal/http/ctx"
)

// MustTenant returns the authenticated tenant from context, or sends 401 and
// returns (nil, false).
func MustTenant(ctx *fasthttp.RequestCtx) (*dbpkg.Tenant, bool) {
	t, ok := httpctx.TenantFromCtx(ctx)
	if !ok || t == nil {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString("unauthorized")
		return nil, false
	}
	return t, true
}

// recorderIdentity resolves who is recording a write: the caller-supplied
// identity when present, otherwise the API key's name. The service trusts
// the identity string it is given.
func recorderIdentity(ctx *fasthttp.RequestCtx, supplied string) string {
	if supplied != "" {
		return supplied
	}
	if key, ok := httpctx.APIKeyFromCtx(ctx); ok && key != nil {
		return key.Name
	}
	return ""
}
