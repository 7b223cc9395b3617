package ctx

import (
	"github.com/valyala/fasthttp"

	dbpkg "leadledger/internal/db"
)

const (
	TenantKey = "tenant"
	APIKeyKey = "apiKey"
)

func SetTenant(ctx *fasthttp.RequestCtx, tenant *dbpkg.Tenant) {
	ctx.SetUserValue(TenantKey, tenant)
}

func TenantFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.Tenant, bool) {
	v := ctx.UserValue(TenantKey)
	if v == nil {
		return nil, false
	}
	t, ok := v.(*dbpkg.Tenant)
	return t, ok
}

func SetAPIKey(ctx *fasthttp.RequestCtx, apiKey *dbpkg.APIKey) {
	ctx.SetUserValue(APIKeyKey, apiKey)
}

func APIKeyFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.APIKey, bool) {
	v := ctx.UserValue(APIKeyKey)
	if v == nil {
		return nil, false
	}
	ak, ok := v.(*dbpkg.APIKey)
	return ak, ok
}
