package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "leadledger/internal/db"
)

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "ll_" + base64.URLEncoding.EncodeToString(b), nil
}

type createTenantRequest struct {
	Name string `json:"name"`
}

// CreateTenant provisions a new tenant. Admin-only.
func CreateTenant(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req createTenantRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			badRequest(ctx, "invalid JSON body")
			return
		}
		if req.Name == "" {
			badRequest(ctx, "name is required")
			return
		}

		var existing dbpkg.Tenant
		if err := db.Where("name = ?", req.Name).Limit(1).Find(&existing).Error; err != nil {
			errResponse(ctx, err)
			return
		}
		if existing.ID != "" {
			jsonResponse(ctx, fasthttp.StatusConflict, map[string]any{
				"error":  "tenant_exists",
				"detail": "a tenant with this name already exists",
			})
			return
		}

		tenant := dbpkg.Tenant{ID: dbpkg.NewID(), Name: req.Name, Active: true}
		if err := db.Create(&tenant).Error; err != nil {
			errResponse(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusCreated, map[string]any{
			"id":     tenant.ID,
			"name":   tenant.Name,
			"active": tenant.Active,
		})
	}
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

// CreateTenantAPIKey mints a new API key for a tenant. The full token is
// returned exactly once; only the secret's bcrypt hash is stored.
func CreateTenantAPIKey(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenantID, _ := ctx.UserValue("tenant_id").(string)

		var tenant dbpkg.Tenant
		if err := db.Where("id = ?", tenantID).Limit(1).Find(&tenant).Error; err != nil {
			errResponse(ctx, err)
			return
		}
		if tenant.ID == "" {
			jsonResponse(ctx, fasthttp.StatusNotFound, map[string]any{
				"error": "tenant_not_found",
			})
			return
		}

		var req createAPIKeyRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			badRequest(ctx, "invalid JSON body")
			return
		}
		if req.Name == "" {
			badRequest(ctx, "name is required")
			return
		}

		secret, err := generateSecret()
		if err != nil {
			errResponse(ctx, err)
			return
		}
		hash, err := dbpkg.HashSecret(secret)
		if err != nil {
			errResponse(ctx, err)
			return
		}

		key := dbpkg.APIKey{
			TenantID:   tenant.ID,
			KeyID:      dbpkg.NewID(),
			SecretHash: hash,
			Name:       req.Name,
			Active:     true,
		}
		if err := db.Create(&key).Error; err != nil {
			errResponse(ctx, err)
			return
		}

		jsonResponse(ctx, fasthttp.StatusCreated, map[string]any{
			"key_id": key.KeyID,
			"name":   key.Name,
			// The only time the caller ever sees the full token.
			"token": key.KeyID + "." + secret,
		})
	}
}

// ListTenantAPIKeys lists a tenant's keys without their secrets.
func ListTenantAPIKeys(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenantID, _ := ctx.UserValue("tenant_id").(string)

		var keys []dbpkg.APIKey
		if err := db.Where("tenant_id = ?", tenantID).Order("created_at asc").Find(&keys).Error; err != nil {
			errResponse(ctx, err)
			return
		}

		views := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			views = append(views, map[string]any{
				"key_id":     k.KeyID,
				"name":       k.Name,
				"active":     k.Active,
				"created_at": k.CreatedAt,
			})
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"api_keys": views})
	}
}

type setAPIKeyActiveRequest struct {
	Active *bool `json:"active"`
}

// SetAPIKeyActive enables or disables a key. Keys are deactivated, never
// deleted, so writes made with them stay attributable.
func SetAPIKeyActive(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		keyID, _ := ctx.UserValue("key_id").(string)

		var req setAPIKeyActiveRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			badRequest(ctx, "invalid JSON body")
			return
		}
		if req.Active == nil {
			badRequest(ctx, "active (true|false) is required")
			return
		}

		var key dbpkg.APIKey
		if err := db.Where("key_id = ?", keyID).Limit(1).Find(&key).Error; err != nil {
			errResponse(ctx, err)
			return
		}
		if key.ID == 0 {
			jsonResponse(ctx, fasthttp.StatusNotFound, map[string]any{
				"error": "api_key_not_found",
			})
			return
		}

		if err := db.Model(&key).Update("active", *req.Active).Error; err != nil {
			errResponse(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{
			"key_id": key.KeyID,
			"active": *req.Active,
		})
	}
}
