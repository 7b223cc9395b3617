package main

import (
	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"

	"leadledger/internal/config"
	"leadledger/internal/db"
	"leadledger/internal/http/handlers"
	appmw "leadledger/internal/http/middleware"
	"leadledger/internal/jobs"
	"leadledger/internal/ledger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := config.Logger()

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}

	if err := db.EnsureBootstrapTenant(sqlDB, cfg); err != nil {
		log.WithError(err).Fatal("failed to ensure bootstrap tenant")
	}

	handlers.InitPrometheusMetrics()
	jobs.InitPrometheusMetrics()
	appmw.InitPrometheusMetrics()

	store := ledger.NewStore(sqlDB)
	store.WinRateRangeCapWeeks = cfg.WinRateRangeCapWeeks

	runner := jobs.NewRunner(sqlDB, cfg)
	runner.StartAggregationWorker()
	runner.StartStalenessWorker()

	r := router.New()

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	auth := appmw.TenantAuth(sqlDB)

	r.POST("/v1/leads", auth(handlers.CreateLead(store)))
	r.PATCH("/v1/leads/{id}", auth(handlers.UpdateLead(store)))
	r.GET("/v1/leads/{id}/outcomes", auth(handlers.OutcomeHistory(store)))

	r.POST("/v1/outcomes", auth(handlers.RecordOutcome(store)))
	r.POST("/v1/outcomes/bulk", auth(handlers.BulkRecordOutcome(store)))
	r.POST("/v1/outcomes/correction", auth(handlers.CorrectOutcome(store)))
	r.GET("/v1/outcomes/{event_id}", auth(handlers.OutcomeEventDetail(store)))

	r.GET("/v1/stats/win-rates", auth(handlers.WinRates(store)))
	r.GET("/v1/stats/win-rates/export", auth(handlers.ExportWinRates(store)))

	r.GET("/v1/alerts", auth(handlers.ListAlerts(store)))
	r.POST("/v1/alerts/{id}/dismiss", auth(handlers.DismissAlert(store)))

	r.GET("/v1/metrics", handlers.TenantMetricsHandler(sqlDB))

	admin := appmw.AdminAuth(cfg)
	r.POST("/admin/tenants", admin(handlers.CreateTenant(sqlDB)))
	r.POST("/admin/tenants/{tenant_id}/api-keys", admin(handlers.CreateTenantAPIKey(sqlDB)))
	r.GET("/admin/tenants/{tenant_id}/api-keys", admin(handlers.ListTenantAPIKeys(sqlDB)))
	r.PATCH("/admin/api-keys/{key_id}", admin(handlers.SetAPIKeyActive(sqlDB)))

	handler := appmw.RequestLogger(appmw.RequestMetrics(r.Handler))

	log.WithField("addr", cfg.ListenAddr).Info("leadledger listening")
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		log.WithError(err).Fatal("server error")
	}
}
