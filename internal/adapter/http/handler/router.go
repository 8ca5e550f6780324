package handler

import (
	"net/http"

	"casino-ewallet/config"
	"casino-ewallet/internal/adapter/http/middleware"
	redisStore "casino-ewallet/internal/adapter/storage/redis"
	"casino-ewallet/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	DepositSvc     ports.DepositService
	SigSvc         ports.SignatureService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	RateLimits     config.RateLimitConfig
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = denied-access audit disabled
	MetricsHandler http.Handler       // nil = no metrics endpoint
	MetricsPath    string
	Webhook        config.WebhookConfig
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	if deps.Webhook.MaxBodyBytes > 0 {
		r.Use(middleware.MaxBodySize(deps.Webhook.MaxBodyBytes))
	}
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditDenied(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	if deps.MetricsHandler != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(deps.MetricsHandler))
	}

	rules := middleware.RateLimitRules(deps.RateLimits)
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !deps.RateLimits.Enabled || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Gateway callbacks (HMAC signature) ---
	webhookHandler := NewWebhookHandler(deps.DepositSvc, deps.Logger)
	webhooks := v1.Group("/webhooks",
		middleware.WebhookSignature(deps.SigSvc, deps.Webhook.Secret, deps.Webhook.SignatureHeader, deps.Logger))
	{
		webhooks.POST("/gateway", webhookHandler.Receive)
	}

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	// --- Player wallet ---
	depositHandler := NewDepositHandler(deps.DepositSvc)
	deposits := v1.Group("/deposits", jwtAuth)
	{
		deposits.POST("", rl("deposits_create"), depositHandler.Create)
		deposits.GET("", rl("deposits_read"), depositHandler.List)
		deposits.GET("/:id", rl("deposits_read"), depositHandler.Get)
		deposits.POST("/:id/cancel", rl("deposits_create"), depositHandler.Cancel)
	}

	// --- Operator console ---
	operatorHandler := NewOperatorHandler(deps.DepositSvc)
	ops := v1.Group("/ops/transactions", jwtAuth, middleware.RequireRole(ports.RoleOperator), rl("ops"))
	{
		ops.GET("", operatorHandler.List)
		ops.GET("/:id", operatorHandler.Get)
		ops.POST("/:id/retry", operatorHandler.Retry)
		ops.POST("/:id/cancel", operatorHandler.Cancel)
		ops.POST("/:id/resolve", operatorHandler.Resolve)
	}

	return r
}
