package api

import (
	fastfailHandlers "apiguard/api/handlers/fastfail"
	gatewayHandlers "apiguard/api/handlers/gateway"
	securityHandlers "apiguard/api/handlers/security"
	"apiguard/internal/audit"
	"apiguard/internal/config"
	"apiguard/internal/fastfail"
	"apiguard/internal/gateway"
	"apiguard/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps 路由依赖
type Deps struct {
	Engine   *audit.Engine
	Matcher  *fastfail.Matcher
	Monitor  *gateway.Monitor
	AlertHub *gateway.AlertHub
	Archiver *audit.DBArchiver // 可为 nil
	DB       *gorm.DB          // 可为 nil，就绪检查用
}

// SetupRouter 组装路由与中间件
func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	// 运维端点
	router.GET("/health", healthCheck())
	router.GET("/ready", readinessCheck(deps.DB))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	registerRoutes(router, deps)
	return router
}

// registerRoutes 注册业务路由
func registerRoutes(router *gin.Engine, deps Deps) {
	securityHandler := securityHandlers.NewSecurityHandler(deps.Engine, deps.Archiver)
	fastfailHandler := fastfailHandlers.NewFastFailHandler(deps.Matcher)
	gatewayHandler := gatewayHandlers.NewGatewayHandler(deps.Monitor, deps.AlertHub)

	apiV1 := router.Group("/api/v1")
	{
		securityGroup := apiV1.Group("/security")
		{
			securityGroup.GET("/dashboard", securityHandler.Dashboard)
			securityGroup.GET("/events", securityHandler.ListEvents)
			securityGroup.GET("/events/:id", securityHandler.GetEvent)
			securityGroup.PUT("/events/:id/status", securityHandler.UpdateStatus)
			securityGroup.GET("/compliance", securityHandler.Compliance)
			securityGroup.GET("/archive", securityHandler.ArchiveQuery)
		}

		fastfailGroup := apiV1.Group("/fastfail")
		{
			fastfailGroup.GET("/statistics", fastfailHandler.Statistics)
			fastfailGroup.POST("/evaluate", fastfailHandler.Evaluate)
			fastfailGroup.POST("/success", fastfailHandler.RecordSuccess)
		}

		gatewayGroup := apiV1.Group("/gateway")
		{
			gatewayGroup.GET("/health", gatewayHandler.Health)
			gatewayGroup.GET("/performance", gatewayHandler.Performance)
			gatewayGroup.GET("/alerts", gatewayHandler.Alerts)
			gatewayGroup.GET("/alerts/stream", gatewayHandler.Stream)
		}
	}
}

// healthCheck 存活检查
func healthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "apiguard",
		})
	}
}

// readinessCheck 就绪检查，带归档库连通性
func readinessCheck(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			c.JSON(200, gin.H{"status": "ready", "database": "disabled"})
			return
		}

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(503, gin.H{"status": "not_ready", "reason": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready", "database": "ok"})
	}
}
