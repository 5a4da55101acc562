package server

import (
	"github.com/gin-gonic/gin"

	"prompt-compiler/internal/app/handlers"
	"prompt-compiler/internal/app/middleware"
	"prompt-compiler/pkg/logger"
)

// Handlers 路由使用的全部处理器
type Handlers struct {
	Prompt   *handlers.PromptHandler
	Template *handlers.TemplateHandler
	History  *handlers.HistoryHandler
	System   *handlers.SystemHandler
}

// SetupRoutes 注册中间件与全部 API 路由。
// 参数 engine: Gin 引擎实例。
// 参数 h: 业务处理器集合。
// 参数 log: 日志记录器。
func SetupRoutes(engine *gin.Engine, h *Handlers, log logger.Logger) {
	setupMiddleware(engine, log)

	api := engine.Group("/api")

	api.POST("/compile", h.Prompt.Compile)
	api.POST("/optimize", h.Prompt.Optimize)
	api.POST("/evaluate", h.Prompt.Evaluate)
	api.POST("/evaluate/compare", h.Prompt.Compare)

	templates := api.Group("/templates")
	templates.POST("", h.Template.Create)
	templates.GET("", h.Template.List)
	templates.GET("/:id", h.Template.Get)
	templates.PUT("/:id", h.Template.Update)
	templates.DELETE("/:id", h.Template.Delete)

	// 静态路径需在 /:version_id 之前注册
	history := api.Group("/history")
	history.GET("", h.History.List)
	history.GET("/search", h.History.Search)
	history.GET("/stats", h.History.Statistics)
	history.GET("/similar", h.History.Similar)
	history.DELETE("/cleanup", h.History.Cleanup)
	history.GET("/:version_id", h.History.Get)
	history.GET("/:version_id/export", h.History.Export)

	api.GET("/health", h.System.Health)
	api.GET("/stats/pipeline", h.System.PipelineStats)
}

// setupMiddleware 设置全局中间件
func setupMiddleware(engine *gin.Engine, log logger.Logger) {
	// 捕获panic并返回500错误
	engine.Use(gin.Recovery())

	engine.Use(middleware.LoggingMiddleware(&middleware.LoggingConfig{
		// 健康检查不记录访问日志
		SkipPaths: []string{"/api/health"},
		Logger:    log,
	}))
}
