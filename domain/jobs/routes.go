package jobs

import (
	"github.com/labstack/echo/v4"

	"github.com/crawlforge/crawlforge/pkg/auth"
)

// RegisterRoutes registers job routes
func RegisterRoutes(e *echo.Echo, h *Handler, w *WorkerHandler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/jobs")
	g.Use(authMiddleware.RequireAuth())

	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/progress", h.GetProgress)
	g.GET("/:id/chunks", h.ListChunks)
	g.GET("/:id/images", h.ListImages)

	g.POST("/:id/start", h.Start)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/retry", h.Retry)

	// Worker callback surface. Authenticated, but not ownership-scoped:
	// workers are not project members.
	internal := e.Group("/api/internal")
	internal.Use(authMiddleware.RequireAuth())
	internal.POST("/completions", h.ReportCompletion)

	internal.POST("/tasks/dequeue", w.Dequeue)
	internal.GET("/tasks/:taskId", w.GetTask)
	internal.POST("/tasks/:taskId/ack", w.Ack)
	internal.POST("/tasks/:taskId/fail", w.Fail)
}
