package projects

import (
	"github.com/labstack/echo/v4"

	"github.com/crawlforge/crawlforge/pkg/auth"
)

// RegisterRoutes registers project routes
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/projects")
	g.Use(authMiddleware.RequireAuth())

	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("", h.Create)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)

	g.GET("/:id/members", h.ListMembers)
	g.POST("/:id/members", h.AddMember)
	g.DELETE("/:id/members/:userId", h.RemoveMember)

	g.GET("/:id/activity", h.ListActivity)
}
