package projects

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/crawlforge/crawlforge/pkg/apperror"
	"github.com/crawlforge/crawlforge/pkg/auth"
)

// Handler handles HTTP requests for projects
type Handler struct {
	svc *Service
}

// NewHandler creates a new project handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List returns the caller's projects
// GET /api/projects
func (h *Handler) List(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	limit := 0
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	projects, err := h.svc.List(c.Request().Context(), user.ID, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, projects)
}

// Get returns a single project
// GET /api/projects/:id
func (h *Handler) Get(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	project, err := h.svc.Get(c.Request().Context(), c.Param("id"), user.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, project)
}

// Create creates a new project
// POST /api/projects
func (h *Handler) Create(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	project, err := h.svc.Create(c.Request().Context(), req, user.ID, user.Tier)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, project)
}

// Update updates a project
// PATCH /api/projects/:id
func (h *Handler) Update(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	var req UpdateProjectRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	project, err := h.svc.Update(c.Request().Context(), c.Param("id"), user.ID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, project)
}

// Delete deletes a project
// DELETE /api/projects/:id
func (h *Handler) Delete(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	if err := h.svc.Delete(c.Request().Context(), c.Param("id"), user.ID); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// ListMembers returns the members of a project
// GET /api/projects/:id/members
func (h *Handler) ListMembers(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	members, err := h.svc.ListMembers(c.Request().Context(), c.Param("id"), user.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, members)
}

// AddMember adds a member to a project
// POST /api/projects/:id/members
func (h *Handler) AddMember(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	var req AddMemberRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	member, err := h.svc.AddMember(c.Request().Context(), c.Param("id"), user.ID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, member)
}

// RemoveMember removes a member from a project
// DELETE /api/projects/:id/members/:userId
func (h *Handler) RemoveMember(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	if err := h.svc.RemoveMember(c.Request().Context(), c.Param("id"), user.ID, c.Param("userId")); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "removed"})
}

// ListActivity returns a project's recent activity trail
// GET /api/projects/:id/activity
func (h *Handler) ListActivity(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	limit := 0
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	entries, err := h.svc.ListActivity(c.Request().Context(), c.Param("id"), user.ID, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entries)
}
