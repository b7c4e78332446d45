package jobs

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/crawlforge/crawlforge/pkg/apperror"
	"github.com/crawlforge/crawlforge/pkg/auth"
)

// Handler handles HTTP requests for jobs
type Handler struct {
	svc *Service
}

// NewHandler creates a new job handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create creates a new job in pending state
// POST /api/jobs
func (h *Handler) Create(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	var req CreateJobRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	job, err := h.svc.Create(c.Request().Context(), req, user.ID, user.Tier)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, job)
}

// List returns a page of the caller's jobs
// GET /api/jobs?page=&size=&projectId=
func (h *Handler) List(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", DefaultPageSize)

	var (
		jobs  []Job
		total int
		err   error
	)
	if projectID := c.QueryParam("projectId"); projectID != "" {
		jobs, total, err = h.svc.ListByProject(c.Request().Context(), projectID, user.ID, page, size)
	} else {
		jobs, total, err = h.svc.List(c.Request().Context(), user.ID, page, size)
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"jobs":  jobs,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

// Get returns a single job
// GET /api/jobs/:id
func (h *Handler) Get(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	jobID, err := paramJobID(c)
	if err != nil {
		return err
	}

	job, err := h.svc.Get(c.Request().Context(), jobID, user.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job)
}

// GetProgress returns a job's counter snapshot
// GET /api/jobs/:id/progress
func (h *Handler) GetProgress(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	jobID, err := paramJobID(c)
	if err != nil {
		return err
	}

	progress, err := h.svc.GetProgress(c.Request().Context(), jobID, user.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, progress)
}

// Start plans and dispatches a pending job
// POST /api/jobs/:id/start
func (h *Handler) Start(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	jobID, err := paramJobID(c)
	if err != nil {
		return err
	}

	taskIDs, err := h.svc.Start(c.Request().Context(), jobID, user.ID, user.Tier)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"taskIds": taskIDs,
	})
}

// Cancel stops a job and revokes its tasks
// POST /api/jobs/:id/cancel
func (h *Handler) Cancel(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	jobID, err := paramJobID(c)
	if err != nil {
		return err
	}

	revoked, err := h.svc.Cancel(c.Request().Context(), jobID, user.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"revokedCount": revoked,
	})
}

// Retry resets a failed or cancelled job and starts it again
// POST /api/jobs/:id/retry
func (h *Handler) Retry(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	jobID, err := paramJobID(c)
	if err != nil {
		return err
	}

	taskIDs, err := h.svc.Retry(c.Request().Context(), jobID, user.ID, user.Tier)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"taskIds": taskIDs,
	})
}

// ListChunks returns a job's chunks
// GET /api/jobs/:id/chunks
func (h *Handler) ListChunks(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	jobID, err := paramJobID(c)
	if err != nil {
		return err
	}

	chunks, err := h.svc.ListChunks(c.Request().Context(), jobID, user.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, chunks)
}

// ListImages returns a page of a job's image records
// GET /api/jobs/:id/images?page=&size=
func (h *Handler) ListImages(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	jobID, err := paramJobID(c)
	if err != nil {
		return err
	}

	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", DefaultPageSize)

	images, total, err := h.svc.ListImages(c.Request().Context(), jobID, user.ID, page, size)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"images": images,
		"total":  total,
		"page":   page,
		"size":   size,
	})
}

// completionRequest is the worker callback payload
type completionRequest struct {
	JobID   int64            `json:"jobId"`
	ChunkID int64            `json:"chunkId"`
	TaskID  string           `json:"taskId"`
	Result  CompletionResult `json:"result"`
}

// ReportCompletion receives a chunk result from a worker
// POST /api/internal/completions
func (h *Handler) ReportCompletion(c echo.Context) error {
	var req completionRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.JobID <= 0 || req.ChunkID <= 0 {
		return apperror.NewBadRequest("jobId and chunkId are required")
	}

	if err := h.svc.ReportCompletion(c.Request().Context(), req.JobID, req.ChunkID, req.TaskID, req.Result); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}

func paramJobID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.NewBadRequest("invalid job id")
	}
	return id, nil
}

func queryInt(c echo.Context, name string, fallback int) int {
	if raw := c.QueryParam(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return fallback
}
