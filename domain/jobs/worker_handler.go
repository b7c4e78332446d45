package jobs

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/crawlforge/crawlforge/internal/taskqueue"
	"github.com/crawlforge/crawlforge/pkg/apperror"
)

// WorkerHandler is the pull surface for external crawl workers:
// claim tasks, acknowledge them, report failures for retry.
type WorkerHandler struct {
	queue *taskqueue.PGQueue
}

// NewWorkerHandler creates the worker-facing task handler
func NewWorkerHandler(queue *taskqueue.PGQueue) *WorkerHandler {
	return &WorkerHandler{queue: queue}
}

// dequeueRequest selects the queue and claim size
type dequeueRequest struct {
	Queue     string `json:"queue"`
	BatchSize int    `json:"batchSize"`
}

// Dequeue claims a batch of pending tasks for the calling worker
// POST /api/internal/tasks/dequeue
func (h *WorkerHandler) Dequeue(c echo.Context) error {
	var req dequeueRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	tasks, err := h.queue.Dequeue(c.Request().Context(), req.Queue, req.BatchSize)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// Ack marks a claimed task completed
// POST /api/internal/tasks/:taskId/ack
func (h *WorkerHandler) Ack(c echo.Context) error {
	taskID := c.Param("taskId")
	if taskID == "" {
		return apperror.NewBadRequest("invalid task id")
	}

	if err := h.queue.MarkCompleted(c.Request().Context(), taskID); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "completed"})
}

// failRequest carries the worker's failure report
type failRequest struct {
	AttemptCount int    `json:"attemptCount"`
	Error        string `json:"error"`
}

// Fail records a task failure; the queue schedules a backoff retry or
// fails the task permanently past max attempts
// POST /api/internal/tasks/:taskId/fail
func (h *WorkerHandler) Fail(c echo.Context) error {
	taskID := c.Param("taskId")
	if taskID == "" {
		return apperror.NewBadRequest("invalid task id")
	}

	var req failRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.queue.MarkFailed(c.Request().Context(), taskID, req.AttemptCount, req.Error); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "recorded"})
}

// GetTask returns one task's current state, for workers polling a
// revocation flag mid-chunk
// GET /api/internal/tasks/:taskId
func (h *WorkerHandler) GetTask(c echo.Context) error {
	taskID := c.Param("taskId")
	if taskID == "" {
		return apperror.NewBadRequest("invalid task id")
	}

	task, err := h.queue.GetTask(c.Request().Context(), taskID)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	if task == nil {
		return apperror.NewNotFound("task", taskID)
	}

	return c.JSON(http.StatusOK, task)
}
