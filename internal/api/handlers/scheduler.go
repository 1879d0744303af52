package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mchestr/plex-wrapped-sub007/internal/scheduler"
)

// SchedulerHandler exposes the task registry over HTTP.
type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
}

func NewSchedulerHandler(sched *scheduler.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: sched}
}

// ListTasks returns every registered task.
// GET /api/v1/scheduler/tasks
func (h *SchedulerHandler) ListTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, h.scheduler.ListTasks())
}

// GetTask returns one task by ID.
// GET /api/v1/scheduler/tasks/:id
func (h *SchedulerHandler) GetTask(c echo.Context) error {
	task, err := h.scheduler.GetTask(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, task)
}

// RunTask triggers a task outside its schedule.
// POST /api/v1/scheduler/tasks/:id/run
func (h *SchedulerHandler) RunTask(c echo.Context) error {
	taskID := c.Param("id")
	if err := h.scheduler.RunNow(taskID); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "Task started",
		"taskId":  taskID,
	})
}
