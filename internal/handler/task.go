package handler

import (
	"context"

	"github.com/apex/log"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/moodremix/api/internal/model"
	ws "github.com/moodremix/api/internal/websocket"
	"github.com/moodremix/api/pkg/response"
)

// Poller looks tasks up by id.
type Poller interface {
	Poll(ctx context.Context, id string) (*model.Task, error)
}

type TaskHandler struct {
	tasks Poller
	hub   *ws.Hub
}

func NewTaskHandler(tasks Poller, hub *ws.Hub) *TaskHandler {
	return &TaskHandler{tasks: tasks, hub: hub}
}

// Status handles GET /api/task-status/:taskId
func (h *TaskHandler) Status(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	t, err := h.tasks.Poll(c.Context(), taskID)
	if err != nil {
		log.WithError(err).WithField("task_id", taskID).Error("failed to read task")
		return response.ServiceError(c, "Failed to read task")
	}
	if t.Status == model.TaskStatusNotFound {
		return response.OK(c, fiber.Map{"status": model.TaskStatusNotFound})
	}
	return response.OK(c, t)
}

// Upgrade rejects plain HTTP requests on websocket routes
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Stream handles GET /ws/tasks/:taskId
func (h *TaskHandler) Stream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		taskID := c.Params("taskId")
		h.hub.HandleConnection(c, taskID, h.snapshot(taskID))
	})
}

// snapshot is the message that brings a new subscriber up to date.
func (h *TaskHandler) snapshot(taskID string) interface{} {
	t, err := h.tasks.Poll(context.Background(), taskID)
	if err != nil {
		return nil
	}
	switch t.Status {
	case model.TaskStatusCompleted:
		return ws.CompleteMessage(t)
	case model.TaskStatusError:
		return ws.ErrorMessage(taskID, "TASK_FAILED", t.Message)
	case model.TaskStatusNotFound:
		return ws.ErrorMessage(taskID, response.CodeNotFound, "Task not found")
	default:
		return ws.ProgressMessage(taskID, t.Progress, t.Status)
	}
}
