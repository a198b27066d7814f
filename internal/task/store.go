// Package task tracks background operations: it records each submission,
// runs it through a dispatcher, and performs the one terminal write per task.
package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/moodremix/api/internal/model"
)

// Completion is the terminal state written for a task.
type Completion struct {
	Status      model.TaskStatus
	Progress    int
	Result      json.RawMessage
	File        string
	URL         string
	Message     string
	CompletedAt time.Time
}

// Store persists task records. Complete and UpdateProgress only apply while
// the task is still processing; Complete reports whether it applied, so at
// most one terminal write ever lands. Get returns apperrors.ErrTaskNotFound
// for unknown ids. Processing lists the tasks still waiting for their
// terminal write, oldest first.
type Store interface {
	Create(ctx context.Context, t *model.Task) error
	Get(ctx context.Context, id string) (*model.Task, error)
	Processing(ctx context.Context) ([]*model.Task, error)
	UpdateProgress(ctx context.Context, id string, progress int) error
	Complete(ctx context.Context, id string, c Completion) (bool, error)
	Close() error
}

func apply(t *model.Task, c Completion) {
	t.Status = c.Status
	t.Progress = c.Progress
	t.Result = c.Result
	t.File = c.File
	t.URL = c.URL
	t.Message = c.Message
	completed := c.CompletedAt
	t.CompletedAt = &completed
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
