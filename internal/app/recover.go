package app

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/hibiken/asynq"

	"github.com/moodremix/api/internal/model"
	"github.com/moodremix/api/internal/task"
)

const (
	// recoverGrace leaves young tasks alone; their enqueue may still be in
	// flight on another API instance.
	recoverGrace    = time.Minute
	recoverInterval = 5 * time.Minute
)

type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

// queuedAlive reports a task as alive while asynq still holds a delivery
// that can finish it. Inspection errors count as alive.
func queuedAlive(insp taskInspector, now func() time.Time) func(t *model.Task) bool {
	return func(t *model.Task) bool {
		if now().Sub(t.CreatedAt) < recoverGrace {
			return true
		}
		info, err := insp.GetTaskInfo(task.QueueFor(t.Kind), t.ID)
		if err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
				return false
			}
			log.WithError(err).WithField("task_id", t.ID).Warn("failed to inspect queued task")
			return true
		}
		return info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted
	}
}

func recoverTasks(ctx context.Context, orch *task.Orchestrator, alive func(t *model.Task) bool) {
	n, err := orch.Recover(ctx, alive)
	if err != nil {
		log.WithError(err).Error("failed to recover interrupted tasks")
		return
	}
	if n > 0 {
		log.WithField("count", n).Info("interrupted tasks marked failed")
	}
}

// sweep re-runs recovery until ctx is cancelled, for workers that die while
// the API stays up.
func sweep(ctx context.Context, orch *task.Orchestrator, alive func(t *model.Task) bool) {
	ticker := time.NewTicker(recoverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recoverTasks(ctx, orch, alive)
		}
	}
}
