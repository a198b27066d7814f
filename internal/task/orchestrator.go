package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/moodremix/api/internal/apperrors"
	"github.com/moodremix/api/internal/model"
)

// Handler runs one kind of operation. progress may be called any number of
// times before the handler returns.
type Handler func(ctx context.Context, payload json.RawMessage, progress func(int)) (model.Outcome, error)

// Notifier is told about every write that lands on a task.
type Notifier interface {
	BroadcastProgress(taskID string, progress int, status model.TaskStatus)
	BroadcastComplete(t *model.Task)
	BroadcastError(taskID, code, message string)
}

// Job is a scheduled unit of work.
type Job struct {
	TaskID  string          `json:"taskId"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Dispatcher hands a job to whatever runs it. Dispatch must not wait for
// the job to finish.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Executor runs a job to its terminal state.
type Executor interface {
	Execute(ctx context.Context, job Job) error
}

var ErrUnknownKind = errors.New("unknown task kind")

type Orchestrator struct {
	store      Store
	notifier   Notifier
	dispatcher Dispatcher

	mu       sync.RWMutex
	handlers map[string]Handler

	now func() time.Time
}

func NewOrchestrator(store Store, notifier Notifier) *Orchestrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		store:    store,
		notifier: notifier,
		handlers: make(map[string]Handler),
		now:      time.Now,
	}
}

func (o *Orchestrator) Register(kind string, h Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[kind] = h
}

func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatcher = d
}

// InterruptedMessage is stored on tasks that were still processing when
// their runner went away.
const InterruptedMessage = "Interrupted by restart"

// Recover moves every processing task that has nobody left to finish it
// into the error state. alive reports whether some runner still owns the
// task; a nil alive treats every processing task as orphaned. It returns
// how many tasks it failed.
func (o *Orchestrator) Recover(ctx context.Context, alive func(t *model.Task) bool) (int, error) {
	tasks, err := o.store.Processing(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list processing tasks")
	}

	failed := 0
	for _, t := range tasks {
		if alive != nil && alive(t) {
			continue
		}
		applied, err := o.store.Complete(ctx, t.ID, Completion{
			Status:      model.TaskStatusError,
			Progress:    t.Progress,
			Message:     InterruptedMessage,
			CompletedAt: o.now(),
		})
		if err != nil {
			return failed, errors.Wrapf(err, "failed to close task %s", t.ID)
		}
		if !applied {
			continue
		}
		failed++
		log.WithFields(log.Fields{"task_id": t.ID, "kind": t.Kind}).Warn("task interrupted, marked failed")
		o.notifier.BroadcastError(t.ID, "TASK_FAILED", InterruptedMessage)
	}
	return failed, nil
}

func (o *Orchestrator) handler(kind string) (Handler, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.handlers[kind]
	return h, ok
}

// Submit records a processing task and schedules it. It returns as soon as
// the job is handed to the dispatcher.
func (o *Orchestrator) Submit(ctx context.Context, kind string, payload interface{}) (string, error) {
	if _, ok := o.handler(kind); !ok {
		return "", errors.Wrapf(ErrUnknownKind, "%q", kind)
	}
	if o.dispatcher == nil {
		return "", errors.New("no dispatcher configured")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal payload")
	}

	t := &model.Task{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    model.TaskStatusProcessing,
		Progress:  0,
		CreatedAt: o.now(),
	}
	if err := o.store.Create(ctx, t); err != nil {
		return "", errors.Wrap(err, "failed to create task")
	}

	if err := o.dispatcher.Dispatch(ctx, Job{TaskID: t.ID, Kind: kind, Payload: raw}); err != nil {
		msg := fmt.Sprintf("Failed to schedule task: %v", err)
		if _, cerr := o.store.Complete(ctx, t.ID, Completion{
			Status:      model.TaskStatusError,
			Message:     msg,
			CompletedAt: o.now(),
		}); cerr != nil {
			log.WithError(cerr).WithField("task_id", t.ID).Error("failed to mark unscheduled task")
		}
		return "", errors.Wrap(err, "failed to dispatch task")
	}

	log.WithFields(log.Fields{"task_id": t.ID, "kind": kind}).Info("task submitted")
	return t.ID, nil
}

// Poll never fails for an unknown id: it returns a not_found task instead.
func (o *Orchestrator) Poll(ctx context.Context, id string) (*model.Task, error) {
	t, err := o.store.Get(ctx, id)
	if errors.Is(err, apperrors.ErrTaskNotFound) {
		return &model.Task{ID: id, Status: model.TaskStatusNotFound}, nil
	}
	return t, err
}

// Execute runs the job's handler and performs the terminal write. Handler
// errors and panics both end in the error state.
func (o *Orchestrator) Execute(ctx context.Context, job Job) error {
	logger := log.WithFields(log.Fields{"task_id": job.TaskID, "kind": job.Kind})
	start := o.now()

	var last atomic.Int64
	progress := func(p int) {
		p = clampProgress(p)
		last.Store(int64(p))
		if err := o.store.UpdateProgress(ctx, job.TaskID, p); err != nil {
			logger.WithError(err).Warn("failed to update progress")
			return
		}
		o.notifier.BroadcastProgress(job.TaskID, p, model.TaskStatusProcessing)
	}

	outcome := o.run(ctx, job, progress, logger)

	c := Completion{
		Status:      outcome.Status,
		Progress:    int(last.Load()),
		File:        outcome.File,
		URL:         outcome.URL,
		Message:     outcome.Message,
		CompletedAt: o.now(),
	}
	if c.Status == model.TaskStatusCompleted {
		c.Progress = 100
		if outcome.Result != nil {
			raw, err := json.Marshal(outcome.Result)
			if err != nil {
				c.Status = model.TaskStatusError
				c.Message = fmt.Sprintf("Failed to encode result: %v", err)
			} else {
				c.Result = raw
			}
		}
	}

	applied, err := o.store.Complete(ctx, job.TaskID, c)
	if err != nil {
		logger.WithError(err).Error("failed to store terminal state")
		return err
	}
	if !applied {
		logger.Warn("task already terminal, result dropped")
		return nil
	}

	entry := logger.WithFields(log.Fields{"status": c.Status, "duration": o.now().Sub(start).String()})
	if c.Status == model.TaskStatusCompleted {
		entry.Info("task completed")
		if t, err := o.store.Get(ctx, job.TaskID); err == nil {
			o.notifier.BroadcastComplete(t)
		}
	} else {
		entry.WithField("message", c.Message).Warn("task failed")
		o.notifier.BroadcastError(job.TaskID, "TASK_FAILED", c.Message)
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, job Job, progress func(int), logger *log.Entry) (out model.Outcome) {
	h, ok := o.handler(job.Kind)
	if !ok {
		return model.Failed(fmt.Sprintf("Unknown task kind: %s", job.Kind))
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("task handler panicked")
			out = model.Failed(fmt.Sprintf("Unexpected error: %v", r))
		}
	}()

	outcome, err := h(ctx, job.Payload, progress)
	if err != nil {
		return model.Failed(err.Error())
	}
	switch outcome.Status {
	case "":
		outcome.Status = model.TaskStatusCompleted
	case model.TaskStatusCompleted, model.TaskStatusError:
	default:
		return model.Failed(fmt.Sprintf("Invalid task outcome status: %s", outcome.Status))
	}
	return outcome
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) BroadcastProgress(string, int, model.TaskStatus) {}
func (NopNotifier) BroadcastComplete(*model.Task)                   {}
func (NopNotifier) BroadcastError(string, string, string)           {}
