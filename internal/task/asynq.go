package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/hibiken/asynq"

	"github.com/moodremix/api/internal/model"
)

// Task type name
const TypeProcess = "task:process"

// Queue names
const (
	QueueGeneration = "generation"
	QueueDefault    = "default"
)

// TaskTimeout bounds a single delivery. Full separations and smart mixes run
// well past asynq's default of 30 minutes.
const TaskTimeout = 6 * time.Hour

// AsynqDispatcher enqueues jobs for a separate worker process. Workers must
// share the upload and processed directories with the API.
type AsynqDispatcher struct {
	client    *asynq.Client
	retention time.Duration
}

func NewAsynqDispatcher(client *asynq.Client, retention time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, retention: retention}
}

func QueueFor(kind string) string {
	if kind == model.TaskKindGeneration {
		return QueueGeneration
	}
	return QueueDefault
}

func (d *AsynqDispatcher) options(job Job) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(QueueFor(job.Kind)),
		asynq.TaskID(job.TaskID),
		asynq.MaxRetry(0),
		asynq.Timeout(TaskTimeout),
	}
	if d.retention > 0 {
		opts = append(opts, asynq.Retention(d.retention))
	}
	return opts
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job")
	}
	if _, err := d.client.EnqueueContext(ctx, asynq.NewTask(TypeProcess, data), d.options(job)...); err != nil {
		return errors.Wrap(err, "failed to enqueue task")
	}
	return nil
}

// Processor adapts an Executor to asynq's handler signature.
type Processor struct {
	exec Executor
}

func NewProcessor(exec Executor) *Processor {
	return &Processor{exec: exec}
}

// ProcessTask handles task:process deliveries. The job runs detached from
// the delivery context so worker shutdown does not abort a pipeline before
// its terminal write; a job that never gets there is failed by the API's
// recovery sweep.
func (p *Processor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var job Job
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		log.WithError(err).Error("failed to unmarshal job")
		return errors.Wrapf(asynq.SkipRetry, "failed to unmarshal job: %v", err)
	}
	log.WithFields(log.Fields{"task_id": job.TaskID, "kind": job.Kind}).Info("starting job")
	return p.exec.Execute(context.WithoutCancel(ctx), job)
}

// Mux routes task:process deliveries to p.
func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeProcess, p.ProcessTask)
	return mux
}
