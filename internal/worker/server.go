// Package worker runs queued tasks out of redis with asynq.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/hibiken/asynq"

	"github.com/moodremix/api/internal/task"
)

type Config struct {
	Redis       asynq.RedisClientOpt
	Concurrency int
	LogLevel    string
}

// LogLevel maps the configured server log level onto asynq's.
func LogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

// Queues weights the generation queue below the rest. Generation calls are
// serialized by the model handle, so a higher weight only parks workers.
func Queues() map[string]int {
	return map[string]int{
		task.QueueDefault:    3,
		task.QueueGeneration: 1,
	}
}

// NewServer builds an asynq server that logs through apex/log.
func NewServer(cfg Config) *asynq.Server {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          Queues(),
		LogLevel:        LogLevel(cfg.LogLevel),
		Logger:          NewLogger(log.WithField("component", "asynq")),
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			log.WithError(err).WithFields(log.Fields{"type": t.Type(), "task_id": id}).Error("task delivery failed")
		}),
	})
}

// Run serves exec until ctx is cancelled.
func Run(ctx context.Context, srv *asynq.Server, exec task.Executor) error {
	if err := srv.Start(task.NewProcessor(exec).Mux()); err != nil {
		return err
	}
	log.WithField("queues", Queues()).Info("worker started")
	<-ctx.Done()
	log.Info("shutting down worker...")
	srv.Shutdown()
	return nil
}

// Logger adapts an apex/log entry to asynq.Logger.
type Logger struct {
	entry *log.Entry
}

func NewLogger(entry *log.Entry) *Logger {
	return &Logger{entry: entry}
}

func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(fmt.Sprint(args...)) }
func (l *Logger) Info(args ...interface{})  { l.entry.Info(fmt.Sprint(args...)) }
func (l *Logger) Warn(args ...interface{})  { l.entry.Warn(fmt.Sprint(args...)) }
func (l *Logger) Error(args ...interface{}) { l.entry.Error(fmt.Sprint(args...)) }
func (l *Logger) Fatal(args ...interface{}) { l.entry.Fatal(fmt.Sprint(args...)) }
