package app

import (
	"context"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/moodremix/api/internal/config"
	ws "github.com/moodremix/api/internal/websocket"
	"github.com/moodremix/api/internal/worker"
)

// RunWorker executes queued tasks until ctx is cancelled. Progress and
// completion events go out over redis for the API's websocket relay.
func RunWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.Queue.Backend != QueueAsynq {
		return errors.Newf("worker needs the asynq queue backend, got %q", cfg.Queue.Backend)
	}

	comp, err := Build(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := comp.Close(); err != nil {
			log.WithError(err).Warn("failed to release worker resources")
		}
	}()

	orch, _ := comp.Remix(ws.NewRedisPublisher(comp.Redis))

	if cfg.Generation.Preload {
		go comp.Handle.Preload(ctx)
	}

	srv := worker.NewServer(worker.Config{
		Redis:       queueRedis(cfg),
		Concurrency: cfg.Queue.Concurrency,
		LogLevel:    cfg.Server.LogLevel,
	})
	return worker.Run(ctx, srv, orch)
}
