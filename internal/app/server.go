package app

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/moodremix/api/internal/config"
	"github.com/moodremix/api/internal/handler"
	"github.com/moodremix/api/internal/middleware"
	"github.com/moodremix/api/internal/model"
	"github.com/moodremix/api/internal/task"
	ws "github.com/moodremix/api/internal/websocket"
)

// taskRetention is how long asynq keeps finished deliveries around for
// inspection.
const taskRetention = time.Hour

// Server is the HTTP API together with its in-process task runner.
type Server struct {
	cfg   *config.Config
	comp  *Components
	hub   *ws.Hub
	orch  *task.Orchestrator
	app   *fiber.App
	local *task.LocalDispatcher
	queue *asynq.Client
	insp  *asynq.Inspector

	closeOnce sync.Once
	closeErr  error
}

func NewServer(cfg *config.Config) (*Server, error) {
	comp, err := Build(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, comp: comp, hub: ws.NewHub()}
	orch, svc := comp.Remix(s.hub)
	s.orch = orch

	switch cfg.Queue.Backend {
	case QueueAsynq:
		s.queue = asynq.NewClient(queueRedis(cfg))
		s.insp = asynq.NewInspector(queueRedis(cfg))
		orch.SetDispatcher(task.NewAsynqDispatcher(s.queue, taskRetention))
	default:
		s.local = task.NewLocalDispatcher(orch, cfg.Queue.Concurrency, cfg.Queue.GenerationConcurrency)
		orch.SetDispatcher(s.local)
	}
	// Nothing in this process is running yet, so a local queue owns no task.
	recoverTasks(context.Background(), orch, s.alive())

	s.app = NewRouter(RouterConfig{
		LogLevel:      cfg.Server.LogLevel,
		BodyLimitMB:   cfg.Server.BodyLimitMB,
		SubmitPerHour: cfg.RateLimit.SubmitPerHour,
	}, Handlers{
		System: handler.NewSystemHandler(handler.Health{
			ModelLoaded: comp.Handle.Loaded,
			FFmpeg:      comp.FFmpegAvailable,
		}),
		Remix:   handler.NewRemixHandler(svc, comp.Uploads, cfg.Paths.ProcessedDir, validator.New()),
		Tasks:   handler.NewTaskHandler(orch, s.hub),
		Auth:    middleware.NewAuthMiddleware(cfg.JWT.Secret),
		Limiter: middleware.NewRateLimiter(comp.Redis),
	})

	return s, nil
}

func (s *Server) alive() func(t *model.Task) bool {
	if s.insp == nil {
		return nil
	}
	return queuedAlive(s.insp, time.Now)
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run()

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	if s.queue != nil {
		go func() {
			if err := ws.Relay(relayCtx, s.comp.Redis, s.hub); err != nil {
				log.WithError(err).Error("task event relay stopped")
			}
		}()
		go sweep(relayCtx, s.orch, s.alive())
	}

	if s.cfg.Generation.Preload {
		go s.comp.Handle.Preload(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + s.cfg.Server.Port
		log.WithField("addr", addr).Info("server starting")
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		_ = s.Close()
		return errors.Wrap(err, "server error")
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	return s.Close()
}

// Close stops the HTTP server, drains in-process tasks and releases the
// components.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.close() })
	return s.closeErr
}

func (s *Server) close() error {
	var err error
	if e := s.app.ShutdownWithTimeout(10 * time.Second); e != nil {
		err = errors.CombineErrors(err, errors.Wrap(e, "server shutdown"))
	}
	if s.local != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if e := s.local.Shutdown(ctx); e != nil {
			log.WithError(e).Warn("tasks still running at shutdown")
		}
		cancel()
	}
	if s.queue != nil {
		err = errors.CombineErrors(err, s.queue.Close())
	}
	if s.insp != nil {
		err = errors.CombineErrors(err, s.insp.Close())
	}
	s.hub.Stop()
	return errors.CombineErrors(err, s.comp.Close())
}
