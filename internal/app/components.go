// Package app assembles the service from configuration: it opens the task
// store, builds the pipelines and exposes them to the HTTP server and the
// queue worker.
package app

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/moodremix/api/internal/client"
	"github.com/moodremix/api/internal/config"
	"github.com/moodremix/api/internal/debuglog"
	"github.com/moodremix/api/internal/engine"
	"github.com/moodremix/api/internal/filtergraph"
	"github.com/moodremix/api/internal/generation"
	"github.com/moodremix/api/internal/logging"
	"github.com/moodremix/api/internal/mixing"
	"github.com/moodremix/api/internal/separation"
	"github.com/moodremix/api/internal/service"
	"github.com/moodremix/api/internal/task"
)

// Store and queue backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"

	QueueLocal = "local"
	QueueAsynq = "asynq"
)

// Components are the long lived parts shared by the server and the worker.
type Components struct {
	Config *config.Config

	Redis  *redis.Client
	Store  task.Store
	Debug  *debuglog.Log
	FFmpeg *engine.FFmpeg

	GenerationClient *client.GenerationClient
	Handle           *generation.Handle

	Separator *separation.Separator
	Mixer     *mixing.Mixer
	Generator *generation.Generator
	Uploads   *service.UploadService
	Publisher *service.OutputPublisher

	closers []func() error
}

func validate(cfg *config.Config) error {
	switch cfg.Tasks.Store {
	case StoreMemory, StoreRedis, StoreSQLite:
	default:
		return errors.Newf("unknown task store %q", cfg.Tasks.Store)
	}
	switch cfg.Queue.Backend {
	case QueueLocal:
	case QueueAsynq:
		if cfg.Tasks.Store == StoreMemory {
			return errors.New("the asynq queue needs a shared task store (redis or sqlite)")
		}
	default:
		return errors.Newf("unknown queue backend %q", cfg.Queue.Backend)
	}
	return nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Tasks.Store == StoreRedis || cfg.Queue.Backend == QueueAsynq || cfg.RateLimit.SubmitPerHour > 0
}

func redisOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func queueRedis(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// Build opens everything cfg asks for. On error nothing is left open.
func Build(cfg *config.Config) (c *Components, err error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	c = &Components{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close()
			c = nil
		}
	}()

	for _, dir := range []string{cfg.Paths.UploadDir, cfg.Paths.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}

	if needsRedis(cfg) {
		c.Redis = redis.NewClient(redisOptions(cfg))
		c.closers = append(c.closers, c.Redis.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			log.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("redis not available")
		}
	}

	switch cfg.Tasks.Store {
	case StoreRedis:
		c.Store = task.NewRedisStore(c.Redis, time.Duration(cfg.Tasks.RedisTTL)*time.Second)
	case StoreSQLite:
		s, err := task.OpenSQLiteStore(cfg.Tasks.SQLitePath)
		if err != nil {
			return nil, err
		}
		c.Store = s
	default:
		c.Store = task.NewMemoryStore()
	}
	c.closers = append(c.closers, c.Store.Close)

	c.Debug, err = debuglog.Open(cfg.Paths.DebugLog, logging.Handler())
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.Debug.Close)

	runner := engine.NewExecRunner()
	c.FFmpeg = engine.NewFFmpeg(runner, cfg.Engine.FFmpegBin, cfg.Engine.FFprobeBin)

	demucs := separation.NewDemucsCLI(runner, cfg.Separation.Command, cfg.Separation.ArgPrefix, c.Debug)
	c.Separator = separation.NewSeparator(separation.Config{
		OutputDir: cfg.Paths.ProcessedDir,
		Model:     cfg.Separation.Model,
		Segment:   cfg.Separation.Segment,
		Jobs:      cfg.Separation.Jobs,
	}, demucs, c.FFmpeg, c.FFmpeg, c.Debug)

	c.Mixer = mixing.NewMixer(filtergraph.NewBuilder(), c.FFmpeg, c.Separator)

	c.GenerationClient = client.NewGenerationClient(&cfg.Generation)
	c.Handle = generation.NewHandle(generation.NewServiceModel(c.GenerationClient, cfg.Generation.Model))
	c.Generator = generation.NewGenerator(generation.Config{
		MaxNewTokens: cfg.Generation.MaxNewTokens,
		Guidance:     cfg.Generation.Guidance,
	}, c.Handle)

	c.Uploads = service.NewUploadService(cfg.Paths.UploadDir)

	var store client.ObjectStore
	if cfg.Storage.Enabled() {
		sc, err := client.NewStorageClient(&cfg.Storage)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create storage client")
		}
		store = sc
		log.WithField("bucket", cfg.Storage.Bucket).Info("output mirror enabled")
	}
	c.Publisher = service.NewOutputPublisher(store, cfg.Storage.Prefix)

	return c, nil
}

// Remix builds the orchestrator and the request service over it, with
// every task kind registered.
func (c *Components) Remix(notifier task.Notifier) (*task.Orchestrator, *service.RemixService) {
	orch := task.NewOrchestrator(c.Store, notifier)
	svc := service.NewRemixService(service.RemixServiceConfig{
		ProcessedDir: c.Config.Paths.ProcessedDir,
		Limits: service.Limits{
			Fast: c.Config.Separation.FastLimit,
			Full: c.Config.Separation.FullLimit,
		},
		DurationHint: c.Config.Generation.DurationHint,
	}, c.Separator, c.Mixer, c.Generator, c.Publisher, orch)
	svc.Register(orch)
	return orch, svc
}

// FFmpegAvailable reports whether the effects engine resolves on PATH.
func (c *Components) FFmpegAvailable() bool {
	_, err := exec.LookPath(c.FFmpeg.Binary())
	return err == nil
}

// Close releases resources in reverse order of acquisition.
func (c *Components) Close() error {
	var err error
	for i := len(c.closers) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, c.closers[i]())
	}
	c.closers = nil
	return err
}
