package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server     ServerConfig
	Paths      PathsConfig
	Engine     EngineConfig
	Separation SeparationConfig
	Generation GenerationConfig
	Queue      QueueConfig
	Tasks      TasksConfig
	Redis      RedisConfig
	Storage    StorageConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	BodyLimitMB int
}

type PathsConfig struct {
	UploadDir    string
	ProcessedDir string
	DebugLog     string
}

type EngineConfig struct {
	FFmpegBin  string
	FFprobeBin string
}

type SeparationConfig struct {
	Command   string
	ArgPrefix []string
	Model     string
	Segment   int
	Jobs      int
	FastLimit int // seconds
	FullLimit int // seconds
}

type GenerationConfig struct {
	ServiceURL   string
	Model        string
	Timeout      int // seconds
	MaxNewTokens int
	Guidance     float64
	DurationHint int // seconds
	Preload      bool
}

type QueueConfig struct {
	Backend               string // local | asynq
	Concurrency           int
	GenerationConcurrency int
}

type TasksConfig struct {
	Store      string // memory | redis | sqlite
	SQLitePath string
	RedisTTL   int // seconds, 0 keeps tasks forever
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
	Prefix          string
}

// Enabled reports whether outputs should be mirrored to object storage.
func (s StorageConfig) Enabled() bool {
	return s.AccessKeyID != "" && s.SecretAccessKey != "" && s.Bucket != ""
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	SubmitPerHour int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("JWT_SECRET")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = v.BindEnv("paths.upload_dir", "UPLOAD_DIR")
	_ = v.BindEnv("paths.processed_dir", "PROCESSED_DIR")
	_ = v.BindEnv("paths.debug_log", "DEBUG_LOG")
	_ = v.BindEnv("engine.ffmpeg_bin", "FFMPEG_BIN")
	_ = v.BindEnv("engine.ffprobe_bin", "FFPROBE_BIN")
	_ = v.BindEnv("separation.command", "DEMUCS_COMMAND")
	_ = v.BindEnv("separation.arg_prefix", "DEMUCS_ARG_PREFIX")
	_ = v.BindEnv("separation.model", "DEMUCS_MODEL")
	_ = v.BindEnv("separation.segment", "DEMUCS_SEGMENT")
	_ = v.BindEnv("separation.jobs", "DEMUCS_JOBS")
	_ = v.BindEnv("separation.fast_limit", "SEPARATION_FAST_LIMIT")
	_ = v.BindEnv("separation.full_limit", "SEPARATION_FULL_LIMIT")
	_ = v.BindEnv("generation.service_url", "GENERATION_SERVICE_URL")
	_ = v.BindEnv("generation.model", "GENERATION_MODEL")
	_ = v.BindEnv("generation.timeout", "GENERATION_TIMEOUT")
	_ = v.BindEnv("generation.max_new_tokens", "GENERATION_MAX_NEW_TOKENS")
	_ = v.BindEnv("generation.guidance", "GENERATION_GUIDANCE")
	_ = v.BindEnv("generation.duration_hint", "GENERATION_DURATION_HINT")
	_ = v.BindEnv("generation.preload", "GENERATION_PRELOAD")
	_ = v.BindEnv("queue.backend", "QUEUE_BACKEND")
	_ = v.BindEnv("queue.concurrency", "QUEUE_CONCURRENCY")
	_ = v.BindEnv("queue.generation_concurrency", "QUEUE_GENERATION_CONCURRENCY")
	_ = v.BindEnv("tasks.store", "TASK_STORE")
	_ = v.BindEnv("tasks.sqlite_path", "TASK_SQLITE_PATH")
	_ = v.BindEnv("tasks.redis_ttl", "TASK_REDIS_TTL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.region", "STORAGE_REGION")
	_ = v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = v.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = v.BindEnv("storage.prefix", "STORAGE_PREFIX")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")

	// Defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.body_limit_mb", 200)
	v.SetDefault("paths.upload_dir", "uploads")
	v.SetDefault("paths.processed_dir", "processed")
	v.SetDefault("engine.ffmpeg_bin", "ffmpeg")
	v.SetDefault("engine.ffprobe_bin", "ffprobe")

	// Separation defaults
	v.SetDefault("separation.command", "demucs")
	v.SetDefault("separation.arg_prefix", "")
	v.SetDefault("separation.model", "htdemucs")
	v.SetDefault("separation.segment", 6)
	v.SetDefault("separation.jobs", 1)
	v.SetDefault("separation.fast_limit", 60)
	v.SetDefault("separation.full_limit", 360)

	// Generation defaults
	v.SetDefault("generation.service_url", "http://localhost:8090")
	v.SetDefault("generation.model", "facebook/musicgen-small")
	v.SetDefault("generation.timeout", 600)
	v.SetDefault("generation.max_new_tokens", 250)
	v.SetDefault("generation.guidance", 3.0)
	v.SetDefault("generation.duration_hint", 15)
	v.SetDefault("generation.preload", true)

	// Queue and task store defaults
	v.SetDefault("queue.backend", "local")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.generation_concurrency", 1)
	v.SetDefault("tasks.store", "memory")
	v.SetDefault("tasks.sqlite_path", "tasks.db")
	v.SetDefault("tasks.redis_ttl", 0)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.prefix", "outputs")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("ratelimit.submit_per_hour", 0)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	processed := v.GetString("paths.processed_dir")
	debugLog := v.GetString("paths.debug_log")
	if debugLog == "" {
		debugLog = filepath.Join(filepath.Dir(filepath.Clean(processed)), "separation_debug.log")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			LogLevel:    v.GetString("server.log_level"),
			BodyLimitMB: v.GetInt("server.body_limit_mb"),
		},
		Paths: PathsConfig{
			UploadDir:    v.GetString("paths.upload_dir"),
			ProcessedDir: processed,
			DebugLog:     debugLog,
		},
		Engine: EngineConfig{
			FFmpegBin:  v.GetString("engine.ffmpeg_bin"),
			FFprobeBin: v.GetString("engine.ffprobe_bin"),
		},
		Separation: SeparationConfig{
			Command:   v.GetString("separation.command"),
			ArgPrefix: strings.Fields(v.GetString("separation.arg_prefix")),
			Model:     v.GetString("separation.model"),
			Segment:   v.GetInt("separation.segment"),
			Jobs:      v.GetInt("separation.jobs"),
			FastLimit: v.GetInt("separation.fast_limit"),
			FullLimit: v.GetInt("separation.full_limit"),
		},
		Generation: GenerationConfig{
			ServiceURL:   v.GetString("generation.service_url"),
			Model:        v.GetString("generation.model"),
			Timeout:      v.GetInt("generation.timeout"),
			MaxNewTokens: v.GetInt("generation.max_new_tokens"),
			Guidance:     v.GetFloat64("generation.guidance"),
			DurationHint: v.GetInt("generation.duration_hint"),
			Preload:      v.GetBool("generation.preload"),
		},
		Queue: QueueConfig{
			Backend:               strings.ToLower(v.GetString("queue.backend")),
			Concurrency:           v.GetInt("queue.concurrency"),
			GenerationConcurrency: v.GetInt("queue.generation_concurrency"),
		},
		Tasks: TasksConfig{
			Store:      strings.ToLower(v.GetString("tasks.store")),
			SQLitePath: v.GetString("tasks.sqlite_path"),
			RedisTTL:   v.GetInt("tasks.redis_ttl"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			PublicURL:       v.GetString("storage.public_url"),
			Prefix:          v.GetString("storage.prefix"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: v.GetInt("ratelimit.submit_per_hour"),
		},
	}

	return cfg, nil
}
