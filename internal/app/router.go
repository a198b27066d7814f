package app

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/moodremix/api/internal/handler"
	"github.com/moodremix/api/internal/middleware"
	"github.com/moodremix/api/pkg/response"
)

type RouterConfig struct {
	LogLevel      string
	BodyLimitMB   int
	SubmitPerHour int
}

type Handlers struct {
	System  *handler.SystemHandler
	Remix   *handler.RemixHandler
	Tasks   *handler.TaskHandler
	Auth    *middleware.AuthMiddleware
	Limiter *middleware.RateLimiter
}

// NewRouter mounts every route on a fresh fiber app.
func NewRouter(cfg RouterConfig, h Handlers) *fiber.App {
	if cfg.BodyLimitMB <= 0 {
		cfg.BodyLimitMB = 200
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		BodyLimit:             cfg.BodyLimitMB * 1024 * 1024,
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{Format: logFormat}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Public routes, registered ahead of the authenticated group
	app.Get("/", h.System.Root)
	app.Get("/api/health", h.System.Health)
	app.Get("/api/presets", h.System.Presets)

	api := app.Group("/api", h.Auth.Authenticate())

	submit := h.Limiter.SubmitLimit(cfg.SubmitPerHour)
	api.Post("/remix", submit, h.Remix.Remix)
	api.Post("/generate", submit, h.Remix.Generate)
	api.Post("/mix", submit, h.Remix.Mix)
	api.Post("/mix-two-files", submit, h.Remix.MixTwoFiles)
	api.Post("/smart-mix", submit, h.Remix.SmartMix)

	api.Get("/task-status/:taskId", h.Tasks.Status)
	api.Get("/download/:filename", h.Remix.Download)

	// WebSocket routes
	app.Use("/ws", handler.Upgrade)
	app.Get("/ws/tasks/:taskId", h.Tasks.Stream())

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusUpgradeRequired:
		errCode = response.CodeValidationError
	}
	return response.Error(c, code, errCode, message, nil)
}
