package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/moodremix/api/internal/preset"
	"github.com/moodremix/api/pkg/response"
)

// Health reports the readiness of the service's dependencies
type Health struct {
	ModelLoaded func() bool
	FFmpeg      func() bool
}

type SystemHandler struct {
	health Health
}

func NewSystemHandler(h Health) *SystemHandler {
	if h.ModelLoaded == nil {
		h.ModelLoaded = func() bool { return false }
	}
	if h.FFmpeg == nil {
		h.FFmpeg = func() bool { return false }
	}
	return &SystemHandler{health: h}
}

// Root handles GET /
func (h *SystemHandler) Root(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"message": "AI Mood Music Remix API is running"})
}

// Health handles GET /api/health
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"status":       "online",
		"model_loaded": h.health.ModelLoaded(),
		"ffmpeg":       h.health.FFmpeg(),
	})
}

// Presets handles GET /api/presets
func (h *SystemHandler) Presets(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"moods":  preset.Moods(),
		"genres": preset.Genres(),
	})
}
