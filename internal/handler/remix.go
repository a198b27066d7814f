package handler

import (
	"math"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/moodremix/api/internal/filtergraph"
	"github.com/moodremix/api/internal/model"
	"github.com/moodremix/api/internal/service"
	"github.com/moodremix/api/pkg/response"
)

const statusQueued = "queued"

type RemixHandler struct {
	service      *service.RemixService
	uploads      *service.UploadService
	processedDir string
	validator    *validator.Validate
}

func NewRemixHandler(svc *service.RemixService, uploads *service.UploadService, processedDir string, v *validator.Validate) *RemixHandler {
	return &RemixHandler{
		service:      svc,
		uploads:      uploads,
		processedDir: processedDir,
		validator:    v,
	}
}

func queued(c *fiber.Ctx, taskID string) error {
	return response.OK(c, model.SubmitResponse{TaskID: taskID, Status: statusQueued})
}

// parseParams reads query parameters and, for multipart bodies, form
// fields into dst.
func parseParams(c *fiber.Ctx, dst interface{}) error {
	if err := c.QueryParser(dst); err != nil {
		return err
	}
	if _, err := c.MultipartForm(); err == nil {
		return c.BodyParser(dst)
	}
	return nil
}

func (h *RemixHandler) save(c *fiber.Ctx, field, prefix string) (string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", errors.Wrapf(err, "%s is required", field)
	}
	return h.saveHeader(fh, prefix)
}

func (h *RemixHandler) saveHeader(fh *multipart.FileHeader, prefix string) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", errors.Wrap(err, "failed to open upload")
	}
	defer f.Close()
	return h.uploads.Save(fh.Filename, prefix, f)
}

func (h *RemixHandler) uploadError(c *fiber.Ctx, field string, err error) error {
	if errors.Is(err, service.ErrInvalidFilename) {
		return response.ValidationError(c, "Invalid file name", fiber.Map{field: err.Error()})
	}
	if _, ferr := c.FormFile(field); ferr != nil {
		return response.ValidationError(c, field+" is required", nil)
	}
	log.WithError(err).WithField("field", field).Error("failed to save upload")
	return response.ServiceError(c, "Failed to save upload")
}

// Remix handles POST /api/remix
func (h *RemixHandler) Remix(c *fiber.Ctx) error {
	var req model.SeparationRequest
	if err := parseParams(c, &req); err != nil {
		return response.ValidationError(c, "Invalid request parameters", nil)
	}

	path, err := h.save(c, "file", "")
	if err != nil {
		return h.uploadError(c, "file", err)
	}

	taskID, err := h.service.SubmitSeparation(c.Context(), path, req.FastMode, req.TurboMode)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return queued(c, taskID)
}

// Generate handles POST /api/generate
func (h *RemixHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if err := c.QueryParser(&req); err != nil {
		return response.ValidationError(c, "Invalid query parameters", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	taskID, err := h.service.SubmitGeneration(c.Context(), req.Mood, req.Genre, req.Language)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return queued(c, taskID)
}

// Mix handles POST /api/mix
func (h *RemixHandler) Mix(c *fiber.Ctx) error {
	var req model.MixRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if _, err := h.service.ResolveStemsDir(req.StemsDir); err != nil {
		return response.ValidationError(c, "Invalid stems_dir", fiber.Map{"stems_dir": err.Error()})
	}

	if c.QueryBool("async") {
		taskID, err := h.service.SubmitMix(c.Context(), &req)
		if err != nil {
			return response.ServiceError(c, err.Error())
		}
		return queued(c, taskID)
	}
	return response.OK(c, h.service.MixStems(c.Context(), &req))
}

// MixTwoFiles handles POST /api/mix-two-files
func (h *RemixHandler) MixTwoFiles(c *fiber.Ctx) error {
	req := model.BlendRequest{BlendRatio: filtergraph.DefaultBlendRatio}
	if err := parseParams(c, &req); err != nil {
		return response.ValidationError(c, "Invalid request parameters", nil)
	}
	if math.IsNaN(req.BlendRatio) {
		return response.ValidationError(c, "Validation failed", fiber.Map{"BlendRequest.BlendRatio": "number"})
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	pathA, err := h.save(c, "file1", "")
	if err != nil {
		return h.uploadError(c, "file1", err)
	}
	pathB, err := h.save(c, "file2", "")
	if err != nil {
		return h.uploadError(c, "file2", err)
	}

	if req.Async {
		taskID, err := h.service.SubmitBlend(c.Context(), pathA, pathB, &req)
		if err != nil {
			return response.ServiceError(c, err.Error())
		}
		return queued(c, taskID)
	}
	return response.OK(c, h.service.Blend(c.Context(), pathA, pathB, &req))
}

// SmartMix handles POST /api/smart-mix
func (h *RemixHandler) SmartMix(c *fiber.Ctx) error {
	var req model.SeparationRequest
	if err := parseParams(c, &req); err != nil {
		return response.ValidationError(c, "Invalid request parameters", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	vocals, err := h.save(c, "file1", service.SmartPrefix)
	if err != nil {
		return h.uploadError(c, "file1", err)
	}
	instrumental, err := h.save(c, "file2", service.SmartPrefix)
	if err != nil {
		return h.uploadError(c, "file2", err)
	}

	taskID, err := h.service.SubmitSmartMix(c.Context(), vocals, instrumental, &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return queued(c, taskID)
}

// Download handles GET /api/download/:filename
func (h *RemixHandler) Download(c *fiber.Ctx) error {
	name, err := service.SafeName(c.Params("filename"))
	if err != nil {
		return response.FileNotFound(c)
	}
	path := filepath.Join(h.processedDir, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return response.FileNotFound(c)
	}

	if err := c.SendFile(path); err != nil {
		return err
	}
	c.Attachment(name)
	c.Set(fiber.HeaderContentType, "audio/wav")
	return nil
}
