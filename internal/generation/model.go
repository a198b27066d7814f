package generation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/moodremix/api/internal/apperrors"
	"github.com/moodremix/api/internal/client"
)

// Waveform is mono audio in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Model is the text-to-audio capability.
type Model interface {
	Load(ctx context.Context) error
	Generate(ctx context.Context, prompt string, maxNewTokens int, guidance float64) (Waveform, error)
}

// Handle owns the process-wide model. The model is loaded at most once;
// a failed load is retried by the next caller. Calls into the model are
// serialized since it is not assumed to be reentrant.
type Handle struct {
	model Model

	loadMu sync.Mutex
	loaded atomic.Bool
	callMu sync.Mutex
}

func NewHandle(model Model) *Handle {
	return &Handle{model: model}
}

// Loaded reports whether the model has been loaded.
func (h *Handle) Loaded() bool {
	return h.loaded.Load()
}

// Ensure loads the model if it is not loaded yet.
func (h *Handle) Ensure(ctx context.Context) error {
	if h.loaded.Load() {
		return nil
	}
	h.loadMu.Lock()
	defer h.loadMu.Unlock()
	if h.loaded.Load() {
		return nil
	}
	if err := h.model.Load(ctx); err != nil {
		return errors.Mark(errors.Wrap(err, "load generation model"), apperrors.ErrModelLoad)
	}
	h.loaded.Store(true)
	return nil
}

// Preload loads the model off the caller's goroutine. Failures are logged.
func (h *Handle) Preload(ctx context.Context) {
	go func() {
		log.Info("preloading generation model")
		if err := h.Ensure(ctx); err != nil {
			log.WithError(err).Error("generation model preload failed")
			return
		}
		log.Info("generation model loaded")
	}()
}

// Generate loads the model when needed and runs one generation.
func (h *Handle) Generate(ctx context.Context, prompt string, maxNewTokens int, guidance float64) (Waveform, error) {
	if err := h.Ensure(ctx); err != nil {
		return Waveform{}, err
	}
	h.callMu.Lock()
	defer h.callMu.Unlock()
	return h.model.Generate(ctx, prompt, maxNewTokens, guidance)
}

// ServiceModel runs the model inside the inference service.
type ServiceModel struct {
	client *client.GenerationClient
	name   string
}

func NewServiceModel(c *client.GenerationClient, name string) *ServiceModel {
	return &ServiceModel{client: c, name: name}
}

func (m *ServiceModel) Load(ctx context.Context) error {
	res, err := m.client.Load(ctx, &client.LoadRequest{Model: m.name})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"model":  res.Model,
		"device": res.Device,
	}).Info("generation service model ready")
	return nil
}

func (m *ServiceModel) Generate(ctx context.Context, prompt string, maxNewTokens int, guidance float64) (Waveform, error) {
	res, err := m.client.Generate(ctx, &client.GenerateRequest{
		Model:         m.name,
		Prompt:        prompt,
		MaxNewTokens:  maxNewTokens,
		GuidanceScale: guidance,
	})
	if err != nil {
		return Waveform{}, err
	}
	return Waveform{Samples: res.Samples, SampleRate: res.SampleRate}, nil
}
