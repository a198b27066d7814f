// Package generation creates new clips from a mood/genre/language prompt with
// a text-to-audio model.
package generation

import (
	"context"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/moodremix/api/internal/apperrors"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type Config struct {
	MaxNewTokens int
	Guidance     float64
}

type Result struct {
	Status  string `json:"status"`
	File    string `json:"file,omitempty"`
	Message string `json:"message,omitempty"`

	Err error `json:"-"`
}

func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

type Generator struct {
	cfg    Config
	handle *Handle
}

func NewGenerator(cfg Config, handle *Handle) *Generator {
	if cfg.MaxNewTokens == 0 {
		cfg.MaxNewTokens = 250
	}
	if cfg.Guidance == 0 {
		cfg.Guidance = 3.0
	}
	return &Generator{cfg: cfg, handle: handle}
}

// Generate renders a clip for prompt in the style of language to
// outputPath. durationHint is accepted for callers but the clip length is
// set by the token budget.
func (g *Generator) Generate(ctx context.Context, prompt, language string, durationHint int, outputPath string) Result {
	full := BuildPrompt(prompt, language)
	logger := log.WithFields(log.Fields{
		"prompt":        full,
		"duration_hint": durationHint,
		"output":        outputPath,
	})
	logger.Info("generating clip")

	wave, err := g.handle.Generate(ctx, full, g.cfg.MaxNewTokens, g.cfg.Guidance)
	if err != nil {
		logger.WithError(err).Error("generation failed")
		if errors.Is(err, apperrors.ErrModelLoad) {
			return Result{Status: StatusError, Message: "Model load failed: " + err.Error(), Err: err}
		}
		return Result{Status: StatusError, Message: "Generation failed: " + err.Error(), Err: err}
	}

	if err := WriteWAV(outputPath, wave); err != nil {
		logger.WithError(err).Error("writing clip failed")
		return Result{Status: StatusError, Message: "Generation failed: " + err.Error(), Err: err}
	}
	return Result{Status: StatusSuccess, File: outputPath}
}

// WriteWAV writes wave as 16-bit mono PCM. The file appears at path only once
// it is complete.
func WriteWAV(path string, wave Waveform) error {
	if wave.SampleRate <= 0 {
		return errors.Newf("invalid sample rate %d", wave.SampleRate)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}

	data := make([]int, len(wave.Samples))
	for i, s := range wave.Samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		data[i] = int(s * 32767)
	}

	enc := wav.NewEncoder(f, wave.SampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: wave.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "encode wav")
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "finish wav")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close wav")
	}
	return errors.Wrap(os.Rename(tmp, path), "publish wav")
}
