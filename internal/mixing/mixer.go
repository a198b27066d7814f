// Package mixing renders stem mixes, two-track blends and smart mixes with
// mood and genre effects applied.
package mixing

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/moodremix/api/internal/apperrors"
	"github.com/moodremix/api/internal/filtergraph"
	"github.com/moodremix/api/internal/preset"
	"github.com/moodremix/api/internal/separation"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Renderer runs a built filter graph into an output file.
type Renderer interface {
	Render(ctx context.Context, cmd filtergraph.Command, outputPath string) error
}

// Separator splits a track into stems.
type Separator interface {
	Separate(ctx context.Context, req separation.Request) separation.Result
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

type Mixer struct {
	builder   *filtergraph.Builder
	renderer  Renderer
	separator Separator
}

func NewMixer(builder *filtergraph.Builder, renderer Renderer, separator Separator) *Mixer {
	if builder == nil {
		builder = filtergraph.NewBuilder()
	}
	return &Mixer{builder: builder, renderer: renderer, separator: separator}
}

// MixStemsWithVolumes mixes whichever of the four canonical stems exist in
// stemsDir. Stems missing from volumes play at unity gain.
func (m *Mixer) MixStemsWithVolumes(ctx context.Context, stemsDir string, volumes map[string]float64, outputPath, mood, genre string) Result {
	inputs := make([]filtergraph.Input, 0, len(separation.Stems))
	for _, stem := range separation.Stems {
		gain, ok := volumes[stem]
		if !ok {
			gain = 1.0
		}
		inputs = append(inputs, filtergraph.Input{
			Label: stem,
			Path:  filepath.Join(stemsDir, separation.StemFile(stem)),
			Gain:  gain,
		})
	}

	cmd, err := m.builder.BuildVolumeMix(inputs, preset.Mood(mood), preset.Genre(genre))
	if err != nil {
		if errors.Is(err, apperrors.ErrNoInputs) {
			return Result{Status: StatusError, Message: "No stem files found", Err: err}
		}
		return Result{Status: StatusError, Message: "Mixing failed: " + err.Error(), Err: err}
	}
	return m.render(ctx, cmd, outputPath, "Mixing failed: ")
}

// MixTwoTracks blends pathA and pathB; blendRatio is the share of pathB.
func (m *Mixer) MixTwoTracks(ctx context.Context, pathA, pathB string, blendRatio float64, outputPath, mood, genre string) Result {
	cmd := m.builder.BuildTwoTrackBlend(pathA, pathB, blendRatio, preset.Mood(mood), preset.Genre(genre))
	return m.render(ctx, cmd, outputPath, "Mixing failed: ")
}

// SmartMixRequest takes the vocals of Vocals and the instrumental stems of
// Instrumental.
type SmartMixRequest struct {
	Vocals        string
	Instrumental  string
	OutputDir     string
	OutputPath    string
	Mood          string
	Genre         string
	DurationLimit int
	TurboPreview  bool
}

// Fixed smart mix gains: boosted vocals, softened "other".
var smartMixGains = []struct {
	stem  string
	label string
	gain  float64
}{
	{separation.StemVocals, "v", 1.2},
	{separation.StemDrums, "d", 1.0},
	{separation.StemBass, "b", 1.0},
	{separation.StemOther, "o", 0.8},
}

// SmartMix separates both tracks and mixes vocals from the first with the
// drums, bass and other stems of the second. progress, when set, is called
// after each separation.
func (m *Mixer) SmartMix(ctx context.Context, req SmartMixRequest, progress func(percent int)) Result {
	if progress == nil {
		progress = func(int) {}
	}
	logger := log.WithFields(log.Fields{
		"vocals":       req.Vocals,
		"instrumental": req.Instrumental,
		"output":       req.OutputPath,
	})

	first := m.separator.Separate(ctx, separation.Request{
		InputPath:     req.Vocals,
		OutputDir:     req.OutputDir,
		DurationLimit: req.DurationLimit,
		VocalsOnly:    true,
		TurboPreview:  req.TurboPreview,
	})
	progress(40)
	second := m.separator.Separate(ctx, separation.Request{
		InputPath:     req.Instrumental,
		OutputDir:     req.OutputDir,
		DurationLimit: req.DurationLimit,
		TurboPreview:  req.TurboPreview,
	})
	progress(80)

	if !first.OK() || !second.OK() {
		logger.WithFields(log.Fields{
			"vocals_error":       first.Message,
			"instrumental_error": second.Message,
		}).Warn("smart mix separation failed")
		err := errors.CombineErrors(first.Err, second.Err)
		if err == nil {
			err = errors.New("separation failed")
		}
		return Result{
			Status:  StatusError,
			Message: "Separation failed: " + first.Message + " " + second.Message,
			Err:     err,
		}
	}

	stemDirs := map[string]string{
		separation.StemVocals: first.StemsDir,
		separation.StemDrums:  second.StemsDir,
		separation.StemBass:   second.StemsDir,
		separation.StemOther:  second.StemsDir,
	}
	var (
		inputs []filtergraph.Input
		stages []filtergraph.Stage
		labels []string
	)
	for i, s := range smartMixGains {
		inputs = append(inputs, filtergraph.Input{
			Label: s.stem,
			Path:  filepath.Join(stemDirs[s.stem], separation.StemFile(s.stem)),
			Gain:  s.gain,
		})
		stages = append(stages, filtergraph.GainStage(i, s.gain, s.label))
		labels = append(labels, s.label)
	}
	stages = append(stages, filtergraph.CombineStage(labels, preset.Mood(req.Mood), preset.Genre(req.Genre)))

	cmd := filtergraph.Command{
		Inputs:      inputs,
		Graph:       filtergraph.Graph{Stages: stages},
		OutputLabel: filtergraph.OutputLabel,
	}
	return m.render(ctx, cmd, req.OutputPath, "Smart mix failed: ")
}

func (m *Mixer) render(ctx context.Context, cmd filtergraph.Command, outputPath, failurePrefix string) Result {
	if err := cmd.Graph.Validate(); err != nil {
		return Result{Status: StatusError, Message: failurePrefix + err.Error(), Err: err}
	}
	if err := m.renderer.Render(ctx, cmd, outputPath); err != nil {
		log.WithError(err).WithField("output", outputPath).Error("render failed")
		return Result{
			Status:  StatusError,
			Message: failurePrefix + strings.TrimSpace(apperrors.Diagnostic(err)),
			Err:     err,
		}
	}
	return Result{Status: StatusSuccess, File: outputPath}
}
