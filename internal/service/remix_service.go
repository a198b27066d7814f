package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/moodremix/api/internal/generation"
	"github.com/moodremix/api/internal/mixing"
	"github.com/moodremix/api/internal/model"
	"github.com/moodremix/api/internal/separation"
	"github.com/moodremix/api/internal/task"
)

var ErrOutsideOutputDir = errors.New("path is outside the processed directory")

// Separator splits a track into stems.
type Separator interface {
	Separate(ctx context.Context, req separation.Request) separation.Result
}

// Mixer renders mixes.
type Mixer interface {
	MixStemsWithVolumes(ctx context.Context, stemsDir string, volumes map[string]float64, outputPath, mood, genre string) mixing.Result
	MixTwoTracks(ctx context.Context, pathA, pathB string, blendRatio float64, outputPath, mood, genre string) mixing.Result
	SmartMix(ctx context.Context, req mixing.SmartMixRequest, progress func(int)) mixing.Result
}

// Generator renders clips from prompts.
type Generator interface {
	Generate(ctx context.Context, prompt, language string, durationHint int, outputPath string) generation.Result
}

// Submitter schedules background tasks.
type Submitter interface {
	Submit(ctx context.Context, kind string, payload interface{}) (string, error)
}

// Registrar accepts task handlers.
type Registrar interface {
	Register(kind string, h task.Handler)
}

type Limits struct {
	Fast int // seconds
	Full int // seconds
}

type RemixServiceConfig struct {
	ProcessedDir string
	Limits       Limits
	DurationHint int
}

// RemixService turns API requests into pipeline runs, either inline or as
// tasks.
type RemixService struct {
	cfg       RemixServiceConfig
	separator Separator
	mixer     Mixer
	generator Generator
	publisher *OutputPublisher
	tasks     Submitter
}

func NewRemixService(cfg RemixServiceConfig, separator Separator, mixer Mixer, generator Generator, publisher *OutputPublisher, tasks Submitter) *RemixService {
	if cfg.Limits.Fast == 0 {
		cfg.Limits.Fast = 60
	}
	if cfg.Limits.Full == 0 {
		cfg.Limits.Full = 360
	}
	if cfg.DurationHint == 0 {
		cfg.DurationHint = 15
	}
	return &RemixService{
		cfg:       cfg,
		separator: separator,
		mixer:     mixer,
		generator: generator,
		publisher: publisher,
		tasks:     tasks,
	}
}

// Limit is the duration cap for a separation request.
func (s *RemixService) Limit(fastMode bool) int {
	if fastMode {
		return s.cfg.Limits.Fast
	}
	return s.cfg.Limits.Full
}

// output resolves an output file name under the processed directory. Names
// carrying a path are refused.
func (s *RemixService) output(name string) (string, error) {
	safe, err := SafeName(name)
	if err != nil {
		return "", errors.Wrapf(ErrOutsideOutputDir, "output %q", name)
	}
	return filepath.Join(s.cfg.ProcessedDir, safe), nil
}

func (s *RemixService) submitTo(ctx context.Context, kind, outputName string, payload interface{}) (string, error) {
	if _, err := s.output(outputName); err != nil {
		return "", err
	}
	return s.tasks.Submit(ctx, kind, payload)
}

// ResolveStemsDir accepts only directories inside the processed directory.
func (s *RemixService) ResolveStemsDir(dir string) (string, error) {
	root, err := filepath.Abs(s.cfg.ProcessedDir)
	if err != nil {
		return "", errors.Wrap(err, "resolve processed directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrap(err, "resolve stems directory")
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrOutsideOutputDir, "%q", dir)
	}
	return dir, nil
}

// Handlers binds every task kind to its pipeline.
func (s *RemixService) Handlers() map[string]task.Handler {
	return map[string]task.Handler{
		model.TaskKindSeparation: s.runSeparation,
		model.TaskKindGeneration: s.runGeneration,
		model.TaskKindMix:        s.runMix,
		model.TaskKindBlend:      s.runBlend,
		model.TaskKindSmartMix:   s.runSmartMix,
	}
}

// Register installs Handlers on r.
func (s *RemixService) Register(r Registrar) {
	for kind, h := range s.Handlers() {
		r.Register(kind, h)
	}
}

// SubmitSeparation schedules a stem separation of an uploaded file.
func (s *RemixService) SubmitSeparation(ctx context.Context, inputPath string, fastMode, turboMode bool) (string, error) {
	return s.tasks.Submit(ctx, model.TaskKindSeparation, model.SeparationPayload{
		InputPath:     inputPath,
		DurationLimit: s.Limit(fastMode),
		TurboPreview:  turboMode,
	})
}

// SubmitGeneration schedules a clip for "<mood> <genre>" in language's style.
func (s *RemixService) SubmitGeneration(ctx context.Context, mood, genre, language string) (string, error) {
	name := GeneratedName(mood, language)
	return s.submitTo(ctx, model.TaskKindGeneration, name, model.GenerationPayload{
		Prompt:       mood + " " + genre,
		Language:     language,
		DurationHint: s.cfg.DurationHint,
		OutputName:   name,
	})
}

func (s *RemixService) mixPayload(req *model.MixRequest) model.MixPayload {
	return model.MixPayload{
		StemsDir:   req.StemsDir,
		Volumes:    req.Volumes,
		Mood:       req.Mood,
		Genre:      req.Genre,
		OutputName: MixedName(req.Mood),
	}
}

// MixStems renders a stem mix inline.
func (s *RemixService) MixStems(ctx context.Context, req *model.MixRequest) model.MixResponse {
	return s.mix(ctx, s.mixPayload(req))
}

// SubmitMix schedules a stem mix.
func (s *RemixService) SubmitMix(ctx context.Context, req *model.MixRequest) (string, error) {
	p := s.mixPayload(req)
	return s.submitTo(ctx, model.TaskKindMix, p.OutputName, p)
}

func (s *RemixService) blendPayload(trackA, trackB string, req *model.BlendRequest) model.BlendPayload {
	return model.BlendPayload{
		TrackA:     trackA,
		TrackB:     trackB,
		BlendRatio: req.BlendRatio,
		Mood:       req.Mood,
		Genre:      req.Genre,
		OutputName: BlendName(req.Mood, req.BlendRatio),
	}
}

// Blend renders a two-file mix inline.
func (s *RemixService) Blend(ctx context.Context, trackA, trackB string, req *model.BlendRequest) model.MixResponse {
	return s.blend(ctx, s.blendPayload(trackA, trackB, req))
}

// SubmitBlend schedules a two-file mix.
func (s *RemixService) SubmitBlend(ctx context.Context, trackA, trackB string, req *model.BlendRequest) (string, error) {
	p := s.blendPayload(trackA, trackB, req)
	return s.submitTo(ctx, model.TaskKindBlend, p.OutputName, p)
}

// SubmitSmartMix schedules vocals of vocalsPath over the instrumental of
// instrumentalPath.
func (s *RemixService) SubmitSmartMix(ctx context.Context, vocalsPath, instrumentalPath string, req *model.SeparationRequest) (string, error) {
	name := SmartMixName(req.Mood, req.Genre)
	return s.submitTo(ctx, model.TaskKindSmartMix, name, model.SmartMixPayload{
		VocalsPath:       vocalsPath,
		InstrumentalPath: instrumentalPath,
		Mood:             req.Mood,
		Genre:            req.Genre,
		DurationLimit:    s.Limit(req.FastMode),
		TurboPreview:     req.TurboMode,
		OutputName:       name,
	})
}

func decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "invalid task payload")
	}
	return nil
}

func (s *RemixService) runSeparation(ctx context.Context, raw json.RawMessage, _ func(int)) (model.Outcome, error) {
	var p model.SeparationPayload
	if err := decode(raw, &p); err != nil {
		return model.Outcome{}, err
	}
	res := s.separator.Separate(ctx, separation.Request{
		InputPath:     p.InputPath,
		OutputDir:     s.cfg.ProcessedDir,
		DurationLimit: p.DurationLimit,
		VocalsOnly:    p.VocalsOnly,
		TurboPreview:  p.TurboPreview,
	})
	if !res.OK() {
		return model.Failed(res.Message), nil
	}
	return model.Completed(res, ""), nil
}

func (s *RemixService) runGeneration(ctx context.Context, raw json.RawMessage, _ func(int)) (model.Outcome, error) {
	var p model.GenerationPayload
	if err := decode(raw, &p); err != nil {
		return model.Outcome{}, err
	}
	out, err := s.output(p.OutputName)
	if err != nil {
		return model.Failed(invalidOutput(p.OutputName)), nil
	}
	res := s.generator.Generate(ctx, p.Prompt, p.Language, p.DurationHint, out)
	if !res.OK() {
		return model.Failed(res.Message), nil
	}
	return s.finished(ctx, out, p.OutputName), nil
}

func (s *RemixService) runMix(ctx context.Context, raw json.RawMessage, _ func(int)) (model.Outcome, error) {
	var p model.MixPayload
	if err := decode(raw, &p); err != nil {
		return model.Outcome{}, err
	}
	return outcomeOf(s.mix(ctx, p)), nil
}

func (s *RemixService) runBlend(ctx context.Context, raw json.RawMessage, _ func(int)) (model.Outcome, error) {
	var p model.BlendPayload
	if err := decode(raw, &p); err != nil {
		return model.Outcome{}, err
	}
	return outcomeOf(s.blend(ctx, p)), nil
}

func (s *RemixService) runSmartMix(ctx context.Context, raw json.RawMessage, progress func(int)) (model.Outcome, error) {
	var p model.SmartMixPayload
	if err := decode(raw, &p); err != nil {
		return model.Outcome{}, err
	}
	out, err := s.output(p.OutputName)
	if err != nil {
		return model.Failed(invalidOutput(p.OutputName)), nil
	}
	res := s.mixer.SmartMix(ctx, mixing.SmartMixRequest{
		Vocals:        p.VocalsPath,
		Instrumental:  p.InstrumentalPath,
		OutputDir:     s.cfg.ProcessedDir,
		OutputPath:    out,
		Mood:          p.Mood,
		Genre:         p.Genre,
		DurationLimit: p.DurationLimit,
		TurboPreview:  p.TurboPreview,
	}, progress)
	if !res.OK() {
		return model.Failed(res.Message), nil
	}
	return s.finished(ctx, out, p.OutputName), nil
}

func (s *RemixService) mix(ctx context.Context, p model.MixPayload) model.MixResponse {
	out, err := s.output(p.OutputName)
	if err != nil {
		return model.MixResponse{Status: mixing.StatusError, Message: invalidOutput(p.OutputName)}
	}
	res := s.mixer.MixStemsWithVolumes(ctx, p.StemsDir, p.Volumes, out, p.Mood, p.Genre)
	return s.respond(ctx, res, out, p.OutputName)
}

func (s *RemixService) blend(ctx context.Context, p model.BlendPayload) model.MixResponse {
	out, err := s.output(p.OutputName)
	if err != nil {
		return model.MixResponse{Status: mixing.StatusError, Message: invalidOutput(p.OutputName)}
	}
	res := s.mixer.MixTwoTracks(ctx, p.TrackA, p.TrackB, p.BlendRatio, out, p.Mood, p.Genre)
	return s.respond(ctx, res, out, p.OutputName)
}

func invalidOutput(name string) string {
	return fmt.Sprintf("Invalid output name: %s", name)
}

func (s *RemixService) respond(ctx context.Context, res mixing.Result, out, name string) model.MixResponse {
	if !res.OK() {
		log.WithFields(log.Fields{"output": name, "message": res.Message}).Warn("mix failed")
		return model.MixResponse{Status: mixing.StatusError, Message: res.Message}
	}
	return model.MixResponse{
		Status: mixing.StatusSuccess,
		File:   name,
		URL:    s.publisher.Publish(ctx, out),
	}
}

func (s *RemixService) finished(ctx context.Context, out, name string) model.Outcome {
	resp := model.MixResponse{
		Status: mixing.StatusSuccess,
		File:   name,
		URL:    s.publisher.Publish(ctx, out),
	}
	return outcomeOf(resp)
}

func outcomeOf(resp model.MixResponse) model.Outcome {
	if resp.Status != mixing.StatusSuccess {
		return model.Failed(resp.Message)
	}
	o := model.Completed(resp, resp.File)
	o.URL = resp.URL
	return o
}
