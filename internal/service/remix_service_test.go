package service

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/moodremix/api/internal/generation"
	"github.com/moodremix/api/internal/mixing"
	"github.com/moodremix/api/internal/model"
	"github.com/moodremix/api/internal/separation"
	"github.com/moodremix/api/internal/task"
)

type fakeSeparator struct {
	results map[string]separation.Result
	calls   []separation.Request
}

func (f *fakeSeparator) Separate(_ context.Context, req separation.Request) separation.Result {
	f.calls = append(f.calls, req)
	if r, ok := f.results[req.InputPath]; ok {
		return r
	}
	return separation.Result{Status: separation.StatusSuccess, StemsDir: "processed/htdemucs/" + filepath.Base(req.InputPath)}
}

type fakeMixer struct {
	result   mixing.Result
	lastOut  string
	smartReq mixing.SmartMixRequest
	ratio    float64
}

func (f *fakeMixer) MixStemsWithVolumes(_ context.Context, _ string, _ map[string]float64, out, _, _ string) mixing.Result {
	f.lastOut = out
	return f.result
}

func (f *fakeMixer) MixTwoTracks(_ context.Context, _, _ string, ratio float64, out, _, _ string) mixing.Result {
	f.lastOut = out
	f.ratio = ratio
	return f.result
}

func (f *fakeMixer) SmartMix(_ context.Context, req mixing.SmartMixRequest, progress func(int)) mixing.Result {
	f.smartReq = req
	f.lastOut = req.OutputPath
	progress(40)
	progress(80)
	return f.result
}

type fakeGenerator struct {
	prompt, language string
	out              string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt, language string, _ int, out string) generation.Result {
	f.prompt, f.language, f.out = prompt, language, out
	return generation.Result{Status: generation.StatusSuccess, File: out}
}

type captured struct {
	kind    string
	payload json.RawMessage
}

type fakeSubmitter struct {
	submitted []captured
}

func (f *fakeSubmitter) Submit(_ context.Context, kind string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	f.submitted = append(f.submitted, captured{kind: kind, payload: raw})
	return "task-1", nil
}

type fakeStore struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, _ = io.Copy(io.Discard, body)
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeStore) GetPublicURL(key string) string { return "https://cdn.example.com/" + key }

type registrarFunc func(kind string)

func (f registrarFunc) Register(kind string, _ task.Handler) { f(kind) }

func newService(t *testing.T, sep *fakeSeparator, mix *fakeMixer, gen *fakeGenerator, pub *OutputPublisher) (*RemixService, *fakeSubmitter, string) {
	t.Helper()
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	svc := NewRemixService(RemixServiceConfig{ProcessedDir: dir}, sep, mix, gen, pub, sub)
	return svc, sub, dir
}

func TestSubmitSeparationUsesModeLimits(t *testing.T) {
	g := NewWithT(t)
	svc, sub, _ := newService(t, &fakeSeparator{}, &fakeMixer{}, &fakeGenerator{}, nil)

	_, err := svc.SubmitSeparation(context.Background(), "uploads/song.mp3", true, false)
	g.Expect(err).NotTo(HaveOccurred())
	_, err = svc.SubmitSeparation(context.Background(), "uploads/song.mp3", false, true)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(sub.submitted).To(HaveLen(2))
	g.Expect(sub.submitted[0].kind).To(Equal(model.TaskKindSeparation))
	g.Expect(sub.submitted[0].payload).To(MatchJSON(`{"input_path":"uploads/song.mp3","duration_limit":60,"vocals_only":false,"turbo_preview":false}`))
	g.Expect(sub.submitted[1].payload).To(MatchJSON(`{"input_path":"uploads/song.mp3","duration_limit":360,"vocals_only":false,"turbo_preview":true}`))
}

func TestGenerationTask(t *testing.T) {
	g := NewWithT(t)
	gen := &fakeGenerator{}
	svc, sub, dir := newService(t, &fakeSeparator{}, &fakeMixer{}, gen, nil)

	_, err := svc.SubmitGeneration(context.Background(), "happy", "pop", "Hindi")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sub.submitted[0].payload).To(MatchJSON(`{"prompt":"happy pop","language":"Hindi","duration_hint":15,"output_name":"generated_happy_Hindi.wav"}`))

	outcome, err := svc.Handlers()[model.TaskKindGeneration](context.Background(), sub.submitted[0].payload, func(int) {})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(outcome.Status).To(Equal(model.TaskStatusCompleted))
	g.Expect(outcome.File).To(Equal("generated_happy_Hindi.wav"))
	g.Expect(gen.prompt).To(Equal("happy pop"))
	g.Expect(gen.out).To(Equal(filepath.Join(dir, "generated_happy_Hindi.wav")))
}

func TestSeparationTaskCarriesPipelineResult(t *testing.T) {
	g := NewWithT(t)
	sep := &fakeSeparator{results: map[string]separation.Result{
		"uploads/bad.mp3": {Status: separation.StatusError, Message: "Input file not found: bad.mp3"},
	}}
	svc, _, dir := newService(t, sep, &fakeMixer{}, &fakeGenerator{}, nil)
	run := svc.Handlers()[model.TaskKindSeparation]

	outcome, err := run(context.Background(), json.RawMessage(`{"input_path":"uploads/song.mp3","duration_limit":60}`), nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(outcome.Status).To(Equal(model.TaskStatusCompleted))
	g.Expect(outcome.Result).To(Equal(separation.Result{Status: separation.StatusSuccess, StemsDir: "processed/htdemucs/song.mp3"}))
	g.Expect(sep.calls[0].OutputDir).To(Equal(dir))
	g.Expect(sep.calls[0].DurationLimit).To(Equal(60))

	outcome, err = run(context.Background(), json.RawMessage(`{"input_path":"uploads/bad.mp3"}`), nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(outcome.Status).To(Equal(model.TaskStatusError))
	g.Expect(outcome.Message).To(Equal("Input file not found: bad.mp3"))
}

func TestSeparationTaskRejectsBadPayload(t *testing.T) {
	g := NewWithT(t)
	svc, _, _ := newService(t, &fakeSeparator{}, &fakeMixer{}, &fakeGenerator{}, nil)

	_, err := svc.Handlers()[model.TaskKindSeparation](context.Background(), json.RawMessage(`{`), nil)
	g.Expect(err).To(MatchError(ContainSubstring("invalid task payload")))
}

func TestMixStemsInline(t *testing.T) {
	g := NewWithT(t)
	mix := &fakeMixer{result: mixing.Result{Status: mixing.StatusSuccess}}
	svc, _, dir := newService(t, &fakeSeparator{}, mix, &fakeGenerator{}, nil)

	resp := svc.MixStems(context.Background(), &model.MixRequest{StemsDir: "stems", Mood: "happy"})
	g.Expect(resp).To(Equal(model.MixResponse{Status: "success", File: "mixed_happy.wav"}))
	g.Expect(mix.lastOut).To(Equal(filepath.Join(dir, "mixed_happy.wav")))

	resp = svc.MixStems(context.Background(), &model.MixRequest{StemsDir: "stems"})
	g.Expect(resp.File).To(Equal("mixed_custom.wav"))
}

func TestMixStemsInlineFailure(t *testing.T) {
	g := NewWithT(t)
	mix := &fakeMixer{result: mixing.Result{Status: mixing.StatusError, Message: "No stem files found"}}
	svc, _, _ := newService(t, &fakeSeparator{}, mix, &fakeGenerator{}, nil)

	resp := svc.MixStems(context.Background(), &model.MixRequest{StemsDir: "stems"})
	g.Expect(resp).To(Equal(model.MixResponse{Status: "error", Message: "No stem files found"}))
}

func TestBlendNamesAndAsync(t *testing.T) {
	g := NewWithT(t)
	mix := &fakeMixer{result: mixing.Result{Status: mixing.StatusSuccess}}
	svc, sub, _ := newService(t, &fakeSeparator{}, mix, &fakeGenerator{}, nil)

	resp := svc.Blend(context.Background(), "a.wav", "b.wav", &model.BlendRequest{BlendRatio: 0.3, Mood: "happy"})
	g.Expect(resp.File).To(Equal("mixed_happy_0.3.wav"))
	g.Expect(mix.ratio).To(Equal(0.3))

	_, err := svc.SubmitBlend(context.Background(), "a.wav", "b.wav", &model.BlendRequest{BlendRatio: 1})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sub.submitted[0].kind).To(Equal(model.TaskKindBlend))

	outcome, err := svc.Handlers()[model.TaskKindBlend](context.Background(), sub.submitted[0].payload, nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(outcome.File).To(Equal("mixed_blend_1.0.wav"))
}

func TestSmartMixTask(t *testing.T) {
	g := NewWithT(t)
	mix := &fakeMixer{result: mixing.Result{Status: mixing.StatusSuccess}}
	svc, sub, dir := newService(t, &fakeSeparator{}, mix, &fakeGenerator{}, nil)

	_, err := svc.SubmitSmartMix(context.Background(), "uploads/smart_a.mp3", "uploads/smart_b.mp3",
		&model.SeparationRequest{TurboMode: true, Genre: "lofi"})
	g.Expect(err).NotTo(HaveOccurred())

	var reported []int
	outcome, err := svc.Handlers()[model.TaskKindSmartMix](context.Background(), sub.submitted[0].payload, func(p int) {
		reported = append(reported, p)
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(outcome.Status).To(Equal(model.TaskStatusCompleted))
	g.Expect(outcome.File).To(Equal("smart_mix_remix_lofi.wav"))
	g.Expect(reported).To(Equal([]int{40, 80}))
	g.Expect(mix.smartReq.OutputDir).To(Equal(dir))
	g.Expect(mix.smartReq.TurboPreview).To(BeTrue())
	g.Expect(mix.smartReq.DurationLimit).To(Equal(360))
}

func TestSmartMixTaskFailure(t *testing.T) {
	g := NewWithT(t)
	mix := &fakeMixer{result: mixing.Result{Status: mixing.StatusError, Message: "Separation failed:  Demucs failed to produce output. Check logs."}}
	svc, sub, _ := newService(t, &fakeSeparator{}, mix, &fakeGenerator{}, nil)

	_, err := svc.SubmitSmartMix(context.Background(), "a", "b", &model.SeparationRequest{})
	g.Expect(err).NotTo(HaveOccurred())
	outcome, err := svc.Handlers()[model.TaskKindSmartMix](context.Background(), sub.submitted[0].payload, func(int) {})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(outcome.Status).To(Equal(model.TaskStatusError))
	g.Expect(outcome.Message).To(ContainSubstring("Demucs failed to produce output"))
}

func TestPublishedOutputsCarryURL(t *testing.T) {
	g := NewWithT(t)
	store := &fakeStore{}
	mix := &fakeMixer{result: mixing.Result{Status: mixing.StatusSuccess}}
	svc, _, dir := newService(t, &fakeSeparator{}, mix, &fakeGenerator{}, NewOutputPublisher(store, "outputs"))
	g.Expect(os.WriteFile(filepath.Join(dir, "mixed_sad.wav"), []byte("RIFF"), 0o644)).To(Succeed())

	resp := svc.MixStems(context.Background(), &model.MixRequest{StemsDir: "stems", Mood: "sad"})
	g.Expect(resp.URL).To(Equal("https://cdn.example.com/outputs/mixed_sad.wav"))
	g.Expect(store.keys).To(Equal([]string{"outputs/mixed_sad.wav"}))
}

func TestPublishMissingFileYieldsNoURL(t *testing.T) {
	g := NewWithT(t)
	p := NewOutputPublisher(&fakeStore{}, "")
	g.Expect(p.Publish(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))).To(BeEmpty())

	var nilPublisher *OutputPublisher
	g.Expect(nilPublisher.Publish(context.Background(), "x.wav")).To(BeEmpty())
}

func TestResolveStemsDir(t *testing.T) {
	g := NewWithT(t)
	svc, _, dir := newService(t, &fakeSeparator{}, &fakeMixer{}, &fakeGenerator{}, nil)

	inside := filepath.Join(dir, "htdemucs", "song")
	got, err := svc.ResolveStemsDir(inside)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(got).To(Equal(inside))

	_, err = svc.ResolveStemsDir(filepath.Join(dir, "..", "elsewhere"))
	g.Expect(err).To(MatchError(ErrOutsideOutputDir))
}

func TestRegisterInstallsEveryKind(t *testing.T) {
	g := NewWithT(t)
	svc, _, _ := newService(t, &fakeSeparator{}, &fakeMixer{}, &fakeGenerator{}, nil)

	kinds := map[string]bool{}
	svc.Register(registrarFunc(func(kind string) { kinds[kind] = true }))
	g.Expect(kinds).To(HaveLen(5))
	g.Expect(kinds).To(HaveKey(model.TaskKindSmartMix))
}

func TestOutputNames(t *testing.T) {
	g := NewWithT(t)
	g.Expect(GeneratedName("sad", "English")).To(Equal("generated_sad_English.wav"))
	g.Expect(MixedName("")).To(Equal("mixed_custom.wav"))
	g.Expect(BlendName("", 0.5)).To(Equal("mixed_blend_0.5.wav"))
	g.Expect(SmartMixName("happy", "")).To(Equal("smart_mix_happy_style.wav"))
}

func TestUploadSave(t *testing.T) {
	g := NewWithT(t)
	dir := filepath.Join(t.TempDir(), "uploads")
	s := NewUploadService(dir)

	path, err := s.Save("track one.mp3", SmartPrefix, strings.NewReader("audio"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(path).To(Equal(filepath.Join(dir, "smart_track one.mp3")))
	data, err := os.ReadFile(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(data)).To(Equal("audio"))

	path, err = s.Save("../../etc/passwd", "", strings.NewReader("x"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(path).To(Equal(filepath.Join(dir, "passwd")))

	_, err = s.Save("..", "", strings.NewReader("x"))
	g.Expect(err).To(MatchError(ErrInvalidFilename))
}

func TestSafeName(t *testing.T) {
	g := NewWithT(t)
	for _, bad := range []string{"", "a/b.wav", `a\b.wav`, "..", "."} {
		_, err := SafeName(bad)
		g.Expect(err).To(MatchError(ErrInvalidFilename), bad)
	}
	name, err := SafeName("mixed_happy.wav")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(name).To(Equal("mixed_happy.wav"))
}

func TestOutputNamesStayInProcessedDir(t *testing.T) {
	g := NewWithT(t)
	mix := &fakeMixer{result: mixing.Result{Status: mixing.StatusSuccess}}
	gen := &fakeGenerator{}
	svc, sub, _ := newService(t, &fakeSeparator{}, mix, gen, nil)
	ctx := context.Background()

	_, err := svc.SubmitGeneration(ctx, "x/../../../../tmp/pwn", "pop", "en")
	g.Expect(err).To(MatchError(ErrOutsideOutputDir))
	_, err = svc.SubmitMix(ctx, &model.MixRequest{StemsDir: "stems", Mood: "../../tmp/mix"})
	g.Expect(err).To(MatchError(ErrOutsideOutputDir))
	_, err = svc.SubmitBlend(ctx, "a.wav", "b.wav", &model.BlendRequest{Mood: `..\..\evil`})
	g.Expect(err).To(MatchError(ErrOutsideOutputDir))
	_, err = svc.SubmitSmartMix(ctx, "a.wav", "b.wav", &model.SeparationRequest{Genre: "a/b"})
	g.Expect(err).To(MatchError(ErrOutsideOutputDir))
	g.Expect(sub.submitted).To(BeEmpty())

	resp := svc.MixStems(ctx, &model.MixRequest{StemsDir: "stems", Mood: "../../../../tmp/mixpwn"})
	g.Expect(resp.Status).To(Equal(mixing.StatusError))
	g.Expect(resp.Message).To(HavePrefix("Invalid output name"))
	g.Expect(mix.lastOut).To(BeEmpty())

	// Payloads already on the queue are checked again before anything is written.
	outcome, err := svc.Handlers()[model.TaskKindGeneration](ctx,
		json.RawMessage(`{"prompt":"x pop","language":"en","output_name":"../pwn_en.wav"}`), func(int) {})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(outcome.Status).To(Equal(model.TaskStatusError))
	g.Expect(gen.out).To(BeEmpty())

	outcome, err = svc.Handlers()[model.TaskKindSmartMix](ctx,
		json.RawMessage(`{"vocals_path":"a.wav","instrumental_path":"b.wav","output_name":"/tmp/smart.wav"}`), func(int) {})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(outcome.Status).To(Equal(model.TaskStatusError))
	g.Expect(mix.lastOut).To(BeEmpty())
}
