package generation

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-audio/wav"
	. "github.com/onsi/gomega"

	"github.com/moodremix/api/internal/apperrors"
)

type fakeModel struct {
	loads     atomic.Int32
	failLoads int32
	prompts   []string
	tokens    []int
	guidance  []float64
	inFlight  atomic.Int32
	overlap   atomic.Bool
	mu        sync.Mutex
}

func (m *fakeModel) Load(context.Context) error {
	n := m.loads.Add(1)
	if n <= m.failLoads {
		return errors.New("weights not found")
	}
	return nil
}

func (m *fakeModel) Generate(_ context.Context, prompt string, maxNewTokens int, guidance float64) (Waveform, error) {
	if m.inFlight.Add(1) > 1 {
		m.overlap.Store(true)
	}
	defer m.inFlight.Add(-1)
	time.Sleep(2 * time.Millisecond)

	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.tokens = append(m.tokens, maxNewTokens)
	m.guidance = append(m.guidance, guidance)
	m.mu.Unlock()
	return Waveform{Samples: []float32{0, 0.25, -0.25, 1.5}, SampleRate: 32000}, nil
}

func TestBuildPrompt(t *testing.T) {
	cases := []struct {
		prompt, language, want string
	}{
		{
			"happy Pop", "Tamil",
			"happy Pop, catchy melody, commercial production, upbeat, Tamil film song, Kollywood style, carnatic elements, heavy percussion, high fidelity, 44.1khz, studio master",
		},
		{
			"sad jazz", "english",
			"sad jazz, saxophone, swing rhythm, lounge atmosphere, piano, Billboard top 100 pop, modern production, high quality vocals style, high fidelity, 44.1khz, studio master",
		},
		{
			"dark Hip Hop", "Marathi",
			"dark Hip Hop, Marathi regional music style, high fidelity, 44.1khz, studio master",
		},
		{
			"chill lo-fi", "Hindi",
			"chill lo-fi, chill beat, muffled sound, relaxed, vinyl crackle, Bollywood pop, Indian fusion, rich orchestration, tabla beats, high fidelity, 44.1khz, studio master",
		},
	}
	for _, tc := range cases {
		NewWithT(t).Expect(BuildPrompt(tc.prompt, tc.language)).To(Equal(tc.want))
	}
	NewWithT(t).Expect(GenreDescriptor("")).To(BeEmpty())
}

func TestHandleLoadsOnce(t *testing.T) {
	g := NewWithT(t)
	model := &fakeModel{}
	h := NewHandle(model)
	g.Expect(h.Loaded()).To(BeFalse())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.Generate(context.Background(), "p", 250, 3)
		}()
	}
	wg.Wait()

	g.Expect(model.loads.Load()).To(Equal(int32(1)))
	g.Expect(h.Loaded()).To(BeTrue())
	g.Expect(model.overlap.Load()).To(BeFalse())
	g.Expect(model.prompts).To(HaveLen(10))
}

func TestHandleRetriesFailedLoad(t *testing.T) {
	g := NewWithT(t)
	model := &fakeModel{failLoads: 1}
	h := NewHandle(model)

	err := h.Ensure(context.Background())
	g.Expect(errors.Is(err, apperrors.ErrModelLoad)).To(BeTrue())
	g.Expect(h.Loaded()).To(BeFalse())

	g.Expect(h.Ensure(context.Background())).To(Succeed())
	g.Expect(h.Ensure(context.Background())).To(Succeed())
	g.Expect(model.loads.Load()).To(Equal(int32(2)))
}

func TestHandlePreload(t *testing.T) {
	g := NewWithT(t)
	h := NewHandle(&fakeModel{})

	h.Preload(context.Background())
	g.Eventually(h.Loaded).Should(BeTrue())
}

func TestGeneratorWritesWAV(t *testing.T) {
	g := NewWithT(t)
	model := &fakeModel{}
	out := filepath.Join(t.TempDir(), "generated_happy_Tamil.wav")

	res := NewGenerator(Config{}, NewHandle(model)).Generate(context.Background(), "happy pop", "Tamil", 15, out)

	g.Expect(res.OK()).To(BeTrue(), res.Message)
	g.Expect(res.File).To(Equal(out))
	g.Expect(model.tokens).To(Equal([]int{250}))
	g.Expect(model.guidance).To(Equal([]float64{3.0}))
	g.Expect(model.prompts[0]).To(HavePrefix("happy pop, catchy melody"))

	f, err := os.Open(out)
	g.Expect(err).NotTo(HaveOccurred())
	defer f.Close()
	dec := wav.NewDecoder(f)
	g.Expect(dec.IsValidFile()).To(BeTrue())
	buf, err := dec.FullPCMBuffer()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(int(dec.SampleRate)).To(Equal(32000))
	g.Expect(int(dec.BitDepth)).To(Equal(16))
	g.Expect(buf.Data).To(Equal([]int{0, 8191, -8191, 32767}))

	_, err = os.Stat(out + ".part")
	g.Expect(os.IsNotExist(err)).To(BeTrue())
}

func TestGeneratorModelLoadFailure(t *testing.T) {
	g := NewWithT(t)
	out := filepath.Join(t.TempDir(), "x.wav")

	res := NewGenerator(Config{}, NewHandle(&fakeModel{failLoads: 5})).Generate(context.Background(), "happy pop", "Tamil", 15, out)

	g.Expect(res.OK()).To(BeFalse())
	g.Expect(res.Message).To(HavePrefix("Model load failed: "))
	g.Expect(errors.Is(res.Err, apperrors.ErrModelLoad)).To(BeTrue())
	_, err := os.Stat(out)
	g.Expect(os.IsNotExist(err)).To(BeTrue())
}

func TestWriteWAVRejectsBadRate(t *testing.T) {
	NewWithT(t).Expect(WriteWAV(filepath.Join(t.TempDir(), "x.wav"), Waveform{})).To(HaveOccurred())
}
