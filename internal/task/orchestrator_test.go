package task_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/moodremix/api/internal/model"
	"github.com/moodremix/api/internal/task"
)

type recordingNotifier struct {
	mu        sync.Mutex
	progress  []int
	completed []*model.Task
	errors    []string
}

func (n *recordingNotifier) BroadcastProgress(_ string, p int, _ model.TaskStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, p)
}

func (n *recordingNotifier) BroadcastComplete(t *model.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, t)
}

func (n *recordingNotifier) BroadcastError(_, _, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
}

func (n *recordingNotifier) snapshot() ([]int, int, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.progress...), len(n.completed), append([]string(nil), n.errors...)
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(context.Context, task.Job) error {
	return errors.New("queue down")
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx        context.Context
		store      *task.MemoryStore
		notifier   *recordingNotifier
		orch       *task.Orchestrator
		dispatcher *task.LocalDispatcher
	)

	pollStatus := func(id string) func() model.TaskStatus {
		return func() model.TaskStatus {
			t, err := orch.Poll(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			return t.Status
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = task.NewMemoryStore()
		notifier = &recordingNotifier{}
		orch = task.NewOrchestrator(store, notifier)
		dispatcher = task.NewLocalDispatcher(orch, 2, 1)
		orch.SetDispatcher(dispatcher)
		DeferCleanup(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			Expect(dispatcher.Shutdown(shutdownCtx)).To(Succeed())
		})
	})

	Describe("Submit", func() {
		It("returns before the handler finishes", func() {
			release := make(chan struct{})
			orch.Register(model.TaskKindMix, func(ctx context.Context, _ json.RawMessage, _ func(int)) (model.Outcome, error) {
				<-release
				return model.Completed(map[string]string{"status": "success"}, "mixed_custom.wav"), nil
			})

			id, err := orch.Submit(ctx, model.TaskKindMix, model.MixPayload{StemsDir: "stems"})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).NotTo(BeEmpty())

			t, err := orch.Poll(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Status).To(Equal(model.TaskStatusProcessing))
			Expect(t.Progress).To(Equal(0))

			close(release)
			Eventually(pollStatus(id)).Should(Equal(model.TaskStatusCompleted))

			t, err = orch.Poll(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Progress).To(Equal(100))
			Expect(t.File).To(Equal("mixed_custom.wav"))
			Expect(t.Result).To(MatchJSON(`{"status":"success"}`))
		})

		It("rejects an unregistered kind", func() {
			_, err := orch.Submit(ctx, "karaoke", nil)
			Expect(err).To(MatchError(task.ErrUnknownKind))
		})

		It("marks the task failed when scheduling fails", func() {
			orch.Register(model.TaskKindMix, func(context.Context, json.RawMessage, func(int)) (model.Outcome, error) {
				return model.Completed(nil, ""), nil
			})
			orch.SetDispatcher(failingDispatcher{})

			_, err := orch.Submit(ctx, model.TaskKindMix, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Recover", func() {
		It("fails orphaned tasks and leaves live ones running", func() {
			for _, id := range []string{"orphan", "live"} {
				Expect(store.Create(ctx, &model.Task{ID: id, Kind: model.TaskKindMix, Status: model.TaskStatusProcessing})).To(Succeed())
			}

			n, err := orch.Recover(ctx, func(t *model.Task) bool { return t.ID == "live" })
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			t, _ := orch.Poll(ctx, "orphan")
			Expect(t.Status).To(Equal(model.TaskStatusError))
			Expect(t.Message).To(Equal(task.InterruptedMessage))
			Expect(pollStatus("live")()).To(Equal(model.TaskStatusProcessing))

			_, _, errs := notifier.snapshot()
			Expect(errs).To(Equal([]string{task.InterruptedMessage}))
		})

		It("leaves finished tasks alone", func() {
			orch.Register(model.TaskKindMix, func(context.Context, json.RawMessage, func(int)) (model.Outcome, error) {
				return model.Completed(nil, "done.wav"), nil
			})
			id, err := orch.Submit(ctx, model.TaskKindMix, nil)
			Expect(err).NotTo(HaveOccurred())
			Eventually(pollStatus(id)).Should(Equal(model.TaskStatusCompleted))

			n, err := orch.Recover(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})

	Describe("Poll", func() {
		It("answers not_found for an unknown id", func() {
			t, err := orch.Poll(ctx, "nope")
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Status).To(Equal(model.TaskStatusNotFound))
		})
	})

	Describe("Execute", func() {
		It("stores the handler message when it reports an error", func() {
			orch.Register(model.TaskKindSmartMix, func(context.Context, json.RawMessage, func(int)) (model.Outcome, error) {
				return model.Failed("Separation failed: bad file"), nil
			})
			id, err := orch.Submit(ctx, model.TaskKindSmartMix, nil)
			Expect(err).NotTo(HaveOccurred())

			Eventually(pollStatus(id)).Should(Equal(model.TaskStatusError))
			t, _ := orch.Poll(ctx, id)
			Expect(t.Message).To(ContainSubstring("bad file"))
		})

		It("converts a returned error into the error state", func() {
			orch.Register(model.TaskKindBlend, func(context.Context, json.RawMessage, func(int)) (model.Outcome, error) {
				return model.Outcome{}, errors.New("disk full")
			})
			id, err := orch.Submit(ctx, model.TaskKindBlend, nil)
			Expect(err).NotTo(HaveOccurred())

			Eventually(pollStatus(id)).Should(Equal(model.TaskStatusError))
			t, _ := orch.Poll(ctx, id)
			Expect(t.Message).To(Equal("disk full"))
		})

		It("converts a panic into the error state", func() {
			orch.Register(model.TaskKindGeneration, func(context.Context, json.RawMessage, func(int)) (model.Outcome, error) {
				panic("model exploded")
			})
			id, err := orch.Submit(ctx, model.TaskKindGeneration, nil)
			Expect(err).NotTo(HaveOccurred())

			Eventually(pollStatus(id)).Should(Equal(model.TaskStatusError))
			t, _ := orch.Poll(ctx, id)
			Expect(t.Message).To(ContainSubstring("model exploded"))
		})

		It("records progress and notifies each transition", func() {
			orch.Register(model.TaskKindSmartMix, func(_ context.Context, _ json.RawMessage, progress func(int)) (model.Outcome, error) {
				progress(40)
				progress(80)
				return model.Completed(nil, "smart_mix_remix_style.wav"), nil
			})
			id, err := orch.Submit(ctx, model.TaskKindSmartMix, nil)
			Expect(err).NotTo(HaveOccurred())

			Eventually(pollStatus(id)).Should(Equal(model.TaskStatusCompleted))
			Eventually(func() int {
				_, completed, _ := notifier.snapshot()
				return completed
			}).Should(Equal(1))
			progress, _, errs := notifier.snapshot()
			Expect(progress).To(Equal([]int{40, 80}))
			Expect(errs).To(BeEmpty())
		})

		It("stays terminal under repeated polls", func() {
			orch.Register(model.TaskKindMix, func(context.Context, json.RawMessage, func(int)) (model.Outcome, error) {
				return model.Completed(nil, "mixed_sad.wav"), nil
			})
			id, err := orch.Submit(ctx, model.TaskKindMix, nil)
			Expect(err).NotTo(HaveOccurred())

			Eventually(pollStatus(id)).Should(Equal(model.TaskStatusCompleted))
			Consistently(pollStatus(id), 100*time.Millisecond).Should(Equal(model.TaskStatusCompleted))
		})

		It("drops a second terminal write", func() {
			orch.Register(model.TaskKindMix, func(context.Context, json.RawMessage, func(int)) (model.Outcome, error) {
				return model.Completed(nil, "first.wav"), nil
			})
			id, err := orch.Submit(ctx, model.TaskKindMix, nil)
			Expect(err).NotTo(HaveOccurred())
			Eventually(pollStatus(id)).Should(Equal(model.TaskStatusCompleted))

			orch.Register(model.TaskKindMix, func(context.Context, json.RawMessage, func(int)) (model.Outcome, error) {
				return model.Failed("second"), nil
			})
			Expect(orch.Execute(ctx, task.Job{TaskID: id, Kind: model.TaskKindMix})).To(Succeed())

			t, _ := orch.Poll(ctx, id)
			Expect(t.Status).To(Equal(model.TaskStatusCompleted))
			Expect(t.File).To(Equal("first.wav"))
		})
	})
})

var _ = Describe("LocalDispatcher", func() {
	It("runs generation jobs one at a time", func() {
		var (
			mu      sync.Mutex
			running int
			peak    int
		)
		store := task.NewMemoryStore()
		orch := task.NewOrchestrator(store, nil)
		dispatcher := task.NewLocalDispatcher(orch, 4, 1)
		orch.SetDispatcher(dispatcher)

		orch.Register(model.TaskKindGeneration, func(context.Context, json.RawMessage, func(int)) (model.Outcome, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return model.Completed(nil, ""), nil
		})

		for i := 0; i < 4; i++ {
			_, err := orch.Submit(context.Background(), model.TaskKindGeneration, nil)
			Expect(err).NotTo(HaveOccurred())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(dispatcher.Shutdown(ctx)).To(Succeed())

		mu.Lock()
		defer mu.Unlock()
		Expect(peak).To(Equal(1))
	})

	It("refuses jobs after shutdown", func() {
		orch := task.NewOrchestrator(task.NewMemoryStore(), nil)
		dispatcher := task.NewLocalDispatcher(orch, 1, 1)
		Expect(dispatcher.Shutdown(context.Background())).To(Succeed())
		Expect(dispatcher.Dispatch(context.Background(), task.Job{TaskID: "x"})).To(MatchError(task.ErrDispatcherClosed))
	})
})
