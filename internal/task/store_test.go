package task_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/moodremix/api/internal/apperrors"
	"github.com/moodremix/api/internal/model"
	"github.com/moodremix/api/internal/task"
)

func newProcessingTask(id string) *model.Task {
	return &model.Task{
		ID:        id,
		Kind:      model.TaskKindMix,
		Status:    model.TaskStatusProcessing,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func itBehavesLikeAStore(newStore func() task.Store) {
	var (
		ctx   context.Context
		store task.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newStore()
		DeferCleanup(func() {
			Expect(store.Close()).To(Succeed())
		})
	})

	It("returns ErrTaskNotFound for an unknown id", func() {
		_, err := store.Get(ctx, "missing")
		Expect(err).To(MatchError(apperrors.ErrTaskNotFound))
	})

	It("round-trips a created task", func() {
		Expect(store.Create(ctx, newProcessingTask("t1"))).To(Succeed())

		got, err := store.Get(ctx, "t1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(model.TaskStatusProcessing))
		Expect(got.Kind).To(Equal(model.TaskKindMix))
		Expect(got.Progress).To(Equal(0))
		Expect(got.CompletedAt).To(BeNil())
	})

	It("rejects a duplicate id", func() {
		Expect(store.Create(ctx, newProcessingTask("dup"))).To(Succeed())
		Expect(store.Create(ctx, newProcessingTask("dup"))).NotTo(Succeed())
	})

	It("clamps progress updates", func() {
		Expect(store.Create(ctx, newProcessingTask("p"))).To(Succeed())
		Expect(store.UpdateProgress(ctx, "p", 140)).To(Succeed())

		got, err := store.Get(ctx, "p")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Progress).To(Equal(100))
	})

	It("applies exactly one terminal write", func() {
		Expect(store.Create(ctx, newProcessingTask("c"))).To(Succeed())

		applied, err := store.Complete(ctx, "c", task.Completion{
			Status:      model.TaskStatusCompleted,
			Progress:    100,
			Result:      json.RawMessage(`{"status":"success"}`),
			File:        "mixed_happy.wav",
			CompletedAt: time.Now(),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(applied).To(BeTrue())

		applied, err = store.Complete(ctx, "c", task.Completion{
			Status:      model.TaskStatusError,
			Message:     "late failure",
			CompletedAt: time.Now(),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(applied).To(BeFalse())

		got, err := store.Get(ctx, "c")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(model.TaskStatusCompleted))
		Expect(got.File).To(Equal("mixed_happy.wav"))
		Expect(got.Message).To(BeEmpty())
		Expect(got.Result).To(MatchJSON(`{"status":"success"}`))
		Expect(got.CompletedAt).NotTo(BeNil())
	})

	It("ignores progress after the terminal write", func() {
		Expect(store.Create(ctx, newProcessingTask("done"))).To(Succeed())
		_, err := store.Complete(ctx, "done", task.Completion{
			Status:      model.TaskStatusError,
			Progress:    40,
			Message:     "Mixing failed: boom",
			CompletedAt: time.Now(),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.UpdateProgress(ctx, "done", 90)).To(Succeed())

		got, err := store.Get(ctx, "done")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(model.TaskStatusError))
		Expect(got.Progress).To(Equal(40))
		Expect(got.Message).To(Equal("Mixing failed: boom"))
	})

	It("lists only processing tasks, oldest first", func() {
		older := newProcessingTask("older")
		newer := newProcessingTask("newer")
		newer.CreatedAt = older.CreatedAt.Add(time.Minute)
		Expect(store.Create(ctx, newer)).To(Succeed())
		Expect(store.Create(ctx, older)).To(Succeed())
		Expect(store.Create(ctx, newProcessingTask("done"))).To(Succeed())
		_, err := store.Complete(ctx, "done", task.Completion{Status: model.TaskStatusCompleted, CompletedAt: time.Now()})
		Expect(err).NotTo(HaveOccurred())

		tasks, err := store.Processing(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(tasks).To(HaveLen(2))
		Expect(tasks[0].ID).To(Equal("older"))
		Expect(tasks[1].ID).To(Equal("newer"))
	})

	It("fails completing an unknown id", func() {
		_, err := store.Complete(ctx, "ghost", task.Completion{Status: model.TaskStatusCompleted})
		Expect(err).To(MatchError(apperrors.ErrTaskNotFound))
	})
}

var _ = Describe("MemoryStore", func() {
	itBehavesLikeAStore(func() task.Store {
		return task.NewMemoryStore()
	})
})

var _ = Describe("SQLiteStore", func() {
	itBehavesLikeAStore(func() task.Store {
		path := filepath.Join(GinkgoT().TempDir(), "db", "tasks.db")
		s, err := task.OpenSQLiteStore(path)
		Expect(err).NotTo(HaveOccurred())
		return s
	})

	It("keeps tasks across reopen", func() {
		ctx := context.Background()
		path := filepath.Join(GinkgoT().TempDir(), "tasks.db")

		s, err := task.OpenSQLiteStore(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Create(ctx, newProcessingTask("persist"))).To(Succeed())
		Expect(s.Close()).To(Succeed())

		s, err = task.OpenSQLiteStore(path)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()
		got, err := s.Get(ctx, "persist")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.CreatedAt.Equal(newProcessingTask("").CreatedAt)).To(BeTrue())
	})

	It("fails tasks left processing by a previous run", func() {
		ctx := context.Background()
		path := filepath.Join(GinkgoT().TempDir(), "tasks.db")

		s, err := task.OpenSQLiteStore(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Create(ctx, newProcessingTask("orphan"))).To(Succeed())
		Expect(s.UpdateProgress(ctx, "orphan", 40)).To(Succeed())
		Expect(s.Close()).To(Succeed())

		s, err = task.OpenSQLiteStore(path)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		n, err := task.NewOrchestrator(s, nil).Recover(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		got, err := s.Get(ctx, "orphan")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(model.TaskStatusError))
		Expect(got.Message).To(Equal(task.InterruptedMessage))
		Expect(got.Progress).To(Equal(40))
		Expect(got.CompletedAt).NotTo(BeNil())
	})
})

var _ = Describe("RedisStore", func() {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	itBehavesLikeAStore(func() task.Store {
		client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			Skip("redis not available: " + err.Error())
		}
		Expect(client.FlushDB(context.Background()).Err()).To(Succeed())
		DeferCleanup(client.Close)
		return task.NewRedisStore(client, time.Minute)
	})
})
