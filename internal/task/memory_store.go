package task

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/moodremix/api/internal/apperrors"
	"github.com/moodremix/api/internal/model"
)

// MemoryStore keeps tasks for the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*model.Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*model.Task)}
}

func (s *MemoryStore) Create(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return errors.Newf("task %s already exists", t.ID)
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errors.Wrapf(apperrors.ErrTaskNotFound, "task %s", id)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Processing(_ context.Context) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []*model.Task
	for _, t := range s.tasks {
		if t.Status.Terminal() {
			continue
		}
		cp := *t
		tasks = append(tasks, &cp)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

func (s *MemoryStore) UpdateProgress(_ context.Context, id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return errors.Wrapf(apperrors.ErrTaskNotFound, "task %s", id)
	}
	if !t.Status.Terminal() {
		t.Progress = clampProgress(progress)
	}
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, c Completion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, errors.Wrapf(apperrors.ErrTaskNotFound, "task %s", id)
	}
	if t.Status.Terminal() {
		return false, nil
	}
	apply(t, c)
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
