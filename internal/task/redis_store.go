package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/moodremix/api/internal/apperrors"
	"github.com/moodremix/api/internal/model"
)

const casAttempts = 5

// RedisStore keeps tasks as JSON under task:<id>. A zero TTL keeps them
// until redis evicts them.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: client, ttl: ttl}
}

func taskKey(id string) string {
	return fmt.Sprintf("task:%s", id)
}

func (s *RedisStore) Create(ctx context.Context, t *model.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "failed to marshal task")
	}
	ok, err := s.redis.SetNX(ctx, taskKey(t.ID), data, s.ttl).Result()
	if err != nil {
		return errors.Wrap(err, "failed to save task")
	}
	if !ok {
		return errors.Newf("task %s already exists", t.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Task, error) {
	return s.get(ctx, s.redis, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, id string) (*model.Task, error) {
	data, err := c.Get(ctx, taskKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.Wrapf(apperrors.ErrTaskNotFound, "task %s", id)
		}
		return nil, errors.Wrap(err, "failed to read task")
	}
	var t model.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal task")
	}
	return &t, nil
}

// Processing scans every task key, so it is meant for startup sweeps rather
// than request paths.
func (s *RedisStore) Processing(ctx context.Context) ([]*model.Task, error) {
	var tasks []*model.Task
	iter := s.redis.Scan(ctx, 0, taskKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), taskKey(""))
		t, err := s.get(ctx, s.redis, id)
		if errors.Is(err, apperrors.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !t.Status.Terminal() {
			tasks = append(tasks, t)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan tasks")
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

func (s *RedisStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := s.mutate(ctx, id, func(t *model.Task) bool {
		if t.Status.Terminal() {
			return false
		}
		t.Progress = clampProgress(progress)
		return true
	})
	return err
}

func (s *RedisStore) Complete(ctx context.Context, id string, c Completion) (bool, error) {
	return s.mutate(ctx, id, func(t *model.Task) bool {
		if t.Status.Terminal() {
			return false
		}
		apply(t, c)
		return true
	})
}

// mutate applies fn to the stored task inside a WATCH transaction, retrying
// when another writer got there first. fn returning false leaves the record
// untouched.
func (s *RedisStore) mutate(ctx context.Context, id string, fn func(t *model.Task) bool) (bool, error) {
	key := taskKey(id)
	applied := false
	txf := func(tx *redis.Tx) error {
		t, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if !fn(t) {
			return nil
		}
		data, err := json.Marshal(t)
		if err != nil {
			return errors.Wrap(err, "failed to marshal task")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if s.ttl > 0 {
				pipe.Set(ctx, key, data, s.ttl)
			} else {
				pipe.Set(ctx, key, data, redis.KeepTTL)
			}
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	for i := 0; i < casAttempts; i++ {
		applied = false
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return applied, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return false, err
		}
	}
	return false, errors.Newf("task %s: too much contention", id)
}

func (s *RedisStore) Close() error {
	return nil
}
