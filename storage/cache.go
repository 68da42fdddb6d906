package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// Cache wraps a Backend with a Redis copy of each board's task list. Column
// reads used for reindexing always go to the backend; every write evicts.
type Cache struct {
	Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Backend: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	if tasks, ok := c.load(ctx, boardID); ok {
		return tasks, nil
	}
	tasks, err := c.Backend.ListTasks(ctx, boardID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, boardID, tasks)
	return tasks, nil
}

func (c *Cache) InsertTask(ctx context.Context, boardID string, task domain.Task, siblings []domain.Placement) (domain.Task, error) {
	defer c.evict(ctx, boardID)
	return c.Backend.InsertTask(ctx, boardID, task, siblings)
}

func (c *Cache) UpdateTask(ctx context.Context, boardID string, task domain.Task) (domain.Task, error) {
	defer c.evict(ctx, boardID)
	return c.Backend.UpdateTask(ctx, boardID, task)
}

func (c *Cache) DeleteTask(ctx context.Context, boardID, taskID string, siblings []domain.Placement) error {
	defer c.evict(ctx, boardID)
	return c.Backend.DeleteTask(ctx, boardID, taskID, siblings)
}

func (c *Cache) ApplyPlacements(ctx context.Context, boardID string, placements []domain.Placement) error {
	defer c.evict(ctx, boardID)
	return c.Backend.ApplyPlacements(ctx, boardID, placements)
}

func (c *Cache) ReplaceAll(ctx context.Context, boardID string, tasks []domain.Task) ([]domain.Task, error) {
	defer c.evict(ctx, boardID)
	return c.Backend.ReplaceAll(ctx, boardID, tasks)
}

func (c *Cache) load(ctx context.Context, boardID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(boardID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, boardID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(boardID), data, c.ttl).Err()
}

// evict runs even when the write failed, since a partial write may have
// landed.
func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(context.WithoutCancel(ctx), tasksCacheKey(boardID)).Err()
}

func tasksCacheKey(boardID string) string {
	return "tasks:" + boardID
}
