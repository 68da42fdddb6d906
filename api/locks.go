package api

import (
	"context"
	"sort"
	"sync"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// columnLocks serializes position writers per (board, column) within the
// process. Several columns are always locked in sorted order.
type columnLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newColumnLocks() *columnLocks {
	return &columnLocks{locks: make(map[string]*refLock)}
}

// Lock acquires the locks of the given columns and returns the release func.
func (l *columnLocks) Lock(boardID string, columns ...domain.ColumnID) func() {
	seen := make(map[string]struct{}, len(columns))
	keys := make([]string, 0, len(columns))
	for _, c := range columns {
		k := boardID + "\x00" + string(c)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	held := make([]*refLock, 0, len(keys))
	for _, k := range keys {
		held = append(held, l.acquire(k))
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(keys[i], held[i])
		}
	}
}

func (l *columnLocks) acquire(key string) *refLock {
	l.mu.Lock()
	rl, ok := l.locks[key]
	if !ok {
		rl = &refLock{}
		l.locks[key] = rl
	}
	rl.refs++
	l.mu.Unlock()
	rl.Lock()
	return rl
}

func (l *columnLocks) release(key string, rl *refLock) {
	rl.Unlock()
	l.mu.Lock()
	rl.refs--
	if rl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// lockTask loads a task and locks its column plus extra. The task is
// re-read under the lock; if it changed column meanwhile the attempt repeats,
// and after a few attempts every column of the board is locked instead.
func lockTask(ctx context.Context, store Storage, locks *columnLocks, boardID, taskID string, extra ...domain.ColumnID) (domain.Task, func(), error) {
	task, err := store.GetTask(ctx, boardID, taskID)
	if err != nil {
		return domain.Task{}, nil, err
	}
	for attempt := 0; attempt < 3; attempt++ {
		unlock := locks.Lock(boardID, append([]domain.ColumnID{task.ColumnID}, extra...)...)
		fresh, err := store.GetTask(ctx, boardID, taskID)
		if err != nil {
			unlock()
			return domain.Task{}, nil, err
		}
		if fresh.ColumnID == task.ColumnID {
			return fresh, unlock, nil
		}
		unlock()
		task = fresh
	}

	unlock := locks.Lock(boardID, append(append([]domain.ColumnID{}, domain.Columns...), extra...)...)
	fresh, err := store.GetTask(ctx, boardID, taskID)
	if err != nil {
		unlock()
		return domain.Task{}, nil, err
	}
	return fresh, unlock, nil
}
