package storage

import (
	"context"
	"fmt"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// Backend is implemented by every task store. All methods are scoped to a
// board, which maps to a partition where the backend has one.
type Backend interface {
	ListTasks(ctx context.Context, boardID string) ([]domain.Task, error)
	// ListColumn returns the tasks of one column ordered by position.
	ListColumn(ctx context.Context, boardID string, column domain.ColumnID) ([]domain.Task, error)
	GetTask(ctx context.Context, boardID, taskID string) (domain.Task, error)
	// InsertTask assigns an id and timestamps to task and stores it together
	// with the sibling shifts that make room for it.
	InsertTask(ctx context.Context, boardID string, task domain.Task, siblings []domain.Placement) (domain.Task, error)
	UpdateTask(ctx context.Context, boardID string, task domain.Task) (domain.Task, error)
	DeleteTask(ctx context.Context, boardID, taskID string, siblings []domain.Placement) error
	ApplyPlacements(ctx context.Context, boardID string, placements []domain.Placement) error
	// ReplaceAll removes every task of the board and inserts tasks.
	ReplaceAll(ctx context.Context, boardID string, tasks []domain.Task) ([]domain.Task, error)
	Ping(ctx context.Context) error
}

// Backend names accepted by Open.
const (
	KindTables = "tables"
	KindSQLite = "sqlite"
	KindMongo  = "mongo"
)

// Options selects and configures a backend.
type Options struct {
	Kind             string
	ConnectionString string
	TasksTable       string
	SQLitePath       string
	MongoURI         string
	MongoDatabase    string
	MongoCollection  string
}

// Open connects the configured backend. The returned close function releases
// its resources.
func Open(ctx context.Context, o Options) (Backend, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch o.Kind {
	case "", KindTables:
		if o.ConnectionString == "" {
			return nil, nil, fmt.Errorf("tables backend needs a storage connection string")
		}
		s, err := NewTableStore(o.ConnectionString, o.TasksTable)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case KindSQLite:
		s, err := NewSQLStore(ctx, o.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func(context.Context) error { return s.Close() }, nil
	case KindMongo:
		s, err := NewMongoStore(ctx, o.MongoURI, o.MongoDatabase, o.MongoCollection)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", o.Kind)
}

// prepare normalizes a new task and stamps its id and timestamps.
func prepare(task domain.Task, id string) domain.Task {
	task.Normalize()
	now := domain.Now()
	task.ID = id
	task.CreatedAt = now
	task.UpdatedAt = now
	return task
}
