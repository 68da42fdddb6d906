package api

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	ListTasks(ctx context.Context, boardID string) ([]domain.Task, error)
	ListColumn(ctx context.Context, boardID string, column domain.ColumnID) ([]domain.Task, error)
	GetTask(ctx context.Context, boardID, taskID string) (domain.Task, error)
	InsertTask(ctx context.Context, boardID string, task domain.Task, siblings []domain.Placement) (domain.Task, error)
	UpdateTask(ctx context.Context, boardID string, task domain.Task) (domain.Task, error)
	DeleteTask(ctx context.Context, boardID, taskID string, siblings []domain.Placement) error
	ApplyPlacements(ctx context.Context, boardID string, placements []domain.Placement) error
	ReplaceAll(ctx context.Context, boardID string, tasks []domain.Task) ([]domain.Task, error)
	Ping(ctx context.Context) error
}

// Publisher delivers an event to the subscribers of a room.
type Publisher interface {
	Publish(ctx context.Context, room string, ev domain.Event) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, scope, key string) error
}

// Options tune handler behaviour.
type Options struct {
	DefaultBoard string
	Limits       domain.Limits
	// CompactOnDelete renumbers the remaining tasks of a column on delete.
	CompactOnDelete bool
	// DevEndpoints enables the seed and clear routes.
	DevEndpoints bool
	// SeedTasks returns the tasks the seed route stores.
	SeedTasks func() []domain.Task
	// RequireAuth rejects requests without a valid bearer token. Otherwise a
	// token is optional and only used to fill createdBy.
	RequireAuth bool
}

// Deps are the collaborators of the HTTP handlers. Publisher, Auth and
// Deduper are optional.
type Deps struct {
	Store     Storage
	Publisher Publisher
	Auth      Authenticator
	Deduper   Deduper
	Logger    *log.Logger
	Options   Options
}
