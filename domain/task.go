package domain

import (
	"sort"
	"strings"
	"time"
)

// ColumnID names a workflow column on the board.
type ColumnID string

const (
	ColumnTodo       ColumnID = "todo"
	ColumnInProgress ColumnID = "inProgress"
	ColumnDone       ColumnID = "done"
)

// Columns lists the board columns in display order.
var Columns = []ColumnID{ColumnTodo, ColumnInProgress, ColumnDone}

func (c ColumnID) Valid() bool {
	switch c {
	case ColumnTodo, ColumnInProgress, ColumnDone:
		return true
	}
	return false
}

// Title returns the human readable column label.
func (c ColumnID) Title() string {
	switch c {
	case ColumnTodo:
		return "To Do"
	case ColumnInProgress:
		return "In Progress"
	case ColumnDone:
		return "Done"
	}
	return string(c)
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Priorities lists the priorities from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single card on the board.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	ColumnID    ColumnID   `json:"columnId"`
	Position    int        `json:"position"`
	AssignedTo  *string    `json:"assignedTo"`
	Tags        []string   `json:"tags"`
	DueDate     *time.Time `json:"dueDate"`
	IsCompleted bool       `json:"isCompleted"`
	CreatedBy   *string    `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Normalize fills defaults for fields a caller may leave empty.
func (t *Task) Normalize() {
	t.Title = strings.TrimSpace(t.Title)
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.ColumnID == "" {
		t.ColumnID = ColumnTodo
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.AssignedTo != nil && strings.TrimSpace(*t.AssignedTo) == "" {
		t.AssignedTo = nil
	}
	if t.CreatedBy != nil && strings.TrimSpace(*t.CreatedBy) == "" {
		t.CreatedBy = nil
	}
	if t.DueDate != nil {
		due := t.DueDate.UTC().Truncate(time.Millisecond)
		t.DueDate = &due
	}
}

// Column is a named bucket of tasks ordered by position.
type Column struct {
	ID    ColumnID `json:"id"`
	Title string   `json:"title"`
	Tasks []Task   `json:"tasks"`
}

// BoardColumns maps every column to its ordered tasks.
type BoardColumns map[ColumnID]Column

// GroupByColumn partitions tasks into the board columns, each ordered by
// position. Tasks in unknown columns are dropped.
func GroupByColumn(tasks []Task) BoardColumns {
	out := make(BoardColumns, len(Columns))
	for _, id := range Columns {
		out[id] = Column{ID: id, Title: id.Title(), Tasks: []Task{}}
	}
	for _, t := range tasks {
		col, ok := out[t.ColumnID]
		if !ok {
			continue
		}
		col.Tasks = append(col.Tasks, t)
		out[t.ColumnID] = col
	}
	for id, col := range out {
		SortByPosition(col.Tasks)
		out[id] = col
	}
	return out
}

// SortByPosition orders tasks by position, then creation time, then id so
// columns with duplicate positions still order deterministically.
func SortByPosition(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Now returns the current UTC time at millisecond precision, the precision
// every backend can round-trip.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// ValidBoardID reports whether id can be used as a board (and partition) key.
func ValidBoardID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	return !strings.ContainsAny(id, "/\\#?\t\n\r")
}

// BoardRoom is the broadcast room for a board.
func BoardRoom(boardID string) string {
	return "board:" + boardID
}

// Limits bounds user supplied task fields.
type Limits struct {
	MaxTitleLength       int
	MaxDescriptionLength int
	MaxTags              int
	MaxTagLength         int
}

// DefaultLimits mirrors the board's form limits.
var DefaultLimits = Limits{
	MaxTitleLength:       100,
	MaxDescriptionLength: 500,
	MaxTags:              5,
	MaxTagLength:         20,
}
