package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertColumn(t *testing.T, s Backend, board string, col domain.ColumnID, titles ...string) []domain.Task {
	t.Helper()
	ctx := context.Background()
	var out []domain.Task
	for i, title := range titles {
		task, err := s.InsertTask(ctx, board, domain.Task{Title: title, ColumnID: col, Position: i}, nil)
		if err != nil {
			t.Fatalf("insert %s: %v", title, err)
		}
		out = append(out, task)
	}
	return out
}

func titles(tasks []domain.Task) string {
	out := ""
	for i, task := range tasks {
		if i > 0 {
			out += ","
		}
		out += task.Title
	}
	return out
}

func TestSQLStoreInsertAndGet(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	who := "dana"

	created, err := s.InsertTask(ctx, "b1", domain.Task{Title: " Ship ", Tags: []string{"x"}, AssignedTo: &who}, nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() || created.Priority != domain.PriorityMedium {
		t.Fatalf("expected store assigned fields, got %+v", created)
	}

	got, err := s.GetTask(ctx, "b1", created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Ship" || got.AssignedTo == nil || *got.AssignedTo != "dana" || len(got.Tags) != 1 {
		t.Fatalf("unexpected task %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created at did not round trip: %v vs %v", got.CreatedAt, created.CreatedAt)
	}

	if _, err := s.GetTask(ctx, "other-board", created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on another board, got %v", err)
	}
}

func TestSQLStoreApplyPlacementsMovesAcrossColumns(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	todo := insertColumn(t, s, "b1", domain.ColumnTodo, "A", "B", "C")
	doing := insertColumn(t, s, "b1", domain.ColumnInProgress, "X", "Y")

	plan := domain.Reposition(todo[1], todo, doing, domain.ColumnInProgress, 1)
	if err := s.ApplyPlacements(ctx, "b1", plan.Placements()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	src, err := s.ListColumn(ctx, "b1", domain.ColumnTodo)
	if err != nil {
		t.Fatalf("list source: %v", err)
	}
	dst, err := s.ListColumn(ctx, "b1", domain.ColumnInProgress)
	if err != nil {
		t.Fatalf("list destination: %v", err)
	}
	if titles(src) != "A,C" || !domain.Contiguous(src) {
		t.Fatalf("unexpected source column %+v", src)
	}
	if titles(dst) != "X,B,Y" || !domain.Contiguous(dst) {
		t.Fatalf("unexpected destination column %+v", dst)
	}
}

func TestSQLStoreApplyPlacementsRollsBackOnMissingTask(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	todo := insertColumn(t, s, "b1", domain.ColumnTodo, "A", "B")

	err := s.ApplyPlacements(ctx, "b1", []domain.Placement{
		{TaskID: todo[0].ID, ColumnID: domain.ColumnTodo, Position: 1},
		{TaskID: "missing", ColumnID: domain.ColumnTodo, Position: 0},
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	got, err := s.GetTask(ctx, "b1", todo[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Position != 0 {
		t.Fatalf("expected rollback, position is %d", got.Position)
	}
}

func TestSQLStoreInsertWithShifts(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	todo := insertColumn(t, s, "b1", domain.ColumnTodo, "A", "B")

	idx, shifts := domain.Insert(todo, 1)
	if _, err := s.InsertTask(ctx, "b1", domain.Task{Title: "N", ColumnID: domain.ColumnTodo, Position: idx}, shifts); err != nil {
		t.Fatalf("insert: %v", err)
	}

	col, err := s.ListColumn(ctx, "b1", domain.ColumnTodo)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if titles(col) != "A,N,B" || !domain.Contiguous(col) {
		t.Fatalf("unexpected column %+v", col)
	}
}

func TestSQLStoreDeleteWithCompaction(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	todo := insertColumn(t, s, "b1", domain.ColumnTodo, "A", "B", "C")

	rest := []domain.Task{todo[0], todo[2]}
	if err := s.DeleteTask(ctx, "b1", todo[1].ID, domain.Compact(rest)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	col, err := s.ListColumn(ctx, "b1", domain.ColumnTodo)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if titles(col) != "A,C" || !domain.Contiguous(col) {
		t.Fatalf("unexpected column %+v", col)
	}

	if err := s.DeleteTask(ctx, "b1", todo[1].ID, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestSQLStoreUpdateAndReplaceAll(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	todo := insertColumn(t, s, "b1", domain.ColumnTodo, "A")

	task := todo[0]
	task.Title = "A2"
	task.IsCompleted = true
	updated, err := s.UpdateTask(ctx, "b1", task)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "A2" || !updated.IsCompleted {
		t.Fatalf("unexpected update %+v", updated)
	}
	if _, err := s.UpdateTask(ctx, "b1", domain.Task{ID: "missing", Title: "x"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	seeded, err := s.ReplaceAll(ctx, "b1", SampleTasks())
	if err != nil {
		t.Fatalf("replace all: %v", err)
	}
	all, err := s.ListTasks(ctx, "b1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != len(seeded) || len(all) != len(SampleTasks()) {
		t.Fatalf("expected %d seeded tasks, got %d", len(seeded), len(all))
	}

	if _, err := s.ReplaceAll(ctx, "b1", nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	all, err = s.ListTasks(ctx, "b1")
	if err != nil || len(all) != 0 {
		t.Fatalf("expected empty board, got %d %v", len(all), err)
	}
}
