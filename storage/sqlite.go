package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// SQLStore keeps tasks in a SQLite database. Placement writes run in one
// transaction.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (and migrates) the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = ":memory:"
	}
	// modernc.org/sqlite registers itself as "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	s := &SQLStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			board_id TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL,
			column_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			assigned_to TEXT,
			tags_json TEXT NOT NULL DEFAULT '[]',
			due_at_unixms INTEGER,
			is_completed INTEGER NOT NULL DEFAULT 0,
			created_by TEXT,
			created_at_unixms INTEGER NOT NULL,
			updated_at_unixms INTEGER NOT NULL,
			PRIMARY KEY(board_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_column ON tasks(board_id, column_id, position);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

const taskColumns = `id, title, description, priority, column_id, position, assigned_to,
	tags_json, due_at_unixms, is_completed, created_by, created_at_unixms, updated_at_unixms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                    domain.Task
		assignedTo, creator  sql.NullString
		due                  sql.NullInt64
		tags                 string
		completed            int
		createdMs, updatedMs int64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Priority, &t.ColumnID, &t.Position,
		&assignedTo, &tags, &due, &completed, &creator, &createdMs, &updatedMs); err != nil {
		return domain.Task{}, err
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	if creator.Valid {
		t.CreatedBy = &creator.String
	}
	if due.Valid {
		d := time.UnixMilli(due.Int64).UTC()
		t.DueDate = &d
	}
	t.IsCompleted = completed != 0
	t.CreatedAt = time.UnixMilli(createdMs).UTC()
	t.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	if err := sonic.UnmarshalString(tags, &t.Tags); err != nil {
		return domain.Task{}, fmt.Errorf("decode tags of %s: %w", t.ID, err)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t, nil
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLStore) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE board_id = ?
		ORDER BY column_id, position, created_at_unixms, id`, boardID)
}

func (s *SQLStore) ListColumn(ctx context.Context, boardID string, column domain.ColumnID) ([]domain.Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE board_id = ? AND column_id = ?
		ORDER BY position, created_at_unixms, id`, boardID, string(column))
}

func (s *SQLStore) GetTask(ctx context.Context, boardID, taskID string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE board_id = ? AND id = ?`, boardID, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, err
}

func (s *SQLStore) InsertTask(ctx context.Context, boardID string, task domain.Task, siblings []domain.Placement) (domain.Task, error) {
	task = prepare(task, uuid.NewString())
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertRow(ctx, tx, boardID, task); err != nil {
			return err
		}
		return applyRows(ctx, tx, boardID, siblings, task.UpdatedAt)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s *SQLStore) UpdateTask(ctx context.Context, boardID string, task domain.Task) (domain.Task, error) {
	task.Normalize()
	task.UpdatedAt = domain.Now()
	tags, err := sonic.MarshalString(task.Tags)
	if err != nil {
		return domain.Task{}, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET title = ?, description = ?, priority = ?, column_id = ?,
		position = ?, assigned_to = ?, tags_json = ?, due_at_unixms = ?, is_completed = ?, updated_at_unixms = ?
		WHERE board_id = ? AND id = ?`,
		task.Title, task.Description, string(task.Priority), string(task.ColumnID), task.Position,
		nullString(task.AssignedTo), tags, nullTime(task.DueDate), boolInt(task.IsCompleted),
		task.UpdatedAt.UnixMilli(), boardID, task.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := expectRow(res); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s *SQLStore) DeleteTask(ctx context.Context, boardID, taskID string, siblings []domain.Placement) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE board_id = ? AND id = ?`, boardID, taskID)
		if err != nil {
			return err
		}
		if err := expectRow(res); err != nil {
			return err
		}
		return applyRows(ctx, tx, boardID, siblings, domain.Now())
	})
}

func (s *SQLStore) ApplyPlacements(ctx context.Context, boardID string, placements []domain.Placement) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return applyRows(ctx, tx, boardID, placements, domain.Now())
	})
}

func (s *SQLStore) ReplaceAll(ctx context.Context, boardID string, tasks []domain.Task) ([]domain.Task, error) {
	out := make([]domain.Task, 0, len(tasks))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE board_id = ?`, boardID); err != nil {
			return err
		}
		for _, t := range tasks {
			t = prepare(t, uuid.NewString())
			if err := insertRow(ctx, tx, boardID, t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertRow(ctx context.Context, tx *sql.Tx, boardID string, t domain.Task) error {
	tags, err := sonic.MarshalString(t.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks (board_id, `+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		boardID, t.ID, t.Title, t.Description, string(t.Priority), string(t.ColumnID), t.Position,
		nullString(t.AssignedTo), tags, nullTime(t.DueDate), boolInt(t.IsCompleted),
		nullString(t.CreatedBy), t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
	return err
}

func applyRows(ctx context.Context, tx *sql.Tx, boardID string, placements []domain.Placement, at time.Time) error {
	if len(placements) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE tasks SET column_id = ?, position = ?, updated_at_unixms = ?
		WHERE board_id = ? AND id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range placements {
		res, err := stmt.ExecContext(ctx, string(p.ColumnID), p.Position, at.UnixMilli(), boardID, p.TaskID)
		if err != nil {
			return err
		}
		if err := expectRow(res); err != nil {
			return fmt.Errorf("place %s: %w", p.TaskID, err)
		}
	}
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v.UnixMilli(), Valid: true}
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
