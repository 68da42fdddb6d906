package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// Mover repositions tasks. Moves touching the same column of a board are
// serialized within the process.
type Mover struct {
	store  Storage
	locks  *columnLocks
	logger *log.Logger
}

// NewMover creates a Mover with its own column locks.
func NewMover(store Storage, logger *log.Logger) *Mover {
	return newMover(store, newColumnLocks(), logger)
}

func newMover(store Storage, locks *columnLocks, logger *log.Logger) *Mover {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Mover{store: store, locks: locks, logger: logger}
}

// MoveResult describes a completed move.
type MoveResult struct {
	Task domain.Task
	// From is the column the task was stored in before the move.
	From domain.ColumnID
	// Changed counts the tasks whose placement was written.
	Changed int
}

// Move places req.TaskID at req.NewIndex of req.DestinationColumnID. The
// stored column of the task is the source; req.SourceColumnID is advisory.
func (m *Mover) Move(ctx context.Context, boardID string, req domain.MoveRequest) (MoveResult, error) {
	if req.NewIndex < 0 {
		return MoveResult{}, domain.NewValidationError("newIndex", "newIndex must be at least 0")
	}
	if !req.DestinationColumnID.Valid() {
		return MoveResult{}, domain.NewValidationError("destinationColumnId", "Invalid column")
	}

	task, unlock, err := lockTask(ctx, m.store, m.locks, boardID, req.TaskID, req.DestinationColumnID)
	if err != nil {
		return MoveResult{}, err
	}
	defer unlock()

	if req.SourceColumnID != "" && req.SourceColumnID != task.ColumnID {
		m.logger.WithFields(log.Fields{
			"board":          boardID,
			"task":           task.ID,
			"source_request": req.SourceColumnID,
			"source_stored":  task.ColumnID,
		}).Warn("move source column disagrees with stored task")
	}

	current, err := m.store.ListColumn(ctx, boardID, task.ColumnID)
	if err != nil {
		return MoveResult{}, fmt.Errorf("load column %s: %w", task.ColumnID, err)
	}
	var target []domain.Task
	if req.DestinationColumnID != task.ColumnID {
		target, err = m.store.ListColumn(ctx, boardID, req.DestinationColumnID)
		if err != nil {
			return MoveResult{}, fmt.Errorf("load column %s: %w", req.DestinationColumnID, err)
		}
	}

	plan := domain.Reposition(task, current, target, req.DestinationColumnID, req.NewIndex)
	res := MoveResult{Task: task, From: task.ColumnID}
	if plan.Noop(task) {
		return res, nil
	}
	if err := m.store.ApplyPlacements(ctx, boardID, plan.Placements()); err != nil {
		return MoveResult{}, fmt.Errorf("apply placements: %w", err)
	}
	res.Changed = len(plan.Siblings) + 1

	moved, err := m.store.GetTask(ctx, boardID, task.ID)
	if err != nil {
		return MoveResult{}, fmt.Errorf("reload moved task: %w", err)
	}
	res.Task = moved
	return res, nil
}

type moveResponse struct {
	Task domain.Task `json:"task"`
}

func moveTask(s *server) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := s.startMetrics(c, "tasks.move", "/api/tasks/move")
		var failure error
		defer func() {
			status := c.Response().Status
			metrics.Log(status, failure)
			movesTotal.WithLabelValues(outcomeFor(status)).Inc()
		}()

		board := boardFrom(c)
		metrics.Set("board", board)

		var req moveTaskRequest
		if verr := s.bind(c, &req); verr != nil {
			metrics.SetErrorStage("validate")
			return failValidation(c, verr)
		}

		storeStart := time.Now()
		res, moveErr := s.mover.Move(ctx, board, req.move())
		metrics.ObserveStore(time.Since(storeStart))
		if moveErr != nil {
			var verr *domain.ValidationError
			switch {
			case errors.Is(moveErr, domain.ErrNotFound):
				metrics.SetErrorStage("lookup")
				return fail(c, http.StatusNotFound, "Task not found")
			case errors.As(moveErr, &verr):
				metrics.SetErrorStage("validate")
				return failValidation(c, verr)
			}
			failure = moveErr
			metrics.SetErrorStage("storage")
			s.logger.WithError(moveErr).WithFields(log.Fields{"board": board, "task": req.TaskID}).Error("move task")
			return fail(c, http.StatusInternalServerError, "Failed to move task")
		}

		metrics.Set("cross_column", res.From != res.Task.ColumnID)
		metrics.Set("placements_written", res.Changed)

		s.publish(ctx, board, domain.EventTaskMoved, domain.MovedPayload{
			TaskID:              res.Task.ID,
			SourceColumnID:      res.From,
			DestinationColumnID: res.Task.ColumnID,
			NewIndex:            res.Task.Position,
			Task:                &res.Task,
		})
		return respond(c, http.StatusOK, "Task moved successfully", moveResponse{Task: res.Task})
	}
}
