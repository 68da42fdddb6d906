package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

const (
	ctxKeyBoard  = "board"
	ctxKeyUserID = "user_id"

	headerIdempotencyKey = "Idempotency-Key"
)

type server struct {
	store     Storage
	publisher Publisher
	auth      Authenticator
	deduper   Deduper
	logger    *log.Logger
	opts      Options
	locks     *columnLocks
	mover     *Mover
	validator *requestValidator
	started   time.Time
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Store == nil {
		panic("api.Register: store is nil")
	}
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Options.DefaultBoard == "" {
		d.Options.DefaultBoard = "default"
	}
	if d.Options.Limits == (domain.Limits{}) {
		d.Options.Limits = domain.DefaultLimits
	}
	locks := newColumnLocks()
	s := &server{
		store:     d.Store,
		publisher: d.Publisher,
		auth:      d.Auth,
		deduper:   d.Deduper,
		logger:    d.Logger,
		opts:      d.Options,
		locks:     locks,
		mover:     newMover(d.Store, locks, d.Logger),
		validator: newRequestValidator(d.Options.Limits),
		started:   time.Now(),
	}

	g := e.Group("/api", s.scope)
	g.GET("/tasks", getTasks(s))
	g.POST("/tasks", createTask(s))
	g.PATCH("/tasks/move", moveTask(s))
	if d.Options.DevEndpoints {
		g.POST("/tasks/seed", seedTasks(s))
		g.DELETE("/tasks/clear", clearTasks(s))
	}
	g.GET("/tasks/:id", getTask(s))
	g.PUT("/tasks/:id", updateTask(s))
	g.DELETE("/tasks/:id", deleteTask(s))

	e.GET("/health", health(s))
}

// scope resolves the board and, when a token is presented, the caller.
func (s *server) scope(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		board := strings.TrimSpace(c.QueryParam("board"))
		if board == "" {
			board = s.opts.DefaultBoard
		}
		if !domain.ValidBoardID(board) {
			return failValidation(c, domain.NewValidationError("board", "Invalid board id"))
		}
		c.Set(ctxKeyBoard, board)

		if s.auth == nil {
			return next(c)
		}
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			if s.opts.RequireAuth {
				return fail(c, http.StatusUnauthorized, errMissingAuthorization.Error())
			}
			return next(c)
		}
		userID, err := s.auth.UserIDFromAuthHeader(header)
		if err != nil {
			return fail(c, http.StatusUnauthorized, err.Error())
		}
		c.Set(ctxKeyUserID, userID)
		return next(c)
	}
}

func boardFrom(c echo.Context) string {
	if b, ok := c.Get(ctxKeyBoard).(string); ok {
		return b
	}
	return "default"
}

func userFrom(c echo.Context) string {
	uid, _ := c.Get(ctxKeyUserID).(string)
	return uid
}

func (s *server) startMetrics(c echo.Context, name, route string) (*requestMetrics, context.Context) {
	metrics, ctx := newRequestMetrics(c.Request().Context(), s.logger, name, route)
	c.SetRequest(c.Request().WithContext(ctx))
	return metrics, ctx
}

// bind decodes the body into req and validates it.
func (s *server) bind(c echo.Context, req any) *domain.ValidationError {
	if err := decodeBody(c, req); err != nil {
		var verr *domain.ValidationError
		errors.As(err, &verr)
		return verr
	}
	if err := s.validator.Validate(req); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return domain.NewValidationError("body", err.Error())
	}
	return nil
}

// publish hands an event to the broadcast channel. Failures are logged and
// never reach the caller.
func (s *server) publish(ctx context.Context, board, typ string, payload any) {
	if s.publisher == nil {
		return
	}
	ev, err := domain.NewEvent(typ, payload)
	if err != nil {
		publishFailures.Inc()
		s.logger.WithError(err).WithField("event", typ).Error("encode event")
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), domain.BoardRoom(board), ev); err != nil {
		publishFailures.Inc()
		s.logger.WithError(err).WithFields(log.Fields{"event": typ, "board": board}).Warn("publish event")
	}
}

func getTasks(s *server) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := s.startMetrics(c, "tasks.list", "/api/tasks")
		var failure error
		defer func() { metrics.Log(c.Response().Status, failure) }()

		board := boardFrom(c)
		metrics.Set("board", board)

		fetchStart := time.Now()
		tasks, err := s.store.ListTasks(ctx, board)
		metrics.ObserveStore(time.Since(fetchStart))
		if err != nil {
			failure = err
			metrics.SetErrorStage("storage")
			s.logger.WithError(err).WithField("board", board).Error("list tasks")
			return fail(c, http.StatusInternalServerError, "Failed to retrieve tasks")
		}
		metrics.Set("tasks_returned", len(tasks))
		return respond(c, http.StatusOK, "Tasks retrieved successfully", domain.GroupByColumn(tasks))
	}
}

func getTask(s *server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		task, err := s.store.GetTask(ctx, boardFrom(c), c.Param("id"))
		if errors.Is(err, domain.ErrNotFound) {
			return fail(c, http.StatusNotFound, "Task not found")
		}
		if err != nil {
			s.logger.WithError(err).WithField("task", c.Param("id")).Error("get task")
			return fail(c, http.StatusInternalServerError, "Failed to retrieve task")
		}
		return respond(c, http.StatusOK, "Task retrieved successfully", task)
	}
}

func createTask(s *server) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := s.startMetrics(c, "tasks.create", "/api/tasks")
		var failure error
		defer func() {
			status := c.Response().Status
			metrics.Log(status, failure)
			mutationsTotal.WithLabelValues("create", outcomeFor(status)).Inc()
		}()

		board := boardFrom(c)
		metrics.Set("board", board)

		var req createTaskRequest
		if verr := s.bind(c, &req); verr != nil {
			metrics.SetErrorStage("validate")
			return failValidation(c, verr)
		}
		task := req.task()
		if uid := userFrom(c); uid != "" {
			task.CreatedBy = &uid
		}

		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		recorded := false
		if key != "" && s.deduper != nil {
			added, err := s.deduper.Add(ctx, board, key)
			switch {
			case err != nil:
				s.logger.WithError(err).Warn("idempotency check failed; processing anyway")
			case !added:
				metrics.SetErrorStage("duplicate")
				return fail(c, http.StatusConflict, "Duplicate request")
			default:
				recorded = true
			}
		}

		storeStart := time.Now()
		created, err := s.insert(ctx, board, task, req.Position)
		metrics.ObserveStore(time.Since(storeStart))
		if err != nil {
			if recorded {
				if rmErr := s.deduper.Remove(context.WithoutCancel(ctx), board, key); rmErr != nil {
					s.logger.WithError(rmErr).Warn("release idempotency key")
				}
			}
			failure = err
			metrics.SetErrorStage("storage")
			s.logger.WithError(err).WithField("board", board).Error("create task")
			return fail(c, http.StatusInternalServerError, "Failed to create task")
		}

		s.publish(ctx, board, domain.EventTaskCreated, domain.TaskPayload{Task: created})
		return respond(c, http.StatusCreated, "Task created successfully", created)
	}
}

// insert stores task at position (end of column when nil), shifting siblings.
func (s *server) insert(ctx context.Context, board string, task domain.Task, position *int) (domain.Task, error) {
	unlock := s.locks.Lock(board, task.ColumnID)
	defer unlock()

	column, err := s.store.ListColumn(ctx, board, task.ColumnID)
	if err != nil {
		return domain.Task{}, err
	}
	index := len(column)
	if position != nil {
		index = *position
	}
	pos, shifts := domain.Insert(column, index)
	task.Position = pos
	return s.store.InsertTask(ctx, board, task, shifts)
}

func updateTask(s *server) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := s.startMetrics(c, "tasks.update", "/api/tasks/:id")
		var failure error
		defer func() {
			status := c.Response().Status
			metrics.Log(status, failure)
			mutationsTotal.WithLabelValues("update", outcomeFor(status)).Inc()
		}()

		board := boardFrom(c)
		id := c.Param("id")

		var req updateTaskRequest
		if verr := s.bind(c, &req); verr != nil {
			metrics.SetErrorStage("validate")
			return failValidation(c, verr)
		}

		storeStart := time.Now()
		updated, moved, err := s.update(ctx, board, id, req)
		metrics.ObserveStore(time.Since(storeStart))
		if err != nil && updated.ID != "" {
			// The field changes landed before the move failed.
			s.publish(ctx, board, domain.EventTaskUpdated, domain.TaskPayload{Task: updated})
		}
		if err != nil {
			var verr *domain.ValidationError
			switch {
			case errors.Is(err, domain.ErrNotFound):
				metrics.SetErrorStage("lookup")
				return fail(c, http.StatusNotFound, "Task not found")
			case errors.As(err, &verr):
				metrics.SetErrorStage("validate")
				return failValidation(c, verr)
			}
			failure = err
			metrics.SetErrorStage("storage")
			s.logger.WithError(err).WithFields(log.Fields{"board": board, "task": id}).Error("update task")
			return fail(c, http.StatusInternalServerError, "Failed to update task")
		}

		if moved != nil {
			metrics.Set("moved", true)
			s.publish(ctx, board, domain.EventTaskMoved, domain.MovedPayload{
				TaskID:              updated.ID,
				SourceColumnID:      moved.From,
				DestinationColumnID: updated.ColumnID,
				NewIndex:            updated.Position,
				Task:                &updated,
			})
		} else {
			s.publish(ctx, board, domain.EventTaskUpdated, domain.TaskPayload{Task: updated})
		}
		return respond(c, http.StatusOK, "Task updated successfully", updated)
	}
}

// update writes the field changes of req and routes a column or position
// change through the mover. The returned MoveResult is nil when the task did
// not move. If the move fails after the fields were written, the written task
// is returned along with the error.
func (s *server) update(ctx context.Context, board, id string, req updateTaskRequest) (domain.Task, *MoveResult, error) {
	existing, unlock, err := lockTask(ctx, s.store, s.locks, board, id)
	if err != nil {
		return domain.Task{}, nil, err
	}
	updated, err := s.store.UpdateTask(ctx, board, req.apply(existing))
	unlock()
	if err != nil {
		return domain.Task{}, nil, err
	}

	dest := existing.ColumnID
	if req.ColumnID != nil {
		dest = *req.ColumnID
	}
	index := existing.Position
	switch {
	case req.Position != nil:
		index = *req.Position
	case dest != existing.ColumnID:
		index = math.MaxInt32
	}
	if dest == existing.ColumnID && index == existing.Position {
		return updated, nil, nil
	}

	res, err := s.mover.Move(ctx, board, domain.MoveRequest{
		TaskID:              id,
		SourceColumnID:      existing.ColumnID,
		DestinationColumnID: dest,
		NewIndex:            index,
	})
	if err != nil {
		return updated, nil, fmt.Errorf("move after update: %w", err)
	}
	return res.Task, &res, nil
}

func deleteTask(s *server) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := s.startMetrics(c, "tasks.delete", "/api/tasks/:id")
		var failure error
		defer func() {
			status := c.Response().Status
			metrics.Log(status, failure)
			mutationsTotal.WithLabelValues("delete", outcomeFor(status)).Inc()
		}()

		board := boardFrom(c)
		id := c.Param("id")

		storeStart := time.Now()
		err := s.delete(ctx, board, id)
		metrics.ObserveStore(time.Since(storeStart))
		if errors.Is(err, domain.ErrNotFound) {
			metrics.SetErrorStage("lookup")
			return fail(c, http.StatusNotFound, "Task not found")
		}
		if err != nil {
			failure = err
			metrics.SetErrorStage("storage")
			s.logger.WithError(err).WithFields(log.Fields{"board": board, "task": id}).Error("delete task")
			return fail(c, http.StatusInternalServerError, "Failed to delete task")
		}

		s.publish(ctx, board, domain.EventTaskDeleted, domain.DeletedPayload{TaskID: id})
		return respond(c, http.StatusOK, "Task deleted successfully", nil)
	}
}

func (s *server) delete(ctx context.Context, board, id string) error {
	task, unlock, err := lockTask(ctx, s.store, s.locks, board, id)
	if err != nil {
		return err
	}
	defer unlock()

	var siblings []domain.Placement
	if s.opts.CompactOnDelete {
		column, err := s.store.ListColumn(ctx, board, task.ColumnID)
		if err != nil {
			return err
		}
		rest := make([]domain.Task, 0, len(column))
		for _, t := range column {
			if t.ID != id {
				rest = append(rest, t)
			}
		}
		siblings = domain.Compact(rest)
	}
	return s.store.DeleteTask(ctx, board, id, siblings)
}

func seedTasks(s *server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		board := boardFrom(c)
		var sample []domain.Task
		if s.opts.SeedTasks != nil {
			sample = s.opts.SeedTasks()
		}

		unlock := s.locks.Lock(board, domain.Columns...)
		tasks, err := s.store.ReplaceAll(ctx, board, sample)
		unlock()
		if err != nil {
			s.logger.WithError(err).WithField("board", board).Error("seed tasks")
			return fail(c, http.StatusInternalServerError, "Failed to seed database")
		}

		payload := domain.SeededPayload{Tasks: tasks}
		s.publish(ctx, board, domain.EventTaskSeeded, payload)
		return respond(c, http.StatusCreated, "Database seeded successfully", payload)
	}
}

func clearTasks(s *server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		board := boardFrom(c)

		unlock := s.locks.Lock(board, domain.Columns...)
		_, err := s.store.ReplaceAll(ctx, board, nil)
		unlock()
		if err != nil {
			s.logger.WithError(err).WithField("board", board).Error("clear tasks")
			return fail(c, http.StatusInternalServerError, "Failed to clear database")
		}

		s.publish(ctx, board, domain.EventTaskCleared, nil)
		return respond(c, http.StatusOK, "Database cleared successfully", nil)
	}
}

type healthResponse struct {
	Success   bool    `json:"success"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
}

func health(s *server) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := healthResponse{
			Success:   true,
			Message:   "Server is running",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Uptime:    time.Since(s.started).Seconds(),
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("health: storage ping failed")
			resp.Success = false
			resp.Message = "Storage unavailable"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}
}
