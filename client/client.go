package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// Options configure a Client.
type Options struct {
	// BaseURL is the server root, e.g. http://localhost:3001.
	BaseURL string
	Board   string
	// Token is sent as a bearer token when set.
	Token      string
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client talks to the task board REST API and broadcast channel of one
// board.
type Client struct {
	base   *url.URL
	board  string
	token  string
	http   *http.Client
	logger *log.Logger
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", opts.BaseURL)
	}
	board := opts.Board
	if board == "" {
		board = "default"
	}
	if !domain.ValidBoardID(board) {
		return nil, fmt.Errorf("invalid board id %q", board)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{base: base, board: board, token: opts.Token, http: hc, logger: logger}, nil
}

// Board returns the board the client is scoped to.
func (c *Client) Board() string { return c.board }

// APIError is a non-2xx response. A 404 unwraps to domain.ErrNotFound.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Fields)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return nil
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

// NewTask is the body of a create request. Position is optional; the server
// appends to the column when it is nil.
type NewTask struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    domain.Priority `json:"priority,omitempty"`
	ColumnID    domain.ColumnID `json:"columnId,omitempty"`
	Position    *int            `json:"position,omitempty"`
	AssignedTo  *string         `json:"assignedTo,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
}

// TaskUpdate carries the fields to change; nil fields are left alone.
type TaskUpdate struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Priority    *domain.Priority `json:"priority,omitempty"`
	ColumnID    *domain.ColumnID `json:"columnId,omitempty"`
	Position    *int             `json:"position,omitempty"`
	AssignedTo  *string          `json:"assignedTo,omitempty"`
	Tags        *[]string        `json:"tags,omitempty"`
	DueDate     *time.Time       `json:"dueDate,omitempty"`
	IsCompleted *bool            `json:"isCompleted,omitempty"`
}

// Health is the body of GET /health.
type Health struct {
	Success   bool    `json:"success"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
}

// ListTasks returns every column of the board.
func (c *Client) ListTasks(ctx context.Context) (domain.BoardColumns, error) {
	var cols domain.BoardColumns
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, nil, &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var task domain.Task
	err := c.do(ctx, http.MethodGet, "/tasks/"+id, nil, nil, &task)
	return task, err
}

// CreateTask creates a task. A non-empty idempotencyKey makes retries of the
// same request fail with 409 instead of creating duplicates.
func (c *Client) CreateTask(ctx context.Context, t NewTask, idempotencyKey string) (domain.Task, error) {
	var headers http.Header
	if idempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	var task domain.Task
	err := c.do(ctx, http.MethodPost, "/tasks", t, headers, &task)
	return task, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, u TaskUpdate) (domain.Task, error) {
	var task domain.Task
	err := c.do(ctx, http.MethodPut, "/tasks/"+id, u, nil, &task)
	return task, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+id, nil, nil, nil)
}

// MoveTask asks the server to place a task at req.NewIndex of the
// destination column and returns the stored task.
func (c *Client) MoveTask(ctx context.Context, req domain.MoveRequest) (domain.Task, error) {
	var out struct {
		Task domain.Task `json:"task"`
	}
	if err := c.do(ctx, http.MethodPatch, "/tasks/move", req, nil, &out); err != nil {
		return domain.Task{}, err
	}
	return out.Task, nil
}

// Seed replaces the board with the server's sample tasks.
func (c *Client) Seed(ctx context.Context) ([]domain.Task, error) {
	var out domain.SeededPayload
	if err := c.do(ctx, http.MethodPost, "/tasks/seed", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// Clear removes every task of the board.
func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/tasks/clear", nil, nil, nil)
}

// Health reports server liveness. A 503 is returned as a Health with
// Success false and no error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+"/health", nil)
	if err != nil {
		return h, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return h, fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return h, fmt.Errorf("health: read body: %w", err)
	}
	if err := sonic.Unmarshal(body, &h); err != nil {
		return h, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return h, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/api" + path
	u.RawQuery = url.Values{"board": []string{c.board}}.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, in any, headers http.Header, out any) error {
	var body io.Reader
	if in != nil {
		data, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	c.logger.WithFields(log.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("api request")

	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%s %s: decode envelope: %w", method, path, err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Fields: env.Errors}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := sonic.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return nil
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
