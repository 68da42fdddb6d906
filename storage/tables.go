package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// Azure Tables accepts at most 100 operations per entity group transaction.
const maxBatch = 100

// TableStore keeps tasks in an Azure Storage table, one partition per board.
type TableStore struct {
	tasks *aztables.Client
}

// NewTableStore creates a TableStore from the given connection string.
func NewTableStore(connStr, tasksTable string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableStore{tasks: svc.NewClient(tasksTable)}, nil
}

type tableKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	tableKeys
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Priority    string `json:"Priority"`
	ColumnId    string `json:"ColumnId"`
	Position    int32  `json:"Position"`
	AssignedTo  string `json:"AssignedTo"`
	Tags        string `json:"Tags"`
	DueDate     string `json:"DueDate"`
	IsCompleted bool   `json:"IsCompleted"`
	CreatedBy   string `json:"CreatedBy"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

type placementEntity struct {
	tableKeys
	ColumnId  string `json:"ColumnId"`
	Position  int32  `json:"Position"`
	UpdatedAt string `json:"UpdatedAt"`
}

func toEntity(boardID string, t domain.Task) (taskEntity, error) {
	if err := checkPosition(t.ID, t.Position); err != nil {
		return taskEntity{}, err
	}
	tags, err := sonic.Marshal(t.Tags)
	if err != nil {
		return taskEntity{}, err
	}
	ent := taskEntity{
		tableKeys:   tableKeys{PartitionKey: boardID, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		ColumnId:    string(t.ColumnID),
		Position:    int32(t.Position),
		Tags:        string(tags),
		IsCompleted: t.IsCompleted,
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}
	if t.AssignedTo != nil {
		ent.AssignedTo = *t.AssignedTo
	}
	if t.CreatedBy != nil {
		ent.CreatedBy = *t.CreatedBy
	}
	if t.DueDate != nil {
		ent.DueDate = formatTime(*t.DueDate)
	}
	return ent, nil
}

func fromEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Priority:    domain.Priority(ent.Priority),
		ColumnID:    domain.ColumnID(ent.ColumnId),
		Position:    int(ent.Position),
		AssignedTo:  optional(ent.AssignedTo),
		CreatedBy:   optional(ent.CreatedBy),
		IsCompleted: ent.IsCompleted,
		CreatedAt:   parseTime(ent.CreatedAt),
		UpdatedAt:   parseTime(ent.UpdatedAt),
		Tags:        []string{},
	}
	if ent.Tags != "" {
		if err := sonic.UnmarshalString(ent.Tags, &t.Tags); err != nil {
			return domain.Task{}, fmt.Errorf("decode tags of %s: %w", ent.RowKey, err)
		}
	}
	if ent.DueDate != "" {
		due := parseTime(ent.DueDate)
		t.DueDate = &due
	}
	return t, nil
}

func (s *TableStore) list(ctx context.Context, filter string) ([]domain.Task, error) {
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := fromEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *TableStore) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	return s.list(ctx, "PartitionKey eq "+quote(boardID))
}

func (s *TableStore) ListColumn(ctx context.Context, boardID string, column domain.ColumnID) ([]domain.Task, error) {
	tasks, err := s.list(ctx, "PartitionKey eq "+quote(boardID)+" and ColumnId eq "+quote(string(column)))
	if err != nil {
		return nil, err
	}
	domain.SortByPosition(tasks)
	return tasks, nil
}

func (s *TableStore) GetTask(ctx context.Context, boardID, taskID string) (domain.Task, error) {
	resp, err := s.tasks.GetEntity(ctx, boardID, taskID, nil)
	if err != nil {
		return domain.Task{}, mapTableErr(err)
	}
	return fromEntity(resp.Value)
}

func (s *TableStore) InsertTask(ctx context.Context, boardID string, task domain.Task, siblings []domain.Placement) (domain.Task, error) {
	task = prepare(task, uuid.NewString())
	add, err := insertAction(boardID, task)
	if err != nil {
		return domain.Task{}, err
	}
	moves, err := placementActions(boardID, siblings, task.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.submit(ctx, append([]aztables.TransactionAction{add}, moves...)); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s *TableStore) UpdateTask(ctx context.Context, boardID string, task domain.Task) (domain.Task, error) {
	task.Normalize()
	task.UpdatedAt = domain.Now()
	ent, err := toEntity(boardID, task)
	if err != nil {
		return domain.Task{}, err
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	et := azcore.ETagAny
	if _, err := s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.Task{}, mapTableErr(err)
	}
	return task, nil
}

func (s *TableStore) DeleteTask(ctx context.Context, boardID, taskID string, siblings []domain.Placement) error {
	if len(siblings) == 0 {
		et := azcore.ETagAny
		_, err := s.tasks.DeleteEntity(ctx, boardID, taskID, &aztables.DeleteEntityOptions{IfMatch: &et})
		return mapTableErr(err)
	}
	del, err := entityAction(aztables.TransactionTypeDelete, tableKeys{PartitionKey: boardID, RowKey: taskID})
	if err != nil {
		return err
	}
	moves, err := placementActions(boardID, siblings, domain.Now())
	if err != nil {
		return err
	}
	return s.submit(ctx, append([]aztables.TransactionAction{del}, moves...))
}

func (s *TableStore) ApplyPlacements(ctx context.Context, boardID string, placements []domain.Placement) error {
	actions, err := placementActions(boardID, placements, domain.Now())
	if err != nil {
		return err
	}
	return s.submit(ctx, actions)
}

func (s *TableStore) ReplaceAll(ctx context.Context, boardID string, tasks []domain.Task) ([]domain.Task, error) {
	existing, err := s.ListTasks(ctx, boardID)
	if err != nil {
		return nil, err
	}
	actions := make([]aztables.TransactionAction, 0, len(existing)+len(tasks))
	for _, t := range existing {
		del, err := entityAction(aztables.TransactionTypeDelete, tableKeys{PartitionKey: boardID, RowKey: t.ID})
		if err != nil {
			return nil, err
		}
		actions = append(actions, del)
	}
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		t = prepare(t, uuid.NewString())
		add, err := insertAction(boardID, t)
		if err != nil {
			return nil, err
		}
		actions = append(actions, add)
		out = append(out, t)
	}
	if err := s.submit(ctx, actions); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *TableStore) Ping(ctx context.Context) error {
	top := int32(1)
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top})
	if pager.More() {
		_, err := pager.NextPage(ctx)
		return err
	}
	return nil
}

// submit runs actions as entity group transactions of at most maxBatch
// operations. All actions must share one partition.
func (s *TableStore) submit(ctx context.Context, actions []aztables.TransactionAction) error {
	for start := 0; start < len(actions); start += maxBatch {
		end := min(start+maxBatch, len(actions))
		if _, err := s.tasks.SubmitTransaction(ctx, actions[start:end], nil); err != nil {
			return mapTableErr(err)
		}
	}
	return nil
}

func placementActions(boardID string, placements []domain.Placement, at time.Time) ([]aztables.TransactionAction, error) {
	actions := make([]aztables.TransactionAction, 0, len(placements))
	for _, p := range placements {
		if err := checkPosition(p.TaskID, p.Position); err != nil {
			return nil, err
		}
		a, err := entityAction(aztables.TransactionTypeUpdateMerge, placementEntity{
			tableKeys: tableKeys{PartitionKey: boardID, RowKey: p.TaskID},
			ColumnId:  string(p.ColumnID),
			Position:  int32(p.Position),
			UpdatedAt: formatTime(at),
		})
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func entityAction(kind aztables.TransactionType, entity any) (aztables.TransactionAction, error) {
	payload, err := sonic.Marshal(entity)
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	a := aztables.TransactionAction{ActionType: kind, Entity: payload}
	if kind != aztables.TransactionTypeAdd {
		et := azcore.ETagAny
		a.IfMatch = &et
	}
	return a, nil
}

// insertAction builds the Add action for a prepared task.
func insertAction(boardID string, t domain.Task) (aztables.TransactionAction, error) {
	ent, err := toEntity(boardID, t)
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	return entityAction(aztables.TransactionTypeAdd, ent)
}

// checkPosition rejects positions the Int32 Position property cannot hold.
func checkPosition(taskID string, position int) error {
	if position < 0 || position > math.MaxInt32 {
		return fmt.Errorf("task %s: position %d out of range", taskID, position)
	}
	return nil
}

func mapTableErr(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return domain.ErrNotFound
	}
	return err
}

// quote renders v as an OData string literal.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
