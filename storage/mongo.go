package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// MongoStore keeps tasks in a MongoDB collection. Placement writes are one
// ordered bulk write, which is not atomic across documents.
type MongoStore struct {
	client *mongo.Client
	tasks  *mongo.Collection
}

// NewMongoStore connects to uri and ensures the column index exists.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if database == "" {
		database = "kanban"
	}
	if collection == "" {
		collection = "tasks"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetTimeout(30*time.Second))
	if err != nil {
		return nil, err
	}
	s := &MongoStore{client: client, tasks: client.Database(database).Collection(collection)}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the (board, column, position) index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "boardId", Value: 1}, {Key: "columnId", Value: 1}, {Key: "position", Value: 1}},
	})
	return err
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type taskDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	BoardID     string             `bson:"boardId"`
	Title       string             `bson:"title"`
	Description string             `bson:"description"`
	Priority    string             `bson:"priority"`
	ColumnID    string             `bson:"columnId"`
	Position    int                `bson:"position"`
	AssignedTo  *string            `bson:"assignedTo,omitempty"`
	Tags        []string           `bson:"tags"`
	DueDate     *time.Time         `bson:"dueDate,omitempty"`
	IsCompleted bool               `bson:"isCompleted"`
	CreatedBy   *string            `bson:"createdBy,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func toDocument(boardID string, id primitive.ObjectID, t domain.Task) taskDocument {
	return taskDocument{
		ID:          id,
		BoardID:     boardID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		ColumnID:    string(t.ColumnID),
		Position:    t.Position,
		AssignedTo:  t.AssignedTo,
		Tags:        t.Tags,
		DueDate:     t.DueDate,
		IsCompleted: t.IsCompleted,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (d taskDocument) task() domain.Task {
	t := domain.Task{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		Priority:    domain.Priority(d.Priority),
		ColumnID:    domain.ColumnID(d.ColumnID),
		Position:    d.Position,
		AssignedTo:  d.AssignedTo,
		Tags:        d.Tags,
		IsCompleted: d.IsCompleted,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if d.DueDate != nil {
		due := d.DueDate.UTC()
		t.DueDate = &due
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t
}

var positionOrder = bson.D{{Key: "position", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]domain.Task, error) {
	cur, err := s.tasks.Find(ctx, filter, options.Find().SetSort(positionOrder))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	tasks := []domain.Task{}
	for cur.Next(ctx) {
		var doc taskDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		tasks = append(tasks, doc.task())
	}
	return tasks, cur.Err()
}

func (s *MongoStore) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	return s.find(ctx, bson.M{"boardId": boardID})
}

func (s *MongoStore) ListColumn(ctx context.Context, boardID string, column domain.ColumnID) ([]domain.Task, error) {
	return s.find(ctx, bson.M{"boardId": boardID, "columnId": string(column)})
}

func (s *MongoStore) GetTask(ctx context.Context, boardID, taskID string) (domain.Task, error) {
	oid, err := primitive.ObjectIDFromHex(taskID)
	if err != nil {
		return domain.Task{}, domain.ErrNotFound
	}
	var doc taskDocument
	err = s.tasks.FindOne(ctx, bson.M{"_id": oid, "boardId": boardID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	return doc.task(), nil
}

func (s *MongoStore) InsertTask(ctx context.Context, boardID string, task domain.Task, siblings []domain.Placement) (domain.Task, error) {
	oid := primitive.NewObjectID()
	task = prepare(task, oid.Hex())
	if _, err := s.tasks.InsertOne(ctx, toDocument(boardID, oid, task)); err != nil {
		return domain.Task{}, err
	}
	if err := s.bulkPlace(ctx, boardID, siblings, task.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s *MongoStore) UpdateTask(ctx context.Context, boardID string, task domain.Task) (domain.Task, error) {
	oid, err := primitive.ObjectIDFromHex(task.ID)
	if err != nil {
		return domain.Task{}, domain.ErrNotFound
	}
	task.Normalize()
	task.UpdatedAt = domain.Now()
	res, err := s.tasks.ReplaceOne(ctx, bson.M{"_id": oid, "boardId": boardID}, toDocument(boardID, oid, task))
	if err != nil {
		return domain.Task{}, err
	}
	if res.MatchedCount == 0 {
		return domain.Task{}, domain.ErrNotFound
	}
	return task, nil
}

func (s *MongoStore) DeleteTask(ctx context.Context, boardID, taskID string, siblings []domain.Placement) error {
	oid, err := primitive.ObjectIDFromHex(taskID)
	if err != nil {
		return domain.ErrNotFound
	}
	res, err := s.tasks.DeleteOne(ctx, bson.M{"_id": oid, "boardId": boardID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return s.bulkPlace(ctx, boardID, siblings, domain.Now())
}

func (s *MongoStore) ApplyPlacements(ctx context.Context, boardID string, placements []domain.Placement) error {
	return s.bulkPlace(ctx, boardID, placements, domain.Now())
}

func (s *MongoStore) bulkPlace(ctx context.Context, boardID string, placements []domain.Placement, at time.Time) error {
	if len(placements) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(placements))
	for _, p := range placements {
		oid, err := primitive.ObjectIDFromHex(p.TaskID)
		if err != nil {
			return domain.ErrNotFound
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": oid, "boardId": boardID}).
			SetUpdate(bson.M{"$set": bson.M{"columnId": string(p.ColumnID), "position": p.Position, "updatedAt": at}}))
	}
	_, err := s.tasks.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	return err
}

func (s *MongoStore) ReplaceAll(ctx context.Context, boardID string, tasks []domain.Task) ([]domain.Task, error) {
	if _, err := s.tasks.DeleteMany(ctx, bson.M{"boardId": boardID}); err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(tasks))
	docs := make([]any, 0, len(tasks))
	for _, t := range tasks {
		oid := primitive.NewObjectID()
		t = prepare(t, oid.Hex())
		docs = append(docs, toDocument(boardID, oid, t))
		out = append(out, t)
	}
	if len(docs) == 0 {
		return out, nil
	}
	if _, err := s.tasks.InsertMany(ctx, docs); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}
