package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

// Initialize prepares the configured backend: tables and queues for Azure
// Storage, schema for SQLite, indexes for MongoDB. Queues are only created
// when the storage connection string is set.
func Initialize(ctx context.Context, o Options, queues []string) error {
	switch o.Kind {
	case "", KindTables:
		if err := CreateTables(ctx, o.ConnectionString, []string{o.TasksTable}); err != nil {
			return err
		}
	default:
		// Opening a SQLite or MongoDB store migrates it.
		_, closeFn, err := Open(ctx, o)
		if err != nil {
			return err
		}
		if err := closeFn(ctx); err != nil {
			return err
		}
	}
	if o.ConnectionString == "" {
		return nil
	}
	return CreateQueues(ctx, o.ConnectionString, queues)
}

// CreateTables creates the named tables, ignoring ones that already exist.
func CreateTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return fmt.Errorf("create table %s: %w", name, err)
		}
		log.WithField("table", name).Info("table ready")
	}
	return nil
}

// CreateQueues creates the named queues, ignoring ones that already exist.
func CreateQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, "QueueAlreadyExists") {
			return fmt.Errorf("create queue %s: %w", name, err)
		}
		log.WithField("queue", name).Info("queue ready")
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
