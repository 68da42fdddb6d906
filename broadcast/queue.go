package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

var exportedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskboard",
	Name:      "queue_exports_total",
	Help:      "Events exported to the storage queue, by outcome.",
}, []string{"outcome"})

// ErrExporterSaturated is returned when no worker took an event within the
// hand-off timeout.
var ErrExporterSaturated = errors.New("queue exporter saturated")

var errExporterClosed = errors.New("queue exporter closed")

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// ExporterOptions size the exporter's worker pool.
type ExporterOptions struct {
	Workers int
	Buffer  int
	// Timeout bounds one enqueue call.
	Timeout time.Duration
	// Handoff is how long Publish waits for room in a full buffer.
	Handoff time.Duration
}

type exportJob struct {
	room string
	ev   domain.Event
	ts   int64
}

// exportMessage is the queue message body.
type exportMessage struct {
	Room  string          `json:"room"`
	Board string          `json:"board"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Time  int64           `json:"ts"`
}

// QueueExporter copies board events to an Azure Storage queue for
// downstream consumers. Publish never blocks longer than the hand-off
// timeout; events that cannot be handed to a worker are dropped.
type QueueExporter struct {
	queue   queueClient
	opts    ExporterOptions
	logger  *log.Logger
	jobs    chan exportJob
	workers sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewQueueExporter starts an exporter writing to queueName.
func NewQueueExporter(connStr, queueName string, opts ExporterOptions, logger *log.Logger) (*QueueExporter, error) {
	clientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 30 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &clientOptions)
	if err != nil {
		return nil, fmt.Errorf("queue client %s: %w", queueName, err)
	}
	return newQueueExporter(q, opts, logger), nil
}

func newQueueExporter(q queueClient, opts ExporterOptions, logger *log.Logger) *QueueExporter {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	x := &QueueExporter{
		queue:  q,
		opts:   opts,
		logger: logger,
		jobs:   make(chan exportJob, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		x.workers.Add(1)
		go x.worker(i)
	}
	logger.Infof("queue exporter started, workers: %d, buffer: %d, timeout: %v, handoff: %v", opts.Workers, opts.Buffer, opts.Timeout, opts.Handoff)
	return x
}

// Publish hands the event to a worker.
func (x *QueueExporter) Publish(_ context.Context, room string, ev domain.Event) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return errExporterClosed
	}

	job := exportJob{room: room, ev: ev, ts: nextTimestamp()}
	select {
	case x.jobs <- job:
		return nil
	default:
	}
	if x.opts.Handoff > 0 {
		timer := time.NewTimer(x.opts.Handoff)
		defer timer.Stop()
		select {
		case x.jobs <- job:
			return nil
		case <-timer.C:
		}
	}
	exportedEvents.WithLabelValues("dropped").Inc()
	x.logger.WithFields(log.Fields{"room": room, "event": ev.Type}).Warn("queue exporter saturated, dropping event")
	return ErrExporterSaturated
}

// Close stops accepting events and waits for the workers to drain the
// buffer.
func (x *QueueExporter) Close() {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return
	}
	x.closed = true
	close(x.jobs)
	x.mu.Unlock()
	x.workers.Wait()
}

func (x *QueueExporter) worker(id int) {
	defer x.workers.Done()
	for j := range x.jobs {
		data, err := sonic.MarshalString(exportMessage{
			Room:  j.room,
			Board: boardOfRoom(j.room),
			Type:  j.ev.Type,
			Data:  j.ev.Data,
			Time:  j.ts,
		})
		if err != nil {
			exportedEvents.WithLabelValues("error").Inc()
			x.logger.WithError(err).WithField("event", j.ev.Type).Error("encode exported event")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), x.opts.Timeout)
		_, err = x.queue.EnqueueMessage(ctx, data, nil)
		cancel()
		if err != nil {
			exportedEvents.WithLabelValues("error").Inc()
			x.logger.Errorf("enqueue failed, err: %v, event: %s, room: %s, worker: %d", err, j.ev.Type, j.room, id)
			continue
		}
		exportedEvents.WithLabelValues("ok").Inc()
	}
}

func boardOfRoom(room string) string {
	const prefix = "board:"
	return strings.TrimPrefix(room, prefix)
}
