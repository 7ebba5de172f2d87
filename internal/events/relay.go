package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"bloodledger/pkg/domain"
)

const (
	// TaskRelayEvent carries one committed ledger event to the worker.
	TaskRelayEvent = "ledger:event"

	// DefaultQueue is the asynq queue relay tasks are enqueued on.
	DefaultQueue = "ledger-events"

	defaultMaxRetry = 10
)

// RelayPayload is the task payload of TaskRelayEvent.
type RelayPayload struct {
	Name      string          `json:"name"`
	TxID      string          `json:"tx_id"`
	Timestamp time.Time       `json:"timestamp"`
	Key       string          `json:"key,omitempty"`
	Record    json.RawMessage `json:"record,omitempty"`
}

// Enqueuer is the part of *asynq.Client the relay uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RelaySink enqueues every event as an asynq task. Tasks are identified by
// transaction and event name so a repeated publish is dropped by the broker.
type RelaySink struct {
	client   Enqueuer
	queue    string
	maxRetry int
}

// RelayOption configures a RelaySink.
type RelayOption func(*RelaySink)

// WithQueue overrides DefaultQueue.
func WithQueue(name string) RelayOption {
	return func(s *RelaySink) {
		if name != "" {
			s.queue = name
		}
	}
}

// WithMaxRetry sets how often the worker retries a failed delivery.
func WithMaxRetry(n int) RelayOption {
	return func(s *RelaySink) {
		if n >= 0 {
			s.maxRetry = n
		}
	}
}

// NewRelaySink returns a sink enqueueing through client.
func NewRelaySink(client Enqueuer, opts ...RelayOption) *RelaySink {
	s := &RelaySink{client: client, queue: DefaultQueue, maxRetry: defaultMaxRetry}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRelayTask builds the task relaying event.
func NewRelayTask(event domain.Event) (*asynq.Task, error) {
	payload := RelayPayload{
		Name:      event.Name,
		TxID:      event.TxID,
		Timestamp: event.Timestamp,
		Key:       SubjectKey(event.Payload),
	}
	if json.Valid(event.Payload) {
		payload.Record = json.RawMessage(event.Payload)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal relay payload: %w", err)
	}
	return asynq.NewTask(TaskRelayEvent, data), nil
}

// TaskID returns the broker-level identity of event.
func TaskID(event domain.Event) string {
	return event.TxID + "/" + event.Name
}

// Handle implements Sink.
func (s *RelaySink) Handle(ctx context.Context, event domain.Event) error {
	task, err := NewRelayTask(event)
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.Queue(s.queue),
		asynq.MaxRetry(s.maxRetry),
		asynq.TaskID(TaskID(event)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", event.Name, err)
	}
	return nil
}
