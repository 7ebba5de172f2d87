// Package events fans committed ledger events out to sinks: the process log
// and an asynq queue that relays them to listeners outside the ledger.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"bloodledger/internal/core"
	"bloodledger/pkg/domain"
)

// Sink receives committed events. A failing sink never affects the
// transaction that produced the event.
type Sink interface {
	Handle(ctx context.Context, event domain.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event domain.Event) error

// Handle implements Sink.
func (f SinkFunc) Handle(ctx context.Context, event domain.Event) error { return f(ctx, event) }

var _ domain.EventPublisher = (*Hub)(nil)

// Hub is a domain.EventPublisher delivering each event to every sink in
// registration order.
type Hub struct {
	mu     sync.RWMutex
	sinks  []namedSink
	logger core.Logger
}

type namedSink struct {
	name string
	sink Sink
}

// NewHub returns a hub logging sink failures to logger. A nil logger
// discards them.
func NewHub(logger core.Logger) *Hub {
	if logger == nil {
		logger = discard{}
	}
	return &Hub{logger: logger}
}

// Add registers sink under name.
func (h *Hub) Add(name string, sink Sink) {
	if sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, namedSink{name: name, sink: sink})
	h.mu.Unlock()
}

// Publish implements domain.EventPublisher.
func (h *Hub) Publish(ctx context.Context, event domain.Event) {
	h.mu.RLock()
	sinks := append([]namedSink(nil), h.sinks...)
	h.mu.RUnlock()
	for _, s := range sinks {
		if err := s.sink.Handle(ctx, event); err != nil {
			h.logger.Warn("event sink failed", "sink", s.name, "event", event.Name, "tx_id", event.TxID, "error", err)
		}
	}
}

// SubjectKey returns the logical key of the record carried by an event
// payload, or "" when the payload is not a serialized record.
func SubjectKey(payload []byte) string {
	var env struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	return env.Key
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
