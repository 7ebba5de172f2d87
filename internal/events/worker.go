package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"bloodledger/internal/core"
)

// Notifier delivers a relayed event to its final listener.
type Notifier func(ctx context.Context, payload RelayPayload) error

// Processor is plugged into the asynq worker loop.
type Processor struct {
	logger  core.Logger
	notify  Notifier
	relayed *prometheus.CounterVec
}

// NewProcessor registers the relay counter with reg and returns a processor
// handing each payload to notify. A nil notify only logs.
func NewProcessor(logger core.Logger, reg prometheus.Registerer, notify Notifier) (*Processor, error) {
	if logger == nil {
		logger = discard{}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	relayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bloodledger",
		Name:      "relayed_events_total",
		Help:      "Ledger events processed by the relay worker.",
	}, []string{"event", "status"})
	if err := reg.Register(relayed); err != nil {
		return nil, err
	}
	return &Processor{logger: logger, notify: notify, relayed: relayed}, nil
}

// Handler registers the relay handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRelayEvent, p.handleRelay)
	return mux
}

func (p *Processor) handleRelay(ctx context.Context, task *asynq.Task) error {
	var payload RelayPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		p.relayed.WithLabelValues("", "malformed").Inc()
		return fmt.Errorf("decode relay payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.notify != nil {
		if err := p.notify(ctx, payload); err != nil {
			p.relayed.WithLabelValues(payload.Name, "error").Inc()
			p.logger.Warn("relay delivery failed", "event", payload.Name, "tx_id", payload.TxID, "key", payload.Key, "error", err)
			return err
		}
	}
	p.relayed.WithLabelValues(payload.Name, "success").Inc()
	p.logger.Info("event relayed", "event", payload.Name, "tx_id", payload.TxID, "key", payload.Key)
	return nil
}
