// Package events emits business events about appointments. Emission never
// fails the caller: sink errors are logged and dropped.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentCreated       = "appointment_created"
	AppointmentStatusChanged = "appointment_status_changed"
	AppointmentRescheduled   = "appointment_rescheduled"
)

type Event struct {
	ID             string    `json:"event_id"`
	Type           string    `json:"event_type"`
	AppointmentID  string    `json:"appointment_id"`
	ProviderID     string    `json:"provider_id"`
	ServiceID      string    `json:"service_id"`
	CustomerID     string    `json:"customer_id,omitempty"`
	Guest          bool      `json:"guest"`
	Date           string    `json:"date"`
	StartTime      string    `json:"start_time"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	ActorID        string    `json:"actor_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

type Emitter struct {
	logger *slog.Logger
	sinks  []Sink
}

func NewEmitter(logger *slog.Logger, sinks ...Sink) *Emitter {
	return &Emitter{logger: logger, sinks: sinks}
}

func (e *Emitter) Emit(ctx context.Context, evt Event) {
	if e == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	e.logger.Info("business event",
		"event", evt.Type,
		"event_id", evt.ID,
		"appointment_id", evt.AppointmentID,
		"provider_id", evt.ProviderID,
		"status", evt.Status,
	)
	for _, sink := range e.sinks {
		if err := sink.Publish(ctx, evt); err != nil {
			e.logger.Warn("event publish failed", "event", evt.Type, "event_id", evt.ID, "err", err)
		}
	}
}
