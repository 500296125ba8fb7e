// Package status publishes request lifecycle events. Every event is a full
// snapshot of the request's externally visible state, so consumers can drop,
// reorder within a request boundary's delivery, or replay events and still
// converge on the record's current truth by keeping the latest one.
package status

import (
	"time"

	"github.com/waveq/waveq-engine/pkg/models"
)

// Topic layout mirrors the broker convention the engine grew up with: one
// aggregate topic plus a per-request topic for targeted subscriptions.
const (
	TopicAll       = "audio/status"
	topicPrefix    = "audio/status/"
	TopicSubmitted = "audio/edit"
)

// TopicFor returns the per-request status topic.
func TopicFor(requestID string) string {
	return topicPrefix + requestID
}

// Event is a complete snapshot of one request's public state.
type Event struct {
	RequestID    string               `json:"request_id"`
	ClientID     string               `json:"client_id,omitempty"`
	Status       models.RequestStatus `json:"status"`
	Priority     int                  `json:"priority"`
	CurrentStep  *models.StepProgress `json:"current_step,omitempty"`
	ResultRef    string               `json:"result_ref,omitempty"`
	Error        *models.RequestError `json:"error,omitempty"`
	ProcessingMS float64              `json:"processing_ms,omitempty"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Snapshot builds an event from a request record.
func Snapshot(req *models.EditRequest) Event {
	ev := Event{
		RequestID:    req.ID,
		ClientID:     req.ClientID,
		Status:       req.Status,
		Priority:     int(req.Priority),
		ResultRef:    req.ResultRef,
		ProcessingMS: req.ProcessingMS,
		UpdatedAt:    req.UpdatedAt,
	}
	if req.CurrentStep != nil {
		step := *req.CurrentStep
		ev.CurrentStep = &step
	}
	if req.Error != nil {
		e := *req.Error
		ev.Error = &e
	}
	return ev
}

// Transport delivers events to subscribers. Publish must not block the
// caller's request lifecycle on slow consumers.
type Transport interface {
	Publish(topic string, ev Event)
	Subscribe(topic string) (<-chan Event, func())
	Close() error
}

// Publisher fans one request snapshot out to the aggregate topic and the
// request's own topic.
type Publisher struct {
	transport Transport
}

func NewPublisher(t Transport) *Publisher {
	return &Publisher{transport: t}
}

func (p *Publisher) Publish(req *models.EditRequest) {
	ev := Snapshot(req)
	p.transport.Publish(TopicAll, ev)
	p.transport.Publish(TopicFor(req.ID), ev)
}
