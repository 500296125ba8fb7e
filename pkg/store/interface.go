// Package store is the single source of truth for request state. Every
// status mutation goes through a Store so the state machine has one
// authority: transitions are atomic, illegal edges are rejected, and a
// given request is only ever advanced by one caller at a time.
package store

import (
	"github.com/waveq/waveq-engine/pkg/models"
)

// Filter narrows List results.
type Filter struct {
	ClientID string
	Status   models.RequestStatus
}

// Store defines the request persistence contract. Implementations must be
// safe under concurrent access from multiple workers.
type Store interface {
	// Create persists a new request. An empty ID is assigned from the
	// store's monotonic sequence (REQ-%06d). Status is forced to queued and
	// timestamps are set.
	Create(req *models.EditRequest) error

	// Get returns a snapshot of one request.
	Get(id string) (*models.EditRequest, error)

	// List returns snapshots matching the filter, oldest first.
	List(filter Filter) ([]*models.EditRequest, error)

	// Delete removes a terminal request's record. Deleting a non-terminal
	// request is rejected.
	Delete(id string) error

	// CountActive returns how many queued or processing requests a client
	// currently owns. The scheduler's admission control reads this.
	CountActive(clientID string) (int, error)

	// MarkProcessing attempts the queued -> processing transition for
	// worker dispatch. It returns false without error when the request is
	// no longer dispatchable (already cancelled), which is how duplicate
	// dispatch is prevented.
	MarkProcessing(id string) (*models.EditRequest, bool, error)

	// Complete performs processing -> completed and records the result
	// reference. Any other source state raises an IllegalTransitionError.
	Complete(id, resultRef string, processingMS float64) (*models.EditRequest, error)

	// Fail performs processing -> error and records the structured error.
	Fail(id string, reqErr *models.RequestError, processingMS float64) (*models.EditRequest, error)

	// Cancel performs queued|processing -> cancelled. Cancelling a request
	// that is already terminal is an idempotent no-op (changed=false) and
	// must not touch updated_at.
	Cancel(id string) (*models.EditRequest, bool, error)

	// SetCurrentStep updates the fine-grained progress marker. It is not a
	// state-machine transition.
	SetCurrentStep(id string, step models.StepProgress) (*models.EditRequest, error)

	// Close releases backing resources.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Type string // "memory" or "sqlite"
	Path string // sqlite database path
}

// NewStore creates a store from configuration, defaulting to memory.
func NewStore(cfg Config) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "waveq.db"
		}
		return NewSQLiteStore(path)
	default:
		return NewMemoryStore(), nil
	}
}
