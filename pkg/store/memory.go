package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	engerr "github.com/waveq/waveq-engine/pkg/errors"
	"github.com/waveq/waveq-engine/pkg/models"
)

// MemoryStore is the in-memory Store used by tests and single-process
// deployments without persistence.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.EditRequest
	seq      int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.EditRequest)}
}

func (s *MemoryStore) Create(req *models.EditRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		s.seq++
		req.ID = fmt.Sprintf("REQ-%06d", s.seq)
	} else if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("request %s already exists", req.ID)
	}

	now := time.Now().UTC()
	req.Status = models.StatusQueued
	req.CreatedAt = now
	req.UpdatedAt = now
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *MemoryStore) Get(id string) (*models.EditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, engerr.NewNotFoundError(id)
	}
	return req.Clone(), nil
}

func (s *MemoryStore) List(filter Filter) ([]*models.EditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.EditRequest, 0, len(s.requests))
	for _, req := range s.requests {
		if filter.ClientID != "" && req.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, req.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return engerr.NewNotFoundError(id)
	}
	if !models.IsTerminal(req.Status) {
		return fmt.Errorf("request %s is %s; only terminal requests can be deleted", id, req.Status)
	}
	delete(s.requests, id)
	return nil
}

func (s *MemoryStore) CountActive(clientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, req := range s.requests {
		if req.ClientID == clientID && models.IsActive(req.Status) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkProcessing(id string) (*models.EditRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, false, engerr.NewNotFoundError(id)
	}
	if req.Status != models.StatusQueued {
		// Cancelled between admit and dispatch; not an error.
		return req.Clone(), false, nil
	}
	s.transitionLocked(req, models.StatusProcessing, "dispatched to worker")
	now := time.Now().UTC()
	req.StartedAt = &now
	return req.Clone(), true, nil
}

func (s *MemoryStore) Complete(id, resultRef string, processingMS float64) (*models.EditRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, engerr.NewNotFoundError(id)
	}
	if err := models.ValidateTransition(req.Status, models.StatusCompleted); err != nil {
		return nil, engerr.NewIllegalTransitionError(id, req.Status, models.StatusCompleted)
	}
	s.transitionLocked(req, models.StatusCompleted, "pipeline finished")
	req.ResultRef = resultRef
	req.ProcessingMS = processingMS
	now := time.Now().UTC()
	req.CompletedAt = &now
	return req.Clone(), nil
}

func (s *MemoryStore) Fail(id string, reqErr *models.RequestError, processingMS float64) (*models.EditRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, engerr.NewNotFoundError(id)
	}
	if err := models.ValidateTransition(req.Status, models.StatusError); err != nil {
		return nil, engerr.NewIllegalTransitionError(id, req.Status, models.StatusError)
	}
	s.transitionLocked(req, models.StatusError, "pipeline failed")
	req.Error = reqErr
	req.ProcessingMS = processingMS
	now := time.Now().UTC()
	req.CompletedAt = &now
	return req.Clone(), nil
}

func (s *MemoryStore) Cancel(id string) (*models.EditRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, false, engerr.NewNotFoundError(id)
	}
	if models.IsTerminal(req.Status) {
		return req.Clone(), false, nil
	}
	s.transitionLocked(req, models.StatusCancelled, "client cancelled")
	return req.Clone(), true, nil
}

func (s *MemoryStore) SetCurrentStep(id string, step models.StepProgress) (*models.EditRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, engerr.NewNotFoundError(id)
	}
	step.UpdatedAt = time.Now().UTC()
	req.CurrentStep = &step
	return req.Clone(), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// transitionLocked applies an already-validated transition under the lock.
func (s *MemoryStore) transitionLocked(req *models.EditRequest, to models.RequestStatus, reason string) {
	now := time.Now().UTC()
	req.Transitions = append(req.Transitions, models.StateTransition{
		From:      req.Status,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})
	req.Status = to
	req.UpdatedAt = now
}
