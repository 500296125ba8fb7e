// Package scheduler orders queued edit requests for dispatch. Requests are
// held in five FIFO queues, one per priority tier, and workers drain the
// highest non-empty tier first. A lower tier is only ever served when every
// tier above it is empty.
package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	engerr "github.com/waveq/waveq-engine/pkg/errors"
	"github.com/waveq/waveq-engine/pkg/models"
	"github.com/waveq/waveq-engine/pkg/store"
)

const tiers = int(models.PriorityLowest)

// Scheduler admits requests against a per-client active limit and hands
// request ids to workers in priority order.
type Scheduler struct {
	store store.Store
	log   *zap.Logger
	limit int

	mu     sync.Mutex
	queues [tiers][]string

	// signal wakes one blocked Next call per Admit. Buffered so an Admit
	// with no waiter is not lost.
	signal chan struct{}
}

// New creates a scheduler. clientLimit caps how many active (queued or
// processing) requests a single client may hold; zero or negative disables
// the cap.
func New(st store.Store, log *zap.Logger, clientLimit int) *Scheduler {
	return &Scheduler{
		store:  st,
		log:    log,
		limit:  clientLimit,
		signal: make(chan struct{}, 1),
	}
}

// CanAdmit checks the per-client active limit. It returns an AdmissionError
// when the client is at capacity; callers reject such requests before they
// are ever persisted.
func (s *Scheduler) CanAdmit(clientID string) error {
	if s.limit <= 0 {
		return nil
	}
	active, err := s.store.CountActive(clientID)
	if err != nil {
		return err
	}
	if active >= s.limit {
		return engerr.NewAdmissionError(clientID, active, s.limit)
	}
	return nil
}

// Admit enqueues an already-persisted request for dispatch.
func (s *Scheduler) Admit(req *models.EditRequest) {
	tier := int(req.Priority) - 1
	if tier < 0 || tier >= tiers {
		tier = int(models.PriorityDefault) - 1
	}

	s.mu.Lock()
	s.queues[tier] = append(s.queues[tier], req.ID)
	s.mu.Unlock()

	s.log.Debug("request admitted",
		zap.String("request_id", req.ID),
		zap.Int("priority", int(req.Priority)))

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next blocks until a request id is available or the context is done.
// Whether the returned request is still dispatchable is decided by the
// store's queued -> processing transition, not here; a request cancelled
// while waiting in the queue is simply skipped by the worker.
func (s *Scheduler) Next(ctx context.Context) (string, error) {
	for {
		if id, ok := s.pop(); ok {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.signal:
		}
	}
}

func (s *Scheduler) pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tier := 0; tier < tiers; tier++ {
		q := s.queues[tier]
		if len(q) == 0 {
			continue
		}
		id := q[0]
		s.queues[tier] = q[1:]
		if len(s.queues[tier]) > 0 || s.nonEmptyLocked() {
			// More work remains; keep the wakeup token alive for the
			// next waiter.
			select {
			case s.signal <- struct{}{}:
			default:
			}
		}
		return id, true
	}
	return "", false
}

func (s *Scheduler) nonEmptyLocked() bool {
	for tier := 0; tier < tiers; tier++ {
		if len(s.queues[tier]) > 0 {
			return true
		}
	}
	return false
}

// Len returns how many requests are waiting for dispatch.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for tier := 0; tier < tiers; tier++ {
		n += len(s.queues[tier])
	}
	return n
}

// Stats reports the queue depth per priority tier.
func (s *Scheduler) Stats() map[models.Priority]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[models.Priority]int, tiers)
	for tier := 0; tier < tiers; tier++ {
		stats[models.Priority(tier+1)] = len(s.queues[tier])
	}
	return stats
}
