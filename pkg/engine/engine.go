// Package engine wires interpretation, scheduling, and execution into the
// edit request lifecycle and runs the worker pool that drains the queue.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/waveq/waveq-engine/pkg/blob"
	"github.com/waveq/waveq-engine/pkg/catalog"
	engerr "github.com/waveq/waveq-engine/pkg/errors"
	"github.com/waveq/waveq-engine/pkg/interpreter"
	"github.com/waveq/waveq-engine/pkg/metrics"
	"github.com/waveq/waveq-engine/pkg/models"
	"github.com/waveq/waveq-engine/pkg/pipeline"
	"github.com/waveq/waveq-engine/pkg/scheduler"
	"github.com/waveq/waveq-engine/pkg/status"
	"github.com/waveq/waveq-engine/pkg/store"
)

// Config sizes the worker pool.
type Config struct {
	Workers int
}

// Engine owns the full request lifecycle: submit, dispatch, execute, and
// the terminal bookkeeping around results and status events.
type Engine struct {
	interp  *interpreter.Interpreter
	catalog *catalog.Catalog
	store   store.Store
	sched   *scheduler.Scheduler
	pipe    *pipeline.Pipeline
	blobs   *blob.Local
	pub     *status.Publisher
	met     *metrics.Metrics
	log     *zap.Logger
	workers int

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	stop context.CancelFunc
	wg   sync.WaitGroup
}

func New(cat *catalog.Catalog, st store.Store, sched *scheduler.Scheduler, pipe *pipeline.Pipeline,
	blobs *blob.Local, pub *status.Publisher, met *metrics.Metrics, log *zap.Logger, cfg Config) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	return &Engine{
		interp:   interpreter.New(cat),
		catalog:  cat,
		store:    st,
		sched:    sched,
		pipe:     pipe,
		blobs:    blobs,
		pub:      pub,
		met:      met,
		log:      log,
		workers:  workers,
		inflight: make(map[string]context.CancelFunc),
	}
}

// Start recovers persisted queue state and launches the worker pool.
func (e *Engine) Start() error {
	if err := e.recover(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.stop = cancel
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.log.Info("engine started", zap.Int("workers", e.workers))
	return nil
}

// Stop cancels the workers and waits for in-flight requests to wind down
// or the context to expire.
func (e *Engine) Stop(ctx context.Context) error {
	if e.stop != nil {
		e.stop()
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recover rebuilds the dispatch queue from persisted state after a restart.
// Requests caught mid-execution by the previous shutdown are failed; their
// partial output was never persisted, so retrying silently could double
// bill the client's edit.
func (e *Engine) recover() error {
	queued, err := e.store.List(store.Filter{Status: models.StatusQueued})
	if err != nil {
		return err
	}
	for _, req := range queued {
		e.sched.Admit(req)
	}
	if len(queued) > 0 {
		e.log.Info("requeued persisted requests", zap.Int("count", len(queued)))
	}

	stuck, err := e.store.List(store.Filter{Status: models.StatusProcessing})
	if err != nil {
		return err
	}
	for _, req := range stuck {
		updated, err := e.store.Fail(req.ID, &models.RequestError{
			Code:    string(engerr.CodeExecution),
			Message: "interrupted by engine shutdown",
		}, req.ProcessingMS)
		if err != nil {
			e.log.Warn("failed to settle interrupted request", zap.String("request_id", req.ID), zap.Error(err))
			continue
		}
		e.pub.Publish(updated)
	}
	return nil
}

// Submit interprets the payload, applies admission control, persists the
// request, and enqueues it. Validation and admission failures reject the
// request before anything is persisted, so rejected submissions never
// appear in listings.
func (e *Engine) Submit(ctx context.Context, payload *models.SubmitPayload) (*models.EditRequest, error) {
	resolved, err := e.interp.Resolve(payload)
	if err != nil {
		e.met.Rejected("validation")
		return nil, err
	}

	if err := e.sched.CanAdmit(payload.ClientID); err != nil {
		if _, ok := engerr.As[*engerr.AdmissionError](err); ok {
			e.met.Rejected("admission")
		}
		return nil, err
	}

	req := &models.EditRequest{
		ID:          payload.ID,
		ClientID:    payload.ClientID,
		Sources:     resolved.Sources,
		Instruction: resolved.Instruction,
		Operations:  resolved.Operations,
		Priority:    resolved.Priority,
	}
	if err := e.store.Create(req); err != nil {
		return nil, err
	}

	e.sched.Admit(req)
	e.met.Submitted(req.Priority)
	e.met.SetQueueDepth(e.sched.Stats())
	e.pub.Publish(req)

	e.log.Info("request submitted",
		zap.String("request_id", req.ID),
		zap.String("client_id", req.ClientID),
		zap.Int("priority", int(req.Priority)),
		zap.Int("operations", len(req.Operations)))
	return req, nil
}

// Get returns one request snapshot.
func (e *Engine) Get(id string) (*models.EditRequest, error) {
	return e.store.Get(id)
}

// List returns request snapshots, oldest first.
func (e *Engine) List(filter store.Filter) ([]*models.EditRequest, error) {
	return e.store.List(filter)
}

// Cancel moves an active request to cancelled and interrupts its pipeline
// if it is already running. Cancelling a terminal request is a no-op that
// returns the unchanged snapshot.
func (e *Engine) Cancel(id string) (*models.EditRequest, error) {
	req, changed, err := e.store.Cancel(id)
	if err != nil {
		return nil, err
	}
	if !changed {
		return req, nil
	}

	e.mu.Lock()
	if cancel, ok := e.inflight[id]; ok {
		cancel()
	}
	e.mu.Unlock()

	e.pub.Publish(req)
	e.met.Terminal(models.StatusCancelled, req.ProcessingMS)
	e.log.Info("request cancelled", zap.String("request_id", id))
	return req, nil
}

// Delete removes a terminal request's record and releases its artifacts.
func (e *Engine) Delete(ctx context.Context, id string) error {
	req, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if !models.IsTerminal(req.Status) {
		return engerr.NewIllegalTransitionError(id, req.Status, "deleted")
	}
	if req.ResultRef != "" {
		if err := e.blobs.Delete(ctx, req.ResultRef); err != nil {
			e.log.Warn("artifact release failed", zap.String("request_id", id), zap.Error(err))
		}
	}
	return e.store.Delete(id)
}

// Operations describes the catalog for clients.
func (e *Engine) Operations() []catalog.Entry {
	entries := make([]catalog.Entry, 0)
	for _, kind := range e.catalog.Kinds() {
		entry, err := e.catalog.Describe(kind)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// QueueStats reports the current dispatch queue depth per tier.
func (e *Engine) QueueStats() map[models.Priority]int {
	return e.sched.Stats()
}

func (e *Engine) worker(ctx context.Context, n int) {
	defer e.wg.Done()
	log := e.log.With(zap.Int("worker", n))
	for {
		id, err := e.sched.Next(ctx)
		if err != nil {
			return
		}
		e.met.SetQueueDepth(e.sched.Stats())
		e.process(ctx, log, id)
	}
}

func (e *Engine) process(ctx context.Context, log *zap.Logger, id string) {
	req, changed, err := e.store.MarkProcessing(id)
	if err != nil {
		log.Warn("dispatch failed", zap.String("request_id", id), zap.Error(err))
		return
	}
	if !changed {
		// Cancelled while waiting in the queue.
		return
	}
	e.pub.Publish(req)
	log.Info("request dispatched", zap.String("request_id", id))

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.inflight[id] = cancel
	e.mu.Unlock()

	start := time.Now()
	buf, opResults, runErr := e.pipe.Run(runCtx, req)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	e.mu.Lock()
	delete(e.inflight, id)
	e.mu.Unlock()
	cancel()

	for _, res := range opResults {
		e.met.ObserveOperation(res.Kind, res.Duration.Seconds())
	}

	switch {
	case runErr == nil:
		ref, err := e.blobs.WriteResult(ctx, id, buf)
		if err != nil {
			e.fail(log, id, &models.RequestError{
				Code:    string(engerr.CodeExecution),
				Message: "persist result: " + err.Error(),
				OpIndex: len(req.Operations) - 1,
			}, elapsed)
			return
		}
		updated, err := e.store.Complete(id, ref, elapsed)
		if err != nil {
			// Usually a cancel that won the race: the record is already
			// terminal, so the artifact we just wrote has no owner.
			log.Warn("complete failed", zap.String("request_id", id), zap.Error(err))
			if delErr := e.blobs.Delete(ctx, ref); delErr != nil {
				log.Warn("orphaned result cleanup failed",
					zap.String("request_id", id),
					zap.String("result_ref", ref),
					zap.Error(delErr))
			}
			return
		}
		e.pub.Publish(updated)
		e.met.Terminal(models.StatusCompleted, elapsed)
		log.Info("request completed",
			zap.String("request_id", id),
			zap.String("result_ref", ref),
			zap.Float64("processing_ms", elapsed))

	case errors.Is(runErr, context.Canceled) && ctx.Err() == nil:
		// The request was cancelled through the API; the store transition
		// and status event already happened there. Partial output is
		// simply dropped.
		log.Info("pipeline interrupted by cancel", zap.String("request_id", id))

	case ctx.Err() != nil:
		// Engine shutdown. Recovery settles the record on next start.
		log.Info("pipeline interrupted by shutdown", zap.String("request_id", id))

	default:
		e.fail(log, id, toRequestError(runErr), elapsed)
	}
}

func (e *Engine) fail(log *zap.Logger, id string, reqErr *models.RequestError, elapsed float64) {
	updated, err := e.store.Fail(id, reqErr, elapsed)
	if err != nil {
		log.Warn("fail transition rejected", zap.String("request_id", id), zap.Error(err))
		return
	}
	e.pub.Publish(updated)
	e.met.Terminal(models.StatusError, elapsed)
	log.Warn("request failed",
		zap.String("request_id", id),
		zap.String("error_code", reqErr.Code),
		zap.Int("op_index", reqErr.OpIndex),
		zap.String("op_kind", string(reqErr.OpKind)))
}

func toRequestError(err error) *models.RequestError {
	if ee, ok := engerr.As[*engerr.ExecutionError](err); ok {
		return &models.RequestError{
			Code:    string(engerr.CodeExecution),
			Message: strings.TrimSpace(ee.Error()),
			OpIndex: ee.OpIndex,
			OpKind:  ee.OpKind,
		}
	}
	return &models.RequestError{
		Code:    string(engerr.CodeExecution),
		Message: err.Error(),
	}
}
