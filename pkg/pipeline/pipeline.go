// Package pipeline executes a request's operation chain sequentially over a
// single working buffer. The chain aborts on the first failing operation;
// there is no partial delivery. Cancellation is observed between operations,
// so a running operation finishes (or times out) before the abort lands.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/waveq/waveq-engine/pkg/audio"
	"github.com/waveq/waveq-engine/pkg/catalog"
	engerr "github.com/waveq/waveq-engine/pkg/errors"
	"github.com/waveq/waveq-engine/pkg/models"
	"github.com/waveq/waveq-engine/pkg/retry"
	"github.com/waveq/waveq-engine/pkg/store"
	"github.com/waveq/waveq-engine/pkg/status"
)

// Config tunes per-operation execution.
type Config struct {
	// OpTimeout bounds a single operation attempt. Zero disables the bound.
	OpTimeout time.Duration
	// Retry governs transient failures inside one operation.
	Retry retry.Config
}

func DefaultConfig() Config {
	return Config{
		OpTimeout: 2 * time.Minute,
		Retry:     retry.DefaultConfig(),
	}
}

// Pipeline runs operation chains. It reads the primary source through the
// blob layer, resolves executors from the catalog, and reports per-step
// progress through the store and status publisher.
type Pipeline struct {
	catalog   *catalog.Catalog
	reader    audio.SourceReader
	store     store.Store
	publisher *status.Publisher
	log       *zap.Logger
	cfg       Config
}

func New(cat *catalog.Catalog, reader audio.SourceReader, st store.Store, pub *status.Publisher, log *zap.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		catalog:   cat,
		reader:    reader,
		store:     st,
		publisher: pub,
		log:       log,
		cfg:       cfg,
	}
}

// Run executes the request's chain and returns the final buffer plus one
// OperationResult per completed step for diagnostics and metrics. On
// failure the returned error is an *errors.ExecutionError naming the
// failed operation, except for cancellation, which surfaces as the context
// error. The caller owns persisting the result and the terminal state
// transition.
func (p *Pipeline) Run(ctx context.Context, req *models.EditRequest) (*audio.Buffer, []models.OperationResult, error) {
	if len(req.Sources) == 0 {
		return nil, nil, engerr.NewExecutionError(0, "", fmt.Errorf("request has no sources"))
	}

	buf, err := p.reader.ReadSource(ctx, req.Sources[0])
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, engerr.NewExecutionError(0, "", fmt.Errorf("read source %s: %w", req.Sources[0], err))
	}

	total := len(req.Operations)
	results := make([]models.OperationResult, 0, total)
	for i, op := range req.Operations {
		// Cancellation is honored at operation boundaries.
		if err := ctx.Err(); err != nil {
			p.log.Info("pipeline cancelled",
				zap.String("request_id", req.ID),
				zap.Int("completed_steps", i))
			return nil, results, err
		}

		p.progress(req.ID, models.StepProgress{Index: i, Kind: op.Kind, Total: total})

		start := time.Now()
		out, attempts, err := p.runOp(ctx, buf, op)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, results, ctxErr
			}
			p.log.Warn("operation failed",
				zap.String("request_id", req.ID),
				zap.Int("op_index", i),
				zap.String("op_kind", string(op.Kind)),
				zap.Int("attempts", attempts),
				zap.Error(err))
			return nil, results, engerr.NewExecutionError(i, op.Kind, err)
		}
		results = append(results, models.OperationResult{
			Index:    i,
			Kind:     op.Kind,
			Duration: time.Since(start),
			Attempts: attempts,
		})
		buf = out
	}

	return buf, results, nil
}

// runOp executes one operation under the retry policy. The per-operation
// timeout bounds each attempt individually; an attempt that overruns it
// counts as a transient failure and burns one retry, while cancellation of
// the surrounding request context stops everything.
func (p *Pipeline) runOp(ctx context.Context, in *audio.Buffer, op models.OperationSpec) (*audio.Buffer, int, error) {
	exec, err := p.catalog.ExecutorFor(op.Kind)
	if err != nil {
		return nil, 0, err
	}

	var out *audio.Buffer
	attempts := 0
	err = retry.Do(ctx, p.cfg.Retry, func() error {
		attempts++
		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.cfg.OpTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.OpTimeout)
			defer cancel()
		}

		var execErr error
		out, execErr = exec.Execute(attemptCtx, in, op.Parameters)
		if execErr != nil && errors.Is(execErr, context.DeadlineExceeded) && ctx.Err() == nil {
			return engerr.NewTimeoutError(string(op.Kind), p.cfg.OpTimeout)
		}
		return execErr
	})
	if err != nil {
		return nil, attempts, err
	}
	return out, attempts, nil
}

func (p *Pipeline) progress(requestID string, step models.StepProgress) {
	req, err := p.store.SetCurrentStep(requestID, step)
	if err != nil {
		p.log.Warn("progress update failed", zap.String("request_id", requestID), zap.Error(err))
		return
	}
	p.publisher.Publish(req)
}
