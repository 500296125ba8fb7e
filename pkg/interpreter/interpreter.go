// Package interpreter turns an incoming edit request into a validated,
// canonically ordered operation chain. Free-text submissions arrive with an
// upstream best-effort guess; the guess is untrusted input and goes through
// exactly the same validation path as structured operations.
package interpreter

import (
	"sort"

	"github.com/waveq/waveq-engine/pkg/catalog"
	engerr "github.com/waveq/waveq-engine/pkg/errors"
	"github.com/waveq/waveq-engine/pkg/models"
)

// Interpreter resolves submission payloads against the operation catalog.
type Interpreter struct {
	catalog *catalog.Catalog
}

// New creates an interpreter backed by the given catalog.
func New(c *catalog.Catalog) *Interpreter {
	return &Interpreter{catalog: c}
}

// Resolved is the validated, normalized product of one submission.
type Resolved struct {
	Sources     []string
	Operations  []models.OperationSpec
	Priority    models.Priority
	Instruction string
}

// Resolve validates a submission payload and produces its canonical
// operation chain. The first offending operation aborts resolution with a
// ValidationError naming the failing field; such a request never enters the
// queue.
func (in *Interpreter) Resolve(payload *models.SubmitPayload) (*Resolved, error) {
	sources := gatherSources(payload)
	if len(sources) == 0 {
		return nil, engerr.NewValidationError(0, "", "audio_source", "at least one audio source is required")
	}

	ops := gatherOperations(payload)
	if len(ops) == 0 {
		return nil, engerr.NewValidationError(0, "", "operations", "no operations given and no usable instruction guess")
	}

	priority := models.PriorityDefault
	if payload.Priority != 0 {
		priority = models.Priority(payload.Priority)
		if !priority.Valid() {
			return nil, engerr.NewValidationError(0, "", "priority", "priority must be between 1 (highest) and 5 (lowest)")
		}
	}

	normalized := make([]models.OperationSpec, len(ops))
	for i, op := range ops {
		params, err := in.catalog.Normalize(op.Kind, op.Parameters)
		if err != nil {
			if ve, ok := engerr.As[*engerr.ValidationError](err); ok {
				ve.OpIndex = i
			}
			return nil, err
		}
		normalized[i] = models.OperationSpec{Kind: op.Kind, Parameters: params}
	}

	if err := in.resolveMergeSources(normalized, sources); err != nil {
		return nil, err
	}

	return &Resolved{
		Sources:     sources,
		Operations:  in.Canonicalize(normalized),
		Priority:    priority,
		Instruction: payload.Instruction,
	}, nil
}

// Canonicalize reorders an operation chain by catalog precedence class.
// The sort is stable, so caller order survives within a class; in
// particular the loosely commuting enhancement effects keep their given
// order. Out-of-place normalize or convert_format steps are silently moved,
// never rejected.
func (in *Interpreter) Canonicalize(ops []models.OperationSpec) []models.OperationSpec {
	out := make([]models.OperationSpec, len(ops))
	copy(out, ops)
	sort.SliceStable(out, func(i, j int) bool {
		return in.catalog.OrderClass(out[i].Kind) < in.catalog.OrderClass(out[j].Kind)
	})
	return out
}

// resolveMergeSources wires the request's extra sources into merge steps
// that did not name their own, and rejects merges with nothing to combine.
func (in *Interpreter) resolveMergeSources(ops []models.OperationSpec, sources []string) error {
	for i, op := range ops {
		if op.Kind != models.OpMerge {
			continue
		}
		if refs, ok := op.Parameters["sources"].([]interface{}); ok && len(refs) > 0 {
			continue
		}
		if len(sources) < 2 {
			return engerr.NewValidationError(i, models.OpMerge, "sources", "merge needs a second audio source")
		}
		extra := make([]interface{}, 0, len(sources)-1)
		for _, ref := range sources[1:] {
			extra = append(extra, ref)
		}
		op.Parameters["sources"] = extra
	}
	return nil
}

func gatherSources(payload *models.SubmitPayload) []string {
	var out []string
	if payload.Source != "" {
		out = append(out, payload.Source)
	}
	for _, ref := range payload.Sources {
		if ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

// gatherOperations accepts the three intake shapes: an operation list, a
// single pre-resolved operation, or a free-text instruction with a guess.
func gatherOperations(payload *models.SubmitPayload) []models.OperationSpec {
	if len(payload.Operations) > 0 {
		return payload.Operations
	}
	if payload.Operation != nil {
		return []models.OperationSpec{*payload.Operation}
	}
	if payload.Guess != nil {
		return []models.OperationSpec{*payload.Guess}
	}
	return nil
}
