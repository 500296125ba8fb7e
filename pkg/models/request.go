package models

import (
	"time"
)

// OperationKind identifies one primitive audio edit.
type OperationKind string

const (
	OpTrim           OperationKind = "trim"
	OpSplit          OperationKind = "split"
	OpMerge          OperationKind = "merge"
	OpSpeedChange    OperationKind = "speed_change"
	OpPitchChange    OperationKind = "pitch_change"
	OpNoiseReduction OperationKind = "noise_reduction"
	OpEqualize       OperationKind = "equalize"
	OpCompress       OperationKind = "compress"
	OpReverb         OperationKind = "reverb"
	OpFadeIn         OperationKind = "fade_in"
	OpFadeOut        OperationKind = "fade_out"
	OpNormalize      OperationKind = "normalize"
	OpConvertFormat  OperationKind = "convert_format"
)

// OperationSpec is one validated editing step in a request's chain.
type OperationSpec struct {
	Kind       OperationKind          `json:"kind"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Priority is the admission tier: 1 is dispatched first, 5 last.
type Priority int

const (
	PriorityHighest Priority = 1
	PriorityDefault Priority = 3
	PriorityLowest  Priority = 5
)

// Valid reports whether p is inside the 1..5 tier range.
func (p Priority) Valid() bool {
	return p >= PriorityHighest && p <= PriorityLowest
}

// RequestStatus represents the lifecycle state of an edit request.
type RequestStatus string

const (
	StatusQueued     RequestStatus = "queued"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusError      RequestStatus = "error"
	StatusCancelled  RequestStatus = "cancelled"
)

// RequestError is the structured terminal error carried by the error state.
// OpIndex and OpKind locate the failing step in the operation chain.
type RequestError struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	OpIndex int           `json:"op_index"`
	OpKind  OperationKind `json:"op_kind,omitempty"`
}

// StepProgress is the in-memory current-step marker updated between
// operations. It is not a state-machine transition.
type StepProgress struct {
	Index     int           `json:"index"`
	Kind      OperationKind `json:"kind"`
	Total     int           `json:"total"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StateTransition records one status change with its trigger.
type StateTransition struct {
	From      RequestStatus `json:"from"`
	To        RequestStatus `json:"to"`
	Timestamp time.Time     `json:"timestamp"`
	Reason    string        `json:"reason,omitempty"`
}

// EditRequest is one client-submitted audio editing job.
//
// ResultRef and Error are mutually exclusive: ResultRef is set only on
// completed, Error only on error, and both stay empty while the request
// is non-terminal.
type EditRequest struct {
	ID           string            `json:"id"`
	ClientID     string            `json:"client_id"`
	Sources      []string          `json:"audio_sources"`
	Instruction  string            `json:"instruction,omitempty"`
	Operations   []OperationSpec   `json:"operations"`
	Priority     Priority          `json:"priority"`
	Status       RequestStatus     `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	CurrentStep  *StepProgress     `json:"current_step,omitempty"`
	ResultRef    string            `json:"result_ref,omitempty"`
	Error        *RequestError     `json:"error,omitempty"`
	ProcessingMS float64           `json:"processing_ms,omitempty"`
	Transitions  []StateTransition `json:"state_transitions,omitempty"`
}

// Clone returns a deep copy so store snapshots cannot be mutated by callers.
func (r *EditRequest) Clone() *EditRequest {
	cp := *r
	cp.Sources = append([]string(nil), r.Sources...)
	cp.Operations = make([]OperationSpec, len(r.Operations))
	for i, op := range r.Operations {
		cp.Operations[i] = OperationSpec{Kind: op.Kind, Parameters: cloneParams(op.Parameters)}
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	if r.CurrentStep != nil {
		s := *r.CurrentStep
		cp.CurrentStep = &s
	}
	if r.Error != nil {
		e := *r.Error
		cp.Error = &e
	}
	cp.Transitions = append([]StateTransition(nil), r.Transitions...)
	return &cp
}

func cloneParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(params))
	for k, v := range params {
		if nested, ok := v.(map[string]interface{}); ok {
			inner := make(map[string]interface{}, len(nested))
			for nk, nv := range nested {
				inner[nk] = nv
			}
			cp[k] = inner
			continue
		}
		cp[k] = v
	}
	return cp
}

// SubmitPayload is the intake shape accepted on submission. Clients may send
// a full operation list, a single pre-resolved operation, or free text plus
// an upstream best-effort guess.
type SubmitPayload struct {
	ID          string          `json:"id,omitempty"`
	ClientID    string          `json:"client_id,omitempty"`
	Source      string          `json:"audio_source,omitempty"`
	Sources     []string        `json:"audio_sources,omitempty"`
	Operations  []OperationSpec `json:"operations,omitempty"`
	Operation   *OperationSpec  `json:"operation,omitempty"`
	Instruction string          `json:"instruction,omitempty"`
	Guess       *OperationSpec  `json:"guess,omitempty"`
	Priority    int             `json:"priority,omitempty"`
}

// OperationResult records one executed step for diagnostics. It lives only
// for the duration of request execution.
type OperationResult struct {
	Index    int
	Kind     OperationKind
	Duration time.Duration
	Attempts int
}
