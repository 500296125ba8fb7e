package audio

import (
	"context"
)

// Executor performs one operation kind's transformation on a clip. One
// implementation exists per kind, selected by table lookup, so adding an
// operation never grows a conditional chain in the pipeline.
//
// Execute receives parameters already normalized by the catalog (defaults
// filled, numbers coerced) and must honor ctx cancellation on long work.
type Executor interface {
	Kind() string
	Execute(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc struct {
	Name string
	Fn   func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error)
}

func (e ExecutorFunc) Kind() string { return e.Name }

func (e ExecutorFunc) Execute(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
	return e.Fn(ctx, in, params)
}

// SourceReader resolves an audio source reference into a decoded buffer.
// The blob store collaborator provides the production implementation.
type SourceReader interface {
	ReadSource(ctx context.Context, ref string) (*Buffer, error)
}

func num(params map[string]interface{}, key string) float64 {
	v, ok := params[key]
	if !ok {
		return 0
	}
	f, _ := v.(float64)
	return f
}

func str(params map[string]interface{}, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
