package interpreter

import (
	"testing"

	"github.com/waveq/waveq-engine/pkg/catalog"
	engerr "github.com/waveq/waveq-engine/pkg/errors"
	"github.com/waveq/waveq-engine/pkg/models"
)

func newInterpreter() *Interpreter {
	return New(catalog.New())
}

func op(kind models.OperationKind, params map[string]interface{}) models.OperationSpec {
	if params == nil {
		params = map[string]interface{}{}
	}
	return models.OperationSpec{Kind: kind, Parameters: params}
}

func kinds(ops []models.OperationSpec) []models.OperationKind {
	out := make([]models.OperationKind, len(ops))
	for i, o := range ops {
		out[i] = o.Kind
	}
	return out
}

func TestResolveCanonicalOrder(t *testing.T) {
	in := newInterpreter()

	tests := []struct {
		name  string
		input []models.OperationSpec
		want  []models.OperationKind
	}{
		{
			name: "normalize before trim is reordered",
			input: []models.OperationSpec{
				op(models.OpNormalize, nil),
				op(models.OpTrim, map[string]interface{}{"start_ms": 0, "end_ms": 5000}),
			},
			want: []models.OperationKind{models.OpTrim, models.OpNormalize},
		},
		{
			name: "convert_format moved last",
			input: []models.OperationSpec{
				op(models.OpConvertFormat, map[string]interface{}{"format": "mp3"}),
				op(models.OpFadeIn, nil),
				op(models.OpNormalize, nil),
			},
			want: []models.OperationKind{models.OpFadeIn, models.OpNormalize, models.OpConvertFormat},
		},
		{
			name: "enhancement order preserved within class",
			input: []models.OperationSpec{
				op(models.OpReverb, nil),
				op(models.OpNoiseReduction, nil),
				op(models.OpCompress, nil),
			},
			want: []models.OperationKind{models.OpReverb, models.OpNoiseReduction, models.OpCompress},
		},
		{
			name: "full chain",
			input: []models.OperationSpec{
				op(models.OpConvertFormat, map[string]interface{}{"format": "flac"}),
				op(models.OpNormalize, nil),
				op(models.OpSpeedChange, map[string]interface{}{"factor": 1.5}),
				op(models.OpTrim, map[string]interface{}{"start_ms": 0, "end_ms": 60000}),
				op(models.OpFadeOut, nil),
			},
			want: []models.OperationKind{
				models.OpTrim, models.OpSpeedChange, models.OpFadeOut,
				models.OpNormalize, models.OpConvertFormat,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := in.Resolve(&models.SubmitPayload{
				Source:     "in.wav",
				Operations: tt.input,
			})
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			got := kinds(resolved.Operations)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("position %d: got %s, want %s (full: %v)", i, got[i], tt.want[i], got)
				}
			}
		})
	}
}

func TestResolveValidation(t *testing.T) {
	in := newInterpreter()

	tests := []struct {
		name    string
		payload *models.SubmitPayload
	}{
		{
			name:    "no source",
			payload: &models.SubmitPayload{Operations: []models.OperationSpec{op(models.OpNormalize, nil)}},
		},
		{
			name:    "no operations",
			payload: &models.SubmitPayload{Source: "in.wav"},
		},
		{
			name: "priority out of range",
			payload: &models.SubmitPayload{
				Source:     "in.wav",
				Priority:   7,
				Operations: []models.OperationSpec{op(models.OpNormalize, nil)},
			},
		},
		{
			name: "missing required parameter",
			payload: &models.SubmitPayload{
				Source:     "in.wav",
				Operations: []models.OperationSpec{op(models.OpEqualize, nil)},
			},
		},
		{
			name: "merge without second source",
			payload: &models.SubmitPayload{
				Source:     "in.wav",
				Operations: []models.OperationSpec{op(models.OpMerge, nil)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := in.Resolve(tt.payload)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if engerr.CodeOf(err) != engerr.CodeValidation {
				t.Errorf("error code = %q, want %q", engerr.CodeOf(err), engerr.CodeValidation)
			}
		})
	}
}

func TestResolveReportsFailingOperationIndex(t *testing.T) {
	in := newInterpreter()
	_, err := in.Resolve(&models.SubmitPayload{
		Source: "in.wav",
		Operations: []models.OperationSpec{
			op(models.OpTrim, map[string]interface{}{"start_ms": 0, "end_ms": 5000}),
			op(models.OpSpeedChange, map[string]interface{}{"factor": 99}),
		},
	})
	ve, ok := engerr.As[*engerr.ValidationError](err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.OpIndex != 1 || ve.OpKind != models.OpSpeedChange || ve.Field != "factor" {
		t.Errorf("got index=%d kind=%s field=%s, want 1/speed_change/factor", ve.OpIndex, ve.OpKind, ve.Field)
	}
}

func TestResolveSingleOperationShape(t *testing.T) {
	in := newInterpreter()
	single := op(models.OpTrim, map[string]interface{}{"start_ms": "0", "end_ms": "5000"})
	resolved, err := in.Resolve(&models.SubmitPayload{Source: "in.wav", Operation: &single})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved.Operations) != 1 || resolved.Operations[0].Kind != models.OpTrim {
		t.Fatalf("unexpected operations: %v", resolved.Operations)
	}
	if resolved.Operations[0].Parameters["end_ms"] != 5000.0 {
		t.Errorf("numeric string not coerced: %v", resolved.Operations[0].Parameters["end_ms"])
	}
	if resolved.Priority != models.PriorityDefault {
		t.Errorf("priority = %d, want default %d", resolved.Priority, models.PriorityDefault)
	}
}

func TestResolveGuessIsValidatedLikeStructuredInput(t *testing.T) {
	in := newInterpreter()

	good := op(models.OpNormalize, map[string]interface{}{"target_db": -18})
	resolved, err := in.Resolve(&models.SubmitPayload{
		Source:      "in.wav",
		Instruction: "balance the audio levels",
		Guess:       &good,
	})
	if err != nil {
		t.Fatalf("Resolve with valid guess failed: %v", err)
	}
	if resolved.Instruction != "balance the audio levels" {
		t.Errorf("instruction not carried: %q", resolved.Instruction)
	}

	bad := op(models.OpNormalize, map[string]interface{}{"gain": 2.0})
	if _, err := in.Resolve(&models.SubmitPayload{
		Source:      "in.wav",
		Instruction: "make it twice as loud",
		Guess:       &bad,
	}); engerr.CodeOf(err) != engerr.CodeValidation {
		t.Errorf("invalid guess not rejected as validation error: %v", err)
	}
}

func TestResolveMergeInjectsRequestSources(t *testing.T) {
	in := newInterpreter()
	resolved, err := in.Resolve(&models.SubmitPayload{
		Sources:    []string{"a.wav", "b.wav", "c.wav"},
		Operations: []models.OperationSpec{op(models.OpMerge, nil)},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	refs, _ := resolved.Operations[0].Parameters["sources"].([]interface{})
	if len(refs) != 2 || refs[0] != "b.wav" || refs[1] != "c.wav" {
		t.Errorf("merge sources = %v, want [b.wav c.wav]", refs)
	}
}
