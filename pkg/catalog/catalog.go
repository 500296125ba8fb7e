package catalog

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/waveq/waveq-engine/pkg/audio"
	engerr "github.com/waveq/waveq-engine/pkg/errors"
	"github.com/waveq/waveq-engine/pkg/models"
)

// ParamType describes the wire type of one operation parameter.
type ParamType string

const (
	TypeNumber ParamType = "number"
	TypeString ParamType = "string"
	TypeMap    ParamType = "map"
	TypeList   ParamType = "list"
)

// ParamSpec declares one parameter of an operation kind.
type ParamSpec struct {
	Name     string      `json:"name"`
	Type     ParamType   `json:"type"`
	Required bool        `json:"required"`
	Default  interface{} `json:"default,omitempty"`
	Min      *float64    `json:"min,omitempty"`
	Max      *float64    `json:"max,omitempty"`
	Enum     []string    `json:"enum,omitempty"`
}

// Entry is the catalog record for one operation kind.
type Entry struct {
	Kind        models.OperationKind `json:"kind"`
	Description string               `json:"description"`
	// OrderClass is the canonical precedence class used when a chain is
	// reordered: structural edits first, normalize second to last,
	// convert_format last.
	OrderClass int         `json:"order_class"`
	Params     []ParamSpec `json:"parameters"`

	executor audio.Executor
}

// RequiredParams lists the names of mandatory parameters.
func (e Entry) RequiredParams() []string {
	var out []string
	for _, p := range e.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// OptionalDefaults maps optional parameter names to their default values.
func (e Entry) OptionalDefaults() map[string]interface{} {
	out := make(map[string]interface{})
	for _, p := range e.Params {
		if !p.Required && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

// Catalog is the static registry of operation kinds, their parameter
// contracts, and their executor bindings. Lookup and validation are pure.
type Catalog struct {
	entries map[models.OperationKind]*Entry
}

// New builds the catalog with every built-in operation kind registered.
func New() *Catalog {
	c := &Catalog{entries: make(map[models.OperationKind]*Entry)}
	for _, e := range builtinEntries() {
		entry := e
		c.entries[entry.Kind] = &entry
	}
	return c
}

// Register adds or replaces a catalog entry.
func (c *Catalog) Register(e Entry) {
	entry := e
	c.entries[entry.Kind] = &entry
}

// Bind attaches the executor for a kind. Binding an unknown kind is a
// programming error.
func (c *Catalog) Bind(kind models.OperationKind, exec audio.Executor) error {
	entry, ok := c.entries[kind]
	if !ok {
		return fmt.Errorf("bind %s: unknown operation kind", kind)
	}
	entry.executor = exec
	return nil
}

// ExecutorFor returns the bound executor for a kind.
func (c *Catalog) ExecutorFor(kind models.OperationKind) (audio.Executor, error) {
	entry, ok := c.entries[kind]
	if !ok {
		return nil, fmt.Errorf("no catalog entry for %s", kind)
	}
	if entry.executor == nil {
		return nil, fmt.Errorf("no executor bound for %s", kind)
	}
	return entry.executor, nil
}

// Describe returns the catalog entry for a kind.
func (c *Catalog) Describe(kind models.OperationKind) (Entry, error) {
	entry, ok := c.entries[kind]
	if !ok {
		return Entry{}, engerr.NewValidationError(0, kind, "kind", "unknown operation kind")
	}
	return *entry, nil
}

// Kinds returns every registered kind in stable order.
func (c *Catalog) Kinds() []models.OperationKind {
	out := make([]models.OperationKind, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OrderClass returns the canonical precedence class for a kind; unknown
// kinds sort last.
func (c *Catalog) OrderClass(kind models.OperationKind) int {
	if entry, ok := c.entries[kind]; ok {
		return entry.OrderClass
	}
	return 99
}

// Validate checks a parameter set against the kind's contract without
// mutating it.
func (c *Catalog) Validate(kind models.OperationKind, params map[string]interface{}) error {
	_, err := c.Normalize(kind, params)
	return err
}

// Normalize validates and canonicalizes a parameter set: numeric strings are
// parsed, defaults fill missing optionals, and unknown parameters are
// rejected (fail closed). The input map is not modified.
func (c *Catalog) Normalize(kind models.OperationKind, params map[string]interface{}) (map[string]interface{}, error) {
	entry, ok := c.entries[kind]
	if !ok {
		return nil, engerr.NewValidationError(0, kind, "kind", "unknown operation kind")
	}

	specs := make(map[string]ParamSpec, len(entry.Params))
	for _, p := range entry.Params {
		specs[p.Name] = p
	}

	out := make(map[string]interface{}, len(entry.Params))
	for name, raw := range params {
		spec, known := specs[name]
		if !known {
			return nil, engerr.NewValidationError(0, kind, name, "unknown parameter")
		}
		value, err := coerce(kind, spec, raw)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}

	for _, spec := range entry.Params {
		if _, present := out[spec.Name]; present {
			continue
		}
		if spec.Required {
			return nil, engerr.NewValidationError(0, kind, spec.Name, "required parameter missing")
		}
		if spec.Default != nil {
			out[spec.Name] = spec.Default
		}
	}

	if err := crossCheck(kind, out); err != nil {
		return nil, err
	}
	return out, nil
}

// coerce converts one raw value to the spec's canonical Go type and checks
// its range or enum.
func coerce(kind models.OperationKind, spec ParamSpec, raw interface{}) (interface{}, error) {
	switch spec.Type {
	case TypeNumber:
		f, ok := toNumber(raw)
		if !ok {
			return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("expected a number, got %T", raw))
		}
		if spec.Min != nil && f < *spec.Min {
			return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("%v below minimum %v", f, *spec.Min))
		}
		if spec.Max != nil && f > *spec.Max {
			return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("%v above maximum %v", f, *spec.Max))
		}
		return f, nil

	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("expected a string, got %T", raw))
		}
		if len(spec.Enum) > 0 {
			for _, allowed := range spec.Enum {
				if s == allowed {
					return s, nil
				}
			}
			return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("%q not one of %v", s, spec.Enum))
		}
		return s, nil

	case TypeMap:
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("expected a mapping, got %T", raw))
		}
		if len(m) == 0 {
			return nil, engerr.NewValidationError(0, kind, spec.Name, "mapping needs at least one entry")
		}
		out := make(map[string]interface{}, len(m))
		for key, v := range m {
			f, ok := toNumber(v)
			if !ok {
				return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("band %q: expected a number, got %T", key, v))
			}
			if spec.Min != nil && f < *spec.Min {
				return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("band %q: %v below minimum %v", key, f, *spec.Min))
			}
			if spec.Max != nil && f > *spec.Max {
				return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("band %q: %v above maximum %v", key, f, *spec.Max))
			}
			if _, err := strconv.ParseFloat(key, 64); err != nil {
				return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("band %q: frequency is not numeric", key))
			}
			out[key] = f
		}
		return out, nil

	case TypeList:
		switch v := raw.(type) {
		case []string:
			out := make([]interface{}, len(v))
			for i, s := range v {
				out[i] = s
			}
			return out, nil
		case []interface{}:
			for i, item := range v {
				if _, ok := item.(string); !ok {
					return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("element %d: expected a string, got %T", i, item))
				}
			}
			return v, nil
		case string:
			return []interface{}{v}, nil
		default:
			return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("expected a list of source refs, got %T", raw))
		}

	default:
		return nil, engerr.NewValidationError(0, kind, spec.Name, fmt.Sprintf("unsupported parameter type %s", spec.Type))
	}
}

// crossCheck applies constraints that span multiple parameters.
func crossCheck(kind models.OperationKind, params map[string]interface{}) error {
	if kind != models.OpTrim {
		return nil
	}
	start, _ := params["start_ms"].(float64)
	end, _ := params["end_ms"].(float64)
	if start >= end {
		return engerr.NewValidationError(0, kind, "end_ms", fmt.Sprintf("end_ms %v must be greater than start_ms %v", end, start))
	}
	return nil
}

// toNumber accepts native numbers and numeric strings.
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func ptr(f float64) *float64 { return &f }
