// Package flow parses workflow files: named, versionable edit chains that
// clients keep next to their audio instead of hand-building request JSON.
// Files are YAML; JSON works too since every JSON document is valid YAML.
package flow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/waveq/waveq-engine/pkg/models"
)

// Step is one operation in a workflow.
type Step struct {
	Name       string                 `yaml:"name"`
	Type       string                 `yaml:"type"`
	Parameters map[string]interface{} `yaml:"parameters"`
}

// Flow is a parsed workflow file.
type Flow struct {
	Name     string   `yaml:"workflow_name"`
	ClientID string   `yaml:"client_id"`
	Source   string   `yaml:"audio_source"`
	Sources  []string `yaml:"audio_sources"`
	Priority int      `yaml:"priority"`
	Steps    []Step   `yaml:"steps"`
}

// Parse reads a workflow document.
func Parse(data []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("workflow %q has no steps", f.Name)
	}
	for i, step := range f.Steps {
		if step.Type == "" {
			return nil, fmt.Errorf("workflow %q: step %d (%s) has no type", f.Name, i, step.Name)
		}
	}
	return &f, nil
}

// ParseFile reads a workflow from disk.
func ParseFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	return Parse(data)
}

// Payload converts the flow into a submission. Steps keep their listed
// order; canonical reordering happens at interpretation like any other
// submission.
func (f *Flow) Payload() *models.SubmitPayload {
	ops := make([]models.OperationSpec, len(f.Steps))
	for i, step := range f.Steps {
		params := make(map[string]interface{}, len(step.Parameters))
		for k, v := range step.Parameters {
			params[k] = v
		}
		ops[i] = models.OperationSpec{
			Kind:       models.OperationKind(step.Type),
			Parameters: params,
		}
	}
	return &models.SubmitPayload{
		ClientID:   f.ClientID,
		Source:     f.Source,
		Sources:    f.Sources,
		Operations: ops,
		Priority:   f.Priority,
	}
}
