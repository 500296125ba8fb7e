package models

import "testing"

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    RequestStatus
		to      RequestStatus
		wantErr bool
	}{
		{"queued to processing", StatusQueued, StatusProcessing, false},
		{"queued to cancelled", StatusQueued, StatusCancelled, false},
		{"processing to completed", StatusProcessing, StatusCompleted, false},
		{"processing to error", StatusProcessing, StatusError, false},
		{"processing to cancelled", StatusProcessing, StatusCancelled, false},
		{"queued to completed skips processing", StatusQueued, StatusCompleted, true},
		{"queued to error skips processing", StatusQueued, StatusError, true},
		{"completed is terminal", StatusCompleted, StatusProcessing, true},
		{"error is terminal", StatusError, StatusQueued, true},
		{"cancelled is terminal", StatusCancelled, StatusProcessing, true},
		{"cancelled cannot complete", StatusCancelled, StatusCompleted, true},
		{"unknown source", RequestStatus("bogus"), StatusQueued, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []RequestStatus{StatusCompleted, StatusError, StatusCancelled}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
	for _, s := range []RequestStatus{StatusQueued, StatusProcessing} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}

func TestIsActive(t *testing.T) {
	for _, s := range []RequestStatus{StatusQueued, StatusProcessing} {
		if !IsActive(s) {
			t.Errorf("IsActive(%s) = false, want true", s)
		}
	}
	for _, s := range []RequestStatus{StatusCompleted, StatusError, StatusCancelled} {
		if IsActive(s) {
			t.Errorf("IsActive(%s) = true, want false", s)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	req := &EditRequest{
		ID:      "REQ-000001",
		Sources: []string{"a.wav"},
		Operations: []OperationSpec{
			{Kind: OpEqualize, Parameters: map[string]interface{}{
				"bands": map[string]interface{}{"100": -2.0},
			}},
		},
		Status: StatusQueued,
	}

	cp := req.Clone()
	cp.Sources[0] = "b.wav"
	cp.Operations[0].Parameters["bands"].(map[string]interface{})["100"] = 6.0

	if req.Sources[0] != "a.wav" {
		t.Errorf("clone shares sources slice")
	}
	if got := req.Operations[0].Parameters["bands"].(map[string]interface{})["100"]; got != -2.0 {
		t.Errorf("clone shares nested parameters: got %v", got)
	}
}
