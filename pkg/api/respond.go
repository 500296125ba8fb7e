package api

import (
	"encoding/json"
	"net/http"

	engerr "github.com/waveq/waveq-engine/pkg/errors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	OpIndex *int   `json:"op_index,omitempty"`
	OpKind  string `json:"op_kind,omitempty"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError maps engine errors onto HTTP status codes: bad requests are the
// client's to fix (400), admission pressure asks them to back off (429),
// unknown ids are 404, and state-machine conflicts are 409.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{
		Code:    string(engerr.CodeOf(err)),
		Message: err.Error(),
	}

	status := http.StatusInternalServerError
	switch {
	case isValidation(err, &body):
		status = http.StatusBadRequest
	case isAdmission(err):
		status = http.StatusTooManyRequests
	case isNotFound(err):
		status = http.StatusNotFound
	case isConflict(err):
		status = http.StatusConflict
	}

	writeJSON(w, status, map[string]errorBody{"error": body})
}

func isValidation(err error, body *errorBody) bool {
	ve, ok := engerr.As[*engerr.ValidationError](err)
	if !ok {
		return false
	}
	idx := ve.OpIndex
	body.OpIndex = &idx
	body.OpKind = string(ve.OpKind)
	body.Field = ve.Field
	return true
}

func isAdmission(err error) bool {
	_, ok := engerr.As[*engerr.AdmissionError](err)
	return ok
}

func isNotFound(err error) bool {
	_, ok := engerr.As[*engerr.NotFoundError](err)
	return ok
}

func isConflict(err error) bool {
	_, ok := engerr.As[*engerr.IllegalTransitionError](err)
	return ok
}
