package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/waveq/waveq-engine/pkg/models"
)

func TestSubmitSendsClientID(t *testing.T) {
	var got models.SubmitPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/requests" || r.Method != http.MethodPost {
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Client-ID") != "studio-7" {
			t.Errorf("X-Client-ID = %q", r.Header.Get("X-Client-ID"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(models.EditRequest{ID: "REQ-000001", Status: models.StatusQueued})
	}))
	defer srv.Close()

	c := New(srv.URL, "studio-7")
	req, err := c.Submit(context.Background(), &models.SubmitPayload{
		Source: "in.wav",
		Operations: []models.OperationSpec{
			{Kind: models.OpNormalize, Parameters: map[string]interface{}{"target_db": -20.0}},
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req.ID != "REQ-000001" {
		t.Errorf("id = %q", req.ID)
	}
	if got.ClientID != "studio-7" {
		t.Errorf("payload client_id = %q, want filled from client", got.ClientID)
	}
}

func TestErrorEnvelopeDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]map[string]string{
			"error": {"code": "ADMISSION_ERROR", "message": "client at capacity"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "studio-7")
	_, err := c.Submit(context.Background(), &models.SubmitPayload{Source: "in.wav"})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err = %T %v, want *APIError", err, err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Code != "ADMISSION_ERROR" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestListBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "client_id=studio-7&status=queued" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"requests": []*models.EditRequest{{ID: "REQ-000001"}},
			"count":    1,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "studio-7")
	reqs, err := c.List(context.Background(), "studio-7", models.StatusQueued)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(reqs) != 1 || reqs[0].ID != "REQ-000001" {
		t.Errorf("reqs = %+v", reqs)
	}
}

func TestDeleteNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := New(srv.URL, "").Delete(context.Background(), "REQ-000001"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
