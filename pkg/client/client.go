// Package client is the Go SDK for the engine's HTTP API. The CLI is built
// on it; other Go programs can embed it directly.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/waveq/waveq-engine/pkg/models"
)

// Client talks to one engine daemon.
type Client struct {
	baseURL    string
	clientID   string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for the daemon at baseURL. clientID is sent as
// X-Client-ID on every call and doubles as the submission's client id when
// the payload leaves it empty.
func New(baseURL, clientID string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithAPIKey attaches a bearer key to every call. Needed when the daemon
// runs with auth enabled.
func (c *Client) WithAPIKey(key string) *Client {
	c.apiKey = key
	return c
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Submit sends an edit request.
func (c *Client) Submit(ctx context.Context, payload *models.SubmitPayload) (*models.EditRequest, error) {
	if payload.ClientID == "" {
		payload.ClientID = c.clientID
	}
	var req models.EditRequest
	if err := c.do(ctx, http.MethodPost, "/api/requests", payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Get fetches one request by id.
func (c *Client) Get(ctx context.Context, id string) (*models.EditRequest, error) {
	var req models.EditRequest
	if err := c.do(ctx, http.MethodGet, "/api/requests/"+id, nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// List fetches requests, optionally filtered by client id and status.
func (c *Client) List(ctx context.Context, clientID string, status models.RequestStatus) ([]*models.EditRequest, error) {
	path := "/api/requests"
	query := make([]string, 0, 2)
	if clientID != "" {
		query = append(query, "client_id="+clientID)
	}
	if status != "" {
		query = append(query, "status="+string(status))
	}
	if len(query) > 0 {
		path += "?" + strings.Join(query, "&")
	}

	var body struct {
		Requests []*models.EditRequest `json:"requests"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Requests, nil
}

// Cancel requests cancellation. A terminal request comes back unchanged.
func (c *Client) Cancel(ctx context.Context, id string) (*models.EditRequest, error) {
	var req models.EditRequest
	if err := c.do(ctx, http.MethodPost, "/api/requests/"+id+"/cancel", nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Delete removes a terminal request and its artifacts.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/requests/"+id, nil, nil)
}

// Operation describes one catalog entry as served by the API.
type Operation struct {
	Kind        string                 `json:"kind"`
	Description string                 `json:"description"`
	Required    []string               `json:"required_params"`
	Defaults    map[string]interface{} `json:"optional_defaults"`
}

// Operations fetches the operation catalog.
func (c *Client) Operations(ctx context.Context) ([]Operation, error) {
	var body struct {
		Operations []Operation `json:"operations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/operations", nil, &body); err != nil {
		return nil, err
	}
	return body.Operations, nil
}

// QueueStats fetches dispatch queue depths.
func (c *Client) QueueStats(ctx context.Context) (map[string]int, int, error) {
	var body struct {
		Depth map[string]int `json:"depth_by_priority"`
		Total int            `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/queue", nil, &body); err != nil {
		return nil, 0, err
	}
	return body.Depth, body.Total, nil
}

// Metrics fetches the raw Prometheus exposition text.
func (c *Client) Metrics(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/metrics", nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch metrics: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
