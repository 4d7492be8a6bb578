// Package remote implements the HTTP client for the sync API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lewisedginton/nutrisync/internal/model"
	"github.com/lewisedginton/nutrisync/pkg/logger"
)

// ErrUnauthorized is returned when the remote rejects the bearer token. The
// engine surfaces it distinctly so the caller can prompt for re-login.
var ErrUnauthorized = errors.New("remote rejected credentials")

// APIError is a machine-readable error body returned by the remote on
// validation failures.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote error %s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// SyncRecord is one record in a GET /sync/<collection> response.
type SyncRecord struct {
	Key          string          `json:"key"`
	OwnerID      string          `json:"ownerId"`
	Data         json.RawMessage `json:"data"`
	LastModified model.Timestamp `json:"lastModified"`
}

// PushItem is one element of a POST /sync/<collection> body. DataPatch holds
// only the fields the caller changed; BasedOn carries the lastModified the
// writer observed before editing, for the server's staleness check.
type PushItem struct {
	Key          string          `json:"key"`
	DataPatch    json.RawMessage `json:"dataPatch"`
	LastModified model.Timestamp `json:"lastModified"`
	BasedOn      model.Timestamp `json:"basedOn"`
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the remote sync API over HTTP with bearer authentication.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     logger.Logger
}

func NewClient(cfg Config, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Authenticated reports whether the client has credentials at all. Anonymous
// use is legitimate; sync simply stays local.
func (c *Client) Authenticated() bool {
	return c.token != ""
}

func (c *Client) newRequest(ctx context.Context, method, collection string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/sync/"+collection, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if correlationID := logger.GetCorrelationIDFromContext(ctx); correlationID != "" {
		req.Header.Set(logger.CorrelationIDHeader, correlationID)
	}
	return req, nil
}

func decodeError(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		apiErr.Status = resp.StatusCode
		return &apiErr
	}
	return fmt.Errorf("remote returned HTTP %d: %s", resp.StatusCode, string(body))
}

// List fetches every record of a collection belonging to the caller.
func (c *Client) List(ctx context.Context, collection string) ([]SyncRecord, error) {
	req, err := c.newRequest(ctx, http.MethodGet, collection, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", collection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var records []SyncRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", collection, err)
	}
	return records, nil
}

// PushPatches sends a batch of patches for a collection.
func (c *Client) PushPatches(ctx context.Context, collection string, items []PushItem) error {
	body, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal push body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, collection, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push to %s: %w", collection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}
