package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/machinat/sociably-sub013/internal/domain"
)

// ErrBadEnvelope is returned when a batch response cannot be decoded.
var ErrBadEnvelope = errors.New("messenger: undecodable batch response")

// APIError is an error reported by the platform, either for a whole batch or
// for one item of it.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("messenger: %s (status %d, code %d): %s", e.Type, e.Status, e.Code, e.Message)
}

// batchItem is one request of a batch call.
type batchItem struct {
	Method      string `json:"method"`
	RelativeURL string `json:"relative_url"`
	Body        string `json:"body,omitempty"`
}

type batchCall struct {
	AccessToken string      `json:"access_token"`
	Batch       []batchItem `json:"batch"`
}

// batchResponse is one item of the response array. The platform answers
// null for items it did not run.
type batchResponse struct {
	Code int    `json:"code"`
	Body string `json:"body"`
}

// Client sends physical calls to a Graph-style batch endpoint. It
// implements domain.Executor.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	logger   *slog.Logger
}

// Ensure Client satisfies the interface
var _ domain.Executor = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient returns a Client posting batches to endpoint with token.
func NewClient(endpoint, token string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/") + "/",
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute sends reqs as one batch. Items the platform rejects come back as
// failed results; an error is returned only when the batch as a whole
// failed.
func (c *Client) Execute(ctx context.Context, reqs []domain.Request) ([]domain.JobResult, error) {
	call := batchCall{
		AccessToken: c.token,
		Batch:       make([]batchItem, len(reqs)),
	}
	for i, r := range reqs {
		call.Batch[i] = batchItem{
			Method:      r.Method,
			RelativeURL: r.RelativeURL,
			Body:        string(r.Body),
		}
	}

	payload, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("messenger: marshal batch: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("messenger: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("messenger: batch request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("messenger: read batch response: %w", err)
	}
	c.logger.Debug("Batch sent", "count", len(reqs), "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var items []*batchResponse
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if len(items) != len(reqs) {
		return nil, fmt.Errorf("%w: %d items for %d requests", ErrBadEnvelope, len(items), len(reqs))
	}

	results := make([]domain.JobResult, len(items))
	for i, item := range items {
		results[i] = itemResult(item)
	}
	return results, nil
}

func itemResult(item *batchResponse) domain.JobResult {
	if item == nil {
		return domain.Failure[json.RawMessage](&APIError{Type: "NotExecuted", Message: "request was not executed"})
	}
	if item.Code >= 300 {
		return domain.Failure[json.RawMessage](parseAPIError(item.Code, []byte(item.Body)))
	}

	if json.Valid([]byte(item.Body)) {
		return domain.Success(json.RawMessage(item.Body))
	}
	quoted, _ := json.Marshal(item.Body)
	return domain.Success(json.RawMessage(quoted))
}

// parseAPIError reads a {"error":{...}} body, falling back to the raw text.
func parseAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		envelope.Error.Status = status
		return envelope.Error
	}
	return &APIError{
		Status:  status,
		Type:    http.StatusText(status),
		Message: strings.TrimSpace(string(body)),
	}
}
