// Package ai provides the client for the AI-assistant collaborator.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tcmartin/sheetflow/pkg/logging"
	"github.com/tcmartin/sheetflow/pkg/utils"
)

// ErrAssistantTimeout is returned when the assistant does not produce a
// result within the wall-clock budget. It is a distinct failure kind and
// never reported as success with empty content.
var ErrAssistantTimeout = errors.New("ai: assistant query timed out")

// DefaultQueryTimeout bounds the polling loop wall clock
const DefaultQueryTimeout = 45 * time.Second

// DefaultPollInterval is the delay between result polls
const DefaultPollInterval = 2 * time.Second

// QueryRequest is a question for the assistant about tabular data
type QueryRequest struct {
	// Prompt is the user's question
	Prompt string `json:"prompt"`

	// Columns describes the data the question is about
	Columns []string `json:"columns,omitempty"`

	// SampleRows gives the assistant context, bounded by the caller
	SampleRows []map[string]interface{} `json:"sample_rows,omitempty"`
}

// QueryResponse is the assistant's answer
type QueryResponse struct {
	// Answer is the assistant's textual answer
	Answer string `json:"answer"`

	// Model identifies the model that produced the answer
	Model string `json:"model,omitempty"`
}

// Assistant answers bounded-time queries about tabular data
type Assistant interface {
	// Query submits a question and waits for the answer
	Query(ctx context.Context, req QueryRequest) (QueryResponse, error)
}

// ClientConfig contains assistant client settings
type ClientConfig struct {
	// Endpoint is the base URL of the assistant service
	Endpoint string `json:"endpoint"`

	// APIKey authenticates requests, if required
	APIKey string `json:"api_key,omitempty"`

	// PollInterval between result polls
	PollInterval time.Duration `json:"poll_interval,omitempty"`

	// QueryTimeout is the wall-clock budget for one query
	QueryTimeout time.Duration `json:"query_timeout,omitempty"`
}

// Client implements the Assistant interface against the HTTP assistant
// service. Submission returns a query ID which is then polled until the
// answer is ready or the wall clock runs out.
type Client struct {
	config ClientConfig
	http   *utils.HTTPClient
	logger logging.Logger
}

// NewClient creates an assistant client
func NewClient(config ClientConfig, logger logging.Logger) *Client {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = DefaultQueryTimeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Client{
		config: config,
		http:   utils.NewHTTPClient(),
		logger: logger,
	}
}

// Query submits a question and polls for the answer
func (c *Client) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	deadline := time.Now().Add(c.config.QueryTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	queryID, err := c.submit(ctx, req)
	if err != nil {
		return QueryResponse{}, err
	}

	for {
		response, done, err := c.poll(ctx, queryID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return QueryResponse{}, ErrAssistantTimeout
			}
			return QueryResponse{}, err
		}
		if done {
			return response, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return QueryResponse{}, ErrAssistantTimeout
			}
			return QueryResponse{}, ctx.Err()
		case <-time.After(c.config.PollInterval):
		}
	}
}

// submit posts the query and returns its ID. Transport errors and 5xx
// responses are retried with backoff; a 4xx rejection is terminal.
func (c *Client) submit(ctx context.Context, req QueryRequest) (string, error) {
	resp, err := c.doWithRetry(ctx, &utils.HTTPRequest{
		URL:     c.config.Endpoint + "/v1/queries",
		Method:  "POST",
		Headers: c.authHeaders(),
		Body:    req,
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit assistant query: %w", err)
	}
	if resp.StatusCode != 200 && resp.StatusCode != 201 && resp.StatusCode != 202 {
		return "", fmt.Errorf("assistant query rejected with status %d", resp.StatusCode)
	}

	body, ok := resp.Body.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected assistant response shape %T", resp.Body)
	}
	queryID, ok := body["id"].(string)
	if !ok || queryID == "" {
		return "", fmt.Errorf("assistant response missing query ID")
	}

	return queryID, nil
}

// poll fetches the query result; done=false means still working
func (c *Client) poll(ctx context.Context, queryID string) (QueryResponse, bool, error) {
	resp, err := c.doWithRetry(ctx, &utils.HTTPRequest{
		URL:     c.config.Endpoint + "/v1/queries/" + queryID,
		Method:  "GET",
		Headers: c.authHeaders(),
	})
	if err != nil {
		return QueryResponse{}, false, fmt.Errorf("failed to poll assistant query: %w", err)
	}
	if resp.StatusCode != 200 {
		return QueryResponse{}, false, fmt.Errorf("assistant poll failed with status %d", resp.StatusCode)
	}

	body, ok := resp.Body.(map[string]interface{})
	if !ok {
		return QueryResponse{}, false, fmt.Errorf("unexpected assistant response shape %T", resp.Body)
	}

	status, _ := body["status"].(string)
	switch status {
	case "pending", "processing":
		return QueryResponse{}, false, nil
	case "failed":
		message, _ := body["error"].(string)
		return QueryResponse{}, false, fmt.Errorf("assistant query failed: %s", message)
	case "completed":
		answer, _ := body["answer"].(string)
		model, _ := body["model"].(string)
		return QueryResponse{Answer: answer, Model: model}, true, nil
	default:
		return QueryResponse{}, false, fmt.Errorf("unknown assistant query status %q", status)
	}
}

// doWithRetry issues one HTTP call with bounded retries. Only transport
// errors and 5xx responses count as transient.
func (c *Client) doWithRetry(ctx context.Context, req *utils.HTTPRequest) (*utils.HTTPResponse, error) {
	var resp *utils.HTTPResponse
	err := utils.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var doErr error
		resp, doErr = c.http.Do(ctx, req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("assistant returned status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) authHeaders() map[string]string {
	if c.config.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.config.APIKey}
}
