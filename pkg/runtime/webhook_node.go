package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/tcmartin/sheetflow/pkg/models"
	"github.com/tcmartin/sheetflow/pkg/utils"
)

// WebhookHandler posts the step's input data to an external HTTP endpoint
type WebhookHandler struct {
	// HTTP is the client used for delivery; a default client is used
	// when nil
	HTTP *utils.HTTPClient
}

// Execute delivers the payload with retries
func (h *WebhookHandler) Execute(ctx context.Context, step models.WorkflowStep, execCtx *ExecutionContext) (map[string]interface{}, error) {
	url, err := configString(execCtx.Node.Config, "url")
	if err != nil {
		return nil, err
	}
	method := configStringDefault(execCtx.Node.Config, "method", "POST")

	headers := map[string]string{}
	if configured, ok := execCtx.Node.Config["headers"].(map[string]interface{}); ok {
		for name, value := range configured {
			if s, ok := value.(string); ok {
				headers[name] = s
			}
		}
	}

	payload := map[string]interface{}{
		"workflow_id":  step.WorkflowID,
		"execution_id": step.ExecutionID,
		"node_id":      step.NodeID,
		"data":         execCtx.Input,
	}

	client := h.HTTP
	if client == nil {
		client = utils.NewHTTPClient()
	}

	var resp *utils.HTTPResponse
	err = utils.Retry(ctx, 3, time.Second, func() error {
		var doErr error
		resp, doErr = client.Do(ctx, &utils.HTTPRequest{
			URL:     url,
			Method:  method,
			Headers: headers,
			Body:    payload,
		})
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("webhook delivery failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("webhook endpoint rejected payload with status %d", resp.StatusCode)
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"url":         url,
	}, nil
}

// noopHandler passes its input through unchanged. It backs node types
// that only affect routing, like sheet selectors.
func noopHandler(ctx context.Context, step models.WorkflowStep, execCtx *ExecutionContext) (map[string]interface{}, error) {
	if execCtx.Input == nil {
		return map[string]interface{}{}, nil
	}
	return execCtx.Input, nil
}
