package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"modelops/orchestrator/internal/domain"
)

// HTTPBackend posts each action to a deployment service, the same
// marshal/POST/decode shape as internal/task's Router.sendTaskToAgent,
// generalized from a fixed agent registry lookup to a single
// configured base URL.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTP constructs an HTTPBackend pointed at baseURL.
func NewHTTP(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type httpActionRequest struct {
	Action   string                    `json:"action"`
	Artifact domain.DeploymentArtifact `json:"artifact"`
	Input    map[string]any            `json:"input,omitempty"`
}

type httpActionResponse struct {
	Output        map[string]any `json:"output"`
	AlreadyExists bool           `json:"already_exists"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Execute implements Backend.
func (h *HTTPBackend) Execute(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(httpActionRequest{Action: req.Action, Artifact: req.Artifact, Input: req.Input})
	if err != nil {
		return Response{}, fmt.Errorf("backend: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/actions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("backend: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Response{}, &ClassifiedError{Kind: domain.ErrorTransient, Err: fmt.Errorf("backend: request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return Response{}, &ClassifiedError{
			Kind: domain.ErrorTransient,
			Err:  fmt.Errorf("backend: server error %d: %s", resp.StatusCode, string(bodyBytes)),
		}
	}
	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return Response{}, &ClassifiedError{
			Kind: domain.ErrorUnrecoverable,
			Err:  fmt.Errorf("backend: client error %d: %s", resp.StatusCode, string(bodyBytes)),
		}
	}

	var actionResp httpActionResponse
	if err := json.NewDecoder(resp.Body).Decode(&actionResp); err != nil {
		return Response{}, fmt.Errorf("backend: decode response: %w", err)
	}
	if actionResp.Error != "" {
		return Response{}, &ClassifiedError{
			Kind: domain.ErrorKind(actionResp.ErrorKind),
			Err:  fmt.Errorf("backend: %s", actionResp.Error),
		}
	}

	return Response{Output: actionResp.Output, AlreadyExists: actionResp.AlreadyExists}, nil
}
