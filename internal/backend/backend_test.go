package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelops/orchestrator/internal/backend"
	"modelops/orchestrator/internal/domain"
)

func TestDryRunCreateModelSucceeds(t *testing.T) {
	b := backend.NewDryRun()
	resp, err := b.Execute(context.Background(), backend.Request{
		Action:   "create_model",
		Artifact: domain.DeploymentArtifact{ModelName: "llama-3-1-8b"},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Output["model_arn"], "llama-3-1-8b")
}

func TestDryRunCreateEndpointFailsFirstAttemptForGPU(t *testing.T) {
	b := backend.NewDryRun()
	art := domain.DeploymentArtifact{EndpointName: "chat", InstanceType: "ml.g5.xlarge"}

	_, err := b.Execute(context.Background(), backend.Request{
		Action: "create_endpoint", Artifact: art, Input: map[string]any{"retry_count": float64(0)},
	})
	require.Error(t, err)
	var classified *backend.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, domain.ErrorTransient, classified.Kind)

	resp, err := b.Execute(context.Background(), backend.Request{
		Action: "create_endpoint", Artifact: art, Input: map[string]any{"retry_count": float64(1)},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Output["endpoint_arn"], "chat")
}

func TestDryRunUnknownActionIsUnrecoverable(t *testing.T) {
	b := backend.NewDryRun()
	_, err := b.Execute(context.Background(), backend.Request{Action: "launch_rocket"})
	require.Error(t, err)
	var classified *backend.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, domain.ErrorUnrecoverable, classified.Kind)
}

func TestHTTPBackendPostsAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action string `json:"action"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "create_model", req.Action)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{"model_arn": "arn:real:model/x"},
		})
	}))
	defer srv.Close()

	b := backend.NewHTTP(srv.URL)
	resp, err := b.Execute(context.Background(), backend.Request{Action: "create_model"})
	require.NoError(t, err)
	assert.Equal(t, "arn:real:model/x", resp.Output["model_arn"])
}

func TestHTTPBackendClassifiesServerErrorsAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	b := backend.NewHTTP(srv.URL)
	_, err := b.Execute(context.Background(), backend.Request{Action: "create_model"})
	require.Error(t, err)
	var classified *backend.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, domain.ErrorTransient, classified.Kind)
}
