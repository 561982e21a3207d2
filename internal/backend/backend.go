// Package backend implements the DeploymentBackend ExecutorAgent calls
// into (spec §4.3): the thing that actually talks to a model-serving
// platform. DryRunBackend simulates the action table the way
// internal/coordination's ExecutionOrchestrator.executeStep simulates
// recommendation steps; HTTPBackend posts to a real endpoint the way
// internal/task's Router.sendTaskToAgent does.
package backend

import (
	"context"

	"modelops/orchestrator/internal/domain"
)

// Request is one TaskStep's action dispatched to a backend.
type Request struct {
	Action   string
	Artifact domain.DeploymentArtifact
	Input    map[string]any
}

// Response carries the backend's result fields back into the
// TaskStep's Output, plus idempotence detection for spec §4.3's
// "treat already-exists as success" rule.
type Response struct {
	Output        map[string]any
	AlreadyExists bool
}

// ClassifiedError lets a backend tell ExecutorAgent/MonitorAgent
// what kind of failure it hit without them needing to inspect
// provider-specific error strings (spec §7).
type ClassifiedError struct {
	Kind domain.ErrorKind
	Err  error
}

func (c *ClassifiedError) Error() string { return c.Err.Error() }
func (c *ClassifiedError) Unwrap() error { return c.Err }

// Backend is the contract ExecutorAgent calls through.
type Backend interface {
	Execute(ctx context.Context, req Request) (Response, error)
}

// New selects DryRunBackend or HTTPBackend per the EXECUTE_REAL flag
// (spec §6).
func New(executeReal bool, baseURL string) Backend {
	if !executeReal {
		return NewDryRun()
	}
	return NewHTTP(baseURL)
}
