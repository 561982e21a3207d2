// Package executor implements ExecutorAgent (spec §4.3): it dispatches
// a single TaskStep's action to the right collaborator (Guardrails,
// Retriever, or DeploymentBackend) and reports a structured
// StepOutcome, the way internal/coordination's ExecutionOrchestrator
// dispatches recommendation steps in the teacher repo.
package executor

import (
	"context"
	"errors"
	"strings"

	"modelops/orchestrator/internal/backend"
	"modelops/orchestrator/internal/domain"
	"modelops/orchestrator/internal/guardrails"
	"modelops/orchestrator/internal/retrieval"
)

// ExecutorAgent is the contract described by spec §4.3.
type ExecutorAgent struct {
	backend       backend.Backend
	guardrails    *guardrails.Guardrails
	retriever     retrieval.Retriever
	topKIterative int
}

// New constructs an ExecutorAgent.
func New(be backend.Backend, gr *guardrails.Guardrails, retriever retrieval.Retriever, topKIterative int) *ExecutorAgent {
	return &ExecutorAgent{backend: be, guardrails: gr, retriever: retriever, topKIterative: topKIterative}
}

// Execute dispatches step.Action against plan's artifact/constraints.
// Business-logic failures are carried in the returned StepOutcome, not
// the error return (spec §7: step errors never propagate past the
// Orchestrator); the error return is reserved for context cancellation.
func (e *ExecutorAgent) Execute(ctx context.Context, step domain.TaskStep, plan *domain.DeploymentPlan) (domain.StepOutcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.StepOutcome{}, err
	}

	switch step.Action {
	case "retrieve_policies":
		return e.retrievePolicies(ctx, step, plan)
	case "generate_config":
		// The artifact was already produced by PlannerAgent.Plan; this
		// step exists for audit visibility of the config the rest of
		// the plan executes against.
		return domain.StepOutcome{Success: true, Output: map[string]any{"artifact": plan.Artifact}}, nil
	case "validate_plan":
		return e.validatePlan(plan)
	case "create_model", "create_endpoint_config", "create_endpoint", "configure_monitoring", "verify_deployment":
		return e.callBackend(ctx, step, plan)
	default:
		return domain.StepOutcome{
			Success:   false,
			Error:     "unknown action: " + step.Action,
			ErrorKind: domain.ErrorUnrecoverable,
		}, nil
	}
}

// DeleteEndpoint is used only by a hard Delete (spec §7): a best-effort
// call against the backend outside the normal step template.
func (e *ExecutorAgent) DeleteEndpoint(ctx context.Context, artifact domain.DeploymentArtifact) error {
	_, err := e.backend.Execute(ctx, backend.Request{Action: "delete_endpoint", Artifact: artifact})
	return err
}

func (e *ExecutorAgent) retrievePolicies(ctx context.Context, step domain.TaskStep, plan *domain.DeploymentPlan) (domain.StepOutcome, error) {
	query := plan.Intent
	if q, ok := step.Input["context_query"].(string); ok && q != "" {
		query = q
	}
	ev, err := e.retriever.Retrieve(ctx, query, e.topKIterative)
	if err != nil {
		// Spec §4.1: retrieval failures never fail the plan, only warn.
		return domain.StepOutcome{Success: true, Output: map[string]any{"warning": err.Error()}}, nil
	}
	return domain.StepOutcome{Success: true, Output: map[string]any{"evidence": ev}}, nil
}

func (e *ExecutorAgent) validatePlan(plan *domain.DeploymentPlan) (domain.StepOutcome, error) {
	result := e.guardrails.Validate(plan.Artifact, plan.Env, plan.Constraints)
	if !result.OK {
		return domain.StepOutcome{
			Success:   false,
			Error:     strings.Join(result.Errors, "; "),
			ErrorKind: domain.ErrorSemantic,
			Output:    map[string]any{"warnings": result.Warnings},
		}, nil
	}
	return domain.StepOutcome{Success: true, Output: map[string]any{
		"warnings":             result.Warnings,
		"estimated_cost_usd_h": result.EstimatedCostUSDPerHour,
	}}, nil
}

func (e *ExecutorAgent) callBackend(ctx context.Context, step domain.TaskStep, plan *domain.DeploymentPlan) (domain.StepOutcome, error) {
	input := map[string]any{}
	for k, v := range step.Input {
		input[k] = v
	}
	input["retry_count"] = float64(step.RetryCount)

	resp, err := e.backend.Execute(ctx, backend.Request{Action: step.Action, Artifact: plan.Artifact, Input: input})
	if err != nil {
		var ce *backend.ClassifiedError
		kind := domain.ErrorTransient
		if errors.As(err, &ce) {
			kind = ce.Kind
		}
		return domain.StepOutcome{Success: false, Error: err.Error(), ErrorKind: kind}, nil
	}

	if resp.AlreadyExists {
		resp.Output = mergeAlreadyExists(resp.Output)
	}

	if step.Action == "verify_deployment" {
		if status, _ := resp.Output["status"].(string); status != "InService" {
			return domain.StepOutcome{
				Success: false, Output: resp.Output,
				Error: "endpoint not yet in service: " + status, ErrorKind: domain.ErrorTransient,
			}, nil
		}
	}

	return domain.StepOutcome{Success: true, Output: resp.Output}, nil
}

func mergeAlreadyExists(out map[string]any) map[string]any {
	if out == nil {
		out = map[string]any{}
	}
	out["already_exists"] = true
	return out
}
