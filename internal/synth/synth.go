// Package synth implements the Synthesizer of spec §4.2/§4.6: given an
// intent, a target environment, and retrieved policy evidence, produce
// a DeploymentArtifact. The live adapters validate the model's JSON
// against a JSON Schema before Guardrails ever sees it, the way
// goa-ai's model adapters sit in front of tool-call validation; the
// offline adapter builds the struct directly and is not
// schema-validated.
package synth

import (
	"context"

	"modelops/orchestrator/internal/domain"
)

// Request bundles everything a Synthesizer needs to produce an artifact.
type Request struct {
	Intent      string
	Env         domain.Environment
	Evidence    []domain.Evidence
	Constraints domain.Constraints
}

// Result is the synthesized artifact plus the reasoning trail the
// PlannerAgent folds into its ReasoningChain.
type Result struct {
	Artifact   domain.DeploymentArtifact
	Rationale  string
	Confidence float64
}

// Synthesizer is the contract consumed by PlannerAgent (spec §4.2).
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
}

// New picks the configured adapter: offline by default, live providers
// only when SYNTHESIZE_LIVE is set, matching spec §6's config surface.
func New(live bool, provider string, modelID string) (Synthesizer, error) {
	if !live {
		return NewOffline(), nil
	}
	switch provider {
	case "anthropic":
		return NewAnthropic(modelID)
	case "bedrock":
		return NewBedrock(modelID)
	default:
		return NewOffline(), nil
	}
}
