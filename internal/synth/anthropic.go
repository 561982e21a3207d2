package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"modelops/orchestrator/internal/domain"
)

// AnthropicSynthesizer calls the Messages API with a tool definition
// shaped like the artifact schema and parses the resulting tool_use
// block, the way anthropicadapter.convertTools/convertResponse do in
// the agent-builder example.
type AnthropicSynthesizer struct {
	client  anthropic.Client
	modelID string
}

// NewAnthropic constructs a live Synthesizer backed by the Anthropic
// Messages API. ANTHROPIC_API_KEY must be set in the environment.
func NewAnthropic(modelID string) (*AnthropicSynthesizer, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("synth: ANTHROPIC_API_KEY is required for the anthropic provider")
	}
	if modelID == "" {
		modelID = "claude-3-5-sonnet-20241022"
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicSynthesizer{client: client, modelID: modelID}, nil
}

const synthesisTool = "emit_deployment_artifact"

// Synthesize implements Synthesizer.
func (a *AnthropicSynthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	prompt := buildSynthesisPrompt(req)

	toolSchema := anthropic.ToolInputSchemaParam{
		Properties: map[string]any{
			"model_name":          map[string]any{"type": "string"},
			"endpoint_name":       map[string]any{"type": "string"},
			"instance_type":       map[string]any{"type": "string"},
			"instance_count":      map[string]any{"type": "integer"},
			"max_payload_mb":      map[string]any{"type": "integer"},
			"autoscaling_min":     map[string]any{"type": "integer"},
			"autoscaling_max":     map[string]any{"type": "integer"},
			"budget_usd_per_hour": map[string]any{"type": "number"},
			"rollback_alarms":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"rationale":           map[string]any{"type": "string"},
		},
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.modelID),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)},
			},
		},
		Tools: []anthropic.ToolUnionParam{
			anthropic.ToolUnionParamOfTool(toolSchema, synthesisTool),
		},
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("synth: anthropic messages.new: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type != "tool_use" || block.Name != synthesisTool {
			continue
		}
		raw, err := block.Input.MarshalJSON()
		if err != nil {
			return Result{}, fmt.Errorf("synth: marshal tool_use input: %w", err)
		}
		return decodeArtifactResult(raw)
	}

	return Result{}, fmt.Errorf("synth: anthropic response contained no %s tool call", synthesisTool)
}

func buildSynthesisPrompt(req Request) string {
	evidence := ""
	for _, e := range req.Evidence {
		evidence += fmt.Sprintf("- %s: %s\n", e.Title, e.Snippet)
	}
	return fmt.Sprintf(
		"Intent: %s\nEnvironment: %s\nRelevant policy:\n%sEmit a deployment artifact satisfying these policies.",
		req.Intent, req.Env, evidence,
	)
}

func decodeArtifactResult(raw []byte) (Result, error) {
	decoded, err := validateArtifactJSON(raw)
	if err != nil {
		return Result{}, err
	}
	var artifact domain.DeploymentArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return Result{}, fmt.Errorf("synth: decode artifact: %w", err)
	}
	rationale, _ := decoded["rationale"].(string)
	return Result{Artifact: artifact, Rationale: rationale, Confidence: 0.85}, nil
}
