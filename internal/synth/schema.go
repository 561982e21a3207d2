package synth

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// artifactSchemaJSON mirrors the structural half of Guardrails' rule
// table (spec §4.6): it catches malformed synthesizer output before
// the semantic checks run. Guardrails still owns the authoritative,
// environment-aware policy decisions.
const artifactSchemaJSON = `{
	"type": "object",
	"required": ["model_name", "endpoint_name", "instance_type", "instance_count", "max_payload_mb", "autoscaling_min", "autoscaling_max", "budget_usd_per_hour"],
	"properties": {
		"model_name": {"type": "string", "minLength": 1},
		"endpoint_name": {"type": "string", "minLength": 1},
		"instance_type": {"type": "string", "minLength": 1},
		"instance_count": {"type": "integer", "minimum": 1},
		"max_payload_mb": {"type": "integer", "minimum": 1},
		"autoscaling_min": {"type": "integer", "minimum": 0},
		"autoscaling_max": {"type": "integer", "minimum": 0},
		"budget_usd_per_hour": {"type": "number", "minimum": 0},
		"rollback_alarms": {"type": "array", "items": {"type": "string"}}
	}
}`

var artifactSchema *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal([]byte(artifactSchemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("synth: invalid embedded schema: %v", err))
	}
	if err := c.AddResource("artifact.json", doc); err != nil {
		panic(fmt.Sprintf("synth: add schema resource: %v", err))
	}
	schema, err := c.Compile("artifact.json")
	if err != nil {
		panic(fmt.Sprintf("synth: compile schema: %v", err))
	}
	artifactSchema = schema
}

// validateArtifactJSON runs a synthesized artifact (as raw JSON bytes)
// through the structural schema before it is unmarshaled into a
// domain.DeploymentArtifact. Returns the decoded value on success.
func validateArtifactJSON(raw []byte) (map[string]any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode synthesized artifact: %w", err)
	}
	if err := artifactSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("synthesized artifact failed schema validation: %w", err)
	}
	return v.(map[string]any), nil
}
