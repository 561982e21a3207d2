package synth

import (
	"context"
	"fmt"
	"strings"

	"modelops/orchestrator/internal/domain"
)

// OfflineSynthesizer is the deterministic default: it derives an
// artifact from the intent text and environment using a fixed rule
// table, with no network calls. It is what SYNTHESIZE_LIVE=false
// selects.
type OfflineSynthesizer struct{}

// NewOffline constructs the default Synthesizer.
func NewOffline() *OfflineSynthesizer {
	return &OfflineSynthesizer{}
}

// Synthesize implements Synthesizer.
func (o *OfflineSynthesizer) Synthesize(_ context.Context, req Request) (Result, error) {
	lower := strings.ToLower(req.Intent)

	modelName := deriveModelName(lower)
	endpointName := deriveEndpointName(modelName, req.Env)
	instanceType, instanceCount := deriveSizing(lower, req.Env)

	artifact := domain.DeploymentArtifact{
		ModelName:      modelName,
		EndpointName:   endpointName,
		InstanceType:   instanceType,
		InstanceCount:  instanceCount,
		MaxPayloadMB:   6,
		AutoscalingMin: 1,
		AutoscalingMax: instanceCount,
	}

	if req.Env == domain.EnvProd {
		artifact.RollbackAlarms = []string{"latency-p99-alarm", "5xx-rate-alarm"}
	}

	perHour := estimatedHourlyCost(instanceType, instanceCount)
	artifact.BudgetUSDPerHour = perHour
	if req.Constraints.BudgetUSDPerHour > 0 && req.Constraints.BudgetUSDPerHour < perHour {
		artifact.BudgetUSDPerHour = req.Constraints.BudgetUSDPerHour
	}

	confidence := 0.6
	var rationale strings.Builder
	fmt.Fprintf(&rationale, "derived %s/%s for %s from intent keywords", instanceType, artifact.EndpointName, req.Env)
	for _, e := range req.Evidence {
		if strings.Contains(lower, "prod") && strings.Contains(e.Source, "availability") {
			confidence += 0.15
			rationale.WriteString("; applied HA policy from " + e.Source)
		}
		if strings.Contains(e.Source, "budget") {
			confidence += 0.05
		}
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	return Result{Artifact: artifact, Rationale: rationale.String(), Confidence: confidence}, nil
}

func deriveModelName(lowerIntent string) string {
	switch {
	case strings.Contains(lowerIntent, "llama"):
		return "llama-3-1-8b"
	case strings.Contains(lowerIntent, "mistral"):
		return "mistral-7b-instruct"
	case strings.Contains(lowerIntent, "embed"):
		return "bge-base-embed"
	default:
		return "default-chat-model"
	}
}

func deriveEndpointName(modelName string, env domain.Environment) string {
	return fmt.Sprintf("%s-%s", strings.ReplaceAll(modelName, "_", "-"), env)
}

func deriveSizing(lowerIntent string, env domain.Environment) (instanceType string, instanceCount int) {
	gpu := strings.Contains(lowerIntent, "gpu") || strings.Contains(lowerIntent, "llama") || strings.Contains(lowerIntent, "mistral")

	switch env {
	case domain.EnvDev:
		return "ml.m5.large", 1
	case domain.EnvStaging:
		if gpu {
			return "ml.m5.xlarge", 1
		}
		return "ml.m5.large", 1
	case domain.EnvProd:
		if gpu {
			return "ml.g5.xlarge", 2
		}
		return "ml.m5.xlarge", 2
	default:
		return "ml.m5.large", 1
	}
}

var perHourByInstance = map[string]float64{
	"ml.m5.large":   0.115,
	"ml.m5.xlarge":  0.23,
	"ml.m5.2xlarge": 0.46,
	"ml.g5.xlarge":  1.408,
	"ml.g5.2xlarge": 1.515,
}

func estimatedHourlyCost(instanceType string, count int) float64 {
	return perHourByInstance[instanceType] * float64(count)
}
