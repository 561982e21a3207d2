// Package guardrails implements the declarative validation rules of
// spec §4.6: a pure function over (artifact, env, constraints) that
// decides whether a deployment artifact is safe to run, and whether
// it additionally requires human approval.
package guardrails

import (
	"fmt"
	"regexp"

	"modelops/orchestrator/internal/config"
	"modelops/orchestrator/internal/domain"
)

var nameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

var knownInstanceTypes = map[string]float64{
	"ml.m5.large":   0.115,
	"ml.m5.xlarge":  0.23,
	"ml.m5.2xlarge": 0.46,
	"ml.g5.xlarge":  1.408,
	"ml.g5.2xlarge": 1.515,
}

var devInstances = map[string]bool{
	"ml.m5.large": true,
}

var stagingInstances = map[string]bool{
	"ml.m5.large":  true,
	"ml.m5.xlarge": true,
}

// Result is the outcome of Validate.
type Result struct {
	OK       bool
	Errors   []string
	Warnings []string
	EstimatedCostUSDPerHour float64
}

// Guardrails is a pure validator bound to static config (env budgets,
// approval threshold). It holds no mutable state so Validate is safe
// for concurrent use and is byte-identical for identical inputs, as
// required by spec §8.
type Guardrails struct {
	cfg *config.Config
}

// New constructs a Guardrails bound to the given configuration.
func New(cfg *config.Config) *Guardrails {
	return &Guardrails{cfg: cfg}
}

// Validate enforces the exhaustive rule table of spec §4.6.
func (g *Guardrails) Validate(artifact domain.DeploymentArtifact, env domain.Environment, constraints domain.Constraints) Result {
	var errs, warns []string

	// Schema rule.
	if artifact.ModelName == "" || !nameRE.MatchString(artifact.ModelName) {
		errs = append(errs, "model_name must be non-empty and match [a-z0-9][a-z0-9-]{0,62}")
	}
	if artifact.EndpointName == "" || !nameRE.MatchString(artifact.EndpointName) {
		errs = append(errs, "endpoint_name must be non-empty and match [a-z0-9][a-z0-9-]{0,62}")
	}
	if _, ok := knownInstanceTypes[artifact.InstanceType]; !ok {
		errs = append(errs, fmt.Sprintf("instance_type %q is not in the known enumeration", artifact.InstanceType))
	}
	if artifact.InstanceCount < 1 || artifact.InstanceCount > 4 {
		errs = append(errs, fmt.Sprintf("instance_count must be in [1,4], got %d", artifact.InstanceCount))
	}
	if artifact.MaxPayloadMB < 1 || artifact.MaxPayloadMB > 100 {
		errs = append(errs, fmt.Sprintf("max_payload_mb must be in [1,100], got %d", artifact.MaxPayloadMB))
	}
	if artifact.AutoscalingMin > artifact.AutoscalingMax {
		errs = append(errs, fmt.Sprintf("autoscaling_min (%d) must be <= autoscaling_max (%d)", artifact.AutoscalingMin, artifact.AutoscalingMax))
	}
	if artifact.BudgetUSDPerHour < 0 {
		errs = append(errs, "budget_usd_per_hour must be non-negative")
	}

	// Environment-specific rules.
	switch env {
	case domain.EnvDev:
		if !devInstances[artifact.InstanceType] {
			errs = append(errs, fmt.Sprintf("dev requires instance_type in {ml.m5.large}, got %q", artifact.InstanceType))
		}
	case domain.EnvStaging:
		if !stagingInstances[artifact.InstanceType] {
			errs = append(errs, fmt.Sprintf("staging requires instance_type in {ml.m5.large, ml.m5.xlarge}, got %q", artifact.InstanceType))
		}
	case domain.EnvProd:
		if artifact.InstanceCount < 2 {
			errs = append(errs, "Prod HA: instance_count must be >= 2 in prod")
		}
		if len(artifact.RollbackAlarms) == 0 {
			errs = append(errs, "prod deployments require at least one rollback alarm")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown environment %q", env))
	}

	// Budget rule.
	cost := estimatedCost(artifact)
	budgetCap := g.envBudget(env)
	if constraints.BudgetUSDPerHour > 0 && constraints.BudgetUSDPerHour < budgetCap {
		budgetCap = constraints.BudgetUSDPerHour
	}
	if cost > budgetCap {
		errs = append(errs, fmt.Sprintf("estimated cost $%.2f/hr exceeds cap $%.2f/hr", cost, budgetCap))
	}

	return Result{
		OK:                      len(errs) == 0,
		Errors:                  errs,
		Warnings:                warns,
		EstimatedCostUSDPerHour: cost,
	}
}

// RequiresApproval implements the approval rule of spec §4.6.
func (g *Guardrails) RequiresApproval(artifact domain.DeploymentArtifact, env domain.Environment) bool {
	if env == domain.EnvProd {
		return true
	}
	if estimatedCost(artifact) > g.cfg.ApprovalCostThreshold {
		return true
	}
	if env == domain.EnvStaging && artifact.InstanceCount >= 3 {
		return true
	}
	return false
}

func (g *Guardrails) envBudget(env domain.Environment) float64 {
	if v, ok := g.cfg.EnvBudgets[string(env)]; ok {
		return v
	}
	// Unknown environments get the most conservative (dev) budget.
	return g.cfg.EnvBudgets["dev"]
}

func estimatedCost(artifact domain.DeploymentArtifact) float64 {
	perInstance, ok := knownInstanceTypes[artifact.InstanceType]
	if !ok {
		return 0
	}
	return perInstance * float64(artifact.InstanceCount)
}
