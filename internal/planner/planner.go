// Package planner implements PlannerAgent (spec §4.2): the ReAct loop
// that turns an intent plus retrieved evidence into an ExecutionPlan,
// consulting AgentKernel for prior experience and Synthesizer for the
// proposed artifact. It plays the role the teacher's coordination
// package gives its plan-construction step, generalized to a
// four-stage think/act/observe/reflect trace.
package planner

import (
	"context"
	"fmt"

	"modelops/orchestrator/internal/domain"
	"modelops/orchestrator/internal/kernel"
	"modelops/orchestrator/internal/synth"
)

// defaultTemplate is the fixed 8-step shape every Plan call starts
// from (spec §4.2). Replan reuses it to build the replacement suffix.
var defaultTemplate = []struct {
	Agent  domain.AgentName
	Action string
}{
	{domain.AgentRetriever, "retrieve_policies"},
	{domain.AgentPlanner, "generate_config"},
	{domain.AgentExecutor, "validate_plan"},
	{domain.AgentExecutor, "create_model"},
	{domain.AgentExecutor, "create_endpoint_config"},
	{domain.AgentExecutor, "create_endpoint"},
	{domain.AgentMonitor, "configure_monitoring"},
	{domain.AgentMonitor, "verify_deployment"},
}

// PlannerAgent is the contract consumer described by spec §4.2.
type PlannerAgent struct {
	synthesizer       synth.Synthesizer
	kernel            *kernel.Kernel
	memoryRecallLimit int
	nextStepSeq       func() string
}

// New constructs a PlannerAgent. nextStepSeq mints step ids; pass
// uuid.New().String if no special scheme is needed.
func New(synthesizer synth.Synthesizer, krn *kernel.Kernel, memoryRecallLimit int, nextStepSeq func() string) *PlannerAgent {
	return &PlannerAgent{synthesizer: synthesizer, kernel: krn, memoryRecallLimit: memoryRecallLimit, nextStepSeq: nextStepSeq}
}

// Plan implements spec §4.2's think/act/observe/reflect loop, producing
// a full 8-step ExecutionPlan around the synthesized artifact.
func (p *PlannerAgent) Plan(ctx context.Context, intent string, env domain.Environment, evidence []domain.Evidence, constraints domain.Constraints) (domain.ExecutionPlan, domain.DeploymentArtifact, error) {
	var reasoning []domain.ReasoningStep

	// Think: recall prior similar planning experience.
	priors, err := p.kernel.Recall(ctx, domain.AgentPlanner, intent, p.memoryRecallLimit)
	if err != nil {
		priors = nil
	}
	reasoning = append(reasoning, thinkStep(intent, env, priors))

	// Act + Observe: synthesize, self-validate, retry once on gaps.
	artifact, synthReasoning, err := p.synthesizeAndObserve(ctx, synth.Request{
		Intent: intent, Env: env, Evidence: evidence, Constraints: constraints,
	})
	reasoning = append(reasoning, synthReasoning...)

	// Reflect: record the outcome of this planning attempt.
	p.reflect(ctx, intent, env, err)

	if err != nil {
		return domain.ExecutionPlan{}, domain.DeploymentArtifact{}, err
	}

	steps := buildSteps(p.nextStepSeq)
	chain := kernel.BuildReasoningChain(domain.AgentPlanner, reasoning)
	return domain.ExecutionPlan{Steps: steps, ReasoningChain: &chain}, artifact, nil
}

// Replan regenerates the plan suffix starting at the failed step,
// preserving every completed step verbatim (spec §4.1's merge policy).
func (p *PlannerAgent) Replan(ctx context.Context, intent string, current domain.ExecutionPlan, failedStep domain.TaskStep, evidence []domain.Evidence, constraints domain.Constraints, env domain.Environment) (domain.ExecutionPlan, domain.DeploymentArtifact, error) {
	var reasoning []domain.ReasoningStep
	if current.ReasoningChain != nil {
		reasoning = append(reasoning, current.ReasoningChain.Steps...)
	}

	priors, _ := p.kernel.Recall(ctx, domain.AgentPlanner, failedStep.Error, p.memoryRecallLimit)
	reasoning = append(reasoning, domain.ReasoningStep{
		Thought:    fmt.Sprintf("step %s failed with %q, replanning from there", failedStep.StepID, failedStep.Error),
		Reasoning:  summarizePriors(priors),
		Confidence: 0.5,
	})

	artifact, synthReasoning, err := p.synthesizeAndObserve(ctx, synth.Request{
		Intent: intent + " (replan after failure: " + failedStep.Error + ")",
		Env:    env, Evidence: evidence, Constraints: constraints,
	})
	reasoning = append(reasoning, synthReasoning...)
	p.reflect(ctx, intent, env, err)
	if err != nil {
		return domain.ExecutionPlan{}, domain.DeploymentArtifact{}, err
	}

	completed := completedPrefix(current.Steps, failedStep.StepID)
	replacement := buildSteps(p.nextStepSeq)
	startIdx := templateIndexOf(failedStep.Action)
	if startIdx < 0 {
		startIdx = 0
	}
	newSteps := append(completed, replacement[startIdx:]...)

	chain := kernel.BuildReasoningChain(domain.AgentPlanner, reasoning)
	return domain.ExecutionPlan{Steps: newSteps, ReasoningChain: &chain}, artifact, nil
}

func (p *PlannerAgent) synthesizeAndObserve(ctx context.Context, req synth.Request) (domain.DeploymentArtifact, []domain.ReasoningStep, error) {
	var reasoning []domain.ReasoningStep

	result, err := p.synthesizer.Synthesize(ctx, req)
	if err != nil {
		reasoning = append(reasoning, domain.ReasoningStep{
			Thought: "synthesis failed", Reasoning: err.Error(), Confidence: 0,
		})
		return domain.DeploymentArtifact{}, reasoning, fmt.Errorf("planner: synthesis: %w", err)
	}
	reasoning = append(reasoning, domain.ReasoningStep{
		Thought: "proposed artifact " + result.Artifact.ModelName, Reasoning: result.Rationale, Confidence: result.Confidence,
	})

	if gaps := structuralGaps(result.Artifact); len(gaps) > 0 {
		req.Evidence = append(req.Evidence, domain.Evidence{
			Title:   "validation gaps from first synthesis attempt",
			Snippet: fmt.Sprintf("%v", gaps),
			Source:  "planner.observe",
			Score:   1,
		})
		result, err = p.synthesizer.Synthesize(ctx, req)
		if err != nil {
			reasoning = append(reasoning, domain.ReasoningStep{
				Thought: "retry synthesis failed", Reasoning: err.Error(), Confidence: 0,
			})
			return domain.DeploymentArtifact{}, reasoning, fmt.Errorf("planner: retry synthesis: %w", err)
		}
		reasoning = append(reasoning, domain.ReasoningStep{
			Thought: "retried synthesis after gaps " + fmt.Sprint(gaps), Reasoning: result.Rationale, Confidence: result.Confidence,
		})
		if gaps := structuralGaps(result.Artifact); len(gaps) > 0 {
			return domain.DeploymentArtifact{}, reasoning, fmt.Errorf("planner: synthesis_invalid: %v", gaps)
		}
	}

	return result.Artifact, reasoning, nil
}

func (p *PlannerAgent) reflect(ctx context.Context, intent string, env domain.Environment, planErr error) {
	status := "success"
	errMsg := ""
	if planErr != nil {
		status = "failed"
		errMsg = planErr.Error()
	}
	_ = p.kernel.Remember(ctx, domain.MemoryEntry{
		Agent: domain.AgentPlanner,
		Kind:  domain.MemoryEpisodic,
		Context: map[string]any{
			"intent": intent,
			"env":    string(env),
		},
		Outcome: domain.MemoryOutcome{Status: status, Error: errMsg},
		Pattern: intent,
	})
}

func thinkStep(intent string, env domain.Environment, priors []domain.MemoryEntry) domain.ReasoningStep {
	confidence := 0.6
	reasoning := fmt.Sprintf("no prior experience recalled for %q in %s", intent, env)
	if len(priors) > 0 {
		reasoning = summarizePriors(priors)
		confidence = 0.75
	}
	return domain.ReasoningStep{
		Thought:    fmt.Sprintf("plan a deployment for %q targeting %s", intent, env),
		Reasoning:  reasoning,
		Confidence: confidence,
	}
}

func summarizePriors(priors []domain.MemoryEntry) string {
	if len(priors) == 0 {
		return "no similar prior memories"
	}
	succeeded, failed := 0, 0
	for _, m := range priors {
		if m.Outcome.Status == "success" {
			succeeded++
		} else {
			failed++
		}
	}
	return fmt.Sprintf("%d similar prior attempts recalled (%d succeeded, %d failed)", len(priors), succeeded, failed)
}

// structuralGaps is the Planner's "self-validate structural
// completeness" observe step (spec §4.2): cheaper and narrower than
// Guardrails, which runs after the plan is fully assembled.
func structuralGaps(a domain.DeploymentArtifact) []string {
	var gaps []string
	if a.ModelName == "" {
		gaps = append(gaps, "model_name missing")
	}
	if a.EndpointName == "" {
		gaps = append(gaps, "endpoint_name missing")
	}
	if a.InstanceType == "" {
		gaps = append(gaps, "instance_type missing")
	}
	if a.InstanceCount <= 0 {
		gaps = append(gaps, "instance_count must be positive")
	}
	if a.AutoscalingMin > a.AutoscalingMax {
		gaps = append(gaps, "autoscaling_min exceeds autoscaling_max")
	}
	return gaps
}

func buildSteps(nextStepSeq func() string) []domain.TaskStep {
	steps := make([]domain.TaskStep, len(defaultTemplate))
	for i, t := range defaultTemplate {
		steps[i] = domain.TaskStep{
			StepID: nextStepSeq(),
			Agent:  t.Agent,
			Action: t.Action,
			Status: domain.StepPending,
		}
	}
	return steps
}

func templateIndexOf(action string) int {
	for i, t := range defaultTemplate {
		if t.Action == action {
			return i
		}
	}
	return -1
}

func completedPrefix(steps []domain.TaskStep, failedStepID string) []domain.TaskStep {
	out := make([]domain.TaskStep, 0, len(steps))
	for _, s := range steps {
		if s.StepID == failedStepID {
			break
		}
		if s.Status == domain.StepCompleted {
			out = append(out, s)
		}
	}
	return out
}
