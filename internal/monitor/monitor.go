// Package monitor implements MonitorAgent (spec §4.4): it turns a
// StepOutcome into a retry/replan/fail decision, consulting
// AgentKernel's memory-backed retry policy the way the teacher's
// conflict-detection code consults its own historical state before
// escalating.
package monitor

import (
	"context"

	"modelops/orchestrator/internal/domain"
	"modelops/orchestrator/internal/kernel"
)

// Decision is MonitorAgent.Classify's result (spec §4.4).
type Decision string

const (
	Accept Decision = "accept"
	Retry  Decision = "retry"
	Replan Decision = "replan"
	Fail   Decision = "fail"
)

// MonitorAgent is the contract described by spec §4.4.
type MonitorAgent struct {
	kernel            *kernel.Kernel
	maxRetriesPerStep int
	verifyMaxRetries  int
}

// New constructs a MonitorAgent bound to MAX_RETRIES_PER_STEP.
// verifyMaxRetries bounds verify_deployment's poll loop separately
// (VERIFY_TIMEOUT / VERIFY_POLL, spec §5) since that step needs far
// more attempts, spaced far further apart, than any other action.
func New(krn *kernel.Kernel, maxRetriesPerStep, verifyMaxRetries int) *MonitorAgent {
	return &MonitorAgent{kernel: krn, maxRetriesPerStep: maxRetriesPerStep, verifyMaxRetries: verifyMaxRetries}
}

// Classify implements spec §4.4's policy table. Persistent executor
// failures replan if budget remains, memory only refining that into
// Fail once the same pattern has already survived a replan and failed
// again (see Kernel.ShouldRetryBasedOnMemory); it never gates the
// first attempt at a replan the way a pure memory-seeded design would.
func (m *MonitorAgent) Classify(ctx context.Context, step domain.TaskStep, outcome domain.StepOutcome) (Decision, error) {
	if outcome.Success {
		return Accept, nil
	}

	switch outcome.ErrorKind {
	case domain.ErrorUnrecoverable:
		return Fail, nil

	case domain.ErrorTransient:
		if step.RetryCount < m.retryLimit(step) {
			return Retry, nil
		}
		return m.replanOrFail(ctx, step, outcome)

	case domain.ErrorSemantic:
		return m.replanOrFail(ctx, step, outcome)

	default:
		// Unclassified errors are treated conservatively: no blind
		// retries, straight to the replan/fail decision.
		return m.replanOrFail(ctx, step, outcome)
	}
}

func (m *MonitorAgent) retryLimit(step domain.TaskStep) int {
	if step.Action == "verify_deployment" {
		return m.verifyMaxRetries
	}
	return m.maxRetriesPerStep
}

// replanOrFail defaults to Replan so a fresh failure (no memory yet)
// still gets a chance to replan around the problem; memory is
// consulted only to abandon a pattern that has already outlived a
// replan attempt and failed again the same way.
func (m *MonitorAgent) replanOrFail(ctx context.Context, step domain.TaskStep, outcome domain.StepOutcome) (Decision, error) {
	pattern := step.Action + ":" + outcome.Error
	advice, err := m.kernel.ShouldRetryBasedOnMemory(ctx, step.Agent, pattern)
	if err != nil {
		return Fail, err
	}
	if advice.Abandon {
		return Fail, nil
	}
	return Replan, nil
}
