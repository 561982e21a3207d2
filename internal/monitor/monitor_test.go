package monitor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelops/orchestrator/internal/domain"
	"modelops/orchestrator/internal/kernel"
	"modelops/orchestrator/internal/memory"
	"modelops/orchestrator/internal/monitor"
)

func TestClassifyAcceptsOnSuccess(t *testing.T) {
	krn := kernel.New(memory.NewInMemory(90), 3, 2)
	m := monitor.New(krn, 3, 10)
	d, err := m.Classify(context.Background(), domain.TaskStep{}, domain.StepOutcome{Success: true})
	require.NoError(t, err)
	assert.Equal(t, monitor.Accept, d)
}

func TestClassifyRetriesTransientBelowRetryLimit(t *testing.T) {
	krn := kernel.New(memory.NewInMemory(90), 3, 2)
	m := monitor.New(krn, 3, 10)
	step := domain.TaskStep{RetryCount: 1, Action: "create_endpoint", Agent: domain.AgentExecutor}
	d, err := m.Classify(context.Background(), step, domain.StepOutcome{ErrorKind: domain.ErrorTransient, Error: "timeout"})
	require.NoError(t, err)
	assert.Equal(t, monitor.Retry, d)
}

func TestClassifyFailsUnrecoverableRegardlessOfRetries(t *testing.T) {
	krn := kernel.New(memory.NewInMemory(90), 3, 2)
	m := monitor.New(krn, 3, 10)
	step := domain.TaskStep{RetryCount: 0, Action: "create_model", Agent: domain.AgentExecutor}
	d, err := m.Classify(context.Background(), step, domain.StepOutcome{ErrorKind: domain.ErrorUnrecoverable, Error: "permission denied"})
	require.NoError(t, err)
	assert.Equal(t, monitor.Fail, d)
}

// Retry exhaustion with no prior memory still replans (spec §8
// scenario 5 family): Replan is the default, not something memory
// has to unlock.
func TestClassifyReplansOnRetryExhaustionWithNoPriorMemory(t *testing.T) {
	krn := kernel.New(memory.NewInMemory(90), 3, 2)
	m := monitor.New(krn, 3, 10)
	step := domain.TaskStep{RetryCount: 3, Action: "create_endpoint", Agent: domain.AgentExecutor}
	d, err := m.Classify(context.Background(), step, domain.StepOutcome{ErrorKind: domain.ErrorTransient, Error: "timeout"})
	require.NoError(t, err)
	assert.Equal(t, monitor.Replan, d)
}

// Once a pattern has already recurred MEMORY_REPLAN_THRESHOLD times,
// the circuit breaker trips and Classify abandons instead of
// replanning again into the same wall.
func TestClassifyAbandonsWhenPatternRecursPastMemoryThreshold(t *testing.T) {
	store := memory.NewInMemory(90)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, store.Put(ctx, domain.MemoryEntry{
			Agent: domain.AgentExecutor, Kind: domain.MemoryEpisodic,
			Outcome: domain.MemoryOutcome{Status: "failed", Error: "instance type not available"},
			Pattern: "create_endpoint",
		}))
	}
	krn := kernel.New(store, 3, 2)
	m := monitor.New(krn, 3, 10)
	step := domain.TaskStep{RetryCount: 3, Action: "create_endpoint", Agent: domain.AgentExecutor}
	d, err := m.Classify(ctx, step, domain.StepOutcome{ErrorKind: domain.ErrorTransient, Error: "instance type not available"})
	require.NoError(t, err)
	assert.Equal(t, monitor.Fail, d)
}

// Semantic errors skip the retry step loop entirely and go straight
// to the replan/fail decision, defaulting to Replan with cold memory.
func TestClassifySemanticReplansImmediatelyWithoutRetry(t *testing.T) {
	krn := kernel.New(memory.NewInMemory(90), 3, 2)
	m := monitor.New(krn, 3, 10)
	step := domain.TaskStep{RetryCount: 0, Action: "create_endpoint_config", Agent: domain.AgentExecutor}
	d, err := m.Classify(context.Background(), step, domain.StepOutcome{ErrorKind: domain.ErrorSemantic, Error: "not found"})
	require.NoError(t, err)
	assert.Equal(t, monitor.Replan, d)
}

// A semantic error that has already survived a replan and recurred
// past the memory threshold is abandoned rather than replanned again.
func TestClassifySemanticAbandonsPastMemoryThreshold(t *testing.T) {
	store := memory.NewInMemory(90)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, store.Put(ctx, domain.MemoryEntry{
			Agent: domain.AgentExecutor, Kind: domain.MemoryEpisodic,
			Outcome: domain.MemoryOutcome{Status: "failed", Error: "not found"},
		}))
	}
	krn := kernel.New(store, 3, 2)
	m := monitor.New(krn, 3, 10)
	step := domain.TaskStep{RetryCount: 0, Action: "create_endpoint_config", Agent: domain.AgentExecutor}
	d, err := m.Classify(ctx, step, domain.StepOutcome{ErrorKind: domain.ErrorSemantic, Error: "not found"})
	require.NoError(t, err)
	assert.Equal(t, monitor.Fail, d)
}

// verify_deployment gets its own, much larger retry budget
// (VERIFY_TIMEOUT / VERIFY_POLL) than the generic MAX_RETRIES_PER_STEP.
func TestClassifyVerifyDeploymentUsesItsOwnRetryLimit(t *testing.T) {
	krn := kernel.New(memory.NewInMemory(90), 3, 2)
	m := monitor.New(krn, 1, 10)
	step := domain.TaskStep{RetryCount: 5, Action: "verify_deployment", Agent: domain.AgentExecutor}
	d, err := m.Classify(context.Background(), step, domain.StepOutcome{ErrorKind: domain.ErrorTransient, Error: "not yet in service"})
	require.NoError(t, err)
	assert.Equal(t, monitor.Retry, d)
}
