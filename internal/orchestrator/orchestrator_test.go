package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"modelops/orchestrator/internal/audit"
	"modelops/orchestrator/internal/backend"
	"modelops/orchestrator/internal/config"
	"modelops/orchestrator/internal/domain"
	"modelops/orchestrator/internal/executor"
	"modelops/orchestrator/internal/guardrails"
	"modelops/orchestrator/internal/kernel"
	"modelops/orchestrator/internal/memory"
	"modelops/orchestrator/internal/monitor"
	"modelops/orchestrator/internal/planner"
	"modelops/orchestrator/internal/retrieval"
	"modelops/orchestrator/internal/store"
	"modelops/orchestrator/internal/synth"
)

// fakeRetriever never fails and returns no evidence; the step loop's
// behavior under retrieval failure is covered directly in executor_test.go.
type fakeRetriever struct{}

func (fakeRetriever) Retrieve(context.Context, string, int) ([]domain.Evidence, error) {
	return nil, nil
}

// fakeSynth returns a fixed artifact, optionally gated by an instance
// type override so tests can drive Guardrails down different paths.
type fakeSynth struct {
	instanceType  string
	instanceCount int
	alarms        []string
}

func (f fakeSynth) Synthesize(_ context.Context, req synth.Request) (synth.Result, error) {
	instanceType := f.instanceType
	if instanceType == "" {
		instanceType = "ml.m5.large"
	}
	instanceCount := f.instanceCount
	if instanceCount == 0 {
		instanceCount = 1
	}
	return synth.Result{
		Artifact: domain.DeploymentArtifact{
			ModelName: "orders-classifier", EndpointName: "orders-classifier-ep",
			InstanceType: instanceType, InstanceCount: instanceCount,
			MaxPayloadMB: 5, AutoscalingMin: 1, AutoscalingMax: 2,
			RollbackAlarms: f.alarms,
		},
		Rationale:  "fixed test artifact",
		Confidence: 0.9,
	}, nil
}

// countingBackend counts invocations per action and can be told to
// fail N times before succeeding on a given action.
type countingBackend struct {
	mu        sync.Mutex
	failUntil map[string]int
	calls     map[string]int
	kind      domain.ErrorKind
}

func newCountingBackend() *countingBackend {
	return &countingBackend{failUntil: map[string]int{}, calls: map[string]int{}, kind: domain.ErrorTransient}
}

func (b *countingBackend) Execute(_ context.Context, req backend.Request) (backend.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[req.Action]++
	if b.calls[req.Action] <= b.failUntil[req.Action] {
		return backend.Response{}, &backend.ClassifiedError{Kind: b.kind, Err: assert.AnError}
	}
	switch req.Action {
	case "verify_deployment":
		return backend.Response{Output: map[string]any{"status": "InService"}}, nil
	default:
		return backend.Response{Output: map[string]any{"ok": true}}, nil
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, synthesizer synth.Synthesizer, be backend.Backend) (*Orchestrator, store.PlanStore) {
	t.Helper()
	log := zap.NewNop().Sugar()
	st := store.NewInMemory()
	memStore := memory.NewInMemory(cfg.MemoryTTLDays)
	krn := kernel.New(memStore, cfg.MemoryRetryThreshold, cfg.MemoryReplanThreshold)
	gr := guardrails.New(cfg)
	retriever := retrieval.Retriever(fakeRetriever{})

	seq := 0
	nextID := func() string {
		seq++
		return "step-" + strconv.Itoa(seq)
	}
	plannerAgent := planner.New(synthesizer, krn, cfg.MemoryRecallLimit, nextID)
	executorAgent := executor.New(be, gr, retriever, cfg.TopKIterative)
	monitorAgent := monitor.New(krn, cfg.MaxRetriesPerStep, cfg.VerifyMaxRetries())

	auditSink := audit.New(st, log, cfg.AuditBufferSize, 1)
	t.Cleanup(auditSink.Close)

	o := New(cfg, st, retriever, plannerAgent, executorAgent, monitorAgent, gr, krn, auditSink, nil, log)
	return o, st
}

func testConfig() *config.Config {
	return &config.Config{
		MaxReplans: 2, MaxRetriesPerStep: 2,
		TopKInitial: 3, TopKIterative: 2,
		RetrieveTimeout: time.Second, SynthesizeTimeout: time.Second, BackendTimeout: time.Second,
		BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond,
		MemoryRecallLimit: 5, MemoryTTLDays: 90, MemoryRetryThreshold: 2, MemoryReplanThreshold: 2,
		WorkerPoolSize: 4, AuditBufferSize: 64,
		EnvBudgets: map[string]float64{"dev": 2.0, "staging": 15.0, "prod": 50.0},
		ApprovalCostThreshold: 20.0,
	}
}

func waitForStatus(t *testing.T, o *Orchestrator, planID string, want domain.PlanStatus, timeout time.Duration) *domain.DeploymentPlan {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		plan, err := o.GetPlan(context.Background(), planID)
		require.NoError(t, err)
		if plan.Status == want {
			return plan
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("plan %s did not reach status %s in time", planID, want)
	return nil
}

// Staging happy path (spec §8): no approval required, every step
// succeeds, plan reaches deployed.
func TestSubmitStagingHappyPathReachesDeployed(t *testing.T) {
	cfg := testConfig()
	be := newCountingBackend()
	o, _ := newTestOrchestrator(t, cfg, fakeSynth{instanceType: "ml.m5.large"}, be)

	planID, status, err := o.Submit(context.Background(), "alice", "deploy orders classifier", domain.EnvStaging, domain.Constraints{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, status)

	plan := waitForStatus(t, o, planID, domain.StatusDeployed, 2*time.Second)
	for _, s := range plan.ExecutionPlan.Steps {
		assert.Equal(t, domain.StepCompleted, s.Status, s.Action)
	}
}

// Prod requires approval (spec §8): plan parks in awaiting_approval
// until Approve is called, then proceeds to deployed.
func TestProdDeploymentRequiresApproval(t *testing.T) {
	cfg := testConfig()
	be := newCountingBackend()
	o, _ := newTestOrchestrator(t, cfg, fakeSynth{instanceType: "ml.m5.xlarge", instanceCount: 2, alarms: []string{"latency"}}, be)

	planID, _, err := o.Submit(context.Background(), "bob", "deploy to prod", domain.EnvProd, domain.Constraints{BudgetUSDPerHour: 50})
	require.NoError(t, err)

	waitForStatus(t, o, planID, domain.StatusAwaitingApproval, 2*time.Second)

	status, err := o.Approve(context.Background(), planID, "carol", domain.DecisionApproved, "looks good")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeploying, status)

	waitForStatus(t, o, planID, domain.StatusDeployed, 2*time.Second)
}

// Validation failure (spec §8): an artifact that can never satisfy
// guardrails terminates the plan at validation_failed.
func TestInvalidArtifactEndsInValidationFailed(t *testing.T) {
	cfg := testConfig()
	be := newCountingBackend()
	o, _ := newTestOrchestrator(t, cfg, fakeSynth{instanceType: "ml.r5.enormous"}, be)

	planID, _, err := o.Submit(context.Background(), "dave", "deploy something exotic", domain.EnvDev, domain.Constraints{})
	require.NoError(t, err)

	plan := waitForStatus(t, o, planID, domain.StatusValidationFailed, 2*time.Second)
	assert.NotEmpty(t, plan.ValidationErrors)
}

// Transient failure with retry (spec §8): create_endpoint fails once,
// then succeeds on retry, without ever replanning.
func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	cfg := testConfig()
	be := newCountingBackend()
	be.failUntil["create_endpoint"] = 1

	o, _ := newTestOrchestrator(t, cfg, fakeSynth{instanceType: "ml.m5.large"}, be)

	planID, _, err := o.Submit(context.Background(), "erin", "deploy with flaky capacity", domain.EnvStaging, domain.Constraints{})
	require.NoError(t, err)

	plan := waitForStatus(t, o, planID, domain.StatusDeployed, 2*time.Second)
	assert.Equal(t, 0, plan.ReplanCount)

	be.mu.Lock()
	assert.Equal(t, 2, be.calls["create_endpoint"])
	be.mu.Unlock()
}

// Replan on persistent failure (spec §8, §4.4): once MAX_RETRIES_PER_STEP
// is exhausted, Replan is the default outcome (memory is empty on a
// cold system), so the plan replans rather than failing outright.
func TestPersistentFailureTriggersReplan(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetriesPerStep = 1
	be := newCountingBackend()
	be.failUntil["create_endpoint"] = 2 // fails past the retry budget, then succeeds post-replan

	o, _ := newTestOrchestrator(t, cfg, fakeSynth{instanceType: "ml.m5.large"}, be)

	planID, _, err := o.Submit(context.Background(), "frank", "deploy with persistent capacity issues", domain.EnvStaging, domain.Constraints{})
	require.NoError(t, err)

	plan := waitForStatus(t, o, planID, domain.StatusDeployed, 3*time.Second)
	assert.GreaterOrEqual(t, plan.ReplanCount, 1)
}

// Semantic error replans on first occurrence (spec §8 scenario 5):
// create_endpoint returns a semantic error with no prior memory at
// all, and the orchestrator still replans rather than failing, since
// Replan no longer needs memory to seed it.
func TestSemanticErrorReplansOnFirstOccurrence(t *testing.T) {
	cfg := testConfig()
	be := newCountingBackend()
	be.kind = domain.ErrorSemantic
	be.failUntil["create_endpoint"] = 1

	o, _ := newTestOrchestrator(t, cfg, fakeSynth{instanceType: "ml.m5.large"}, be)

	planID, _, err := o.Submit(context.Background(), "liam", "deploy with a naming conflict", domain.EnvStaging, domain.Constraints{})
	require.NoError(t, err)

	plan := waitForStatus(t, o, planID, domain.StatusDeployed, 3*time.Second)
	assert.Equal(t, 1, plan.ReplanCount)

	be.mu.Lock()
	assert.Equal(t, 2, be.calls["create_endpoint"])
	be.mu.Unlock()
}

// Replan budget exhaustion (spec §8): a step that never succeeds
// exhausts MAX_REPLANS and the plan terminates failed. The memory
// circuit breaker is set high enough to stay out of the way here,
// since this test is about the orchestrator's own replan budget, not
// Kernel.ShouldRetryBasedOnMemory's longer-horizon abandon path.
func TestReplanBudgetExhaustionEndsInFailed(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetriesPerStep = 1
	cfg.MaxReplans = 1
	cfg.MemoryReplanThreshold = 100
	be := newCountingBackend()
	be.failUntil["create_endpoint"] = 1000 // never succeeds

	o, _ := newTestOrchestrator(t, cfg, fakeSynth{instanceType: "ml.m5.large"}, be)

	planID, _, err := o.Submit(context.Background(), "gina", "deploy with unfixable capacity issues", domain.EnvStaging, domain.Constraints{})
	require.NoError(t, err)

	plan := waitForStatus(t, o, planID, domain.StatusFailed, 3*time.Second)
	assert.Contains(t, plan.LastError, "replan_budget_exhausted")
}

// Approve is not idempotent: approving an already-approved (now
// deploying) plan returns state_conflict (spec §9 open question (d)).
func TestApproveOnNonAwaitingPlanIsStateConflict(t *testing.T) {
	cfg := testConfig()
	be := newCountingBackend()
	o, _ := newTestOrchestrator(t, cfg, fakeSynth{instanceType: "ml.m5.xlarge", instanceCount: 2, alarms: []string{"latency"}}, be)

	planID, _, err := o.Submit(context.Background(), "henry", "deploy to prod", domain.EnvProd, domain.Constraints{BudgetUSDPerHour: 50})
	require.NoError(t, err)
	waitForStatus(t, o, planID, domain.StatusAwaitingApproval, 2*time.Second)

	_, err = o.Approve(context.Background(), planID, "iris", domain.DecisionApproved, "ok")
	require.NoError(t, err)

	_, err = o.Approve(context.Background(), planID, "iris", domain.DecisionApproved, "ok again")
	assert.ErrorIs(t, err, ErrStateConflict)
}

// Restarting a deployed plan only re-verifies, it does not re-run the
// already-completed steps (spec §9 open question (a)).
func TestRestartOnDeployedOnlyReverifies(t *testing.T) {
	cfg := testConfig()
	be := newCountingBackend()
	o, _ := newTestOrchestrator(t, cfg, fakeSynth{instanceType: "ml.m5.large"}, be)

	planID, _, err := o.Submit(context.Background(), "jack", "deploy orders classifier", domain.EnvStaging, domain.Constraints{})
	require.NoError(t, err)
	waitForStatus(t, o, planID, domain.StatusDeployed, 2*time.Second)

	be.mu.Lock()
	createModelCallsBefore := be.calls["create_model"]
	verifyCallsBefore := be.calls["verify_deployment"]
	be.mu.Unlock()

	require.NoError(t, o.Restart(context.Background(), planID))

	be.mu.Lock()
	defer be.mu.Unlock()
	assert.Equal(t, createModelCallsBefore, be.calls["create_model"], "restart-on-deployed must not re-run completed steps")
	assert.Equal(t, verifyCallsBefore+1, be.calls["verify_deployment"])
}

// Hard delete best-effort purges memory entries tagged with the plan id.
func TestHardDeletePurgesPlanScopedMemory(t *testing.T) {
	cfg := testConfig()
	be := newCountingBackend()
	o, st := newTestOrchestrator(t, cfg, fakeSynth{instanceType: "ml.m5.large"}, be)
	_ = st

	planID, _, err := o.Submit(context.Background(), "karen", "deploy orders classifier", domain.EnvStaging, domain.Constraints{})
	require.NoError(t, err)
	waitForStatus(t, o, planID, domain.StatusDeployed, 2*time.Second)

	details, err := o.Delete(context.Background(), planID, true)
	require.NoError(t, err)
	assert.Equal(t, true, details["ok"])
	assert.Greater(t, details["memory_entries_purged"], 0)

	plan, err := o.GetPlan(context.Background(), planID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, plan.Status)
	assert.True(t, plan.Deleted)
}
