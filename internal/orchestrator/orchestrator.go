// Package orchestrator implements the Orchestrator state machine of
// spec §4.1: it owns every DeploymentPlan's lifecycle, serializes
// mutation per plan id (spec §5), and drives the step loop through
// ExecutorAgent/MonitorAgent while writing every transition to
// AuditSink. It plays the role the teacher's Coordinator plays for
// recommendation coordination, generalized to a persisted state
// machine with retry/backoff/replan.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"modelops/orchestrator/internal/audit"
	"modelops/orchestrator/internal/config"
	"modelops/orchestrator/internal/domain"
	"modelops/orchestrator/internal/executor"
	"modelops/orchestrator/internal/guardrails"
	"modelops/orchestrator/internal/kernel"
	"modelops/orchestrator/internal/monitor"
	"modelops/orchestrator/internal/planner"
	"modelops/orchestrator/internal/retrieval"
	"modelops/orchestrator/internal/store"
)

// ErrStateConflict is returned when an operation's precondition on
// plan state is not met (spec §7's state_conflict error kind).
var ErrStateConflict = errors.New("orchestrator: state conflict")

// Metrics is the narrow surface the Orchestrator reports transitions
// through; internal/metrics implements it. Left nil, calls are no-ops.
type Metrics interface {
	ObservePlanStatus(status domain.PlanStatus)
	ObserveStepOutcome(action string, success bool)
	ObserveReplan()
	ObserveApprovalLatency(d time.Duration)
}

type cancelState struct {
	ch     chan struct{}
	target domain.PlanStatus
}

// Orchestrator is the contract described by spec §4.1 and §6.
type Orchestrator struct {
	cfg        *config.Config
	store      store.PlanStore
	retriever  retrieval.Retriever
	planner    *planner.PlannerAgent
	executor   *executor.ExecutorAgent
	monitor    *monitor.MonitorAgent
	guardrails *guardrails.Guardrails
	kernel     *kernel.Kernel
	auditSink  *audit.Sink
	metrics    Metrics
	log        *zap.SugaredLogger

	locks   sync.Map // plan_id -> *sync.Mutex
	cancels sync.Map // plan_id -> *cancelState

	pool chan struct{}
	wg   sync.WaitGroup
}

// New constructs an Orchestrator. metrics may be nil.
func New(
	cfg *config.Config,
	st store.PlanStore,
	retriever retrieval.Retriever,
	plannerAgent *planner.PlannerAgent,
	executorAgent *executor.ExecutorAgent,
	monitorAgent *monitor.MonitorAgent,
	gr *guardrails.Guardrails,
	krn *kernel.Kernel,
	auditSink *audit.Sink,
	metrics Metrics,
	log *zap.SugaredLogger,
) *Orchestrator {
	poolSize := cfg.WorkerPoolSize
	if poolSize < 1 {
		poolSize = 1
	}
	return &Orchestrator{
		cfg: cfg, store: st, retriever: retriever, planner: plannerAgent,
		executor: executorAgent, monitor: monitorAgent, guardrails: gr,
		kernel: krn, auditSink: auditSink, metrics: metrics, log: log,
		pool: make(chan struct{}, poolSize),
	}
}

// Submit implements spec §6's Submit: persists a plan in `created` and
// schedules the rest of the submit pipeline onto the bounded worker
// pool without blocking the caller (spec §5).
func (o *Orchestrator) Submit(ctx context.Context, userID, intent string, env domain.Environment, constraints domain.Constraints) (string, domain.PlanStatus, error) {
	planID := uuid.New().String()
	now := time.Now()
	plan := &domain.DeploymentPlan{
		PlanID: planID, UserID: userID, Intent: intent, Env: env,
		Constraints: constraints, Status: domain.StatusCreated,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := o.store.Put(ctx, plan); err != nil {
		return "", "", fmt.Errorf("orchestrator: persist plan: %w", err)
	}
	o.metricStatus(domain.StatusCreated)
	o.auditRecord(ctx, planID, domain.EventIntentSubmitted, userID, "", string(domain.StatusCreated), nil)

	o.scheduleSubmitPipeline(planID)
	return planID, domain.StatusCreated, nil
}

// GetPlan implements spec §6's GetPlan.
func (o *Orchestrator) GetPlan(ctx context.Context, planID string) (*domain.DeploymentPlan, error) {
	return o.store.Get(ctx, planID)
}

// ListPlans implements spec §6's ListPlans.
func (o *Orchestrator) ListPlans(ctx context.Context, filter store.Filter) ([]*domain.DeploymentPlan, error) {
	return o.store.List(ctx, filter)
}

// Memories implements the diagnostics endpoint of SPEC_FULL.md: for
// each agent named in the plan's steps it returns up to
// MemoryRecallLimit entries recalled by similarity to the plan's
// intent. Entries are not filtered to this plan.
func (o *Orchestrator) Memories(ctx context.Context, planID string) ([]domain.MemoryEntry, error) {
	plan, err := o.store.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	agents := map[domain.AgentName]bool{}
	for _, s := range plan.ExecutionPlan.Steps {
		agents[s.Agent] = true
	}
	out := make([]domain.MemoryEntry, 0)
	for agent := range agents {
		entries, err := o.kernel.Recall(ctx, agent, plan.Intent, o.cfg.MemoryRecallLimit)
		if err != nil {
			continue
		}
		out = append(out, entries...)
	}
	return out, nil
}

// Approve implements spec §6's Approve. It is legal only in
// awaiting_approval; any other state (including an already-approved
// plan) returns state_conflict without mutation, resolving spec §9's
// open question against idempotent re-approval.
func (o *Orchestrator) Approve(ctx context.Context, planID, approver string, decision domain.ApprovalDecision, reason string) (domain.PlanStatus, error) {
	mu := o.planLock(planID)
	mu.Lock()
	defer mu.Unlock()

	plan, err := o.store.Get(ctx, planID)
	if err != nil {
		return "", err
	}
	if plan.Status != domain.StatusAwaitingApproval {
		return plan.Status, ErrStateConflict
	}

	now := time.Now()
	plan.Approval = &domain.Approval{Approver: approver, Decision: decision, Timestamp: now, Reason: reason}
	plan.UpdatedAt = now
	if decision == domain.DecisionApproved {
		plan.Status = domain.StatusDeploying
	} else {
		plan.Status = domain.StatusRejected
	}
	if err := o.store.Put(ctx, plan); err != nil {
		return "", fmt.Errorf("orchestrator: persist approval: %w", err)
	}
	o.metricStatus(plan.Status)
	o.metricApprovalLatency(now.Sub(plan.CreatedAt))

	evt := domain.EventRejected
	if decision == domain.DecisionApproved {
		evt = domain.EventApproved
	}
	o.auditRecord(ctx, planID, evt, approver, "", string(plan.Status), map[string]any{"reason": reason})

	if decision == domain.DecisionApproved {
		o.scheduleStepLoop(planID)
	}
	return plan.Status, nil
}

// Pause implements spec §6's Pause. If a step loop is actively running
// for this plan, Pause cannot block on the plan lock (spec §5 requires
// it to return promptly); instead it raises a cooperative cancellation
// signal the loop observes at its next step boundary.
func (o *Orchestrator) Pause(ctx context.Context, planID string) error {
	mu := o.planLock(planID)
	if !mu.TryLock() {
		o.requestCancel(planID, domain.StatusPaused)
		return nil
	}
	defer mu.Unlock()

	plan, err := o.store.Get(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Status != domain.StatusDeploying && plan.Status != domain.StatusDeployed {
		return ErrStateConflict
	}
	plan.Status = domain.StatusPaused
	plan.UpdatedAt = time.Now()
	if err := o.store.Put(ctx, plan); err != nil {
		return fmt.Errorf("orchestrator: persist pause: %w", err)
	}
	o.metricStatus(plan.Status)
	o.auditRecord(ctx, planID, domain.EventPaused, "system", "", string(plan.Status), nil)
	return nil
}

// Restart implements spec §6's Restart. Restarting a paused or failed
// plan resumes the step loop from its first non-completed step.
// Restarting an already-deployed plan re-runs only its
// verify_deployment step rather than every step, resolving spec §9's
// open question; a failed re-verification moves the plan to failed.
func (o *Orchestrator) Restart(ctx context.Context, planID string) error {
	mu := o.planLock(planID)
	mu.Lock()

	plan, err := o.store.Get(ctx, planID)
	if err != nil {
		mu.Unlock()
		return err
	}

	switch plan.Status {
	case domain.StatusPaused, domain.StatusFailed:
		for i := range plan.ExecutionPlan.Steps {
			if s := &plan.ExecutionPlan.Steps[i]; s.Status != domain.StepCompleted {
				s.Status = domain.StepPending
			}
		}
		plan.Status = domain.StatusDeploying
		plan.UpdatedAt = time.Now()
		if err := o.store.Put(ctx, plan); err != nil {
			mu.Unlock()
			return fmt.Errorf("orchestrator: persist restart: %w", err)
		}
		o.clearCancel(planID)
		o.metricStatus(plan.Status)
		o.auditRecord(ctx, planID, domain.EventRestarted, "system", "", string(plan.Status), nil)
		mu.Unlock()
		o.scheduleStepLoop(planID)
		return nil

	case domain.StatusDeployed:
		mu.Unlock()
		return o.reverify(ctx, planID)

	default:
		mu.Unlock()
		return ErrStateConflict
	}
}

// Delete implements spec §6's Delete. Soft delete only flips status;
// hard delete additionally best-effort tears down the backend endpoint
// and purges memory entries referencing the plan (spec §7).
func (o *Orchestrator) Delete(ctx context.Context, planID string, hard bool) (map[string]any, error) {
	mu := o.planLock(planID)
	if !mu.TryLock() {
		o.requestCancel(planID, domain.StatusDeleted)
		return map[string]any{"ok": true, "deferred_to_step_boundary": true}, nil
	}
	defer mu.Unlock()

	plan, err := o.store.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status == domain.StatusDeleted {
		return map[string]any{"ok": true, "already_deleted": true}, nil
	}

	details := map[string]any{}
	if hard {
		if derr := o.executor.DeleteEndpoint(ctx, plan.Artifact); derr != nil {
			details["backend_delete_error"] = derr.Error()
		} else {
			details["backend_delete"] = "ok"
		}
		n, merr := o.kernel.ForgetByPlan(ctx, planID)
		if merr != nil {
			details["memory_purge_error"] = merr.Error()
		} else {
			details["memory_entries_purged"] = n
		}
	}

	plan.Status = domain.StatusDeleted
	plan.Deleted = true
	plan.UpdatedAt = time.Now()
	if err := o.store.Delete(ctx, planID); err != nil {
		return nil, fmt.Errorf("orchestrator: persist delete: %w", err)
	}
	o.metricStatus(domain.StatusDeleted)
	o.auditRecord(ctx, planID, domain.EventDeleted, "system", "", string(domain.StatusDeleted), details)
	details["ok"] = true
	return details, nil
}

// Shutdown waits for every scheduled pipeline and step-loop goroutine
// to finish, or for ctx to expire. It does not stop Submit from
// scheduling new work, and running loops are not interrupted at a
// step boundary.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) reverify(ctx context.Context, planID string) error {
	mu := o.planLock(planID)
	mu.Lock()
	defer mu.Unlock()

	plan, err := o.store.Get(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Status != domain.StatusDeployed {
		return nil
	}
	idx := -1
	for i, s := range plan.ExecutionPlan.Steps {
		if s.Action == "verify_deployment" {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}

	step := &plan.ExecutionPlan.Steps[idx]
	outcome, err := o.executor.Execute(ctx, *step, plan)
	if err != nil {
		return err
	}
	if !outcome.Success {
		step.Status = domain.StepFailed
		step.Error = outcome.Error
		step.ErrorKind = outcome.ErrorKind
		plan.Status = domain.StatusFailed
		plan.LastError = outcome.Error
	} else {
		step.Output = outcome.Output
		step.Status = domain.StepCompleted
	}
	step.UpdatedAt = time.Now()
	plan.UpdatedAt = time.Now()
	if err := o.store.Put(ctx, plan); err != nil {
		return fmt.Errorf("orchestrator: persist reverify: %w", err)
	}
	o.metricStatus(plan.Status)
	o.auditRecord(ctx, planID, domain.EventRestarted, "system", "", string(plan.Status), map[string]any{"mode": "reverify_only"})
	return nil
}

func (o *Orchestrator) scheduleSubmitPipeline(planID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pool <- struct{}{}
		defer func() { <-o.pool }()

		ctx := kernel.WithCorrelationID(context.Background(), uuid.New().String())
		mu := o.planLock(planID)
		mu.Lock()
		defer mu.Unlock()
		o.runSubmitPipeline(ctx, planID)
	}()
}

func (o *Orchestrator) scheduleStepLoop(planID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pool <- struct{}{}
		defer func() { <-o.pool }()

		ctx := kernel.WithCorrelationID(context.Background(), uuid.New().String())
		mu := o.planLock(planID)
		mu.Lock()
		defer mu.Unlock()

		plan, err := o.store.Get(ctx, planID)
		if err != nil {
			o.log.Errorw("load plan for step loop failed", "plan_id", planID, "error", err)
			return
		}
		if plan.Status != domain.StatusDeploying {
			return
		}
		o.runStepLoop(ctx, plan)
	}()
}

// runSubmitPipeline implements the Submit path contract of spec §4.1
// steps 2-6, called with the plan's lock already held.
func (o *Orchestrator) runSubmitPipeline(ctx context.Context, planID string) {
	plan, err := o.store.Get(ctx, planID)
	if err != nil {
		o.log.Errorw("load plan for submit pipeline failed", "plan_id", planID, "error", err)
		return
	}

	plan.Status = domain.StatusValidating
	plan.UpdatedAt = time.Now()
	if !o.mustPut(ctx, plan) {
		return
	}
	o.metricStatus(plan.Status)

	retCtx, cancel := context.WithTimeout(ctx, o.cfg.RetrieveTimeout)
	evidence, err := o.retriever.Retrieve(retCtx, plan.Intent, o.cfg.TopKInitial)
	cancel()
	if err != nil {
		o.log.Warnw("retrieval failed, proceeding with empty evidence", "plan_id", planID, "error", err)
		evidence = nil
	}
	plan.Evidence = evidence

	synthCtx, cancel2 := context.WithTimeout(ctx, o.cfg.SynthesizeTimeout)
	execPlan, artifact, err := o.planner.Plan(synthCtx, plan.Intent, plan.Env, evidence, plan.Constraints)
	cancel2()
	if err != nil {
		plan.Status = domain.StatusValidationFailed
		plan.ValidationErrors = []string{err.Error()}
		plan.UpdatedAt = time.Now()
		if o.mustPut(ctx, plan) {
			o.metricStatus(plan.Status)
			o.auditRecord(ctx, planID, domain.EventValidationFailed, "system", "", string(plan.Status), map[string]any{"reason": err.Error()})
		}
		return
	}
	plan.ExecutionPlan = execPlan
	plan.Artifact = artifact

	result := o.guardrails.Validate(artifact, plan.Env, plan.Constraints)
	if !result.OK {
		plan.Status = domain.StatusValidationFailed
		plan.ValidationErrors = result.Errors
		plan.ValidationWarns = result.Warnings
		plan.UpdatedAt = time.Now()
		if o.mustPut(ctx, plan) {
			o.metricStatus(plan.Status)
			o.auditRecord(ctx, planID, domain.EventValidationFailed, "system", "", string(plan.Status), nil)
		}
		return
	}
	plan.ValidationWarns = result.Warnings
	plan.UpdatedAt = time.Now()
	if !o.mustPut(ctx, plan) {
		return
	}
	o.auditRecord(ctx, planID, domain.EventValidationPassed, "system", "", "", nil)

	if o.guardrails.RequiresApproval(artifact, plan.Env) {
		plan.Status = domain.StatusAwaitingApproval
		plan.UpdatedAt = time.Now()
		if o.mustPut(ctx, plan) {
			o.metricStatus(plan.Status)
			o.auditRecord(ctx, planID, domain.EventApprovalRequested, "system", "", string(plan.Status), nil)
		}
		return
	}

	plan.Status = domain.StatusDeploying
	plan.UpdatedAt = time.Now()
	if !o.mustPut(ctx, plan) {
		return
	}
	o.metricStatus(plan.Status)
	o.runStepLoop(ctx, plan)
}

// runStepLoop implements spec §4.1's step loop, called with the plan's
// lock already held.
func (o *Orchestrator) runStepLoop(ctx context.Context, plan *domain.DeploymentPlan) {
	for {
		if o.cancelled(plan.PlanID) {
			o.finishCancelled(ctx, plan)
			return
		}

		idx := nextRunnableIndex(plan.ExecutionPlan.Steps)
		if idx < 0 {
			plan.Status = domain.StatusDeployed
			plan.UpdatedAt = time.Now()
			if o.mustPut(ctx, plan) {
				o.metricStatus(plan.Status)
				o.auditRecord(ctx, plan.PlanID, domain.EventDeployed, "system", "", string(plan.Status), nil)
			}
			return
		}

		step := &plan.ExecutionPlan.Steps[idx]
		o.attachIterativeContext(ctx, step)
		step.Status = domain.StepExecuting
		step.UpdatedAt = time.Now()
		if !o.mustPut(ctx, plan) {
			return
		}
		o.auditRecord(ctx, plan.PlanID, domain.EventStepStarted, "system", "", string(step.Status),
			map[string]any{"step_id": step.StepID, "action": step.Action})

		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.BackendTimeout)
		outcome, err := o.executor.Execute(stepCtx, *step, plan)
		cancel()
		if err != nil {
			o.finishCancelled(ctx, plan)
			return
		}
		o.metricStepOutcome(step.Action, outcome.Success)

		decision, derr := o.monitor.Classify(ctx, *step, outcome)
		if derr != nil {
			o.log.Warnw("monitor classification error, defaulting to fail", "plan_id", plan.PlanID, "error", derr)
			decision = monitor.Fail
		}

		switch decision {
		case monitor.Accept:
			if !o.handleAccept(ctx, plan, step, outcome) {
				return
			}
		case monitor.Retry:
			if !o.handleRetry(ctx, plan, step, outcome) {
				return
			}
		case monitor.Replan:
			if !o.handleReplan(ctx, plan, step, outcome) {
				return
			}
		case monitor.Fail:
			o.handleFail(ctx, plan, step, outcome)
			return
		}
	}
}

// attachIterativeContext implements spec §4.1 step-loop step 2: any
// step flagged requires_context gets a fresh TOP_K_ITERATIVE retrieval
// against its context_query attached as additional_context before it
// runs, independent of what retrieve_policies's own action does.
func (o *Orchestrator) attachIterativeContext(ctx context.Context, step *domain.TaskStep) {
	requires, _ := step.Input["requires_context"].(bool)
	if !requires {
		return
	}
	query, _ := step.Input["context_query"].(string)
	if query == "" {
		return
	}
	retCtx, cancel := context.WithTimeout(ctx, o.cfg.RetrieveTimeout)
	evidence, err := o.retriever.Retrieve(retCtx, query, o.cfg.TopKIterative)
	cancel()
	if err != nil {
		o.log.Warnw("iterative context retrieval failed, proceeding without it", "step_id", step.StepID, "error", err)
		return
	}
	step.Input["additional_context"] = evidence
}

func (o *Orchestrator) handleAccept(ctx context.Context, plan *domain.DeploymentPlan, step *domain.TaskStep, outcome domain.StepOutcome) bool {
	step.Status = domain.StepCompleted
	step.Output = outcome.Output
	step.UpdatedAt = time.Now()
	if !o.mustPut(ctx, plan) {
		return false
	}
	o.auditRecord(ctx, plan.PlanID, domain.EventStepCompleted, "system", "", string(step.Status), map[string]any{"step_id": step.StepID})
	o.rememberStepOutcome(ctx, plan.PlanID, *step, true)
	return true
}

func (o *Orchestrator) handleRetry(ctx context.Context, plan *domain.DeploymentPlan, step *domain.TaskStep, outcome domain.StepOutcome) bool {
	step.RetryCount++
	step.Status = domain.StepRetrying
	step.Error = outcome.Error
	step.ErrorKind = outcome.ErrorKind
	step.UpdatedAt = time.Now()
	if !o.mustPut(ctx, plan) {
		return false
	}
	o.auditRecord(ctx, plan.PlanID, domain.EventStepRetried, "system", "", string(step.Status),
		map[string]any{"step_id": step.StepID, "retry_count": step.RetryCount})
	o.rememberStepOutcome(ctx, plan.PlanID, *step, false)

	select {
	case <-time.After(backoffDuration(o.cfg, step)):
		return true
	case <-ctx.Done():
		return false
	case <-o.cancelChan(plan.PlanID):
		o.finishCancelled(ctx, plan)
		return false
	}
}

func (o *Orchestrator) handleReplan(ctx context.Context, plan *domain.DeploymentPlan, step *domain.TaskStep, outcome domain.StepOutcome) bool {
	o.rememberStepOutcome(ctx, plan.PlanID, *step, false)

	if plan.ReplanCount >= o.cfg.MaxReplans {
		step.Status = domain.StepFailedPermanently
		step.Error = outcome.Error
		step.ErrorKind = domain.ErrorReplanBudgetExceeded
		plan.Status = domain.StatusFailed
		plan.LastError = "replan_budget_exhausted: " + outcome.Error
		plan.UpdatedAt = time.Now()
		if o.mustPut(ctx, plan) {
			o.metricStatus(plan.Status)
			o.auditRecord(ctx, plan.PlanID, domain.EventFailed, "system", "", string(plan.Status), map[string]any{"reason": "replan_budget_exhausted"})
		}
		return false
	}

	if !o.replan(ctx, plan, *step, outcome) {
		step.Status = domain.StepFailedPermanently
		step.Error = outcome.Error
		plan.Status = domain.StatusFailed
		plan.LastError = outcome.Error
		plan.UpdatedAt = time.Now()
		if o.mustPut(ctx, plan) {
			o.metricStatus(plan.Status)
			o.auditRecord(ctx, plan.PlanID, domain.EventFailed, "system", "", string(plan.Status), nil)
		}
		return false
	}
	return true
}

func (o *Orchestrator) handleFail(ctx context.Context, plan *domain.DeploymentPlan, step *domain.TaskStep, outcome domain.StepOutcome) {
	step.Status = domain.StepFailedPermanently
	step.Error = outcome.Error
	step.ErrorKind = outcome.ErrorKind
	step.UpdatedAt = time.Now()
	plan.Status = domain.StatusFailed
	plan.LastError = outcome.Error
	plan.UpdatedAt = time.Now()
	o.rememberStepOutcome(ctx, plan.PlanID, *step, false)
	if o.mustPut(ctx, plan) {
		o.metricStatus(plan.Status)
		o.auditRecord(ctx, plan.PlanID, domain.EventFailed, "system", "", string(plan.Status), map[string]any{"step_id": step.StepID})
	}
}

// replan implements spec §4.1's replanning subroutine.
func (o *Orchestrator) replan(ctx context.Context, plan *domain.DeploymentPlan, failedStep domain.TaskStep, outcome domain.StepOutcome) bool {
	query := failedStep.Action + " " + outcome.Error
	retCtx, cancel := context.WithTimeout(ctx, o.cfg.RetrieveTimeout)
	extraEvidence, err := o.retriever.Retrieve(retCtx, query, o.cfg.TopKIterative)
	cancel()
	if err != nil {
		extraEvidence = nil
	}

	failedStep.Error = outcome.Error
	newExecPlan, artifact, err := o.planner.Replan(ctx, plan.Intent, plan.ExecutionPlan, failedStep, extraEvidence, plan.Constraints, plan.Env)
	if err != nil {
		o.log.Warnw("replan failed", "plan_id", plan.PlanID, "error", err)
		return false
	}

	plan.ExecutionPlan = newExecPlan
	plan.Artifact = artifact
	plan.ReplanCount++
	plan.UpdatedAt = time.Now()
	if !o.mustPut(ctx, plan) {
		return false
	}
	o.metricReplan()
	o.auditRecord(ctx, plan.PlanID, domain.EventReplan, "system", "", "",
		map[string]any{"replan_count": plan.ReplanCount, "failed_step": failedStep.StepID})
	return true
}

func (o *Orchestrator) finishCancelled(ctx context.Context, plan *domain.DeploymentPlan) {
	target := o.cancelTarget(plan.PlanID)
	plan.Status = target
	plan.UpdatedAt = time.Now()
	evt := domain.EventPaused
	if target == domain.StatusDeleted {
		evt = domain.EventDeleted
	}
	if o.mustPut(ctx, plan) {
		o.metricStatus(plan.Status)
		o.auditRecord(ctx, plan.PlanID, evt, "system", "", string(plan.Status), nil)
	}
	o.clearCancel(plan.PlanID)
}

func (o *Orchestrator) rememberStepOutcome(ctx context.Context, planID string, step domain.TaskStep, success bool) {
	status := "failed"
	if success {
		status = "success"
	}
	_ = o.kernel.Remember(ctx, domain.MemoryEntry{
		Agent:   step.Agent,
		Kind:    domain.MemoryEpisodic,
		Context: map[string]any{"plan_id": planID, "action": step.Action},
		Outcome: domain.MemoryOutcome{Status: status, Error: step.Error},
		Pattern: step.Action + ":" + step.Error,
	})
}

func (o *Orchestrator) mustPut(ctx context.Context, plan *domain.DeploymentPlan) bool {
	if err := o.store.Put(ctx, plan); err != nil {
		o.log.Errorw("plan store write failed, aborting transition", "plan_id", plan.PlanID, "error", err)
		return false
	}
	return true
}

func (o *Orchestrator) auditRecord(ctx context.Context, planID, eventType, actor, before, after string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["correlation_id"] = kernel.CorrelationID(ctx)
	rec := domain.AuditRecord{
		PlanID: planID, EventType: eventType, Actor: actor,
		Before: before, After: after, Metadata: metadata,
	}
	if err := o.auditSink.Record(ctx, rec); err != nil {
		o.log.Warnw("audit record enqueue failed", "plan_id", planID, "event_type", eventType, "error", err)
	}
}

func (o *Orchestrator) metricStatus(status domain.PlanStatus) {
	if o.metrics != nil {
		o.metrics.ObservePlanStatus(status)
	}
}

func (o *Orchestrator) metricStepOutcome(action string, success bool) {
	if o.metrics != nil {
		o.metrics.ObserveStepOutcome(action, success)
	}
}

func (o *Orchestrator) metricReplan() {
	if o.metrics != nil {
		o.metrics.ObserveReplan()
	}
}

func (o *Orchestrator) metricApprovalLatency(d time.Duration) {
	if o.metrics != nil {
		o.metrics.ObserveApprovalLatency(d)
	}
}

func (o *Orchestrator) planLock(planID string) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(planID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (o *Orchestrator) cancelEntry(planID string) *cancelState {
	v, _ := o.cancels.LoadOrStore(planID, &cancelState{ch: make(chan struct{})})
	return v.(*cancelState)
}

func (o *Orchestrator) requestCancel(planID string, target domain.PlanStatus) {
	cs := o.cancelEntry(planID)
	cs.target = target
	select {
	case <-cs.ch:
	default:
		close(cs.ch)
	}
}

func (o *Orchestrator) cancelChan(planID string) <-chan struct{} {
	return o.cancelEntry(planID).ch
}

func (o *Orchestrator) cancelled(planID string) bool {
	select {
	case <-o.cancelChan(planID):
		return true
	default:
		return false
	}
}

func (o *Orchestrator) cancelTarget(planID string) domain.PlanStatus {
	if v, ok := o.cancels.Load(planID); ok {
		return v.(*cancelState).target
	}
	return domain.StatusPaused
}

func (o *Orchestrator) clearCancel(planID string) {
	o.cancels.Store(planID, &cancelState{ch: make(chan struct{})})
}

// nextRunnableIndex finds the first step still eligible to execute;
// retrying steps are re-attempted in place rather than treated as done.
func nextRunnableIndex(steps []domain.TaskStep) int {
	for i, s := range steps {
		if s.Status == domain.StepPending || s.Status == domain.StepRetrying {
			return i
		}
	}
	return -1
}

// backoffDuration implements spec §4.1's backoff formula:
// min(BACKOFF_MAX, BACKOFF_BASE * 2^retry_count) * uniform(0.5, 1.0).
// verify_deployment instead polls at a fixed VERIFY_POLL cadence
// (spec §5): it is waiting on an external resource to come InService,
// not backing off from contention, so exponential growth would just
// make the 15-minute verify budget expire after a handful of polls.
func backoffDuration(cfg *config.Config, step *domain.TaskStep) time.Duration {
	if step.Action == "verify_deployment" {
		return cfg.VerifyPoll
	}
	d := float64(cfg.BackoffBase) * math.Pow(2, float64(step.RetryCount))
	if max := float64(cfg.BackoffMax); d > max {
		d = max
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(d * jitter)
}
