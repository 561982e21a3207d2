// Package domain holds the shared data model for the deployment
// orchestrator: artifacts, plans, steps, evidence, memories, and the
// enums that drive the state machine in internal/orchestrator.
package domain

import "time"

// Environment is the target deployment tier.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// PlanStatus is the lifecycle state of a DeploymentPlan (spec §4.1).
type PlanStatus string

const (
	StatusCreated           PlanStatus = "created"
	StatusValidating        PlanStatus = "validating"
	StatusValidationFailed  PlanStatus = "validation_failed"
	StatusAwaitingApproval  PlanStatus = "awaiting_approval"
	StatusApproved          PlanStatus = "approved"
	StatusRejected          PlanStatus = "rejected"
	StatusDeploying         PlanStatus = "deploying"
	StatusDeployed          PlanStatus = "deployed"
	StatusFailed            PlanStatus = "failed"
	StatusPaused            PlanStatus = "paused"
	StatusDeleted           PlanStatus = "deleted"
)

// StepStatus is the lifecycle state of a single TaskStep.
type StepStatus string

const (
	StepPending           StepStatus = "pending"
	StepThinking          StepStatus = "thinking"
	StepExecuting         StepStatus = "executing"
	StepRetrying          StepStatus = "retrying"
	StepCompleted         StepStatus = "completed"
	StepFailed            StepStatus = "failed"
	StepFailedPermanently StepStatus = "failed_permanently"
	StepSkipped           StepStatus = "skipped"
)

// AgentName identifies the agent responsible for a TaskStep.
type AgentName string

const (
	AgentPlanner   AgentName = "planner"
	AgentExecutor  AgentName = "executor"
	AgentMonitor   AgentName = "monitor"
	AgentRetriever AgentName = "retriever"
)

// ErrorKind is the error taxonomy of spec §7.
type ErrorKind string

const (
	ErrorTransient            ErrorKind = "transient"
	ErrorSemantic             ErrorKind = "semantic"
	ErrorUnrecoverable        ErrorKind = "unrecoverable"
	ErrorValidation           ErrorKind = "validation"
	ErrorStateConflict        ErrorKind = "state_conflict"
	ErrorAuditUnavailable     ErrorKind = "audit_unavailable"
	ErrorReplanBudgetExceeded ErrorKind = "replan_budget_exhausted"
)

// StepOutcome is what ExecutorAgent.Execute reports for a single
// TaskStep (spec §4.1 step loop, §4.3); MonitorAgent.Classify consumes
// it and never sees a raw Go error for business-logic failures.
type StepOutcome struct {
	Success     bool           `json:"success"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	NeedsReplan bool           `json:"needs_replan"`
}

// MemoryKind distinguishes episodic from semantic memory entries.
type MemoryKind string

const (
	MemoryEpisodic MemoryKind = "episodic"
	MemorySemantic MemoryKind = "semantic"
)

// ApprovalDecision is the human decision recorded on Approve.
type ApprovalDecision string

const (
	DecisionApproved ApprovalDecision = "approved"
	DecisionRejected ApprovalDecision = "rejected"
)

// DeploymentArtifact is the synthesized, validated configuration that
// the rest of the pipeline executes against (spec §3).
type DeploymentArtifact struct {
	ModelName         string            `json:"model_name"`
	EndpointName      string            `json:"endpoint_name"`
	InstanceType      string            `json:"instance_type"`
	InstanceCount     int               `json:"instance_count"`
	MaxPayloadMB      int               `json:"max_payload_mb"`
	AutoscalingMin    int               `json:"autoscaling_min"`
	AutoscalingMax    int               `json:"autoscaling_max"`
	RollbackAlarms    []string          `json:"rollback_alarms"`
	BudgetUSDPerHour  float64           `json:"budget_usd_per_hour"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Constraints is the caller-supplied budget/placement envelope a plan
// must respect, checked by Guardrails alongside the static rule table.
type Constraints struct {
	BudgetUSDPerHour float64  `json:"budget_usd_per_hour,omitempty"`
	AllowedInstances []string `json:"allowed_instances,omitempty"`
}

// Evidence is a single retrieved policy snippet (spec §3).
type Evidence struct {
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// ReasoningStep is one think/act/observe/reflect entry in a chain.
type ReasoningStep struct {
	Thought      string   `json:"thought"`
	Reasoning    string   `json:"reasoning"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// ReasoningChain is the ordered trace an agent produced, plus its
// overall confidence (the minimum of its steps', per spec §4.2).
type ReasoningChain struct {
	Agent      AgentName       `json:"agent"`
	Steps      []ReasoningStep `json:"steps"`
	Confidence float64         `json:"confidence"`
}

// TaskStep is a single unit of work within an ExecutionPlan.
type TaskStep struct {
	StepID         string                 `json:"step_id"`
	Agent          AgentName              `json:"agent"`
	Action         string                 `json:"action"`
	Status         StepStatus             `json:"status"`
	Input          map[string]any         `json:"input,omitempty"`
	Output         map[string]any         `json:"output,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ErrorKind      ErrorKind              `json:"error_kind,omitempty"`
	RetryCount     int                    `json:"retry_count"`
	NeedsReplan    bool                   `json:"needs_replan"`
	ReasoningChain *ReasoningChain        `json:"reasoning_chain,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// ExecutionPlan is the ordered sequence of TaskSteps realizing an
// artifact, plus the reasoning chain that produced it.
type ExecutionPlan struct {
	PlanID         string          `json:"plan_id"`
	Steps          []TaskStep      `json:"steps"`
	ReasoningChain *ReasoningChain `json:"reasoning_chain,omitempty"`
}

// Approval is the recorded human decision on a plan in
// awaiting_approval.
type Approval struct {
	Approver  string           `json:"approver"`
	Decision  ApprovalDecision `json:"decision"`
	Timestamp time.Time        `json:"timestamp"`
	Reason    string           `json:"reason,omitempty"`
}

// DeploymentPlan is the durable aggregate owned exclusively by the
// Orchestrator (spec §3).
type DeploymentPlan struct {
	PlanID           string              `json:"plan_id"`
	UserID           string              `json:"user_id"`
	Intent           string              `json:"intent"`
	Env              Environment         `json:"env"`
	Artifact         DeploymentArtifact  `json:"artifact"`
	Evidence         []Evidence          `json:"evidence,omitempty"`
	ValidationErrors []string            `json:"validation_errors,omitempty"`
	ValidationWarns  []string            `json:"validation_warnings,omitempty"`
	Constraints      Constraints         `json:"constraints"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	Status           PlanStatus          `json:"status"`
	ExecutionPlan    ExecutionPlan       `json:"execution_plan"`
	Approval         *Approval           `json:"approval,omitempty"`
	ReplanCount      int                 `json:"replan_count"`
	LastError        string              `json:"last_error,omitempty"`
	Deleted          bool                `json:"deleted"`
}

// Clone returns a deep-enough copy of the plan for rollback-on-error
// semantics (spec §7: "Errors from PlanStore writes ... roll back to
// the previous committed state").
func (p *DeploymentPlan) Clone() *DeploymentPlan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Evidence = append([]Evidence(nil), p.Evidence...)
	cp.ValidationErrors = append([]string(nil), p.ValidationErrors...)
	cp.ValidationWarns = append([]string(nil), p.ValidationWarns...)
	cp.ExecutionPlan.Steps = append([]TaskStep(nil), p.ExecutionPlan.Steps...)
	if p.Approval != nil {
		a := *p.Approval
		cp.Approval = &a
	}
	return &cp
}

// MemoryEntry is a durable record of a past outcome (episodic) or a
// generalized rule (semantic), written by any agent via AgentKernel.
type MemoryEntry struct {
	MemoryID  string         `json:"memory_id"`
	Agent     AgentName      `json:"agent"`
	Kind      MemoryKind     `json:"kind"`
	Context   map[string]any `json:"context"`
	Outcome   MemoryOutcome  `json:"outcome"`
	Timestamp time.Time      `json:"timestamp"`
	Embedding []float64      `json:"embedding,omitempty"`
	Pattern   string         `json:"pattern,omitempty"`
	Lesson    string         `json:"lesson,omitempty"`
}

// MemoryOutcome records what happened, for episodic recall.
type MemoryOutcome struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ApprovalRequest is a derived, read-only projection of a plan parked
// in awaiting_approval; identity is the plan id.
type ApprovalRequest struct {
	PlanID     string             `json:"plan_id"`
	UserID     string             `json:"user_id"`
	Intent     string             `json:"intent"`
	Env        Environment        `json:"env"`
	Artifact   DeploymentArtifact `json:"artifact"`
	Reasons    []string           `json:"reasons"`
	RequestedAt time.Time         `json:"requested_at"`
}

// AuditRecord is a single append-only audit entry (spec §4.8).
type AuditRecord struct {
	PlanID    string         `json:"plan_id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	Actor     string         `json:"actor"`
	Before    string         `json:"before,omitempty"`
	After     string         `json:"after,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Audit event type constants (spec §4.8).
const (
	EventIntentSubmitted    = "intent_submitted"
	EventValidationPassed   = "validation_passed"
	EventValidationFailed   = "validation_failed"
	EventApprovalRequested  = "approval_requested"
	EventApproved           = "approved"
	EventRejected           = "rejected"
	EventStepStarted        = "step_started"
	EventStepCompleted      = "step_completed"
	EventStepFailed         = "step_failed"
	EventStepRetried        = "step_retried"
	EventReplan             = "replan"
	EventDeployed           = "deployed"
	EventFailed             = "failed"
	EventPaused             = "paused"
	EventRestarted          = "restarted"
	EventDeleted            = "deleted"
)
