// Package kernel implements AgentKernel, the small set of helpers
// spec §4.1 describes as shared by every agent: memory-backed retry
// policy, reasoning-chain assembly, and correlation-id propagation
// through context and OTEL spans. It plays the same role for
// PlannerAgent/ExecutorAgent/MonitorAgent that internal/coordination's
// shared types play for the teacher's recommendation agents.
package kernel

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"modelops/orchestrator/internal/domain"
	"modelops/orchestrator/internal/memory"
)

type correlationIDKey struct{}

// WithCorrelationID stores id on ctx and attaches it to the current
// span (if any) so every log line and audit record downstream can be
// joined back to the originating Submit/Approve/Restart call.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if span := trace.SpanFromContext(ctx); span != nil {
		span.SetAttributes(attribute.String("correlation_id", id))
	}
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID reads the id stored by WithCorrelationID, minting a
// fresh one if none is present.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// Kernel bundles MemoryStore access behind the two operations every
// agent needs: a retry/replan decision and a reasoning-chain builder.
type Kernel struct {
	store           memory.Store
	retryThreshold  int
	replanThreshold int
}

// New constructs a Kernel bound to a MemoryStore and the
// MEMORY_RETRY_THRESHOLD / MEMORY_REPLAN_THRESHOLD config knobs.
func New(store memory.Store, retryThreshold, replanThreshold int) *Kernel {
	return &Kernel{store: store, retryThreshold: retryThreshold, replanThreshold: replanThreshold}
}

// Recall exposes the underlying MemoryStore's similarity search so
// agents don't need to depend on internal/memory directly.
func (k *Kernel) Recall(ctx context.Context, agent domain.AgentName, query string, limit int) ([]domain.MemoryEntry, error) {
	return k.store.Recall(ctx, agent, query, limit)
}

// Remember persists an outcome for future recall.
func (k *Kernel) Remember(ctx context.Context, entry domain.MemoryEntry) error {
	return k.store.Put(ctx, entry)
}

// RetryAdvice is MonitorAgent's consultation result: how many times
// this exact failure pattern has recurred in episodic memory, used to
// refine a Retry-exhausted/semantic failure into Replan vs Fail per
// spec §4.4. Replan is the default outcome; memory only trips Abandon
// once a pattern has already survived MEMORY_REPLAN_THRESHOLD replans
// and failed the same way again, so the orchestrator stops spending
// its replan budget on a problem replanning clearly isn't fixing.
type RetryAdvice struct {
	PriorFailures int
	Abandon       bool
	Lesson        string
}

// ShouldRetryBasedOnMemory implements the MEMORY_REPLAN_THRESHOLD
// circuit breaker: a fresh failure pattern always recommends
// replanning (PriorFailures==0 on a cold system, Abandon==false), and
// it surfaces the most relevant stored lesson (if any) so the replan
// can act on it. Once the same agent+pattern has recurred at least
// replanThreshold times, Abandon flips true and the caller should fail
// instead of burning further replan budget on it.
func (k *Kernel) ShouldRetryBasedOnMemory(ctx context.Context, agent domain.AgentName, failurePattern string) (RetryAdvice, error) {
	entries, err := k.store.Recall(ctx, agent, failurePattern, k.retryThreshold+k.replanThreshold)
	if err != nil {
		return RetryAdvice{}, err
	}

	priorFailures := 0
	lesson := ""
	for _, e := range entries {
		if e.Outcome.Status == "failed" {
			priorFailures++
			if e.Lesson != "" && lesson == "" {
				lesson = e.Lesson
			}
		}
	}

	return RetryAdvice{
		PriorFailures: priorFailures,
		Abandon:       priorFailures >= k.replanThreshold,
		Lesson:        lesson,
	}, nil
}

// ForgetByPlan purges every memory entry referencing planID, the
// memory half of a hard delete (spec §7).
func (k *Kernel) ForgetByPlan(ctx context.Context, planID string) (int, error) {
	return k.store.DeleteByPlan(ctx, planID)
}

// BuildReasoningChain assembles a ReasoningChain whose overall
// confidence is the minimum of its steps' confidences (spec §4.2):
// an agent's chain is only as trustworthy as its weakest inference.
func BuildReasoningChain(agent domain.AgentName, steps []domain.ReasoningStep) domain.ReasoningChain {
	confidence := 1.0
	for _, s := range steps {
		if s.Confidence < confidence {
			confidence = s.Confidence
		}
	}
	if len(steps) == 0 {
		confidence = 0
	}
	return domain.ReasoningChain{Agent: agent, Steps: steps, Confidence: confidence}
}
