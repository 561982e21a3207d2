// Package memory implements the MemoryStore of spec §4.7: a durable
// record of past outcomes (episodic) and generalized rules (semantic)
// that agents consult before repeating a decision. It follows the
// same Redis marshal/SET-with-TTL/active-set-index shape as
// internal/registry's agent store, with an in-memory fallback for
// tests and for environments with no Redis configured.
package memory

import (
	"context"
	"time"

	"modelops/orchestrator/internal/domain"
)

// Store is the contract consumed by AgentKernel and the three agents.
type Store interface {
	// Put durably records a memory entry.
	Put(ctx context.Context, entry domain.MemoryEntry) error
	// Recall returns up to limit entries most similar to query,
	// restricted to the given agent when non-empty.
	Recall(ctx context.Context, agent domain.AgentName, query string, limit int) ([]domain.MemoryEntry, error)
	// List returns every non-expired entry for an agent, newest first.
	List(ctx context.Context, agent domain.AgentName) ([]domain.MemoryEntry, error)
	// DeleteByPlan removes every entry whose context references
	// planID, the memory-cleanup half of a hard delete (spec §7).
	DeleteByPlan(ctx context.Context, planID string) (int, error)
}

func ttlFor(kind domain.MemoryKind, days int) time.Duration {
	if kind == domain.MemorySemantic {
		// Semantic memory (generalized lessons) is retained
		// indefinitely per spec §4.7; Redis TTL of 0 means "no expiry".
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}
