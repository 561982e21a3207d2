package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelops/orchestrator/internal/domain"
	"modelops/orchestrator/internal/memory"
)

func TestPutAndRecallRanksBySimilarity(t *testing.T) {
	s := memory.NewInMemory(90)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, domain.MemoryEntry{
		Agent:   domain.AgentExecutor,
		Kind:    domain.MemoryEpisodic,
		Pattern: "create_endpoint_config capacity error on ml.g5.xlarge",
		Lesson:  "retry with ml.g5.2xlarge in this region",
		Outcome: domain.MemoryOutcome{Status: "failed", Error: "insufficient capacity"},
	}))
	require.NoError(t, s.Put(ctx, domain.MemoryEntry{
		Agent:   domain.AgentExecutor,
		Kind:    domain.MemoryEpisodic,
		Pattern: "create_model succeeded on first attempt",
		Lesson:  "no special handling needed",
		Outcome: domain.MemoryOutcome{Status: "completed"},
	}))

	results, err := s.Recall(ctx, domain.AgentExecutor, "capacity error creating endpoint config", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Pattern, "capacity error")
}

func TestRecallFiltersByAgent(t *testing.T) {
	s := memory.NewInMemory(90)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, domain.MemoryEntry{Agent: domain.AgentPlanner, Pattern: "plan retries often"}))
	require.NoError(t, s.Put(ctx, domain.MemoryEntry{Agent: domain.AgentExecutor, Pattern: "exec retries often"}))

	results, err := s.Recall(ctx, domain.AgentPlanner, "retries often", 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, domain.AgentPlanner, r.Agent)
	}
}

func TestEpisodicEntriesExpireButSemanticDoNot(t *testing.T) {
	s := memory.NewInMemory(1)
	ctx := context.Background()

	old := domain.MemoryEntry{
		Agent:     domain.AgentMonitor,
		Kind:      domain.MemoryEpisodic,
		Pattern:   "old episodic entry",
		Timestamp: time.Now().Add(-48 * time.Hour),
	}
	semantic := domain.MemoryEntry{
		Agent:     domain.AgentMonitor,
		Kind:      domain.MemorySemantic,
		Pattern:   "old semantic lesson",
		Timestamp: time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, s.Put(ctx, old))
	require.NoError(t, s.Put(ctx, semantic))

	list, err := s.List(ctx, domain.AgentMonitor)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.MemorySemantic, list[0].Kind)
}

func TestListOrdersNewestFirst(t *testing.T) {
	s := memory.NewInMemory(90)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, domain.MemoryEntry{
		Agent: domain.AgentRetriever, Pattern: "first", Timestamp: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, s.Put(ctx, domain.MemoryEntry{
		Agent: domain.AgentRetriever, Pattern: "second", Timestamp: time.Now(),
	}))

	list, err := s.List(ctx, domain.AgentRetriever)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Pattern)
}
