package retrieval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelops/orchestrator/internal/retrieval"
)

func TestRetrieveRanksRelevantDocFirst(t *testing.T) {
	r := retrieval.New(retrieval.DefaultCorpus(), nil)

	evidence, err := r.Retrieve(context.Background(), "production high availability instance count", 3)
	require.NoError(t, err)
	require.NotEmpty(t, evidence)
	assert.Equal(t, "Production high-availability policy", evidence[0].Title)
}

func TestRetrieveRespectsK(t *testing.T) {
	r := retrieval.New(retrieval.DefaultCorpus(), nil)

	evidence, err := r.Retrieve(context.Background(), "instance budget policy", 2)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(evidence), 2)
}

func TestRetrieveZeroKReturnsNothing(t *testing.T) {
	r := retrieval.New(retrieval.DefaultCorpus(), nil)

	evidence, err := r.Retrieve(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, evidence)
}

func TestRetrieveNoMatchReturnsEmpty(t *testing.T) {
	r := retrieval.New(retrieval.DefaultCorpus(), nil)

	evidence, err := r.Retrieve(context.Background(), "zzz qqq wwjjj nonsense", 3)
	require.NoError(t, err)
	assert.Empty(t, evidence)
}

func TestRetrieveTieBreaksByDocumentID(t *testing.T) {
	corpus := []retrieval.Document{
		{ID: "b-doc", Title: "x", Snippet: "alpha beta", Source: "s1"},
		{ID: "a-doc", Title: "x", Snippet: "alpha beta", Source: "s2"},
	}
	r := retrieval.New(corpus, nil)

	evidence, err := r.Retrieve(context.Background(), "alpha beta", 2)
	require.NoError(t, err)
	require.Len(t, evidence, 2)
	// Identical scores: lexicographically smaller source field comes
	// from the doc with the smaller ID, so "s2" (a-doc) sorts first.
	assert.Equal(t, "s2", evidence[0].Source)
	assert.Equal(t, "s1", evidence[1].Source)
}

func TestScoresAreClampedToUnitRange(t *testing.T) {
	r := retrieval.New(retrieval.DefaultCorpus(), nil)

	evidence, err := r.Retrieve(context.Background(), "prod ha instance rollback alarm budget", 5)
	require.NoError(t, err)
	for _, e := range evidence {
		assert.GreaterOrEqual(t, e.Score, 0.0)
		assert.LessOrEqual(t, e.Score, 1.0)
	}
}
