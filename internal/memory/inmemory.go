package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"modelops/orchestrator/internal/domain"
)

// InMemoryStore is the fallback Store used in tests and whenever Redis
// is not configured; it mirrors the teacher's coordination package's
// map[string]*T + sync.RWMutex pattern instead of Redis structures.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.MemoryEntry
	ttlDays int
	nextID  int
}

// NewInMemory constructs an InMemoryStore. ttlDays governs episodic
// expiry; semantic entries never expire (spec §4.7).
func NewInMemory(ttlDays int) *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]domain.MemoryEntry), ttlDays: ttlDays}
}

// Put implements Store.
func (s *InMemoryStore) Put(_ context.Context, entry domain.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.MemoryID == "" {
		s.nextID++
		entry.MemoryID = fmt.Sprintf("mem-%d", s.nextID)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.entries[entry.MemoryID] = entry
	return nil
}

// Recall implements Store.
func (s *InMemoryStore) Recall(_ context.Context, agent domain.AgentName, query string, limit int) ([]domain.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.liveEntriesLocked(agent)
	return rankBySimilarity(candidates, query, limit), nil
}

// List implements Store.
func (s *InMemoryStore) List(_ context.Context, agent domain.AgentName) ([]domain.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.liveEntriesLocked(agent)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// DeleteByPlan implements Store.
func (s *InMemoryStore) DeleteByPlan(_ context.Context, planID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, e := range s.entries {
		if pv, ok := e.Context["plan_id"].(string); ok && pv == planID {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) liveEntriesLocked(agent domain.AgentName) []domain.MemoryEntry {
	now := time.Now()
	out := make([]domain.MemoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if agent != "" && e.Agent != agent {
			continue
		}
		if isExpired(e, s.ttlDays, now) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func isExpired(e domain.MemoryEntry, ttlDays int, now time.Time) bool {
	if e.Kind == domain.MemorySemantic {
		return false
	}
	if ttlDays <= 0 {
		return false
	}
	return now.Sub(e.Timestamp) > time.Duration(ttlDays)*24*time.Hour
}

// searchableText flattens an entry into text for embedding/overlap
// scoring against a recall query.
func searchableText(e domain.MemoryEntry) string {
	text := e.Pattern + " " + e.Lesson + " " + e.Outcome.Status + " " + e.Outcome.Error
	for k, v := range e.Context {
		text += fmt.Sprintf(" %s %v", k, v)
	}
	return text
}

// rankBySimilarity scores candidates against query using stored
// embeddings when present, falling back to raw token overlap,
// breaking ties by recency (newest first).
func rankBySimilarity(candidates []domain.MemoryEntry, query string, limit int) []domain.MemoryEntry {
	vocab := map[string]int{}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = searchableText(c)
		for _, t := range tokenize(texts[i]) {
			if _, ok := vocab[t]; !ok {
				vocab[t] = len(vocab)
			}
		}
	}
	qv := embed(query, vocab)

	type scored struct {
		entry domain.MemoryEntry
		score float64
	}
	out := make([]scored, len(candidates))
	for i, c := range candidates {
		var sim float64
		if len(c.Embedding) > 0 && len(c.Embedding) == len(qv) {
			sim = cosine(qv, c.Embedding)
		} else {
			sim = tokenOverlap(query, texts[i])
		}
		out[i] = scored{entry: c, score: sim}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].entry.Timestamp.After(out[j].entry.Timestamp)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	result := make([]domain.MemoryEntry, len(out))
	for i, s := range out {
		result[i] = s.entry
	}
	return result
}
