package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"modelops/orchestrator/internal/domain"
)

const (
	memoryKeyPrefix = "memory:"
	activeMemSetFmt = "memories:active:%s" // per-agent index, like registry's active-set
)

// RedisStore persists memory entries the way internal/registry
// persists agent records: JSON-marshal, SET with a TTL (0 = no
// expiry for semantic entries), and SADD into a per-agent index set
// so List/Recall can enumerate without a Redis SCAN.
type RedisStore struct {
	client  *redis.Client
	ttlDays int
}

// NewRedis constructs a Store backed by Redis.
func NewRedis(client *redis.Client, ttlDays int) *RedisStore {
	return &RedisStore{client: client, ttlDays: ttlDays}
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, entry domain.MemoryEntry) error {
	if entry.MemoryID == "" {
		entry.MemoryID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("memory: marshal entry: %w", err)
	}

	ttl := ttlFor(entry.Kind, s.ttlDays)
	err = withRetry(ctx, func() error {
		return s.client.Set(ctx, memoryKey(entry.MemoryID), data, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("memory: set entry: %w", err)
	}
	err = withRetry(ctx, func() error {
		return s.client.SAdd(ctx, activeSetKey(entry.Agent), entry.MemoryID).Err()
	})
	if err != nil {
		return fmt.Errorf("memory: index entry: %w", err)
	}
	return nil
}

// withRetry retries a transient Redis failure with a short, bounded
// exponential backoff, the same library AuditSink's delivery retries
// use. redis.Nil is never
// retried: it means "not found", not "unavailable".
func withRetry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 20 * time.Millisecond
	eb.MaxInterval = 200 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, 3), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == redis.Nil {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// Recall implements Store.
func (s *RedisStore) Recall(ctx context.Context, agent domain.AgentName, query string, limit int) ([]domain.MemoryEntry, error) {
	entries, err := s.List(ctx, agent)
	if err != nil {
		return nil, err
	}
	return rankBySimilarity(entries, query, limit), nil
}

// knownAgents is every AgentName that can own memory entries; List
// unions across all of them when called with an empty agent filter,
// since Put only indexes each entry under its own agent's set.
var knownAgents = []domain.AgentName{domain.AgentPlanner, domain.AgentExecutor, domain.AgentMonitor, domain.AgentRetriever}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, agent domain.AgentName) ([]domain.MemoryEntry, error) {
	agents := []domain.AgentName{agent}
	if agent == "" {
		agents = knownAgents
	}

	out := make([]domain.MemoryEntry, 0)
	for _, a := range agents {
		var ids []string
		err := withRetry(ctx, func() error {
			var listErr error
			ids, listErr = s.client.SMembers(ctx, activeSetKey(a)).Result()
			return listErr
		})
		if err != nil {
			return nil, fmt.Errorf("memory: list active set: %w", err)
		}
		for _, id := range ids {
			data, err := s.client.Get(ctx, memoryKey(id)).Bytes()
			if err == redis.Nil {
				// Expired episodic entry; prune the stale index reference.
				_ = s.client.SRem(ctx, activeSetKey(a), id).Err()
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("memory: get entry %s: %w", id, err)
			}
			var entry domain.MemoryEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				return nil, fmt.Errorf("memory: unmarshal entry %s: %w", id, err)
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

// DeleteByPlan implements Store, scanning every agent's active set
// since plan id is not part of the index key.
func (s *RedisStore) DeleteByPlan(ctx context.Context, planID string) (int, error) {
	n := 0
	for _, a := range knownAgents {
		ids, err := s.client.SMembers(ctx, activeSetKey(a)).Result()
		if err != nil {
			continue
		}
		for _, id := range ids {
			data, err := s.client.Get(ctx, memoryKey(id)).Bytes()
			if err != nil {
				continue
			}
			var entry domain.MemoryEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				continue
			}
			if pv, ok := entry.Context["plan_id"].(string); ok && pv == planID {
				_ = s.client.Del(ctx, memoryKey(id)).Err()
				_ = s.client.SRem(ctx, activeSetKey(a), id).Err()
				n++
			}
		}
	}
	return n, nil
}

func memoryKey(id string) string {
	return memoryKeyPrefix + id
}

func activeSetKey(agent domain.AgentName) string {
	return fmt.Sprintf(activeMemSetFmt, agent)
}
