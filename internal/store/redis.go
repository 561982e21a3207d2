package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"

	"modelops/orchestrator/internal/domain"
)

const (
	planKeyPrefix  = "plan:"
	auditKeyPrefix = "plan:audit:"
	activePlansSet = "plans:active"
)

// RedisStore persists plans and their audit trails, following the
// same marshal-to-JSON/SET/SADD-index pattern as internal/registry's
// agent store. Plans have no TTL: they are durable until soft-deleted.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a PlanStore backed by Redis.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements PlanStore.
func (s *RedisStore) Get(ctx context.Context, planID string) (*domain.DeploymentPlan, error) {
	var data []byte
	err := withRetry(ctx, func() error {
		var getErr error
		data, getErr = s.client.Get(ctx, planKey(planID)).Bytes()
		return getErr
	})
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get plan: %w", err)
	}
	var plan domain.DeploymentPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("store: unmarshal plan: %w", err)
	}
	return &plan, nil
}

// Put implements PlanStore.
func (s *RedisStore) Put(ctx context.Context, plan *domain.DeploymentPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("store: marshal plan: %w", err)
	}
	err = withRetry(ctx, func() error {
		return s.client.Set(ctx, planKey(plan.PlanID), data, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("store: set plan: %w", err)
	}
	return withRetry(ctx, func() error {
		return s.client.SAdd(ctx, activePlansSet, plan.PlanID).Err()
	})
}

// List implements PlanStore.
func (s *RedisStore) List(ctx context.Context, filter Filter) ([]*domain.DeploymentPlan, error) {
	var ids []string
	err := withRetry(ctx, func() error {
		var listErr error
		ids, listErr = s.client.SMembers(ctx, activePlansSet).Result()
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("store: list active plans: %w", err)
	}
	out := make([]*domain.DeploymentPlan, 0, len(ids))
	for _, id := range ids {
		plan, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		if filter.matches(plan) {
			out = append(out, plan)
		}
	}
	return out, nil
}

// Delete implements PlanStore as a soft delete: the plan record and
// its audit trail are retained, only its status flips (spec §4.1).
func (s *RedisStore) Delete(ctx context.Context, planID string) error {
	plan, err := s.Get(ctx, planID)
	if err != nil {
		return err
	}
	plan.Status = domain.StatusDeleted
	plan.Deleted = true
	return s.Put(ctx, plan)
}

// WriteAuditRecord implements audit.Writer, appending to a Redis list
// so history accumulates without overwriting prior entries.
func (s *RedisStore) WriteAuditRecord(ctx context.Context, rec domain.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal audit record: %w", err)
	}
	return s.client.RPush(ctx, auditKey(rec.PlanID), data).Err()
}

// AuditLog implements PlanStore.
func (s *RedisStore) AuditLog(ctx context.Context, planID string) ([]domain.AuditRecord, error) {
	raw, err := s.client.LRange(ctx, auditKey(planID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list audit log: %w", err)
	}
	out := make([]domain.AuditRecord, 0, len(raw))
	for _, r := range raw {
		var rec domain.AuditRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			return nil, fmt.Errorf("store: unmarshal audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func planKey(id string) string  { return planKeyPrefix + id }
func auditKey(id string) string { return auditKeyPrefix + id }

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
