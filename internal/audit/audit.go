// Package audit implements AuditSink (spec §4.8): an append-only,
// at-least-once event log. Writes are buffered through a bounded
// in-process channel drained by a dedicated flusher goroutine, the
// concurrency shape the teacher uses for its health-monitor and
// registry background loops, with cenkalti/backoff/v4 retries on each
// delivery the way spec §7 requires before declaring audit_unavailable.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"modelops/orchestrator/internal/domain"
)

// Writer is the durable destination a Sink flushes records to. The
// in-memory and Redis PlanStore implementations both satisfy a
// trivial list-backed Writer for tests; production wires this to
// whatever durable log backs the deployment, e.g. a PlanStore-adjacent
// Redis list.
type Writer interface {
	WriteAuditRecord(ctx context.Context, rec domain.AuditRecord) error
}

// Sink is the AuditSink of spec §4.8.
type Sink struct {
	writer   Writer
	log      *zap.SugaredLogger
	buf      chan domain.AuditRecord
	maxRetry int
	done     chan struct{}

	pendingMu sync.Mutex
	pending   []domain.AuditRecord // records that exhausted delivery retries; redelivered on sweepInterval
}

const sweepInterval = 10 * time.Second

// New constructs a Sink with the given buffer capacity (AUDIT_BUFFER_SIZE)
// and starts its flusher goroutine. Call Close to drain and stop it.
func New(writer Writer, log *zap.SugaredLogger, bufferSize, maxRetry int) *Sink {
	s := &Sink{
		writer:   writer,
		log:      log,
		buf:      make(chan domain.AuditRecord, bufferSize),
		maxRetry: maxRetry,
		done:     make(chan struct{}),
	}
	go s.flush()
	return s
}

// Depth reports the number of records currently queued, including
// those parked in the retry-exhausted backlog, for the
// audit_buffer_depth gauge.
func (s *Sink) Depth() int {
	s.pendingMu.Lock()
	n := len(s.pending)
	s.pendingMu.Unlock()
	return len(s.buf) + n
}

// Record enqueues an audit record. If the buffer is full it blocks,
// applying the back-pressure spec §7 requires ("transitions that would
// produce an audit record block until the buffer has room") rather
// than silently dropping events.
func (s *Sink) Record(ctx context.Context, rec domain.AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	select {
	case s.buf <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the flusher after draining whatever is already queued.
func (s *Sink) Close() {
	close(s.buf)
	<-s.done
}

// flush drains buf and, per spec §7's audit_unavailable semantics,
// never drops a record that exhausted its delivery retries: it moves
// to a pending backlog that sweepInterval periodically retries, so the
// writer being down delays delivery rather than losing history.
func (s *Sink) flush() {
	defer close(s.done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case rec, ok := <-s.buf:
			if !ok {
				s.drainPendingBestEffort()
				return
			}
			s.deliverOrPark(rec)
		case <-ticker.C:
			s.sweepPending()
		}
	}
}

func (s *Sink) deliverOrPark(rec domain.AuditRecord) {
	if err := s.deliverWithRetry(rec); err != nil {
		s.log.Warnw("audit record delivery exhausted retries, buffering for later retry",
			"plan_id", rec.PlanID, "event_type", rec.EventType, "error", err)
		s.pendingMu.Lock()
		s.pending = append(s.pending, rec)
		s.pendingMu.Unlock()
	}
}

// sweepPending retries every backlogged record once. Records that fail
// again are re-parked rather than requeued onto buf, so a persistently
// unreachable writer doesn't spin the sweep ticker into a busy loop.
func (s *Sink) sweepPending() {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for _, rec := range batch {
		if err := s.deliverWithRetry(rec); err != nil {
			s.pendingMu.Lock()
			s.pending = append(s.pending, rec)
			s.pendingMu.Unlock()
		}
	}
}

func (s *Sink) drainPendingBestEffort() {
	s.sweepPending()
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.pending) > 0 {
		s.log.Warnw("audit sink closing with undelivered records still buffered", "count", len(s.pending))
	}
}

func (s *Sink) deliverWithRetry(rec domain.AuditRecord) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.maxRetry))
	return backoff.Retry(func() error {
		return s.writer.WriteAuditRecord(context.Background(), rec)
	}, policy)
}
