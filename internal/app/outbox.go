package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
	"github.com/Khushwant-Singh1/HackOps/pkg/metrics"
)

// OutboxStore is the part of the store the relay reads and settles.
type OutboxStore interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]model.DomainEvent, error)
	MarkOutboxPublished(ctx context.Context, ids []string, at time.Time) error
}

// Enqueuer accepts events for delivery. Enqueue reports false when the
// event was not accepted.
type Enqueuer interface {
	Enqueue(ctx context.Context, e model.DomainEvent) bool
}

// OutboxRelay moves pending outbox rows onto the delivery queue. A row is
// marked published only once a worker acknowledges its delivery; until then
// it is in flight and not offered again.
type OutboxRelay struct {
	store  OutboxStore
	queue  Enqueuer
	batch  int
	clock  model.Clock
	logger logger.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// RelayOption configures an OutboxRelay.
type RelayOption func(*OutboxRelay)

func WithRelayBatchSize(n int) RelayOption {
	return func(r *OutboxRelay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithRelayClock(c model.Clock) RelayOption {
	return func(r *OutboxRelay) {
		if c != nil {
			r.clock = c
		}
	}
}

func WithRelayLogger(l logger.Logger) RelayOption {
	return func(r *OutboxRelay) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewOutboxRelay creates a relay from store to q.
func NewOutboxRelay(store OutboxStore, q Enqueuer, opts ...RelayOption) *OutboxRelay {
	r := &OutboxRelay{
		store:    store,
		queue:    q,
		batch:    100,
		clock:    model.SystemClock{},
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("outbox")
	}
	return r
}

// RunOnce enqueues one batch of pending events and returns how many were
// handed to the queue.
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.store.ListPendingOutbox(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("list pending outbox: %w", err)
	}
	relayed := 0
	for _, e := range pending {
		if !r.claim(e.ID) {
			continue
		}
		if !r.queue.Enqueue(ctx, e) {
			r.release(e.ID)
			r.logger.Warn(ctx, "delivery queue rejected event; retrying next pass",
				logger.String("eventId", e.ID),
				logger.String("type", string(e.Type)))
			break
		}
		relayed++
	}
	if relayed > 0 {
		metrics.RecordOutboxRelayed(relayed)
		r.logger.Debug(ctx, "outbox relayed", logger.Int("events", relayed))
	}
	return relayed, nil
}

// Run relays on every tick until ctx is done.
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error(ctx, "outbox relay failed", logger.Error(err))
			}
		}
	}
}

// Ack marks a delivered event as published.
func (r *OutboxRelay) Ack(ctx context.Context, e model.DomainEvent) error {
	defer r.release(e.ID)
	if err := r.store.MarkOutboxPublished(ctx, []string{e.ID}, r.clock.Now()); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// Nack returns a failed event to the pending set.
func (r *OutboxRelay) Nack(ctx context.Context, e model.DomainEvent) {
	r.release(e.ID)
	r.logger.Warn(ctx, "event delivery failed; will be offered again",
		logger.String("eventId", e.ID),
		logger.String("type", string(e.Type)))
}

// InFlight returns the number of events awaiting a worker verdict.
func (r *OutboxRelay) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

func (r *OutboxRelay) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *OutboxRelay) release(id string) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}
