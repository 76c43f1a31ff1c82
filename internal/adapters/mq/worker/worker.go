// Package worker delivers domain events from the queue to the notification
// collaborator.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/mq/queue"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/dedupe"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
	"github.com/Khushwant-Singh1/HackOps/pkg/metrics"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 50 * time.Millisecond
	poolShutdownTimeout = 30 * time.Second
)

// Event is what workers read off the queue.
type Event = queue.Event

// Notifier is the notification collaborator. Deliveries are at-least-once;
// Event.ID is stable across redeliveries.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Acker settles an event with its source once delivery finished.
type Acker interface {
	Ack(ctx context.Context, e Event) error
	// Nack releases the event so the source offers it again later.
	Nack(ctx context.Context, e Event)
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events.
type Worker interface {
	// Run loops until ctx is canceled, Shutdown is called or the queue closes.
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker delivers events one at a time.
type InMemoryWorker struct {
	queue    Queue
	notifier Notifier
	acker    Acker
	deduper  dedupe.Deduper
	name     string

	maxAttempts  int
	retryBackoff time.Duration

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker. acker and deduper may be nil.
func NewInMemoryWorker(q Queue, n Notifier, acker Acker, d dedupe.Deduper, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:        q,
		notifier:     n,
		acker:        acker,
		deduper:      d,
		name:         "worker",
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBackoff,
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := w.process(ctx, e); err != nil {
				w.logger.Error(ctx, "event delivery abandoned",
					logger.String("event_id", e.ID),
					logger.String("type", string(e.Type)),
					logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker after its current event.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, e Event) error { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	start := time.Now()
	metrics.RecordQueueDequeue()
	metrics.UpdateWorkerActiveCount(1)
	defer func() {
		metrics.UpdateWorkerActiveCount(-1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if w.deduper != nil && w.deduper.SeenAndRecord(ctx, e.ID) {
		metrics.RecordEventDuplicate()
		w.logger.Debug(ctx, "duplicate event suppressed", logger.String("event_id", e.ID))
		return w.ack(ctx, e)
	}

	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err = w.notifier.Notify(ctx, e); err == nil {
			metrics.RecordEventDelivered(string(e.Type))
			return w.ack(ctx, e)
		}
		metrics.RecordWorkerError()
		w.logger.Warn(ctx, "event delivery failed",
			logger.String("event_id", e.ID),
			logger.Int("attempt", attempt),
			logger.Error(err))
		if attempt == w.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = w.maxAttempts
		case <-time.After(w.retryBackoff * time.Duration(attempt)):
		}
	}

	metrics.RecordEventDeliveryFailed()
	metrics.RecordErrorByComponent("worker", "delivery_failed")
	if w.deduper != nil {
		w.deduper.Unrecord(ctx, e.ID)
	}
	if w.acker != nil {
		w.acker.Nack(ctx, e)
	}
	return fmt.Errorf("deliver %s: %w", e.ID, err)
}

func (w *InMemoryWorker) ack(ctx context.Context, e Event) error { //nolint:gocritic // hugeParam
	if w.acker == nil {
		return nil
	}
	if err := w.acker.Ack(ctx, e); err != nil {
		return fmt.Errorf("ack %s: %w", e.ID, err)
	}
	return nil
}

// Pool manages multiple workers sharing one queue and one deduper.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates workerCount workers. Options apply to every worker.
func NewPool(workerCount int, q Queue, n Notifier, acker Acker, d dedupe.Deduper, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(q, n, acker, d, wopts...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start runs every worker in its own goroutine.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return shutdownCtx.Err()
		}
	}
	return nil
}
