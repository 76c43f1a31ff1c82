// Package service is the judging engine facade. It wires the domain
// components to the store, the generation lock, the domain event outbox,
// metrics and tracing, and is what the HTTP API calls.
package service

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/analytics"
	"github.com/Khushwant-Singh1/HackOps/internal/adapters/lock"
	eventqueue "github.com/Khushwant-Singh1/HackOps/internal/adapters/mq/queue"
	workerpool "github.com/Khushwant-Singh1/HackOps/internal/adapters/mq/worker"
	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/conflict"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/dedupe"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/ledger"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/normalize"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/rubric"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
	"github.com/Khushwant-Singh1/HackOps/pkg/metrics"
)

// Exporter receives the analytics feed of a round.
type Exporter interface {
	Export(ctx context.Context, feed analytics.Feed) error
}

// Service implements the judging operations.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	locker   lock.Locker
	exporter Exporter
	notifier workerpool.Notifier
	clock    model.Clock
	newID    model.IDFunc

	rubrics  *rubric.Registry
	ledger   *ledger.Ledger
	detector *conflict.Detector
	gates    *roundGates

	normalizeGroup singleflight.Group
	cacheMu        sync.Mutex
	cache          map[cacheKey]NormalizationResult

	// Delivery
	deduper    dedupe.Deduper
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	relay      *OutboxRelay

	// Configuration
	workerCount          int
	queueSize            int
	dedupeSize           int
	outboxBatch          int
	normalizationMethod  normalize.Method
	normalizationRetries int
	defaultCoverageMin   int
	biasThreshold        float64
	lockTTL              time.Duration

	// State
	started bool

	// Logging
	logger logger.Logger
}

type cacheKey struct {
	key     model.RoundKey
	method  normalize.Method
	version int64
}

// New constructs a Service. Domain operations work immediately; Start runs
// event delivery.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:          runtime.NumCPU(),
		queueSize:            10_000,
		dedupeSize:           100_000,
		outboxBatch:          100,
		normalizationMethod:  normalize.MethodZScore,
		normalizationRetries: 3,
		defaultCoverageMin:   1,
		biasThreshold:        1.0,
		lockTTL:              30 * time.Second,
		clock:                model.SystemClock{},
		newID:                model.NewID,
		cache:                make(map[cacheKey]NormalizationResult),
		gates:                newRoundGates(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("judging")
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}

	s.rubrics = rubric.NewRegistry(s.store, rubric.WithClock(s.clock), rubric.WithIDFunc(s.newID))
	s.ledger = ledger.New(s.store, ledger.WithClock(s.clock), ledger.WithIDFunc(s.newID))
	s.detector = conflict.NewDetector()
	return s
}

// Start initializes and starts outbox delivery.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting judging service...")

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.relay = NewOutboxRelay(s.store, s.eventQueue,
		WithRelayBatchSize(s.outboxBatch),
		WithRelayClock(s.clock),
		WithRelayLogger(s.logger.Named("outbox")))
	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.notifier, s.relay, s.deduper)
	s.workerPool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "judging service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains delivery and closes the store.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(ctx, "stopping judging service...")

	if s.workerPool != nil {
		if err := s.workerPool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "judging service stopped")
}

// RelayOutbox moves pending domain events onto the delivery queue.
func (s *Service) RelayOutbox(ctx context.Context) (int, error) {
	s.mu.RLock()
	relay := s.relay
	s.mu.RUnlock()
	if relay == nil {
		return 0, model.NewStateError("relay outbox", "service is not started")
	}
	return relay.RunOnce(ctx)
}

// Store exposes the underlying store for collaborators sharing the process.
func (s *Service) Store() repository.Store { return s.store }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":             s.started,
		"workerCount":         s.workerCount,
		"queueSize":           s.queueSize,
		"dedupeSize":          s.dedupeSize,
		"normalizationMethod": string(s.normalizationMethod),
	}
	if s.started {
		queueLen := s.eventQueue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["dedupeEntries"] = s.deduper.Size()
		stats["inFlightEvents"] = s.relay.InFlight()
		metrics.UpdateQueueSize(queueLen)
	}
	s.cacheMu.Lock()
	stats["cachedNormalizations"] = len(s.cache)
	s.cacheMu.Unlock()
	return stats
}

func (s *Service) checkWindow(ctx context.Context, eventID, op string) error {
	w, err := s.store.JudgingWindow(ctx, eventID)
	if err != nil {
		return err
	}
	if !w.Open(s.clock.Now()) {
		return model.NewStateError(op, "event %s is outside its judging window", eventID)
	}
	return nil
}

// observe records the outcome of an operation in logs and metrics.
func (s *Service) observe(ctx context.Context, op string, err error, fields ...logger.Field) {
	if err == nil {
		return
	}
	kind := model.KindName(err)
	metrics.RecordErrorByComponent("service", kind)
	fields = append(fields, logger.String("op", op), logger.String("kind", kind), logger.Error(err))
	if model.Kind(err) == nil && !errors.Is(err, context.Canceled) {
		s.logger.Error(ctx, "operation failed", fields...)
		return
	}
	s.logger.Debug(ctx, "operation rejected", fields...)
}
