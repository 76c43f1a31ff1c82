package service

import (
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/lock"
	workerpool "github.com/Khushwant-Singh1/HackOps/internal/adapters/mq/worker"
	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/normalize"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence backend. The default is an in-memory store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLocker sets the assignment generation lock.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLockTTL bounds how long a crashed generation blocks others.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithExporter enables the analytics export.
func WithExporter(e Exporter) Option {
	return func(s *Service) {
		if e != nil {
			s.exporter = e
		}
	}
}

// WithNotifier sets where domain events are delivered.
func WithNotifier(n workerpool.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(c model.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDFunc overrides identifier generation.
func WithIDFunc(f model.IDFunc) Option {
	return func(s *Service) {
		if f != nil {
			s.newID = f
		}
	}
}

// WithWorkerCount sets the number of delivery workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the delivery queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the delivered event id cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithOutboxBatchSize sets how many events one relay pass moves.
func WithOutboxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.outboxBatch = n
		}
	}
}

// WithNormalizationMethod sets the default strategy. Unknown names are
// ignored.
func WithNormalizationMethod(m string) Option {
	return func(s *Service) {
		if n, err := normalize.ForMethod(normalize.Method(m)); err == nil {
			s.normalizationMethod = n.Method()
		}
	}
}

// WithNormalizationRetries bounds snapshot retries when scores change
// during normalization.
func WithNormalizationRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.normalizationRetries = n
		}
	}
}

// WithDefaultCoverageMin applies to rounds that never recorded constraints.
func WithDefaultCoverageMin(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.defaultCoverageMin = n
		}
	}
}

// WithBiasThreshold sets the outlier threshold of the reliability report.
func WithBiasThreshold(t float64) Option {
	return func(s *Service) {
		if t >= 0 {
			s.biasThreshold = t
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
