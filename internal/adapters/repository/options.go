package repository

const (
	defaultOutboxRetention = 10_000
	defaultOutboxBatch     = 100
)

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithOutboxRetention bounds how many published outbox rows are kept.
func WithOutboxRetention(n int) Option {
	return func(s *MemoryStore) {
		if n >= 0 {
			s.outboxRetention = n
		}
	}
}
