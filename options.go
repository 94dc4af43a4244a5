package memgo

// config holds the knobs shared by the provider-backed allocators.
type config struct {
	provider     Provider
	logger       *Logger
	metrics      MetricsCollector
	alignment    int
	minBlockSize int // buddy only
}

// Option configures allocator construction.
//
// Options exist to avoid exploding the constructor surface; not every
// option applies to every allocator (WithMinBlockSize is buddy-only,
// WithAlignment applies to stack and arena) and inapplicable options are
// ignored.
type Option func(*config)

func defaultConfig() config {
	return config{
		provider:     HeapProvider{},
		logger:       NoopLogger(),
		metrics:      NoopMetricsCollector{},
		alignment:    DefaultAlignment,
		minBlockSize: DefaultBuddyMinBlockSize,
	}
}

// WithProvider sets the raw memory provider backing the allocator.
//
// If nil is passed, HeapProvider is used.
func WithProvider(p Provider) Option {
	return func(c *config) {
		if p == nil {
			p = HeapProvider{}
		}
		c.provider = p
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(c *config) {
		if l == nil {
			l = NoopLogger()
		}
		c.logger = l
	}
}

// WithMetrics sets the metrics collector. If nil is passed, metrics are
// disabled.
func WithMetrics(m MetricsCollector) Option {
	return func(c *config) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		c.metrics = m
	}
}

// WithAlignment sets the default alignment applied by Alloc when the caller
// does not request one explicitly. Must be a power of two; constructors
// reject anything else.
func WithAlignment(align int) Option {
	return func(c *config) {
		c.alignment = align
	}
}

// WithMinBlockSize sets the buddy allocator's minimum block size (the order
// zero split granularity). Must be a power of two and at least 16 bytes.
func WithMinBlockSize(size int) Option {
	return func(c *config) {
		c.minBlockSize = size
	}
}
