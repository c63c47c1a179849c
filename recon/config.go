package recon

import (
	"time"

	"github.com/hazyhaar/sonde/catalog"
)

// Config configures the aggregation engine.
type Config struct {
	// MaxConcurrent caps in-flight source queries per Run. Default: 5.
	MaxConcurrent int
	// DefaultTimeout bounds one handler call (all retries of one attempt
	// share it is NOT the semantic: each attempt gets its own timeout).
	// Default: 10s.
	DefaultTimeout time.Duration
	// RetryAttempts is the total number of tries per source. Default: 3.
	RetryAttempts int
	// RetryBackoff is the linear backoff base: after the n-th failed
	// attempt the executor waits n * RetryBackoff. Default: 1s.
	RetryBackoff time.Duration
	// CacheTTL is the result cache validity window. Default: 1h.
	CacheTTL time.Duration
	// Stagger delays the i-th source dispatch by i * Stagger to smooth
	// burst load on shared endpoints. Default: 0 (disabled).
	Stagger time.Duration
}

func (c *Config) defaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	// Stagger 0 means no stagger; negative is normalized.
	if c.Stagger < 0 {
		c.Stagger = 0
	}
}

// ConfigFromSettings builds a Config from the catalog settings block.
// Zero-valued settings keep the engine defaults.
func ConfigFromSettings(s catalog.Settings) *Config {
	cfg := &Config{
		MaxConcurrent:  s.MaxConcurrentRequests,
		DefaultTimeout: s.DefaultTimeout(),
		RetryAttempts:  s.RetryAttempts,
	}
	cfg.defaults()
	return cfg
}
