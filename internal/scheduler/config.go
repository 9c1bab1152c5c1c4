package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// PollInterval is the delay between poll cycles.
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxConcurrent is the maximum number of due tasks run at once.
	MaxConcurrent int `yaml:"max_concurrent"`
	// ByHandler defines per-handler concurrency limits.
	ByHandler map[string]int `yaml:"by_handler,omitempty"`
	// StaleAfter is how long a task may stay running before RecoverStale
	// returns it to pending.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:  time.Second,
		MaxConcurrent: 4,
		StaleAfter:    10 * time.Minute,
	}
}

// GetHandlerLimit returns the concurrency limit for a handler, or zero
// when only MaxConcurrent applies.
func (c *Config) GetHandlerLimit(handlerName string) int {
	if limit, ok := c.ByHandler[handlerName]; ok {
		return limit
	}
	return 0
}
