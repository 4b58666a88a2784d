package queue

import "time"

// Default processor settings.
const (
	DefaultProcessorInterval     = 100 * time.Millisecond
	DefaultMaxOperationsPerCycle = 10
	DefaultCleanupEveryCycles    = 100
	DefaultMaxOperationAge       = time.Hour
	DefaultProcessingTimeout     = 60 * time.Second
	DefaultSettleDelay           = 50 * time.Millisecond
)

// Config controls the processor loop.
type Config struct {
	ProcessorInterval     time.Duration `yaml:"interval"`
	MaxOperationsPerCycle int           `yaml:"max_operations_per_cycle"`
	CleanupEveryCycles    int           `yaml:"cleanup_every_cycles"`
	MaxOperationAge       time.Duration `yaml:"max_operation_age"`
	ProcessingTimeout     time.Duration `yaml:"processing_timeout"`

	// SettleDelay is slept before a snapshot refresh when the Applier does
	// not implement SettleWaiter. Zero disables the sleep.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// DefaultConfig returns the processor defaults.
func DefaultConfig() Config {
	return Config{
		ProcessorInterval:     DefaultProcessorInterval,
		MaxOperationsPerCycle: DefaultMaxOperationsPerCycle,
		CleanupEveryCycles:    DefaultCleanupEveryCycles,
		MaxOperationAge:       DefaultMaxOperationAge,
		ProcessingTimeout:     DefaultProcessingTimeout,
		SettleDelay:           DefaultSettleDelay,
	}
}

// withDefaults fills non-positive fields. SettleDelay keeps zero.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProcessorInterval <= 0 {
		c.ProcessorInterval = d.ProcessorInterval
	}
	if c.MaxOperationsPerCycle <= 0 {
		c.MaxOperationsPerCycle = d.MaxOperationsPerCycle
	}
	if c.CleanupEveryCycles <= 0 {
		c.CleanupEveryCycles = d.CleanupEveryCycles
	}
	if c.MaxOperationAge <= 0 {
		c.MaxOperationAge = d.MaxOperationAge
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = d.ProcessingTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	return c
}
