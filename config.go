package bootseq

import "time"

// Config supplies the budgets and thresholds for a boot run.
type Config struct {
	// CriticalTimeout bounds the whole critical path.
	CriticalTimeout time.Duration `mapstructure:"critical_timeout"`
	// HardwareTimeout bounds the wait on the conjunction of every hardware signal.
	HardwareTimeout time.Duration `mapstructure:"hardware_timeout"`
	// ServiceTimeout bounds the wait on each service signal, unless the unit sets its own.
	ServiceTimeout time.Duration `mapstructure:"service_timeout"`
	// PollInterval is the interval at which readiness conditions are checked.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// DeferredDelay is the grace period before deferred units start working.
	DeferredDelay time.Duration `mapstructure:"deferred_delay"`
	// Baseline is the historical boot duration the run is compared against.
	Baseline time.Duration `mapstructure:"baseline"`
	// Targets classify the measured boot duration.
	Targets Targets `mapstructure:"targets"`
	// Capacity is the execution-context budget, in bytes, shared by all running units.
	Capacity int64 `mapstructure:"capacity"`
	// DefaultStack is reserved for units that do not set their own stack size.
	DefaultStack int64 `mapstructure:"default_stack"`
	// StrictSignals rejects sequences whose waits reference signals no unit sets.
	StrictSignals bool `mapstructure:"strict_signals"`
	// Sequential runs every unit to completion before the next one starts, without deferral.
	// It reproduces a legacy boot for baseline measurements.
	Sequential bool `mapstructure:"sequential"`
}

// DefaultConfig returns the budgets used by the RM01 board support package.
func DefaultConfig() Config {
	return Config{
		CriticalTimeout: 3 * time.Second,
		HardwareTimeout: 5 * time.Second,
		ServiceTimeout:  3 * time.Second,
		PollInterval:    100 * time.Millisecond,
		DeferredDelay:   3 * time.Second,
		Baseline:        36100 * time.Millisecond,
		Targets: Targets{
			Excellent: 20 * time.Second,
			Warning:   25 * time.Second,
		},
		Capacity:      64 << 10,
		DefaultStack:  4096,
		StrictSignals: true,
	}
}

// Validate returns an InvalidConfigError describing the first problem found in the receiver.
func (c Config) Validate() error {
	switch {
	case c.CriticalTimeout <= 0:
		return InvalidConfigError("critical_timeout must be positive")
	case c.HardwareTimeout <= 0:
		return InvalidConfigError("hardware_timeout must be positive")
	case c.ServiceTimeout <= 0:
		return InvalidConfigError("service_timeout must be positive")
	case c.PollInterval <= 0:
		return InvalidConfigError("poll_interval must be positive")
	case c.PollInterval >= c.HardwareTimeout || c.PollInterval >= c.ServiceTimeout:
		return InvalidConfigError("poll_interval must be shorter than every wait budget")
	case c.DeferredDelay < 0:
		return InvalidConfigError("deferred_delay must not be negative")
	case c.Baseline < 0:
		return InvalidConfigError("baseline must not be negative")
	case c.Targets.Excellent <= 0:
		return InvalidConfigError("targets.excellent must be positive")
	case c.Targets.Warning < c.Targets.Excellent:
		return InvalidConfigError("targets.warning must not be below targets.excellent")
	case c.Capacity <= 0:
		return InvalidConfigError("capacity must be positive")
	case c.DefaultStack <= 0 || c.DefaultStack > c.Capacity:
		return InvalidConfigError("default_stack must be positive and fit in capacity")
	}
	return nil
}
