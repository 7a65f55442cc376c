package clients

import (
	"log/slog"

	"github.com/sony/gobreaker"

	"github.com/rm01-bsp/bootseq/internal/config"
)

// NewCircuitBreaker returns a breaker that opens after cfg.MaxFailures consecutive failures and lets a single
// trial request through once cfg.OpenTimeout has passed. State changes are logged.
func NewCircuitBreaker(name string, cfg config.BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := max(cfg.MaxFailures, 1)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}
