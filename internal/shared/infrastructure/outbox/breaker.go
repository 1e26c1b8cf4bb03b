package outbox

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrPublisherUnavailable is returned while the publisher circuit is open.
var ErrPublisherUnavailable = errors.New("outbox publisher unavailable")

// BreakerConfig configures the circuit breaker around the publisher.
type BreakerConfig struct {
	Enabled bool
	// MaxRequests is how many probes pass while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts; zero never clears them.
	Interval time.Duration
	// Timeout is how long the circuit stays open.
	Timeout time.Duration
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold uint32
}

// publishGuard runs publishes through a breaker, or directly when disabled.
type publishGuard struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

func newPublishGuard(cfg BreakerConfig, logger *slog.Logger) publishGuard {
	if !cfg.Enabled {
		return publishGuard{}
	}
	threshold := max(cfg.FailureThreshold, 1)
	return publishGuard{cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "outbox-publisher",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("publisher circuit changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})}
}

func (g publishGuard) do(publish func() error) error {
	if g.cb == nil {
		return publish()
	}
	_, err := g.cb.Execute(func() (struct{}, error) {
		return struct{}{}, publish()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrPublisherUnavailable
	}
	return err
}

func (g publishGuard) state() string {
	if g.cb == nil {
		return "disabled"
	}
	return g.cb.State().String()
}
