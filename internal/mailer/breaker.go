package mailer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mirsubmit/backend/internal/metrics"
	"github.com/sony/gobreaker"
)

// BreakerConfig controls the circuit breaker around a Delivery.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig returns the settings used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "smtp-delivery",
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerDelivery fails fast with gobreaker.ErrOpenState while the wrapped
// transport keeps failing. Errors wrapping ErrInvalidMessage do not count as
// failures. It does not retry.
type BreakerDelivery struct {
	next Delivery
	cb   *gobreaker.CircuitBreaker
}

var _ Delivery = (*BreakerDelivery)(nil)

func NewBreakerDelivery(next Delivery, cfg BreakerConfig) *BreakerDelivery {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = DefaultBreakerConfig().ConsecutiveFailures
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidMessage)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &BreakerDelivery{next: next, cb: cb}
}

func (d *BreakerDelivery) Deliver(ctx context.Context, msg *Message) error {
	_, err := d.cb.Execute(func() (interface{}, error) {
		return nil, d.next.Deliver(ctx, msg)
	})
	return err
}

// State reports the breaker state.
func (d *BreakerDelivery) State() gobreaker.State {
	return d.cb.State()
}

// Instrument counts delivery results on m.
func Instrument(next Delivery, m *metrics.Metrics) Delivery {
	return DeliveryFunc(func(ctx context.Context, msg *Message) error {
		err := next.Deliver(ctx, msg)
		m.ObserveDelivery(err)
		return err
	})
}
