package notification

import (
	"context"
	"time"

	"workflow-service/prometheus"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerTransport stops calling a failing provider for a cool-down period.
// While open, Send fails immediately and the item stays retryable.
type BreakerTransport struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerTransport wraps next with a circuit breaker that opens after
// failures consecutive errors and probes again after timeout.
func NewBreakerTransport(next Transport, failures uint32, timeout time.Duration, log *zap.Logger) *BreakerTransport {
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        "mail-transport",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			prometheus.SetEmailBreakerState(breakerStateValue(to))
		},
	}
	return &BreakerTransport{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Send implements Transport
func (t *BreakerTransport) Send(ctx context.Context, msg Message) (string, error) {
	out, err := t.cb.Execute(func() (interface{}, error) {
		return t.next.Send(ctx, msg)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
