package external

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while an upstream is considered down.
var ErrCircuitOpen = errors.New("circuit open")

// newBreaker trips after consecutive upstream failures and probes again
// after timeout. Errors for which clientFault returns true do not count.
func newBreaker(name string, consecutive uint32, timeout time.Duration, clientFault func(error) bool) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= consecutive
		},
		IsSuccessful: func(err error) bool {
			return err == nil || (clientFault != nil && clientFault(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("component", "breaker").Str("upstream", name).
				Str("from", from.String()).Str("to", to.String()).Msg("circuit state changed")
		},
	})
}

// execute runs fn through cb and maps breaker rejections to ErrCircuitOpen.
func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrCircuitOpen
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}
