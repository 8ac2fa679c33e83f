package app

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// newBreaker apre dopo fails errori consecutivi e riprova dopo openFor.
func newBreaker(name string, fails int, openFor time.Duration, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if fails < 1 {
		fails = 1
	}
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("breaker state change",
				zap.String("upstream", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}
