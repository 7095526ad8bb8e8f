package executor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"taskmill/internal/retry"
)

// BreakerRegistry manages per-collaborator circuit breakers so a wedged
// producer backend cannot burn retry budget across every task.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a new breaker registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Get returns the circuit breaker for the named collaborator role,
// creating it on first use.
func (r *BreakerRegistry) Get(role string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[role]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        role,
		MaxRequests: 3,                // test requests in half-open state
		Timeout:     30 * time.Second, // stay open before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is not a collaborator failure.
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return false
		},
	})
	r.breakers[role] = cb
	return cb
}

// throughBreaker runs fn through the role's circuit breaker. An open
// breaker surfaces as a transient phase failure: the attempt is consumed
// and the retry backoff gives the breaker time to recover.
func throughBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	result, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, retry.Transient(err)
		}
		return zero, err
	}
	return result.(T), nil
}
