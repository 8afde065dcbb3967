package database

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// ErrServiceUnavailable is returned when the circuit breaker is open or
// retries are exhausted. Callers map it to HTTP 503.
var ErrServiceUnavailable = errors.New("service unavailable")

const (
	defaultMaxAttempts     = 3
	defaultBaseDelay       = 1 * time.Second
	defaultMaxDelay        = 5 * time.Second
	defaultBreakerCooldown = 10 * time.Second
)

// Process-wide circuit breaker. A single flag shared across all requests is
// the point: one detected outage sheds load for every caller during the
// cooldown. Each process keeps its own breaker; no cross-process
// coordination.
var (
	breakerMu        sync.Mutex
	unavailableUntil time.Time

	// Tunable for tests
	retryMaxAttempts = defaultMaxAttempts
	retryBaseDelay   = defaultBaseDelay
	retryMaxDelay    = defaultMaxDelay
	breakerCooldown  = defaultBreakerCooldown
	sleep            = time.Sleep
)

// BreakerOpen reports whether the circuit breaker is currently rejecting calls
func BreakerOpen() bool {
	breakerMu.Lock()
	defer breakerMu.Unlock()
	return time.Now().Before(unavailableUntil)
}

func openBreaker() {
	breakerMu.Lock()
	unavailableUntil = time.Now().Add(breakerCooldown)
	breakerMu.Unlock()
	log.Printf("ERROR: Database connection failure detected - circuit open for %v", breakerCooldown)
}

// ResetBreaker closes the circuit breaker. Called after a successful
// (re)connect so a fresh connection is not penalized by a stale cooldown.
func ResetBreaker() {
	breakerMu.Lock()
	unavailableUntil = time.Time{}
	breakerMu.Unlock()
}

// Execute runs a persistent-store operation behind the circuit breaker with
// bounded retry. Transient failures (deadlocks, serialization conflicts,
// timeouts, connection resets, connection-pool exhaustion) are retried with
// exponential backoff; anything else propagates immediately. A
// connection-level failure opens the breaker so subsequent calls fail fast
// for the cooldown period.
func Execute(operation func() error) error {
	if BreakerOpen() {
		return fmt.Errorf("%w: database temporarily unavailable", ErrServiceUnavailable)
	}

	delay := retryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if isConnectionFailure(err) {
			openBreaker()
			return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}

		if !isTransientError(err) {
			return err
		}

		if attempt < retryMaxAttempts {
			log.Printf("Transient database error (attempt %d/%d): %v - retrying in %v", attempt, retryMaxAttempts, err, delay)
			sleep(delay)
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}
	}

	return fmt.Errorf("%w: retries exhausted: %v", ErrServiceUnavailable, lastErr)
}

// isTransientError identifies query-level failures worth retrying.
// Constraint violations and other logical errors must propagate untouched.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"deadlock",
		"serialization",
		"could not serialize",
		"connection reset",
		"timeout",
		"timed out",
		"deadline exceeded",
		"too many connections",
		"connection pool",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isConnectionFailure identifies failures of the connection itself, as
// opposed to a query that failed over a healthy connection.
func isConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"broken pipe",
		"bad connection",
		"no such host",
		"network is unreachable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
