package reconnect

import (
	"context"
	"sync"
	"time"

	"abbot/pkg/logger"
)

// Manager manages reconnections with exponential backoff and a circuit
// breaker. General purpose: used for the payment-stream WebSocket, usable
// for any long-lived connection.
type Manager struct {
	minBackoff        time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	maxRetries        int
	circuitResetAfter time.Duration

	mu                  sync.Mutex
	currentBackoff      time.Duration
	consecutiveFailures int
	totalReconnects     int
	circuitOpen         bool
	circuitOpenedAt     time.Time

	log *logger.Logger
}

// Config configures the reconnect manager
type Config struct {
	MinBackoff        time.Duration // initial backoff (default 1s)
	MaxBackoff        time.Duration // cap (default 5m)
	BackoffMultiplier float64       // exponential factor (default 2.0)
	MaxRetries        int           // consecutive failures before the circuit opens (default 10)
	CircuitResetAfter time.Duration // wait before retrying after the circuit opens (default 5m)
}

// NewManager creates a new reconnect manager with sensible defaults
func NewManager(cfg Config, log *logger.Logger) *Manager {
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.BackoffMultiplier == 0 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 10
	}
	if cfg.CircuitResetAfter == 0 {
		cfg.CircuitResetAfter = 5 * time.Minute
	}

	return &Manager{
		minBackoff:        cfg.MinBackoff,
		maxBackoff:        cfg.MaxBackoff,
		backoffMultiplier: cfg.BackoffMultiplier,
		maxRetries:        cfg.MaxRetries,
		circuitResetAfter: cfg.CircuitResetAfter,
		currentBackoff:    cfg.MinBackoff,
		log:               log,
	}
}

// RecordSuccess resets the backoff after a successful connection.
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures = 0
	m.currentBackoff = m.minBackoff
	m.circuitOpen = false
	m.totalReconnects++
}

// RecordFailure registers a failed attempt and returns the wait before the
// next one. Opens the circuit after maxRetries consecutive failures.
func (m *Manager) RecordFailure() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures++
	wait := m.currentBackoff

	next := time.Duration(float64(m.currentBackoff) * m.backoffMultiplier)
	if next > m.maxBackoff {
		next = m.maxBackoff
	}
	m.currentBackoff = next

	if m.consecutiveFailures >= m.maxRetries && !m.circuitOpen {
		m.circuitOpen = true
		m.circuitOpenedAt = time.Now()
		m.log.Warnf("Circuit breaker opened after %d consecutive failures", m.consecutiveFailures)
	}

	return wait
}

// CanAttempt reports whether a connection attempt is currently allowed.
func (m *Manager) CanAttempt() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.circuitOpen {
		return true
	}
	if time.Since(m.circuitOpenedAt) > m.circuitResetAfter {
		m.circuitOpen = false
		m.consecutiveFailures = 0
		m.currentBackoff = m.minBackoff
		m.log.Info("Circuit breaker reset, allowing reconnect attempts")
		return true
	}
	return false
}

// Wait sleeps for the given duration or until the context is cancelled.
func Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
