// Package shutdown coordinates graceful shutdown of the keygate server.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State represents the current shutdown state.
type State string

const (
	// StateRunning indicates the server is serving normally.
	StateRunning State = "running"
	// StateDraining indicates health checks fail so load balancers stop routing here.
	StateDraining State = "draining"
	// StateStopping indicates registered components are being stopped.
	StateStopping State = "stopping"
	// StateComplete indicates shutdown is complete.
	StateComplete State = "complete"
)

// StepFunc stops one component. It must return once ctx is done.
type StepFunc func(ctx context.Context) error

type step struct {
	name string
	fn   StepFunc
}

// Status represents the current shutdown status.
type Status struct {
	State          State         `json:"state"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	TimeRemaining  time.Duration `json:"time_remaining,omitempty"`
	StepsCompleted int           `json:"steps_completed"`
	StepsTotal     int           `json:"steps_total"`
	Message        string        `json:"message,omitempty"`
}

// Config holds configuration for the shutdown manager.
type Config struct {
	// Timeout bounds the whole shutdown, drain included.
	Timeout time.Duration

	// DrainDelay is how long health checks report draining before components stop.
	DrainDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:    30 * time.Second,
		DrainDelay: 5 * time.Second,
	}
}

// Manager runs registered stop steps in registration order.
type Manager struct {
	config       Config
	logger       zerolog.Logger
	mu           sync.RWMutex
	state        State
	startedAt    *time.Time
	steps        []step
	completed    int
	doneCh       chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewManager creates a new shutdown manager.
func NewManager(config Config, logger zerolog.Logger) *Manager {
	return &Manager{
		config: config,
		logger: logger.With().Str("component", "shutdown_manager").Logger(),
		state:  StateRunning,
		doneCh: make(chan struct{}),
	}
}

// Register adds a step. Steps run in the order they were registered, so
// register the HTTP server before the components it depends on.
func (m *Manager) Register(name string, fn StepFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{name: name, fn: fn})
}

// Draining reports whether shutdown has started.
func (m *Manager) Draining() bool {
	return m.GetState() != StateRunning
}

// GetState returns the current shutdown state.
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetStatus returns the current shutdown status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		State:          m.state,
		StartedAt:      m.startedAt,
		StepsCompleted: m.completed,
		StepsTotal:     len(m.steps),
	}

	if m.startedAt != nil {
		remaining := m.config.Timeout - time.Since(*m.startedAt)
		if remaining > 0 {
			status.TimeRemaining = remaining
		}
	}

	switch m.state {
	case StateRunning:
		status.Message = "Server is running normally"
	case StateDraining:
		status.Message = "Server is draining, not accepting new traffic"
	case StateStopping:
		status.Message = "Stopping components"
	case StateComplete:
		status.Message = "Shutdown complete"
	}

	return status
}

// Shutdown drains, then runs every step. It blocks until all steps returned or
// the timeout passed. Repeated calls return the first call's result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.doShutdown(ctx)
	})
	return m.shutdownErr
}

func (m *Manager) doShutdown(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, m.config.Timeout)
	defer cancel()

	now := time.Now()
	m.mu.Lock()
	m.startedAt = &now
	m.state = StateDraining
	steps := append([]step(nil), m.steps...)
	m.mu.Unlock()

	m.logger.Info().
		Dur("timeout", m.config.Timeout).
		Dur("drain_delay", m.config.DrainDelay).
		Int("steps", len(steps)).
		Msg("initiating graceful shutdown")

	if m.config.DrainDelay > 0 {
		select {
		case <-time.After(m.config.DrainDelay):
		case <-ctx.Done():
			m.logger.Warn().Msg("shutdown deadline reached during drain")
		}
	}

	m.mu.Lock()
	m.state = StateStopping
	m.mu.Unlock()

	var errs []error
	for _, s := range steps {
		start := time.Now()
		err := m.runStep(ctx, s)
		logger := m.logger.With().Str("step", s.name).Dur("duration", time.Since(start)).Logger()
		if err != nil {
			logger.Error().Err(err).Msg("shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		} else {
			logger.Debug().Msg("shutdown step complete")
		}

		m.mu.Lock()
		m.completed++
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.state = StateComplete
	m.mu.Unlock()
	close(m.doneCh)

	m.logger.Info().Dur("duration", time.Since(now)).Int("failed_steps", len(errs)).Msg("graceful shutdown complete")
	return errors.Join(errs...)
}

// runStep runs one step and gives up when the shutdown deadline passes.
func (m *Manager) runStep(ctx context.Context, s step) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("skipped: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("abandoned: %w", ctx.Err())
	}
}

// Done returns a channel that is closed when shutdown is complete.
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}

// WaitForShutdown blocks until shutdown is complete.
func (m *Manager) WaitForShutdown() {
	<-m.doneCh
}
