package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Manager coordinates supervisors for multiple analyzers, keyed by name.
// It is a thin registry: each supervisor still owns its own process and
// state machine, and requests against an analyzer that is not running fail
// fast rather than starting it implicitly.
type Manager struct {
	mu   sync.RWMutex
	sups map[string]*Supervisor
	opts []SupervisorOption
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithSupervisorOptions sets options applied to every registered supervisor.
func WithSupervisorOptions(opts ...SupervisorOption) ManagerOption {
	return func(m *Manager) { m.opts = opts }
}

// NewManager creates an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{sups: make(map[string]*Supervisor)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register creates a supervisor for the named analyzer. Registering the
// same name again replaces the previous entry; the caller is responsible
// for stopping the old one first.
func (m *Manager) Register(name string, config ServerConfig, opts ...SupervisorOption) *Supervisor {
	all := make([]SupervisorOption, 0, len(m.opts)+len(opts))
	all = append(all, m.opts...)
	all = append(all, opts...)
	sup := NewSupervisor(config, all...)

	m.mu.Lock()
	m.sups[name] = sup
	m.mu.Unlock()
	return sup
}

// Supervisor returns the supervisor registered under name.
func (m *Manager) Supervisor(name string) (*Supervisor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sup, ok := m.sups[name]
	return sup, ok
}

// Names returns the registered analyzer names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sups))
	for name := range m.sups {
		names = append(names, name)
	}
	return names
}

// Start starts the named analyzer.
func (m *Manager) Start(ctx context.Context, name string) error {
	sup, ok := m.Supervisor(name)
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownAnalyzer)
	}
	return sup.Start(ctx)
}

// Stop stops the named analyzer.
func (m *Manager) Stop(ctx context.Context, name string) error {
	sup, ok := m.Supervisor(name)
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownAnalyzer)
	}
	return sup.Stop(ctx)
}

// Call routes a request to the named analyzer.
func (m *Manager) Call(ctx context.Context, name, method string, params, result any) error {
	sup, ok := m.Supervisor(name)
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownAnalyzer)
	}
	return sup.Call(ctx, method, params, result)
}

// CallTimeout routes a request with an explicit timeout.
func (m *Manager) CallTimeout(ctx context.Context, name, method string, params, result any, timeout time.Duration) error {
	sup, ok := m.Supervisor(name)
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownAnalyzer)
	}
	return sup.CallTimeout(ctx, method, params, result, timeout)
}

// Running returns the names of analyzers currently in the running state.
func (m *Manager) Running() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, sup := range m.sups {
		if sup.IsRunning() {
			names = append(names, name)
		}
	}
	return names
}

// Shutdown stops every registered analyzer in parallel and returns the
// combined error, if any.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	sups := make([]*Supervisor, 0, len(m.sups))
	for _, sup := range m.sups {
		sups = append(sups, sup)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, sup := range sups {
		sup := sup
		g.Go(func() error {
			return sup.Stop(ctx)
		})
	}
	return g.Wait()
}
