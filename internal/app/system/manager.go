package system

import (
	"context"
	"fmt"
	"sync"
)

// Manager starts and stops registered services in a deterministic order:
// registration order on Start, reverse order on Stop.
type Manager struct {
	mu       sync.Mutex
	services []Service
	names    map[string]struct{}
	started  bool
}

// NewManager creates an empty service manager.
func NewManager() *Manager {
	return &Manager{names: make(map[string]struct{})}
}

// Register adds a service. Names must be unique; registering after Start is
// an error.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("system: cannot register nil service")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("system: cannot register %q after start", svc.Name())
	}
	name := svc.Name()
	if name == "" {
		return fmt.Errorf("system: service name must not be empty")
	}
	if _, exists := m.names[name]; exists {
		return fmt.Errorf("system: service %q already registered", name)
	}
	m.names[name] = struct{}{}
	m.services = append(m.services, svc)
	return nil
}

// Start brings up every registered service in registration order. On the
// first failure it stops the services that already started, in reverse
// order, and returns the original error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("system: manager already started")
	}

	for i, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.services[j].Stop(ctx)
			}
			return fmt.Errorf("system: start %q: %w", svc.Name(), err)
		}
	}
	m.started = true
	return nil
}

// Stop shuts down every service in reverse registration order, collecting
// the first error but always attempting every stop.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	var firstErr error
	for i := len(m.services) - 1; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("system: stop %q: %w", svc.Name(), err)
		}
	}
	m.started = false
	return firstErr
}

// NoopService satisfies Service for components that need a lifecycle slot
// but no startup work.
type NoopService struct {
	ServiceName string
}

func (s NoopService) Name() string                   { return s.ServiceName }
func (s NoopService) Start(context.Context) error    { return nil }
func (s NoopService) Stop(ctx context.Context) error { return nil }
