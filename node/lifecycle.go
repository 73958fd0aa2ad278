package node

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ServiceState represents the lifecycle state of a service.
type ServiceState int

const (
	StateCreated  ServiceState = iota // registered but not started
	StateStarting                     // start in progress
	StateRunning                      // running normally
	StateStopping                     // stop in progress
	StateStopped                      // stopped cleanly
	StateFailed                       // failed to start or stop
)

// String returns a human-readable name for the service state.
func (s ServiceState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Service is a subsystem that can be started and stopped by the
// lifecycle manager.
type Service interface {
	Start() error
	Stop() error
	Name() string
}

// LifecycleConfig holds configuration for the lifecycle manager.
type LifecycleConfig struct {
	// StopTimeout bounds each service's Stop call. A service that does not
	// return within it is marked failed and shutdown moves on; in-flight
	// work past the deadline is abandoned.
	StopTimeout time.Duration
	// MaxServices is the maximum number of services that can be registered.
	MaxServices int
}

// DefaultLifecycleConfig returns a LifecycleConfig with sensible defaults.
// The stop timeout leaves room for the API server's 10s request drain.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		StopTimeout: 15 * time.Second,
		MaxServices: 16,
	}
}

// serviceEntry tracks a registered service and its state.
type serviceEntry struct {
	svc       Service
	state     ServiceState
	startedAt time.Time
	err       error
	priority  int // lower value = start first
}

// LifecycleManager starts and stops services in priority order and tracks
// their states.
type LifecycleManager struct {
	mu       sync.Mutex
	config   LifecycleConfig
	services []*serviceEntry
	byName   map[string]*serviceEntry
}

// NewLifecycleManager creates a new LifecycleManager with the given configuration.
func NewLifecycleManager(config LifecycleConfig) *LifecycleManager {
	return &LifecycleManager{
		config: config,
		byName: make(map[string]*serviceEntry),
	}
}

// Register adds a service to the manager. Priority determines start order:
// lower values start first, and stop last.
func (lm *LifecycleManager) Register(svc Service, priority int) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if len(lm.services) >= lm.config.MaxServices {
		return errors.New("maximum number of services reached")
	}
	if _, exists := lm.byName[svc.Name()]; exists {
		return fmt.Errorf("service %q already registered", svc.Name())
	}

	entry := &serviceEntry{
		svc:      svc,
		state:    StateCreated,
		priority: priority,
	}
	lm.services = append(lm.services, entry)
	lm.byName[svc.Name()] = entry
	return nil
}

// StartAll starts all registered services in priority order (ascending).
// Returns a slice of errors for services that failed to start.
func (lm *LifecycleManager) StartAll() []error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for _, entry := range lm.sortedServices() {
		entry.state = StateStarting
		if err := entry.svc.Start(); err != nil {
			entry.state = StateFailed
			entry.err = err
			errs = append(errs, fmt.Errorf("start %s: %w", entry.svc.Name(), err))
			continue
		}
		entry.state = StateRunning
		entry.startedAt = time.Now()
	}
	return errs
}

// StopAll stops all running services in reverse priority order, so the
// outermost service (the API) drains before the ones behind it. Each Stop
// gets at most StopTimeout; one stuck service does not block the rest.
func (lm *LifecycleManager) StopAll() []error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	ordered := lm.sortedServices()
	var errs []error

	for i := len(ordered) - 1; i >= 0; i-- {
		entry := ordered[i]
		if entry.state != StateRunning {
			continue
		}
		entry.state = StateStopping
		if err := lm.stopWithTimeout(entry.svc); err != nil {
			entry.state = StateFailed
			entry.err = err
			errs = append(errs, fmt.Errorf("stop %s: %w", entry.svc.Name(), err))
			continue
		}
		entry.state = StateStopped
	}
	return errs
}

// stopWithTimeout invokes Stop and gives up after the configured timeout.
// A timed-out Stop goroutine is leaked; the process is exiting anyway.
func (lm *LifecycleManager) stopWithTimeout(svc Service) error {
	if lm.config.StopTimeout <= 0 {
		return svc.Stop()
	}
	done := make(chan error, 1)
	go func() { done <- svc.Stop() }()
	select {
	case err := <-done:
		return err
	case <-time.After(lm.config.StopTimeout):
		return fmt.Errorf("stop timed out after %s", lm.config.StopTimeout)
	}
}

// GetState returns the current state of a service by name. Returns
// StateFailed if the service is not found.
func (lm *LifecycleManager) GetState(name string) ServiceState {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	entry, ok := lm.byName[name]
	if !ok {
		return StateFailed
	}
	return entry.state
}

// ServiceCount returns the total number of registered services.
func (lm *LifecycleManager) ServiceCount() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.services)
}

// RunningCount returns the number of services currently in the running state.
func (lm *LifecycleManager) RunningCount() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	count := 0
	for _, entry := range lm.services {
		if entry.state == StateRunning {
			count++
		}
	}
	return count
}

// HealthCheck reports, per service, whether it is running.
func (lm *LifecycleManager) HealthCheck() map[string]bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	result := make(map[string]bool, len(lm.services))
	for _, entry := range lm.services {
		result[entry.svc.Name()] = entry.state == StateRunning
	}
	return result
}

// sortedServices returns the services sorted by priority (ascending).
// Caller must hold lm.mu.
func (lm *LifecycleManager) sortedServices() []*serviceEntry {
	sorted := make([]*serviceEntry, len(lm.services))
	copy(sorted, lm.services)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	return sorted
}
