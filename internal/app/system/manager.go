package system

import (
	"context"
	"fmt"

	"github.com/visasight/prediction-service/internal/logging"
)

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	services []Service
	started  []Service
	log      *logging.Logger
}

// NewManager builds an empty manager.
func NewManager(log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default("system")
	}
	return &Manager{log: log}
}

// Register appends a service to the start order.
func (m *Manager) Register(svc Service) {
	m.services = append(m.services, svc)
}

// Start brings up every registered service. The first failure stops the
// already-started ones and is returned.
func (m *Manager) Start(ctx context.Context) error {
	for _, svc := range m.services {
		m.log.WithField("component", svc.Name()).Info("starting")
		if err := svc.Start(ctx); err != nil {
			m.log.WithError(err).WithField("component", svc.Name()).Error("start failed")
			m.Stop(ctx)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.started = append(m.started, svc)
	}
	return nil
}

// Stop shuts down started services in reverse order. Errors are logged, not
// propagated, so one broken component cannot block the rest of shutdown.
func (m *Manager) Stop(ctx context.Context) {
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		if err := svc.Stop(ctx); err != nil {
			m.log.WithError(err).WithField("component", svc.Name()).Warn("stop failed")
		}
	}
	m.started = nil
}
