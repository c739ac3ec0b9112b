package services

import (
	"context"
	"errors"
	"fmt"
)

// Start brings the node up: the catch-up executor, the ingress consumer,
// membership (which assigns partitions and fires the first partition event)
// and finally the server.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("services already started")
	}

	if err := m.subManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start subscription manager: %w", err)
	}
	if err := m.ingress.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingress consumer: %w", err)
	}

	if m.membership != nil {
		if err := m.membership.Start(ctx); err != nil {
			return fmt.Errorf("failed to start membership: %w", err)
		}
	} else {
		m.partitions.UpdateMembership(m.static)
	}

	if m.server != nil {
		srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		m.serverCancel = cancel
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.server.Start(srvCtx); err != nil {
				m.logger.Error("Server stopped with error", "error", err)
			}
		}()
		m.server.SetServingStatus(IngressHealthService, true)
	}

	m.started = true
	m.logger.Info("Node started",
		"serviceID", m.partitions.ServiceID(),
		"partitions", m.cfg.Node.Partitions,
		"owned", len(m.partitions.OwnedPartitions()),
	)
	return nil
}
