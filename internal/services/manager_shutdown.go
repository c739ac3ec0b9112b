package services

import (
	"context"
	"errors"
	"fmt"
)

// Shutdown stops the node in reverse start order. Leaving the membership
// first lets peers take over the partitions while queued deliveries drain.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	return m.release(ctx)
}

// release stops whatever has been built. It is safe on a partially
// initialized manager.
func (m *Manager) release(ctx context.Context) error {
	var errs []error
	collect := func(what string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
		}
	}

	if m.server != nil {
		m.server.SetServingStatus(IngressHealthService, false)
		m.logger.Info("Stopping server")
		collect("server", m.server.Stop(ctx))
		if m.serverCancel != nil {
			m.serverCancel()
		}
		m.wg.Wait()
	}
	if m.membership != nil {
		collect("membership", m.membership.Stop(ctx))
	}
	if m.ingress != nil {
		collect("ingress", m.ingress.Stop(ctx))
	}
	if m.registry != nil {
		collect("registry", m.registry.Stop(ctx))
	}
	if m.subManager != nil {
		collect("subscription manager", m.subManager.Stop(ctx))
	}
	if m.outboxPool != nil {
		collect("outbox", m.outboxPool.Stop(ctx))
	}
	if m.publisher != nil {
		collect("publisher", m.publisher.Close())
	}
	if m.provider != nil {
		m.logger.Info("Closing queue provider")
		collect("queue", m.provider.Close())
	}
	if m.storage != nil {
		collect("storage", m.storage.Close(ctx))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.logger.Info("Node stopped")
	return nil
}
