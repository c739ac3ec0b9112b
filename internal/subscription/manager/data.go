package manager

import (
	"github.com/syntrixbase/fanout/internal/devicestate"
	"github.com/syntrixbase/fanout/internal/subscription"
	"github.com/syntrixbase/fanout/pkg/model"
)

func (m *Manager) OnTimeSeriesUpdate(tenantID model.TenantID, entityID model.EntityID, entries []model.TsKvEntry) {
	for _, sub := range m.EntitySubscriptions(entityID) {
		if s, ok := sub.(*subscription.TimeseriesSubscription); ok {
			m.serialize(s, func() { m.deliverTelemetry(s, s.SelectTimeseries(entries), true) })
		}
	}
	if entityID.Type == model.EntityTypeDevice {
		for _, e := range entries {
			m.updateInactivityTimeout(tenantID, entityID, e.KvEntry)
		}
	}
}

func (m *Manager) OnTimeSeriesDelete(tenantID model.TenantID, entityID model.EntityID, keys []string) {
	for _, sub := range m.EntitySubscriptions(entityID) {
		if s, ok := sub.(*subscription.TimeseriesSubscription); ok {
			m.serialize(s, func() { m.deliverTelemetry(s, s.SelectDeleted(keys), false) })
		}
	}
	if entityID.Type == model.EntityTypeDevice {
		m.deleteInactivityTimeout(tenantID, entityID, keys)
	}
}

func (m *Manager) OnAttributesUpdate(tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, attrs []model.AttributeKvEntry) {
	for _, sub := range m.EntitySubscriptions(entityID) {
		if s, ok := sub.(*subscription.AttributesSubscription); ok {
			m.serialize(s, func() { m.deliverTelemetry(s, s.SelectAttributes(scope, attrs), true) })
		}
	}
	if entityID.Type == model.EntityTypeDevice && scope == model.ScopeServer {
		for _, a := range attrs {
			m.updateInactivityTimeout(tenantID, entityID, a.KvEntry)
		}
	}
}

func (m *Manager) OnAttributesDelete(tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) {
	for _, sub := range m.EntitySubscriptions(entityID) {
		if s, ok := sub.(*subscription.AttributesSubscription); ok {
			m.serialize(s, func() { m.deliverTelemetry(s, s.SelectDeletedAttributes(scope, keys), false) })
		}
	}
	if entityID.Type == model.EntityTypeDevice && (scope == model.ScopeServer || scope == model.ScopeAny) {
		m.deleteInactivityTimeout(tenantID, entityID, keys)
	}
}

func (m *Manager) OnAlarmUpdate(tenantID model.TenantID, entityID model.EntityID, alarm *model.AlarmInfo) {
	m.onAlarm(entityID, alarm, false)
}

func (m *Manager) OnAlarmDeleted(tenantID model.TenantID, entityID model.EntityID, alarm *model.AlarmInfo) {
	m.onAlarm(entityID, alarm, true)
}

func (m *Manager) onAlarm(entityID model.EntityID, alarm *model.AlarmInfo, deleted bool) {
	if alarm == nil {
		m.logger.Warn("Empty alarm update", "entity", entityID.String())
		return
	}
	for _, sub := range m.EntitySubscriptions(entityID) {
		s, ok := sub.(*subscription.AlarmsSubscription)
		if !ok || !s.AcceptsAlarm(alarm, deleted) {
			continue
		}
		m.serialize(s, func() {
			m.deliver(s, &subscription.AlarmUpdate{SubID: s.SubscriptionID, Alarm: alarm, Deleted: deleted})
		})
	}
}

func (m *Manager) OnNotificationUpdate(tenantID model.TenantID, recipientID model.EntityID, update model.NotificationUpdate) {
	for _, sub := range m.EntitySubscriptions(recipientID) {
		if !sub.Type().IsNotification() {
			continue
		}
		u := update
		m.serialize(sub, func() {
			m.deliver(sub, &subscription.NotificationsUpdate{SubID: sub.Common().SubscriptionID, Update: &u})
		})
	}
}

// OnNotificationRequestUpdate reaches every notification subscription of a
// user of the tenant.
func (m *Manager) OnNotificationRequestUpdate(tenantID model.TenantID, update model.NotificationRequestUpdate) {
	var targets []subscription.Subscription
	m.mu.RLock()
	for entityID, subs := range m.ix.byEntity {
		if entityID.Type != model.EntityTypeUser {
			continue
		}
		for _, sub := range subs {
			if sub.Type().IsNotification() && sub.Common().TenantID == tenantID {
				targets = append(targets, sub)
			}
		}
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		u := update
		m.serialize(sub, func() {
			m.deliver(sub, &subscription.NotificationsUpdate{SubID: sub.Common().SubscriptionID, RequestUpdate: &u})
		})
	}
}

func (m *Manager) updateInactivityTimeout(tenantID model.TenantID, deviceID model.EntityID, kv model.KvEntry) {
	if kv.Key == devicestate.InactivityTimeoutKey && m.tracker != nil {
		m.tracker.OnInactivityTimeoutUpdate(tenantID, deviceID, kv.LongValue())
	}
}

func (m *Manager) deleteInactivityTimeout(tenantID model.TenantID, deviceID model.EntityID, keys []string) {
	for _, key := range keys {
		if key == devicestate.InactivityTimeoutKey && m.tracker != nil {
			m.tracker.OnInactivityTimeoutUpdate(tenantID, deviceID, 0)
		}
	}
}
