package subscription

import "github.com/syntrixbase/fanout/pkg/model"

// UpdateConsumer receives updates for a locally held subscription.
type UpdateConsumer interface {
	OnUpdate(sub Subscription, update Update)
}

// UpdateConsumerFunc adapts a function to UpdateConsumer.
type UpdateConsumerFunc func(sub Subscription, update Update)

func (f UpdateConsumerFunc) OnUpdate(sub Subscription, update Update) { f(sub, update) }

// LocalService accepts updates destined for sessions held by this node.
type LocalService interface {
	OnSubscriptionUpdate(sessionID string, update Update)
}

// ManagerService indexes subscriptions for the partitions this node owns.
type ManagerService interface {
	AddSubscription(sub Subscription) error
	CancelSubscription(sessionID string, subscriptionID int32)
}

// DataListener receives data-plane changes routed to the partition owner.
type DataListener interface {
	OnTimeSeriesUpdate(tenantID model.TenantID, entityID model.EntityID, entries []model.TsKvEntry)
	OnTimeSeriesDelete(tenantID model.TenantID, entityID model.EntityID, keys []string)
	OnAttributesUpdate(tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, attrs []model.AttributeKvEntry)
	OnAttributesDelete(tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string)
	OnAlarmUpdate(tenantID model.TenantID, entityID model.EntityID, alarm *model.AlarmInfo)
	OnAlarmDeleted(tenantID model.TenantID, entityID model.EntityID, alarm *model.AlarmInfo)
	OnNotificationUpdate(tenantID model.TenantID, recipientID model.EntityID, update model.NotificationUpdate)
	OnNotificationRequestUpdate(tenantID model.TenantID, update model.NotificationRequestUpdate)
}
