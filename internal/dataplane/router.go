// Package dataplane carries data-plane changes to the node that owns the
// changed entity.
package dataplane

import (
	"log/slog"

	"github.com/syntrixbase/fanout/internal/cluster"
	"github.com/syntrixbase/fanout/internal/codec"
	"github.com/syntrixbase/fanout/internal/subscription"
	"github.com/syntrixbase/fanout/pkg/model"
)

// Listener is the local subscription manager.
type Listener interface {
	subscription.DataListener
	Owns(tenantID model.TenantID, entityID model.EntityID) bool
}

// Sender publishes a message to another node. *outbox.Outbox implements it.
type Sender interface {
	Send(key, topic string, msg codec.Message) error
}

// Router applies a change locally when this node owns the entity and
// forwards it to the owner's partition topic otherwise. Changes of one
// entity are forwarded in call order.
type Router struct {
	partitions cluster.PartitionService
	local      Listener
	sender     Sender
	logger     *slog.Logger
}

var _ subscription.DataListener = (*Router)(nil)

func NewRouter(partitions cluster.PartitionService, local Listener, sender Sender, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		partitions: partitions,
		local:      local,
		sender:     sender,
		logger:     logger.With("component", "dataplane-router"),
	}
}

func (r *Router) OnTimeSeriesUpdate(tenantID model.TenantID, entityID model.EntityID, entries []model.TsKvEntry) {
	if r.local.Owns(tenantID, entityID) {
		r.local.OnTimeSeriesUpdate(tenantID, entityID, entries)
		return
	}
	r.forward(tenantID, entityID, &codec.TimeseriesUpdate{TenantID: tenantID, EntityID: entityID, Entries: entries})
}

func (r *Router) OnTimeSeriesDelete(tenantID model.TenantID, entityID model.EntityID, keys []string) {
	if r.local.Owns(tenantID, entityID) {
		r.local.OnTimeSeriesDelete(tenantID, entityID, keys)
		return
	}
	r.forward(tenantID, entityID, &codec.TimeseriesDelete{TenantID: tenantID, EntityID: entityID, Keys: keys})
}

func (r *Router) OnAttributesUpdate(tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, attrs []model.AttributeKvEntry) {
	if r.local.Owns(tenantID, entityID) {
		r.local.OnAttributesUpdate(tenantID, entityID, scope, attrs)
		return
	}
	r.forward(tenantID, entityID, &codec.AttributesUpdate{TenantID: tenantID, EntityID: entityID, Scope: scope, Attributes: attrs})
}

func (r *Router) OnAttributesDelete(tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) {
	if r.local.Owns(tenantID, entityID) {
		r.local.OnAttributesDelete(tenantID, entityID, scope, keys)
		return
	}
	r.forward(tenantID, entityID, &codec.AttributesDelete{TenantID: tenantID, EntityID: entityID, Scope: scope, Keys: keys})
}

func (r *Router) OnAlarmUpdate(tenantID model.TenantID, entityID model.EntityID, alarm *model.AlarmInfo) {
	if r.local.Owns(tenantID, entityID) {
		r.local.OnAlarmUpdate(tenantID, entityID, alarm)
		return
	}
	r.forward(tenantID, entityID, &codec.AlarmChange{TenantID: tenantID, EntityID: entityID, Alarm: alarm})
}

func (r *Router) OnAlarmDeleted(tenantID model.TenantID, entityID model.EntityID, alarm *model.AlarmInfo) {
	if r.local.Owns(tenantID, entityID) {
		r.local.OnAlarmDeleted(tenantID, entityID, alarm)
		return
	}
	r.forward(tenantID, entityID, &codec.AlarmChange{TenantID: tenantID, EntityID: entityID, Alarm: alarm, Deleted: true})
}

func (r *Router) OnNotificationUpdate(tenantID model.TenantID, recipientID model.EntityID, update model.NotificationUpdate) {
	if r.local.Owns(tenantID, recipientID) {
		r.local.OnNotificationUpdate(tenantID, recipientID, update)
		return
	}
	r.forward(tenantID, recipientID, &codec.NotificationUpdate{TenantID: tenantID, RecipientID: recipientID, Update: update})
}

// OnNotificationRequestUpdate reaches every live node; each one filters its
// own user subscriptions.
func (r *Router) OnNotificationRequestUpdate(tenantID model.TenantID, update model.NotificationRequestUpdate) {
	self := r.partitions.ServiceID()
	msg := &codec.NotificationRequestUpdate{TenantID: tenantID, Update: update}
	for _, serviceID := range r.partitions.Services() {
		if serviceID == self {
			r.local.OnNotificationRequestUpdate(tenantID, update)
			continue
		}
		topic := r.partitions.NotificationsTopic(serviceID)
		if err := r.sender.Send(tenantID.String(), topic, msg); err != nil {
			r.logger.Error("Failed to broadcast notification request update", "topic", topic, "error", err)
		}
	}
}

func (r *Router) forward(tenantID model.TenantID, entityID model.EntityID, msg codec.Message) {
	tpi := r.partitions.Resolve(tenantID, entityID)
	if err := r.sender.Send(entityID.String(), tpi.Topic, msg); err != nil {
		r.logger.Error("Failed to forward change",
			"kind", msg.Kind().String(), "entity", entityID.String(), "topic", tpi.Topic, "error", err)
	}
}
