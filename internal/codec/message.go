package codec

import (
	"fmt"

	"github.com/syntrixbase/fanout/internal/subscription"
	"github.com/syntrixbase/fanout/pkg/model"
)

// Kind discriminates the message carried by an envelope.
type Kind uint16

const (
	KindSubscriptionAdd Kind = iota + 1
	KindSubscriptionClose
	KindTimeseriesUpdate
	KindTimeseriesDelete
	KindAttributesUpdate
	KindAttributesDelete
	KindAlarmUpdate
	KindAlarmDelete
	KindNotificationUpdate
	KindNotificationRequestUpdate
	KindTelemetrySubUpdate
	KindAlarmSubUpdate
	KindNotificationsSubUpdate
	KindDeviceInactivityTimeout
	KindSubscriptionResync
)

var kindNames = map[Kind]string{
	KindSubscriptionAdd:           "subscription_add",
	KindSubscriptionClose:         "subscription_close",
	KindTimeseriesUpdate:          "timeseries_update",
	KindTimeseriesDelete:          "timeseries_delete",
	KindAttributesUpdate:          "attributes_update",
	KindAttributesDelete:          "attributes_delete",
	KindAlarmUpdate:               "alarm_update",
	KindAlarmDelete:               "alarm_delete",
	KindNotificationUpdate:        "notification_update",
	KindNotificationRequestUpdate: "notification_request_update",
	KindTelemetrySubUpdate:        "telemetry_sub_update",
	KindAlarmSubUpdate:            "alarm_sub_update",
	KindNotificationsSubUpdate:    "notifications_sub_update",
	KindDeviceInactivityTimeout:   "device_inactivity_timeout",
	KindSubscriptionResync:        "subscription_resync",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint16(k))
}

// Message is a decoded envelope body.
type Message interface {
	Kind() Kind
}

// SubscriptionAdd registers a subscription with the partition owner.
type SubscriptionAdd struct {
	Subscription subscription.Subscription
}

func (*SubscriptionAdd) Kind() Kind { return KindSubscriptionAdd }

// SubscriptionClose cancels a subscription at the partition owner.
type SubscriptionClose struct {
	SessionID      string
	SubscriptionID int32
}

func (*SubscriptionClose) Kind() Kind { return KindSubscriptionClose }

// TimeseriesUpdate is a raw time-series write forwarded to the owner.
type TimeseriesUpdate struct {
	TenantID model.TenantID
	EntityID model.EntityID
	Entries  []model.TsKvEntry
}

func (*TimeseriesUpdate) Kind() Kind { return KindTimeseriesUpdate }

// TimeseriesDelete is a raw time-series delete forwarded to the owner.
type TimeseriesDelete struct {
	TenantID model.TenantID
	EntityID model.EntityID
	Keys     []string
}

func (*TimeseriesDelete) Kind() Kind { return KindTimeseriesDelete }

// AttributesUpdate is a raw attribute write forwarded to the owner.
type AttributesUpdate struct {
	TenantID   model.TenantID
	EntityID   model.EntityID
	Scope      model.AttributeScope
	Attributes []model.AttributeKvEntry
}

func (*AttributesUpdate) Kind() Kind { return KindAttributesUpdate }

// AttributesDelete is a raw attribute delete forwarded to the owner.
type AttributesDelete struct {
	TenantID model.TenantID
	EntityID model.EntityID
	Scope    model.AttributeScope
	Keys     []string
}

func (*AttributesDelete) Kind() Kind { return KindAttributesDelete }

// AlarmChange is an alarm update or delete forwarded to the owner.
type AlarmChange struct {
	TenantID model.TenantID
	EntityID model.EntityID
	Alarm    *model.AlarmInfo
	Deleted  bool
}

func (m *AlarmChange) Kind() Kind {
	if m.Deleted {
		return KindAlarmDelete
	}
	return KindAlarmUpdate
}

// NotificationUpdate is a notification change for one recipient.
type NotificationUpdate struct {
	TenantID    model.TenantID
	RecipientID model.EntityID
	Update      model.NotificationUpdate
}

func (*NotificationUpdate) Kind() Kind { return KindNotificationUpdate }

// NotificationRequestUpdate is broadcast to every node.
type NotificationRequestUpdate struct {
	TenantID model.TenantID
	Update   model.NotificationRequestUpdate
}

func (*NotificationRequestUpdate) Kind() Kind { return KindNotificationRequestUpdate }

// SubscriptionUpdate carries an update to the node holding the session.
type SubscriptionUpdate struct {
	SessionID string
	Update    subscription.Update
}

func (m *SubscriptionUpdate) Kind() Kind {
	switch m.Update.(type) {
	case *subscription.AlarmUpdate:
		return KindAlarmSubUpdate
	case *subscription.NotificationsUpdate:
		return KindNotificationsSubUpdate
	default:
		return KindTelemetrySubUpdate
	}
}

// InactivityTimeout tells the device-state service about a changed
// inactivity timeout.
type InactivityTimeout struct {
	TenantID model.TenantID
	DeviceID model.EntityID
	Timeout  int64
}

func (*InactivityTimeout) Kind() Kind { return KindDeviceInactivityTimeout }

// SubscriptionResync asks a session node to register again every
// subscription whose entity falls in Partitions. A node sends it after it
// starts following newly owned partitions.
type SubscriptionResync struct {
	ServiceID  string
	Partitions []int
}

func (*SubscriptionResync) Kind() Kind { return KindSubscriptionResync }
