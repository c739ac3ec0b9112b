// Package subscription defines the subscription and update types shared by
// the local registry, the partition-aware manager and the wire codec.
package subscription

import (
	"errors"
	"fmt"
	"sort"

	"github.com/syntrixbase/fanout/pkg/model"
)

// ErrNotOwnedPartition is returned when a subscription is routed to a node
// that does not own the entity's partition.
var ErrNotOwnedPartition = errors.New("partition is not owned by this node")

// Type discriminates subscription variants.
type Type int

const (
	TypeTimeseries Type = iota + 1
	TypeAttributes
	TypeAlarms
	TypeNotifications
	TypeNotificationsCount
)

func (t Type) String() string {
	switch t {
	case TypeTimeseries:
		return "TIMESERIES"
	case TypeAttributes:
		return "ATTRIBUTES"
	case TypeAlarms:
		return "ALARMS"
	case TypeNotifications:
		return "NOTIFICATIONS"
	case TypeNotificationsCount:
		return "NOTIFICATIONS_COUNT"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// IsNotification reports whether t is one of the notification variants.
func (t Type) IsNotification() bool {
	return t == TypeNotifications || t == TypeNotificationsCount
}

// Key identifies a subscription within the cluster.
type Key struct {
	SessionID      string
	SubscriptionID int32
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.SessionID, k.SubscriptionID)
}

// Base holds the fields common to every subscription variant.
type Base struct {
	// ServiceID is the node holding the client session.
	ServiceID      string
	SessionID      string
	SubscriptionID int32
	TenantID       model.TenantID
	EntityID       model.EntityID
}

// Key returns the (session, subscription) handle.
func (b *Base) Key() Key {
	return Key{SessionID: b.SessionID, SubscriptionID: b.SubscriptionID}
}

// Common returns the shared fields.
func (b *Base) Common() *Base { return b }

// Subscription is one of *TimeseriesSubscription, *AttributesSubscription,
// *AlarmsSubscription, *NotificationsSubscription or
// *NotificationsCountSubscription.
type Subscription interface {
	Common() *Base
	Key() Key
	Type() Type
	sealed()
}

var (
	_ Subscription = (*TimeseriesSubscription)(nil)
	_ Subscription = (*AttributesSubscription)(nil)
	_ Subscription = (*AlarmsSubscription)(nil)
	_ Subscription = (*NotificationsSubscription)(nil)
	_ Subscription = (*NotificationsCountSubscription)(nil)
)

// keyFilter selects telemetry keys and suppresses stale values.
type keyFilter struct {
	KeyStates *KeyStates
	AllKeys   bool
}

func (f *keyFilter) selects(key string) bool {
	return f.AllKeys || f.KeyStates.Contains(key)
}

// accept reports whether a value of key at ts is new to the subscriber and
// advances the watermark when it is.
func (f *keyFilter) accept(key string, ts int64) bool {
	if !f.selects(key) {
		return false
	}
	if f.KeyStates == nil {
		return true
	}
	return f.KeyStates.Advance(key, ts)
}

// SelectDeleted returns delete markers for the selected keys. Deletes are
// never watermark filtered.
func (f *keyFilter) SelectDeleted(keys []string) []model.TsKvEntry {
	var out []model.TsKvEntry
	for _, key := range keys {
		if f.selects(key) {
			out = append(out, model.TsKvEntry{Ts: 0, KvEntry: model.KvEntry{Key: key}})
		}
	}
	return out
}

// TimeseriesSubscription follows time-series values of an entity.
type TimeseriesSubscription struct {
	Base
	keyFilter
	// StartTime and EndTime bound catch-up queries; 0 means unbounded.
	StartTime int64
	EndTime   int64
	// LatestValues requests only the newest value per key on catch-up.
	LatestValues bool
}

func (*TimeseriesSubscription) Type() Type { return TypeTimeseries }
func (*TimeseriesSubscription) sealed()    {}

// NewTimeseriesSubscription builds a timeseries subscription.
func NewTimeseriesSubscription(base Base, keyStates map[string]int64, allKeys bool, startTime, endTime int64, latestValues bool) *TimeseriesSubscription {
	return &TimeseriesSubscription{
		Base:         base,
		keyFilter:    keyFilter{KeyStates: NewKeyStates(keyStates), AllKeys: allKeys},
		StartTime:    startTime,
		EndTime:      endTime,
		LatestValues: latestValues,
	}
}

// SelectTimeseries keeps entries for subscribed keys that are newer than
// the key's watermark and advances the watermarks. The batch is considered
// oldest first, so the result is in ascending ts order.
func (s *TimeseriesSubscription) SelectTimeseries(entries []model.TsKvEntry) []model.TsKvEntry {
	less := func(i, j int) bool { return entries[i].Ts < entries[j].Ts }
	if !sort.SliceIsSorted(entries, less) {
		entries = append([]model.TsKvEntry(nil), entries...)
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Ts < entries[j].Ts })
	}
	var out []model.TsKvEntry
	for _, e := range entries {
		if s.accept(e.Key, e.Ts) {
			out = append(out, e)
		}
	}
	return out
}

// AttributesSubscription follows attribute values of an entity in a scope.
type AttributesSubscription struct {
	Base
	keyFilter
	Scope model.AttributeScope
}

func (*AttributesSubscription) Type() Type { return TypeAttributes }
func (*AttributesSubscription) sealed()    {}

// NewAttributesSubscription builds an attributes subscription.
func NewAttributesSubscription(base Base, keyStates map[string]int64, allKeys bool, scope model.AttributeScope) *AttributesSubscription {
	return &AttributesSubscription{
		Base:      base,
		keyFilter: keyFilter{KeyStates: NewKeyStates(keyStates), AllKeys: allKeys},
		Scope:     scope,
	}
}

// SelectAttributes keeps attributes in a matching scope for subscribed keys
// whose last update is newer than the key's watermark, oldest first.
func (s *AttributesSubscription) SelectAttributes(scope model.AttributeScope, attrs []model.AttributeKvEntry) []model.TsKvEntry {
	if !s.Scope.Matches(scope) {
		return nil
	}
	less := func(i, j int) bool { return attrs[i].LastUpdateTs < attrs[j].LastUpdateTs }
	if !sort.SliceIsSorted(attrs, less) {
		attrs = append([]model.AttributeKvEntry(nil), attrs...)
		sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].LastUpdateTs < attrs[j].LastUpdateTs })
	}
	var out []model.TsKvEntry
	for _, a := range attrs {
		if s.accept(a.Key, a.LastUpdateTs) {
			out = append(out, a.ToTsKvEntry())
		}
	}
	return out
}

// SelectDeletedAttributes is SelectDeleted restricted to a matching scope.
func (s *AttributesSubscription) SelectDeletedAttributes(scope model.AttributeScope, keys []string) []model.TsKvEntry {
	if !s.Scope.Matches(scope) {
		return nil
	}
	return s.SelectDeleted(keys)
}

// AlarmsSubscription follows alarms raised on an entity since Ts.
type AlarmsSubscription struct {
	Base
	Ts int64
}

func (*AlarmsSubscription) Type() Type { return TypeAlarms }
func (*AlarmsSubscription) sealed()    {}

// AcceptsAlarm reports whether the alarm change is visible to the
// subscriber. Updates also pass when the alarm was assigned after Ts.
func (s *AlarmsSubscription) AcceptsAlarm(alarm *model.AlarmInfo, deleted bool) bool {
	if alarm == nil {
		return false
	}
	if alarm.CreatedTime >= s.Ts {
		return true
	}
	return !deleted && alarm.AssignTs >= s.Ts
}

// NotificationsSubscription follows a user's notifications.
type NotificationsSubscription struct {
	Base
	Limit int32
}

func (*NotificationsSubscription) Type() Type { return TypeNotifications }
func (*NotificationsSubscription) sealed()    {}

// NotificationsCountSubscription follows a user's unread counter.
type NotificationsCountSubscription struct {
	Base
}

func (*NotificationsCountSubscription) Type() Type { return TypeNotificationsCount }
func (*NotificationsCountSubscription) sealed()    {}

// TelemetryKeys returns the key filter of a timeseries or attributes
// subscription, or nil for other variants.
func TelemetryKeys(sub Subscription) *KeyStates {
	switch s := sub.(type) {
	case *TimeseriesSubscription:
		return s.KeyStates
	case *AttributesSubscription:
		return s.KeyStates
	default:
		return nil
	}
}
