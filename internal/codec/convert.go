package codec

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/syntrixbase/fanout/internal/subscription"
	"github.com/syntrixbase/fanout/pkg/model"
)

func toWire(msg Message) (any, error) {
	switch m := msg.(type) {
	case *SubscriptionAdd:
		return subscriptionToWire(m.Subscription)
	case *SubscriptionClose:
		id := m.SubscriptionID
		return &wireClose{SessionID: m.SessionID, SubscriptionID: &id}, nil
	case *TimeseriesUpdate:
		entries := make([]wireTsKv, 0, len(m.Entries))
		for _, e := range m.Entries {
			kv, err := kvToWire(e.KvEntry)
			if err != nil {
				return nil, err
			}
			entries = append(entries, wireTsKv{Ts: e.Ts, Kv: kv})
		}
		return &wireTsUpdate{Tenant: tenantToWire(m.TenantID), Entity: entityToWire(m.EntityID), Entries: entries}, nil
	case *TimeseriesDelete:
		return &wireTsDelete{Tenant: tenantToWire(m.TenantID), Entity: entityToWire(m.EntityID), Keys: m.Keys}, nil
	case *AttributesUpdate:
		entries := make([]wireAttrKv, 0, len(m.Attributes))
		for _, a := range m.Attributes {
			kv, err := kvToWire(a.KvEntry)
			if err != nil {
				return nil, err
			}
			entries = append(entries, wireAttrKv{LastUpdateTs: a.LastUpdateTs, Kv: kv})
		}
		return &wireAttrUpdate{Tenant: tenantToWire(m.TenantID), Entity: entityToWire(m.EntityID), Scope: string(m.Scope), Entries: entries}, nil
	case *AttributesDelete:
		return &wireAttrDelete{
			Tenant: tenantToWire(m.TenantID),
			Entity: entityToWire(m.EntityID),
			Scope:  string(m.Scope),
			Keys:   m.Keys,
		}, nil
	case *AlarmChange:
		if m.Alarm == nil {
			return nil, fmt.Errorf("%w: alarm is nil", ErrEncode)
		}
		doc, err := json.Marshal(m.Alarm)
		if err != nil {
			return nil, fmt.Errorf("%w: alarm: %v", ErrEncode, err)
		}
		return &wireAlarm{Tenant: tenantToWire(m.TenantID), Entity: entityToWire(m.EntityID), Alarm: string(doc)}, nil
	case *NotificationUpdate:
		doc, err := json.Marshal(m.Update)
		if err != nil {
			return nil, fmt.Errorf("%w: notification: %v", ErrEncode, err)
		}
		return &wireNotificationUpdate{Tenant: tenantToWire(m.TenantID), Recipient: entityToWire(m.RecipientID), Update: string(doc)}, nil
	case *NotificationRequestUpdate:
		doc, err := json.Marshal(m.Update)
		if err != nil {
			return nil, fmt.Errorf("%w: notification request: %v", ErrEncode, err)
		}
		return &wireNotificationRequestUpdate{Tenant: tenantToWire(m.TenantID), Update: string(doc)}, nil
	case *SubscriptionUpdate:
		return updateToWire(m.SessionID, m.Update)
	case *InactivityTimeout:
		return &wireInactivityTimeout{Tenant: tenantToWire(m.TenantID), Device: entityToWire(m.DeviceID), Timeout: m.Timeout}, nil
	case *SubscriptionResync:
		if len(m.Partitions) == 0 {
			return nil, fmt.Errorf("%w: resync without partitions", ErrEncode)
		}
		partitions := make([]int32, len(m.Partitions))
		for i, p := range m.Partitions {
			partitions[i] = int32(p)
		}
		return &wireResync{ServiceID: m.ServiceID, Partitions: partitions}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported message %T", ErrEncode, msg)
	}
}

func fromWire(kind Kind, body []byte) (Message, error) {
	switch kind {
	case KindSubscriptionAdd:
		var w wireSubscription
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		if err := w.validate(); err != nil {
			return nil, err
		}
		sub, err := subscriptionFromWire(&w)
		if err != nil {
			return nil, err
		}
		return &SubscriptionAdd{Subscription: sub}, nil
	case KindSubscriptionClose:
		var w wireClose
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		if err := w.validate(); err != nil {
			return nil, err
		}
		return &SubscriptionClose{SessionID: w.SessionID, SubscriptionID: *w.SubscriptionID}, nil
	case KindTimeseriesUpdate:
		var w wireTsUpdate
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		tenant, entity, err := entityDataFromWire(w.Tenant, w.Entity)
		if err != nil {
			return nil, err
		}
		entries := make([]model.TsKvEntry, 0, len(w.Entries))
		for _, e := range w.Entries {
			kv, err := kvFromWire(e.Kv)
			if err != nil {
				return nil, err
			}
			entries = append(entries, model.TsKvEntry{Ts: e.Ts, KvEntry: kv})
		}
		return &TimeseriesUpdate{TenantID: tenant, EntityID: entity, Entries: entries}, nil
	case KindTimeseriesDelete:
		var w wireTsDelete
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		tenant, entity, err := entityDataFromWire(w.Tenant, w.Entity)
		if err != nil {
			return nil, err
		}
		return &TimeseriesDelete{TenantID: tenant, EntityID: entity, Keys: w.Keys}, nil
	case KindAttributesUpdate:
		var w wireAttrUpdate
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		tenant, entity, err := entityDataFromWire(w.Tenant, w.Entity)
		if err != nil {
			return nil, err
		}
		scope, err := scopeFromWire(w.Scope)
		if err != nil {
			return nil, err
		}
		attrs := make([]model.AttributeKvEntry, 0, len(w.Entries))
		for _, e := range w.Entries {
			kv, err := kvFromWire(e.Kv)
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, model.AttributeKvEntry{LastUpdateTs: e.LastUpdateTs, KvEntry: kv})
		}
		return &AttributesUpdate{TenantID: tenant, EntityID: entity, Scope: scope, Attributes: attrs}, nil
	case KindAttributesDelete:
		var w wireAttrDelete
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		tenant, entity, err := entityDataFromWire(w.Tenant, w.Entity)
		if err != nil {
			return nil, err
		}
		scope, err := scopeFromWire(w.Scope)
		if err != nil {
			return nil, err
		}
		return &AttributesDelete{TenantID: tenant, EntityID: entity, Scope: scope, Keys: w.Keys}, nil
	case KindAlarmUpdate, KindAlarmDelete:
		var w wireAlarm
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		tenant, entity, err := entityDataFromWire(w.Tenant, w.Entity)
		if err != nil {
			return nil, err
		}
		alarm, err := alarmFromJSON(w.Alarm)
		if err != nil {
			return nil, err
		}
		return &AlarmChange{TenantID: tenant, EntityID: entity, Alarm: alarm, Deleted: kind == KindAlarmDelete}, nil
	case KindNotificationUpdate:
		var w wireNotificationUpdate
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		tenant, recipient, err := entityDataFromWire(w.Tenant, w.Recipient)
		if err != nil {
			return nil, err
		}
		var update model.NotificationUpdate
		if err := unmarshalJSON("notification update", w.Update, &update); err != nil {
			return nil, err
		}
		return &NotificationUpdate{TenantID: tenant, RecipientID: recipient, Update: update}, nil
	case KindNotificationRequestUpdate:
		var w wireNotificationRequestUpdate
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		if w.Tenant == nil {
			return nil, missing("tenant")
		}
		var update model.NotificationRequestUpdate
		if err := unmarshalJSON("notification request update", w.Update, &update); err != nil {
			return nil, err
		}
		return &NotificationRequestUpdate{TenantID: tenantFromWire(w.Tenant), Update: update}, nil
	case KindTelemetrySubUpdate, KindAlarmSubUpdate, KindNotificationsSubUpdate:
		return updateFromWire(kind, body)
	case KindDeviceInactivityTimeout:
		var w wireInactivityTimeout
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		tenant, device, err := entityDataFromWire(w.Tenant, w.Device)
		if err != nil {
			return nil, err
		}
		return &InactivityTimeout{TenantID: tenant, DeviceID: device, Timeout: w.Timeout}, nil
	case KindSubscriptionResync:
		var w wireResync
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		if err := w.validate(); err != nil {
			return nil, err
		}
		partitions := make([]int, len(w.Partitions))
		for i, p := range w.Partitions {
			partitions[i] = int(p)
		}
		return &SubscriptionResync{ServiceID: w.ServiceID, Partitions: partitions}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrDecode, uint16(kind))
	}
}

func subscriptionToWire(sub subscription.Subscription) (*wireSubscription, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: subscription is nil", ErrEncode)
	}
	b := sub.Common()
	id := b.SubscriptionID
	w := &wireSubscription{
		Type: uint8(sub.Type()),
		Base: &wireSubBase{
			ServiceID:      b.ServiceID,
			SessionID:      b.SessionID,
			SubscriptionID: &id,
			Tenant:         tenantToWire(b.TenantID),
			Entity:         entityToWire(b.EntityID),
		},
	}
	switch s := sub.(type) {
	case *subscription.TimeseriesSubscription:
		w.Timeseries = &wireTimeseriesSub{
			AllKeys:      s.AllKeys,
			KeyStates:    keyStatesToWire(s.KeyStates),
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			LatestValues: s.LatestValues,
		}
	case *subscription.AttributesSubscription:
		w.Attributes = &wireAttributesSub{
			AllKeys:   s.AllKeys,
			KeyStates: keyStatesToWire(s.KeyStates),
			Scope:     string(s.Scope),
		}
	case *subscription.AlarmsSubscription:
		w.Alarms = &wireAlarmsSub{Ts: s.Ts}
	case *subscription.NotificationsSubscription:
		w.Notifications = &wireNotificationsSub{Limit: s.Limit}
	case *subscription.NotificationsCountSubscription:
	default:
		return nil, fmt.Errorf("%w: unsupported subscription %T", ErrEncode, sub)
	}
	return w, nil
}

func subscriptionFromWire(w *wireSubscription) (subscription.Subscription, error) {
	entity, err := entityFromWire(w.Base.Entity)
	if err != nil {
		return nil, err
	}
	base := subscription.Base{
		ServiceID:      w.Base.ServiceID,
		SessionID:      w.Base.SessionID,
		SubscriptionID: *w.Base.SubscriptionID,
		TenantID:       tenantFromWire(w.Base.Tenant),
		EntityID:       entity,
	}
	switch subscription.Type(w.Type) {
	case subscription.TypeTimeseries:
		t := w.Timeseries
		return subscription.NewTimeseriesSubscription(base, keyStatesFromWire(t.KeyStates), t.AllKeys, t.StartTime, t.EndTime, t.LatestValues), nil
	case subscription.TypeAttributes:
		a := w.Attributes
		return subscription.NewAttributesSubscription(base, keyStatesFromWire(a.KeyStates), a.AllKeys, model.AttributeScope(a.Scope)), nil
	case subscription.TypeAlarms:
		return &subscription.AlarmsSubscription{Base: base, Ts: w.Alarms.Ts}, nil
	case subscription.TypeNotifications:
		return &subscription.NotificationsSubscription{Base: base, Limit: w.Notifications.Limit}, nil
	default:
		return &subscription.NotificationsCountSubscription{Base: base}, nil
	}
}

func updateToWire(sessionID string, update subscription.Update) (any, error) {
	if update == nil {
		return nil, fmt.Errorf("%w: update is nil", ErrEncode)
	}
	id := update.SubscriptionID()
	switch u := update.(type) {
	case *subscription.TelemetryUpdate:
		w := &wireTelemetrySubUpdate{wireUpdateHeader: header(sessionID, id, u.ErrorCode, u.ErrorMsg)}
		for _, key := range u.Keys() {
			values := make([]wireTsValue, 0, len(u.Data[key]))
			for _, v := range u.Data[key] {
				values = append(values, wireTsValue{Ts: v.Ts, Value: v.Value})
			}
			w.Data = append(w.Data, wireTelemetryKey{Key: key, Values: values})
		}
		return w, nil
	case *subscription.AlarmUpdate:
		w := &wireAlarmSubUpdate{wireUpdateHeader: header(sessionID, id, u.ErrorCode, u.ErrorMsg), Deleted: u.Deleted}
		if u.Alarm != nil {
			doc, err := json.Marshal(u.Alarm)
			if err != nil {
				return nil, fmt.Errorf("%w: alarm: %v", ErrEncode, err)
			}
			w.Alarm = string(doc)
		}
		return w, nil
	case *subscription.NotificationsUpdate:
		w := &wireNotificationsSubUpdate{wireUpdateHeader: header(sessionID, id, u.ErrorCode, u.ErrorMsg)}
		if u.Update != nil {
			doc, err := json.Marshal(u.Update)
			if err != nil {
				return nil, fmt.Errorf("%w: notification: %v", ErrEncode, err)
			}
			w.Update = string(doc)
		}
		if u.RequestUpdate != nil {
			doc, err := json.Marshal(u.RequestUpdate)
			if err != nil {
				return nil, fmt.Errorf("%w: notification request: %v", ErrEncode, err)
			}
			w.RequestUpdate = string(doc)
		}
		return w, nil
	default:
		return nil, fmt.Errorf("%w: unsupported update %T", ErrEncode, update)
	}
}

func updateFromWire(kind Kind, body []byte) (Message, error) {
	switch kind {
	case KindTelemetrySubUpdate:
		var w wireTelemetrySubUpdate
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		if err := w.validate(); err != nil {
			return nil, err
		}
		u := &subscription.TelemetryUpdate{
			SubID:     *w.SubscriptionID,
			ErrorCode: subscription.ErrorCode(w.ErrorCode),
			ErrorMsg:  w.ErrorMsg,
		}
		if len(w.Data) > 0 {
			u.Data = make(map[string][]subscription.TsValue, len(w.Data))
			for _, k := range w.Data {
				if k.Key == "" {
					return nil, missing("data.key")
				}
				if _, dup := u.Data[k.Key]; dup {
					return nil, fmt.Errorf("%w: duplicate key %q", ErrDecode, k.Key)
				}
				values := make([]subscription.TsValue, 0, len(k.Values))
				for _, v := range k.Values {
					values = append(values, subscription.TsValue{Ts: v.Ts, Value: v.Value})
				}
				u.Data[k.Key] = values
			}
		}
		return &SubscriptionUpdate{SessionID: w.SessionID, Update: u}, nil
	case KindAlarmSubUpdate:
		var w wireAlarmSubUpdate
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		if err := w.validate(); err != nil {
			return nil, err
		}
		u := &subscription.AlarmUpdate{
			SubID:     *w.SubscriptionID,
			Deleted:   w.Deleted,
			ErrorCode: subscription.ErrorCode(w.ErrorCode),
			ErrorMsg:  w.ErrorMsg,
		}
		if w.ErrorCode == 0 {
			alarm, err := alarmFromJSON(w.Alarm)
			if err != nil {
				return nil, err
			}
			u.Alarm = alarm
		}
		return &SubscriptionUpdate{SessionID: w.SessionID, Update: u}, nil
	default:
		var w wireNotificationsSubUpdate
		if err := unmarshalBody(body, &w); err != nil {
			return nil, err
		}
		if err := w.validate(); err != nil {
			return nil, err
		}
		u := &subscription.NotificationsUpdate{
			SubID:     *w.SubscriptionID,
			ErrorCode: subscription.ErrorCode(w.ErrorCode),
			ErrorMsg:  w.ErrorMsg,
		}
		if w.Update != "" {
			u.Update = &model.NotificationUpdate{}
			if err := unmarshalJSON("notification update", w.Update, u.Update); err != nil {
				return nil, err
			}
		}
		if w.RequestUpdate != "" {
			u.RequestUpdate = &model.NotificationRequestUpdate{}
			if err := unmarshalJSON("notification request update", w.RequestUpdate, u.RequestUpdate); err != nil {
				return nil, err
			}
		}
		return &SubscriptionUpdate{SessionID: w.SessionID, Update: u}, nil
	}
}

func header(sessionID string, id int32, code subscription.ErrorCode, msg string) wireUpdateHeader {
	return wireUpdateHeader{SessionID: sessionID, SubscriptionID: &id, ErrorCode: int32(code), ErrorMsg: msg}
}

func kvToWire(e model.KvEntry) (*wireKv, error) {
	w := &wireKv{Key: e.Key, Type: string(e.Type)}
	switch e.Type {
	case model.DataTypeBoolean:
		v := e.Bool
		w.Bool = &v
	case model.DataTypeLong:
		v := e.Long
		w.Long = &v
	case model.DataTypeDouble:
		v := e.Double
		w.Double = &v
	case model.DataTypeString:
		v := e.Str
		w.Str = &v
	case model.DataTypeJSON:
		v := e.Str
		w.JSON = &v
	default:
		return nil, fmt.Errorf("%w: kv %q has no data type", ErrEncode, e.Key)
	}
	return w, nil
}

func kvFromWire(w *wireKv) (model.KvEntry, error) {
	if err := w.validate(); err != nil {
		return model.KvEntry{}, err
	}
	switch model.DataType(w.Type) {
	case model.DataTypeBoolean:
		return model.NewBoolEntry(w.Key, *w.Bool), nil
	case model.DataTypeLong:
		return model.NewLongEntry(w.Key, *w.Long), nil
	case model.DataTypeDouble:
		return model.NewDoubleEntry(w.Key, *w.Double), nil
	case model.DataTypeString:
		return model.NewStringEntry(w.Key, *w.Str), nil
	default:
		return model.NewJSONEntry(w.Key, *w.JSON), nil
	}
}

func keyStatesToWire(ks *subscription.KeyStates) []wireKeyState {
	snapshot := ks.Snapshot()
	out := make([]wireKeyState, 0, len(snapshot))
	for key, ts := range snapshot {
		out = append(out, wireKeyState{Key: key, Ts: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func keyStatesFromWire(states []wireKeyState) map[string]int64 {
	out := make(map[string]int64, len(states))
	for _, s := range states {
		out[s.Key] = s.Ts
	}
	return out
}

func tenantToWire(t model.TenantID) *wireUUID {
	return &wireUUID{MSB: t.MSB(), LSB: t.LSB()}
}

func tenantFromWire(w *wireUUID) model.TenantID {
	return model.TenantIDFromHalves(w.MSB, w.LSB)
}

func entityToWire(e model.EntityID) *wireEntity {
	return &wireEntity{Type: string(e.Type), MSB: e.MSB(), LSB: e.LSB()}
}

func entityFromWire(w *wireEntity) (model.EntityID, error) {
	if err := w.validate("entity"); err != nil {
		return model.EntityID{}, err
	}
	id, err := model.EntityIDFromHalves(w.Type, w.MSB, w.LSB)
	if err != nil {
		return model.EntityID{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return id, nil
}

func entityDataFromWire(tenant *wireUUID, entity *wireEntity) (model.TenantID, model.EntityID, error) {
	if tenant == nil {
		return model.TenantID{}, model.EntityID{}, missing("tenant")
	}
	id, err := entityFromWire(entity)
	if err != nil {
		return model.TenantID{}, model.EntityID{}, err
	}
	return tenantFromWire(tenant), id, nil
}

func scopeFromWire(s string) (model.AttributeScope, error) {
	scope, err := model.ParseAttributeScope(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return scope, nil
}

func alarmFromJSON(doc string) (*model.AlarmInfo, error) {
	if doc == "" {
		return nil, missing("alarm")
	}
	var alarm model.AlarmInfo
	if err := unmarshalJSON("alarm", doc, &alarm); err != nil {
		return nil, err
	}
	return &alarm, nil
}

func unmarshalJSON(what, doc string, v any) error {
	if doc == "" {
		return missing(what)
	}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, what, err)
	}
	return nil
}
