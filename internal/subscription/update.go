package subscription

import (
	"sort"

	"github.com/syntrixbase/fanout/pkg/model"
)

// ErrorCode classifies a failed subscription update.
type ErrorCode int32

const (
	NoError       ErrorCode = 0
	InternalError ErrorCode = 1
	BadRequest    ErrorCode = 2
	Unauthorized  ErrorCode = 3
)

// Valid reports whether c is a known error code.
func (c ErrorCode) Valid() bool {
	return c >= NoError && c <= Unauthorized
}

// Update is one of *TelemetryUpdate, *AlarmUpdate or *NotificationsUpdate.
type Update interface {
	SubscriptionID() int32
	// Accepts reports whether the update kind can be delivered to a
	// subscription of type t.
	Accepts(t Type) bool
	sealedUpdate()
}

var (
	_ Update = (*TelemetryUpdate)(nil)
	_ Update = (*AlarmUpdate)(nil)
	_ Update = (*NotificationsUpdate)(nil)
)

// TsValue is one observation of a key. A nil Value marks a deletion.
type TsValue struct {
	Ts    int64
	Value *string
}

// TelemetryUpdate carries timeseries or attribute values for one
// subscription.
type TelemetryUpdate struct {
	SubID     int32
	Data      map[string][]TsValue
	ErrorCode ErrorCode
	ErrorMsg  string
}

// NewTelemetryUpdate groups entries by key. Entries without a data type are
// delete markers and carry a nil value.
func NewTelemetryUpdate(subID int32, entries []model.TsKvEntry) *TelemetryUpdate {
	data := make(map[string][]TsValue)
	for _, e := range entries {
		v := TsValue{Ts: e.Ts}
		if e.Type != "" {
			s := e.ValueAsString()
			v.Value = &s
		}
		data[e.Key] = append(data[e.Key], v)
	}
	return &TelemetryUpdate{SubID: subID, Data: data}
}

// NewTelemetryError builds an error update.
func NewTelemetryError(subID int32, code ErrorCode, msg string) *TelemetryUpdate {
	return &TelemetryUpdate{SubID: subID, ErrorCode: code, ErrorMsg: msg}
}

func (u *TelemetryUpdate) SubscriptionID() int32 { return u.SubID }
func (*TelemetryUpdate) sealedUpdate()           {}

func (*TelemetryUpdate) Accepts(t Type) bool {
	return t == TypeTimeseries || t == TypeAttributes
}

// IsError reports whether the update carries an error instead of data.
func (u *TelemetryUpdate) IsError() bool { return u.ErrorCode != NoError }

// Keys returns the keys present in the update in sorted order.
func (u *TelemetryUpdate) Keys() []string {
	keys := make([]string, 0, len(u.Data))
	for k := range u.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LatestValues returns the newest timestamp per key.
func (u *TelemetryUpdate) LatestValues() map[string]int64 {
	out := make(map[string]int64, len(u.Data))
	for key, values := range u.Data {
		for i, v := range values {
			if i == 0 || v.Ts > out[key] {
				out[key] = v.Ts
			}
		}
	}
	return out
}

// WithoutEmpty drops keys whose values are all nil. It returns nil when
// nothing remains.
func (u *TelemetryUpdate) WithoutEmpty() *TelemetryUpdate {
	if u.IsError() {
		return u
	}
	data := make(map[string][]TsValue, len(u.Data))
	for key, values := range u.Data {
		for _, v := range values {
			if v.Value != nil {
				data[key] = values
				break
			}
		}
	}
	if len(data) == 0 {
		return nil
	}
	return &TelemetryUpdate{SubID: u.SubID, Data: data}
}

// AlarmUpdate carries an alarm change for one subscription.
type AlarmUpdate struct {
	SubID     int32
	Alarm     *model.AlarmInfo
	Deleted   bool
	ErrorCode ErrorCode
	ErrorMsg  string
}

func (u *AlarmUpdate) SubscriptionID() int32 { return u.SubID }
func (*AlarmUpdate) sealedUpdate()           {}
func (*AlarmUpdate) Accepts(t Type) bool     { return t == TypeAlarms }

// NotificationsUpdate carries a notification change for one subscription.
// At most one of Update and RequestUpdate is set.
type NotificationsUpdate struct {
	SubID         int32
	Update        *model.NotificationUpdate
	RequestUpdate *model.NotificationRequestUpdate
	ErrorCode     ErrorCode
	ErrorMsg      string
}

func (u *NotificationsUpdate) SubscriptionID() int32 { return u.SubID }
func (*NotificationsUpdate) sealedUpdate()           {}
func (*NotificationsUpdate) Accepts(t Type) bool     { return t.IsNotification() }
