package codec

import (
	"fmt"

	"github.com/syntrixbase/fanout/internal/subscription"
	"github.com/syntrixbase/fanout/pkg/model"
)

// Wire structs use small integer keys. Required scalars whose zero value is
// legal are pointers so a missing field can be told apart from zero.

type wireUUID struct {
	MSB int64 `cbor:"1,keyasint"`
	LSB int64 `cbor:"2,keyasint"`
}

type wireEntity struct {
	Type string `cbor:"1,keyasint"`
	MSB  int64  `cbor:"2,keyasint"`
	LSB  int64  `cbor:"3,keyasint"`
}

func (e *wireEntity) validate(field string) error {
	if e == nil {
		return missing(field)
	}
	if _, err := model.ParseEntityType(e.Type); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, field, err)
	}
	return nil
}

type wireKeyState struct {
	Key string `cbor:"1,keyasint"`
	Ts  int64  `cbor:"2,keyasint"`
}

type wireSubBase struct {
	ServiceID      string      `cbor:"1,keyasint"`
	SessionID      string      `cbor:"2,keyasint"`
	SubscriptionID *int32      `cbor:"3,keyasint"`
	Tenant         *wireUUID   `cbor:"4,keyasint"`
	Entity         *wireEntity `cbor:"5,keyasint"`
}

func (b *wireSubBase) validate() error {
	if b == nil {
		return missing("base")
	}
	if b.ServiceID == "" {
		return missing("serviceId")
	}
	if b.SessionID == "" {
		return missing("sessionId")
	}
	if b.SubscriptionID == nil {
		return missing("subscriptionId")
	}
	if b.Tenant == nil {
		return missing("tenant")
	}
	return b.Entity.validate("entity")
}

type wireTimeseriesSub struct {
	AllKeys      bool           `cbor:"1,keyasint"`
	KeyStates    []wireKeyState `cbor:"2,keyasint"`
	StartTime    int64          `cbor:"3,keyasint"`
	EndTime      int64          `cbor:"4,keyasint"`
	LatestValues bool           `cbor:"5,keyasint"`
}

type wireAttributesSub struct {
	AllKeys   bool           `cbor:"1,keyasint"`
	KeyStates []wireKeyState `cbor:"2,keyasint"`
	Scope     string         `cbor:"3,keyasint"`
}

type wireAlarmsSub struct {
	Ts int64 `cbor:"1,keyasint"`
}

type wireNotificationsSub struct {
	Limit int32 `cbor:"1,keyasint"`
}

type wireSubscription struct {
	Type          uint8                 `cbor:"1,keyasint"`
	Base          *wireSubBase          `cbor:"2,keyasint"`
	Timeseries    *wireTimeseriesSub    `cbor:"3,keyasint,omitempty"`
	Attributes    *wireAttributesSub    `cbor:"4,keyasint,omitempty"`
	Alarms        *wireAlarmsSub        `cbor:"5,keyasint,omitempty"`
	Notifications *wireNotificationsSub `cbor:"6,keyasint,omitempty"`
}

func (s *wireSubscription) validate() error {
	if err := s.Base.validate(); err != nil {
		return err
	}
	bodies := 0
	for _, present := range []bool{s.Timeseries != nil, s.Attributes != nil, s.Alarms != nil, s.Notifications != nil} {
		if present {
			bodies++
		}
	}
	var ok bool
	switch subscription.Type(s.Type) {
	case subscription.TypeTimeseries:
		ok = s.Timeseries != nil && bodies == 1
	case subscription.TypeAttributes:
		ok = s.Attributes != nil && bodies == 1
		if ok {
			if _, err := model.ParseAttributeScope(s.Attributes.Scope); err != nil {
				return fmt.Errorf("%w: %v", ErrDecode, err)
			}
		}
	case subscription.TypeAlarms:
		ok = s.Alarms != nil && bodies == 1
	case subscription.TypeNotifications:
		ok = s.Notifications != nil && bodies == 1
	case subscription.TypeNotificationsCount:
		ok = bodies == 0
	default:
		return fmt.Errorf("%w: unknown subscription type %d", ErrDecode, s.Type)
	}
	if !ok {
		return fmt.Errorf("%w: body does not match subscription type %s", ErrDecode, subscription.Type(s.Type))
	}
	return nil
}

type wireClose struct {
	SessionID      string `cbor:"1,keyasint"`
	SubscriptionID *int32 `cbor:"2,keyasint"`
}

func (c *wireClose) validate() error {
	if c.SessionID == "" {
		return missing("sessionId")
	}
	if c.SubscriptionID == nil {
		return missing("subscriptionId")
	}
	return nil
}

// wireKv carries exactly one populated value field, selected by Type.
type wireKv struct {
	Key    string   `cbor:"1,keyasint"`
	Type   string   `cbor:"2,keyasint"`
	Bool   *bool    `cbor:"3,keyasint,omitempty"`
	Long   *int64   `cbor:"4,keyasint,omitempty"`
	Double *float64 `cbor:"5,keyasint,omitempty"`
	Str    *string  `cbor:"6,keyasint,omitempty"`
	JSON   *string  `cbor:"7,keyasint,omitempty"`
}

func (kv *wireKv) validate() error {
	if kv == nil {
		return missing("kv")
	}
	if kv.Key == "" {
		return missing("kv.key")
	}
	t, err := model.ParseDataType(kv.Type)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	populated := 0
	for _, set := range []bool{kv.Bool != nil, kv.Long != nil, kv.Double != nil, kv.Str != nil, kv.JSON != nil} {
		if set {
			populated++
		}
	}
	var match bool
	switch t {
	case model.DataTypeBoolean:
		match = kv.Bool != nil
	case model.DataTypeLong:
		match = kv.Long != nil
	case model.DataTypeDouble:
		match = kv.Double != nil
	case model.DataTypeString:
		match = kv.Str != nil
	case model.DataTypeJSON:
		match = kv.JSON != nil
	}
	if !match || populated != 1 {
		return fmt.Errorf("%w: kv %q: value field does not match type %s", ErrDecode, kv.Key, t)
	}
	return nil
}

type wireTsKv struct {
	Ts int64   `cbor:"1,keyasint"`
	Kv *wireKv `cbor:"2,keyasint"`
}

type wireAttrKv struct {
	LastUpdateTs int64   `cbor:"1,keyasint"`
	Kv           *wireKv `cbor:"2,keyasint"`
}

type wireTsUpdate struct {
	Tenant  *wireUUID   `cbor:"1,keyasint"`
	Entity  *wireEntity `cbor:"2,keyasint"`
	Entries []wireTsKv  `cbor:"3,keyasint"`
}

type wireTsDelete struct {
	Tenant *wireUUID   `cbor:"1,keyasint"`
	Entity *wireEntity `cbor:"2,keyasint"`
	Keys   []string    `cbor:"3,keyasint"`
}

type wireAttrUpdate struct {
	Tenant  *wireUUID    `cbor:"1,keyasint"`
	Entity  *wireEntity  `cbor:"2,keyasint"`
	Scope   string       `cbor:"3,keyasint"`
	Entries []wireAttrKv `cbor:"4,keyasint"`
}

type wireAttrDelete struct {
	Tenant *wireUUID   `cbor:"1,keyasint"`
	Entity *wireEntity `cbor:"2,keyasint"`
	Scope  string      `cbor:"3,keyasint"`
	Keys   []string    `cbor:"4,keyasint"`
}

type wireAlarm struct {
	Tenant *wireUUID   `cbor:"1,keyasint"`
	Entity *wireEntity `cbor:"2,keyasint"`
	Alarm  string      `cbor:"3,keyasint"`
}

type wireNotificationUpdate struct {
	Tenant    *wireUUID   `cbor:"1,keyasint"`
	Recipient *wireEntity `cbor:"2,keyasint"`
	Update    string      `cbor:"3,keyasint"`
}

type wireNotificationRequestUpdate struct {
	Tenant *wireUUID `cbor:"1,keyasint"`
	Update string    `cbor:"2,keyasint"`
}

type wireInactivityTimeout struct {
	Tenant  *wireUUID   `cbor:"1,keyasint"`
	Device  *wireEntity `cbor:"2,keyasint"`
	Timeout int64       `cbor:"3,keyasint"`
}

type wireTsValue struct {
	Ts    int64   `cbor:"1,keyasint"`
	Value *string `cbor:"2,keyasint,omitempty"`
}

type wireTelemetryKey struct {
	Key    string        `cbor:"1,keyasint"`
	Values []wireTsValue `cbor:"2,keyasint"`
}

type wireUpdateHeader struct {
	SessionID      string `cbor:"1,keyasint"`
	SubscriptionID *int32 `cbor:"2,keyasint"`
	ErrorCode      int32  `cbor:"3,keyasint,omitempty"`
	ErrorMsg       string `cbor:"4,keyasint,omitempty"`
}

func (h *wireUpdateHeader) validate() error {
	if h.SessionID == "" {
		return missing("sessionId")
	}
	if h.SubscriptionID == nil {
		return missing("subscriptionId")
	}
	if !subscription.ErrorCode(h.ErrorCode).Valid() {
		return fmt.Errorf("%w: unknown error code %d", ErrDecode, h.ErrorCode)
	}
	return nil
}

type wireTelemetrySubUpdate struct {
	wireUpdateHeader
	Data []wireTelemetryKey `cbor:"5,keyasint,omitempty"`
}

type wireAlarmSubUpdate struct {
	wireUpdateHeader
	Alarm   string `cbor:"5,keyasint,omitempty"`
	Deleted bool   `cbor:"6,keyasint"`
}

type wireNotificationsSubUpdate struct {
	wireUpdateHeader
	Update        string `cbor:"5,keyasint,omitempty"`
	RequestUpdate string `cbor:"6,keyasint,omitempty"`
}

// validate requires exactly one payload unless the update is an error.
func (u *wireNotificationsSubUpdate) validate() error {
	if err := u.wireUpdateHeader.validate(); err != nil {
		return err
	}
	if u.ErrorCode != 0 {
		return nil
	}
	switch {
	case u.Update == "" && u.RequestUpdate == "":
		return missing("update")
	case u.Update != "" && u.RequestUpdate != "":
		return fmt.Errorf("%w: both update and requestUpdate are set", ErrDecode)
	}
	return nil
}

type wireResync struct {
	ServiceID  string  `cbor:"1,keyasint"`
	Partitions []int32 `cbor:"2,keyasint"`
}

func (r *wireResync) validate() error {
	if r.ServiceID == "" {
		return missing("serviceId")
	}
	if len(r.Partitions) == 0 {
		return missing("partitions")
	}
	for _, p := range r.Partitions {
		if p < 0 {
			return fmt.Errorf("%w: negative partition %d", ErrDecode, p)
		}
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: missing required field %s", ErrDecode, field)
}
