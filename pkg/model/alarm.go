package model

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// AlarmStatus is the combined acknowledged/cleared state of an alarm.
type AlarmStatus string

const (
	AlarmActiveUnack  AlarmStatus = "ACTIVE_UNACK"
	AlarmActiveAck    AlarmStatus = "ACTIVE_ACK"
	AlarmClearedUnack AlarmStatus = "CLEARED_UNACK"
	AlarmClearedAck   AlarmStatus = "CLEARED_ACK"
)

// AlarmInfo is the alarm document pushed to alarm subscribers.
type AlarmInfo struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    TenantID        `json:"tenantId"`
	Originator  EntityID        `json:"originator"`
	Type        string          `json:"type"`
	Severity    string          `json:"severity"`
	Status      AlarmStatus     `json:"status"`
	CreatedTime int64           `json:"createdTime"`
	StartTs     int64           `json:"startTs,omitempty"`
	EndTs       int64           `json:"endTs,omitempty"`
	AckTs       int64           `json:"ackTs,omitempty"`
	ClearTs     int64           `json:"clearTs,omitempty"`
	AssignTs    int64           `json:"assignTs,omitempty"`
	AssigneeID  *uuid.UUID      `json:"assigneeId,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
}

// MarshalText renders the tenant id as a uuid string.
func (t TenantID) MarshalText() ([]byte, error) {
	return uuid.UUID(t).MarshalText()
}

// UnmarshalText parses a uuid string.
func (t *TenantID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*t = TenantID(u)
	return nil
}

type entityIDJSON struct {
	EntityType string    `json:"entityType"`
	ID         uuid.UUID `json:"id"`
}

// MarshalJSON renders the id as {"entityType": ..., "id": ...}.
func (e EntityID) MarshalJSON() ([]byte, error) {
	return json.Marshal(entityIDJSON{EntityType: string(e.Type), ID: e.ID})
}

// UnmarshalJSON parses the object form and validates the type tag.
func (e *EntityID) UnmarshalJSON(b []byte) error {
	var raw entityIDJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t, err := ParseEntityType(raw.EntityType)
	if err != nil {
		return err
	}
	*e = EntityID{Type: t, ID: raw.ID}
	return nil
}
