package model

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// EntityType identifies the kind of platform entity an id refers to.
type EntityType string

const (
	EntityTypeDevice     EntityType = "DEVICE"
	EntityTypeAsset      EntityType = "ASSET"
	EntityTypeEntityView EntityType = "ENTITY_VIEW"
	EntityTypeCustomer   EntityType = "CUSTOMER"
	EntityTypeTenant     EntityType = "TENANT"
	EntityTypeUser       EntityType = "USER"
	EntityTypeDashboard  EntityType = "DASHBOARD"
	EntityTypeEdge       EntityType = "EDGE"
)

var entityTypes = map[EntityType]struct{}{
	EntityTypeDevice:     {},
	EntityTypeAsset:      {},
	EntityTypeEntityView: {},
	EntityTypeCustomer:   {},
	EntityTypeTenant:     {},
	EntityTypeUser:       {},
	EntityTypeDashboard:  {},
	EntityTypeEdge:       {},
}

// ParseEntityType validates an entity type tag.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if _, ok := entityTypes[t]; !ok {
		return "", Invalidf("unknown entity type %q", s)
	}
	return t, nil
}

// TenantID identifies a tenant.
type TenantID uuid.UUID

// NilTenantID is the system tenant.
var NilTenantID = TenantID(uuid.Nil)

// NewTenantID returns a random tenant id.
func NewTenantID() TenantID {
	return TenantID(uuid.New())
}

// UUID returns the underlying uuid.
func (t TenantID) UUID() uuid.UUID { return uuid.UUID(t) }

// MSB returns the most significant 64 bits.
func (t TenantID) MSB() int64 { return msb(uuid.UUID(t)) }

// LSB returns the least significant 64 bits.
func (t TenantID) LSB() int64 { return lsb(uuid.UUID(t)) }

func (t TenantID) String() string { return uuid.UUID(t).String() }

// TenantIDFromHalves reassembles a tenant id from its two halves.
func TenantIDFromHalves(msb, lsb int64) TenantID {
	return TenantID(fromHalves(msb, lsb))
}

// EntityID identifies a typed platform entity.
type EntityID struct {
	Type EntityType
	ID   uuid.UUID
}

// NewEntityID returns an entity id of the given type with a random uuid.
func NewEntityID(t EntityType) EntityID {
	return EntityID{Type: t, ID: uuid.New()}
}

// MSB returns the most significant 64 bits of the id.
func (e EntityID) MSB() int64 { return msb(e.ID) }

// LSB returns the least significant 64 bits of the id.
func (e EntityID) LSB() int64 { return lsb(e.ID) }

func (e EntityID) String() string {
	return string(e.Type) + ":" + e.ID.String()
}

// EntityIDFromHalves reassembles an entity id. The type tag is validated.
func EntityIDFromHalves(entityType string, msb, lsb int64) (EntityID, error) {
	t, err := ParseEntityType(entityType)
	if err != nil {
		return EntityID{}, err
	}
	return EntityID{Type: t, ID: fromHalves(msb, lsb)}, nil
}

func msb(u uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(u[:8]))
}

func lsb(u uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(u[8:]))
}

func fromHalves(msb, lsb int64) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint64(u[:8], uint64(msb))
	binary.BigEndian.PutUint64(u[8:], uint64(lsb))
	return u
}
