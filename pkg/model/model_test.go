package model

import (
	"errors"
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityID_Halves(t *testing.T) {
	id := NewEntityID(EntityTypeDevice)

	back, err := EntityIDFromHalves(string(id.Type), id.MSB(), id.LSB())
	require.NoError(t, err)
	assert.Equal(t, id, back)

	_, err = EntityIDFromHalves("GATEWAY", id.MSB(), id.LSB())
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestTenantID_Halves(t *testing.T) {
	tenant := NewTenantID()
	assert.Equal(t, tenant, TenantIDFromHalves(tenant.MSB(), tenant.LSB()))
	assert.Equal(t, NilTenantID, TenantIDFromHalves(0, 0))
}

func TestKvEntry_ValueAsString(t *testing.T) {
	tests := []struct {
		name  string
		entry KvEntry
		want  string
	}{
		{"bool", NewBoolEntry("k", true), "true"},
		{"long", NewLongEntry("k", -42), "-42"},
		{"double", NewDoubleEntry("k", 22.5), "22.5"},
		{"double integral", NewDoubleEntry("k", 3), "3"},
		{"string", NewStringEntry("k", "on"), "on"},
		{"json", NewJSONEntry("k", `{"a":1}`), `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.ValueAsString())
		})
	}
}

func TestKvEntry_LongValue(t *testing.T) {
	assert.Equal(t, int64(60000), NewLongEntry("t", 60000).LongValue())
	assert.Equal(t, int64(12), NewDoubleEntry("t", 12.9).LongValue())
	assert.Equal(t, int64(0), NewDoubleEntry("t", math.NaN()).LongValue())
	assert.Equal(t, int64(300), NewStringEntry("t", "300").LongValue())
	assert.Equal(t, int64(0), NewStringEntry("t", "soon").LongValue())
	assert.Equal(t, int64(0), NewJSONEntry("t", `{"x":1}`).LongValue())
	assert.Equal(t, int64(1), NewBoolEntry("t", true).LongValue())
}

func TestParseDataType(t *testing.T) {
	dt, err := ParseDataType("DOUBLE")
	require.NoError(t, err)
	assert.Equal(t, DataTypeDouble, dt)

	_, err = ParseDataType("FLOAT")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAttributeScope_Matches(t *testing.T) {
	assert.True(t, ScopeAny.Matches(ScopeClient))
	assert.True(t, ScopeAny.Matches(ScopeServer))
	assert.True(t, ScopeShared.Matches(ScopeShared))
	assert.False(t, ScopeShared.Matches(ScopeServer))
	assert.False(t, ScopeClient.Matches(ScopeAny))

	assert.Len(t, ScopeAny.Concrete(), 3)
	assert.Equal(t, []AttributeScope{ScopeServer}, ScopeServer.Concrete())

	_, err := ParseAttributeScope("DEVICE_SCOPE")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAlarmInfo_JSON(t *testing.T) {
	alarm := AlarmInfo{
		ID:          uuid.New(),
		TenantID:    NewTenantID(),
		Originator:  NewEntityID(EntityTypeAsset),
		Type:        "High Temperature",
		Severity:    "CRITICAL",
		Status:      AlarmActiveUnack,
		CreatedTime: 1700000000000,
		Details:     json.RawMessage(`{"temp":91}`),
	}

	data, err := json.Marshal(alarm)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"entityType":"ASSET"`)

	var back AlarmInfo
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, alarm.ID, back.ID)
	assert.Equal(t, alarm.TenantID, back.TenantID)
	assert.Equal(t, alarm.Originator, back.Originator)
	assert.JSONEq(t, `{"temp":91}`, string(back.Details))
}

func TestEntityID_UnmarshalJSONRejectsUnknownType(t *testing.T) {
	var id EntityID
	err := json.Unmarshal([]byte(`{"entityType":"ROBOT","id":"`+uuid.NewString()+`"}`), &id)
	assert.Error(t, err)
}
