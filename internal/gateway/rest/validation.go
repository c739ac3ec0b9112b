package rest

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/syntrixbase/fanout/pkg/model"
)

// MaxKeyLength bounds telemetry and attribute key names.
const MaxKeyLength = 255

var keyRegex = regexp.MustCompile(`^[^\s,]+$`)

func validateKey(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("key length cannot exceed %d characters", MaxKeyLength)
	}
	if !keyRegex.MatchString(key) {
		return fmt.Errorf("key %q contains whitespace or commas", key)
	}
	return nil
}

func parseTenant(r *http.Request) (model.TenantID, error) {
	id, err := uuid.Parse(r.PathValue("tenant"))
	if err != nil {
		return model.NilTenantID, fmt.Errorf("invalid tenant id: %w", err)
	}
	return model.TenantID(id), nil
}

func parseEntity(r *http.Request) (model.EntityID, error) {
	t, err := model.ParseEntityType(strings.ToUpper(r.PathValue("entityType")))
	if err != nil {
		return model.EntityID{}, err
	}
	id, err := uuid.Parse(r.PathValue("entityId"))
	if err != nil {
		return model.EntityID{}, fmt.Errorf("invalid entity id: %w", err)
	}
	return model.EntityID{Type: t, ID: id}, nil
}

// parseTarget reads the tenant and entity path values.
func parseTarget(w http.ResponseWriter, r *http.Request) (model.TenantID, model.EntityID, bool) {
	tenantID, err := parseTenant(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return tenantID, model.EntityID{}, false
	}
	entityID, err := parseEntity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return tenantID, entityID, false
	}
	return tenantID, entityID, true
}

// parseKeys reads the comma separated "keys" query parameter.
func parseKeys(r *http.Request) ([]string, error) {
	raw := r.URL.Query().Get("keys")
	if raw == "" {
		return nil, errors.New("keys query parameter is required")
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		k = strings.TrimSpace(k)
		if err := validateKey(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// parseValues converts a JSON object into typed entries, sorted by key.
// Booleans, integers, floats and strings keep their type; objects and
// arrays are stored as JSON text.
func parseValues(values map[string]json.RawMessage) ([]model.KvEntry, error) {
	if len(values) == 0 {
		return nil, errors.New("no values")
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]model.KvEntry, 0, len(keys))
	for _, k := range keys {
		if err := validateKey(k); err != nil {
			return nil, err
		}
		e, err := parseValue(k, values[k])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseValue(key string, raw json.RawMessage) (model.KvEntry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return model.KvEntry{}, fmt.Errorf("value of %q is empty", key)
	}
	switch raw[0] {
	case 'n':
		return model.KvEntry{}, fmt.Errorf("value of %q is null", key)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return model.KvEntry{}, fmt.Errorf("value of %q: %w", key, err)
		}
		return model.NewBoolEntry(key, b), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return model.KvEntry{}, fmt.Errorf("value of %q: %w", key, err)
		}
		return model.NewStringEntry(key, s), nil
	case '{', '[':
		if !json.Valid(raw) {
			return model.KvEntry{}, fmt.Errorf("value of %q is not valid JSON", key)
		}
		return model.NewJSONEntry(key, string(raw)), nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return model.KvEntry{}, fmt.Errorf("value of %q: %w", key, err)
		}
		if l, err := n.Int64(); err == nil {
			return model.NewLongEntry(key, l), nil
		}
		d, err := n.Float64()
		if err != nil {
			return model.KvEntry{}, fmt.Errorf("value of %q is not a number", key)
		}
		return model.NewDoubleEntry(key, d), nil
	}
}
