package model

// AttributeScope partitions entity attributes by who may write them.
type AttributeScope string

const (
	ScopeClient AttributeScope = "CLIENT_SCOPE"
	ScopeShared AttributeScope = "SHARED_SCOPE"
	ScopeServer AttributeScope = "SERVER_SCOPE"
	// ScopeAny matches every scope. It is only valid on subscriptions, reads
	// and deletes.
	ScopeAny AttributeScope = "ANY_SCOPE"
)

// ParseAttributeScope validates a scope name.
func ParseAttributeScope(s string) (AttributeScope, error) {
	switch sc := AttributeScope(s); sc {
	case ScopeClient, ScopeShared, ScopeServer, ScopeAny:
		return sc, nil
	default:
		return "", Invalidf("unknown attribute scope %q", s)
	}
}

// Matches reports whether an update in scope other is visible to a
// subscriber of scope s. Only the subscriber side treats ScopeAny as a
// wildcard.
func (s AttributeScope) Matches(other AttributeScope) bool {
	return s == ScopeAny || s == other
}

// Concrete returns the scopes s expands to.
func (s AttributeScope) Concrete() []AttributeScope {
	if s == ScopeAny {
		return []AttributeScope{ScopeClient, ScopeShared, ScopeServer}
	}
	return []AttributeScope{s}
}
