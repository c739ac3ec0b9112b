package subscription

import (
	"sort"
	"sync"
)

// KeyStates maps data keys to the newest timestamp already delivered to a
// subscriber. Watermarks never move backwards.
type KeyStates struct {
	mu     sync.RWMutex
	states map[string]int64
}

// NewKeyStates copies the initial watermarks.
func NewKeyStates(initial map[string]int64) *KeyStates {
	ks := &KeyStates{states: make(map[string]int64, len(initial))}
	for k, v := range initial {
		ks.states[k] = v
	}
	return ks
}

// Get returns the watermark of key.
func (k *KeyStates) Get(key string) (int64, bool) {
	if k == nil {
		return 0, false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	ts, ok := k.states[key]
	return ts, ok
}

// Contains reports whether key is tracked.
func (k *KeyStates) Contains(key string) bool {
	_, ok := k.Get(key)
	return ok
}

// Advance raises the watermark of key to ts. It returns false when the
// stored watermark is already at or beyond ts.
func (k *KeyStates) Advance(key string, ts int64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if cur, ok := k.states[key]; ok && cur >= ts {
		return false
	}
	k.states[key] = ts
	return true
}

// Merge advances every key in latest.
func (k *KeyStates) Merge(latest map[string]int64) {
	if len(latest) == 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, ts := range latest {
		if cur, ok := k.states[key]; !ok || ts > cur {
			k.states[key] = ts
		}
	}
}

// Snapshot returns a copy of the current watermarks.
func (k *KeyStates) Snapshot() map[string]int64 {
	if k == nil {
		return map[string]int64{}
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]int64, len(k.states))
	for key, ts := range k.states {
		out[key] = ts
	}
	return out
}

// Keys returns the tracked keys in sorted order.
func (k *KeyStates) Keys() []string {
	if k == nil {
		return nil
	}
	k.mu.RLock()
	keys := make([]string, 0, len(k.states))
	for key := range k.states {
		keys = append(keys, key)
	}
	k.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of tracked keys.
func (k *KeyStates) Len() int {
	if k == nil {
		return 0
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.states)
}
