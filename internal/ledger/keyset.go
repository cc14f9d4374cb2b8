package ledger

import "sort"

// KeySet is a set of timestamp keys. Membership is exact string match.
type KeySet struct {
	m map[string]struct{}
}

// NewKeySet returns a set holding keys.
func NewKeySet(keys ...string) *KeySet {
	s := &KeySet{m: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		s.m[k] = struct{}{}
	}
	return s
}

// Has reports exact membership.
func (s *KeySet) Has(key string) bool {
	_, ok := s.m[key]
	return ok
}

// Add inserts key and reports whether it was new.
func (s *KeySet) Add(key string) bool {
	if s.Has(key) {
		return false
	}
	s.m[key] = struct{}{}
	return true
}

// Remove deletes key and reports whether it was present.
func (s *KeySet) Remove(key string) bool {
	if !s.Has(key) {
		return false
	}
	delete(s.m, key)
	return true
}

// Len returns the number of keys.
func (s *KeySet) Len() int { return len(s.m) }

// Sorted returns the keys in ascending order.
func (s *KeySet) Sorted() []string {
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RemoveFunc deletes every key for which drop returns true and returns the
// removed keys in ascending order.
func (s *KeySet) RemoveFunc(drop func(key string) bool) []string {
	var removed []string
	for _, k := range s.Sorted() {
		if drop(k) {
			delete(s.m, k)
			removed = append(removed, k)
		}
	}
	return removed
}
