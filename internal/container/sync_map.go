// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package container

import "sync"

// Thread-safe generic map.
type SyncMap[K comparable, V any] struct {
	m map[K]V
	l sync.RWMutex
}

func NewSyncMap[K comparable, V any]() SyncMap[K, V] {
	return SyncMap[K, V]{m: map[K]V{}}
}

func (s *SyncMap[K, V]) Load(key K) (V, bool) {
	s.l.RLock()
	defer s.l.RUnlock()
	val, ok := s.m[key]
	return val, ok
}

func (s *SyncMap[K, V]) Store(key K, val V) {
	s.l.Lock()
	defer s.l.Unlock()
	s.m[key] = val
}

// StoreIfAbsent stores the value only if the key is not already present and
// reports whether it did.
func (s *SyncMap[K, V]) StoreIfAbsent(key K, val V) bool {
	s.l.Lock()
	defer s.l.Unlock()
	if _, ok := s.m[key]; ok {
		return false
	}
	s.m[key] = val
	return true
}

// LoadAndDelete removes the key and returns its prior value, if any.
func (s *SyncMap[K, V]) LoadAndDelete(key K) (V, bool) {
	s.l.Lock()
	defer s.l.Unlock()
	val, ok := s.m[key]
	delete(s.m, key)
	return val, ok
}

func (s *SyncMap[K, V]) Delete(key K) {
	s.l.Lock()
	defer s.l.Unlock()
	delete(s.m, key)
}

// Values returns a point-in-time copy of the stored values, so callers can
// iterate without holding the map locked across I/O.
func (s *SyncMap[K, V]) Values() []V {
	s.l.RLock()
	defer s.l.RUnlock()
	vals := make([]V, 0, len(s.m))
	for _, v := range s.m {
		vals = append(vals, v)
	}
	return vals
}

func (s *SyncMap[K, V]) Len() int {
	s.l.RLock()
	defer s.l.RUnlock()
	return len(s.m)
}

func (s *SyncMap[K, V]) Range(f func(k K, v V) bool) {
	s.l.RLock()
	defer s.l.RUnlock()
	for k, v := range s.m {
		if !f(k, v) {
			return
		}
	}
}
