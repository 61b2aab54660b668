package conversation

import "slices"

// store keeps values in insertion order together with an index by id. The
// list and the index only change together.
type store[T any] struct {
	order []string
	byID  map[string]T
}

func newStore[T any]() *store[T] {
	return &store[T]{byID: make(map[string]T)}
}

// add inserts v under id unless id is already present and reports whether it
// was inserted.
func (s *store[T]) add(id string, v T) bool {
	if _, ok := s.byID[id]; ok {
		return false
	}
	s.byID[id] = v
	s.order = append(s.order, id)
	return true
}

func (s *store[T]) get(id string) (T, bool) {
	v, ok := s.byID[id]
	return v, ok
}

func (s *store[T]) remove(id string) (T, bool) {
	v, ok := s.byID[id]
	if !ok {
		return v, false
	}
	delete(s.byID, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return v, true
}

// list returns the values in insertion order as a new slice.
func (s *store[T]) list() []T {
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}
