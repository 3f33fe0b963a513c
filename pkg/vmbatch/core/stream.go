package core

import "sync"

// Stream is a closable collection an operation writes into and a consumer
// polls. Writes after Close are dropped.
type Stream[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
}

// NewStream creates an open stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{}
}

// Add appends v and reports whether it was kept.
func (s *Stream[T]) Add(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.items = append(s.items, v)
	return true
}

// Close stops the stream from accepting items. Buffered items stay readable.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Stream[T]) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Items returns a copy of the buffered items.
func (s *Stream[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Drain returns the buffered items and empties the buffer.
func (s *Stream[T]) Drain() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.items
	s.items = nil
	return out
}

func (s *Stream[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
