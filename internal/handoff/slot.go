// Package handoff implements a single-slot rendezvous between one producer
// running on the capture loop and one external reader.
package handoff

import (
	"context"
	"errors"
	"sync"
)

// Errors returned by Slot.Request.
var (
	ErrBusy        = errors.New("handoff: request already pending")
	ErrInterrupted = errors.New("handoff: request interrupted")
)

type request[T any] struct {
	dst  T
	done chan result
}

type result struct {
	n   int
	err error
}

// Slot holds at most one pending request. The producer fills it once and
// releases the reader; the mutex only guards the slot pointer and is never
// held while filling or waiting.
type Slot[T any] struct {
	mu      sync.Mutex
	pending *request[T]
}

// Request registers dst and blocks until the producer has filled it, the
// slot is interrupted or ctx is done. It returns the count reported by the
// producer's fill function.
func (s *Slot[T]) Request(ctx context.Context, dst T) (int, error) {
	r := &request[T]{dst: dst, done: make(chan result, 1)}

	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return 0, ErrBusy
	}
	s.pending = r
	s.mu.Unlock()

	select {
	case res := <-r.done:
		return res.n, res.err
	case <-ctx.Done():
	}

	s.mu.Lock()
	if s.pending == r {
		s.pending = nil
		s.mu.Unlock()
		return 0, ctx.Err()
	}
	s.mu.Unlock()

	// The producer already took the request; its answer is buffered.
	res := <-r.done
	return res.n, res.err
}

// Pending reports whether a request is waiting.
func (s *Slot[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Fulfill hands the pending request, if any, to fill and releases the
// reader with fill's result.
func (s *Slot[T]) Fulfill(fill func(dst T) int) bool {
	r := s.take()
	if r == nil {
		return false
	}
	r.done <- result{n: fill(r.dst)}
	return true
}

// Interrupt releases a pending request with ErrInterrupted.
func (s *Slot[T]) Interrupt() {
	if r := s.take(); r != nil {
		r.done <- result{err: ErrInterrupted}
	}
}

func (s *Slot[T]) take() *request[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.pending
	s.pending = nil
	return r
}
