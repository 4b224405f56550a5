// Package latest provides a single-value publication slot.
//
// A Slot holds the most recent value published for one key (for example the
// snapshot of one profile, or the last install result of one profile) and
// fans it out to subscribers. Every subscriber channel has a buffer of one:
// when a subscriber falls behind, the stale value is dropped and replaced by
// the newer one, so readers always converge on the last published value.
//
// Example Usage:
//
//	var slot latest.Slot[types.Snapshot]
//	ch, cancel := slot.Subscribe()
//	defer cancel()
//	slot.Publish(snap)
//	got := <-ch
package latest

import (
	"sync"

	"github.com/google/uuid"
)

// Slot is a last-value-wins publication point. The zero value is ready to use.
type Slot[T any] struct {
	mu      sync.Mutex
	value   T
	has     bool
	version uint64
	subs    map[uuid.UUID]chan T
}

// Publish stores v and delivers it to every subscriber
func (s *Slot[T]) Publish(v T) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = v
	s.has = true
	s.version++
	for _, ch := range s.subs {
		offer(ch, v)
	}
	return s.version
}

// Get returns the last published value
func (s *Slot[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.has
}

// Version returns the number of values published so far
func (s *Slot[T]) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Subscribe returns a channel that receives every subsequent value, starting
// with the current one if any. The returned cancel func closes the channel.
func (s *Slot[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)
	key := uuid.New()

	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[uuid.UUID]chan T)
	}
	s.subs[key] = ch
	if s.has {
		ch <- s.value
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[key]; ok {
				delete(s.subs, key)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Subscribers returns the number of live subscriptions
func (s *Slot[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close closes every subscriber channel
func (s *Slot[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, ch := range s.subs {
		delete(s.subs, key)
		close(ch)
	}
}

// offer replaces any unread value with v. Must hold the slot lock.
func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
