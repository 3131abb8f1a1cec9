package chat

import (
	"sync"
	"time"
)

// Subscription is a cancellable stream of platform events. The event channel
// is never closed; consumers select on Done to learn the stream has ended.
type Subscription[T any] struct {
	events chan T
	done   chan struct{}
	once   sync.Once
	onStop func()
}

// NewSubscription returns a subscription with the given buffer. onStop runs
// once when the subscription is stopped and may be nil.
func NewSubscription[T any](buffer int, onStop func()) *Subscription[T] {
	return &Subscription[T]{
		events: make(chan T, buffer),
		done:   make(chan struct{}),
		onStop: onStop,
	}
}

func (s *Subscription[T]) Events() <-chan T { return s.events }

func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Stop ends the subscription. It is safe to call more than once and on a nil
// subscription.
func (s *Subscription[T]) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.done)
		if s.onStop != nil {
			s.onStop()
		}
	})
}

// Stopped reports whether Stop has been called.
func (s *Subscription[T]) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Deliver hands ev to the consumer, giving up after timeout or once the
// subscription is stopped. It reports whether the event was delivered.
func (s *Subscription[T]) Deliver(ev T, timeout time.Duration) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-timer.C:
		return false
	}
}
