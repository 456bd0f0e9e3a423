// Package events provides an in-process publish/subscribe stream.
//
// Each subscriber gets its own unbounded queue drained by a pump goroutine,
// so Publish never blocks on a slow reader and every subscriber sees values
// in publish order.
package events

import "sync"

// Stream fans values out to subscribers. The zero value is ready to use.
type Stream[T any] struct {
	mu   sync.Mutex
	subs map[*Subscription[T]]struct{}
}

// Subscribe registers a new subscriber. It receives values published after
// this call, until Complete or Close.
//
// The caller must either drain C until it is closed or call Close. Values
// queue without bound for a subscriber that does neither, and its delivery
// goroutine never exits, Complete included.
func (s *Stream[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		stream: s,
		out:    make(chan T),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[*Subscription[T]]struct{})
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.pump()
	return sub
}

// Publish enqueues v for every current subscriber. It never blocks.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		sub.push(v)
	}
}

// Complete ends every current subscription after its queued values are
// delivered. Later subscribers are unaffected.
func (s *Stream[T]) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		sub.end()
	}
	s.subs = nil
}

// Subscribers returns the number of active subscriptions.
func (s *Stream[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Stream[T]) remove(sub *Subscription[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// Subscription is one subscriber's view of a Stream.
type Subscription[T any] struct {
	stream *Stream[T]
	out    chan T
	notify chan struct{}
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending []T
	ended   bool
}

// C returns the delivery channel. It is closed after Complete drains the
// queue, or immediately after Close.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Close unsubscribes and discards undelivered values. It is safe to call
// more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.stream.remove(s)
		close(s.done)
	})
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, v)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.Lock()
		if len(s.pending) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		v := s.pending[0]
		var zero T
		s.pending[0] = zero
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
