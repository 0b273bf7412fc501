package main

// Subscription detaches a callback registered on a feed.
// Dispose is idempotent.
type Subscription interface {
	Dispose()
}

// ActivitySource delivers edit magnitudes.
type ActivitySource interface {
	Subscribe(fn func(magnitude float64)) Subscription
}

// FocusSource delivers window focus transitions.
type FocusSource interface {
	Subscribe(fn func(focused bool)) Subscription
}

// feed is a synchronous fan-out of values to subscribers. It is owned by
// the daemon goroutine; Publish calls every subscriber in registration order.
type feed[T any] struct {
	subs  map[uint64]func(T)
	order []uint64
	next  uint64
}

func newFeed[T any]() *feed[T] {
	return &feed[T]{subs: make(map[uint64]func(T))}
}

func (f *feed[T]) Subscribe(fn func(T)) Subscription {
	id := f.next
	f.next++
	f.subs[id] = fn
	f.order = append(f.order, id)
	return &feedSubscription[T]{feed: f, id: id}
}

func (f *feed[T]) Publish(v T) {
	for _, id := range f.order {
		if fn, ok := f.subs[id]; ok {
			fn(v)
		}
	}
}

func (f *feed[T]) remove(id uint64) {
	delete(f.subs, id)
	for i, o := range f.order {
		if o == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of attached subscribers.
func (f *feed[T]) Len() int { return len(f.subs) }

type feedSubscription[T any] struct {
	feed     *feed[T]
	id       uint64
	disposed bool
}

func (s *feedSubscription[T]) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	s.feed.remove(s.id)
}
