package share

import (
	"context"
	"sync"
)

// Latest holds a value and fans it out to subscribers with latest-value
// semantics: a slow subscriber skips intermediate values but always ends up
// with the most recent one.
type Latest[T any] struct {
	mu     sync.Mutex
	value  T
	subs   map[int]chan T
	nextID int
	// version counts every Set and accepted Update.
	version uint64
}

func NewLatest[T any](initial T) *Latest[T] {
	return &Latest[T]{value: initial, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (l *Latest[T]) Get() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// GetVersioned returns the current value and how many times it has been replaced.
func (l *Latest[T]) GetVersioned() (T, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.version
}

// Set replaces the value and notifies every subscriber.
func (l *Latest[T]) Set(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setLocked(v)
}

// Update applies fn atomically; the value is published only when fn returns true.
func (l *Latest[T]) Update(fn func(current T) (T, bool)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, ok := fn(l.value)
	if ok {
		l.setLocked(next)
	}
	return ok
}

func (l *Latest[T]) setLocked(v T) {
	l.value = v
	l.version++
	for _, ch := range l.subs {
		// Only the publisher sends, under mu, so after the drain the send cannot block.
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Subscribe delivers the current value immediately and every later one.
// The channel is closed when ctx is done.
func (l *Latest[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	ch <- l.value
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		close(ch)
		l.mu.Unlock()
	}()
	return ch
}
