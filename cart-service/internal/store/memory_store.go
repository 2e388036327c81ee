package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend is shared in-memory storage. Each MemoryStore obtained from
// Tab acts as a separate writer, the way browser tabs share one storage area.
type MemoryBackend struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[string][]*memoryWatcher
}

// memoryWatcher queues events for one Watch call. The queue is unbounded so a
// writer never waits on a slow watcher.
type memoryWatcher struct {
	writer string
	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
}

func (w *memoryWatcher) push(ev Event) {
	w.mu.Lock()
	w.queue = append(w.queue, ev)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *memoryWatcher) drain() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.queue
	w.queue = nil
	return out
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:     make(map[string][]byte),
		watchers: make(map[string][]*memoryWatcher),
	}
}

// Tab returns a store view with its own writer identity.
func (b *MemoryBackend) Tab() *MemoryStore {
	return &MemoryStore{backend: b, writer: uuid.New().String()}
}

// MemoryStore implements KeyValueStore and Watcher on top of a MemoryBackend.
type MemoryStore struct {
	backend *MemoryBackend
	writer  string
}

// NewMemoryStore creates a store with a private backend.
func NewMemoryStore() *MemoryStore {
	return NewMemoryBackend().Tab()
}

func (s *MemoryStore) Writer() string { return s.writer }

// Watchers reports how many watches are registered for key.
func (b *MemoryBackend) Watchers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.watchers[key])
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()

	v, ok := s.backend.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)

	s.backend.mu.Lock()
	s.backend.data[key] = v
	s.backend.mu.Unlock()

	s.backend.notify(Event{Key: key, Value: v, Writer: s.writer})
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.backend.mu.Lock()
	delete(s.backend.data, key)
	s.backend.mu.Unlock()

	s.backend.notify(Event{Key: key, Writer: s.writer})
	return nil
}

// Watch delivers changes made by other writers from the calling goroutine, in
// write order, until ctx is done. Set and Remove only queue the event, the way
// browser storage events arrive after the write returns.
func (s *MemoryStore) Watch(ctx context.Context, key string, fn func(Event)) error {
	w := &memoryWatcher{writer: s.writer, wake: make(chan struct{}, 1)}

	s.backend.mu.Lock()
	s.backend.watchers[key] = append(s.backend.watchers[key], w)
	s.backend.mu.Unlock()
	defer s.backend.unwatch(key, w)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.wake:
			for _, ev := range w.drain() {
				if ctx.Err() != nil {
					return nil
				}
				fn(ev)
			}
		}
	}
}

func (b *MemoryBackend) unwatch(key string, w *memoryWatcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.watchers[key]
	for i, candidate := range list {
		if candidate == w {
			b.watchers[key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.watchers[key]) == 0 {
		delete(b.watchers, key)
	}
}

// notify queues ev for every watcher of the key except its writer.
func (b *MemoryBackend) notify(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, w := range b.watchers[ev.Key] {
		if w.writer != ev.Writer {
			w.push(ev)
		}
	}
}
