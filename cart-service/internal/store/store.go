package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// KeyValueStore persists JSON blobs under string keys.
// Consumers define this interface, not the backends.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Event reports that another writer changed a key. Value is nil on removal.
type Event struct {
	Key    string
	Value  []byte
	Writer string
}

// Watcher is implemented by stores shared between writers. Events for a key are
// delivered to every watcher except the one that made the change. Watch blocks
// until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, key string, fn func(Event)) error
}
