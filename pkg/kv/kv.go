// Package kv is the local key-value layer of gizchat. Keys are paths of
// string segments (["prefs", "default"]) joined with ':' on
// disk, so a prefix scan lists everything below a path.
//
// Badger backs the persistent store; Memory is used in tests and when
// nothing needs to persist.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// Separator joins key segments. Segments must not contain it.
const Separator = ':'

// Key is a hierarchical path.
type Key []string

func (k Key) String() string {
	return strings.Join(k, string(Separator))
}

// Child returns a new key with segs appended.
func (k Key) Child(segs ...string) Key {
	out := make(Key, 0, len(k)+len(segs))
	return append(append(out, k...), segs...)
}

// Entry is a key-value pair returned by List and used by BatchSet.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path keys.
type Store interface {
	// Get returns ErrNotFound if key is not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	Set(ctx context.Context, key Key, value []byte) error

	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key Key) error

	// List yields the entries strictly below prefix in lexicographic order
	// of the encoded key. An empty prefix lists everything.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet stores entries atomically.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete removes keys atomically.
	BatchDelete(ctx context.Context, keys []Key) error

	Close() error
}

func encode(k Key) []byte {
	return []byte(k.String())
}

func decode(b []byte) Key {
	return Key(strings.Split(string(b), string(Separator)))
}

// scanPrefix is the encoded form of a List prefix. The trailing separator
// keeps "chat:a" from matching "chat:ab".
func scanPrefix(prefix Key) []byte {
	if len(prefix) == 0 {
		return nil
	}
	return append(encode(prefix), Separator)
}
