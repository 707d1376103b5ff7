// Package window pages through a server-ordered document stream using two
// bounded buffers: a lookahead window of prefetched documents and a history
// window of documents already seen.
package window

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// DefaultCapacity is the size of each window.
const DefaultCapacity = 6

// Source fetches documents around an anchor. The ordering (sequential by
// sort key, or server-prioritized) is the Source's business.
type Source[T any] interface {
	// Next returns up to n documents that follow after, in stream order.
	// A nil anchor asks for the start of the stream.
	Next(ctx context.Context, after *T, n int) ([]T, error)
	// Previous returns up to n documents that precede before, ordered
	// oldest to newest.
	Previous(ctx context.Context, before *T, n int) ([]T, error)
}

// Keyer is implemented by sources whose documents carry an identity. The
// cache then drops fetched history entries it already holds.
type Keyer[T any] interface {
	Key(doc T) string
}

// Window is one bounded buffer and its cursor.
type Window[T any] struct {
	Items  []T `json:"items"`
	Cursor int `json:"cursor"`
}

// Snapshot is a read-only copy of the cache state.
type Snapshot[T any] struct {
	Forward  Window[T] `json:"forward"`
	Backward Window[T] `json:"backward"`
	Current  *T        `json:"current,omitempty"`
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	capacity int
	logger   *slog.Logger
}

// WithCapacity sets the window size. Odd sizes round up to the next even
// number; sizes below 2 fall back to DefaultCapacity.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n < 2 {
			n = DefaultCapacity
		}
		if n%2 != 0 {
			n++
		}
		o.capacity = n
	}
}

// WithLogger sets the logger used for refill events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Cache holds the forward (lookahead) and backward (history) windows around
// the current document.
//
// When the backward cursor k is non-zero the current document is the k-th
// newest history entry; otherwise it is forward.Items[forward.Cursor], or
// the seeded anchor while the forward window is empty. At most one cursor
// is non-zero at any time.
type Cache[T any] struct {
	mu       sync.Mutex
	src      Source[T]
	capacity int
	log      *slog.Logger
	key      func(T) string

	forward  Window[T]
	backward Window[T]
	anchor   *T
}

// New creates an empty cache over src.
func New[T any](src Source[T], opts ...Option) *Cache[T] {
	o := options{capacity: DefaultCapacity, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache[T]{src: src, capacity: o.capacity, log: o.logger}
	if k, ok := src.(Keyer[T]); ok {
		c.key = k.Key
	}
	return c
}

// Capacity returns the window size.
func (c *Cache[T]) Capacity() int {
	return c.capacity
}

// Seed clears both windows and makes doc the current document.
func (c *Cache[T]) Seed(doc T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
	c.anchor = &doc
}

// Reset discards everything, including the current document.
func (c *Cache[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
}

func (c *Cache[T]) clear() {
	c.forward = Window[T]{}
	c.backward = Window[T]{}
	c.anchor = nil
}

// Current returns the document being displayed.
func (c *Cache[T]) Current() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current()
}

// Snapshot copies the cache state.
func (c *Cache[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot[T]{
		Forward:  Window[T]{Items: append([]T(nil), c.forward.Items...), Cursor: c.forward.Cursor},
		Backward: Window[T]{Items: append([]T(nil), c.backward.Items...), Cursor: c.backward.Cursor},
	}
	if cur, ok := c.current(); ok {
		snap.Current = &cur
	}
	return snap
}

// Restore puts the cache back into a state taken by Snapshot. Callers use
// it to undo a step whose document could not be entered.
func (c *Cache[T]) Restore(snap Snapshot[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forward = Window[T]{Items: append([]T(nil), snap.Forward.Items...), Cursor: snap.Forward.Cursor}
	c.backward = Window[T]{Items: append([]T(nil), snap.Backward.Items...), Cursor: snap.Backward.Cursor}
	c.anchor = nil
	// Only a seeded anchor is current with both windows idle.
	if snap.Current != nil && len(snap.Forward.Items) == 0 && snap.Backward.Cursor == 0 {
		doc := *snap.Current
		c.anchor = &doc
	}
}

func (c *Cache[T]) current() (T, bool) {
	var zero T
	switch {
	case c.backward.Cursor > 0:
		return c.backward.Items[len(c.backward.Items)-c.backward.Cursor], true
	case len(c.forward.Items) > 0:
		return c.forward.Items[c.forward.Cursor], true
	case c.anchor != nil:
		return *c.anchor, true
	default:
		return zero, false
	}
}

func (c *Cache[T]) currentPtr() *T {
	if cur, ok := c.current(); ok {
		return &cur
	}
	return nil
}

// ============================================================================
// Buffer helpers
// ============================================================================

// keepTail bounds items to the newest n entries.
func keepTail[T any](items []T, n int) []T {
	if len(items) > n {
		items = items[len(items)-n:]
	}
	return append([]T(nil), items...)
}

// keepHead bounds items to the first n entries.
func keepHead[T any](items []T, n int) []T {
	if len(items) > n {
		items = items[:n]
	}
	return append([]T(nil), items...)
}

// unseen drops entries of items (oldest first) that the cache already holds
// or that repeat a newer entry of items.
func (c *Cache[T]) unseen(items []T) []T {
	if c.key == nil {
		return items
	}
	held := make(map[string]bool, len(items)+len(c.forward.Items)+len(c.backward.Items)+1)
	for _, it := range c.forward.Items {
		held[c.key(it)] = true
	}
	for _, it := range c.backward.Items {
		held[c.key(it)] = true
	}
	if c.anchor != nil {
		held[c.key(*c.anchor)] = true
	}
	out := make([]T, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		k := c.key(items[i])
		if held[k] {
			continue
		}
		held[k] = true
		out = append(out, items[i])
	}
	slices.Reverse(out)
	return out
}

func concat[T any](a, b []T) []T {
	out := make([]T, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
