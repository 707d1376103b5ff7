package window

import (
	"context"
	"fmt"
)

// StepForward moves to the next document.
//
// ok is false, with a nil error, when the source has nothing further; the
// current document is then unchanged. A fetch error also leaves the state
// untouched. Steps are serialized: a refill in flight holds the cache until
// its result is applied.
func (c *Cache[T]) StepForward(ctx context.Context) (T, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	half := c.capacity / 2

	switch {
	case c.backward.Cursor > 1 || (c.backward.Cursor == 1 && len(c.forward.Items) > 0):
		// Walking back toward the lookahead window through history.
		c.backward.Cursor--

	case c.backward.Cursor == 1:
		// Newest history entry with nothing ahead of it.
		fetched, err := c.fetchNext(ctx, c.currentPtr(), c.capacity)
		if err != nil || len(fetched) == 0 {
			return zero, false, err
		}
		c.backward.Cursor = 0
		c.forward = Window[T]{Items: fetched}

	case len(c.forward.Items) == 0:
		fetched, err := c.fetchNext(ctx, c.anchor, c.capacity)
		if err != nil || len(fetched) == 0 {
			return zero, false, err
		}
		if c.anchor != nil {
			c.backward.Items = keepTail(concat(c.backward.Items, []T{*c.anchor}), c.capacity)
			c.anchor = nil
		}
		c.forward = Window[T]{Items: fetched}

	case c.forward.Cursor+1 < len(c.forward.Items) && c.forward.Cursor < half-1:
		c.forward.Cursor++

	default:
		last := c.forward.Items[len(c.forward.Items)-1]
		fetched, err := c.fetchNext(ctx, &last, half)
		if err != nil {
			return zero, false, err
		}
		if len(fetched) == 0 {
			if c.forward.Cursor+1 >= len(c.forward.Items) {
				return zero, false, nil
			}
			c.forward.Cursor++
			break
		}
		next := c.forward.Cursor + 1
		c.backward.Items = keepTail(concat(c.backward.Items, c.forward.Items[:next]), c.capacity)
		c.forward = Window[T]{Items: keepHead(concat(c.forward.Items[next:], fetched), c.capacity)}
		c.log.Debug("window refill", "direction", "forward", "fetched", len(fetched),
			"ahead", len(c.forward.Items), "history", len(c.backward.Items))
	}

	cur, _ := c.current()
	return cur, true, nil
}

// StepBackward moves to the previous document. It mirrors StepForward with
// the roles of the two windows swapped.
func (c *Cache[T]) StepBackward(ctx context.Context) (T, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	half := c.capacity / 2

	switch {
	case c.forward.Cursor > 0:
		c.forward.Cursor--

	case c.backward.Cursor == 0 && len(c.backward.Items) == 0:
		fetched, err := c.fetchPrevious(ctx, c.currentPtr(), c.capacity)
		if err != nil || len(fetched) == 0 {
			return zero, false, err
		}
		if len(c.forward.Items) == 0 && c.anchor != nil {
			// Keep the anchor reachable by a forward step.
			c.forward = Window[T]{Items: []T{*c.anchor}}
			c.anchor = nil
		}
		c.backward = Window[T]{Items: keepTail(fetched, c.capacity), Cursor: 1}

	case c.backward.Cursor < len(c.backward.Items) && c.backward.Cursor < half:
		c.backward.Cursor++

	default:
		oldest := c.backward.Items[0]
		fetched, err := c.fetchPrevious(ctx, &oldest, half)
		if err != nil {
			return zero, false, err
		}
		if len(fetched) == 0 {
			if c.backward.Cursor >= len(c.backward.Items) {
				return zero, false, nil
			}
			c.backward.Cursor++
			break
		}
		merged := concat(fetched, c.backward.Items)
		at := len(merged) - c.backward.Cursor
		// The current entry and everything newer rotate into the lookahead
		// window; its far end is dropped to stay within capacity.
		c.forward = Window[T]{Items: keepHead(concat(merged[at:], c.forward.Items), c.capacity)}
		c.backward = Window[T]{Items: keepTail(merged[:at], c.capacity), Cursor: 1}
		c.log.Debug("window refill", "direction", "backward", "fetched", len(fetched),
			"ahead", len(c.forward.Items), "history", len(c.backward.Items))
	}

	cur, _ := c.current()
	return cur, true, nil
}

func (c *Cache[T]) fetchNext(ctx context.Context, after *T, n int) ([]T, error) {
	out, err := c.src.Next(ctx, after, n)
	if err != nil {
		return nil, fmt.Errorf("window: fetch next %d: %w", n, err)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (c *Cache[T]) fetchPrevious(ctx context.Context, before *T, n int) ([]T, error) {
	out, err := c.src.Previous(ctx, before, n)
	if err != nil {
		return nil, fmt.Errorf("window: fetch previous %d: %w", n, err)
	}
	out = c.unseen(out)
	// Keep the entries nearest the anchor.
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}
