package dialog

import (
	"fmt"
	"slices"
	"sync"

	"github.com/neoclaw-ai/herald/internal/chat"
)

// Context is the state shared by every step of one dialog: the ledger of
// produced messages and a scratch bag of values.
type Context struct {
	mu       sync.Mutex
	messages []chat.MessageRef
	values   map[string]any
}

func newContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Record appends ref to the ledger. A ref already in the ledger is ignored.
func (c *Context) Record(ref chat.MessageRef) {
	if ref.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.messages, ref) {
		return
	}
	c.messages = append(c.messages, ref)
}

// Messages returns the ledger in creation order.
func (c *Context) Messages() []chat.MessageRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

func (c *Context) drain() []chat.MessageRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	refs := c.messages
	c.messages = nil
	return refs
}

// Set stores value under key, replacing any previous value.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns the value stored under key as T.
func Get[T any](c *Context, key string) (T, error) {
	var zero T
	c.mu.Lock()
	raw, ok := c.values[key]
	c.mu.Unlock()
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrMissingValue, key)
	}
	value, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q holds %T, want %T", ErrValueType, key, raw, zero)
	}
	return value, nil
}
