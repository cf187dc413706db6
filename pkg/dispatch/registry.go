// Package dispatch routes frames to handlers registered under the frame's
// type tag. Wire frames and lifecycle frames share the same path.
package dispatch

import (
	"sync"

	"github.com/go-go-golems/tutorchat/pkg/chatproto"
)

// Handler consumes one frame. Handlers run synchronously inside Dispatch.
type Handler func(f chatproto.Frame)

// Subscription identifies one registered handler; pass it to Unsubscribe.
type Subscription struct {
	Type chatproto.FrameType
	id   uint64
}

type entry struct {
	id uint64
	h  Handler
}

// Registry maps frame types to ordered handler lists.
type Registry struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[chatproto.FrameType][]entry
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[chatproto.FrameType][]entry{}}
}

// Subscribe appends h to the handlers for t. The same function may be
// registered more than once; each registration is invoked.
func (r *Registry) Subscribe(t chatproto.FrameType, h Handler) Subscription {
	if r == nil || h == nil {
		return Subscription{Type: t}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers[t] = append(r.handlers[t], entry{id: r.nextID, h: h})
	return Subscription{Type: t, id: r.nextID}
}

// Unsubscribe removes a registration. Unknown subscriptions are ignored.
func (r *Registry) Unsubscribe(sub Subscription) {
	if r == nil || sub.id == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[sub.Type]
	for i, e := range list {
		if e.id != sub.id {
			continue
		}
		// rebuild instead of shifting in place: a concurrent Dispatch may
		// still be iterating its copy of the old slice
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, sub.Type)
		} else {
			r.handlers[sub.Type] = next
		}
		return
	}
}

// Dispatch invokes every handler registered for f.Type in registration
// order. A type without handlers is a no-op.
func (r *Registry) Dispatch(f chatproto.Frame) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hlist := append([]entry(nil), r.handlers[f.Type]...)
	r.mu.RUnlock()

	for _, e := range hlist {
		e.h(f)
	}
}

// Count returns the number of handlers registered for t.
func (r *Registry) Count(t chatproto.FrameType) int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[t])
}
