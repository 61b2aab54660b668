// Package eventbus is a small named publish/subscribe hub with one-shot
// subscriptions. The transport layer and the client each own one.
package eventbus

import (
	"context"
	"sync"
)

// Handler receives the payload published under a name.
type Handler func(payload any)

// Subscription identifies a registered handler so it can be removed again.
type Subscription uint64

type listener struct {
	sub     Subscription
	handler Handler
}

// Bus is safe for concurrent use. Handlers run on the publishing goroutine,
// outside of the bus lock, so they may subscribe or publish themselves.
type Bus struct {
	mu     sync.Mutex
	nextID Subscription
	on     map[string][]listener
	next   map[string][]listener
}

func New() *Bus {
	return &Bus{
		on:   make(map[string][]listener),
		next: make(map[string][]listener),
	}
}

func (b *Bus) add(m map[string][]listener, name string, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	m[name] = append(m[name], listener{sub: b.nextID, handler: h})
	return b.nextID
}

func (b *Bus) remove(m map[string][]listener, name string, subs []Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(subs) == 0 {
		delete(m, name)
		return
	}
	current := m[name]
	kept := make([]listener, 0, len(current))
	for _, l := range current {
		drop := false
		for _, s := range subs {
			if l.sub == s {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(m, name)
		return
	}
	m[name] = kept
}

// On registers a persistent handler for name.
func (b *Bus) On(name string, h Handler) Subscription {
	return b.add(b.on, name, h)
}

// OnNext registers a handler that fires on the next publish of name only.
func (b *Bus) OnNext(name string, h Handler) Subscription {
	return b.add(b.next, name, h)
}

// Off removes the given persistent subscriptions for name, or all of them
// when none are given.
func (b *Bus) Off(name string, subs ...Subscription) {
	b.remove(b.on, name, subs)
}

// OffNext is Off for one-shot subscriptions.
func (b *Bus) OffNext(name string, subs ...Subscription) {
	b.remove(b.next, name, subs)
}

// Publish invokes every persistent handler for name followed by every
// one-shot handler registered before the call. One-shots registered while
// the handlers run wait for the next publish.
func (b *Bus) Publish(name string, payload any) {
	b.mu.Lock()
	persistent := append([]listener(nil), b.on[name]...)
	oneShot := b.next[name]
	delete(b.next, name)
	b.mu.Unlock()

	for _, l := range persistent {
		l.handler(payload)
	}
	for _, l := range oneShot {
		l.handler(payload)
	}
}

// WaitForNext blocks until name is published or ctx is done. On ctx
// expiry the pending one-shot is removed, so nothing fires later.
func (b *Bus) WaitForNext(ctx context.Context, name string) (any, error) {
	ch := make(chan any, 1)
	sub := b.OnNext(name, func(payload any) {
		ch <- payload
	})

	select {
	case payload := <-ch:
		return payload, nil
	case <-ctx.Done():
		b.OffNext(name, sub)
		// the publish may have raced the cancellation
		select {
		case payload := <-ch:
			return payload, nil
		default:
		}
		return nil, ctx.Err()
	}
}

// Reset discards every handler.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.on = make(map[string][]listener)
	b.next = make(map[string][]listener)
}
