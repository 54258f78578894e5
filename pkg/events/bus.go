package events

import (
	"slices"
	"sync"

	"github.com/crystal-mush/musedb/pkg/gamedb"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// SubscriberFunc adapts a function to a Subscriber that never closes.
type SubscriberFunc func(ev Event)

func (f SubscriberFunc) Receive(ev Event) { f(ev) }
func (f SubscriberFunc) Closed() bool     { return false }

// Bus delivers database events synchronously, in registration order, to
// three kinds of listener: watchers of the event's subject object, handlers
// of its type, and global subscribers. Delivery happens on the emitting
// goroutine, so a listener sees the database exactly as the emitter left it.
type Bus struct {
	mu       sync.RWMutex
	watchers map[gamedb.DBRef][]Subscriber
	handlers map[EventType][]Subscriber
	global   []Subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		watchers: make(map[gamedb.DBRef][]Subscriber),
		handlers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers sub for events whose subject is ref.
func (b *Bus) Subscribe(ref gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers[ref] = append(b.watchers[ref], sub)
}

// Unsubscribe removes sub from ref's watchers.
func (b *Bus) Unsubscribe(ref gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := slices.Index(b.watchers[ref], sub); i >= 0 {
		b.watchers[ref] = slices.Delete(b.watchers[ref], i, i+1)
	}
	if len(b.watchers[ref]) == 0 {
		delete(b.watchers, ref)
	}
}

// On registers fn for every event of type t, whatever its subject.
func (b *Bus) On(t EventType, fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], SubscriberFunc(fn))
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

// Emit delivers ev to ref watchers, then type handlers, then globals.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	targets := make([]Subscriber, 0, len(b.watchers[ev.Ref])+len(b.handlers[ev.Type])+len(b.global))
	targets = append(targets, b.watchers[ev.Ref]...)
	targets = append(targets, b.handlers[ev.Type]...)
	targets = append(targets, b.global...)
	b.mu.RUnlock()

	deliver(targets, ev)
}

// EmitToContents sends a copy of ev to the watchers of every object in
// loc's contents chain, with Related set to loc. Type handlers and global
// subscribers are not notified; callers Emit the original for them.
func (b *Bus) EmitToContents(db *gamedb.DB, loc gamedb.DBRef, ev Event) {
	for _, ref := range db.ContentsOf(loc) {
		b.mu.RLock()
		subs := slices.Clone(b.watchers[ref])
		b.mu.RUnlock()
		if len(subs) == 0 {
			continue
		}
		objEv := ev
		objEv.Ref = ref
		objEv.Related = loc
		deliver(subs, objEv)
	}
}

func deliver(subs []Subscriber, ev Event) {
	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// Watchers returns the number of subscribers watching ref.
func (b *Bus) Watchers(ref gamedb.DBRef) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.watchers[ref])
}

// Cleanup drops closed subscribers. Watchers of destroyed objects go with
// them once their owners close.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	closed := func(s Subscriber) bool { return s.Closed() }
	for ref, subs := range b.watchers {
		if subs = slices.DeleteFunc(subs, closed); len(subs) == 0 {
			delete(b.watchers, ref)
		} else {
			b.watchers[ref] = subs
		}
	}
	b.global = slices.DeleteFunc(b.global, closed)
}
