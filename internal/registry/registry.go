// Package registry implements the Subscription Registry (spec §4.3):
// per-client event-type filters and the fan-out that delivers matching
// CacheEvents to connected sessions without blocking the cache
// engine's mutator.
//
// The client map is a concurrent map (puzpuzpuz/xsync), not a plain
// map behind a mutex — grounded on the pack's own lock-free pub/sub
// event bus — so sessions can add, subscribe, and remove clients while
// a fan-out is ranging over the map. The fan-out itself runs as an
// events.Bus handler, on the emitting goroutine while the cache
// engine's lock is held; it does not hand events to another goroutine,
// and it stays non-blocking because each session's Notify only
// enqueues.
package registry

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/kvmesh/kvmesh/internal/events"
	"github.com/kvmesh/kvmesh/internal/logx"
)

// Notifier delivers a single CacheEvent to one connected client. A
// session implements this over its write-serialized socket. A
// returned error means the peer is gone or broken; the registry
// removes the client and calls its Close.
type Notifier interface {
	Notify(events.CacheEvent) error
	Close() error
}

// subscription's event set is mutated by Subscribe/Unsubscribe and read
// by dispatch, both of which may run concurrently on the same client —
// the mutex guards events independently of the xsync.Map's own
// concurrency, which only protects the client->*subscription mapping.
type subscription struct {
	mu       sync.RWMutex
	notifier Notifier
	events   map[events.Type]struct{}
}

// Registry maps client_id -> ClientSubscription and fans out events
// received from the Event Source.
type Registry struct {
	clients *xsync.Map[string, *subscription]
	log     logx.Logger
}

// New returns an empty Registry.
func New(log logx.Logger) *Registry {
	if log == nil {
		log = logx.Nop{}
	}
	return &Registry{
		clients: xsync.NewMap[string, *subscription](),
		log:     log,
	}
}

// AddClient registers id with an empty event set: per §4.3, a client
// with an empty set receives nothing until it Subscribes.
func (r *Registry) AddClient(id string, notifier Notifier) {
	r.clients.Store(id, &subscription{
		notifier: notifier,
		events:   make(map[events.Type]struct{}),
	})
}

// Subscribe replaces id's subscribed set with types — not a union. An
// empty or nil types replaces the set with the full event-type
// universe.
func (r *Registry) Subscribe(id string, types []events.Type) {
	sub, ok := r.clients.Load(id)
	if !ok {
		return
	}
	if len(types) == 0 {
		types = events.AllTypes
	}
	set := make(map[events.Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	sub.mu.Lock()
	sub.events = set
	sub.mu.Unlock()
}

// Unsubscribe clears id's subscribed set when types is empty, or
// subtracts types from it otherwise.
func (r *Registry) Unsubscribe(id string, types []events.Type) {
	sub, ok := r.clients.Load(id)
	if !ok {
		return
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(types) == 0 {
		sub.events = make(map[events.Type]struct{})
		return
	}
	for _, t := range types {
		delete(sub.events, t)
	}
}

// RemoveClient drops id's subscription entirely, e.g. when its
// session ends.
func (r *Registry) RemoveClient(id string) {
	r.clients.Delete(id)
}

// Handler returns an events.Handler suitable for registering on an
// events.Bus: it performs the fan-out described by §4.3/§4.2,
// delivering evt to every client whose subscribed set contains its
// type. Delivery failures evict the offending client and close its
// socket; other deliveries continue.
func (r *Registry) Handler() func(events.CacheEvent) {
	return r.dispatch
}

func (r *Registry) dispatch(evt events.CacheEvent) {
	r.clients.Range(func(id string, sub *subscription) bool {
		sub.mu.RLock()
		_, wants := sub.events[evt.EventType]
		sub.mu.RUnlock()
		if !wants {
			return true
		}
		if err := sub.notifier.Notify(evt); err != nil {
			r.log.Record(logx.Warn, "dropping subscriber after failed delivery",
				logx.F("client_id", id), logx.F("error", err.Error()))
			r.clients.Delete(id)
			_ = sub.notifier.Close()
		}
		return true
	})
}
