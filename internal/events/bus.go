package events

import "github.com/kvmesh/kvmesh/internal/logx"

// Handler is invoked synchronously, under the cache engine's
// serialization guard, for every emitted event. A Handler must not
// perform blocking I/O; it should enqueue work (e.g. to the
// subscription registry's fan-out) and return immediately.
type Handler func(CacheEvent)

// Bus is an explicit pub-sub component standing in for the implicit
// multicast-delegate event source some cache implementations reach
// for: a registered set of handlers invoked synchronously on Emit. It
// implements Sink.
type Bus struct {
	log      logx.Logger
	handlers []Handler
}

// NewBus returns a Bus that logs handler panics through log.
func NewBus(log logx.Logger) *Bus {
	if log == nil {
		log = logx.Nop{}
	}
	return &Bus{log: log}
}

// Register adds a handler. Not safe to call concurrently with Emit;
// registration happens once at wiring time, before the engine starts
// taking traffic.
func (b *Bus) Register(h Handler) {
	b.handlers = append(b.handlers, h)
}

// Emit fires every registered handler in registration order. A
// handler panic is recovered and logged so one misbehaving listener
// cannot stop the others from observing the event or unwind the
// engine's call stack.
func (b *Bus) Emit(evt CacheEvent) {
	for _, h := range b.handlers {
		b.invoke(h, evt)
	}
}

func (b *Bus) invoke(h Handler, evt CacheEvent) {
	defer func() {
		if r := recover(); r != nil {
			if b.log != nil {
				b.log.Record(logx.Warn, "event handler panicked", logx.F("event_type", string(evt.EventType)), logx.F("key", evt.Key), logx.F("panic", r))
			}
		}
	}()
	h(evt)
}
