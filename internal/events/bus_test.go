package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitFiresAllRegisteredHandlers(t *testing.T) {
	bus := NewBus(nil)

	var a, b int
	bus.Register(func(CacheEvent) { a++ })
	bus.Register(func(CacheEvent) { b++ })

	bus.Emit(CacheEvent{EventType: ItemAdded, Key: "x"})

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestHandlerPanicDoesNotStopOtherHandlers(t *testing.T) {
	bus := NewBus(nil)

	var ran bool
	bus.Register(func(CacheEvent) { panic("boom") })
	bus.Register(func(CacheEvent) { ran = true })

	assert.NotPanics(t, func() {
		bus.Emit(CacheEvent{EventType: ItemAdded, Key: "x"})
	})
	assert.True(t, ran)
}
