package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitter_FireInOrder(t *testing.T) {
	e := NewEmitter[int]("test")

	var got []string
	e.On(func(v int) { got = append(got, "a") })
	e.On(func(v int) { got = append(got, "b") })

	e.Fire(1)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter[string]("test")

	calls := 0
	unsubscribe := e.On(func(string) { calls++ })
	e.Fire("x")
	unsubscribe()
	unsubscribe()
	e.Fire("y")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, e.Len())
}

func TestEmitter_PanicIsolated(t *testing.T) {
	e := NewEmitter[int]("test")

	delivered := false
	e.On(func(int) { panic("boom") })
	e.On(func(int) { delivered = true })

	assert.NotPanics(t, func() { e.Fire(1) })
	assert.True(t, delivered)
}

func TestEmitter_ListenerMayUnsubscribeDuringFire(t *testing.T) {
	e := NewEmitter[int]("test")

	var unsubscribe func()
	calls := 0
	unsubscribe = e.On(func(int) {
		calls++
		unsubscribe()
	})

	e.Fire(1)
	e.Fire(2)
	assert.Equal(t, 1, calls)
}
