package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitInvokesInRegistrationOrder(t *testing.T) {
	e := New[string]()

	var got []string

	e.On("log", func(s string) { got = append(got, "first:"+s) })
	e.On("log", func(s string) { got = append(got, "second:"+s) })

	e.Emit("log", "hello")

	require.Equal(t, []string{"first:hello", "second:hello"}, got)
}

func TestOffRemovesOnlyThatRegistration(t *testing.T) {
	e := New[string]()

	var got []string

	first := e.On("log", func(s string) { got = append(got, "first") })
	e.On("log", func(s string) { got = append(got, "second") })

	e.Off(first)
	e.Emit("log", "x")

	assert.Equal(t, []string{"second"}, got)
}

func TestSameHandlerRegisteredTwiceFiresTwice(t *testing.T) {
	e := New[int]()

	count := 0
	fn := func(int) { count++ }

	a := e.On("tick", fn)
	e.On("tick", fn)

	e.Emit("tick", 1)
	assert.Equal(t, 2, count)

	// Removing one registration leaves the other.
	e.Off(a)
	e.Emit("tick", 1)
	assert.Equal(t, 3, count)
}

func TestOffUnknownSubscriptionIsNoop(t *testing.T) {
	e := New[int]()

	fired := false
	e.On("tick", func(int) { fired = true })

	other := New[int]().On("tick", func(int) {})
	e.Off(other)
	e.Off(nil)

	e.Emit("tick", 1)
	assert.True(t, fired)
}

func TestEmitUnknownEventIsNoop(t *testing.T) {
	e := New[int]()
	e.Emit("nothing", 1)
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	e := New[int]()

	var got []string

	e.On("tick", func(int) { panic("boom") })
	e.On("tick", func(int) { got = append(got, "survivor") })

	require.NotPanics(t, func() { e.Emit("tick", 1) })
	assert.Equal(t, []string{"survivor"}, got)
}

func TestCloseDropsAllRegistrations(t *testing.T) {
	e := New[int]()

	count := 0
	e.On("tick", func(int) { count++ })

	e.Close()
	e.Emit("tick", 1)
	assert.Zero(t, count)

	// Registrations after Close are inert.
	e.On("tick", func(int) { count++ })
	e.Emit("tick", 1)
	assert.Zero(t, count)
}

func TestZeroValueIsUsable(t *testing.T) {
	var e Emitter[int]

	count := 0
	sub := e.On("tick", func(int) { count++ })

	e.Emit("tick", 1)
	e.Off(sub)
	e.Emit("tick", 1)

	assert.Equal(t, 1, count)
}
