package native

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleZero(t *testing.T) {
	var h Handle
	assert.True(t, h.IsInvalid())
	assert.Zero(t, h.Addr())
	assert.False(t, h.Owns())
	assert.False(t, h.IsClosed())
	require.NoError(t, h.Close())
	assert.True(t, h.Equal(NewHandle(0, true, nil)))
}

func TestHandleEqualityIgnoresOwnership(t *testing.T) {
	owned := NewHandle(0x1000, true, func(uintptr) {})
	borrowed := NewHandle(0x1000, false, nil)
	other := NewHandle(0x2000, false, nil)

	assert.True(t, owned.Equal(borrowed))
	assert.True(t, borrowed.Equal(owned))
	assert.False(t, owned.Equal(other))
	assert.False(t, owned.Equal(Handle{}))
}

func TestHandleReleaseOnce(t *testing.T) {
	var released []uintptr
	h := NewHandle(0xbeef, true, func(addr uintptr) {
		released = append(released, addr)
	})

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	copied := h
	require.NoError(t, copied.Close())

	assert.Equal(t, []uintptr{0xbeef}, released)
	assert.True(t, h.IsClosed())
	assert.Equal(t, uintptr(0xbeef), h.Addr())
}

func TestHandleNotOwned(t *testing.T) {
	calls := 0
	h := NewHandle(0xbeef, false, func(uintptr) { calls++ })

	require.NoError(t, h.Close())
	assert.Zero(t, calls)
	assert.True(t, h.IsClosed())
}

func TestHandleNullNeverReleased(t *testing.T) {
	calls := 0
	h := NewHandle(0, true, func(uintptr) { calls++ })

	require.NoError(t, h.Close())
	assert.Zero(t, calls)
}

func TestHandleReleasePanicIsContained(t *testing.T) {
	calls := 0
	h := NewHandle(0x10, true, func(uintptr) {
		calls++
		panic("native free failed")
	})

	assert.NotPanics(t, func() { _ = h.Close() })
	assert.NotPanics(t, func() { _ = h.Close() })
	assert.Equal(t, 1, calls)
}

func TestTrackIgnoresUnownedHandles(t *testing.T) {
	type owner struct{ Handle }

	o := &owner{Handle: NewHandle(0x10, false, nil)}
	assert.NotPanics(t, func() { Track(o, o.Handle) })

	var z owner
	assert.NotPanics(t, func() { Track(&z, z.Handle) })
}

func TestTrackWaitsForKeepAlive(t *testing.T) {
	type owner struct{ Handle }

	released := make(chan uintptr, 1)
	o := &owner{Handle: NewHandle(0x2a, true, func(addr uintptr) { released <- addr })}
	Track(o, o.Handle)

	// Generated wrappers pass Addr to the native call and keep the owner
	// alive until it returns.
	addr := o.Addr()
	for range 3 {
		runtime.GC()
	}
	select {
	case <-released:
		t.Fatal("handle released while its address was in use")
	case <-time.After(50 * time.Millisecond):
	}
	runtime.KeepAlive(o)
	assert.Equal(t, uintptr(0x2a), addr)

	deadline := time.After(5 * time.Second)
	for {
		runtime.GC()
		select {
		case got := <-released:
			assert.Equal(t, uintptr(0x2a), got)
			return
		case <-deadline:
			t.Fatal("handle was not released once unreachable")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
