package native

import (
	"runtime"
	"sync"
)

// Handle carries a native address together with its ownership and release
// contract. The zero Handle wraps the null pointer and owns nothing.
//
// Copies of a Handle share the same release state, so releasing any copy
// releases them all.
type Handle struct {
	st *handleState
}

type handleState struct {
	addr    uintptr
	owns    bool
	release func(uintptr)

	mu     sync.Mutex
	closed bool
}

// NewHandle wraps addr. When ownsHandle is true, release is invoked with addr
// the first time the handle is closed; it is never invoked more than once.
// A nil release makes closing a no-op beyond marking the handle closed.
func NewHandle(addr uintptr, ownsHandle bool, release func(uintptr)) Handle {
	return Handle{st: &handleState{addr: addr, owns: ownsHandle, release: release}}
}

// Addr returns the wrapped native address.
func (h Handle) Addr() uintptr {
	if h.st == nil {
		return 0
	}
	return h.st.addr
}

// IsInvalid reports whether the handle wraps the null pointer.
func (h Handle) IsInvalid() bool {
	return h.Addr() == 0
}

// Owns reports whether closing the handle releases the native resource.
func (h Handle) Owns() bool {
	return h.st != nil && h.st.owns
}

// IsClosed reports whether Close has been called on the handle or any copy.
func (h Handle) IsClosed() bool {
	if h.st == nil {
		return false
	}
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	return h.st.closed
}

// Equal reports whether both handles wrap the same address. Ownership and
// release state are not compared.
func (h Handle) Equal(other Handle) bool {
	return h.Addr() == other.Addr()
}

// Close releases the native resource if the handle owns it. Close is
// idempotent and never fails; the error result only satisfies io.Closer.
func (h Handle) Close() error {
	if h.st != nil {
		h.st.close()
	}
	return nil
}

func (s *handleState) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if !s.owns || s.addr == 0 || s.release == nil {
		return
	}

	// The native free function must not take the process down with it.
	defer func() { _ = recover() }()
	s.release(s.addr)
}

// Track arranges for h to be closed once owner becomes unreachable. It is a
// no-op for handles that do not own a releasable address.
func Track[T any](owner *T, h Handle) {
	if h.st == nil || !h.st.owns || h.st.addr == 0 || h.st.release == nil {
		return
	}
	runtime.AddCleanup(owner, (*handleState).close, h.st)
}
