package native

import (
	"bytes"
	"unsafe"
)

// CString is a NUL-terminated string allocated by the native library. The
// caller owns it and frees it with the library's own free function.
type CString uintptr

// Addr returns the address of the first byte.
func (s CString) Addr() uintptr {
	return uintptr(s)
}

// String copies the native string into Go memory. A null CString yields "".
func (s CString) String() string {
	if s == 0 {
		return ""
	}
	return bytePtrToString((*byte)(unsafe.Pointer(uintptr(s))))
}

// GoString converts a borrowed native string pointer to a Go string.
func GoString(p *byte) string {
	if p == nil {
		return ""
	}
	return bytePtrToString(p)
}

// Buffer is a block of native memory returned through an output parameter
// pair. The caller owns it and frees it with the library's own free function.
type Buffer struct {
	Addr uintptr
	Len  uint64
}

// Bytes copies the buffer into Go memory.
func (b Buffer) Bytes() []byte {
	if b.Addr == 0 || b.Len == 0 {
		return nil
	}
	return bytes.Clone(unsafe.Slice((*byte)(unsafe.Pointer(b.Addr)), b.Len))
}

// BytesPtr returns a pointer to the first element of p, or nil for an empty
// slice, for passing Go memory as an input buffer.
func BytesPtr(p []byte) *byte {
	if len(p) == 0 {
		return nil
	}
	return &p[0]
}
