//go:build windows

package native

import (
	"strings"

	"golang.org/x/sys/windows"
)

// BytePtr returns a NUL-terminated copy of s for passing to native code.
// Native code stops reading at the first NUL byte, so s is cut there. The
// result is never nil.
func BytePtr(s string) *byte {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	p, _ := windows.BytePtrFromString(s)
	return p
}

func bytePtrToString(p *byte) string {
	return windows.BytePtrToString(p)
}
