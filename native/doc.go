// Package native is the runtime support imported by generated bindings. It
// owns the handle lifecycle (release exactly once, equality by address), the
// shared library loader and the C string and buffer conversions used by the
// forwarding wrappers.
package native
