package native

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/jupiterrider/ffi"
)

// Library is a loaded shared library whose symbols are prepared for calls
// through libffi.
type Library struct {
	Path string
	lib  ffi.Lib
}

// Open loads the shared library called name from dir, using the file naming
// convention of the running platform. An empty dir defers to the platform's
// library search path.
func Open(dir, name string) (*Library, error) {
	path := LibraryPath(dir, name)

	lib, err := ffi.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load library: %w", err)
	}

	return &Library{Path: path, lib: lib}, nil
}

// Prep resolves symbol and prepares a call interface for it.
func (l *Library) Prep(symbol string, ret *ffi.Type, args ...*ffi.Type) (ffi.Fun, error) {
	fn, err := l.lib.Prep(symbol, ret, args...)
	if err != nil {
		return fn, fmt.Errorf("%s: %w", symbol, err)
	}
	return fn, nil
}

// LibraryPath returns the path of the shared library called name in dir.
func LibraryPath(dir, name string) string {
	return filepath.Join(dir, libraryFileName(runtime.GOOS, name))
}

func libraryFileName(goos, name string) string {
	switch goos {
	case "linux", "freebsd":
		return "lib" + name + ".so"
	case "darwin":
		return "lib" + name + ".dylib"
	case "windows":
		return name + ".dll"
	default:
		return "lib" + name + ".so"
	}
}
