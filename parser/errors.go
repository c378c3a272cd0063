package parser

import (
	"fmt"
	"os"
	"strings"
)

// FileError reports a header that could not be read.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("header %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// IncludeError reports an #include directive that matched no file on the
// search path.
type IncludeError struct {
	Include    string
	From       string
	Line       int
	SearchPath []string
}

func (e *IncludeError) Error() string {
	return fmt.Sprintf("%s:%d: cannot resolve #include %s (search path: %s)",
		e.From, e.Line, e.Include, strings.Join(e.SearchPath, string(os.PathListSeparator)))
}
