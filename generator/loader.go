package generator

import (
	"bytes"
	"fmt"
	"text/template"
)

var loaderTmpl = template.Must(template.New("loader").Parse(`// Code generated by ffi-bindgen. DO NOT EDIT.

package {{.Package}}

import (
	"fmt"

	{{if .Alias}}native {{end}}"{{.Runtime}}"
)

// LibraryName is the base name of the native library the bindings load.
const LibraryName = "{{.LibName}}"

var lib *native.Library

// Load opens the native library in dir and prepares the functions of every
// module. An empty dir defers to the platform's library search path.
func Load(dir string) error {
	l, err := native.Open(dir, LibraryName)
	if err != nil {
		return err
	}
	lib = l
{{range .Modules}}
	if err := load{{.GoName}}Funcs(); err != nil {
		return fmt.Errorf("loading module {{.Name}}: %w", err)
	}
{{end}}
	return nil
}
`))

type loaderModule struct {
	Name   string
	GoName string
}

// Loader generates loader.go, which opens the library and prepares the
// functions of the given modules in order.
func (g *Generator) Loader(modules []string) (File, error) {
	data := struct {
		Package string
		Runtime string
		Alias   bool
		LibName string
		Modules []loaderModule
	}{
		Package: g.cfg.Package,
		Runtime: g.cfg.Runtime,
		Alias:   !isNativePath(g.cfg.Runtime),
		LibName: g.cfg.Library,
	}
	for _, m := range modules {
		data.Modules = append(data.Modules, loaderModule{Name: m, GoName: toGoName(m)})
	}

	var buf bytes.Buffer
	if err := loaderTmpl.Execute(&buf, data); err != nil {
		return File{}, fmt.Errorf("generating loader: %w", err)
	}

	src, err := formatSource(buf.Bytes())
	if err != nil {
		return File{}, fmt.Errorf("formatting loader: %w", err)
	}

	return File{Name: "loader.go", Source: src}, nil
}
