// Package generator emits the Go source of the bindings: one file per module
// holding its types, handles and API surface, plus the loader and the facade
// that ties the modules together.
package generator

import (
	"bytes"
	"fmt"
	"go/format"
	"path"
	"sort"
	"strings"

	"github.com/ardanlabs/ffi-bindgen/diag"
	"github.com/ardanlabs/ffi-bindgen/mapper"
	"github.com/ardanlabs/ffi-bindgen/parser"
)

// DefaultRuntime is the import path of the runtime package generated code
// depends on.
const DefaultRuntime = "github.com/ardanlabs/ffi-bindgen/native"

const header = "// Code generated by ffi-bindgen. DO NOT EDIT.\n\n"

type Config struct {
	// Package is the Go package name of the bindings.
	Package string

	// Library is the base name of the shared library, without the lib
	// prefix or the platform extension.
	Library string

	// Facade is the name of the aggregate interface. It defaults to the Go
	// name of Library.
	Facade string

	// Runtime is the import path of the runtime package.
	Runtime string
}

// File is one generated Go source file.
type File struct {
	Name   string
	Source []byte
}

// Generator emits the files of one bindings package. It remembers the Go
// identifiers every module declared so that collisions between modules are
// reported instead of producing a package that does not compile.
type Generator struct {
	cfg   Config
	names map[string]string
}

func New(cfg Config) *Generator {
	if cfg.Facade == "" {
		cfg.Facade = toGoName(cfg.Library)
	}
	if cfg.Runtime == "" {
		cfg.Runtime = DefaultRuntime
	}

	g := Generator{
		cfg:   cfg,
		names: make(map[string]string),
	}
	for _, n := range []string{"Load", "New", "LibraryName", cfg.Facade, "Native" + cfg.Facade} {
		g.names[n] = "facade"
	}

	return &g
}

// Config returns the configuration with defaults applied.
func (g *Generator) Config() Config {
	return g.cfg
}

// Module generates the file of module m. Adopted declarations belong to other
// headers but have not been emitted by any module of the run yet; they are
// emitted here once.
func (g *Generator) Module(m *parser.Module, adopted []*parser.Decl) (File, diag.List, error) {
	mg := moduleGen{
		Generator: g,
		module:    m,
		mapper:    mapper.New(m.Scope),
		imports:   make(map[string]bool),
		claims:    make(map[string]string),
	}

	decls := make([]*parser.Decl, 0, len(m.Decls)+len(adopted))
	decls = append(decls, m.Decls...)
	decls = append(decls, adopted...)

	body, err := mg.generate(decls)
	if err != nil {
		return File{}, mg.diags, fmt.Errorf("generating module %s: %w", m.Name, err)
	}

	if err := g.claim(mg.claims); err != nil {
		return File{}, mg.diags, fmt.Errorf("generating module %s: %w", m.Name, err)
	}

	src, err := g.assemble(body, mg.imports)
	if err != nil {
		return File{}, mg.diags, fmt.Errorf("formatting module %s: %w", m.Name, err)
	}

	return File{Name: fileName(m.Name), Source: src}, mg.diags, nil
}

// claim records the package-level identifiers of a module, failing when one
// is already declared by another module.
func (g *Generator) claim(claims map[string]string) error {
	names := make([]string, 0, len(claims))
	for n := range claims {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if owner, ok := g.names[n]; ok {
			return fmt.Errorf("Go name %s of %s is already declared by %s", n, claims[n], owner)
		}
	}
	for _, n := range names {
		g.names[n] = claims[n]
	}
	return nil
}

// assemble prefixes body with the file header and the imports it uses, then
// formats the result.
func (g *Generator) assemble(body []byte, imports map[string]bool) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(header)
	fmt.Fprintf(&buf, "package %s\n\n", g.cfg.Package)

	var std, ext []string
	for p := range imports {
		if strings.Contains(p, ".") {
			ext = append(ext, p)
			continue
		}
		std = append(std, p)
	}
	sort.Strings(std)
	sort.Strings(ext)

	if len(std)+len(ext) > 0 {
		buf.WriteString("import (\n")
		for _, p := range std {
			fmt.Fprintf(&buf, "\t%q\n", p)
		}
		if len(std) > 0 && len(ext) > 0 {
			buf.WriteString("\n")
		}
		for _, p := range ext {
			if p == g.cfg.Runtime && !isNativePath(p) {
				fmt.Fprintf(&buf, "\tnative %q\n", p)
				continue
			}
			fmt.Fprintf(&buf, "\t%q\n", p)
		}
		buf.WriteString(")\n\n")
	}

	buf.Write(body)

	return formatSource(buf.Bytes())
}

func formatSource(src []byte) ([]byte, error) {
	out, err := format.Source(src)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// isNativePath reports whether the runtime package at p is named native, so
// generated code can import it without an alias.
func isNativePath(p string) bool {
	return path.Base(p) == "native"
}

// moduleGen holds the state of generating one module file.
type moduleGen struct {
	*Generator

	module *parser.Module
	mapper *mapper.Mapper

	imports  map[string]bool
	claims   map[string]string
	releases []Handle
	diags    diag.List
}

func (mg *moduleGen) use(path string) {
	mg.imports[path] = true
}

func (mg *moduleGen) useFFI() {
	mg.use("github.com/jupiterrider/ffi")
}

func (mg *moduleGen) useNative() {
	mg.use(mg.cfg.Runtime)
}

// declare claims a package-level Go identifier for a C declaration.
func (mg *moduleGen) declare(goName, cName string) error {
	if goName == "" {
		return fmt.Errorf("%s has no valid Go name", cName)
	}
	if other, ok := mg.claims[goName]; ok {
		return fmt.Errorf("Go name %s of %s is already declared by %s", goName, cName, other)
	}
	mg.claims[goName] = cName
	return nil
}

func (mg *moduleGen) generate(decls []*parser.Decl) ([]byte, error) {
	var buf bytes.Buffer

	steps := []func(*bytes.Buffer, []*parser.Decl) error{
		mg.consts,
		mg.enums,
		mg.callbacks,
		mg.structs,
		mg.handles,
		mg.api,
	}
	for _, step := range steps {
		if err := step(&buf, decls); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func (mg *moduleGen) moduleName() string {
	return toGoName(mg.module.Name)
}

// writeGoComment writes a header doc comment. The first line is prefixed
// with the Go name so that the comment reads as Go documentation.
func writeGoComment(buf *bytes.Buffer, goName, doc, indent string) {
	lines := strings.Split(strings.TrimSpace(doc), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return
	}

	first := lines[0]
	if !strings.HasPrefix(first, goName+" ") {
		first = goName + ": " + first
	}
	fmt.Fprintf(buf, "%s// %s\n", indent, first)

	for _, line := range lines[1:] {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			fmt.Fprintf(buf, "%s//\n", indent)
			continue
		}
		fmt.Fprintf(buf, "%s// %s\n", indent, line)
	}
}
