package pipeline

import (
	"github.com/ardanlabs/ffi-bindgen/mapper"
	"github.com/ardanlabs/ffi-bindgen/parser"
)

// adopt returns, in first-use order, the declarations module m refers to that
// live in other headers and that no module of the run has emitted yet. The
// generator emits them with m so the bindings package declares them once.
func adopt(table *parser.Table, m *parser.Module) []*parser.Decl {
	a := adopter{
		table: table,
		scope: m.Scope,
		file:  m.File,
		seen:  make(map[string]bool),
	}
	for _, d := range m.Decls {
		a.decl(d)
	}
	return a.out
}

type adopter struct {
	table *parser.Table
	scope parser.Resolver
	file  string
	seen  map[string]bool
	out   []*parser.Decl
}

func (a *adopter) decl(d *parser.Decl) {
	switch d.Kind {
	case parser.DeclFunction:
		for _, p := range d.Params {
			a.ctype(p.Type)
		}
		a.ctype(d.Result)
	case parser.DeclStruct:
		for _, f := range d.Fields {
			a.ctype(f.Type)
		}
	case parser.DeclTypedef, parser.DeclOpaque:
		a.ctype(d.Underlying)
	}
}

func (a *adopter) ctype(t parser.CType) {
	if d, ok := parser.OpaqueFor(a.scope, t); ok {
		a.take(d)
		return
	}

	switch t.Kind {
	case parser.KindPointer, parser.KindArray:
		a.ctype(*t.Elem)
	case parser.KindFunc:
		a.ctype(*t.Elem)
		for _, p := range t.Params {
			a.ctype(p.Type)
		}
	case parser.KindNamed:
		if d, ok := a.scope.Lookup(t.Key()); ok {
			a.take(d)
		}
	}
}

func (a *adopter) take(d *parser.Decl) {
	key := d.Key()
	if d.File == a.file || a.seen[key] {
		return
	}
	a.seen[key] = true

	if _, ok := a.table.Owner(key); ok {
		return
	}

	switch d.Kind {
	case parser.DeclOpaque, parser.DeclStruct, parser.DeclEnum:
		a.out = append(a.out, d)
	case parser.DeclTypedef:
		// Plain typedefs are resolved away by the mapper; only callbacks get
		// a Go type of their own.
		if mapper.IsCallback(d) {
			a.out = append(a.out, d)
		}
	default:
		return
	}

	a.decl(d)
}
