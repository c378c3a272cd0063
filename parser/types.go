package parser

import (
	"fmt"
	"strings"

	"github.com/ardanlabs/ffi-bindgen/diag"
)

// Kind is the shape of a CType.
type Kind int

const (
	KindScalar Kind = iota
	KindPointer
	KindArray
	KindNamed
	KindFunc
)

// CType is a recursive descriptor of a declared C type.
type CType struct {
	Kind Kind

	// Name is the scalar spelling ("unsigned int", "uint64_t") for scalars,
	// or the referenced name for named types.
	Name string

	// Tag is "struct", "union" or "enum" for tagged references.
	Tag string

	Const bool

	// Elem is the pointee, the array element, or the function result.
	Elem *CType

	// Len is the array length; -1 when the size is not a constant.
	Len int

	Params   []Param
	Variadic bool
}

func Scalar(name string) CType { return CType{Kind: KindScalar, Name: name} }

func Named(name string) CType { return CType{Kind: KindNamed, Name: name} }

func Tagged(tag, name string) CType { return CType{Kind: KindNamed, Tag: tag, Name: name} }

func PointerTo(t CType) CType { return CType{Kind: KindPointer, Elem: &t} }

func ArrayOf(t CType, n int) CType { return CType{Kind: KindArray, Elem: &t, Len: n} }

// Key returns the table key of a named type: "struct foo" for tagged
// references, the bare name otherwise.
func (t CType) Key() string {
	if t.Tag != "" {
		return t.Tag + " " + t.Name
	}
	return t.Name
}

func (t CType) IsVoid() bool {
	return t.Kind == KindScalar && t.Name == "void"
}

func (t CType) IsPointer() bool {
	return t.Kind == KindPointer
}

// String renders t in C syntax.
func (t CType) String() string {
	return t.declare("")
}

func (t CType) declare(inner string) string {
	switch t.Kind {
	case KindPointer:
		star := "*"
		if t.Const {
			star = "* const"
		}
		if t.Elem.Kind == KindArray || t.Elem.Kind == KindFunc {
			return t.Elem.declare("(" + star + inner + ")")
		}
		return t.Elem.declare(star + inner)
	case KindArray:
		size := ""
		if t.Len >= 0 {
			size = fmt.Sprint(t.Len)
		}
		return t.Elem.declare(inner + "[" + size + "]")
	case KindFunc:
		params := make([]string, 0, len(t.Params)+1)
		for _, p := range t.Params {
			params = append(params, p.Type.declare(p.Name))
		}
		if t.Variadic {
			params = append(params, "...")
		}
		if len(params) == 0 {
			params = append(params, "void")
		}
		return t.Elem.declare(inner + "(" + strings.Join(params, ", ") + ")")
	default:
		s := t.Key()
		if t.Const {
			s = "const " + s
		}
		if inner == "" {
			return s
		}
		return s + " " + inner
	}
}

// DeclKind identifies the variant of a Decl.
type DeclKind int

const (
	DeclFunction DeclKind = iota
	DeclStruct
	DeclEnum
	DeclTypedef
	DeclOpaque
	DeclConst
)

func (k DeclKind) String() string {
	switch k {
	case DeclFunction:
		return "function"
	case DeclStruct:
		return "struct"
	case DeclEnum:
		return "enum"
	case DeclTypedef:
		return "typedef"
	case DeclOpaque:
		return "opaque"
	case DeclConst:
		return "const"
	default:
		return fmt.Sprintf("decl(%d)", int(k))
	}
}

// Direction is the data flow of a function parameter.
type Direction int

const (
	In Direction = iota
	Out
	InOut
)

func (d Direction) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	case InOut:
		return "inout"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

type Param struct {
	Name string
	Type CType
	Dir  Direction
}

type Field struct {
	Name string
	Type CType
}

type EnumValue struct {
	Name  string
	Value int64
}

// Decl is one declaration extracted from a header. Decls are not modified
// once Extract returns.
type Decl struct {
	Kind   DeclKind
	Name   string
	Tag    string
	Module string

	// Alias is the tagged name ("struct foo") of a struct or enum that a
	// typedef renamed.
	Alias string

	File string
	Line int
	Doc  string

	// Function.
	Params []Param
	Result CType

	// Typedef and opaque pointer type.
	Underlying CType

	// Struct.
	Fields []Field

	// Enum.
	Values []EnumValue

	// Const: the literal text of the macro body.
	Value string

	// Unsupported is set on complete types that cannot be expressed in Go; it
	// holds the reason.
	Unsupported string
}

// Key returns the table key of the declaration.
func (d *Decl) Key() string {
	if d.Tag != "" {
		return d.Tag + " " + d.Name
	}
	return d.Name
}

// Signature renders the declaration in C syntax for listings and
// diagnostics.
func (d *Decl) Signature() string {
	switch d.Kind {
	case DeclFunction:
		fn := CType{Kind: KindFunc, Elem: &d.Result, Params: d.Params}
		return fn.declare(d.Name)
	case DeclOpaque:
		if d.Tag != "" {
			return d.Key() + ";"
		}
		return "typedef " + d.Underlying.declare(d.Name)
	case DeclTypedef:
		return "typedef " + d.Underlying.declare(d.Name)
	case DeclStruct:
		return fmt.Sprintf("struct %s { %d fields }", d.Name, len(d.Fields))
	case DeclEnum:
		return fmt.Sprintf("enum %s { %d values }", d.Name, len(d.Values))
	case DeclConst:
		return "#define " + d.Name + " " + d.Value
	default:
		return d.Name
	}
}

// Module is the declaration model of one header file.
type Module struct {
	Name string
	File string

	// Decls holds, in source order, the declarations of File that no earlier
	// module registered.
	Decls []*Decl

	// Deps names the opaque pointer types referenced by Decls but declared
	// elsewhere.
	Deps []string

	// Scope resolves every declaration seen in File's include closure.
	Scope *Scope

	Diagnostics diag.List
}

// Functions returns the function declarations of the module in order.
func (m *Module) Functions() []*Decl {
	return m.filter(DeclFunction)
}

// Opaques returns the opaque pointer types declared by the module in order.
func (m *Module) Opaques() []*Decl {
	return m.filter(DeclOpaque)
}

func (m *Module) filter(kind DeclKind) []*Decl {
	var out []*Decl
	for _, d := range m.Decls {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}
