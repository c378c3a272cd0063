// Package mapper decides how each native type of the declaration model is
// represented in the generated Go API. Mapping is deterministic and reads the
// declaration tables without modifying them.
package mapper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ardanlabs/ffi-bindgen/diag"
	"github.com/ardanlabs/ffi-bindgen/parser"
)

// Kind is the semantic category of a mapped type.
type Kind int

const (
	Void Kind = iota
	Scalar
	Array
	Handle
	String
	OwnedString
	Buffer
	Status
	Enum
	Callback
	Struct
	StructPointer
	RawAddress
)

func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Scalar:
		return "scalar"
	case Array:
		return "array"
	case Handle:
		return "handle"
	case String:
		return "string"
	case OwnedString:
		return "owned string"
	case Buffer:
		return "buffer"
	case Status:
		return "status"
	case Enum:
		return "enum"
	case Callback:
		return "callback"
	case Struct:
		return "struct"
	case StructPointer:
		return "struct pointer"
	case RawAddress:
		return "raw address"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Type is the mapped form of one native type.
type Type struct {
	Kind Kind

	// Name is the Go scalar type for Scalar, and the declaration name for
	// Handle, Status, Enum, Struct, StructPointer and named Callback types.
	Name string

	// C is the native spelling the type was mapped from.
	C string

	// Elem is the element type of an Array.
	Elem *Type
	Len  int

	// Fallback marks a RawAddress chosen because no precise mapping exists.
	Fallback bool
	Reason   string
}

func (t Type) String() string {
	switch t.Kind {
	case Array:
		return fmt.Sprintf("[%d]%s", t.Len, t.Elem)
	case Scalar, Handle, Status, Enum, Struct, StructPointer:
		return t.Kind.String() + " " + t.Name
	case Callback:
		if t.Name != "" {
			return "callback " + t.Name
		}
		return "callback"
	case RawAddress:
		if t.Fallback {
			return "raw address (fallback)"
		}
	}
	return t.Kind.String()
}

// Pointer reports whether values of the type are passed as a native address.
func (t Type) Pointer() bool {
	switch t.Kind {
	case Handle, String, OwnedString, Buffer, Callback, StructPointer, RawAddress:
		return true
	}
	return false
}

// BufferMode is the data flow of a pointer and length parameter pair.
type BufferMode int

const (
	NoBuffer BufferMode = iota

	// BufferIn passes caller memory for the callee to read.
	BufferIn

	// BufferOut receives memory the callee allocated; the caller frees it.
	BufferOut

	// BufferFill passes caller memory for the callee to write into.
	BufferFill
)

func (m BufferMode) String() string {
	switch m {
	case NoBuffer:
		return "none"
	case BufferIn:
		return "in"
	case BufferOut:
		return "out"
	case BufferFill:
		return "fill"
	default:
		return fmt.Sprintf("buffer(%d)", int(m))
	}
}

// Arg is one logical argument of a wrapper. Buffers cover two native
// parameters: the data pointer at Index and the length at Len.Index.
type Arg struct {
	Name  string
	Index int
	Dir   parser.Direction

	// Type is the mapped parameter type, or the pointee for Out and InOut.
	Type Type

	Buffer BufferMode
	Len    *Arg
}

// IsInput reports whether the wrapper takes the argument as a parameter.
func (a Arg) IsInput() bool {
	if a.Buffer == BufferOut {
		return false
	}
	return a.Dir == parser.In || a.Dir == parser.InOut
}

// IsOutput reports whether the wrapper returns the argument as a result.
func (a Arg) IsOutput() bool {
	if a.Buffer == BufferFill {
		return a.Len != nil && a.Len.Dir == parser.InOut
	}
	return a.Dir == parser.Out || a.Dir == parser.InOut
}

// Signature is the mapped form of a native function.
type Signature struct {
	Decl   *parser.Decl
	Name   string
	Result Type
	Args   []Arg

	// Release is set on free functions, whose pointer parameters are taken as
	// raw addresses so they can also serve as handle release steps.
	Release bool

	// Unsupported holds the reason a function cannot be wrapped.
	Unsupported string
}

// Params returns the number of native parameters the arguments cover.
func (s Signature) Params() int {
	n := 0
	for _, a := range s.Args {
		n++
		if a.Len != nil {
			n++
		}
	}
	return n
}

// Inputs returns the arguments the wrapper takes, in native order.
func (s Signature) Inputs() []Arg {
	var out []Arg
	for _, a := range s.Args {
		if a.IsInput() {
			out = append(out, a)
		}
	}
	return out
}

// Outputs returns the arguments the wrapper returns after the native result,
// in native order.
func (s Signature) Outputs() []Arg {
	var out []Arg
	for _, a := range s.Args {
		if a.IsOutput() {
			out = append(out, a)
		}
	}
	return out
}

// Mapper maps declarations against a resolver, normally the scope of the
// module being generated.
type Mapper struct {
	r parser.Resolver
}

func New(r parser.Resolver) *Mapper {
	return &Mapper{r: r}
}

// Map returns the semantic type of t in return or by-value position.
func (m *Mapper) Map(t parser.CType) Type {
	mt := m.mapType(t)
	mt.C = t.String()
	return mt
}

func (m *Mapper) mapType(t parser.CType) Type {
	switch t.Kind {
	case parser.KindScalar:
		if t.IsVoid() {
			return Type{Kind: Void}
		}
		name := CanonicalScalar(t.Name)
		goType, ok := scalarTypes[name]
		if !ok {
			return fallback("%s has no Go equivalent", name)
		}
		return Type{Kind: Scalar, Name: goType}

	case parser.KindArray:
		elem := m.Map(*t.Elem)
		if t.Len < 0 {
			return fallback("array of unknown length")
		}
		switch elem.Kind {
		case Scalar, Enum, Status, Struct:
			return Type{Kind: Array, Elem: &elem, Len: t.Len}
		}
		return fallback("array of %s", elem.Kind)

	case parser.KindPointer:
		return m.mapPointer(t)

	case parser.KindNamed:
		return m.mapNamed(t)

	case parser.KindFunc:
		return fallback("function type used by value")
	}
	return fallback("unknown type shape")
}

func (m *Mapper) mapNamed(t parser.CType) Type {
	if d, ok := parser.OpaqueFor(m.r, t); ok {
		return Type{Kind: Handle, Name: d.Name}
	}

	d, ok := m.r.Lookup(t.Key())
	if !ok {
		return fallback("%s is not declared", t.Key())
	}

	switch d.Kind {
	case parser.DeclEnum:
		if IsStatus(d) {
			return Type{Kind: Status, Name: d.Name}
		}
		return Type{Kind: Enum, Name: d.Name}

	case parser.DeclStruct:
		if err := m.CheckStruct(d); err != nil {
			return fallback("%s: %v", d.Key(), err)
		}
		return Type{Kind: Struct, Name: d.Name}

	case parser.DeclTypedef:
		if IsCallback(d) {
			return Type{Kind: Callback, Name: d.Name}
		}
		u := d.Underlying
		u.Const = u.Const || t.Const
		return m.mapType(u)
	}
	return fallback("%s %s cannot be used as a type", d.Kind, d.Name)
}

func (m *Mapper) mapPointer(t parser.CType) Type {
	if d, ok := parser.OpaqueFor(m.r, t); ok {
		return Type{Kind: Handle, Name: d.Name}
	}

	elem := parser.Resolve(m.r, *t.Elem)
	switch {
	case elem.Kind == parser.KindScalar && CanonicalScalar(elem.Name) == "char":
		if elem.Const {
			return Type{Kind: String}
		}
		return Type{Kind: OwnedString}

	case elem.IsVoid():
		return Type{Kind: RawAddress}

	case elem.Kind == parser.KindFunc:
		return Type{Kind: Callback}

	case elem.Kind == parser.KindNamed:
		if d, ok := m.r.Lookup(elem.Key()); ok && d.Kind == parser.DeclStruct {
			if err := m.CheckStruct(d); err != nil {
				return fallback("%s: %v", d.Key(), err)
			}
			return Type{Kind: StructPointer, Name: d.Name}
		}
	}
	return fallback("%s has no safe mapping", t)
}

// CheckStruct reports why a struct declaration has no Go form, or nil when
// it has one: a struct is emitted only when every field maps by FieldType.
func (m *Mapper) CheckStruct(d *parser.Decl) error {
	if d.Unsupported != "" {
		return errors.New(d.Unsupported)
	}
	if len(d.Fields) == 0 {
		return errors.New("struct has no fields")
	}
	for _, f := range d.Fields {
		if _, ok := m.FieldType(f.Type); !ok {
			return fmt.Errorf("field %s has unsupported type %s", f.Name, f.Type)
		}
	}
	return nil
}

// FieldType maps the type of a struct field. Pointer fields are kept as
// raw addresses so the Go struct has the native layout.
func (m *Mapper) FieldType(t parser.CType) (Type, bool) {
	if parser.Resolve(m.r, t).IsPointer() {
		return Type{Kind: RawAddress, C: t.String()}, true
	}

	mt := m.Map(t)
	switch mt.Kind {
	case Scalar, Status, Enum, Struct, Array, Handle, Callback:
		return mt, true
	}
	return mt, false
}

func fallback(format string, args ...any) Type {
	return Type{Kind: RawAddress, Fallback: true, Reason: fmt.Sprintf(format, args...)}
}

// MapFunction maps the parameters and result of a function declaration. The
// diagnostics report every fallback and the reason a function is unsupported.
func (m *Mapper) MapFunction(d *parser.Decl) (Signature, []diag.Diagnostic) {
	sig := Signature{Decl: d, Name: d.Name, Release: strings.HasSuffix(d.Name, "_free")}

	var diags diag.List
	warn := func(format string, args ...any) {
		diags.Addf(diag.Warning, d.File, d.Line, d.Name, format, args...)
	}
	unsupported := func(format string, args ...any) {
		sig.Unsupported = fmt.Sprintf(format, args...)
		diags.Addf(diag.Skipped, d.File, d.Line, d.Name, "%s", sig.Unsupported)
	}

	sig.Result = m.Map(d.Result)
	if sig.Result.Fallback {
		if !parser.Resolve(m.r, d.Result).IsPointer() {
			unsupported("result %s: %s", d.Result, sig.Result.Reason)
			return sig, diags
		}
		warn("result %s: %s; returning a raw address", d.Result, sig.Result.Reason)
	}

	for i := 0; i < len(d.Params); i++ {
		p := d.Params[i]

		if !sig.Release && i+1 < len(d.Params) {
			if mode, lenDir := m.bufferPair(p, d.Params[i+1]); mode != NoBuffer {
				next := d.Params[i+1]
				dir := parser.In
				if mode == BufferOut {
					dir = parser.Out
				}
				sig.Args = append(sig.Args, Arg{
					Name:   p.Name,
					Index:  i,
					Dir:    dir,
					Type:   Type{Kind: Buffer, C: p.Type.String()},
					Buffer: mode,
					Len: &Arg{
						Name:  next.Name,
						Index: i + 1,
						Dir:   lenDir,
						Type:  m.Map(m.lengthType(next.Type)),
					},
				})
				i++
				continue
			}
		}

		arg := Arg{Name: p.Name, Index: i, Dir: p.Dir}
		resolved := parser.Resolve(m.r, p.Type)

		switch {
		case sig.Release && (resolved.IsPointer() || m.Map(p.Type).Pointer()):
			arg.Dir = parser.In
			arg.Type = Type{Kind: RawAddress, C: p.Type.String()}

		case p.Dir == parser.Out || p.Dir == parser.InOut:
			arg.Type = m.Map(*resolved.Elem)

		default:
			arg.Type = m.Map(p.Type)
			if arg.Type.Kind == OwnedString {
				// Writable strings the caller passes in are still borrowed.
				arg.Type.Kind = String
			}
		}

		if arg.Type.Fallback {
			if arg.Dir == parser.In && !resolved.IsPointer() {
				unsupported("parameter %s %s: %s", p.Name, p.Type, arg.Type.Reason)
				return sig, diags
			}
			warn("parameter %s %s: %s; passing a raw address", p.Name, p.Type, arg.Type.Reason)
		}
		sig.Args = append(sig.Args, arg)
	}

	return sig, diags
}

// bufferPair reports whether data and size form a pointer and length pair,
// and the direction of the length parameter.
func (m *Mapper) bufferPair(data, size parser.Param) (BufferMode, parser.Direction) {
	if !hasLengthName(size.Name) {
		return NoBuffer, parser.In
	}
	if _, ok := parser.OpaqueFor(m.r, data.Type); ok {
		return NoBuffer, parser.In
	}

	dt := parser.Resolve(m.r, data.Type)
	if !dt.IsPointer() {
		return NoBuffer, parser.In
	}
	elem := parser.Resolve(m.r, *dt.Elem)

	st := parser.Resolve(m.r, size.Type)
	sizeIsPointer := st.IsPointer()
	if sizeIsPointer {
		st = parser.Resolve(m.r, *st.Elem)
	}
	if !isInteger(st) {
		return NoBuffer, parser.In
	}

	if elem.IsPointer() {
		inner := parser.Resolve(m.r, *elem.Elem)
		if isByteLike(inner) && sizeIsPointer {
			return BufferOut, parser.InOut
		}
		return NoBuffer, parser.In
	}
	if !isByteLike(elem) {
		return NoBuffer, parser.In
	}

	switch {
	case elem.Const && !sizeIsPointer:
		return BufferIn, parser.In
	case !elem.Const && !sizeIsPointer:
		return BufferFill, parser.In
	case !elem.Const && sizeIsPointer:
		return BufferFill, parser.InOut
	}
	return NoBuffer, parser.In
}

// lengthType strips the pointer from a length parameter passed by address.
func (m *Mapper) lengthType(t parser.CType) parser.CType {
	if r := parser.Resolve(m.r, t); r.IsPointer() {
		return *r.Elem
	}
	return t
}

var lengthSuffixes = []string{"len", "length", "size", "count", "bytes", "sz"}

func hasLengthName(name string) bool {
	name = strings.ToLower(name)
	for _, s := range lengthSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func isByteLike(t parser.CType) bool {
	if t.Kind != parser.KindScalar {
		return false
	}
	switch CanonicalScalar(t.Name) {
	case "void", "char", "signed char", "unsigned char", "uint8_t", "int8_t":
		return true
	}
	return false
}

func isInteger(t parser.CType) bool {
	if t.Kind != parser.KindScalar {
		return false
	}
	switch goType := scalarTypes[CanonicalScalar(t.Name)]; goType {
	case "", "bool", "float32", "float64":
		return false
	}
	return true
}

// IsStatus reports whether an enum is a status code: exactly one enumerator
// is zero and every other one is negative.
func IsStatus(d *parser.Decl) bool {
	if d.Kind != parser.DeclEnum || len(d.Values) < 2 {
		return false
	}
	zeros := 0
	for _, v := range d.Values {
		switch {
		case v.Value == 0:
			zeros++
		case v.Value > 0:
			return false
		}
	}
	return zeros == 1
}

// IsCallback reports whether a typedef names a function pointer type.
func IsCallback(d *parser.Decl) bool {
	return d.Kind == parser.DeclTypedef &&
		d.Underlying.Kind == parser.KindPointer &&
		d.Underlying.Elem.Kind == parser.KindFunc
}
