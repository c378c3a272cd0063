package generator

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ardanlabs/ffi-bindgen/diag"
	"github.com/ardanlabs/ffi-bindgen/mapper"
	"github.com/ardanlabs/ffi-bindgen/parser"
)

// ffiScalars maps Go scalar types to the libffi type descriptors passed to
// Prep. C bool travels as a single byte.
var ffiScalars = map[string]string{
	"int8":    "&ffi.TypeSint8",
	"uint8":   "&ffi.TypeUint8",
	"int16":   "&ffi.TypeSint16",
	"uint16":  "&ffi.TypeUint16",
	"int32":   "&ffi.TypeSint32",
	"uint32":  "&ffi.TypeUint32",
	"int64":   "&ffi.TypeSint64",
	"uint64":  "&ffi.TypeUint64",
	"float32": "&ffi.TypeFloat",
	"float64": "&ffi.TypeDouble",
	"bool":    "&ffi.TypeUint8",
}

// goType returns the Go type a wrapper uses for values of t.
func (mg *moduleGen) goType(t mapper.Type) string {
	switch t.Kind {
	case mapper.Scalar:
		return t.Name
	case mapper.Array:
		return fmt.Sprintf("[%d]%s", t.Len, mg.goType(*t.Elem))
	case mapper.Handle:
		return "*" + handleName(t.Name)
	case mapper.String:
		return "string"
	case mapper.OwnedString:
		mg.useNative()
		return "native.CString"
	case mapper.Buffer:
		return "[]byte"
	case mapper.Status, mapper.Enum, mapper.Struct:
		return typeName(t.Name)
	case mapper.StructPointer:
		return "*" + typeName(t.Name)
	case mapper.Callback:
		if t.Name != "" {
			return typeName(t.Name)
		}
		return "uintptr"
	default:
		return "uintptr"
	}
}

// ffiType returns the libffi descriptor of a value of t.
func (mg *moduleGen) ffiType(t mapper.Type) string {
	switch t.Kind {
	case mapper.Void:
		return "&ffi.TypeVoid"
	case mapper.Scalar:
		return ffiScalars[t.Name]
	case mapper.Status, mapper.Enum:
		_, ffiType := enumBase(mg.enumDecl(t.Name))
		return ffiType
	case mapper.Struct:
		return "&FFIType" + typeName(t.Name)
	default:
		return "&ffi.TypePointer"
	}
}

// smallResult reports whether libffi widens a result of t to a full
// register, in which case it is read through an ffi.Arg.
func (mg *moduleGen) smallResult(t mapper.Type) bool {
	switch t.Kind {
	case mapper.Scalar:
		switch t.Name {
		case "int8", "uint8", "int16", "uint16", "int32", "uint32", "bool":
			return true
		}
	case mapper.Status, mapper.Enum:
		goType, _ := enumBase(mg.enumDecl(t.Name))
		return goType != "int64"
	}
	return false
}

func (mg *moduleGen) enumDecl(name string) *parser.Decl {
	for _, key := range []string{name, "enum " + name} {
		if d, ok := mg.module.Scope.Lookup(key); ok && d.Kind == parser.DeclEnum {
			return d
		}
	}
	return nil
}

// enumBase picks the smallest of int32, uint32 and int64 that holds every
// value of the enum.
func enumBase(d *parser.Decl) (goType, ffiType string) {
	if d == nil {
		return "int32", "&ffi.TypeSint32"
	}

	fitsInt32, fitsUint32 := true, true
	for _, v := range d.Values {
		if v.Value < math.MinInt32 || v.Value > math.MaxInt32 {
			fitsInt32 = false
		}
		if v.Value < 0 || v.Value > math.MaxUint32 {
			fitsUint32 = false
		}
	}

	switch {
	case fitsInt32:
		return "int32", "&ffi.TypeSint32"
	case fitsUint32:
		return "uint32", "&ffi.TypeUint32"
	default:
		return "int64", "&ffi.TypeSint64"
	}
}

func (mg *moduleGen) consts(buf *bytes.Buffer, decls []*parser.Decl) error {
	var lines []string
	for _, d := range decls {
		if d.Kind != parser.DeclConst {
			continue
		}

		value, ok := constValue(d.Value)
		if !ok {
			mg.diags.Addf(diag.Skipped, d.File, d.Line, d.Name, "constant value %s has no Go equivalent", d.Value)
			continue
		}

		name := toGoName(d.Name)
		if err := mg.declare(name, d.Name); err != nil {
			return err
		}
		lines = append(lines, fmt.Sprintf("\t%s = %s\n", name, value))
	}

	if len(lines) == 0 {
		return nil
	}

	buf.WriteString("const (\n")
	for _, l := range lines {
		buf.WriteString(l)
	}
	buf.WriteString(")\n\n")

	return nil
}

// constValue converts the literal body of a #define to Go syntax.
func constValue(lit string) (string, bool) {
	if strings.HasPrefix(lit, `"`) {
		s, err := strconv.Unquote(lit)
		if err != nil {
			return "", false
		}
		return strconv.Quote(s), true
	}

	num := strings.TrimRight(lit, "uUlL")
	if _, err := strconv.ParseInt(num, 0, 64); err != nil {
		if _, err := strconv.ParseUint(num, 0, 64); err != nil {
			return "", false
		}
	}
	return num, true
}

func (mg *moduleGen) enums(buf *bytes.Buffer, decls []*parser.Decl) error {
	for _, d := range decls {
		if d.Kind != parser.DeclEnum || len(d.Values) == 0 {
			continue
		}

		name := typeName(d.Name)
		if err := mg.declare(name, d.Key()); err != nil {
			return err
		}
		base, _ := enumBase(d)

		if d.Doc != "" {
			writeGoComment(buf, name, d.Doc, "")
		} else {
			fmt.Fprintf(buf, "// %s is the native %s.\n", name, d.Key())
		}
		fmt.Fprintf(buf, "type %s %s\n\n", name, base)

		buf.WriteString("const (\n")
		for _, v := range d.Values {
			vn := toGoName(v.Name)
			if err := mg.declare(vn, v.Name); err != nil {
				return err
			}
			fmt.Fprintf(buf, "\t%s %s = %d\n", vn, name, v.Value)
		}
		buf.WriteString(")\n\n")

		mg.use("fmt")
		fmt.Fprintf(buf, "func (e %s) String() string {\n", name)
		buf.WriteString("\tswitch e {\n")
		seen := make(map[int64]bool)
		for _, v := range d.Values {
			if seen[v.Value] {
				continue
			}
			seen[v.Value] = true
			fmt.Fprintf(buf, "\tcase %s:\n\t\treturn %q\n", toGoName(v.Name), v.Name)
		}
		buf.WriteString("\t}\n")
		fmt.Fprintf(buf, "\treturn fmt.Sprintf(\"%s(%%d)\", %s(e))\n", name, base)
		buf.WriteString("}\n\n")

		if !mapper.IsStatus(d) {
			continue
		}

		var success string
		for _, v := range d.Values {
			if v.Value == 0 {
				success = toGoName(v.Name)
				break
			}
		}

		fmt.Fprintf(buf, "func (e %s) Error() string {\n", name)
		buf.WriteString("\treturn e.String()\n")
		buf.WriteString("}\n\n")

		fmt.Fprintf(buf, "// Err returns nil for %s and the status as an error otherwise.\n", success)
		fmt.Fprintf(buf, "func (e %s) Err() error {\n", name)
		fmt.Fprintf(buf, "\tif e == %s {\n\t\treturn nil\n\t}\n", success)
		buf.WriteString("\treturn e\n")
		buf.WriteString("}\n\n")
	}

	return nil
}

func (mg *moduleGen) callbacks(buf *bytes.Buffer, decls []*parser.Decl) error {
	for _, d := range decls {
		if !mapper.IsCallback(d) {
			continue
		}

		name := typeName(d.Name)
		if err := mg.declare(name, d.Name); err != nil {
			return err
		}

		if d.Doc != "" {
			writeGoComment(buf, name, d.Doc, "")
		} else {
			fmt.Fprintf(buf, "// %s is the address of a native %s function.\n", name, d.Name)
		}
		fmt.Fprintf(buf, "type %s uintptr\n\n", name)
	}

	return nil
}

func (mg *moduleGen) structs(buf *bytes.Buffer, decls []*parser.Decl) error {
	for _, d := range decls {
		if d.Kind != parser.DeclStruct || d.Unsupported != "" {
			continue
		}

		if err := mg.mapper.CheckStruct(d); err != nil {
			mg.diags.Addf(diag.Skipped, d.File, d.Line, d.Name, "%v", err)
			continue
		}

		type field struct {
			name, goType string
			ffiTypes     []string
		}

		fields := make([]field, 0, len(d.Fields))
		for _, f := range d.Fields {
			goType, ffiTypes := mg.fieldType(f.Type)
			fields = append(fields, field{name: toGoName(f.Name), goType: goType, ffiTypes: ffiTypes})
		}

		name := typeName(d.Name)
		if err := mg.declare(name, d.Key()); err != nil {
			return err
		}
		if err := mg.declare("FFIType"+name, d.Key()); err != nil {
			return err
		}

		if d.Doc != "" {
			writeGoComment(buf, name, d.Doc, "")
		}
		fmt.Fprintf(buf, "type %s struct {\n", name)
		for _, f := range fields {
			fmt.Fprintf(buf, "\t%s %s\n", f.name, f.goType)
		}
		buf.WriteString("}\n\n")

		mg.useFFI()
		fmt.Fprintf(buf, "var FFIType%s = ffi.NewType(\n", name)
		for _, f := range fields {
			for _, ft := range f.ffiTypes {
				fmt.Fprintf(buf, "\t%s,\n", ft)
			}
		}
		buf.WriteString(")\n\n")
	}

	return nil
}

// fieldType returns the Go type and the libffi element descriptors of a
// struct field that CheckStruct accepted.
func (mg *moduleGen) fieldType(ct parser.CType) (string, []string) {
	t, _ := mg.mapper.FieldType(ct)
	switch t.Kind {
	case mapper.Array:
		elem := mg.ffiType(*t.Elem)
		ffiTypes := make([]string, t.Len)
		for i := range ffiTypes {
			ffiTypes[i] = elem
		}
		return mg.goType(t), ffiTypes

	case mapper.Handle, mapper.Callback, mapper.RawAddress:
		return "uintptr", []string{"&ffi.TypePointer"}
	}

	return mg.goType(t), []string{mg.ffiType(t)}
}
