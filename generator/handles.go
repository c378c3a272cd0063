package generator

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ardanlabs/ffi-bindgen/mapper"
	"github.com/ardanlabs/ffi-bindgen/parser"
)

// Handle describes the Go handle type generated for one opaque pointer type.
type Handle struct {
	Opaque string
	Name   string

	// Release is the native free function paired with the opaque type, or
	// nil when the library exports none.
	Release *mapper.Signature
}

// ReleaseFuncName returns the conventional free function of an opaque type:
// idevice_t is released by idevice_free.
func ReleaseFuncName(opaque string) string {
	return strings.TrimSuffix(opaque, "_t") + "_free"
}

// handle builds the descriptor of opaque type d, pairing it with its free
// function when the scope declares one taking exactly that handle.
func (mg *moduleGen) handle(d *parser.Decl) Handle {
	h := Handle{Opaque: d.Name, Name: handleName(d.Name)}

	fn, ok := mg.module.Scope.Lookup(ReleaseFuncName(d.Name))
	if !ok || fn.Kind != parser.DeclFunction || len(fn.Params) != 1 {
		return h
	}

	param := mg.mapper.Map(fn.Params[0].Type)
	if param.Kind != mapper.Handle || param.Name != d.Name {
		return h
	}

	sig, _ := mg.mapper.MapFunction(fn)
	if sig.Unsupported != "" || sig.Result.Kind == mapper.Struct {
		return h
	}
	h.Release = &sig

	return h
}

func (mg *moduleGen) handles(buf *bytes.Buffer, decls []*parser.Decl) error {
	for _, d := range decls {
		if d.Kind != parser.DeclOpaque {
			continue
		}

		h := mg.handle(d)
		if err := mg.declare(h.Name, d.Name); err != nil {
			return err
		}
		mg.writeHandle(buf, d, h)
	}

	return nil
}

func (mg *moduleGen) writeHandle(buf *bytes.Buffer, d *parser.Decl, h Handle) {
	mg.useNative()
	mg.use("fmt")

	facade := mg.cfg.Facade
	base := typeName(d.Name)

	if d.Doc != "" {
		writeGoComment(buf, h.Name, d.Doc, "")
		buf.WriteString("//\n")
		fmt.Fprintf(buf, "// %s wraps the native %s.\n", h.Name, d.Key())
	} else {
		fmt.Fprintf(buf, "// %s wraps the native %s.\n", h.Name, d.Key())
	}
	fmt.Fprintf(buf, "type %s struct {\n", h.Name)
	buf.WriteString("\tnative.Handle\n")
	fmt.Fprintf(buf, "\tapi %s\n", facade)
	buf.WriteString("}\n\n")

	fmt.Fprintf(buf, "// Zero%s returns a handle that wraps the null pointer and owns nothing.\n", h.Name)
	fmt.Fprintf(buf, "func Zero%s() *%s {\n", h.Name, h.Name)
	fmt.Fprintf(buf, "\treturn &%s{}\n", h.Name)
	buf.WriteString("}\n\n")

	release := "nil"
	if h.Release != nil {
		release = "release" + base
		fmt.Fprintf(buf, "// DangerousCreate%s wraps addr. When ownsHandle is true, %s releases\n", h.Name, h.Release.Name)
		buf.WriteString("// addr once the handle is closed or garbage collected.\n")
	} else {
		fmt.Fprintf(buf, "// DangerousCreate%s wraps addr. The library exports no free function\n", h.Name)
		fmt.Fprintf(buf, "// for %s, so closing the handle never releases addr.\n", d.Key())
	}
	fmt.Fprintf(buf, "func DangerousCreate%s(addr uintptr, ownsHandle bool) *%s {\n", h.Name, h.Name)
	fmt.Fprintf(buf, "\th := &%s{Handle: native.NewHandle(addr, ownsHandle, %s)}\n", h.Name, release)
	buf.WriteString("\tnative.Track(h, h.Handle)\n")
	buf.WriteString("\treturn h\n")
	buf.WriteString("}\n\n")

	buf.WriteString("// Addr returns the native address. A nil handle wraps the null pointer.\n")
	fmt.Fprintf(buf, "func (h *%s) Addr() uintptr {\n", h.Name)
	buf.WriteString("\tif h == nil {\n\t\treturn 0\n\t}\n")
	buf.WriteString("\treturn h.Handle.Addr()\n")
	buf.WriteString("}\n\n")

	fmt.Fprintf(buf, "// API returns the library the handle was produced by.\n")
	fmt.Fprintf(buf, "func (h *%s) API() %s {\n", h.Name, facade)
	buf.WriteString("\treturn h.api\n")
	buf.WriteString("}\n\n")

	fmt.Fprintf(buf, "func (h *%s) SetAPI(api %s) {\n", h.Name, facade)
	buf.WriteString("\th.api = api\n")
	buf.WriteString("}\n\n")

	buf.WriteString("// Equal reports whether both handles wrap the same address.\n")
	fmt.Fprintf(buf, "func (h *%s) Equal(other *%s) bool {\n", h.Name, h.Name)
	buf.WriteString("\treturn h.Addr() == other.Addr()\n")
	buf.WriteString("}\n\n")

	fmt.Fprintf(buf, "func (h *%s) String() string {\n", h.Name)
	fmt.Fprintf(buf, "\treturn fmt.Sprintf(\"%%#x (%s)\", h.Addr())\n", h.Name)
	buf.WriteString("}\n\n")

	if h.Release == nil {
		return
	}

	mg.useFFI()
	mg.use("unsafe")

	fmt.Fprintf(buf, "var release%sFunc ffi.Fun\n\n", base)
	fmt.Fprintf(buf, "func release%s(addr uintptr) {\n", base)
	if h.Release.Result.Kind == mapper.Void {
		fmt.Fprintf(buf, "\trelease%sFunc.Call(nil, unsafe.Pointer(&addr))\n", base)
	} else {
		buf.WriteString("\tvar rv ffi.Arg\n")
		fmt.Fprintf(buf, "\trelease%sFunc.Call(unsafe.Pointer(&rv), unsafe.Pointer(&addr))\n", base)
	}
	buf.WriteString("}\n\n")

	mg.releases = append(mg.releases, h)
}
