package generator

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ardanlabs/ffi-bindgen/mapper"
	"github.com/ardanlabs/ffi-bindgen/parser"
)

// Surface is the API of one module: a capability interface and the
// implementation forwarding it to the native library.
type Surface struct {
	Interface      string
	Implementation string
	Facade         string
	Methods        []mapper.Signature
}

func (mg *moduleGen) surface(decls []*parser.Decl) Surface {
	name := mg.moduleName()
	s := Surface{
		Interface:      name + "API",
		Implementation: "Native" + name + "API",
		Facade:         mg.cfg.Facade,
	}

	for _, d := range decls {
		if d.Kind != parser.DeclFunction {
			continue
		}
		sig, diags := mg.mapper.MapFunction(d)
		for _, dg := range diags {
			mg.diags.Add(dg)
		}
		if sig.Unsupported != "" {
			continue
		}
		s.Methods = append(s.Methods, sig)
	}

	return s
}

func (mg *moduleGen) api(buf *bytes.Buffer, decls []*parser.Decl) error {
	s := mg.surface(decls)
	name := mg.moduleName()

	for _, n := range []string{s.Interface, s.Implementation, "New" + s.Interface} {
		if err := mg.declare(n, mg.module.Name); err != nil {
			return err
		}
	}

	methods := make([]wrapper, 0, len(s.Methods))
	for _, sig := range s.Methods {
		w := mg.wrapper(sig)
		if w.name == "Parent" {
			return fmt.Errorf("method %s of %s collides with Parent", w.name, sig.Name)
		}
		methods = append(methods, w)
	}

	mg.writeLoadFuncs(buf, name, s)

	fmt.Fprintf(buf, "// %s is the %s module of the %s library.\n", s.Interface, mg.module.Name, mg.cfg.Library)
	fmt.Fprintf(buf, "type %s interface {\n", s.Interface)
	buf.WriteString("\t// Parent returns the library the module belongs to.\n")
	fmt.Fprintf(buf, "\tParent() %s\n", s.Facade)
	for _, w := range methods {
		buf.WriteString("\n")
		if w.sig.Decl.Doc != "" {
			writeGoComment(buf, w.name, w.sig.Decl.Doc, "\t")
		} else {
			fmt.Fprintf(buf, "\t// %s calls %s.\n", w.name, w.sig.Name)
		}
		fmt.Fprintf(buf, "\t%s%s\n", w.name, w.signature())
	}
	buf.WriteString("}\n\n")

	fmt.Fprintf(buf, "// %s forwards %s to the native library.\n", s.Implementation, s.Interface)
	fmt.Fprintf(buf, "type %s struct {\n", s.Implementation)
	fmt.Fprintf(buf, "\tparent %s\n", s.Facade)
	buf.WriteString("}\n\n")

	fmt.Fprintf(buf, "var _ %s = (*%s)(nil)\n\n", s.Interface, s.Implementation)

	fmt.Fprintf(buf, "func New%s(parent %s) *%s {\n", s.Interface, s.Facade, s.Implementation)
	fmt.Fprintf(buf, "\treturn &%s{parent: parent}\n", s.Implementation)
	buf.WriteString("}\n\n")

	fmt.Fprintf(buf, "func (api *%s) Parent() %s {\n", s.Implementation, s.Facade)
	buf.WriteString("\treturn api.parent\n")
	buf.WriteString("}\n\n")

	for _, w := range methods {
		fmt.Fprintf(buf, "func (api *%s) %s%s {\n", s.Implementation, w.name, w.signature())
		for _, l := range w.body {
			fmt.Fprintf(buf, "\t%s\n", l)
		}
		buf.WriteString("}\n\n")
	}

	return nil
}

func funcVar(cName string) string {
	return toLowerCamel(cName) + "Func"
}

// writeLoadFuncs writes the function variables of the module and the
// function preparing them once the library is open.
func (mg *moduleGen) writeLoadFuncs(buf *bytes.Buffer, name string, s Surface) {
	if len(s.Methods) > 0 {
		mg.useFFI()
		buf.WriteString("var (\n")
		for _, sig := range s.Methods {
			fmt.Fprintf(buf, "\t%s ffi.Fun\n", funcVar(sig.Name))
		}
		buf.WriteString(")\n\n")
	}

	fmt.Fprintf(buf, "func load%sFuncs() error {\n", name)
	if len(s.Methods)+len(mg.releases) > 0 {
		buf.WriteString("\tvar err error\n\n")
	}

	for _, sig := range s.Methods {
		mg.writePrep(buf, funcVar(sig.Name), sig)
	}
	for _, h := range mg.releases {
		mg.writePrep(buf, "release"+typeName(h.Opaque)+"Func", *h.Release)
	}

	buf.WriteString("\treturn nil\n")
	buf.WriteString("}\n\n")
}

func (mg *moduleGen) writePrep(buf *bytes.Buffer, fnVar string, sig mapper.Signature) {
	types := []string{mg.ffiType(sig.Result)}
	for _, a := range sig.Args {
		types = append(types, mg.paramFFIType(a))
		if a.Len != nil {
			types = append(types, mg.paramFFIType(*a.Len))
		}
	}

	fmt.Fprintf(buf, "\tif %s, err = lib.Prep(%q, %s); err != nil {\n", fnVar, sig.Name, strings.Join(types, ", "))
	buf.WriteString("\t\treturn err\n")
	buf.WriteString("\t}\n\n")
}

// paramFFIType returns the libffi descriptor of one native parameter.
func (mg *moduleGen) paramFFIType(a mapper.Arg) string {
	if a.Buffer != mapper.NoBuffer || a.Dir != parser.In {
		return "&ffi.TypePointer"
	}
	return mg.ffiType(a.Type)
}

// wrapper is the generated form of one forwarding method.
type wrapper struct {
	sig     mapper.Signature
	name    string
	params  []string
	results []string
	body    []string
}

func (w wrapper) signature() string {
	s := "(" + strings.Join(w.params, ", ") + ")"
	switch len(w.results) {
	case 0:
		return s
	case 1:
		return s + " " + w.results[0]
	default:
		return s + " (" + strings.Join(w.results, ", ") + ")"
	}
}

// wrapper builds a method that marshals the arguments of sig, forwards the
// call and converts the outputs. It adds no behaviour of its own.
func (mg *moduleGen) wrapper(sig mapper.Signature) wrapper {
	w := wrapper{sig: sig, name: toGoName(sig.Name)}

	var (
		pre       []string
		callArgs  []string
		keepAlive []string
		post      []string
		returns   []string
	)

	// Parameters are named first so the locals derived from them never
	// shadow one another.
	fn := funcVar(sig.Name)
	names := idents{fn: true}
	params := make([]string, len(sig.Args))
	for i, a := range sig.Args {
		if a.IsInput() {
			params[i] = names.fresh(paramName(a.Name))
		}
	}
	rv := names.fresh("rv")

	for i, a := range sig.Args {
		name := params[i]
		local := localName(a.Name)

		switch {
		case a.Buffer == mapper.BufferOut:
			mg.useNative()
			lenLocal := localName(a.Len.Name)
			out, outPtr := names.fresh(local+"Out"), names.fresh(local+"Ptr")
			lenOut, lenPtr := names.fresh(lenLocal+"Out"), names.fresh(lenLocal+"Ptr")
			pre = append(pre,
				fmt.Sprintf("var %s uintptr", out),
				fmt.Sprintf("%s := &%s", outPtr, out),
				fmt.Sprintf("var %s %s", lenOut, mg.goType(a.Len.Type)),
				fmt.Sprintf("%s := &%s", lenPtr, lenOut),
			)
			callArgs = append(callArgs, ptr(outPtr), ptr(lenPtr))
			w.results = append(w.results, "native.Buffer")
			returns = append(returns, fmt.Sprintf("native.Buffer{Addr: %s, Len: uint64(%s)}", out, lenOut))

		case a.Buffer != mapper.NoBuffer:
			mg.useNative()
			lenType := mg.goType(a.Len.Type)
			arg, lenArg := names.fresh(local+"Arg"), names.fresh(localName(a.Len.Name)+"Arg")
			w.params = append(w.params, name+" []byte")
			pre = append(pre,
				fmt.Sprintf("%s := native.BytesPtr(%s)", arg, name),
				fmt.Sprintf("%s := %s(len(%s))", lenArg, lenType, name),
			)
			callArgs = append(callArgs, ptr(arg))
			keepAlive = append(keepAlive, name)
			if a.Len.Dir == parser.InOut {
				lenPtr := names.fresh(localName(a.Len.Name) + "Ptr")
				pre = append(pre, fmt.Sprintf("%s := &%s", lenPtr, lenArg))
				callArgs = append(callArgs, ptr(lenPtr))
				w.results = append(w.results, lenType)
				returns = append(returns, lenArg)
			} else {
				callArgs = append(callArgs, ptr(lenArg))
			}

		case a.Dir == parser.Out:
			goType := mg.goType(a.Type)
			outType := goType
			switch a.Type.Kind {
			case mapper.Handle:
				outType = "uintptr"
			case mapper.String:
				outType = "*byte"
			}
			out, outPtr := names.fresh(local+"Out"), names.fresh(local+"Ptr")
			pre = append(pre,
				fmt.Sprintf("var %s %s", out, outType),
				fmt.Sprintf("%s := &%s", outPtr, out),
			)
			callArgs = append(callArgs, ptr(outPtr))
			w.results = append(w.results, goType)

			switch a.Type.Kind {
			case mapper.Handle:
				h := names.fresh(local + "Handle")
				post = append(post, mg.wrapHandle(h, out, a.Type)...)
				returns = append(returns, h)
			case mapper.String:
				mg.useNative()
				returns = append(returns, fmt.Sprintf("native.GoString(%s)", out))
			default:
				returns = append(returns, out)
			}

		case a.Dir == parser.InOut:
			goType := mg.goType(a.Type)
			arg, argPtr := names.fresh(local+"Arg"), names.fresh(local+"Ptr")
			w.params = append(w.params, name+" "+goType)
			pre = append(pre,
				fmt.Sprintf("%s := %s", arg, name),
				fmt.Sprintf("%s := &%s", argPtr, arg),
			)
			callArgs = append(callArgs, ptr(argPtr))
			w.results = append(w.results, goType)
			returns = append(returns, arg)

		default:
			w.params = append(w.params, name+" "+mg.goType(a.Type))
			switch a.Type.Kind {
			case mapper.Handle:
				arg := names.fresh(local + "Arg")
				pre = append(pre, fmt.Sprintf("%s := %s.Addr()", arg, name))
				callArgs = append(callArgs, ptr(arg))
				keepAlive = append(keepAlive, name)
			case mapper.String:
				mg.useNative()
				arg := names.fresh(local + "Arg")
				pre = append(pre, fmt.Sprintf("%s := native.BytePtr(%s)", arg, name))
				callArgs = append(callArgs, ptr(arg))
			case mapper.StructPointer:
				callArgs = append(callArgs, ptr(name))
				keepAlive = append(keepAlive, name)
			default:
				callArgs = append(callArgs, ptr(name))
			}
		}
	}

	mg.useFFI()
	mg.use("unsafe")

	var call string
	result := sig.Result

	switch {
	case result.Kind == mapper.Void:
		call = fmt.Sprintf("%s.Call(nil%s)", fn, joinArgs(callArgs))

	case mg.smallResult(result):
		goType := mg.goType(result)
		pre = append(pre, fmt.Sprintf("var %s ffi.Arg", rv))
		call = fmt.Sprintf("%s.Call(unsafe.Pointer(&%s)%s)", fn, rv, joinArgs(callArgs))
		if goType == "bool" {
			returns = append([]string{rv + ".Bool()"}, returns...)
		} else {
			returns = append([]string{fmt.Sprintf("%s(%s)", goType, rv)}, returns...)
		}
		w.results = append([]string{goType}, w.results...)

	default:
		goType := mg.goType(result)
		rvType := goType
		rvExpr := rv
		switch result.Kind {
		case mapper.Handle:
			rvType = "uintptr"
			rvExpr = names.fresh(rv + "Handle")
			post = append(post, mg.wrapHandle(rvExpr, rv, result)...)
		case mapper.String:
			mg.useNative()
			rvType = "*byte"
			rvExpr = fmt.Sprintf("native.GoString(%s)", rv)
		}
		pre = append(pre, fmt.Sprintf("var %s %s", rv, rvType))
		call = fmt.Sprintf("%s.Call(unsafe.Pointer(&%s)%s)", fn, rv, joinArgs(callArgs))
		returns = append([]string{rvExpr}, returns...)
		w.results = append([]string{goType}, w.results...)
	}

	w.body = append(w.body, pre...)
	w.body = append(w.body, call)

	// Inputs whose cleanup or memory the native call depends on stay
	// reachable until it returns.
	if len(keepAlive) > 0 {
		mg.use("runtime")
		for _, k := range keepAlive {
			w.body = append(w.body, fmt.Sprintf("runtime.KeepAlive(%s)", k))
		}
	}

	w.body = append(w.body, post...)
	if len(returns) > 0 {
		w.body = append(w.body, "return "+strings.Join(returns, ", "))
	}

	return w
}

// wrapHandle returns the statements that wrap a native address produced by
// a call and attach the module's library to it.
func (mg *moduleGen) wrapHandle(name, addr string, t mapper.Type) []string {
	return []string{
		fmt.Sprintf("%s := DangerousCreate%s(%s, true)", name, handleName(t.Name), addr),
		fmt.Sprintf("%s.SetAPI(api.parent)", name),
	}
}

// idents is the set of identifiers declared in one wrapper.
type idents map[string]bool

// fresh declares name, or name with the smallest numeric suffix from 2 that
// is still free, and returns it.
func (ids idents) fresh(name string) string {
	n := name
	for i := 2; ids[n]; i++ {
		n = fmt.Sprintf("%s%d", name, i)
	}
	ids[n] = true
	return n
}

// localName is the prefix of the locals a wrapper derives from a parameter.
func localName(cName string) string {
	if l := toLowerCamel(cName); l != "" {
		return l
	}
	return "arg"
}

func ptr(v string) string {
	return "unsafe.Pointer(&" + v + ")"
}

func joinArgs(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return ", " + strings.Join(args, ", ")
}
