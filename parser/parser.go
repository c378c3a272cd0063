package parser

import (
	"cmp"
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"

	"github.com/ardanlabs/ffi-bindgen/diag"
)

// stdScalars are typedef names from the C standard headers that are treated
// as scalars whether or not their header was included.
var stdScalars = map[string]bool{
	"int8_t": true, "int16_t": true, "int32_t": true, "int64_t": true,
	"uint8_t": true, "uint16_t": true, "uint32_t": true, "uint64_t": true,
	"intptr_t": true, "uintptr_t": true, "size_t": true, "ssize_t": true,
	"ptrdiff_t": true, "off_t": true, "time_t": true, "bool": true, "_Bool": true,
	"wchar_t": true,
}

// Extractor builds the declaration model of a header. One Extractor can be
// reused for every module of a run.
type Extractor struct {
	includeDirs []string
	defines     map[string]string
	table       *Table
}

// NewExtractor returns an Extractor searching includeDirs in order. table
// holds the declarations of previously processed modules and may be nil.
func NewExtractor(includeDirs []string, defines map[string]string, table *Table) *Extractor {
	return &Extractor{
		includeDirs: includeDirs,
		defines:     defines,
		table:       table,
	}
}

// Extract preprocesses and parses the header at path. The returned module
// holds, in source order, the declarations of path itself that are not yet
// in the table. An empty name derives the module name from the path.
func (e *Extractor) Extract(ctx context.Context, path string, name string) (*Module, error) {
	if name == "" {
		name = ModuleName(path)
	}

	pp := newPreprocessor(e.includeDirs, e.defines)
	files, err := pp.run(ctx, path)
	if err != nil {
		return nil, err
	}

	var parent Resolver
	if e.table != nil {
		parent = e.table
	}
	scope := newScope(parent)
	consts := make(map[string]int64)

	var all []*Decl
	var diags diag.List
	target := files[len(files)-1]

	for _, sf := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		w := walker{
			file:   sf.path,
			src:    sf.src,
			module: ModuleName(sf.path),
			scope:  scope,
			pp:     pp,
			consts: consts,
		}
		if sf == target {
			w.module = name
		}

		if err := w.parse(ctx); err != nil {
			return nil, fmt.Errorf("parse %s: %w", sf.path, err)
		}
		w.addDefines(sf.defines)

		all = append(all, w.decls...)
		if sf == target {
			diags = append(diags, w.diags...)
		}
	}

	all = append(all, classifyOpaques(scope, all)...)

	m := Module{
		Name:  name,
		File:  path,
		Scope: scope,
	}
	for _, d := range pp.diags {
		if d.File == target.path {
			m.Diagnostics.Add(d)
		}
	}
	m.Diagnostics = append(m.Diagnostics, diags...)

	for _, d := range all {
		if d.File != target.path {
			continue
		}
		if e.table != nil {
			if owner, ok := e.table.Owner(d.Key()); ok {
				m.Diagnostics.Addf(diag.Info, d.File, d.Line, d.Name, "already emitted by module %s", owner)
				continue
			}
		}
		if d.Kind == DeclFunction {
			assignDirections(scope, d)
		}
		m.Decls = append(m.Decls, d)
	}
	slices.SortStableFunc(m.Decls, func(a, b *Decl) int { return cmp.Compare(a.Line, b.Line) })

	m.Deps = dependencies(scope, &m)

	return &m, nil
}

// ModuleName derives a module name from a header path: the lower-cased base
// name without extension, with every non-identifier rune replaced by '_'.
func ModuleName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var b strings.Builder
	for i, r := range strings.ToLower(base) {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z'):
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	return b.String()
}

// classifyOpaques turns pointer typedefs whose pointee is void or an
// incomplete struct into opaque pointer types. Incomplete structs that
// functions use through a plain struct pointer get an opaque type of their
// own, which is returned.
func classifyOpaques(scope *Scope, decls []*Decl) []*Decl {
	for _, d := range decls {
		if d.Kind != DeclTypedef || !isOpaquePointer(scope, d.Underlying) {
			continue
		}
		d.Kind = DeclOpaque
		scope.addOpaqueTarget(opaqueTarget(scope, d), d)
	}

	var added []*Decl
	for _, fn := range decls {
		if fn.Kind != DeclFunction {
			continue
		}

		types := []CType{fn.Result}
		for _, p := range fn.Params {
			types = append(types, p.Type)
		}
		for _, t := range types {
			tag, ok := incompleteStruct(scope, t)
			if !ok {
				continue
			}
			d := &Decl{
				Kind:       DeclOpaque,
				Name:       tag.Name,
				Tag:        tag.Tag,
				Module:     fn.Module,
				File:       fn.File,
				Line:       fn.Line,
				Underlying: PointerTo(tag),
			}
			scope.add(d.Key(), d)
			scope.addOpaqueTarget(d.Key(), d)
			added = append(added, d)
		}
	}

	return added
}

// incompleteStruct returns the struct a pointer type t reaches through any
// number of pointers when that struct is never defined and no opaque type
// names it yet.
func incompleteStruct(r Resolver, t CType) (CType, bool) {
	t = Resolve(r, t)
	for t.Kind == KindPointer {
		elem := Resolve(r, *t.Elem)
		if elem.Kind == KindNamed && elem.Tag == "struct" && elem.Name != "" {
			if _, ok := r.Lookup(elem.Key()); ok {
				return CType{}, false
			}
			if _, ok := r.LookupOpaque(elem.Key()); ok {
				return CType{}, false
			}
			return CType{Kind: KindNamed, Tag: elem.Tag, Name: elem.Name}, true
		}
		t = elem
	}
	return CType{}, false
}

func isOpaquePointer(r Resolver, t CType) bool {
	u := Resolve(r, t)
	if u.Kind != KindPointer {
		return false
	}

	pointee := Resolve(r, *u.Elem)
	switch {
	case pointee.IsVoid():
		return true
	case pointee.Kind == KindNamed && pointee.Tag == "struct":
		d, ok := r.Lookup(pointee.Key())
		return !ok || d.Kind != DeclStruct
	}

	return false
}

// assignDirections sets the data flow of every pointer parameter of fn.
func assignDirections(r Resolver, fn *Decl) {
	for i := range fn.Params {
		fn.Params[i].Dir = direction(r, fn.Params[i].Type)
	}
}

func direction(r Resolver, t CType) Direction {
	if t.Kind != KindPointer {
		return In
	}

	elem := *t.Elem
	switch elem.Kind {
	case KindPointer:
		return Out

	case KindNamed:
		if _, ok := OpaqueFor(r, elem); ok {
			return Out
		}
		resolved := Resolve(r, elem)
		if resolved.Kind == KindPointer {
			return Out
		}
		if elem.Const || resolved.Const {
			return In
		}
		if resolved.Kind == KindScalar && !resolved.IsVoid() && !isChar(resolved.Name) {
			return InOut
		}
		if isEnum(r, resolved) {
			return InOut
		}

	case KindScalar:
		if !elem.Const && !elem.IsVoid() && !isChar(elem.Name) {
			return InOut
		}
	}

	return In
}

func isEnum(r Resolver, t CType) bool {
	if t.Kind != KindNamed {
		return false
	}
	if t.Tag == "enum" {
		return true
	}
	d, ok := r.Lookup(t.Key())
	return ok && d.Kind == DeclEnum
}

func isChar(name string) bool {
	switch name {
	case "char", "signed char", "unsigned char":
		return true
	}
	return false
}

// dependencies lists the opaque pointer types referenced by m but declared
// by another header.
func dependencies(r Resolver, m *Module) []string {
	seen := make(map[string]bool)
	var deps []string

	var visit func(t CType)
	visit = func(t CType) {
		if d, ok := OpaqueFor(r, t); ok {
			if d.File != m.File && !seen[d.Name] {
				seen[d.Name] = true
				deps = append(deps, d.Name)
			}
			return
		}
		switch t.Kind {
		case KindPointer, KindArray:
			visit(*t.Elem)
		case KindFunc:
			visit(*t.Elem)
			for _, p := range t.Params {
				visit(p.Type)
			}
		}
	}

	for _, d := range m.Decls {
		switch d.Kind {
		case DeclFunction:
			for _, p := range d.Params {
				visit(p.Type)
			}
			visit(d.Result)
		case DeclStruct:
			for _, f := range d.Fields {
				visit(f.Type)
			}
		case DeclTypedef:
			visit(d.Underlying)
		}
	}

	return deps
}

// walker collects the declarations of one preprocessed file.
type walker struct {
	file   string
	src    []byte
	module string
	scope  *Scope
	pp     *preprocessor
	consts map[string]int64

	decls []*Decl
	diags diag.List
}

func (w *walker) parse(ctx context.Context) error {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(c.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, w.src)
	if err != nil {
		return err
	}
	defer tree.Close()

	w.walk(tree.RootNode())

	return nil
}

func (w *walker) walk(n *sitter.Node) {
	var comments []*sitter.Node
	prevEnd := -1

	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)

		if child.Type() == "comment" {
			if int(child.StartPoint().Row) != prevEnd {
				comments = append(comments, child)
			}
			continue
		}

		doc := w.docFor(comments, child)
		comments = nil
		prevEnd = int(child.EndPoint().Row)

		switch child.Type() {
		case "declaration":
			w.declaration(child, doc)

		case "type_definition":
			w.typeDefinition(child, doc)

		case "struct_specifier", "enum_specifier", "union_specifier":
			if _, body := w.specifier(child, doc); body != nil && body.Name != "" {
				w.add(body)
			}

		case "linkage_specification":
			if body := child.ChildByFieldName("body"); body != nil {
				w.walk(body)
			}

		case "function_definition":
			w.skip(child, w.declName(child), "function definitions are not supported")

		case "ERROR":
			w.skip(child, "", "cannot parse %q", firstLine(child.Content(w.src)))

		default:
			w.skip(child, "", "unsupported construct %s", child.Type())
		}
	}
}

// docFor returns the text of the comment block that ends on the line just
// above decl.
func (w *walker) docFor(comments []*sitter.Node, decl *sitter.Node) string {
	if len(comments) == 0 {
		return ""
	}

	row := int(decl.StartPoint().Row)
	first := len(comments)
	for i := len(comments) - 1; i >= 0; i-- {
		if int(comments[i].EndPoint().Row)+1 < row {
			break
		}
		row = int(comments[i].StartPoint().Row)
		first = i
	}

	var parts []string
	for _, cm := range comments[first:] {
		if text := cleanComment(cm.Content(w.src)); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n")
}

func (w *walker) declaration(n *sitter.Node, doc string) {
	base, body := w.baseType(n, doc)
	if body != nil {
		if body.Name == "" {
			w.skip(n, "", "anonymous %s outside a typedef", body.Kind)
		} else {
			w.add(body)
		}
	}

	for _, dn := range childrenByField(n, "declarator") {
		name, t, err := w.declarator(dn, base)
		if err != nil {
			w.skip(n, name, "%v", err)
			continue
		}

		if t.Kind != KindFunc {
			w.skip(n, name, "variable declarations are not supported")
			continue
		}

		if t.Variadic {
			w.skip(n, name, "variadic function %s in %s is not supported", name, filepath.Base(w.file))
			continue
		}

		w.add(&Decl{
			Kind:   DeclFunction,
			Name:   name,
			Line:   line(n),
			Doc:    doc,
			Params: nameParams(t.Params),
			Result: *t.Elem,
		})
	}
}

func (w *walker) typeDefinition(n *sitter.Node, doc string) {
	base, body := w.baseType(n, doc)
	named := false

	for _, dn := range childrenByField(n, "declarator") {
		name, t, err := w.declarator(dn, base)
		if err != nil {
			w.skip(n, name, "%v", err)
			continue
		}

		// typedef struct [tag] { ... } name;
		if body != nil && !named && isIdentifier(dn) {
			if body.Name != "" {
				body.Alias = body.Key()
			}
			body.Name = name
			body.Tag = ""
			body.Doc = doc
			w.add(body)
			named = true
			base = Named(name)
			continue
		}

		w.add(&Decl{
			Kind:       DeclTypedef,
			Name:       name,
			Line:       line(n),
			Doc:        doc,
			Underlying: t,
		})
	}

	if body != nil && !named {
		if body.Name == "" {
			w.skip(n, "", "anonymous %s without a typedef name", body.Kind)
			return
		}
		w.add(body)
	}
}

// baseType returns the type specifier of a declaration-like node with its
// qualifiers applied. body is set when the specifier defines a struct or
// enum.
func (w *walker) baseType(n *sitter.Node, doc string) (CType, *Decl) {
	base, body := w.specifier(n.ChildByFieldName("type"), doc)

	for i := 0; i < int(n.NamedChildCount()); i++ {
		q := n.NamedChild(i)
		if q.Type() == "type_qualifier" && q.Content(w.src) == "const" {
			base.Const = true
		}
	}

	return base, body
}

func (w *walker) specifier(n *sitter.Node, doc string) (CType, *Decl) {
	if n == nil {
		return Scalar("int"), nil
	}

	text := strings.Join(strings.Fields(n.Content(w.src)), " ")

	switch n.Type() {
	case "primitive_type", "sized_type_specifier":
		return Scalar(text), nil

	case "type_identifier":
		if stdScalars[text] {
			return Scalar(text), nil
		}
		return Named(text), nil

	case "struct_specifier", "union_specifier", "enum_specifier":
		tag := strings.TrimSuffix(n.Type(), "_specifier")

		var name string
		if nn := n.ChildByFieldName("name"); nn != nil {
			name = nn.Content(w.src)
		}

		body := n.ChildByFieldName("body")
		if body == nil {
			return Tagged(tag, name), nil
		}

		var d *Decl
		switch tag {
		case "struct":
			d = w.structDecl(n, name, body)
		case "enum":
			d = w.enumDecl(n, name, body)
		default:
			w.skip(n, name, "unions are not supported")
			return Tagged(tag, name), nil
		}
		d.Doc = doc

		if name == "" {
			return Named(""), d
		}
		return Tagged(tag, name), d
	}

	return Named(text), nil
}

func (w *walker) structDecl(n *sitter.Node, name string, body *sitter.Node) *Decl {
	d := Decl{
		Kind: DeclStruct,
		Name: name,
		Tag:  "struct",
		Line: line(n),
	}
	if name == "" {
		d.Tag = ""
	}

	for i := 0; i < int(body.NamedChildCount()); i++ {
		fn := body.NamedChild(i)
		if fn.Type() != "field_declaration" {
			continue
		}

		if fn.ChildByFieldName("type") == nil {
			d.Unsupported = "field without a type"
			continue
		}

		base, nested := w.baseType(fn, "")
		if nested != nil {
			d.Unsupported = "nested struct or enum definition"
			continue
		}
		if base.Tag == "union" {
			d.Unsupported = "union field"
		}

		for j := 0; j < int(fn.NamedChildCount()); j++ {
			if fn.NamedChild(j).Type() == "bitfield_clause" {
				d.Unsupported = "bit-field"
			}
		}

		for _, dn := range childrenByField(fn, "declarator") {
			fname, t, err := w.declarator(dn, base)
			if err != nil {
				d.Unsupported = err.Error()
				continue
			}
			if t.Kind == KindArray && t.Len < 0 {
				d.Unsupported = "flexible array member " + fname
			}
			d.Fields = append(d.Fields, Field{Name: fname, Type: t})
		}
	}

	if d.Unsupported != "" {
		w.skip(n, name, "struct is not supported: %s", d.Unsupported)
	}

	return &d
}

func (w *walker) enumDecl(n *sitter.Node, name string, body *sitter.Node) *Decl {
	d := Decl{
		Kind: DeclEnum,
		Name: name,
		Tag:  "enum",
		Line: line(n),
	}
	if name == "" {
		d.Tag = ""
	}

	next := int64(0)
	for i := 0; i < int(body.NamedChildCount()); i++ {
		en := body.NamedChild(i)
		if en.Type() != "enumerator" {
			continue
		}

		vname := en.ChildByFieldName("name").Content(w.src)
		value := next
		if vn := en.ChildByFieldName("value"); vn != nil {
			v, err := w.constant(vn)
			if err != nil {
				w.warn(en, vname, "cannot evaluate enumerator value: %v", err)
			} else {
				value = v
			}
		}

		w.consts[vname] = value
		d.Values = append(d.Values, EnumValue{Name: vname, Value: value})
		next = value + 1
	}

	return &d
}

// declarator unwraps n around base and returns the declared name and type.
func (w *walker) declarator(n *sitter.Node, base CType) (string, CType, error) {
	if n == nil {
		return "", base, nil
	}

	switch n.Type() {
	case "identifier", "type_identifier", "field_identifier", "primitive_type":
		return n.Content(w.src), base, nil

	case "pointer_declarator", "abstract_pointer_declarator":
		p := PointerTo(base)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			q := n.NamedChild(i)
			if q.Type() == "type_qualifier" && q.Content(w.src) == "const" {
				p.Const = true
			}
		}
		return w.declarator(n.ChildByFieldName("declarator"), p)

	case "array_declarator", "abstract_array_declarator":
		size := -1
		if sn := n.ChildByFieldName("size"); sn != nil {
			v, err := w.constant(sn)
			if err != nil {
				return "", base, fmt.Errorf("array size %q: %w", sn.Content(w.src), err)
			}
			size = int(v)
		}
		return w.declarator(n.ChildByFieldName("declarator"), ArrayOf(base, size))

	case "function_declarator", "abstract_function_declarator":
		params, variadic, err := w.parameters(n.ChildByFieldName("parameters"))
		if err != nil {
			return "", base, err
		}
		fn := CType{Kind: KindFunc, Elem: &base, Params: params, Variadic: variadic}
		return w.declarator(n.ChildByFieldName("declarator"), fn)

	case "parenthesized_declarator", "abstract_parenthesized_declarator", "attributed_declarator":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			inner := n.NamedChild(i)
			if inner.Type() != "attribute_specifier" && inner.Type() != "comment" {
				return w.declarator(inner, base)
			}
		}
		return "", base, nil

	case "init_declarator":
		return w.declarator(n.ChildByFieldName("declarator"), base)
	}

	return "", base, fmt.Errorf("unsupported declarator %s", n.Type())
}

func (w *walker) parameters(n *sitter.Node) ([]Param, bool, error) {
	if n == nil {
		return nil, false, nil
	}

	var params []Param
	variadic := false

	for i := 0; i < int(n.ChildCount()); i++ {
		pn := n.Child(i)

		switch pn.Type() {
		case "...", "variadic_parameter":
			variadic = true

		case "parameter_declaration":
			base, _ := w.baseType(pn, "")
			name, t, err := w.declarator(pn.ChildByFieldName("declarator"), base)
			if err != nil {
				return nil, false, err
			}
			if t.Kind == KindArray {
				t = PointerTo(*t.Elem)
			}
			params = append(params, Param{Name: name, Type: t})
		}
	}

	// f(void)
	if len(params) == 1 && params[0].Name == "" && params[0].Type.IsVoid() {
		params = nil
	}

	return params, variadic, nil
}

// constant evaluates an integer constant expression using enumerators seen
// so far and object-like macros.
func (w *walker) constant(n *sitter.Node) (int64, error) {
	expr := strings.Join(strings.Fields(n.Content(w.src)), " ")

	toks, err := tokenizeExpr(expr)
	if err != nil {
		return 0, err
	}

	for i, t := range toks {
		if t.kind != tokIdent {
			continue
		}
		if v, ok := w.consts[t.text]; ok {
			toks[i] = exprToken{kind: tokNumber, text: t.text, val: v}
			continue
		}
		if _, ok := w.pp.macros[t.text]; ok {
			v, err := w.pp.eval(t.text, 0)
			if err != nil {
				return 0, err
			}
			toks[i] = exprToken{kind: tokNumber, text: t.text, val: v}
			continue
		}
		return 0, fmt.Errorf("unknown identifier %s", t.text)
	}

	p := exprParser{toks: toks}
	v, err := p.ternary()
	if err != nil {
		return 0, err
	}
	if p.pos != len(toks) {
		return 0, fmt.Errorf("unexpected %q in %q", toks[p.pos].text, expr)
	}

	return v, nil
}

func (w *walker) addDefines(defines []define) {
	for _, df := range defines {
		w.add(&Decl{
			Kind:  DeclConst,
			Name:  df.name,
			Line:  df.line,
			Value: df.value,
		})
	}
}

// add records d in the scope. Redeclarations keep the first declaration.
func (w *walker) add(d *Decl) {
	d.File = w.file
	d.Module = w.module

	if !w.scope.add(d.Key(), d) {
		return
	}
	if d.Alias != "" {
		w.scope.alias(d.Alias, d)
	}

	w.decls = append(w.decls, d)
}

func (w *walker) skip(n *sitter.Node, name string, format string, args ...any) {
	w.diags.Addf(diag.Skipped, w.file, line(n), name, format, args...)
}

func (w *walker) warn(n *sitter.Node, name string, format string, args ...any) {
	w.diags.Addf(diag.Warning, w.file, line(n), name, format, args...)
}

// declName returns the name declared by a function definition, if any.
func (w *walker) declName(n *sitter.Node) string {
	name, _, _ := w.declarator(n.ChildByFieldName("declarator"), CType{})
	return name
}

func childrenByField(n *sitter.Node, field string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.FieldNameForChild(i) == field {
			out = append(out, n.Child(i))
		}
	}
	return out
}

func isIdentifier(n *sitter.Node) bool {
	switch n.Type() {
	case "identifier", "type_identifier", "primitive_type":
		return true
	}
	return false
}

// nameParams gives unnamed parameters positional names.
func nameParams(params []Param) []Param {
	for i := range params {
		if params[i].Name == "" {
			params[i].Name = fmt.Sprintf("arg%d", i)
		}
	}
	return params
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	return s
}

// cleanComment strips comment markers and leading asterisks.
func cleanComment(text string) string {
	switch {
	case strings.HasPrefix(text, "/*"):
		text = strings.TrimSuffix(strings.TrimLeft(strings.TrimPrefix(text, "/*"), "*!"), "*/")
	case strings.HasPrefix(text, "//"):
		text = strings.TrimLeft(strings.TrimPrefix(text, "//"), "/!")
	}

	var lines []string
	for l := range strings.SplitSeq(text, "\n") {
		l = strings.TrimSpace(l)
		l = strings.TrimSpace(strings.TrimPrefix(l, "*"))
		lines = append(lines, l)
	}

	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return strings.Join(lines, "\n")
}
