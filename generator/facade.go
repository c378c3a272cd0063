package generator

import (
	"bytes"
	"fmt"
	"strings"
)

// FacadeFileName returns the file name of the facade. It is named after the
// library unless a module file already uses that name.
func (g *Generator) FacadeFileName(modules []string) string {
	base := strings.ToLower(toLowerCamel(g.cfg.Library))
	if base == "" {
		base = "library"
	}

	name := base + ".go"
	taken := name == "loader.go"
	for _, m := range modules {
		if fileName(m) == name {
			taken = true
		}
	}
	if taken {
		name = base + "_facade.go"
	}
	return name
}

// Facade generates the aggregate interface exposing one accessor per module,
// together with its native implementation and constructor.
func (g *Generator) Facade(modules []string) (File, error) {
	facade := g.cfg.Facade
	impl := "Native" + facade

	var buf bytes.Buffer

	buf.WriteString(header)
	fmt.Fprintf(&buf, "package %s\n\n", g.cfg.Package)

	fmt.Fprintf(&buf, "// %s gives access to every module of the %s library. Call Load\n", facade, g.cfg.Library)
	buf.WriteString("// before using any of them.\n")
	fmt.Fprintf(&buf, "type %s interface {\n", facade)
	for _, m := range modules {
		fmt.Fprintf(&buf, "\t%s() %sAPI\n", toGoName(m), toGoName(m))
	}
	buf.WriteString("}\n\n")

	fmt.Fprintf(&buf, "// %s is the %s backed by the loaded native library.\n", impl, facade)
	fmt.Fprintf(&buf, "type %s struct {\n", impl)
	for _, m := range modules {
		fmt.Fprintf(&buf, "\t%s %sAPI\n", paramName(m), toGoName(m))
	}
	buf.WriteString("}\n\n")

	fmt.Fprintf(&buf, "var _ %s = (*%s)(nil)\n\n", facade, impl)

	fmt.Fprintf(&buf, "func New() *%s {\n", impl)
	fmt.Fprintf(&buf, "\tf := &%s{}\n", impl)
	for _, m := range modules {
		fmt.Fprintf(&buf, "\tf.%s = New%sAPI(f)\n", paramName(m), toGoName(m))
	}
	buf.WriteString("\treturn f\n")
	buf.WriteString("}\n\n")

	for _, m := range modules {
		fmt.Fprintf(&buf, "func (f *%s) %s() %sAPI {\n", impl, toGoName(m), toGoName(m))
		fmt.Fprintf(&buf, "\treturn f.%s\n", paramName(m))
		buf.WriteString("}\n\n")
	}

	src, err := formatSource(buf.Bytes())
	if err != nil {
		return File{}, fmt.Errorf("formatting facade: %w", err)
	}

	return File{Name: g.FacadeFileName(modules), Source: src}, nil
}
