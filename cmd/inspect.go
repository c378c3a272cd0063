package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ardanlabs/ffi-bindgen/diag"
	"github.com/ardanlabs/ffi-bindgen/envconfig"
	"github.com/ardanlabs/ffi-bindgen/mapper"
	"github.com/ardanlabs/ffi-bindgen/parser"
)

func InspectHandler(cmd *cobra.Command, args []string) error {
	include, _ := cmd.Flags().GetStringSlice("include")
	defines, _ := cmd.Flags().GetStringToString("define")
	include = append(include, envconfig.IncludeDirs...)

	// Each header is inspected on its own, so declarations of included
	// headers are listed with the header that declares them.
	ex := parser.NewExtractor(include, defines, nil)

	out := cmd.OutOrStdout()
	for i, path := range args {
		m, err := ex.Extract(cmd.Context(), path, "")
		if err != nil {
			return err
		}

		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s (module %s)\n\n", path, m.Name)
		printDecls(out, m)

		diags := m.Diagnostics
		mp := mapper.New(m.Scope)
		for _, d := range m.Functions() {
			_, fd := mp.MapFunction(d)
			diags = append(diags, fd...)
		}
		if len(diags) > 0 {
			fmt.Fprintln(out)
			printDiagnostics(out, diags)
		}
	}

	return nil
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// printDecls lists the declarations of m with the Go shape each one maps to.
func printDecls(w io.Writer, m *parser.Module) {
	mp := mapper.New(m.Scope)

	var data [][]string
	for _, d := range m.Decls {
		data = append(data, []string{
			d.Kind.String(),
			d.Name,
			strconv.Itoa(d.Line),
			d.Signature(),
			describe(mp, d),
		})
	}

	table := newTable(w)
	table.SetHeader([]string{"KIND", "NAME", "LINE", "DECLARATION", "MAPPING"})
	table.AppendBulk(data)
	table.Render()
}

func printDiagnostics(w io.Writer, diags diag.List) {
	var data [][]string
	for _, d := range diags {
		data = append(data, []string{d.Severity.String(), strconv.Itoa(d.Line), d.Decl, d.Message})
	}

	table := newTable(w)
	table.SetHeader([]string{"SEVERITY", "LINE", "DECL", "MESSAGE"})
	table.AppendBulk(data)
	table.Render()
}

// describe summarises how a declaration maps to Go.
func describe(mp *mapper.Mapper, d *parser.Decl) string {
	switch d.Kind {
	case parser.DeclFunction:
		sig, _ := mp.MapFunction(d)
		if sig.Unsupported != "" {
			return "skipped: " + sig.Unsupported
		}
		return describeSignature(sig)

	case parser.DeclEnum:
		if mapper.IsStatus(d) {
			return "status"
		}
		return "enum"

	case parser.DeclOpaque:
		return "handle"

	case parser.DeclStruct:
		if err := mp.CheckStruct(d); err != nil {
			return "skipped: " + err.Error()
		}
		return "struct"

	case parser.DeclTypedef:
		if mapper.IsCallback(d) {
			return "callback"
		}
		return mp.Map(d.Underlying).String()

	case parser.DeclConst:
		return "const"
	}
	return ""
}

func describeSignature(sig mapper.Signature) string {
	var parts []string

	var in []string
	for _, a := range sig.Inputs() {
		in = append(in, a.Name+" "+describeArg(a))
	}
	parts = append(parts, "in("+strings.Join(in, ", ")+")")

	var out []string
	if sig.Result.Kind != mapper.Void {
		out = append(out, sig.Result.String())
	}
	for _, a := range sig.Outputs() {
		out = append(out, a.Name+" "+describeArg(a))
	}
	if len(out) > 0 {
		parts = append(parts, "out("+strings.Join(out, ", ")+")")
	}

	if sig.Release {
		parts = append(parts, "release")
	}

	return strings.Join(parts, " ")
}

func describeArg(a mapper.Arg) string {
	if a.Buffer != mapper.NoBuffer {
		return "buffer " + a.Buffer.String()
	}
	return a.Type.String()
}
