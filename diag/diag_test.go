package diag

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnosticString(t *testing.T) {
	d := Diagnostic{Severity: Skipped, File: "foo.h", Line: 12, Decl: "foo_printf", Message: "variadic functions are not supported"}
	assert.Equal(t, "foo.h:12: skipped: foo_printf: variadic functions are not supported", d.String())

	d = Diagnostic{Severity: Warning, File: "foo.h", Message: "no line"}
	assert.Equal(t, "foo.h: warning: no line", d.String())
}

func TestListFilterAndLog(t *testing.T) {
	var l List
	l.Addf(Info, "a.h", 1, "x", "ignored %s", "variable")
	l.Addf(Warning, "a.h", 2, "y", "raw address")
	l.Addf(Skipped, "b.h", 3, "z", "variadic")

	require.Len(t, l, 3)
	assert.Len(t, l.Filter(Warning), 1)
	assert.Equal(t, "z", l.Filter(Skipped)[0].Decl)
	assert.Equal(t, "ignored variable", l[0].Message)

	var buf bytes.Buffer
	l.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	out := buf.String()
	assert.NotContains(t, out, "ignored variable")
	assert.Contains(t, out, "decl=y")
	assert.Contains(t, out, "file=b.h")
}
