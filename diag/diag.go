// Package diag collects the non-fatal diagnostics produced while generating
// bindings. Every diagnostic names the header file and, when there is one, the
// declaration it concerns.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type Severity int

const (
	// Info records a declaration that was intentionally ignored.
	Info Severity = iota
	// Warning records a mapping that fell back to a less precise representation.
	Warning
	// Skipped records a declaration that could not be represented and was dropped.
	Skipped
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

type Diagnostic struct {
	Severity Severity
	File     string
	Line     int
	Decl     string
	Message  string
}

func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.File)
	if d.Line > 0 {
		fmt.Fprintf(&b, ":%d", d.Line)
	}
	b.WriteString(": ")
	b.WriteString(d.Severity.String())
	b.WriteString(": ")
	if d.Decl != "" {
		b.WriteString(d.Decl)
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	return b.String()
}

// List is an ordered collection of diagnostics.
type List []Diagnostic

func (l *List) Add(d Diagnostic) {
	*l = append(*l, d)
}

func (l *List) Addf(sev Severity, file string, line int, decl, format string, args ...any) {
	l.Add(Diagnostic{
		Severity: sev,
		File:     file,
		Line:     line,
		Decl:     decl,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Filter returns the diagnostics of the given severity.
func (l List) Filter(sev Severity) List {
	var out List
	for _, d := range l {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

// Log writes every diagnostic to logger. Info diagnostics are logged at debug
// level, everything else as warnings.
func (l List) Log(logger *slog.Logger) {
	for _, d := range l {
		level := slog.LevelWarn
		if d.Severity == Info {
			level = slog.LevelDebug
		}
		logger.Log(context.Background(), level, d.Message,
			"severity", d.Severity.String(),
			"file", d.File,
			"line", d.Line,
			"decl", d.Decl,
		)
	}
}
