package generator

import (
	"go/token"
	"strings"
	"unicode"
)

var acronyms = map[string]bool{
	"id": true, "url": true, "api": true, "http": true, "json": true, "xml": true,
	"sql": true, "io": true, "ip": true, "tcp": true, "udp": true, "usb": true,
	"ssl": true, "uid": true,
}

// toGoName converts a C identifier to an exported Go identifier.
func toGoName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var result strings.Builder
	for _, part := range parts {
		if acronyms[strings.ToLower(part)] {
			result.WriteString(strings.ToUpper(part))
			continue
		}
		result.WriteString(strings.ToUpper(part[:1]))
		if strings.ToUpper(part) == part {
			result.WriteString(strings.ToLower(part[1:]))
		} else {
			// Keep the casing of camelCase parts such as profileID.
			result.WriteString(part[1:])
		}
	}

	s := result.String()
	if s != "" && unicode.IsDigit(rune(s[0])) {
		s = "X" + s
	}
	return s
}

// toLowerCamel converts a C identifier to an unexported Go identifier.
func toLowerCamel(name string) string {
	goName := toGoName(strings.TrimLeft(name, "_"))
	if goName == "" {
		return ""
	}

	// Lower the whole leading acronym: "ID" becomes "id", not "iD".
	runes := []rune(goName)
	for i := 0; i < len(runes) && unicode.IsUpper(runes[i]); i++ {
		if i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			break
		}
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

// typeName is the Go name of a C type; the conventional _t suffix is dropped.
func typeName(cName string) string {
	return toGoName(strings.TrimSuffix(cName, "_t"))
}

func handleName(opaque string) string {
	return typeName(opaque) + "Handle"
}

// reservedParams are names a wrapper parameter must not take because the
// wrapper body refers to them.
var reservedParams = map[string]bool{
	"api": true, "rv": true, "len": true, "native": true, "ffi": true,
	"unsafe": true, "runtime": true, "fmt": true, "string": true, "byte": true, "uintptr": true,
	"nil": true, "true": true, "false": true, "err": true,
}

// paramName converts a C parameter name to a Go parameter name that does not
// collide with keywords or the identifiers the wrapper body uses.
func paramName(name string) string {
	p := toLowerCamel(name)
	if p == "" {
		p = "arg"
	}
	if token.IsKeyword(p) || reservedParams[p] {
		p += "_"
	}
	return p
}

// goosSuffixes are file name suffixes the go tool treats as build constraints.
var goosSuffixes = []string{
	"_test", "_linux", "_darwin", "_windows", "_freebsd", "_netbsd", "_openbsd",
	"_android", "_ios", "_js", "_wasip1", "_plan9", "_solaris", "_aix",
	"_amd64", "_arm64", "_386", "_arm", "_wasm", "_riscv64",
}

// fileName returns the generated file name of a module.
func fileName(module string) string {
	for _, s := range goosSuffixes {
		if strings.HasSuffix(module, s) {
			return module + "_bindings.go"
		}
	}
	if module == "loader" {
		return "loader_module.go"
	}
	return module + ".go"
}
