package mapper

import "strings"

// scalarTypes maps canonical C scalar spellings to Go types. long is 64 bits
// wide, as on every LP64 platform the bindings load on.
var scalarTypes = map[string]string{
	"char":               "int8",
	"signed char":        "int8",
	"unsigned char":      "uint8",
	"short":              "int16",
	"unsigned short":     "uint16",
	"int":                "int32",
	"unsigned int":       "uint32",
	"long":               "int64",
	"unsigned long":      "uint64",
	"long long":          "int64",
	"unsigned long long": "uint64",
	"float":              "float32",
	"double":             "float64",
	"bool":               "bool",
	"wchar_t":            "int32",
	"int8_t":             "int8",
	"uint8_t":            "uint8",
	"int16_t":            "int16",
	"uint16_t":           "uint16",
	"int32_t":            "int32",
	"uint32_t":           "uint32",
	"int64_t":            "int64",
	"uint64_t":           "uint64",
	"intptr_t":           "int64",
	"uintptr_t":          "uint64",
	"size_t":             "uint64",
	"ssize_t":            "int64",
	"ptrdiff_t":          "int64",
	"off_t":              "int64",
	"time_t":             "int64",
}

// CanonicalScalar normalises the spelling of a builtin C type, so that
// "unsigned", "unsigned int" and "int unsigned" compare equal. Names that are
// not builtin type keywords are returned unchanged.
func CanonicalScalar(name string) string {
	words := strings.Fields(name)

	var sign, base string
	longs := 0
	for _, w := range words {
		switch w {
		case "signed", "unsigned":
			sign = w
		case "long":
			longs++
		case "int":
			if base == "" {
				base = w
			}
		case "short", "char", "float", "double", "void", "bool", "_Bool":
			base = w
		default:
			return strings.Join(words, " ")
		}
	}

	switch {
	case base == "_Bool":
		return "bool"
	case base == "char":
		if sign != "" {
			return sign + " char"
		}
		return "char"
	case base == "double" && longs > 0:
		return "long double"
	case base == "float", base == "double", base == "void", base == "bool":
		return base
	case base == "short":
	case longs == 1:
		base = "long"
	case longs >= 2:
		base = "long long"
	default:
		base = "int"
	}

	if sign == "unsigned" {
		return "unsigned " + base
	}
	return base
}
