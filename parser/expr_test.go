package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	pp := newPreprocessor(nil, map[string]string{
		"LEVEL":   "2",
		"ALIAS":   "LEVEL",
		"EMPTY":   "",
		"VERSION": "(LEVEL * 100 + 3)",
	})

	tests := map[string]int64{
		"LEVEL > 1":                         1,
		"defined(LEVEL) && !defined(OTHER)": 1,
		"defined LEVEL":                     1,
		"defined(EMPTY)":                    1,
		"UNKNOWN":                           0,
		"ALIAS == 2":                        1,
		"VERSION":                           203,
		"(LEVEL + 3) * 2":                   10,
		"LEVEL ? 5 : 6":                     5,
		"0x10 == 16":                        1,
		"010":                               8,
		"'a'":                               97,
		"-1 < 0":                            1,
		"~0":                                -1,
		"1 << 4 | 1":                        17,
		"1 | 2 == 2":                        1,
		"7 % 4 + 10 / 3":                    6,
		"100UL >= 99L":                      1,
	}

	for expr, want := range tests {
		t.Run(expr, func(t *testing.T) {
			got, err := pp.eval(expr, 0)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	pp := newPreprocessor(nil, map[string]string{"SELF": "SELF + 1"})

	_, err := pp.eval("__GNUC_PREREQ(4, 2)", 0)
	assert.True(t, errors.Is(err, errFunctionMacro))

	for _, expr := range []string{"1 / 0", "(1 + 2", "1 +", "SELF", "1 $ 2", "defined("} {
		_, err := pp.eval(expr, 0)
		assert.Error(t, err, expr)
		assert.False(t, pp.condition(expr), expr)
	}
}

func TestCondStack(t *testing.T) {
	var s condStack

	s.push(false)
	assert.False(t, s.active())
	assert.True(t, s.pending())

	s.elif(true)
	assert.True(t, s.active())

	s.push(true)
	assert.True(t, s.active())
	s.pop()

	s.elif(true)
	assert.False(t, s.active(), "an earlier branch was taken")

	s.toggle()
	assert.False(t, s.active())

	s.pop()
	assert.True(t, s.active())

	s.push(false)
	s.push(true)
	assert.False(t, s.active(), "a nested block inside an inactive one stays inactive")
	s.toggle()
	assert.False(t, s.active())
}

func TestBlankExtensions(t *testing.T) {
	pp := newPreprocessor(nil, map[string]string{
		"API":        "",
		"VISIBLE":    `__attribute__((visibility("default")))`,
		"NOT_MARKER": "int",
	})
	pp.funcMacros["DEPRECATED"] = "__attribute__((deprecated(msg)))"

	src := "API VISIBLE int f(void) __attribute__((nonnull(1)));\n" +
		"DEPRECATED(\"x\") NOT_MARKER g(char *__restrict p); /* API */"

	got := pp.blankExtensions(src)

	assert.Len(t, got, len(src))
	assert.Equal(t, "int f(void)", normalizeSpace(got[:len("API VISIBLE int f(void) __attribute__((nonnull(1)))")]))
	assert.Contains(t, got, "NOT_MARKER g(char *")
	assert.Contains(t, got, "/* API */")
	assert.NotContains(t, got, "DEPRECATED")
	assert.NotContains(t, got, "__restrict")
}

func normalizeSpace(s string) string {
	var out []byte
	space := false
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '\n' {
			space = len(out) > 0
			continue
		}
		if space {
			out = append(out, ' ')
			space = false
		}
		out = append(out, s[i])
	}
	return string(out)
}
