package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ardanlabs/ffi-bindgen/diag"
)

var blockCommentRe = regexp.MustCompile(`/\*[\s\S]*?\*/`)
var lineCommentRe = regexp.MustCompile(`//[^\n]*`)
var intLiteralRe = regexp.MustCompile(`^\(?\s*-?\s*(?:0[xX][0-9a-fA-F]+|[0-9]+)[uUlL]*\s*\)?$`)
var stringLiteralRe = regexp.MustCompile(`^"(?:[^"\\]|\\.)*"$`)
var attributeOnlyRe = regexp.MustCompile(`^(?:(?:__attribute__|__attribute|__declspec)\s*\(.*\)\s*)+$`)

// keywordNoise are compiler extensions tree-sitter does not need to see.
var keywordNoise = map[string]bool{
	"__extension__": true,
	"__restrict":    true,
	"__restrict__":  true,
	"__inline":      true,
	"__inline__":    true,
	"__cdecl":       true,
	"__stdcall":     true,
}

// attributeCalls are extensions whose parenthesised argument is dropped
// along with the keyword.
var attributeCalls = map[string]bool{
	"__attribute__": true,
	"__attribute":   true,
	"__declspec":    true,
	"__asm__":       true,
	"__asm":         true,
}

// sourceFile is one preprocessed file of an include closure.
type sourceFile struct {
	path    string
	src     []byte
	defines []define
}

// define is a #define whose body is a plain integer or string literal.
type define struct {
	name  string
	value string
	line  int
}

// preprocessor expands the include closure of a header. Directive lines and
// inactive regions are blanked so rows keep their original line numbers.
type preprocessor struct {
	includeDirs []string
	macros      map[string]string
	funcMacros  map[string]string
	visited     map[string]bool
	files       []*sourceFile
	diags       diag.List
}

func newPreprocessor(includeDirs []string, defines map[string]string) *preprocessor {
	pp := preprocessor{
		includeDirs: includeDirs,
		macros:      make(map[string]string),
		funcMacros:  make(map[string]string),
		visited:     make(map[string]bool),
	}
	for name, value := range defines {
		pp.macros[name] = value
	}
	return &pp
}

// run preprocesses path and everything it includes. Files are returned in
// post-order: every include precedes the file that includes it.
func (pp *preprocessor) run(ctx context.Context, path string) ([]*sourceFile, error) {
	if err := pp.include(ctx, path); err != nil {
		return nil, err
	}
	return pp.files, nil
}

func (pp *preprocessor) include(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := filepath.Abs(path)
	if err != nil {
		key = path
	}
	if pp.visited[key] {
		return nil
	}
	pp.visited[key] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return &FileError{Path: path, Err: err}
	}

	sf := sourceFile{path: path}
	lines := strings.Split(normalizeNewlines(string(data)), "\n")

	var conds condStack
	inComment := false

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if !inComment && strings.HasPrefix(strings.TrimSpace(line), "#") {
			start := i
			full := strings.TrimRight(line, " \t")
			for strings.HasSuffix(full, "\\") && i+1 < len(lines) {
				i++
				full = strings.TrimSuffix(full, "\\") + " " + strings.TrimSpace(lines[i])
				full = strings.TrimRight(full, " \t")
			}
			for j := start; j <= i; j++ {
				lines[j] = ""
			}

			if err := pp.directive(ctx, &sf, &conds, removeComments(full), start+1); err != nil {
				return err
			}
			continue
		}

		inComment = scanComment(line, inComment)
		if !conds.active() {
			lines[i] = ""
		}
	}

	if len(conds) > 0 {
		pp.diags.Addf(diag.Warning, path, len(lines), "", "%d unterminated conditional block(s)", len(conds))
	}

	sf.src = []byte(pp.blankExtensions(strings.Join(lines, "\n")))
	pp.files = append(pp.files, &sf)

	return nil
}

func (pp *preprocessor) directive(ctx context.Context, sf *sourceFile, conds *condStack, text string, line int) error {
	name, arg := parseDirective(text)

	switch name {
	case "ifdef":
		conds.push(pp.defined(arg))
		return nil
	case "ifndef":
		conds.push(!pp.defined(arg))
		return nil
	case "if":
		conds.push(conds.active() && pp.condition(arg))
		return nil
	case "elif":
		conds.elif(conds.pending() && pp.condition(arg))
		return nil
	case "else":
		conds.toggle()
		return nil
	case "endif":
		conds.pop()
		return nil
	}

	if !conds.active() {
		return nil
	}

	switch name {
	case "define":
		pp.define(sf, arg, line)
	case "undef":
		delete(pp.macros, arg)
		delete(pp.funcMacros, arg)
	case "include", "include_next":
		target, err := pp.resolveInclude(arg, sf.path, line)
		if err != nil {
			return err
		}
		return pp.include(ctx, target)
	case "error":
		pp.diags.Addf(diag.Warning, sf.path, line, "", "#error %s", arg)
	}

	return nil
}

func (pp *preprocessor) defined(name string) bool {
	name = strings.TrimSpace(name)
	if _, ok := pp.macros[name]; ok {
		return true
	}
	_, ok := pp.funcMacros[name]
	return ok
}

// condition evaluates a #if expression. Expressions that cannot be evaluated
// count as false.
func (pp *preprocessor) condition(expr string) bool {
	v, err := pp.eval(expr, 0)
	return err == nil && v != 0
}

func (pp *preprocessor) eval(expr string, depth int) (int64, error) {
	if depth > 16 {
		return 0, fmt.Errorf("macro expansion too deep in %q", expr)
	}

	toks, err := tokenizeExpr(expr)
	if err != nil {
		return 0, err
	}

	var out []exprToken
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tokIdent {
			out = append(out, t)
			continue
		}

		switch {
		case t.text == "defined":
			name, next, err := definedOperand(toks, i+1)
			if err != nil {
				return 0, err
			}
			out = append(out, exprToken{kind: tokNumber, text: name, val: boolInt(pp.defined(name))})
			i = next - 1

		case i+1 < len(toks) && toks[i+1].kind == tokOp && toks[i+1].text == "(":
			return 0, fmt.Errorf("%w: %s", errFunctionMacro, t.text)

		default:
			var v int64
			if body, ok := pp.macros[t.text]; ok && strings.TrimSpace(body) != "" {
				if v, err = pp.eval(body, depth+1); err != nil {
					return 0, err
				}
			}
			out = append(out, exprToken{kind: tokNumber, text: t.text, val: v})
		}
	}

	p := exprParser{toks: out}
	v, err := p.ternary()
	if err != nil {
		return 0, err
	}
	if p.pos != len(out) {
		return 0, fmt.Errorf("unexpected %q in %q", out[p.pos].text, expr)
	}
	return v, nil
}

func definedOperand(toks []exprToken, i int) (string, int, error) {
	if i < len(toks) && toks[i].kind == tokIdent {
		return toks[i].text, i + 1, nil
	}
	if i+2 < len(toks) && toks[i].text == "(" && toks[i+1].kind == tokIdent && toks[i+2].text == ")" {
		return toks[i+1].text, i + 3, nil
	}
	return "", 0, fmt.Errorf("malformed defined operator")
}

func (pp *preprocessor) define(sf *sourceFile, arg string, line int) {
	name, params, body, ok := splitDefine(arg)
	if !ok {
		return
	}

	if params {
		delete(pp.macros, name)
		pp.funcMacros[name] = body
		return
	}

	delete(pp.funcMacros, name)
	pp.macros[name] = body

	if intLiteralRe.MatchString(body) || stringLiteralRe.MatchString(body) {
		sf.defines = append(sf.defines, define{name: name, value: body, line: line})
	}
}

// splitDefine splits the argument of a #define into the macro name and its
// body. params reports a function-like macro.
func splitDefine(arg string) (name string, params bool, body string, ok bool) {
	i := 0
	for i < len(arg) && isIdentChar(arg[i]) {
		i++
	}
	if i == 0 || !isIdentStart(arg[0]) {
		return "", false, "", false
	}
	name = arg[:i]
	rest := arg[i:]

	if strings.HasPrefix(rest, "(") {
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return "", false, "", false
		}
		return name, true, strings.TrimSpace(rest[end+1:]), true
	}

	return name, false, strings.TrimSpace(rest), true
}

// resolveInclude finds the file an #include names. Quoted includes search the
// including file's directory first, then the include dirs in order.
func (pp *preprocessor) resolveInclude(arg, from string, line int) (string, error) {
	spec := strings.TrimSpace(arg)
	if body, ok := pp.macros[spec]; ok {
		spec = strings.TrimSpace(body)
	}

	var name string
	var dirs []string

	switch {
	case strings.HasPrefix(spec, "<") && strings.HasSuffix(spec, ">"):
		name = strings.TrimSuffix(strings.TrimPrefix(spec, "<"), ">")
		dirs = pp.includeDirs

	case strings.HasPrefix(spec, `"`) && strings.HasSuffix(spec, `"`) && len(spec) > 1:
		name = strings.Trim(spec, `"`)
		dirs = append([]string{filepath.Dir(from)}, pp.includeDirs...)

	default:
		return "", &IncludeError{Include: arg, From: from, Line: line, SearchPath: pp.includeDirs}
	}

	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", &IncludeError{Include: spec, From: from, Line: line, SearchPath: dirs}
}

// blankExtensions overwrites compiler extensions and marker macros with
// spaces. Comments and string literals are left alone.
func (pp *preprocessor) blankExtensions(src string) string {
	b := []byte(src)

	for i := 0; i < len(b); {
		switch {
		case b[i] == '/' && i+1 < len(b) && b[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return string(b)
			}
			i += end + 4

		case b[i] == '/' && i+1 < len(b) && b[i+1] == '/':
			for i < len(b) && b[i] != '\n' {
				i++
			}

		case b[i] == '"' || b[i] == '\'':
			quote := b[i]
			i++
			for i < len(b) && b[i] != quote && b[i] != '\n' {
				if b[i] == '\\' {
					i++
				}
				i++
			}
			i++

		case isIdentStart(b[i]):
			start := i
			for i < len(b) && isIdentChar(b[i]) {
				i++
			}
			word := src[start:i]

			switch {
			case keywordNoise[word]:
				blank(b, start, i)
			case attributeCalls[word]:
				i = blankCall(b, start, i)
			case pp.isMarker(word):
				blank(b, start, i)
			case pp.isFuncMarker(word):
				i = blankCall(b, start, i)
			}

		default:
			i++
		}
	}

	return string(b)
}

// isMarker reports an object-like macro that expands to nothing the parser
// needs, such as LIBIMOBILEDEVICE_API.
func (pp *preprocessor) isMarker(name string) bool {
	body, ok := pp.macros[name]
	if !ok {
		return false
	}
	body = removeComments(body)
	return strings.TrimSpace(body) == "" || attributeOnlyRe.MatchString(body) || keywordNoise[body]
}

func (pp *preprocessor) isFuncMarker(name string) bool {
	body, ok := pp.funcMacros[name]
	if !ok {
		return false
	}
	body = strings.TrimSpace(removeComments(body))
	return body == "" || attributeOnlyRe.MatchString(body)
}

// blankCall blanks the identifier b[start:end] and, when present, the
// balanced parenthesised argument list that follows it.
func blankCall(b []byte, start, end int) int {
	i := end
	for i < len(b) && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	if i >= len(b) || b[i] != '(' {
		blank(b, start, end)
		return end
	}

	depth := 0
	for ; i < len(b); i++ {
		switch b[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 {
			i++
			break
		}
	}

	blank(b, start, i)
	return i
}

// blank replaces b[start:end] with spaces, keeping newlines.
func blank(b []byte, start, end int) {
	for i := start; i < end && i < len(b); i++ {
		if b[i] != '\n' {
			b[i] = ' '
		}
	}
}

// scanComment reports whether line ends inside a block comment, given
// whether it started inside one.
func scanComment(line string, inComment bool) bool {
	for i := 0; i < len(line); i++ {
		if inComment {
			if line[i] == '*' && i+1 < len(line) && line[i+1] == '/' {
				inComment = false
				i++
			}
			continue
		}
		if line[i] == '/' && i+1 < len(line) {
			switch line[i+1] {
			case '/':
				return false
			case '*':
				inComment = true
				i++
			}
		}
	}
	return inComment
}

func parseDirective(line string) (string, string) {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "#"))

	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", ""
	}

	return parts[0], strings.Join(parts[1:], " ")
}

func removeComments(s string) string {
	s = blockCommentRe.ReplaceAllString(s, "")
	s = lineCommentRe.ReplaceAllString(s, "")

	return s
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	return s
}

// condFrame is one level of #if nesting.
type condFrame struct {
	parent    bool
	active    bool
	satisfied bool
}

type condStack []condFrame

func (s condStack) active() bool {
	return len(s) == 0 || s[len(s)-1].active
}

// pending reports whether an #elif at the top level could still be taken.
func (s condStack) pending() bool {
	if len(s) == 0 {
		return false
	}
	top := s[len(s)-1]
	return top.parent && !top.satisfied
}

func (s *condStack) push(include bool) {
	parent := s.active()
	*s = append(*s, condFrame{parent: parent, active: parent && include, satisfied: include})
}

func (s *condStack) elif(include bool) {
	if len(*s) == 0 {
		return
	}
	top := &(*s)[len(*s)-1]
	top.active = top.parent && !top.satisfied && include
	top.satisfied = top.satisfied || include
}

func (s *condStack) toggle() {
	if len(*s) == 0 {
		return
	}
	top := &(*s)[len(*s)-1]
	top.active = top.parent && !top.satisfied
	top.satisfied = true
}

func (s *condStack) pop() {
	if len(*s) > 0 {
		*s = (*s)[:len(*s)-1]
	}
}
