package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type exprTokenKind int

const (
	tokNumber exprTokenKind = iota
	tokIdent
	tokOp
)

type exprToken struct {
	kind exprTokenKind
	text string
	val  int64
}

var exprOperators = []string{
	"||", "&&", "==", "!=", "<=", ">=", "<<", ">>",
	"+", "-", "*", "/", "%", "<", ">", "!", "~", "&", "|", "^", "?", ":", "(", ")", ",",
}

var binaryPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, ">": 7, "<=": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

var errFunctionMacro = errors.New("function-like macro in expression")

func tokenizeExpr(s string) ([]exprToken, error) {
	var toks []exprToken
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case isDigit(c):
			j := i
			for j < len(s) && (isIdentChar(s[j]) || s[j] == '.') {
				j++
			}
			v, err := parseIntLiteral(s[i:j])
			if err != nil {
				return nil, err
			}
			toks = append(toks, exprToken{kind: tokNumber, text: s[i:j], val: v})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			toks = append(toks, exprToken{kind: tokIdent, text: s[i:j]})
			i = j
		case c == '\'':
			j := strings.IndexByte(s[i+1:], '\'')
			if j < 0 {
				return nil, fmt.Errorf("unterminated character literal")
			}
			v, err := strconv.Unquote(s[i : i+j+2])
			if err != nil || len(v) == 0 {
				return nil, fmt.Errorf("bad character literal %s", s[i:i+j+2])
			}
			toks = append(toks, exprToken{kind: tokNumber, text: s[i : i+j+2], val: int64(v[0])})
			i += j + 2
		default:
			matched := false
			for _, op := range exprOperators {
				if strings.HasPrefix(s[i:], op) {
					toks = append(toks, exprToken{kind: tokOp, text: op})
					i += len(op)
					matched = true
					break
				}
			}
			if !matched {
				return nil, fmt.Errorf("unexpected character %q", c)
			}
		}
	}
	return toks, nil
}

// parseIntLiteral parses a C integer literal, ignoring u/l suffixes.
func parseIntLiteral(s string) (int64, error) {
	lit := strings.TrimRight(s, "uUlL")
	if len(lit) > 1 && lit[0] == '0' && lit[1] != 'x' && lit[1] != 'X' && lit[1] != 'b' && lit[1] != 'B' {
		lit = "0o" + lit[1:]
	}
	v, err := strconv.ParseInt(lit, 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(lit, 0, 64)
		if uerr != nil {
			return 0, fmt.Errorf("bad integer literal %q", s)
		}
		return int64(u), nil
	}
	return v, nil
}

type exprParser struct {
	toks []exprToken
	pos  int
}

func (p *exprParser) peek() (exprToken, bool) {
	if p.pos >= len(p.toks) {
		return exprToken{}, false
	}
	return p.toks[p.pos], true
}

func (p *exprParser) expect(op string) error {
	t, ok := p.peek()
	if !ok || t.kind != tokOp || t.text != op {
		return fmt.Errorf("expected %q", op)
	}
	p.pos++
	return nil
}

func (p *exprParser) ternary() (int64, error) {
	cond, err := p.binary(1)
	if err != nil {
		return 0, err
	}
	if t, ok := p.peek(); !ok || t.kind != tokOp || t.text != "?" {
		return cond, nil
	}
	p.pos++
	a, err := p.ternary()
	if err != nil {
		return 0, err
	}
	if err := p.expect(":"); err != nil {
		return 0, err
	}
	b, err := p.ternary()
	if err != nil {
		return 0, err
	}
	if cond != 0 {
		return a, nil
	}
	return b, nil
}

func (p *exprParser) binary(minPrec int) (int64, error) {
	lhs, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp {
			return lhs, nil
		}
		prec, isBinary := binaryPrec[t.text]
		if !isBinary || prec < minPrec {
			return lhs, nil
		}
		p.pos++
		rhs, err := p.binary(prec + 1)
		if err != nil {
			return 0, err
		}
		lhs, err = applyBinary(t.text, lhs, rhs)
		if err != nil {
			return 0, err
		}
	}
}

func (p *exprParser) unary() (int64, error) {
	t, ok := p.peek()
	if !ok {
		return 0, errors.New("unexpected end of expression")
	}
	p.pos++
	switch {
	case t.kind == tokNumber:
		return t.val, nil
	case t.kind == tokOp && t.text == "(":
		v, err := p.ternary()
		if err != nil {
			return 0, err
		}
		return v, p.expect(")")
	case t.kind == tokOp && (t.text == "!" || t.text == "~" || t.text == "-" || t.text == "+"):
		v, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch t.text {
		case "!":
			return boolInt(v == 0), nil
		case "~":
			return ^v, nil
		case "-":
			return -v, nil
		}
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected %q", t.text)
	}
}

func applyBinary(op string, a, b int64) (int64, error) {
	switch op {
	case "||":
		return boolInt(a != 0 || b != 0), nil
	case "&&":
		return boolInt(a != 0 && b != 0), nil
	case "|":
		return a | b, nil
	case "^":
		return a ^ b, nil
	case "&":
		return a & b, nil
	case "==":
		return boolInt(a == b), nil
	case "!=":
		return boolInt(a != b), nil
	case "<":
		return boolInt(a < b), nil
	case ">":
		return boolInt(a > b), nil
	case "<=":
		return boolInt(a <= b), nil
	case ">=":
		return boolInt(a >= b), nil
	case "<<":
		return a << uint64(b), nil
	case ">>":
		return a >> uint64(b), nil
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/", "%":
		if b == 0 {
			return 0, errors.New("division by zero")
		}
		if op == "/" {
			return a / b, nil
		}
		return a % b, nil
	}
	return 0, fmt.Errorf("unknown operator %q", op)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool { return isIdentStart(c) || isDigit(c) }
