package expr

import (
	"fmt"
	"strings"
)

// binary operator precedence, higher binds tighter
var precedence = map[string]int{
	"implies":  1,
	"or":       2,
	"xor":      2,
	"and":      3,
	"in":       4,
	"contains": 4,
	"=":        5,
	"~":        5,
	"!=":       5,
	"!~":       5,
	"<":        6,
	">":        6,
	"<=":       6,
	">=":       6,
	"|":        7,
	"is":       8,
	"as":       8,
	"+":        9,
	"-":        9,
	"&":        9,
	"*":        10,
	"/":        10,
	"div":      10,
	"mod":      10,
}

var calendarUnits = map[string]bool{
	"year": true, "years": true, "month": true, "months": true,
	"week": true, "weeks": true, "day": true, "days": true,
	"hour": true, "hours": true, "minute": true, "minutes": true,
	"second": true, "seconds": true, "millisecond": true, "milliseconds": true,
}

func isCalendarUnit(unit string) bool {
	return calendarUnits[unit]
}

// Parse parses a FHIRPath expression.
// Errors are returned as *ParseError.
func Parse(src string) (Node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}
	if p.peek().kind == tkEOF {
		return nil, p.errorf(p.peek(), "empty expression")
	}
	n, err := p.expression(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tkEOF {
		return nil, p.errorf(tok, "unexpected %s", describe(tok))
	}
	return n, nil
}

// MustParse is like Parse but panics on error. It is intended for tests and
// package-level expressions.
func MustParse(src string) Node {
	n, err := Parse(src)
	if err != nil {
		panic(fmt.Sprintf("expr: Parse(%q): %v", src, err))
	}
	return n
}

type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *parser) loc(t token) Location {
	return locate(p.src, t.pos)
}

func (p *parser) errorf(t token, format string, args ...any) *ParseError {
	return &ParseError{At: p.loc(t), Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(op string) error {
	if tok := p.peek(); !tok.is(tkOp, op) {
		return p.errorf(tok, "expected '%s' but found %s", op, describe(tok))
	}
	p.advance()
	return nil
}

func describe(t token) string {
	switch t.kind {
	case tkEOF:
		return "end of expression"
	case tkString:
		return "string '" + t.value + "'"
	default:
		return "'" + t.value + "'"
	}
}

// infixOp returns the operator the token denotes in infix position.
func infixOp(t token) (string, bool) {
	switch t.kind {
	case tkOp, tkIdent:
		if _, ok := precedence[t.value]; ok {
			return t.value, true
		}
	}
	return "", false
}

func (p *parser) expression(minPrec int) (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		op, ok := infixOp(tok)
		if !ok || precedence[op] < minPrec {
			return left, nil
		}
		p.advance()

		var right Node
		if op == "is" || op == "as" {
			right, err = p.typeSpecifier()
		} else {
			right, err = p.expression(precedence[op] + 1)
		}
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right, At: p.loc(tok)}
	}
}

func (p *parser) typeSpecifier() (Node, error) {
	start := p.peek()
	var parts []string
	for {
		tok := p.peek()
		if tok.kind != tkIdent && tok.kind != tkDelimited {
			return nil, p.errorf(tok, "expected a type name but found %s", describe(tok))
		}
		p.advance()
		parts = append(parts, tok.value)
		if !p.peek().is(tkOp, ".") {
			break
		}
		p.advance()
	}
	return &Constant{Kind: ConstTypeSpecifier, Value: strings.Join(parts, "."), At: p.loc(start)}, nil
}

func (p *parser) unary() (Node, error) {
	tok := p.peek()
	if tok.is(tkOp, "+") || tok.is(tkOp, "-") {
		p.advance()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: tok.value, Operand: operand, At: p.loc(tok)}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (Node, error) {
	n, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		switch {
		case tok.is(tkOp, "."):
			p.advance()
			name := p.peek()
			if name.kind != tkIdent && name.kind != tkDelimited {
				return nil, p.errorf(name, "expected a name after '.' but found %s", describe(name))
			}
			p.advance()
			if name.kind == tkIdent && p.peek().is(tkOp, "(") {
				args, err := p.arguments()
				if err != nil {
					return nil, err
				}
				n = &Call{Focus: n, Name: name.value, Args: args, At: p.loc(name)}
				continue
			}
			n = &Child{Focus: n, Name: name.value, At: p.loc(name)}
		case tok.is(tkOp, "["):
			p.advance()
			index, err := p.expression(0)
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			n = &Indexer{Focus: n, Index: index, At: p.loc(tok)}
		default:
			return n, nil
		}
	}
}

func (p *parser) primary() (Node, error) {
	tok := p.peek()
	at := p.loc(tok)

	switch tok.kind {
	case tkString:
		p.advance()
		return &Constant{Kind: ConstString, Value: tok.value, At: at}, nil
	case tkNumber:
		p.advance()
		return p.numberOrQuantity(tok, at), nil
	case tkDateTime:
		p.advance()
		kind := ConstDate
		if strings.Contains(tok.value, "T") {
			kind = ConstDateTime
		}
		return &Constant{Kind: kind, Value: tok.value, At: at}, nil
	case tkTime:
		p.advance()
		return &Constant{Kind: ConstTime, Value: tok.value, At: at}, nil
	case tkExternal:
		p.advance()
		return &Variable{Name: tok.value, External: true, At: at}, nil
	case tkSpecial:
		p.advance()
		return &Variable{Name: tok.value, At: at}, nil
	case tkIdent, tkDelimited:
		p.advance()
		if tok.kind == tkIdent && (tok.value == "true" || tok.value == "false") {
			return &Constant{Kind: ConstBoolean, Value: tok.value, At: at}, nil
		}
		this := &Variable{Name: "this", Implicit: true, At: at}
		if tok.kind == tkIdent && p.peek().is(tkOp, "(") {
			args, err := p.arguments()
			if err != nil {
				return nil, err
			}
			return &Call{Focus: this, Name: tok.value, Args: args, At: at}, nil
		}
		return &Child{Focus: this, Name: tok.value, At: at}, nil
	case tkOp:
		switch tok.value {
		case "(":
			p.advance()
			inner, err := p.expression(0)
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "{":
			return p.nodeList()
		}
	}
	return nil, p.errorf(tok, "unexpected %s", describe(tok))
}

func (p *parser) numberOrQuantity(tok token, at Location) Node {
	kind := ConstInteger
	if strings.Contains(tok.value, ".") {
		kind = ConstDecimal
	}
	next := p.peek()
	switch {
	case next.kind == tkString:
		p.advance()
		return &Constant{Kind: ConstQuantity, Value: tok.value, Unit: next.value, At: at}
	case next.kind == tkIdent && calendarUnits[next.value]:
		p.advance()
		return &Constant{Kind: ConstQuantity, Value: tok.value, Unit: next.value, At: at}
	}
	return &Constant{Kind: kind, Value: tok.value, At: at}
}

func (p *parser) arguments() ([]Node, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var args []Node
	if p.peek().is(tkOp, ")") {
		p.advance()
		return args, nil
	}
	for {
		arg, err := p.expression(0)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().is(tkOp, ",") {
			p.advance()
			continue
		}
		return args, p.expect(")")
	}
}

func (p *parser) nodeList() (Node, error) {
	open := p.advance()
	list := &NodeList{At: p.loc(open)}
	if p.peek().is(tkOp, "}") {
		p.advance()
		return list, nil
	}
	for {
		item, err := p.expression(0)
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)
		if p.peek().is(tkOp, ",") {
			p.advance()
			continue
		}
		return list, p.expect("}")
	}
}
