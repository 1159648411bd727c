package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tkEOF       tokenKind = iota
	tkIdent               // name or keyword
	tkDelimited           // `delimited identifier`
	tkString              // 'string'
	tkNumber              // 12, 1.5
	tkDateTime            // @2024-01-01, @2024-01-01T10:00:00Z
	tkTime                // @T10:00
	tkExternal            // %name, %`name`, %'name'
	tkSpecial             // $this, $index, $total
	tkOp                  // operators and punctuation
)

type token struct {
	kind  tokenKind
	value string
	pos   int // byte offset
}

func (t token) is(kind tokenKind, value string) bool {
	return t.kind == kind && t.value == value
}

// ParseError reports a malformed expression.
type ParseError struct {
	At  Location
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.At, e.Msg)
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) errorf(pos int, format string, args ...any) *ParseError {
	return &ParseError{At: locate(l.src, pos), Msg: fmt.Sprintf(format, args...)}
}

// locate converts a byte offset into a 1-based line and column.
func locate(src string, pos int) Location {
	if pos > len(src) {
		pos = len(src)
	}
	line := 1 + strings.Count(src[:pos], "\n")
	lineStart := strings.LastIndexByte(src[:pos], '\n') + 1
	return Location{Line: line, Position: utf8.RuneCountInString(src[lineStart:pos]) + 1}
}

func tokenize(src string) ([]token, error) {
	l := &lexer{src: src}
	var tokens []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.kind == tkEOF {
			return tokens, nil
		}
	}
}

var twoCharOps = []string{"<=", ">=", "!=", "!~"}

func (l *lexer) next() (token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}
	n := len(l.src)
	if l.pos >= n {
		return token{kind: tkEOF, pos: n}, nil
	}

	start := l.pos
	ch := l.src[start]
	switch {
	case ch == '\'':
		s, err := l.quoted('\'')
		return token{kind: tkString, value: s, pos: start}, err
	case ch == '`':
		s, err := l.quoted('`')
		return token{kind: tkDelimited, value: s, pos: start}, err
	case ch == '%':
		l.pos++
		if l.pos < n && (l.src[l.pos] == '`' || l.src[l.pos] == '\'') {
			s, err := l.quoted(l.src[l.pos])
			return token{kind: tkExternal, value: s, pos: start}, err
		}
		name := l.identifier()
		if name == "" {
			return token{}, l.errorf(start, "expected a name after '%%'")
		}
		return token{kind: tkExternal, value: name, pos: start}, nil
	case ch == '$':
		l.pos++
		name := l.identifier()
		switch name {
		case "this", "index", "total":
			return token{kind: tkSpecial, value: name, pos: start}, nil
		}
		return token{}, l.errorf(start, "unknown special variable '$%s'", name)
	case ch == '@':
		return l.dateTime()
	case isDigit(ch):
		return l.number(), nil
	case ch == '_' || isLetter(l.src[start:]):
		return token{kind: tkIdent, value: l.identifier(), pos: start}, nil
	}

	for _, op := range twoCharOps {
		if strings.HasPrefix(l.src[start:], op) {
			l.pos += 2
			return token{kind: tkOp, value: op, pos: start}, nil
		}
	}
	if strings.ContainsRune(".,()[]{}=~<>|+-*/&", rune(ch)) {
		l.pos++
		return token{kind: tkOp, value: string(ch), pos: start}, nil
	}
	return token{}, l.errorf(start, "unexpected character %q", string(ch))
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		rest := l.src[l.pos:]
		switch {
		case rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n' || rest[0] == '\r':
			l.pos++
		case strings.HasPrefix(rest, "//"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				l.pos = len(l.src)
			} else {
				l.pos += end + 1
			}
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest[2:], "*/")
			if end < 0 {
				return l.errorf(l.pos, "unterminated comment")
			}
			l.pos += end + 4
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) identifier() string {
	start := l.pos
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		l.pos += size
	}
	return l.src[start:l.pos]
}

func (l *lexer) quoted(quote byte) (string, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		switch {
		case ch == quote:
			l.pos++
			return sb.String(), nil
		case ch == '\\' && l.pos+1 < len(l.src):
			l.pos++
			switch esc := l.src[l.pos]; esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'f':
				sb.WriteByte('\f')
			case 'u':
				if l.pos+4 < len(l.src) {
					var r rune
					if _, err := fmt.Sscanf(l.src[l.pos+1:l.pos+5], "%04x", &r); err == nil {
						sb.WriteRune(r)
						l.pos += 4
						break
					}
				}
				sb.WriteByte(esc)
			default:
				sb.WriteByte(esc)
			}
			l.pos++
		default:
			sb.WriteByte(ch)
			l.pos++
		}
	}
	return "", l.errorf(start, "unterminated %c literal", quote)
}

func (l *lexer) number() token {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	// a '.' is only part of the number when a digit follows: 1.5 vs 1.toString()
	if l.pos+1 < len(l.src) && l.src[l.pos] == '.' && isDigit(l.src[l.pos+1]) {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	return token{kind: tkNumber, value: l.src[start:l.pos], pos: start}
}

func (l *lexer) dateTime() (token, error) {
	start := l.pos
	l.pos++ // '@'
	kind := tkDateTime
	if l.pos < len(l.src) && l.src[l.pos] == 'T' {
		kind = tkTime
	}
	valueStart := l.pos
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if isDigit(ch) || strings.IndexByte("-:T+Z.", ch) >= 0 {
			l.pos++
			continue
		}
		break
	}
	if l.pos == valueStart {
		return token{}, l.errorf(start, "expected a date or time after '@'")
	}
	return token{kind: kind, value: l.src[valueStart:l.pos], pos: start}, nil
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLetter(r)
}
