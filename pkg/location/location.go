// Package location finds line and column positions in JSON source.
//
// Issues about a FHIRPath expression carry a position relative to the
// expression text. When the expression was read from a JSON document,
// such as a SearchParameter bundle, Relocate turns those positions into
// positions in the document.
package location

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/gofhir/pathcheck/pkg/issue"
)

// Find returns the position of the value at path in data, or nil when the
// path does not exist.
//
// Paths are JSON member names separated by dots, with array indexes in
// brackets:
//   - "expression" -> member "expression" of the root object
//   - "[2].expression" -> member "expression" of the third item of a root array
//   - "entry[0].resource.component[1].expression"
func Find(data []byte, path string) *issue.Location {
	off, err := valueOffset(data, path)
	if err != nil {
		return nil
	}
	line, col := offsetToLineCol(data, off)
	return &issue.Location{Line: line, Column: col}
}

// Resolve maps rel, a position inside the JSON string at path, to a
// position in data. Escape sequences are taken into account. It returns
// the position of the string itself when rel is nil or out of range, and
// nil when the path does not exist.
func Resolve(data []byte, path string, rel *issue.Location) *issue.Location {
	off, err := valueOffset(data, path)
	if err != nil {
		return nil
	}
	if rel != nil && off < len(data) && data[off] == '"' {
		if raw, ok := rawOffset(data[off+1:], rel.Line, rel.Column); ok {
			off += 1 + raw
		}
	}
	line, col := offsetToLineCol(data, off)
	return &issue.Location{Line: line, Column: col}
}

// Relocate rewrites the locations of the issues about expression, the
// string value at path in data, to positions in data. Issues about other
// expressions are left alone.
func Relocate(data []byte, path, expression string, issues []issue.Issue) {
	for i := range issues {
		iss := &issues[i]
		if len(iss.Expression) == 0 || iss.Expression[0] != expression {
			continue
		}
		if loc := Resolve(data, path, iss.Location); loc != nil {
			iss.Location = loc
		}
	}
}

// splitPath splits "entry[0].resource.expression" into
// ["entry", "0", "resource", "expression"].
func splitPath(path string) []string {
	var segments []string
	start := 0
	flush := func(end int) {
		if end > start {
			segments = append(segments, path[start:end])
		}
	}
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '.':
			flush(i)
			start = i + 1
		case '[':
			flush(i)
			j := i + 1
			for j < len(path) && path[j] != ']' {
				j++
			}
			if j > i+1 {
				segments = append(segments, path[i+1:j])
			}
			i = j
			start = j + 1
		}
	}
	flush(len(path))
	return segments
}

// valueOffset returns the byte offset of the first byte of the value at
// path.
func valueOffset(data []byte, path string) (int, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return 0, fmt.Errorf("empty path")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for _, seg := range segments {
		var err error
		if idx, convErr := strconv.Atoi(seg); convErr == nil {
			err = enterIndex(dec, idx)
		} else {
			err = enterKey(dec, seg)
		}
		if err != nil {
			return 0, err
		}
	}
	return skipSeparators(data, int(dec.InputOffset())), nil
}

// enterKey consumes an object up to the member named key, leaving the
// decoder before its value.
func enterKey(dec *json.Decoder, key string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if k, ok := tok.(string); ok && k == key {
			return nil
		}
		if err := skipValue(dec); err != nil {
			return err
		}
	}
	return fmt.Errorf("key %q not found", key)
}

// enterIndex consumes an array up to item idx, leaving the decoder before
// it.
func enterIndex(dec *json.Decoder, idx int) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("expected array, got %v", tok)
	}
	for i := 0; dec.More(); i++ {
		if i == idx {
			return nil
		}
		if err := skipValue(dec); err != nil {
			return err
		}
	}
	return fmt.Errorf("array index %d out of bounds", idx)
}

// skipValue skips a single JSON value (primitive, object, or array).
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if _, ok := tok.(json.Delim); !ok {
		return nil
	}
	for depth := 1; depth > 0; {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// skipSeparators skips whitespace, colons and commas from off.
func skipSeparators(data []byte, off int) int {
	for off < len(data) {
		switch data[off] {
		case ' ', '\t', '\r', '\n', ':', ',':
			off++
		default:
			return off
		}
	}
	return off
}

// rawOffset returns the offset in raw, the bytes after the opening quote
// of a JSON string, of the decoded character at line and column (1-based,
// columns in runes).
func rawOffset(raw []byte, line, col int) (int, bool) {
	curLine, curCol := 1, 1
	for i := 0; i < len(raw); {
		if curLine == line && curCol == col {
			return i, true
		}

		var r rune
		switch {
		case raw[i] == '"':
			return 0, false
		case raw[i] == '\\' && i+1 < len(raw):
			if raw[i+1] == 'u' && i+6 <= len(raw) {
				n, err := strconv.ParseUint(string(raw[i+2:i+6]), 16, 32)
				if err != nil {
					return 0, false
				}
				r = rune(n)
				i += 6
			} else {
				r = unescape(raw[i+1])
				i += 2
			}
		default:
			var size int
			r, size = utf8.DecodeRune(raw[i:])
			i += size
		}

		if r == '\n' {
			curLine++
			curCol = 1
		} else {
			curCol++
		}
	}
	return 0, false
}

func unescape(c byte) rune {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return rune(c)
	}
}

// offsetToLineCol converts a byte offset to line and column numbers.
// Line and column are 1-indexed, columns count runes.
func offsetToLineCol(input []byte, offset int) (line, col int) {
	line, col = 1, 1
	for i := 0; i < offset && i < len(input); {
		if input[i] == '\n' {
			line++
			col = 1
			i++
			continue
		}
		_, size := utf8.DecodeRune(input[i:])
		i += size
		col++
	}
	return line, col
}
