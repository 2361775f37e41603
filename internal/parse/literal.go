package parse

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// decodeLiteral reads a list, tuple or dict written with single or double
// quotes, Python-style constants and trailing commas. Quotes inside a string
// that are not followed by a separator are kept as text, which tolerates
// answers like ['Acme's Corp', '3']. Bare words other than constants are
// rejected.
func decodeLiteral(s string) ([]any, error) {
	p := &literalParser{src: []rune(strings.TrimSpace(s))}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("trailing data")
	}
	return sequence(v)
}

type literalParser struct {
	src []rune
	pos int
}

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("literal at %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *literalParser) peek() (rune, bool) {
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *literalParser) value() (any, error) {
	p.skipSpace()
	c, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end")
	}
	switch c {
	case '[':
		return p.list(']')
	case '(':
		return p.list(')')
	case '{':
		return p.dict()
	case '\'', '"':
		return p.str(c)
	default:
		return p.bare()
	}
}

func (p *literalParser) list(closer rune) (any, error) {
	p.pos++
	items := []any{}
	for {
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated list")
		}
		if c == closer {
			p.pos++
			return items, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)

		p.skipSpace()
		c, ok = p.peek()
		switch {
		case !ok:
			return nil, p.errorf("unterminated list")
		case c == ',':
			p.pos++
		case c == closer:
			p.pos++
			return items, nil
		default:
			return nil, p.errorf("expected ',' or %q, got %q", closer, c)
		}
	}
}

func (p *literalParser) dict() (any, error) {
	p.pos++
	obj := &object{}
	for {
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated dict")
		}
		if c == '}' {
			p.pos++
			return obj, nil
		}
		k, err := p.value()
		if err != nil {
			return nil, err
		}
		switch k.(type) {
		case string, json.Number:
		default:
			return nil, p.errorf("unsupported dict key")
		}
		p.skipSpace()
		if c, ok := p.peek(); !ok || c != ':' {
			return nil, p.errorf("expected ':'")
		}
		p.pos++
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		obj.set(stringify(k), v)

		p.skipSpace()
		c, ok = p.peek()
		switch {
		case !ok:
			return nil, p.errorf("unterminated dict")
		case c == ',':
			p.pos++
		case c == '}':
			p.pos++
			return obj, nil
		default:
			return nil, p.errorf("expected ',' or '}', got %q", c)
		}
	}
}

func (p *literalParser) str(quote rune) (any, error) {
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			p.escape(&sb)
		case c == quote:
			if p.closes() {
				p.pos++
				return sb.String(), nil
			}
			sb.WriteRune(c)
			p.pos++
		default:
			sb.WriteRune(c)
			p.pos++
		}
	}
	return nil, p.errorf("unterminated string")
}

// closes reports whether the quote at pos ends the string: only a separator,
// a closing bracket or the end of input may follow it.
func (p *literalParser) closes() bool {
	j := p.pos + 1
	for j < len(p.src) && unicode.IsSpace(p.src[j]) {
		j++
	}
	if j == len(p.src) {
		return true
	}
	switch p.src[j] {
	case ',', ']', ')', '}', ':':
		return true
	}
	return false
}

// escape decodes the escape sequence at pos. Unknown sequences are kept as
// written.
func (p *literalParser) escape(sb *strings.Builder) {
	e := p.src[p.pos+1]
	switch e {
	case 'n':
		sb.WriteRune('\n')
	case 't':
		sb.WriteRune('\t')
	case 'r':
		sb.WriteRune('\r')
	case '\\', '\'', '"', '/':
		sb.WriteRune(e)
	case 'u':
		if p.pos+6 <= len(p.src) {
			if n, err := strconv.ParseUint(string(p.src[p.pos+2:p.pos+6]), 16, 32); err == nil {
				sb.WriteRune(rune(n))
				p.pos += 6
				return
			}
		}
		sb.WriteRune('\\')
		sb.WriteRune(e)
	default:
		sb.WriteRune('\\')
		sb.WriteRune(e)
	}
	p.pos += 2
}

func (p *literalParser) bare() (any, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if unicode.IsSpace(c) || strings.ContainsRune(",:[](){}", c) {
			break
		}
		p.pos++
	}
	word := string(p.src[start:p.pos])
	switch word {
	case "":
		return nil, p.errorf("unexpected %q", p.src[start])
	case "None", "null", "none", "nil":
		return nil, nil
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	}
	if _, err := strconv.ParseFloat(word, 64); err == nil {
		return json.Number(word), nil
	}
	return nil, p.errorf("bare word %q", word)
}
