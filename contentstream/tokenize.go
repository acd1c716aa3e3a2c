package contentstream

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnterminatedString = errors.New("unterminated string")
	ErrUnterminatedArray  = errors.New("unterminated array or dictionary")
	ErrInlineImage        = errors.New("malformed inline image")
	ErrDanglingOperands   = errors.New("dangling operands")
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokName
	tokString
	tokKeyword
	tokArrayStart
	tokArrayEnd
	tokDictStart
	tokDictEnd
)

type token struct {
	kind tokenKind
	num  float64
	text string
	raw  []byte
	hex  bool
}

type lexer struct {
	data []byte
	pos  int
}

func isWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(c byte) bool { return !isWhitespace(c) && !isDelimiter(c) }

func (lx *lexer) skipSpaceAndComments() {
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		if isWhitespace(c) {
			lx.pos++
			continue
		}
		if c == '%' {
			for lx.pos < len(lx.data) && lx.data[lx.pos] != '\n' && lx.data[lx.pos] != '\r' {
				lx.pos++
			}
			continue
		}
		return
	}
}

func (lx *lexer) next() (token, error) {
	for {
		lx.skipSpaceAndComments()
		if lx.pos >= len(lx.data) {
			return token{kind: tokEOF}, nil
		}
		c := lx.data[lx.pos]
		switch c {
		case '[':
			lx.pos++
			return token{kind: tokArrayStart}, nil
		case ']':
			lx.pos++
			return token{kind: tokArrayEnd}, nil
		case '(':
			raw, err := lx.literalString()
			return token{kind: tokString, raw: raw}, err
		case '<':
			if lx.pos+1 < len(lx.data) && lx.data[lx.pos+1] == '<' {
				lx.pos += 2
				return token{kind: tokDictStart}, nil
			}
			raw, err := lx.hexString()
			return token{kind: tokString, raw: raw, hex: true}, err
		case '>':
			lx.pos++
			if lx.pos < len(lx.data) && lx.data[lx.pos] == '>' {
				lx.pos++
				return token{kind: tokDictEnd}, nil
			}
			// stray '>'
			continue
		case '/':
			lx.pos++
			return token{kind: tokName, text: lx.name()}, nil
		case ')', '{', '}':
			lx.pos++
			continue
		}

		start := lx.pos
		for lx.pos < len(lx.data) && isRegular(lx.data[lx.pos]) {
			lx.pos++
		}
		word := string(lx.data[start:lx.pos])
		if looksNumeric(word[0]) {
			if v, err := strconv.ParseFloat(word, 64); err == nil {
				return token{kind: tokNumber, num: v}, nil
			}
		}
		return token{kind: tokKeyword, text: word}, nil
	}
}

func looksNumeric(c byte) bool {
	return (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.'
}

func (lx *lexer) name() string {
	var out []byte
	for lx.pos < len(lx.data) && isRegular(lx.data[lx.pos]) {
		c := lx.data[lx.pos]
		if c == '#' && lx.pos+2 < len(lx.data) {
			if v, err := strconv.ParseUint(string(lx.data[lx.pos+1:lx.pos+3]), 16, 8); err == nil {
				out = append(out, byte(v))
				lx.pos += 3
				continue
			}
		}
		out = append(out, c)
		lx.pos++
	}
	return string(out)
}

func (lx *lexer) literalString() ([]byte, error) {
	lx.pos++ // (
	depth := 1
	var out []byte
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		lx.pos++
		switch c {
		case '\\':
			if lx.pos >= len(lx.data) {
				return out, ErrUnterminatedString
			}
			e := lx.data[lx.pos]
			lx.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if lx.pos < len(lx.data) && lx.data[lx.pos] == '\n' {
					lx.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && lx.pos < len(lx.data); k++ {
						d := lx.data[lx.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						lx.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out, nil
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out, ErrUnterminatedString
}

func (lx *lexer) hexString() ([]byte, error) {
	lx.pos++ // <
	var digits []byte
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		lx.pos++
		if c == '>' {
			if len(digits)%2 == 1 {
				digits = append(digits, '0')
			}
			out := make([]byte, len(digits)/2)
			for i := range out {
				out[i] = unhex(digits[2*i])<<4 | unhex(digits[2*i+1])
			}
			return out, nil
		}
		if isWhitespace(c) {
			continue
		}
		digits = append(digits, c)
	}
	return nil, ErrUnterminatedString
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// operand turns tok into an operand, reading nested arrays and dictionaries.
func (lx *lexer) operand(tok token) (Operand, error) {
	switch tok.kind {
	case tokNumber:
		return NumberOperand{Value: tok.num}, nil
	case tokName:
		return NameOperand{Value: tok.text}, nil
	case tokString:
		return StringOperand{Value: tok.raw, Hex: tok.hex}, nil
	case tokKeyword:
		switch tok.text {
		case "true":
			return BoolOperand{Value: true}, nil
		case "false":
			return BoolOperand{Value: false}, nil
		default:
			return NullOperand{}, nil
		}
	case tokArrayStart:
		var arr ArrayOperand
		for {
			t, err := lx.next()
			if err != nil {
				return arr, err
			}
			switch t.kind {
			case tokEOF:
				return arr, ErrUnterminatedArray
			case tokArrayEnd:
				return arr, nil
			}
			v, err := lx.operand(t)
			if err != nil {
				return arr, err
			}
			arr.Values = append(arr.Values, v)
		}
	case tokDictStart:
		return lx.dict(tokDictEnd)
	}
	return NullOperand{}, fmt.Errorf("unexpected token at offset %d", lx.pos)
}

// dict reads key/value pairs until a token of kind end, or the keyword
// "ID" when end is tokKeyword.
func (lx *lexer) dict(end tokenKind) (DictOperand, error) {
	d := DictOperand{Values: map[string]Operand{}}
	for {
		t, err := lx.next()
		if err != nil {
			return d, err
		}
		if t.kind == tokEOF {
			return d, ErrUnterminatedArray
		}
		if t.kind == end && (end != tokKeyword || t.text == "ID") {
			return d, nil
		}
		if t.kind != tokName {
			continue
		}
		vt, err := lx.next()
		if err != nil {
			return d, err
		}
		if vt.kind == tokEOF {
			return d, ErrUnterminatedArray
		}
		v, err := lx.operand(vt)
		if err != nil {
			return d, err
		}
		d.Values[t.text] = v
	}
}

// inlineImage reads a BI ... ID <data> EI sequence, the BI already consumed.
func (lx *lexer) inlineImage() (DictOperand, []byte, error) {
	d, err := lx.dict(tokKeyword)
	if err != nil {
		return d, nil, fmt.Errorf("%w: %v", ErrInlineImage, err)
	}
	// single whitespace byte follows ID
	if lx.pos < len(lx.data) && isWhitespace(lx.data[lx.pos]) {
		lx.pos++
	}
	start := lx.pos
	for i := start; i+1 < len(lx.data); i++ {
		if lx.data[i] != 'E' || lx.data[i+1] != 'I' {
			continue
		}
		if i > start && !isWhitespace(lx.data[i-1]) {
			continue
		}
		if i+2 < len(lx.data) && isRegular(lx.data[i+2]) {
			continue
		}
		end := i
		if end > start {
			end--
		}
		lx.pos = i + 2
		return d, bytes.Clone(lx.data[start:end]), nil
	}
	lx.pos = len(lx.data)
	return d, nil, fmt.Errorf("%w: missing EI", ErrInlineImage)
}

// Parse splits a content stream into operations. On a syntax error the
// operations read so far are returned together with the error.
func Parse(data []byte) ([]Operation, error) {
	lx := &lexer{data: data}
	var ops []Operation
	var operands []Operand
	for {
		tok, err := lx.next()
		if err != nil {
			return ops, err
		}
		switch tok.kind {
		case tokEOF:
			if len(operands) > 0 {
				return ops, fmt.Errorf("%w: %d", ErrDanglingOperands, len(operands))
			}
			return ops, nil
		case tokArrayEnd, tokDictEnd:
			continue
		case tokKeyword:
			switch tok.text {
			case "true", "false", "null":
				v, _ := lx.operand(tok)
				operands = append(operands, v)
				continue
			case "BI":
				d, raw, err := lx.inlineImage()
				if err != nil {
					return ops, err
				}
				ops = append(ops, Operation{Operator: "BI", Operands: []Operand{d, StringOperand{Value: raw}}})
				operands = nil
				continue
			}
			ops = append(ops, Operation{Operator: tok.text, Operands: operands})
			operands = nil
		default:
			v, err := lx.operand(tok)
			if err != nil {
				return ops, err
			}
			operands = append(operands, v)
		}
	}
}
