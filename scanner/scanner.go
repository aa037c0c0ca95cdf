package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

type TokenType int

const (
	TokenDict        TokenType = iota // '<<'
	TokenArray                        // '['
	TokenName                         // '/Name'
	TokenString                       // literal or hex string
	TokenNumber                       // numeric value
	TokenBoolean                      // true/false
	TokenNull                         // null
	TokenRef                          // indirect ref '5 0 R'
	TokenStream                       // 'stream' keyword with its payload
	TokenInlineImage                  // inline image data following ID ... EI (content stream only)
	TokenKeyword                      // other keywords (obj, endobj, >>, ], operators)
)

func (t TokenType) String() string {
	switch t {
	case TokenDict:
		return "dict"
	case TokenArray:
		return "array"
	case TokenName:
		return "name"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenBoolean:
		return "boolean"
	case TokenNull:
		return "null"
	case TokenRef:
		return "ref"
	case TokenStream:
		return "stream"
	case TokenInlineImage:
		return "inline-image"
	case TokenKeyword:
		return "keyword"
	}
	return "token(" + strconv.Itoa(int(t)) + ")"
}

// Token is one lexical unit. Only the fields relevant to Type are set.
type Token struct {
	Type  TokenType
	Pos   int64
	Str   string // name, keyword
	Bytes []byte // string, stream and inline image payloads
	Hex   bool   // string was written in hex notation
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Num   int // ref object number
	Gen   int // ref generation
}

// Number returns the numeric value as a float regardless of notation.
func (t Token) Number() float64 {
	if t.IsInt {
		return float64(t.Int)
	}
	return t.Float
}

func (t Token) String() string {
	switch t.Type {
	case TokenName:
		return "/" + t.Str
	case TokenKeyword:
		return t.Str
	case TokenNumber:
		if t.IsInt {
			return strconv.FormatInt(t.Int, 10)
		}
		return strconv.FormatFloat(t.Float, 'f', -1, 64)
	case TokenRef:
		return fmt.Sprintf("%d %d R", t.Num, t.Gen)
	}
	return t.Type.String()
}

type Config struct {
	MaxStringLength int64
	MaxStreamLength int64
	// ContentStream disables "N G R" reference folding. Content streams have no
	// references, and operators like RG would otherwise be misread.
	ContentStream bool
}

var (
	ErrUnterminated = errors.New("unterminated token")
	ErrTooLong      = errors.New("token exceeds configured limit")
)

// Scanner tokenizes an in-memory PDF buffer.
type Scanner struct {
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
}

func New(data []byte, cfg Config) *Scanner {
	return &Scanner{data: data, cfg: cfg, nextStreamLen: -1}
}

func (s *Scanner) Position() int64 { return s.pos }

func (s *Scanner) SeekTo(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return fmt.Errorf("seek %d out of range", offset)
	}
	s.pos = offset
	return nil
}

// SetNextStreamLength passes a /Length hint for the next stream payload or
// the byte count of the next inline image; negative clears it.
func (s *Scanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

// Data exposes the underlying buffer.
func (s *Scanner) Data() []byte { return s.data }

func (s *Scanner) Next() (Token, error) {
	s.skipWSAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Str: "<<", Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Str: "[", Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenKeyword, Str: "]", Pos: start}, nil
	case '{', '}':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isDigitStart(c) {
		return s.scanNumberOrRef()
	}
	return s.scanKeyword()
}

func (s *Scanner) skipWSAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && !isEOL(s.data[s.pos]) {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *Scanner) peek(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++
	var out bytes.Buffer
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) && isHex(s.data[s.pos+1]) && isHex(s.data[s.pos+2]) {
			out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++
	var buf bytes.Buffer
	depth := 1
	n := int64(len(s.data))
	for s.pos < n {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= n {
				continue
			}
			esc := s.data[s.pos]
			s.pos++
			switch {
			case esc == '\r':
				if s.pos < n && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2 && s.pos < n && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; k++ {
					val = val<<3 + int(s.data[s.pos]-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
			}
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
			}
		}
		buf.WriteByte(c)
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, fmt.Errorf("literal string at %d: %w", start, ErrTooLong)
		}
	}
	return Token{}, fmt.Errorf("literal string at %d: %w", start, ErrUnterminated)
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++
	var hexbuf []byte
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			if len(hexbuf)%2 == 1 {
				hexbuf = append(hexbuf, '0')
			}
			if s.cfg.MaxStringLength > 0 && int64(len(hexbuf)/2) > s.cfg.MaxStringLength {
				return Token{}, fmt.Errorf("hex string at %d: %w", start, ErrTooLong)
			}
			out := make([]byte, len(hexbuf)/2)
			for i := range out {
				out[i] = fromHex(hexbuf[2*i])<<4 | fromHex(hexbuf[2*i+1])
			}
			return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
		}
		if isWhitespace(c) {
			continue
		}
		hexbuf = append(hexbuf, c)
	}
	return Token{}, fmt.Errorf("hex string at %d: %w", start, ErrUnterminated)
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		// stray delimiter such as ')'
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	case "ID":
		if s.cfg.ContentStream {
			return s.scanInlineImage(start)
		}
	}
	return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
}

func (s *Scanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	num1 := s.scanNumberString()
	if num1 == "" {
		// lone sign or dot: treat as keyword so the caller can skip it
		s.pos++
		return Token{Type: TokenKeyword, Str: string(s.data[start]), Pos: start}, nil
	}
	if !s.cfg.ContentStream && isUnsigned(num1) {
		save := s.pos
		s.skipWSAndComments()
		num2 := s.scanNumberString()
		if num2 != "" && isUnsigned(num2) {
			s.skipWSAndComments()
			if s.pos < int64(len(s.data)) && s.data[s.pos] == 'R' &&
				(s.pos+1 >= int64(len(s.data)) || isDelimiter(s.data[s.pos+1])) {
				s.pos++
				n1, _ := strconv.Atoi(num1)
				n2, _ := strconv.Atoi(num2)
				return Token{Type: TokenRef, Num: n1, Gen: n2, Pos: start}, nil
			}
		}
		s.pos = save
	}
	return numberToken(num1, start), nil
}

func numberToken(lit string, pos int64) Token {
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, IsInt: true, Pos: pos}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		// malformed reals like "1.2.3" or "--4": keep the leading numeric prefix
		f = parsePrefix(lit)
	}
	return Token{Type: TokenNumber, Float: f, Pos: pos}
}

func parsePrefix(lit string) float64 {
	neg := false
	for len(lit) > 0 && (lit[0] == '-' || lit[0] == '+') {
		neg = neg != (lit[0] == '-')
		lit = lit[1:]
	}
	end := 0
	dot := false
	for end < len(lit) {
		c := lit[end]
		if c == '.' {
			if dot {
				break
			}
			dot = true
		} else if c < '0' || c > '9' {
			break
		}
		end++
	}
	f, _ := strconv.ParseFloat(lit[:end], 64)
	if neg {
		return -f
	}
	return f
}

func (s *Scanner) scanNumberString() string {
	start := s.pos
	seenDigit := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c >= '0' && c <= '9' {
			seenDigit = true
		} else if c != '+' && c != '-' && c != '.' {
			break
		}
		s.pos++
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return string(s.data[start:s.pos])
}

// scanStream reads the payload after the 'stream' keyword, using the length hint when it lands on endstream.
func (s *Scanner) scanStream(start int64) (Token, error) {
	n := int64(len(s.data))
	if s.pos < n && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < n && s.data[s.pos] == '\n' {
		s.pos++
	}
	dataStart := s.pos
	hint := s.nextStreamLen
	s.nextStreamLen = -1
	needle := []byte("endstream")

	if hint >= 0 && dataStart+hint <= n {
		if s.cfg.MaxStreamLength > 0 && hint > s.cfg.MaxStreamLength {
			return Token{}, fmt.Errorf("stream at %d: %w", start, ErrTooLong)
		}
		end := dataStart + hint
		p := end
		for p < n && isWhitespace(s.data[p]) {
			p++
		}
		if bytes.HasPrefix(s.data[p:], needle) {
			s.pos = p + int64(len(needle))
			return Token{Type: TokenStream, Bytes: clone(s.data[dataStart:end]), Pos: start}, nil
		}
	}

	idx := bytes.Index(s.data[dataStart:], needle)
	if idx < 0 {
		return Token{}, fmt.Errorf("stream at %d: %w", start, ErrUnterminated)
	}
	end := dataStart + int64(idx)
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
		return Token{}, fmt.Errorf("stream at %d: %w", start, ErrTooLong)
	}
	s.pos = dataStart + int64(idx+len(needle))
	return Token{Type: TokenStream, Bytes: clone(s.data[dataStart:end]), Pos: start}, nil
}

// scanInlineImage consumes bytes after ID up to the EI operator. With a length
// hint the payload is taken verbatim; otherwise the first whitespace-delimited
// EI ends it.
func (s *Scanner) scanInlineImage(start int64) (Token, error) {
	n := int64(len(s.data))
	if s.pos < n && isWhitespace(s.data[s.pos]) {
		s.pos++
	}
	dataStart := s.pos
	hint := s.nextStreamLen
	s.nextStreamLen = -1

	if hint >= 0 && dataStart+hint <= n {
		p := dataStart + hint
		for p < n && isWhitespace(s.data[p]) {
			p++
		}
		if p+1 < n && s.data[p] == 'E' && s.data[p+1] == 'I' && (p+2 >= n || isDelimiter(s.data[p+2])) {
			s.pos = p + 2
			return Token{Type: TokenInlineImage, Bytes: clone(s.data[dataStart : dataStart+hint]), Pos: start}, nil
		}
	}

	for p := dataStart; p+1 < n; p++ {
		if s.data[p] != 'E' || s.data[p+1] != 'I' {
			continue
		}
		if p > dataStart && !isWhitespace(s.data[p-1]) {
			continue
		}
		if p+2 < n && !isDelimiter(s.data[p+2]) {
			continue
		}
		end := p
		if end > dataStart && isWhitespace(s.data[end-1]) {
			end--
		}
		s.pos = p + 2
		return Token{Type: TokenInlineImage, Bytes: clone(s.data[dataStart:end]), Pos: start}, nil
	}
	return Token{}, fmt.Errorf("inline image at %d: %w", start, ErrUnterminated)
}

// Payloads are copied so documents parsed from one buffer never share storage.
func clone(b []byte) []byte { return append([]byte(nil), b...) }

func isUnsigned(lit string) bool {
	for i := 0; i < len(lit); i++ {
		if lit[i] < '0' || lit[i] > '9' {
			return false
		}
	}
	return true
}

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

// IsDelimiter reports whether c ends a regular token.
func IsDelimiter(c byte) bool { return isDelimiter(c) }

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
