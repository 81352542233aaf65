package grammar

import (
	"fmt"
	"strconv"
)

// metaChars must be escaped to be read as literals outside a class.
const metaChars = `\^$.|?*+()[]{}`

// maxRepeat caps explicit repetition counts.
const maxRepeat = 1000

// SyntaxError reports a pattern that cannot be parsed.
type SyntaxError struct {
	Pattern string
	Pos     int
	Msg     string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d in %q: %s", e.Pos, e.Pattern, e.Msg)
}

type parser struct {
	pattern string
	src     []rune
	pos     int
}

// Parse builds the structure of a pattern. It accepts the JavaScript
// regex subset the study materials use (literals, escapes, classes,
// groups, alternation, quantifiers) plus a leading "^" and trailing "$",
// which are dropped. Lookarounds, backreferences and word boundaries are
// syntax errors.
func Parse(pattern string) (*Expr, error) {
	p := &parser{pattern: pattern, src: []rune(pattern)}
	if p.peek() == '^' {
		p.pos++
	}
	expr, err := p.parseAlt(0)
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		// parseAlt only returns early on ")" at depth 0.
		return nil, p.errorf("unmatched )")
	}
	return expr, nil
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) peekAt(off int) rune {
	if p.pos+off >= len(p.src) {
		return 0
	}
	return p.src[p.pos+off]
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pattern: p.pattern, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseAlt(depth int) (*Expr, error) {
	expr := &Expr{}
	for {
		seq, err := p.parseSeq(depth)
		if err != nil {
			return nil, err
		}
		expr.Alternatives = append(expr.Alternatives, seq)
		if p.peek() != '|' {
			return expr, nil
		}
		expr.Bars = append(expr.Bars, p.pos)
		p.pos++
	}
}

func (p *parser) parseSeq(depth int) (Seq, error) {
	var seq Seq
	for !p.eof() {
		c := p.peek()
		switch {
		case c == '|':
			return seq, nil
		case c == ')':
			return seq, nil
		case c == '$' && depth == 0 && p.pos == len(p.src)-1:
			p.pos++
			return seq, nil
		}

		start := p.pos
		atom, err := p.parseAtom(depth)
		if err != nil {
			return nil, err
		}
		term := Term{Atom: atom, Pos: start, AtomEnd: p.pos}
		q, err := p.parseQuantifier()
		if err != nil {
			return nil, err
		}
		if q != nil {
			for isQuantifierStart(p.peek()) {
				if _, err := p.parseQuantifier(); err != nil {
					return nil, err
				}
				q.Stacked = true
			}
		}
		term.Quant = q
		term.End = p.pos
		seq = append(seq, term)
	}
	return seq, nil
}

func isQuantifierStart(c rune) bool {
	return c == '*' || c == '+' || c == '?' || c == '{'
}

func (p *parser) parseAtom(depth int) (Atom, error) {
	c := p.peek()
	switch c {
	case '(':
		return p.parseGroup(depth)
	case '[':
		cls, err := p.parseClass()
		if err != nil {
			return Atom{}, err
		}
		return Atom{Kind: AtomClass, Class: cls}, nil
	case '.':
		p.pos++
		return Atom{Kind: AtomAny}, nil
	case '\\':
		return p.parseEscape()
	case '*', '+', '?', '{':
		return Atom{}, p.errorf("nothing to repeat")
	case '^', '$':
		return Atom{}, p.errorf("anchor %q is only allowed at the edge of the pattern", c)
	}
	p.pos++
	return Atom{Kind: AtomLiteral, Literal: c}, nil
}

func (p *parser) parseGroup(depth int) (Atom, error) {
	open := p.pos
	p.pos++
	if p.peek() == '?' {
		if p.peekAt(1) != ':' {
			return Atom{}, p.errorf("lookaround and named groups are not supported")
		}
		p.pos += 2
	}
	inner, err := p.parseAlt(depth + 1)
	if err != nil {
		return Atom{}, err
	}
	if p.peek() != ')' || p.eof() {
		p.pos = open
		return Atom{}, p.errorf("missing )")
	}
	p.pos++
	return Atom{Kind: AtomGroup, Group: inner}, nil
}

// parseEscape handles a backslash outside a class.
func (p *parser) parseEscape() (Atom, error) {
	start := p.pos
	p.pos++
	if p.eof() {
		return Atom{}, p.errorf("trailing backslash")
	}
	c := p.peek()
	p.pos++
	if cls, ok := shorthandClass(c); ok {
		cls.Source = string(p.src[start:p.pos])
		return Atom{Kind: AtomClass, Class: cls}, nil
	}
	r, err := p.escapedLiteral(c, start)
	if err != nil {
		return Atom{}, err
	}
	return Atom{Kind: AtomLiteral, Literal: r}, nil
}

// escapedLiteral resolves the rune after a backslash that is not a class
// shorthand.
func (p *parser) escapedLiteral(c rune, at int) (rune, error) {
	switch c {
	case 'n':
		return '\n', nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case 'f':
		return '\f', nil
	case 'v':
		return '\v', nil
	}
	switch {
	case c >= '1' && c <= '9':
		p.pos = at
		return 0, p.errorf("backreferences are not supported")
	case c == 'b' || c == 'B':
		p.pos = at
		return 0, p.errorf("word boundaries are not supported")
	case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '0':
		p.pos = at
		return 0, p.errorf("unsupported escape \\%c", c)
	}
	return c, nil
}

var (
	wordRanges  = []Range{digits, upper, {'_', '_'}, lower}
	spaceRanges = []Range{{'\t', '\r'}, {' ', ' '}}
)

func shorthandClass(c rune) (*Class, bool) {
	switch c {
	case 'd':
		return &Class{Ranges: []Range{digits}}, true
	case 'D':
		return &Class{Ranges: []Range{digits}, Negated: true}, true
	case 'w':
		return &Class{Ranges: wordRanges}, true
	case 'W':
		return &Class{Ranges: wordRanges, Negated: true}, true
	case 's':
		return &Class{Ranges: spaceRanges}, true
	case 'S':
		return &Class{Ranges: spaceRanges, Negated: true}, true
	}
	return nil, false
}

func (p *parser) parseClass() (*Class, error) {
	start := p.pos
	p.pos++
	cls := &Class{}
	if p.peek() == '^' {
		cls.Negated = true
		p.pos++
	}
	if p.peek() == ']' {
		return nil, p.errorf("empty character class")
	}

	var ranges []Range
	for {
		if p.eof() {
			p.pos = start
			return nil, p.errorf("missing ]")
		}
		if p.peek() == ']' {
			p.pos++
			break
		}

		lo, set, err := p.parseClassItem()
		if err != nil {
			return nil, err
		}
		if set != nil {
			if set.Negated {
				return nil, p.errorf("negated shorthand inside a class is not supported")
			}
			ranges = append(ranges, set.Ranges...)
			continue
		}

		if p.peek() == '-' && p.peekAt(1) != ']' && p.peekAt(1) != 0 {
			p.pos++
			hi, hiSet, err := p.parseClassItem()
			if err != nil {
				return nil, err
			}
			if hiSet != nil {
				return nil, p.errorf("class shorthand cannot end a range")
			}
			if hi < lo {
				return nil, p.errorf("range %c-%c out of order", lo, hi)
			}
			ranges = append(ranges, Range{lo, hi})
			continue
		}
		ranges = append(ranges, Range{lo, lo})
	}

	cls.Ranges = normalizeRanges(ranges)
	cls.Source = string(p.src[start:p.pos])
	return cls, nil
}

// parseClassItem reads one class member: a rune, or a shorthand set.
func (p *parser) parseClassItem() (rune, *Class, error) {
	c := p.peek()
	if c != '\\' {
		p.pos++
		return c, nil, nil
	}
	at := p.pos
	p.pos++
	if p.eof() {
		return 0, nil, p.errorf("trailing backslash")
	}
	c = p.peek()
	p.pos++
	if cls, ok := shorthandClass(c); ok {
		return 0, cls, nil
	}
	r, err := p.escapedLiteral(c, at)
	return r, nil, err
}

func (p *parser) parseQuantifier() (*Quantifier, error) {
	switch p.peek() {
	case '*':
		p.pos++
		return &Quantifier{Min: 0, Max: Unbounded}, nil
	case '+':
		p.pos++
		return &Quantifier{Min: 1, Max: Unbounded}, nil
	case '?':
		p.pos++
		return &Quantifier{Min: 0, Max: 1}, nil
	case '{':
		return p.parseBraces()
	}
	return nil, nil
}

// parseBraces reads {m}, {m,} or {m,n}.
func (p *parser) parseBraces() (*Quantifier, error) {
	start := p.pos
	p.pos++
	lo, ok := p.parseInt()
	if !ok {
		p.pos = start
		return nil, p.errorf("malformed repetition")
	}
	q := &Quantifier{Min: lo, Max: lo}
	if p.peek() == ',' {
		p.pos++
		q.Max = Unbounded
		if p.peek() != '}' {
			hi, ok := p.parseInt()
			if !ok {
				p.pos = start
				return nil, p.errorf("malformed repetition")
			}
			q.Max = hi
		}
	}
	if p.peek() != '}' || p.eof() {
		p.pos = start
		return nil, p.errorf("malformed repetition")
	}
	p.pos++
	if q.Max != Unbounded && q.Max < q.Min {
		p.pos = start
		return nil, p.errorf("repetition {%d,%d} out of order", q.Min, q.Max)
	}
	return q, nil
}

func (p *parser) parseInt() (int, bool) {
	start := p.pos
	for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
		p.pos++
	}
	if p.pos == start {
		return 0, false
	}
	n, err := strconv.Atoi(string(p.src[start:p.pos]))
	if err != nil || n > maxRepeat {
		return 0, false
	}
	return n, true
}
