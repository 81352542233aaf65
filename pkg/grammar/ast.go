package grammar

import (
	"fmt"
	"slices"
	"strings"
)

// Expr is a parsed pattern: one or more alternatives separated by "|".
type Expr struct {
	Alternatives []Seq
	// Bars holds the offset of every "|" separating the alternatives.
	Bars []int
}

// Seq is a concatenation of terms.
type Seq []Term

// AtomKind identifies what a term repeats.
type AtomKind int

const (
	AtomLiteral AtomKind = iota
	AtomClass
	AtomAny
	AtomGroup
)

func (k AtomKind) String() string {
	switch k {
	case AtomLiteral:
		return "literal"
	case AtomClass:
		return "class"
	case AtomAny:
		return "wildcard"
	case AtomGroup:
		return "group"
	default:
		return fmt.Sprintf("AtomKind(%d)", int(k))
	}
}

// Atom is the repeatable part of a term.
type Atom struct {
	Kind    AtomKind
	Literal rune
	Class   *Class
	Group   *Expr
}

// Unbounded is the Max of a quantifier with no upper limit.
const Unbounded = -1

// Quantifier is a repetition suffix. "?" is {0,1}, "*" is {0,}, "+" is {1,}.
type Quantifier struct {
	Min int
	Max int
	// Stacked is set when another quantifier directly follows this one,
	// as in "a+?" or "a{2}*".
	Stacked bool
}

// Optional reports whether the quantifier is "?".
func (q Quantifier) Optional() bool {
	return q.Min == 0 && q.Max == 1
}

// Bounded reports whether the quantifier has an upper limit.
func (q Quantifier) Bounded() bool {
	return q.Max != Unbounded
}

func (q Quantifier) String() string {
	switch {
	case q.Min == 0 && q.Max == 1:
		return "?"
	case q.Min == 0 && q.Max == Unbounded:
		return "*"
	case q.Min == 1 && q.Max == Unbounded:
		return "+"
	case q.Max == Unbounded:
		return fmt.Sprintf("{%d,}", q.Min)
	case q.Min == q.Max:
		return fmt.Sprintf("{%d}", q.Min)
	default:
		return fmt.Sprintf("{%d,%d}", q.Min, q.Max)
	}
}

// Term is an atom with an optional quantifier. Pos, AtomEnd and End are
// rune offsets into the pattern. AtomEnd is exclusive and stops before the
// quantifier; End is exclusive and covers it.
type Term struct {
	Atom    Atom
	Quant   *Quantifier
	Pos     int
	AtomEnd int
	End     int
}

// Range is an inclusive rune range.
type Range struct {
	Lo, Hi rune
}

// Class is a bracketed character class or a shorthand escape such as \d.
type Class struct {
	Ranges  []Range
	Negated bool
	Source  string
}

// Contains reports whether r is a member of the class.
func (c *Class) Contains(r rune) bool {
	in := false
	for _, rg := range c.Ranges {
		if r >= rg.Lo && r <= rg.Hi {
			in = true
			break
		}
	}
	return in != c.Negated
}

// ClassName names one of the five classes the restricted grammar allows.
type ClassName string

const (
	ClassLower ClassName = "[a-z]"
	ClassDigit ClassName = `\d`
	ClassUpper ClassName = "[A-Z]"
	ClassAlpha ClassName = "[a-zA-Z]"
	ClassAlnum ClassName = "[a-zA-Z0-9]"
)

var (
	digits = Range{'0', '9'}
	upper  = Range{'A', 'Z'}
	lower  = Range{'a', 'z'}
)

// allowedClasses holds the normalized ranges of each permitted class.
var allowedClasses = map[ClassName][]Range{
	ClassLower: {lower},
	ClassDigit: {digits},
	ClassUpper: {upper},
	ClassAlpha: {upper, lower},
	ClassAlnum: {digits, upper, lower},
}

// AllowedClasses lists the five permitted classes.
func AllowedClasses() []ClassName {
	return []ClassName{ClassLower, ClassDigit, ClassUpper, ClassAlpha, ClassAlnum}
}

// Name returns which permitted class c is, if any. Range order inside the
// brackets does not matter: [A-Za-z] and [a-zA-Z] are the same class.
func (c *Class) Name() (ClassName, bool) {
	if c.Negated {
		return "", false
	}
	for name, ranges := range allowedClasses {
		if slices.Equal(c.Ranges, ranges) {
			return name, true
		}
	}
	return "", false
}

// normalizeRanges sorts and merges overlapping or adjacent ranges.
func normalizeRanges(in []Range) []Range {
	if len(in) == 0 {
		return nil
	}
	rs := slices.Clone(in)
	slices.SortFunc(rs, func(a, b Range) int {
		if a.Lo != b.Lo {
			return int(a.Lo - b.Lo)
		}
		return int(a.Hi - b.Hi)
	})
	out := []Range{rs[0]}
	for _, r := range rs[1:] {
		last := &out[len(out)-1]
		if r.Lo <= last.Hi+1 {
			last.Hi = max(last.Hi, r.Hi)
			continue
		}
		out = append(out, r)
	}
	return out
}

// String renders the expression back into pattern syntax. Literals are
// escaped where needed, so the output re-parses to the same tree.
func (e *Expr) String() string {
	var b strings.Builder
	for i, seq := range e.Alternatives {
		if i > 0 {
			b.WriteByte('|')
		}
		for _, t := range seq {
			writeTerm(&b, t)
		}
	}
	return b.String()
}

func writeTerm(b *strings.Builder, t Term) {
	switch t.Atom.Kind {
	case AtomLiteral:
		if strings.ContainsRune(metaChars, t.Atom.Literal) {
			b.WriteByte('\\')
		}
		b.WriteRune(t.Atom.Literal)
	case AtomClass:
		b.WriteString(t.Atom.Class.Source)
	case AtomAny:
		b.WriteByte('.')
	case AtomGroup:
		b.WriteByte('(')
		b.WriteString(t.Atom.Group.String())
		b.WriteByte(')')
	}
	if t.Quant != nil {
		b.WriteString(t.Quant.String())
	}
}
