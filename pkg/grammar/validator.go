// Package grammar parses study patterns into their structure and checks
// them against the restricted grammar every target pattern must follow:
//
//  1. Alternation only through the five classes [a-z], \d, [A-Z],
//     [a-zA-Z] and [a-zA-Z0-9].
//  2. Optionals "(...)?" only around a literal string or a single one of
//     those classes.
//  3. Repetition only directly on one of those classes or on a single
//     literal character.
//
// The checks run on the parse tree, never on the pattern text.
package grammar

import (
	"errors"
	"fmt"
	"strings"
)

// Rule identifies which grammar rule a pattern breaks.
type Rule int

const (
	RuleSyntax Rule = iota
	RuleAlternation
	RuleOptional
	RuleRepetition
)

func (r Rule) String() string {
	switch r {
	case RuleSyntax:
		return "syntax"
	case RuleAlternation:
		return "alternation"
	case RuleOptional:
		return "optional"
	case RuleRepetition:
		return "repetition"
	default:
		return fmt.Sprintf("Rule(%d)", int(r))
	}
}

// Violation is a single broken rule.
type Violation struct {
	Rule    Rule
	Pos     int
	Message string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s rule at offset %d: %s", v.Rule, v.Pos, v.Message)
}

// Result holds the outcome of validating one pattern.
type Result struct {
	Pattern    string
	Violations []Violation
	// Units is the pattern's segmentation into grammar units. Only set
	// when the pattern is allowed.
	Units []Unit
}

// Allowed returns true if no rule was broken.
func (r Result) Allowed() bool {
	return len(r.Violations) == 0
}

// Has reports whether rule is among the violations.
func (r Result) Has(rule Rule) bool {
	for _, v := range r.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// Error returns a combined message from all violations.
func (r Result) Error() string {
	if r.Allowed() {
		return ""
	}
	msgs := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("pattern %q not in restricted grammar: %s", r.Pattern, strings.Join(msgs, "; "))
}

// IsAllowed reports whether pattern conforms to the restricted grammar.
func IsAllowed(pattern string) bool {
	return Validate(pattern).Allowed()
}

// Validate parses pattern and checks every rule. Parse failures are
// reported as a RuleSyntax violation rather than an error.
func Validate(pattern string) Result {
	result := Result{Pattern: pattern}

	expr, err := Parse(pattern)
	if err != nil {
		var se *SyntaxError
		pos := 0
		if errors.As(err, &se) {
			pos = se.Pos
			err = errors.New(se.Msg)
		}
		result.Violations = append(result.Violations, Violation{
			Rule: RuleSyntax, Pos: pos, Message: err.Error(),
		})
		return result
	}

	c := &checker{src: []rune(pattern)}
	c.checkExpr(expr, nil)
	result.Violations = c.violations

	if result.Allowed() {
		result.Units = c.segment(expr.Alternatives[0])
	}
	return result
}

type checker struct {
	src        []rune
	violations []Violation
}

func (c *checker) add(rule Rule, pos int, format string, args ...any) {
	c.violations = append(c.violations, Violation{
		Rule: rule, Pos: pos, Message: fmt.Sprintf(format, args...),
	})
}

func (c *checker) text(t Term) string {
	return string(c.src[t.Pos:t.End])
}

// checkExpr validates an expression. parent is the enclosing group term,
// nil at the top level.
func (c *checker) checkExpr(e *Expr, parent *Term) {
	for _, bar := range e.Bars {
		c.add(RuleAlternation, bar, "alternation %q between sub-expressions", "|")
	}
	for _, seq := range e.Alternatives {
		for _, t := range seq {
			c.checkTerm(t, parent)
		}
	}
}

func (c *checker) checkTerm(t Term, parent *Term) {
	switch t.Atom.Kind {
	case AtomAny:
		c.add(RuleAlternation, t.Pos, "wildcard %q matches any character", ".")
	case AtomClass:
		if _, ok := t.Atom.Class.Name(); !ok {
			c.add(RuleAlternation, t.Pos,
				"character class %s is not one of [a-z], \\d, [A-Z], [a-zA-Z], [a-zA-Z0-9]",
				t.Atom.Class.Source)
		}
	case AtomGroup:
		c.checkGroup(t, parent)
	}

	if t.Quant != nil && t.Quant.Stacked {
		c.add(RuleRepetition, t.Pos, "stacked quantifiers in %s", c.text(t))
	}
}

func (c *checker) checkGroup(t Term, parent *Term) {
	if parent != nil {
		c.add(RuleOptional, t.Pos, "nested group %s", c.text(t))
	}

	switch {
	case t.Quant == nil:
		c.add(RuleOptional, t.Pos, "group %s is not optional; groups may only be used as (...)?", c.text(t))
	case !t.Quant.Optional():
		c.add(RuleRepetition, t.Pos, "repetition %s applied to group %s", t.Quant, c.text(t))
	}

	inner := t.Atom.Group
	c.checkExpr(inner, &t)

	if len(inner.Alternatives) != 1 {
		return
	}
	seq := inner.Alternatives[0]
	if !isLiteralString(seq) && !isSingleClass(seq) {
		c.add(RuleOptional, t.Pos,
			"optional %s must contain a literal string or exactly one character class", c.text(t))
	}
}

// isLiteralString reports whether seq is a non-empty run of unquantified
// literal characters.
func isLiteralString(seq Seq) bool {
	if len(seq) == 0 {
		return false
	}
	for _, t := range seq {
		if t.Atom.Kind != AtomLiteral || t.Quant != nil {
			return false
		}
	}
	return true
}

// isSingleClass reports whether seq is exactly one permitted class,
// quantified or not.
func isSingleClass(seq Seq) bool {
	if len(seq) != 1 || seq[0].Atom.Kind != AtomClass {
		return false
	}
	_, ok := seq[0].Atom.Class.Name()
	return ok
}
