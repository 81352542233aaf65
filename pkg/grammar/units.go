package grammar

import "strings"

// UnitKind is the kind of a grammar unit.
type UnitKind int

const (
	UnitLiteralRun UnitKind = iota
	UnitClass
	UnitOptionalGroup
	UnitQuantified
)

func (k UnitKind) String() string {
	switch k {
	case UnitLiteralRun:
		return "literal-run"
	case UnitClass:
		return "character-class"
	case UnitOptionalGroup:
		return "optional-group"
	case UnitQuantified:
		return "quantified-unit"
	default:
		return "unknown"
	}
}

// Unit is one segment of an allowed pattern.
//
// A literal run holds its decoded text. A quantified unit wraps exactly
// one literal character or class in Inner. An optional group holds its
// contents in Inner.
type Unit struct {
	Kind   UnitKind
	Text   string
	Class  ClassName
	Quant  *Quantifier
	Inner  []Unit
	Source string
}

func (c *checker) segment(seq Seq) []Unit {
	var units []Unit
	var run strings.Builder
	runStart := -1
	runEnd := -1

	flush := func() {
		if runStart < 0 {
			return
		}
		units = append(units, Unit{
			Kind:   UnitLiteralRun,
			Text:   run.String(),
			Source: string(c.src[runStart:runEnd]),
		})
		run.Reset()
		runStart = -1
	}

	for _, t := range seq {
		if t.Atom.Kind == AtomLiteral && t.Quant == nil {
			if runStart < 0 {
				runStart = t.Pos
			}
			run.WriteRune(t.Atom.Literal)
			runEnd = t.End
			continue
		}
		flush()
		units = append(units, c.unit(t))
	}
	flush()
	return units
}

func (c *checker) unit(t Term) Unit {
	if t.Atom.Kind == AtomGroup {
		return Unit{
			Kind:   UnitOptionalGroup,
			Quant:  t.Quant,
			Inner:  c.segment(t.Atom.Group.Alternatives[0]),
			Source: c.text(t),
		}
	}

	var base Unit
	switch t.Atom.Kind {
	case AtomClass:
		name, _ := t.Atom.Class.Name()
		base = Unit{Kind: UnitClass, Class: name, Source: t.Atom.Class.Source}
	default:
		base = Unit{Kind: UnitLiteralRun, Text: string(t.Atom.Literal)}
	}
	if base.Source == "" {
		base.Source = string(c.src[t.Pos:t.AtomEnd])
	}
	if t.Quant == nil {
		return base
	}
	return Unit{
		Kind:   UnitQuantified,
		Quant:  t.Quant,
		Inner:  []Unit{base},
		Source: c.text(t),
	}
}
