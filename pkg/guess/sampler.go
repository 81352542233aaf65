package guess

import (
	"slices"
	"strings"

	"github.com/cgast/exemplar/pkg/grammar"
)

const (
	// DefaultMaxSamples caps the strings drawn from one pattern.
	DefaultMaxSamples = 2000
	// DefaultManyRepeat is the repeat count used to exercise "+", "*" and
	// "{m,}" well past their lower bound.
	DefaultManyRepeat = 7
	// DefaultMaxLen caps the length in bytes of any generated string. It
	// sits above the grammar's repeat cap so a single bounded term is
	// still probed at its bounds.
	DefaultMaxLen = 1024
	// maxGroupReps limits how many renderings of a group are used when
	// varying the terms around it.
	maxGroupReps = 6
)

// baseProbes are characters from every class boundary plus common
// punctuation. Together with a pattern's own literals they form the
// alphabet used for near-miss mutations.
var baseProbes = []rune{'a', 'm', 'z', 'A', 'Z', '0', '5', '9', ' ', '.', '-', '_', '+', '*'}

// Sampler derives a deterministic, bounded list of probe strings from a
// pattern's structure: members at quantifier boundaries and class edges,
// plus near misses around them. Members longer than MaxLen are not
// generated, so a pattern made only of such members is probed with the
// fixed probes alone.
type Sampler struct {
	MaxSamples int
	ManyRepeat int
	MaxLen     int
}

// NewSampler returns a Sampler with default bounds.
func NewSampler() *Sampler {
	return &Sampler{
		MaxSamples: DefaultMaxSamples,
		ManyRepeat: DefaultManyRepeat,
		MaxLen:     DefaultMaxLen,
	}
}

// Sample returns probe strings for the pattern source. Patterns outside
// the parser's subset fall back to the fixed probes only.
func (s *Sampler) Sample(source string) []string {
	out := newSampleSet(s.MaxSamples)
	alphabet := slices.Clone(baseProbes)

	expr, err := grammar.Parse(source)
	if err == nil {
		alphabet = appendLiterals(alphabet, expr)
	}

	// Fixed probes: the empty string and every single probe character.
	out.add("")
	for _, r := range alphabet {
		out.add(string(r))
	}
	if err != nil {
		return out.items
	}

	maxLen := s.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	g := &generator{many: s.ManyRepeat, alphabet: alphabet, maxLen: maxLen}
	members := g.expr(expr)
	for _, m := range members {
		if !out.add(m) {
			return out.items
		}
	}

	// Near misses: single-character edits of each generated string.
	for _, m := range members {
		if !deletions(m, out.add) {
			return out.items
		}
	}
	for _, m := range members {
		if !insertions(m, alphabet, out.add) {
			return out.items
		}
	}
	for _, m := range members {
		if !substitutions(m, alphabet, out.add) {
			return out.items
		}
	}
	return out.items
}

type sampleSet struct {
	limit int
	seen  map[string]bool
	items []string
}

func newSampleSet(limit int) *sampleSet {
	if limit <= 0 {
		limit = DefaultMaxSamples
	}
	return &sampleSet{limit: limit, seen: make(map[string]bool)}
}

// add keeps v unless it was seen or the set is full. It reports whether
// there is room for more.
func (s *sampleSet) add(v string) bool {
	if len(s.items) >= s.limit {
		return false
	}
	if !s.seen[v] {
		s.seen[v] = true
		s.items = append(s.items, v)
	}
	return len(s.items) < s.limit
}

type generator struct {
	many     int
	alphabet []rune
	maxLen   int
}

func (g *generator) expr(e *grammar.Expr) []string {
	var out []string
	for _, seq := range e.Alternatives {
		out = append(out, g.seq(seq)...)
	}
	return dedupe(out)
}

// seq renders a baseline string and then varies one term at a time
// through its boundary counts and representative characters. A sequence
// whose baseline exceeds maxLen yields nothing.
func (g *generator) seq(seq grammar.Seq) []string {
	reps := make([][]string, len(seq))
	base := make([]string, len(seq))
	baseLen := 0
	for i, t := range seq {
		reps[i] = g.reps(t.Atom)
		if len(reps[i]) == 0 {
			return nil
		}
		part, ok := g.repeat(reps[i][0], baseCount(t.Quant))
		if !ok {
			return nil
		}
		base[i] = part
		baseLen += len(part)
	}
	if baseLen > g.maxLen {
		return nil
	}

	out := []string{strings.Join(base, "")}
	vary := func(i int, part string, ok bool) {
		if !ok || baseLen-len(base[i])+len(part) > g.maxLen {
			return
		}
		parts := slices.Clone(base)
		parts[i] = part
		out = append(out, strings.Join(parts, ""))
	}

	for i, t := range seq {
		for _, n := range g.counts(t.Quant) {
			for _, r := range reps[i] {
				part, ok := g.repeat(r, n)
				vary(i, part, ok)
			}
			if n > 1 && len(reps[i]) > 1 {
				part, ok := g.cycle(reps[i], n)
				vary(i, part, ok)
			}
		}
		for _, n := range outsideCounts(t.Quant) {
			part, ok := g.repeat(reps[i][0], n)
			vary(i, part, ok)
		}
	}
	return out
}

// repeat is strings.Repeat that refuses results longer than maxLen.
func (g *generator) repeat(s string, n int) (string, bool) {
	if n <= 0 || s == "" {
		return "", true
	}
	if n > g.maxLen/len(s) {
		return "", false
	}
	return strings.Repeat(s, n), true
}

// cycle renders n items taken round-robin from reps, refusing results
// longer than maxLen.
func (g *generator) cycle(reps []string, n int) (string, bool) {
	var b strings.Builder
	for i := range n {
		b.WriteString(reps[i%len(reps)])
		if b.Len() > g.maxLen {
			return "", false
		}
	}
	return b.String(), true
}

// reps returns representative renderings of an atom, members first.
func (g *generator) reps(a grammar.Atom) []string {
	switch a.Kind {
	case grammar.AtomLiteral:
		return []string{string(a.Literal)}
	case grammar.AtomClass:
		return classReps(a.Class, g.alphabet)
	case grammar.AtomGroup:
		inner := g.expr(a.Group)
		if len(inner) > maxGroupReps {
			inner = inner[:maxGroupReps]
		}
		return inner
	default:
		return []string{"a", "Z", "5", "."}
	}
}

// counts returns repeat counts that stay inside the quantifier's bounds.
func (g *generator) counts(q *grammar.Quantifier) []int {
	if q == nil {
		return []int{1}
	}
	ns := []int{q.Min, q.Min + 1}
	if q.Bounded() {
		ns = append(ns, q.Max, (q.Min+q.Max)/2)
	} else {
		ns = append(ns, q.Min+2, max(q.Min+3, g.many))
	}
	var out []int
	for _, n := range ns {
		if q.Bounded() && n > q.Max {
			continue
		}
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

// outsideCounts returns repeat counts just past the quantifier's bounds.
func outsideCounts(q *grammar.Quantifier) []int {
	if q == nil {
		return []int{0, 2}
	}
	var out []int
	if q.Min > 0 {
		out = append(out, q.Min-1)
	}
	if q.Bounded() {
		out = append(out, q.Max+1)
	}
	return out
}

func baseCount(q *grammar.Quantifier) int {
	switch {
	case q == nil:
		return 1
	case q.Min > 0:
		return q.Min
	case q.Max != 0:
		return 1
	default:
		return 0
	}
}

// classReps picks range endpoints and midpoints for a class, or probe
// characters outside it when negated.
func classReps(c *grammar.Class, alphabet []rune) []string {
	var out []string
	if c.Negated {
		for _, r := range alphabet {
			if c.Contains(r) {
				out = append(out, string(r))
			}
			if len(out) == 4 {
				break
			}
		}
	} else {
		for _, rg := range c.Ranges {
			for _, r := range []rune{rg.Lo, rg.Lo + (rg.Hi-rg.Lo)/2, rg.Hi} {
				out = append(out, string(r))
			}
		}
	}
	out = dedupe(out)
	if len(out) == 0 {
		out = []string{"?"}
	}
	return out
}

func appendLiterals(alphabet []rune, e *grammar.Expr) []rune {
	for _, seq := range e.Alternatives {
		for _, t := range seq {
			switch t.Atom.Kind {
			case grammar.AtomLiteral:
				if !slices.Contains(alphabet, t.Atom.Literal) {
					alphabet = append(alphabet, t.Atom.Literal)
				}
			case grammar.AtomGroup:
				alphabet = appendLiterals(alphabet, t.Atom.Group)
			}
		}
	}
	return alphabet
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// The edit generators hand each variant to add and stop as soon as add
// reports the sample is full. They return false when stopped early.

func deletions(s string, add func(string) bool) bool {
	rs := []rune(s)
	for i := range rs {
		// Deleting any rune of a run gives the same string.
		if i > 0 && rs[i] == rs[i-1] {
			continue
		}
		if !add(string(rs[:i]) + string(rs[i+1:])) {
			return false
		}
	}
	return true
}

func insertions(s string, alphabet []rune, add func(string) bool) bool {
	rs := []rune(s)
	for _, p := range dedupeInts([]int{0, len(rs) / 2, len(rs)}) {
		for _, r := range alphabet {
			if !add(string(rs[:p]) + string(r) + string(rs[p:])) {
				return false
			}
		}
	}
	return true
}

func substitutions(s string, alphabet []rune, add func(string) bool) bool {
	rs := []rune(s)
	v := slices.Clone(rs)
	for i := range rs {
		for _, r := range alphabet {
			if r == rs[i] {
				continue
			}
			v[i] = r
			ok := add(string(v))
			v[i] = rs[i]
			if !ok {
				return false
			}
		}
	}
	return true
}

func dedupeInts(in []int) []int {
	var out []int
	for _, v := range in {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
