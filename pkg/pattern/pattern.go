// Package pattern compiles study patterns and decides whether a candidate
// string is accepted by them.
//
// Patterns use JavaScript regular-expression syntax because the study
// instrument is a browser page; matching is delegated to regexp2 in
// ECMAScript mode. Every match is a full-string match: a candidate is
// accepted only when the whole string, start to end, is an instance of
// the pattern.
package pattern

import (
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultMatchTimeout bounds a single match. Participant guesses are free
// text and may backtrack badly.
const DefaultMatchTimeout = 250 * time.Millisecond

// Pattern is an immutable compiled pattern.
type Pattern struct {
	source  string
	re      *regexp2.Regexp
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures Compile.
type Option func(*Pattern)

// WithMatchTimeout overrides DefaultMatchTimeout. Zero disables the guard.
func WithMatchTimeout(d time.Duration) Option {
	return func(p *Pattern) {
		p.timeout = d
	}
}

// WithLogger sets the logger used to report aborted matches.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pattern) {
		p.logger = l
	}
}

// Compile parses source and returns a full-match Pattern.
func Compile(source string, opts ...Option) (*Pattern, error) {
	p := &Pattern{
		source:  source,
		timeout: DefaultMatchTimeout,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}

	// The bare source is compiled first so that an unbalanced ")" cannot
	// close the anchoring group below and still produce a valid program.
	if _, err := regexp2.Compile(source, regexp2.ECMAScript); err != nil {
		return nil, goerr.Wrap(err, "failed to compile pattern", goerr.V("pattern", source))
	}

	re, err := regexp2.Compile(`^(?:`+source+`)$`, regexp2.ECMAScript)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compile anchored pattern", goerr.V("pattern", source))
	}
	if p.timeout > 0 {
		re.MatchTimeout = p.timeout
	}
	p.re = re

	return p, nil
}

// MustCompile is like Compile but panics on error. Intended for
// hard-coded patterns in tests and bundled content.
func MustCompile(source string, opts ...Option) *Pattern {
	p, err := Compile(source, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Source returns the pattern text as authored.
func (p *Pattern) Source() string {
	return p.source
}

func (p *Pattern) String() string {
	return p.source
}

// Matches reports whether candidate, in its entirety, is accepted.
// A match that times out counts as a rejection.
func (p *Pattern) Matches(candidate string) bool {
	m, err := p.re.FindStringMatch(candidate)
	if err != nil {
		p.logger.Warn("pattern match aborted",
			slog.String("pattern", p.source),
			slog.Int("candidate_len", len(candidate)),
			slog.Any("error", err),
		)
		return false
	}
	if m == nil {
		return false
	}
	// regexp2 reports rune offsets. "$" may match before a trailing
	// newline, so the span is checked explicitly.
	return m.Index == 0 && m.Length == utf8.RuneCountInString(candidate)
}

// Matches reports whether candidate is accepted by p.
func Matches(p *Pattern, candidate string) bool {
	return p.Matches(candidate)
}
