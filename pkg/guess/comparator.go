// Package guess judges whether a participant's pattern guess describes the
// same set of strings as a trial's canonical pattern.
//
// Equivalence is approximated, not decided: both patterns are run over a
// bounded, deterministic sample of strings derived from their structure
// (see Sampler) and must agree on every one. Two patterns that differ
// only on strings the sample never reaches are judged Correct.
package guess

import (
	"log/slog"
	"strings"

	"github.com/cgast/exemplar/pkg/pattern"
)

// Verdict is the judgement on a guess.
type Verdict string

const (
	Correct     Verdict = "correct"
	Incorrect   Verdict = "incorrect"
	Unparseable Verdict = "unparseable"
)

// Witness is a string on which the two patterns disagree.
type Witness struct {
	Text      string `json:"text"`
	Canonical bool   `json:"canonical"`
	Guess     bool   `json:"guess"`
}

// Outcome is the result of Evaluate.
type Outcome struct {
	Verdict Verdict `json:"verdict"`
	// Guess is the text as submitted, before normalization.
	Guess   string   `json:"guess"`
	Witness *Witness `json:"witness,omitempty"`
	Samples int      `json:"samples"`
	// Reason explains an Unparseable verdict.
	Reason string `json:"reason,omitempty"`
}

// Comparator evaluates guesses. The zero value is not usable; call
// NewComparator.
type Comparator struct {
	sampler     *Sampler
	patternOpts []pattern.Option
	logger      *slog.Logger
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithMaxSamples caps the sample drawn from each pattern.
func WithMaxSamples(n int) Option {
	return func(c *Comparator) {
		if n > 0 {
			c.sampler.MaxSamples = n
		}
	}
}

// WithManyRepeat sets the repeat count used for unbounded quantifiers.
func WithManyRepeat(n int) Option {
	return func(c *Comparator) {
		if n > 0 {
			c.sampler.ManyRepeat = n
		}
	}
}

// WithMaxSampleLen caps the length of generated sample strings.
func WithMaxSampleLen(n int) Option {
	return func(c *Comparator) {
		if n > 0 {
			c.sampler.MaxLen = n
		}
	}
}

// WithPatternOptions sets the options used to compile guesses.
func WithPatternOptions(opts ...pattern.Option) Option {
	return func(c *Comparator) {
		c.patternOpts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Comparator) {
		c.logger = l
	}
}

// NewComparator creates a Comparator with default sampling bounds.
func NewComparator(opts ...Option) *Comparator {
	c := &Comparator{
		sampler: NewSampler(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate judges guessText against canonical. A guess that does not
// compile is Unparseable, never an error.
func (c *Comparator) Evaluate(canonical *pattern.Pattern, guessText string) Outcome {
	out := Outcome{Guess: guessText}

	source := normalize(guessText)
	if strings.TrimSpace(source) == "" {
		out.Verdict = Unparseable
		out.Reason = "empty guess"
		return out
	}

	guessed, err := pattern.Compile(source, c.patternOpts...)
	if err != nil {
		c.logger.Info("guess does not compile",
			slog.String("guess", guessText),
			slog.Any("error", err),
		)
		out.Verdict = Unparseable
		out.Reason = err.Error()
		return out
	}

	samples := c.sampler.Sample(canonical.Source())
	samples = append(samples, c.sampler.Sample(source)...)
	out.Samples = len(samples)

	for _, s := range samples {
		want := canonical.Matches(s)
		got := guessed.Matches(s)
		if want != got {
			out.Verdict = Incorrect
			out.Witness = &Witness{Text: s, Canonical: want, Guess: got}
			c.logger.Debug("guess disagrees with canonical pattern",
				slog.String("canonical", canonical.Source()),
				slog.String("guess", source),
				slog.String("witness", s),
			)
			return out
		}
	}

	out.Verdict = Correct
	return out
}

// Evaluate judges guessText against canonical with a default Comparator.
func Evaluate(canonical *pattern.Pattern, guessText string) Outcome {
	return NewComparator().Evaluate(canonical, guessText)
}

// normalize drops surrounding line breaks and tabs and strips a
// JavaScript regex literal's slashes, so "/\d+/" is read as "\d+".
// Spaces are kept: they are literal characters of the pattern.
func normalize(text string) string {
	s := strings.Trim(text, "\r\n\t")
	if len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
		s = s[1 : len(s)-1]
	}
	return s
}
