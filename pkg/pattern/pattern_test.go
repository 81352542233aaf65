package pattern_test

import (
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/cgast/exemplar/pkg/pattern"
)

func TestMatchesIsFullMatch(t *testing.T) {
	p := pattern.MustCompile(`\d{6}`)

	tests := []struct {
		candidate string
		want      bool
	}{
		{"123456", true},
		{"1234567", false},
		{"12345", false},
		{"abc123", false},
		{"abc123456", false},
		{"123456\n", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.candidate, func(t *testing.T) {
			gt.Equal(t, p.Matches(tt.candidate), tt.want)
			gt.Equal(t, pattern.Matches(p, tt.candidate), tt.want)
		})
	}
}

func TestMatchesStudyPrimitives(t *testing.T) {
	tests := []struct {
		pattern string
		accept  []string
		reject  []string
	}{
		{`[a-z]+`, []string{"cat", "z"}, []string{"", "Cat", "cat1"}},
		{`[A-Za-z0-9]*[a-z][A-Za-z0-9]*`, []string{"a", "ABc9", "x1Y"}, []string{"ABC", "123", ""}},
		{`abc\.\d+`, []string{"abc.1", "abc.007"}, []string{"abc1", "abcx1", "abc."}},
		{`\d+(\.)?\d*`, []string{"1", "1.", "1.5", "12"}, []string{".5", "1..2"}},
		{`[a-z]{1,3}-[a-z]{1,2}-\d{1,4}`, []string{"a-b-1", "abc-de-1234"}, []string{"abcd-a-1", "a-b-12345"}},
		{`(\*)?[a-z]{2,}(\*)?`, []string{"ab", "*ab*", "*abc"}, []string{"a", "**ab", "ab**"}},
		{`(\+)?\d+`, []string{"+1", "12"}, []string{"+", "++1"}},
		{`[A-Z][a-z]+ [A-Z][a-z]+`, []string{"Ada Lovelace"}, []string{"Ada lovelace", "AdaLovelace"}},
		{`Page \d+ of \d+`, []string{"Page 1 of 9"}, []string{"Page  1 of 9", "page 1 of 9"}},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			p := pattern.MustCompile(tt.pattern)
			for _, s := range tt.accept {
				gt.True(t, p.Matches(s))
			}
			for _, s := range tt.reject {
				gt.False(t, p.Matches(s))
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, src := range []string{`(`, `[a-z`, `a)(b`, `+a`} {
		t.Run(src, func(t *testing.T) {
			_, err := pattern.Compile(src)
			gt.Error(t, err)
		})
	}
}

func TestSourceIsPreserved(t *testing.T) {
	p := pattern.MustCompile(`09\d{7}`)
	gt.Equal(t, p.Source(), `09\d{7}`)
	gt.Equal(t, p.String(), `09\d{7}`)
}

func TestMustCompilePanics(t *testing.T) {
	defer func() {
		gt.True(t, recover() != nil)
	}()
	pattern.MustCompile(`[`)
}
