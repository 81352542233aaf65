package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cgast/exemplar/pkg/content"
	"github.com/cgast/exemplar/pkg/grammar"
	"github.com/cgast/exemplar/pkg/pattern"
	"github.com/cgast/exemplar/pkg/trial"
)

// paramFlag collects repeated --param key=value flags.
type paramFlag map[string]string

func (p paramFlag) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("param must be key=value, got %q", s)
	}
	p[k] = v
	return nil
}

var errInvalid = errors.New("validation failed")

// handleValidate implements `exemplar validate [--param k=v ...] <study.yaml>`.
func handleValidate(args []string) error {
	params := paramFlag{}
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.Var(params, "param", "study parameter key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: exemplar validate [--param key=value ...] <study.yaml>")
	}

	study, err := content.LoadStudy(fs.Arg(0), params)
	if err != nil {
		return err
	}
	vr := content.ValidateStudy(study)
	if !vr.Valid() {
		for _, e := range vr.Errors {
			fmt.Printf("  %s\n", e.Error())
		}
		return fmt.Errorf("%s: %w (%d errors)", fs.Arg(0), errInvalid, len(vr.Errors))
	}

	fmt.Printf("%s: ok (%s %s, %d elicitation, %d guessing)\n",
		fs.Arg(0), study.Meta.Name, study.Meta.Version,
		study.Count(trial.KindElicitation), study.Count(trial.KindGuessing))
	return nil
}

// handleCheck implements `exemplar check <pattern>...`. Allowed patterns are
// printed with their grammar units.
func handleCheck(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: exemplar check <pattern>...")
	}

	failed := 0
	for _, src := range args {
		res := grammar.Validate(src)
		if !res.Allowed() {
			failed++
			fmt.Printf("%s\tREJECTED\n", src)
			for _, v := range res.Violations {
				fmt.Printf("  %s\n", v.Error())
			}
			continue
		}
		fmt.Printf("%s\tok\n", src)
		printUnits(res.Units, "  ")
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d patterns: %w", failed, len(args), errInvalid)
	}
	return nil
}

func printUnits(units []grammar.Unit, indent string) {
	for _, u := range units {
		detail := u.Source
		if u.Kind == grammar.UnitLiteralRun {
			detail = fmt.Sprintf("%q", u.Text)
		}
		fmt.Printf("%s%-16s %s\n", indent, u.Kind, detail)
		printUnits(u.Inner, indent+"  ")
	}
}

// handleMatch implements `exemplar match <pattern> <candidate>...`.
func handleMatch(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: exemplar match <pattern> <candidate>...")
	}

	p, err := pattern.Compile(args[0])
	if err != nil {
		return err
	}
	if res := grammar.Validate(args[0]); !res.Allowed() {
		fmt.Fprintf(os.Stderr, "note: %s\n", res.Error())
	}

	for _, c := range args[1:] {
		verdict := "Invalid"
		if p.Matches(c) {
			verdict = "Valid"
		}
		fmt.Printf("%-8s %q\n", verdict, c)
	}
	return nil
}
