package content

import (
	"fmt"
	"strings"

	"github.com/cgast/exemplar/pkg/grammar"
	"github.com/cgast/exemplar/pkg/pattern"
	"github.com/cgast/exemplar/pkg/trial"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult holds all validation errors for a study.
type ValidationResult struct {
	Errors []ValidationError
}

// Valid returns true if no validation errors were found.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Error returns a combined error message from all validation errors.
func (r ValidationResult) Error() string {
	if r.Valid() {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

func (r *ValidationResult) add(field, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateStudy checks a study for required fields and runnable trials.
// Every elicitation target must lie in the restricted grammar, every
// target must compile, and the examples shown in a guessing trial must be
// accepted by its target.
func ValidateStudy(study Study) ValidationResult {
	var result ValidationResult

	if study.APIVersion == "" {
		result.add("apiVersion", "required")
	} else if study.APIVersion != APIVersion {
		result.add("apiVersion", "unsupported version %q (expected %s)", study.APIVersion, APIVersion)
	}

	if study.Kind == "" {
		result.add("kind", "required")
	} else if study.Kind != KindStudy {
		result.add("kind", "unsupported kind %q (expected %s)", study.Kind, KindStudy)
	}

	if study.Meta.Name == "" {
		result.add("meta.name", "required")
	}

	if len(study.Trials) == 0 {
		result.add("trials", "at least one trial is required")
	}

	ids := make(map[string]int)
	for i, spec := range study.TrialSpecs() {
		field := fmt.Sprintf("trials[%d]", i)
		if prev, ok := ids[spec.ID]; ok {
			result.add(field+".id", "duplicate trial id %q (also trials[%d])", spec.ID, prev)
		} else {
			ids[spec.ID] = i
		}
		validateTrial(&result, field, spec)
	}

	names := make(map[string]bool)
	for i, p := range study.Params {
		field := fmt.Sprintf("params[%d].name", i)
		switch {
		case p.Name == "":
			result.add(field, "required")
		case names[p.Name]:
			result.add(field, "duplicate param name %q", p.Name)
		default:
			names[p.Name] = true
		}
	}

	return result
}

func validateTrial(result *ValidationResult, field string, spec trial.Spec) {
	if strings.TrimSpace(spec.Description) == "" {
		result.add(field+".description", "required")
	}

	switch spec.Kind {
	case trial.KindElicitation, trial.KindGuessing:
	case "":
		result.add(field+".kind", "required")
		return
	default:
		result.add(field+".kind", "unknown kind %q", spec.Kind)
		return
	}

	target, err := pattern.Compile(spec.Pattern)
	if err != nil {
		result.add(field+".pattern", "does not compile: %v", err)
		return
	}

	if spec.Kind == trial.KindElicitation {
		if res := grammar.Validate(spec.Pattern); !res.Allowed() {
			for _, v := range res.Violations {
				result.add(field+".pattern", "%s", v.Error())
			}
		}
		if len(spec.ShownExamples) > 0 {
			result.add(field+".shown_examples", "only used by guessing trials")
		}
		return
	}

	if len(spec.ShownExamples) == 0 {
		result.add(field+".shown_examples", "a guessing trial needs at least one example")
	}
	for j, ex := range spec.ShownExamples {
		if !target.Matches(ex) {
			result.add(fmt.Sprintf("%s.shown_examples[%d]", field, j), "%q is not accepted by %s", ex, spec.Pattern)
		}
	}
}
