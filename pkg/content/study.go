// Package content loads and validates study files: the ordered list of
// trials a participant works through.
package content

import (
	"fmt"

	"github.com/cgast/exemplar/pkg/trial"
)

const (
	APIVersion = "exemplar/v1"
	KindStudy  = "Study"
)

// Study is a complete study definition.
type Study struct {
	APIVersion string        `yaml:"apiVersion" json:"apiVersion"`
	Kind       string        `yaml:"kind" json:"kind"`
	Meta       StudyMeta     `yaml:"meta" json:"meta"`
	Trials     []trial.Spec  `yaml:"trials" json:"trials"`
	Params     []ParamDef    `yaml:"params,omitempty" json:"params,omitempty"`
}

// StudyMeta contains metadata about the study.
type StudyMeta struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Author      string   `yaml:"author" json:"author"`
	Version     string   `yaml:"version" json:"version"`
	Tags        []string `yaml:"tags" json:"tags"`
}

// ParamDef defines a value substituted into the study file as {{name}}.
type ParamDef struct {
	Name        string `yaml:"name" json:"name"`
	Default     any    `yaml:"default" json:"default"`
	Description string `yaml:"description" json:"description"`
}

// TrialSpecs returns the trials in order. Trials without an ID get one
// derived from their position.
func (s Study) TrialSpecs() []trial.Spec {
	specs := make([]trial.Spec, len(s.Trials))
	for i, t := range s.Trials {
		if t.ID == "" {
			t.ID = fmt.Sprintf("trial-%02d", i+1)
		}
		specs[i] = t
	}
	return specs
}

// Count returns the number of trials of kind.
func (s Study) Count(kind trial.Kind) int {
	n := 0
	for _, t := range s.Trials {
		if t.Kind == kind {
			n++
		}
	}
	return n
}
