// Package examples holds the per-trial collection of candidate strings a
// participant offers for a target pattern.
package examples

import (
	"slices"
	"strings"

	"github.com/cgast/exemplar/pkg/pattern"
)

// Example is one candidate string. Examples are never mutated in place.
type Example struct {
	Text  string `json:"text"`
	Valid bool   `json:"valid"`
	// Seq is the insertion sequence number, unique within a set.
	Seq int `json:"seq"`
}

// Status is the outcome of an Add or Remove.
type Status string

const (
	StatusAdded              Status = "added"
	StatusRemoved            Status = "removed"
	StatusRejectedEmpty      Status = "rejected_empty"
	StatusRejectedDuplicate  Status = "rejected_duplicate"
	StatusRejectedOutOfRange Status = "rejected_out_of_range"
)

// Rejected reports whether the action left the set unchanged.
func (s Status) Rejected() bool {
	return strings.HasPrefix(string(s), "rejected_")
}

// AddResult is returned by Add.
type AddResult struct {
	Status   Status  `json:"status"`
	Example  Example `json:"example"`
	Index    int     `json:"index"`
	Complete bool    `json:"complete"`
}

// RemoveResult is returned by Remove.
type RemoveResult struct {
	Status   Status  `json:"status"`
	Example  Example `json:"example"`
	Complete bool    `json:"complete"`
}

// Set is the ordered, duplicate-free collection of live examples for one
// trial. It is not safe for concurrent use.
type Set struct {
	target  *pattern.Pattern
	items   []Example
	nextSeq int
}

// NewSet creates an empty set validated against target.
func NewSet(target *pattern.Pattern) *Set {
	return &Set{target: target}
}

// Add appends text unless it is blank or already live in the set.
// Duplicates are exact, case-sensitive comparisons.
func (s *Set) Add(text string) AddResult {
	if strings.TrimSpace(text) == "" {
		return AddResult{Status: StatusRejectedEmpty, Index: -1, Complete: s.IsComplete()}
	}
	if i := s.indexOf(text); i >= 0 {
		return AddResult{Status: StatusRejectedDuplicate, Example: s.items[i], Index: i, Complete: s.IsComplete()}
	}

	ex := Example{
		Text:  text,
		Valid: s.target.Matches(text),
		Seq:   s.nextSeq,
	}
	s.nextSeq++
	s.items = append(s.items, ex)

	return AddResult{
		Status:   StatusAdded,
		Example:  ex,
		Index:    len(s.items) - 1,
		Complete: s.IsComplete(),
	}
}

// Remove deletes the live example at index. Survivors keep their order.
func (s *Set) Remove(index int) RemoveResult {
	if index < 0 || index >= len(s.items) {
		return RemoveResult{Status: StatusRejectedOutOfRange, Complete: s.IsComplete()}
	}
	ex := s.items[index]
	s.items = slices.Delete(s.items, index, index+1)
	return RemoveResult{Status: StatusRemoved, Example: ex, Complete: s.IsComplete()}
}

// IsComplete reports whether the set has at least one example and every
// example is valid. It is derived on each call.
func (s *Set) IsComplete() bool {
	if len(s.items) == 0 {
		return false
	}
	for _, ex := range s.items {
		if !ex.Valid {
			return false
		}
	}
	return true
}

// Len returns the number of live examples.
func (s *Set) Len() int {
	return len(s.items)
}

// Snapshot returns a copy of the live examples in display order.
func (s *Set) Snapshot() []Example {
	return slices.Clone(s.items)
}

func (s *Set) indexOf(text string) int {
	return slices.IndexFunc(s.items, func(ex Example) bool {
		return ex.Text == text
	})
}
