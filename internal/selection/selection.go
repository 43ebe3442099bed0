// Package selection tracks selectable options and merges fresh suggestion
// lists with earlier selections.
package selection

import (
	"fmt"
	"strings"
)

// Option is a suggestion produced by a source. Value is the unique id.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// SelectableOption is an Option with a selection flag
type SelectableOption struct {
	Option
	Selected bool `json:"selected"`
}

// GrandfatheredOption marks selections kept after dropping out of the
// current result list. Toggling a grandfathered option removes it.
type GrandfatheredOption struct {
	SelectableOption
	Grandfathered bool `json:"grandfathered"`
}

// OptionsFromValues builds options whose label is the value itself
func OptionsFromValues(values []string) []Option {
	opts := make([]Option, 0, len(values))
	for _, v := range values {
		opts = append(opts, Option{Value: v, Label: v})
	}
	return opts
}

// Set is an ordered collection of selectable options
type Set struct {
	options []SelectableOption
}

// NewSet creates a set with every option unselected. Duplicate values keep
// their first occurrence.
func NewSet(options []Option) *Set {
	seen := make(map[string]struct{}, len(options))
	s := &Set{options: make([]SelectableOption, 0, len(options))}
	for _, o := range options {
		if _, dup := seen[o.Value]; dup {
			continue
		}
		seen[o.Value] = struct{}{}
		s.options = append(s.options, SelectableOption{Option: o})
	}
	return s
}

// Toggle flips the option whose value matches. Unknown values are ignored
// and report false.
func (s *Set) Toggle(value string) bool {
	for i := range s.options {
		if s.options[i].Value == value {
			s.options[i].Selected = !s.options[i].Selected
			return true
		}
	}
	return false
}

// Clear deselects every option
func (s *Set) Clear() {
	for i := range s.options {
		s.options[i].Selected = false
	}
}

// Options returns a copy of the options in order
func (s *Set) Options() []SelectableOption {
	out := make([]SelectableOption, len(s.options))
	copy(out, s.options)
	return out
}

// SelectedValues returns selected ids in option order
func (s *Set) SelectedValues() []string {
	return selectedValues(s.options, func(o SelectableOption) SelectableOption { return o })
}

// Summary describes the selection for display
func (s *Set) Summary() string {
	var labels []string
	for _, o := range s.options {
		if o.Selected {
			labels = append(labels, o.Label)
		}
	}
	return Summarize(labels)
}

// Summarize renders selected labels as "a", "a, b" or "a, b +N more"
func Summarize(labels []string) string {
	switch n := len(labels); {
	case n == 0:
		return ""
	case n <= 2:
		return strings.Join(labels, ", ")
	default:
		return fmt.Sprintf("%s +%d more", strings.Join(labels[:2], ", "), n-2)
	}
}

func selectedValues[T any](options []T, sel func(T) SelectableOption) []string {
	values := make([]string, 0)
	for _, o := range options {
		if so := sel(o); so.Selected {
			values = append(values, so.Value)
		}
	}
	return values
}
