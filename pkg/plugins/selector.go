package plugins

import (
	"fmt"
	"sort"
)

// SelectionMap records which plugin id fulfills each capability. It is built
// once during initialization and never changes afterwards.
type SelectionMap struct {
	m map[Capability]string
}

// Get returns the plugin id selected for c
func (s SelectionMap) Get(c Capability) (string, bool) {
	id, ok := s.m[c]
	return id, ok
}

// All returns a copy of every selection
func (s SelectionMap) All() map[Capability]string {
	result := make(map[Capability]string, len(s.m))
	for k, v := range s.m {
		result[k] = v
	}
	return result
}

// Len returns the number of selected capabilities
func (s SelectionMap) Len() int {
	return len(s.m)
}

// Selector chooses exactly one provider per capability. It never guesses:
// several candidates without an operator preference is an error.
type Selector struct {
	preferences map[Capability]string
	expected    map[Capability][]string
	offered     map[Capability]map[string]Instance
	selected    map[Capability]string
}

// NewSelector creates a selector honouring the operator's preferences
func NewSelector(preferences map[Capability]string) *Selector {
	prefs := make(map[Capability]string, len(preferences))
	for k, v := range preferences {
		prefs[k] = v
	}
	return &Selector{
		preferences: prefs,
		expected:    make(map[Capability][]string),
		offered:     make(map[Capability]map[string]Instance),
		selected:    make(map[Capability]string),
	}
}

// Select applies the selection rule to one capability's candidate ids
func (s *Selector) Select(c Capability, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("no plugin provides capability %q", c)
	}

	if preferred, ok := s.preferences[c]; ok {
		for _, id := range candidates {
			if id == preferred {
				return id, nil
			}
		}
		return "", fmt.Errorf("%w: %q prefers %s, candidates are %v", ErrInvalidPreference, c, preferred, candidates)
	}

	if len(candidates) == 1 {
		return candidates[0], nil
	}

	return "", &AmbiguousCapabilityError{
		Capability: c,
		Candidates: append([]string(nil), candidates...),
	}
}

// Plan fixes the closed set of providers per capability and checks that
// every capability can be resolved, before any plugin is initialized.
// It returns the capabilities that have a preference but no provider.
func (s *Selector) Plan(providers map[Capability][]string) ([]Capability, error) {
	caps := make([]Capability, 0, len(providers))
	for c := range providers {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })

	for _, c := range caps {
		ids := providers[c]
		if len(ids) == 0 {
			continue
		}
		if _, err := s.Select(c, ids); err != nil {
			return nil, err
		}
		s.expected[c] = append([]string(nil), ids...)
	}

	var unused []Capability
	for c := range s.preferences {
		if len(providers[c]) == 0 {
			unused = append(unused, c)
		}
	}
	sort.Slice(unused, func(i, j int) bool { return unused[i] < unused[j] })
	return unused, nil
}

// Offer registers an initialized instance as a candidate for c. Once every
// planned provider of c has been offered the selection is finalized and
// returned with done set.
func (s *Selector) Offer(c Capability, id string, inst Instance) (chosen Instance, chosenID string, done bool, err error) {
	if _, already := s.selected[c]; already {
		return nil, "", false, fmt.Errorf("capability %q already selected", c)
	}
	if s.offered[c] == nil {
		s.offered[c] = make(map[string]Instance)
	}
	s.offered[c][id] = inst

	expected := s.expected[c]
	if len(expected) == 0 {
		expected = []string{id}
		s.expected[c] = expected
	}
	for _, want := range expected {
		if _, ok := s.offered[c][want]; !ok {
			return nil, "", false, nil
		}
	}

	chosenID, err = s.Select(c, expected)
	if err != nil {
		return nil, "", false, err
	}
	s.selected[c] = chosenID
	return s.offered[c][chosenID], chosenID, true, nil
}

// Selection returns the finalized selections
func (s *Selector) Selection() SelectionMap {
	m := make(map[Capability]string, len(s.selected))
	for k, v := range s.selected {
		m[k] = v
	}
	return SelectionMap{m: m}
}
