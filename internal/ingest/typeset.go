package ingest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var validLabel = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TypeSet is a validated, deduplicated set of graph labels. The zero value
// means "no restriction".
type TypeSet struct {
	labels map[string]struct{}
}

// NewTypeSet validates labels and builds a set. Surrounding whitespace is trimmed.
func NewTypeSet(labels ...string) (TypeSet, error) {
	set := TypeSet{labels: make(map[string]struct{}, len(labels))}
	for _, raw := range labels {
		label := strings.TrimSpace(raw)
		if !validLabel.MatchString(label) {
			return TypeSet{}, fmt.Errorf("invalid label %q: %w", raw, ErrValidation)
		}
		set.labels[label] = struct{}{}
	}
	return set, nil
}

// ParseTypeSet parses a comma-separated label list. An empty string yields an
// unrestricted set.
func ParseTypeSet(csv string) (TypeSet, error) {
	if strings.TrimSpace(csv) == "" {
		return TypeSet{}, nil
	}
	return NewTypeSet(strings.Split(csv, ",")...)
}

// Empty reports whether the set imposes no restriction.
func (s TypeSet) Empty() bool {
	return len(s.labels) == 0
}

// Contains reports whether label is allowed. An empty set allows everything.
func (s TypeSet) Contains(label string) bool {
	if s.Empty() {
		return true
	}
	_, ok := s.labels[label]
	return ok
}

// Labels returns the sorted labels.
func (s TypeSet) Labels() []string {
	out := make([]string, 0, len(s.labels))
	for label := range s.labels {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// String renders the set as a comma-separated list.
func (s TypeSet) String() string {
	return strings.Join(s.Labels(), ",")
}
