// Package uuid provides ID generation for pipelines and tasks.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewPrefixedID returns "<prefix>-<uuid7>", used for readable task IDs.
func (g Generator) NewPrefixedID(prefix string) (string, error) {
	id, err := g.NewID()
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return id, nil
	}
	return prefix + "-" + id, nil
}
