// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v4 strings, the format the downstream consumer
// expects for correlation and metadata IDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv4 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return id.String(), nil
}

// IsV4 reports whether s is a well-formed UUID v4.
func IsV4(s string) bool {
	parsed, err := uuid.Parse(s)
	return err == nil && parsed.Version() == 4
}
