// Package uuid provides run ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues run identifiers.
type Generator struct{}

// NewRunID returns a time-ordered UUIDv7 string, so run IDs sort by start
// time in logs and datasets.
func (Generator) NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
