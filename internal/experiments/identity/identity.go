// Package identity owns the per-installation randomization unit.
package identity

import (
	"strings"

	"github.com/google/uuid"

	"nimbus/internal/experiments/models"
	dErrors "nimbus/pkg/domain-errors"
)

// New returns a fresh random (v4) randomization unit.
func New() models.RandomizationUnit {
	return uuid.New()
}

// Parse validates a configured randomization unit. Empty, malformed and nil
// UUIDs are rejected so a misconfigured override never buckets every
// installation into the same place.
func Parse(s string) (models.RandomizationUnit, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "randomization unit cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid randomization unit")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "randomization unit cannot be the nil UUID")
	}
	return u, nil
}
