package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	dErrors "nimbus/pkg/domain-errors"
)

// MaxBuckets is the size of the bucket space every installation falls into.
const MaxBuckets uint32 = 10000

// Experiment is a remote-authored experiment definition as published in the
// catalog. It is immutable once fetched; a new fetch cycle replaces it.
//
// Invariants (see Validate):
//   - ID is non-empty and unique within a catalog
//   - Arguments.Branches is non-empty and every branch has a slug
//   - the bucket range lies inside the declared bucket total
type Experiment struct {
	ID               string              `json:"id"`
	FilterExpression string              `json:"filter_expression"`
	Targeting        *string             `json:"targeting"`
	Enabled          bool                `json:"enabled"`
	Arguments        ExperimentArguments `json:"arguments"`
}

// ExperimentArguments holds the experimenter-facing part of a definition.
type ExperimentArguments struct {
	Slug                  string       `json:"slug"`
	UserFacingName        string       `json:"userFacingName"`
	UserFacingDescription string       `json:"userFacingDescription"`
	Active                bool         `json:"active"`
	IsEnrollmentPaused    bool         `json:"isEnrollmentPaused"`
	BucketConfig          BucketConfig `json:"bucketConfig"`
	Features              []string     `json:"features"`
	Branches              []Branch     `json:"branches"`
	StartDate             *time.Time   `json:"startDate"`
	EndDate               *time.Time   `json:"endDate"`
	ProposedDuration      uint64       `json:"proposedDuration"`
	ProposedEnrollment    uint64       `json:"proposedEnrollment"`
	ReferenceBranch       *string      `json:"referenceBranch"`
}

// BucketConfig claims the sub-range [Start, Start+Count) of the bucket space.
type BucketConfig struct {
	RandomizationUnit RandomizationUnitKind `json:"randomizationUnit,omitempty"`
	Namespace         string                `json:"namespace"`
	Start             uint32                `json:"start"`
	Count             uint32                `json:"count"`
	Total             uint32                `json:"total"`
}

// Contains reports whether bucket falls inside [Start, Start+Count).
// The sum is computed in 64 bits so a range near the top of uint32 cannot wrap.
func (c BucketConfig) Contains(bucket uint32) bool {
	return bucket >= c.Start && uint64(bucket) < uint64(c.Start)+uint64(c.Count)
}

// RandomizationUnitKind names which identifier an experiment buckets on. An
// absent kind decodes as empty and is accepted; an unknown kind is kept as
// published and rejected by Experiment.Validate.
type RandomizationUnitKind string

const (
	RandomizationClientID   RandomizationUnitKind = "client_id"
	RandomizationNormandyID RandomizationUnitKind = "normandy_id"
	RandomizationUserID     RandomizationUnitKind = "user_id"
)

func (k RandomizationUnitKind) IsValid() bool {
	switch k {
	case RandomizationClientID, RandomizationNormandyID, RandomizationUserID:
		return true
	}
	return false
}

// Branch is one treatment arm. Ratio is a relative weight; ratios need not
// sum to any constant.
type Branch struct {
	Slug  string          `json:"slug"`
	Ratio uint32          `json:"ratio"`
	Group []BranchGroup   `json:"group,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// UnmarshalJSON compacts Value and folds an empty Group to nil, so a decoded
// branch equals its own persisted round-trip.
func (b *Branch) UnmarshalJSON(data []byte) error {
	type plain Branch
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if len(p.Value) > 0 {
		var compact bytes.Buffer
		if err := json.Compact(&compact, p.Value); err != nil {
			return err
		}
		var escaped bytes.Buffer
		json.HTMLEscape(&escaped, compact.Bytes())
		p.Value = escaped.Bytes()
	}
	if len(p.Group) == 0 {
		p.Group = nil
	}
	*b = Branch(p)
	return nil
}

// BranchGroup tags the surface a branch is delivered through.
type BranchGroup string

const (
	GroupCFR          BranchGroup = "cfr"
	GroupAboutWelcome BranchGroup = "aboutwelcome"
)

// BucketConfig returns the claimed bucket range.
func (e *Experiment) BucketConfig() BucketConfig {
	return e.Arguments.BucketConfig
}

// Branches returns the ordered branch list.
func (e *Experiment) Branches() []Branch {
	return e.Arguments.Branches
}

// HasTargeting reports whether the definition carries a non-blank predicate.
func (e *Experiment) HasTargeting() bool {
	return e.Targeting != nil && strings.TrimSpace(*e.Targeting) != ""
}

// Validate checks the structural invariants the bucketing step relies on.
// Violations carry CodeInvalidDefinition so callers can skip the definition
// instead of aborting the whole catalog.
func (e *Experiment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return dErrors.New(dErrors.CodeInvalidDefinition, "experiment id cannot be empty")
	}
	if len(e.Arguments.Branches) == 0 {
		return dErrors.New(dErrors.CodeInvalidDefinition, fmt.Sprintf("experiment %s has no branches", e.ID))
	}
	for i, b := range e.Arguments.Branches {
		if strings.TrimSpace(b.Slug) == "" {
			return dErrors.New(dErrors.CodeInvalidDefinition, fmt.Sprintf("experiment %s branch %d has no slug", e.ID, i))
		}
	}
	cfg := e.Arguments.BucketConfig
	if cfg.RandomizationUnit != "" && !cfg.RandomizationUnit.IsValid() {
		return dErrors.New(dErrors.CodeInvalidDefinition,
			fmt.Sprintf("experiment %s has unknown randomization unit %q", e.ID, cfg.RandomizationUnit))
	}
	if cfg.Total > 0 && uint64(cfg.Start)+uint64(cfg.Count) > uint64(cfg.Total) {
		return dErrors.New(dErrors.CodeInvalidDefinition,
			fmt.Sprintf("experiment %s bucket range [%d, %d) exceeds total %d", e.ID, cfg.Start, uint64(cfg.Start)+uint64(cfg.Count), cfg.Total))
	}
	return nil
}
