// Package bucketing maps a randomization unit onto the bucket space and
// decides, per experiment, whether the installation is enrolled and in which
// branch. Every decision is a pure function of the unit, the context and the
// ordered definitions.
package bucketing

import (
	"encoding/binary"
	"log/slog"
	"math/rand"

	"nimbus/internal/experiments/models"
	"nimbus/internal/experiments/targeting"
)

// Reason explains the outcome for one definition.
type Reason string

const (
	ReasonEnrolled          Reason = "enrolled"
	ReasonInvalidDefinition Reason = "invalid_definition"
	ReasonDuplicateID       Reason = "duplicate_id"
	ReasonDisabled          Reason = "disabled"
	ReasonEnrollmentPaused  Reason = "enrollment_paused"
	ReasonTargetingMismatch Reason = "targeting_mismatch"
	ReasonOutOfBucketRange  Reason = "out_of_bucket_range"
)

// Decision is the outcome for one definition, in input order. Branch is the
// drawn branch even when the installation is not enrolled; it is empty for
// definitions that were skipped before the draw.
type Decision struct {
	ExperimentID string
	Branch       string
	Reason       Reason
}

func (d Decision) Enrolled() bool {
	return d.Reason == ReasonEnrolled
}

// Skipped reports whether the definition was rejected as malformed.
func (d Decision) Skipped() bool {
	return d.Reason == ReasonInvalidDefinition || d.Reason == ReasonDuplicateID
}

// Result is the output of Assign.
type Result struct {
	Bucket    models.BucketAssignment
	Enrolled  []models.EnrolledExperiment
	Decisions []Decision
}

// Assigner performs bucket assignment and branch selection.
type Assigner struct {
	matcher  *targeting.Matcher
	selector BranchSelector
	logger   *slog.Logger
}

type Option func(*Assigner)

// WithMatcher sets the targeting matcher. Without one every predicate is
// evaluated by the attribute evaluator.
func WithMatcher(m *targeting.Matcher) Option {
	return func(a *Assigner) {
		if m != nil {
			a.matcher = m
		}
	}
}

// WithRatioWeighting draws branches proportionally to Branch.Ratio instead of
// uniformly.
func WithRatioWeighting() Option {
	return func(a *Assigner) {
		a.selector = WeightedSelector{}
	}
}

// WithBranchSelector installs a custom selector.
func WithBranchSelector(s BranchSelector) Option {
	return func(a *Assigner) {
		if s != nil {
			a.selector = s
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Assigner) {
		a.logger = logger
	}
}

// New constructs an Assigner with uniform branch selection.
func New(opts ...Option) *Assigner {
	a := &Assigner{selector: UniformSelector{}}
	for _, opt := range opts {
		opt(a)
	}
	if a.matcher == nil {
		a.matcher = targeting.NewMatcher(nil, targeting.WithLogger(a.logger))
	}
	return a
}

// BucketNumber takes the leading four bytes of unit as a big-endian integer
// reduced modulo MaxBuckets.
func BucketNumber(unit models.RandomizationUnit) uint32 {
	return binary.BigEndian.Uint32(unit[:4]) % models.MaxBuckets
}

// Assign buckets unit and evaluates every definition in order. The branch
// generator is seeded with the bucket number, so a given bucket always draws
// the same sequence. Malformed definitions are skipped without consuming a
// draw.
func (a *Assigner) Assign(unit models.RandomizationUnit, appCtx models.AppContext, experiments []models.Experiment) Result {
	bucket := BucketNumber(unit)
	rng := rand.New(rand.NewSource(int64(bucket))) //nolint:gosec // reproducibility, not secrecy

	res := Result{
		Bucket:    models.BucketAssignment{BucketNumber: bucket},
		Enrolled:  []models.EnrolledExperiment{},
		Decisions: make([]Decision, 0, len(experiments)),
	}
	seen := make(map[string]struct{}, len(experiments))

	for i := range experiments {
		e := &experiments[i]
		if err := e.Validate(); err != nil {
			a.warn("skipping invalid experiment definition", "experiment_id", e.ID, "error", err)
			res.Decisions = append(res.Decisions, Decision{ExperimentID: e.ID, Reason: ReasonInvalidDefinition})
			continue
		}
		if _, dup := seen[e.ID]; dup {
			a.warn("skipping duplicate experiment definition", "experiment_id", e.ID)
			res.Decisions = append(res.Decisions, Decision{ExperimentID: e.ID, Reason: ReasonDuplicateID})
			continue
		}
		seen[e.ID] = struct{}{}

		branch := e.Branches()[a.selector.Select(rng, e.Branches())].Slug
		reason := a.eligibility(bucket, appCtx, e)
		res.Decisions = append(res.Decisions, Decision{ExperimentID: e.ID, Branch: branch, Reason: reason})
		if reason == ReasonEnrolled {
			res.Enrolled = append(res.Enrolled, models.EnrolledExperiment{ID: e.ID, Branch: branch})
		}
	}
	return res
}

func (a *Assigner) eligibility(bucket uint32, appCtx models.AppContext, e *models.Experiment) Reason {
	switch {
	case !e.Enabled:
		return ReasonDisabled
	case e.Arguments.IsEnrollmentPaused:
		return ReasonEnrollmentPaused
	case !a.matcher.IsEligible(appCtx, e.Targeting):
		return ReasonTargetingMismatch
	case !e.BucketConfig().Contains(bucket):
		return ReasonOutOfBucketRange
	}
	return ReasonEnrolled
}

func (a *Assigner) warn(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Warn(msg, args...)
	}
}
