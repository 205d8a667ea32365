// Package service is the enrollment engine. Construction either restores the
// persisted enrollment state or runs a fresh enrollment (fetch, assign,
// persist); afterwards the engine answers read-only queries from memory.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nimbus/internal/experiments/bucketing"
	"nimbus/internal/experiments/catalog"
	"nimbus/internal/experiments/metrics"
	"nimbus/internal/experiments/models"
	"nimbus/internal/experiments/store"
	"nimbus/internal/experiments/targeting"
	dErrors "nimbus/pkg/domain-errors"
)

// ErrNotEnrolled is returned by GetExperimentBranch for experiments the
// installation is not enrolled in. Errors also carry CodeNotEnrolled.
var ErrNotEnrolled = errors.New("not enrolled")

// Fetcher retrieves the experiment catalog.
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.Experiment, error)
}

// Engine holds the materialized enrollment state. It is immutable after New
// returns and safe for concurrent readers.
type Engine struct {
	store          store.Store
	fetcher        Fetcher
	catalogOpts    []catalog.Option
	evaluator      targeting.Evaluator
	assignerOpts   []bucketing.Option
	resetOnCorrupt bool
	logger         *slog.Logger
	metrics        *metrics.Metrics

	state     models.EnrollmentState
	cached    bool
	decisions []bucketing.Decision
}

type Option func(e *Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithFetcher replaces the HTTP catalog client built from Config.
func WithFetcher(f Fetcher) Option {
	return func(e *Engine) {
		e.fetcher = f
	}
}

// WithCatalogOptions configures the default catalog client.
func WithCatalogOptions(opts ...catalog.Option) Option {
	return func(e *Engine) {
		e.catalogOpts = append(e.catalogOpts, opts...)
	}
}

// WithEvaluator sets the targeting predicate language.
func WithEvaluator(ev targeting.Evaluator) Option {
	return func(e *Engine) {
		e.evaluator = ev
	}
}

// WithRatioWeighting draws branches proportionally to their ratios.
func WithRatioWeighting() Option {
	return func(e *Engine) {
		e.assignerOpts = append(e.assignerOpts, bucketing.WithRatioWeighting())
	}
}

// WithResetOnCorrupt treats an undecodable persisted record as absent and
// re-enrolls instead of failing construction.
func WithResetOnCorrupt() Option {
	return func(e *Engine) {
		e.resetOnCorrupt = true
	}
}

// New restores persisted enrollment state from st or, when none exists,
// enrolls afresh and persists the result. Any failure on the fresh path
// aborts construction; nothing partial is persisted.
func New(ctx context.Context, appCtx models.AppContext, st store.Store, cfg Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "store is required")
	}
	e := &Engine{store: st}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}

	state, found, err := store.GetJSON[models.EnrollmentState](ctx, st, store.PersistedKey)
	if err == nil && found {
		err = checkPersisted(&state)
	}
	switch {
	case err == nil && found:
		e.state = state
		e.cached = true
		e.incrementCacheHit()
		e.logger.InfoContext(ctx, "enrollment state restored",
			"bucket", state.Bucket.BucketNumber,
			"enrolled", len(state.Enrolled))
		return e, nil
	case err != nil && store.IsCorrupt(err) && e.resetOnCorrupt:
		e.logger.WarnContext(ctx, "discarding corrupt enrollment state", "error", err)
	case err != nil && store.IsCorrupt(err):
		e.incrementPersistFailure()
		return nil, dErrors.Wrap(err, dErrors.CodeCorruptRecord, "persisted enrollment state is unreadable")
	case err != nil:
		e.incrementPersistFailure()
		return nil, dErrors.Wrap(err, dErrors.CodePersistFailed, "failed to load enrollment state")
	}

	if err := e.enroll(ctx, appCtx, cfg.Resolved()); err != nil {
		return nil, err
	}
	return e, nil
}

// checkPersisted rejects a decoded state that violates the model invariants.
func checkPersisted(state *models.EnrollmentState) error {
	if state.Bucket.BucketNumber >= models.MaxBuckets {
		return &store.PersistError{
			Category: store.ErrorCorruptRecord,
			Key:      store.PersistedKey,
			Message:  fmt.Sprintf("bucket %d outside bucket space", state.Bucket.BucketNumber),
		}
	}
	seen := make(map[string]struct{}, len(state.Enrolled))
	for _, en := range state.Enrolled {
		if _, dup := seen[en.ID]; dup {
			return &store.PersistError{
				Category: store.ErrorCorruptRecord,
				Key:      store.PersistedKey,
				Message:  fmt.Sprintf("experiment %s enrolled twice", en.ID),
			}
		}
		seen[en.ID] = struct{}{}
	}
	return nil
}

func (e *Engine) enroll(ctx context.Context, appCtx models.AppContext, cfg Config) error {
	fetcher := e.fetcher
	if fetcher == nil {
		client, err := catalog.NewClient(cfg.ServerURL, cfg.CollectionName, cfg.BucketName,
			append([]catalog.Option{catalog.WithLogger(e.logger)}, e.catalogOpts...)...)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid catalog configuration")
		}
		fetcher = client
	}

	start := time.Now()
	experiments, err := fetcher.Fetch(ctx)
	e.observeFetch(start)
	if err != nil {
		e.incrementFetchFailure(string(catalog.GetCategory(err)))
		return dErrors.Wrap(err, dErrors.CodeFetchFailed, "failed to fetch experiment catalog")
	}
	if experiments == nil {
		experiments = []models.Experiment{}
	}

	assigner := bucketing.New(append([]bucketing.Option{
		bucketing.WithMatcher(targeting.NewMatcher(e.evaluator, targeting.WithLogger(e.logger))),
		bucketing.WithLogger(e.logger),
	}, e.assignerOpts...)...)
	unit := *cfg.RandomizationUnit
	result := assigner.Assign(unit, appCtx, experiments)

	for _, d := range result.Decisions {
		e.incrementDecision(string(d.Reason))
		if d.Skipped() {
			e.logger.WarnContext(ctx, "experiment definition skipped",
				"experiment_id", d.ExperimentID,
				"reason", d.Reason)
		}
	}

	state := models.EnrollmentState{
		RandomizationUnit: unit,
		AppContext:        appCtx,
		Experiments:       experiments,
		Bucket:            result.Bucket,
		Enrolled:          result.Enrolled,
	}
	if err := store.PutJSON(ctx, e.store, store.PersistedKey, state); err != nil {
		e.incrementPersistFailure()
		return dErrors.Wrap(err, dErrors.CodePersistFailed, "failed to persist enrollment state")
	}

	e.state = state
	e.decisions = result.Decisions
	e.addEnrollments(len(result.Enrolled))
	e.logger.InfoContext(ctx, "enrollment completed",
		"bucket", result.Bucket.BucketNumber,
		"experiments", len(experiments),
		"enrolled", len(result.Enrolled))
	return nil
}

// GetExperimentBranch returns the branch slug the installation is enrolled
// in for experimentID.
func (e *Engine) GetExperimentBranch(experimentID string) (string, error) {
	branch, ok := e.state.Branch(experimentID)
	if !ok {
		return "", dErrors.Wrap(ErrNotEnrolled, dErrors.CodeNotEnrolled,
			fmt.Sprintf("installation is not enrolled in experiment %s", experimentID))
	}
	return branch, nil
}

// LookupBranch is GetExperimentBranch in comma-ok form.
func (e *Engine) LookupBranch(experimentID string) (string, bool) {
	return e.state.Branch(experimentID)
}

func (e *Engine) GetEnrolledExperiments() []models.EnrolledExperiment {
	return append([]models.EnrolledExperiment{}, e.state.Enrolled...)
}

// GetExperiments returns every fetched definition, enrolled or not.
func (e *Engine) GetExperiments() []models.Experiment {
	return append([]models.Experiment{}, e.state.Experiments...)
}

func (e *Engine) GetBucket() uint32 {
	return e.state.Bucket.BucketNumber
}

func (e *Engine) RandomizationUnit() models.RandomizationUnit {
	return e.state.RandomizationUnit
}

// State returns a copy of the materialized state.
func (e *Engine) State() models.EnrollmentState {
	s := e.state
	s.Experiments = e.GetExperiments()
	s.Enrolled = e.GetEnrolledExperiments()
	return s
}

// IsCached reports whether the state was restored rather than enrolled.
func (e *Engine) IsCached() bool {
	return e.cached
}

// Decisions returns the per-experiment outcomes of a fresh enrollment. It is
// empty for engines restored from persisted state.
func (e *Engine) Decisions() []bucketing.Decision {
	return append([]bucketing.Decision{}, e.decisions...)
}

// Reset deletes the persisted state so the next construction enrolls afresh.
// The receiver keeps answering from its in-memory copy.
func (e *Engine) Reset(ctx context.Context) error {
	if err := ResetState(ctx, e.store); err != nil {
		e.incrementPersistFailure()
		return err
	}
	e.logger.InfoContext(ctx, "enrollment state reset")
	return nil
}

// ResetState deletes the persisted state in st without constructing an
// engine. Deleting absent state succeeds.
func ResetState(ctx context.Context, st store.Store) error {
	if err := st.Delete(ctx, store.PersistedKey); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistFailed, "failed to reset enrollment state")
	}
	return nil
}
