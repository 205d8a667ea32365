// Package targeting decides whether an experiment's targeting predicate admits
// the local application context. The predicate language is pluggable: the
// Matcher only knows that an absent predicate admits everyone and that an
// evaluation failure admits no one.
package targeting

import (
	"log/slog"
	"strings"

	"nimbus/internal/experiments/models"
)

// Evaluator evaluates one targeting expression against the local context.
type Evaluator interface {
	Evaluate(appCtx models.AppContext, expression string) (bool, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(appCtx models.AppContext, expression string) (bool, error)

func (f EvaluatorFunc) Evaluate(appCtx models.AppContext, expression string) (bool, error) {
	return f(appCtx, expression)
}

// Always admits every context regardless of the expression.
var Always Evaluator = EvaluatorFunc(func(models.AppContext, string) (bool, error) { return true, nil })

// Never rejects every context that carries an expression.
var Never Evaluator = EvaluatorFunc(func(models.AppContext, string) (bool, error) { return false, nil })

// Matcher applies an Evaluator with the eligibility rules shared by every
// predicate language.
type Matcher struct {
	evaluator Evaluator
	logger    *slog.Logger
}

type Option func(*Matcher)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

// NewMatcher builds a Matcher. A nil evaluator falls back to the attribute
// evaluator.
func NewMatcher(evaluator Evaluator, opts ...Option) *Matcher {
	if evaluator == nil {
		evaluator = NewAttributeEvaluator()
	}
	m := &Matcher{evaluator: evaluator}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsEligible reports whether predicate admits appCtx. A nil or blank predicate
// is unconditional eligibility. Evaluator errors and panics count as
// ineligible.
func (m *Matcher) IsEligible(appCtx models.AppContext, predicate *string) (eligible bool) {
	if predicate == nil || strings.TrimSpace(*predicate) == "" {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			m.warn("targeting evaluator panicked", "predicate", *predicate, "panic", r)
			eligible = false
		}
	}()
	ok, err := m.evaluator.Evaluate(appCtx, *predicate)
	if err != nil {
		m.warn("targeting predicate rejected", "predicate", *predicate, "error", err)
		return false
	}
	return ok
}

func (m *Matcher) warn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}
