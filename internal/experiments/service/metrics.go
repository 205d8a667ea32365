package service

import "time"

func (e *Engine) observeFetch(start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveFetch(start)
	}
}

func (e *Engine) incrementFetchFailure(category string) {
	if e.metrics != nil {
		e.metrics.IncrementFetchFailure(category)
	}
}

func (e *Engine) incrementCacheHit() {
	if e.metrics != nil {
		e.metrics.IncrementCacheHit()
	}
}

func (e *Engine) incrementDecision(reason string) {
	if e.metrics != nil {
		e.metrics.IncrementDecision(reason)
	}
}

func (e *Engine) addEnrollments(n int) {
	if e.metrics != nil {
		e.metrics.AddEnrollments(n)
	}
}

func (e *Engine) incrementPersistFailure() {
	if e.metrics != nil {
		e.metrics.IncrementPersistFailure()
	}
}
