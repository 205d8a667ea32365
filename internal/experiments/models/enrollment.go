package models

import (
	"github.com/google/uuid"
)

// RandomizationUnit is the stable per-installation identifier that seeds
// bucket assignment. It is generated once and never changes afterwards.
type RandomizationUnit = uuid.UUID

// AppContext describes the local application and device. It is supplied by
// the embedder at construction time and is immutable for the process.
type AppContext struct {
	AppID              string `json:"app_id,omitempty" yaml:"app_id"`
	AppVersion         string `json:"app_version,omitempty" yaml:"app_version"`
	LocaleLanguage     string `json:"locale_language,omitempty" yaml:"locale_language"`
	LocaleCountry      string `json:"locale_country,omitempty" yaml:"locale_country"`
	DeviceManufacturer string `json:"device_manufacturer,omitempty" yaml:"device_manufacturer"`
	DeviceModel        string `json:"device_model,omitempty" yaml:"device_model"`
	Region             string `json:"region,omitempty" yaml:"region"`
	DebugTag           string `json:"debug_tag,omitempty" yaml:"debug_tag"`
}

// BucketAssignment is the installation's fixed point in [0, MaxBuckets).
type BucketAssignment struct {
	BucketNumber uint32 `json:"bucket_number"`
}

// EnrolledExperiment is the durable enrollment decision for one experiment.
type EnrolledExperiment struct {
	ID     string `json:"id"`
	Branch string `json:"branch"`
}

// EnrollmentState is the persisted aggregate. It is written once per fresh
// installation (or explicit reset) and replaced wholesale, never patched.
//
// Invariants:
//   - Bucket.BucketNumber < MaxBuckets
//   - Enrolled holds at most one entry per experiment id
type EnrollmentState struct {
	RandomizationUnit RandomizationUnit    `json:"randomization_unit"`
	AppContext        AppContext           `json:"app_context"`
	Experiments       []Experiment         `json:"experiments"`
	Bucket            BucketAssignment     `json:"bucket"`
	Enrolled          []EnrolledExperiment `json:"enrolled"`
}

// Branch returns the enrolled branch for experimentID.
func (s *EnrollmentState) Branch(experimentID string) (string, bool) {
	for _, e := range s.Enrolled {
		if e.ID == experimentID {
			return e.Branch, true
		}
	}
	return "", false
}
