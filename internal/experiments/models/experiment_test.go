package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "nimbus/pkg/domain-errors"
)

func newExperiment(id string, start, count uint32, slugs ...string) Experiment {
	branches := make([]Branch, 0, len(slugs))
	for _, s := range slugs {
		branches = append(branches, Branch{Slug: s, Ratio: 1})
	}
	return Experiment{
		ID:      id,
		Enabled: true,
		Arguments: ExperimentArguments{
			Slug:         id,
			BucketConfig: BucketConfig{RandomizationUnit: RandomizationClientID, Namespace: "ns", Start: start, Count: count, Total: MaxBuckets},
			Branches:     branches,
		},
	}
}

func TestBucketConfig_Contains(t *testing.T) {
	cfg := BucketConfig{Start: 100, Count: 50}

	assert.False(t, cfg.Contains(99), "below start")
	assert.True(t, cfg.Contains(100), "start is inclusive")
	assert.True(t, cfg.Contains(149))
	assert.False(t, cfg.Contains(150), "end is exclusive")

	t.Run("empty range contains nothing", func(t *testing.T) {
		empty := BucketConfig{Start: 10, Count: 0}
		assert.False(t, empty.Contains(10))
	})

	t.Run("range near uint32 max does not wrap", func(t *testing.T) {
		high := BucketConfig{Start: math.MaxUint32 - 1, Count: 10}
		assert.True(t, high.Contains(math.MaxUint32))
		assert.False(t, high.Contains(0))
	})
}

func TestExperiment_Validate(t *testing.T) {
	t.Run("valid definition", func(t *testing.T) {
		e := newExperiment("exp-1", 0, 5000, "control", "treatment")
		assert.NoError(t, e.Validate())
	})

	t.Run("empty branches", func(t *testing.T) {
		e := newExperiment("exp-1", 0, 5000)
		err := e.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidDefinition))
	})

	t.Run("empty id", func(t *testing.T) {
		e := newExperiment(" ", 0, 5000, "control")
		assert.True(t, dErrors.HasCode(e.Validate(), dErrors.CodeInvalidDefinition))
	})

	t.Run("blank branch slug", func(t *testing.T) {
		e := newExperiment("exp-1", 0, 5000, "control", "")
		assert.True(t, dErrors.HasCode(e.Validate(), dErrors.CodeInvalidDefinition))
	})

	t.Run("range beyond total", func(t *testing.T) {
		e := newExperiment("exp-1", 9000, 2000, "control")
		assert.True(t, dErrors.HasCode(e.Validate(), dErrors.CodeInvalidDefinition))
	})

	t.Run("zero total skips range check", func(t *testing.T) {
		e := newExperiment("exp-1", 9000, 2000, "control")
		e.Arguments.BucketConfig.Total = 0
		assert.NoError(t, e.Validate())
	})
}

func TestExperiment_DecodeCatalogRecord(t *testing.T) {
	record := []byte(`{
		"id": "secure-gold",
		"filter_expression": "env.version|versionCompare('68.0') >= 0",
		"targeting": null,
		"enabled": true,
		"arguments": {
			"slug": "secure-gold",
			"userFacingName": "Secure Gold",
			"userFacingDescription": "A test experiment",
			"active": true,
			"isEnrollmentPaused": false,
			"bucketConfig": {"randomizationUnit": "normandy_id", "namespace": "secure-gold", "start": 0, "count": 2000, "total": 10000},
			"features": ["cfr"],
			"branches": [
				{"slug": "control", "ratio": 1, "value": {}},
				{"slug": "treatment", "ratio": 2, "group": ["cfr"], "value": {"color": "gold"}}
			],
			"startDate": "2020-06-17T00:00:00Z",
			"endDate": null,
			"proposedDuration": 28,
			"proposedEnrollment": 7,
			"referenceBranch": "control"
		}
	}`)

	var e Experiment
	require.NoError(t, json.Unmarshal(record, &e))

	assert.Equal(t, "secure-gold", e.ID)
	assert.False(t, e.HasTargeting())
	assert.Equal(t, RandomizationNormandyID, e.BucketConfig().RandomizationUnit)
	assert.Equal(t, uint32(2000), e.BucketConfig().Count)
	require.Len(t, e.Branches(), 2)
	assert.Equal(t, []BranchGroup{GroupCFR}, e.Branches()[1].Group)
	assert.JSONEq(t, `{"color":"gold"}`, string(e.Branches()[1].Value))
	require.NotNil(t, e.Arguments.StartDate)
	assert.Equal(t, 2020, e.Arguments.StartDate.Year())
	assert.Nil(t, e.Arguments.EndDate)
	require.NotNil(t, e.Arguments.ReferenceBranch)
	assert.Equal(t, "control", *e.Arguments.ReferenceBranch)
}

func TestRandomizationUnitKind_DecodeIsTolerant(t *testing.T) {
	t.Run("absent kind round-trips as absent", func(t *testing.T) {
		var cfg BucketConfig
		require.NoError(t, json.Unmarshal([]byte(`{"namespace": "ns", "start": 0, "count": 10}`), &cfg))
		assert.Empty(t, cfg.RandomizationUnit)

		data, err := json.Marshal(cfg)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "randomizationUnit")

		var again BucketConfig
		require.NoError(t, json.Unmarshal(data, &again))
		assert.Equal(t, cfg, again)
	})

	t.Run("unknown kind decodes and fails validation", func(t *testing.T) {
		var cfg BucketConfig
		require.NoError(t, json.Unmarshal([]byte(`{"randomizationUnit": "device_id"}`), &cfg))
		assert.Equal(t, RandomizationUnitKind("device_id"), cfg.RandomizationUnit)

		e := newExperiment("exp-1", 0, 5000, "control")
		e.Arguments.BucketConfig.RandomizationUnit = cfg.RandomizationUnit
		assert.True(t, dErrors.HasCode(e.Validate(), dErrors.CodeInvalidDefinition))
	})

	t.Run("absent kind passes validation", func(t *testing.T) {
		e := newExperiment("exp-1", 0, 5000, "control")
		e.Arguments.BucketConfig.RandomizationUnit = ""
		assert.NoError(t, e.Validate())
	})
}

func TestBranch_DecodeMatchesRoundTrip(t *testing.T) {
	var b Branch
	require.NoError(t, json.Unmarshal([]byte(`{
		"slug": "treatment",
		"ratio": 1,
		"group": [],
		"value": { "title": "a <b> & c",
			"items": [ 1, 2 ] }
	}`), &b))

	assert.Equal(t, `{"title":"a \u003cb\u003e \u0026 c","items":[1,2]}`, string(b.Value))
	assert.Nil(t, b.Group)

	data, err := json.Marshal(b)
	require.NoError(t, err)
	var again Branch
	require.NoError(t, json.Unmarshal(data, &again))
	assert.Equal(t, b, again)
}

func TestEnrollmentState_Branch(t *testing.T) {
	state := EnrollmentState{Enrolled: []EnrolledExperiment{{ID: "a", Branch: "control"}}}

	branch, ok := state.Branch("a")
	assert.True(t, ok)
	assert.Equal(t, "control", branch)

	_, ok = state.Branch("missing")
	assert.False(t, ok)
}
