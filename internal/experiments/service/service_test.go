package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"nimbus/internal/experiments/bucketing"
	"nimbus/internal/experiments/catalog"
	"nimbus/internal/experiments/metrics"
	"nimbus/internal/experiments/models"
	"nimbus/internal/experiments/service/mocks"
	"nimbus/internal/experiments/store"
	"nimbus/internal/experiments/targeting"
	dErrors "nimbus/pkg/domain-errors"
	"nimbus/pkg/platform/sentinel"
)

//go:generate mockgen -source=service.go -destination=mocks/fetcher_mock.go -package=mocks Fetcher
//go:generate mockgen -destination=mocks/store_mock.go -package=mocks nimbus/internal/experiments/store Store

// bucketOneUnit hashes to bucket 1: its leading bytes are 0x00002711 = 10001.
var bucketOneUnit = uuid.MustParse("00002711-0000-4000-8000-000000000000")

func experiment(id string, start, count uint32, slugs ...string) models.Experiment {
	branches := make([]models.Branch, 0, len(slugs))
	for _, s := range slugs {
		branches = append(branches, models.Branch{Slug: s, Ratio: 1})
	}
	return models.Experiment{
		ID:      id,
		Enabled: true,
		Arguments: models.ExperimentArguments{
			Slug: id,
			BucketConfig: models.BucketConfig{
				RandomizationUnit: models.RandomizationClientID,
				Namespace:         id,
				Start:             start,
				Count:             count,
				Total:             models.MaxBuckets,
			},
			Branches: branches,
		},
	}
}

type EngineSuite struct {
	suite.Suite
	ctx     context.Context
	ctrl    *gomock.Controller
	fetcher *mocks.MockFetcher
	store   *store.InMemoryStore
	cfg     Config
	appCtx  models.AppContext
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.fetcher = mocks.NewMockFetcher(s.ctrl)
	s.store = store.NewInMemoryStore()
	unit := bucketOneUnit
	s.cfg = Config{RandomizationUnit: &unit}
	s.appCtx = models.AppContext{AppID: "org.example.app", AppVersion: "1.2.0", LocaleLanguage: "en"}
}

func (s *EngineSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *EngineSuite) newEngine(opts ...Option) (*Engine, error) {
	return New(s.ctx, s.appCtx, s.store, s.cfg, append([]Option{WithFetcher(s.fetcher)}, opts...)...)
}

func (s *EngineSuite) TestFreshEnrollment() {
	s.fetcher.EXPECT().Fetch(gomock.Any()).Return([]models.Experiment{
		experiment("in-range", 0, 5000, "control", "treatment"),
		experiment("out-of-range", 5000, 100, "control", "treatment"),
	}, nil)

	engine, err := s.newEngine()
	s.Require().NoError(err)

	s.False(engine.IsCached())
	s.Equal(uint32(1), engine.GetBucket())
	s.Equal(bucketOneUnit, engine.RandomizationUnit())
	s.Len(engine.GetExperiments(), 2)

	branch, err := engine.GetExperimentBranch("in-range")
	s.Require().NoError(err)
	s.Contains([]string{"control", "treatment"}, branch)

	_, ok := engine.LookupBranch("out-of-range")
	s.False(ok)

	s.Run("state is persisted", func() {
		persisted, found, err := store.GetJSON[models.EnrollmentState](s.ctx, s.store, store.PersistedKey)
		s.Require().NoError(err)
		s.True(found)
		s.Equal(engine.State(), persisted)
		s.Equal(s.appCtx, persisted.AppContext)
	})

	s.Run("decisions are recorded", func() {
		decisions := engine.Decisions()
		s.Require().Len(decisions, 2)
		s.True(decisions[0].Enrolled())
		s.False(decisions[1].Enrolled())
	})
}

func (s *EngineSuite) TestCachedConstructionDoesNotFetch() {
	s.fetcher.EXPECT().Fetch(gomock.Any()).Return([]models.Experiment{
		experiment("exp", 0, models.MaxBuckets, "a", "b", "c"),
	}, nil).Times(1)

	first, err := s.newEngine()
	s.Require().NoError(err)

	other := uuid.New()
	s.cfg.RandomizationUnit = &other
	second, err := s.newEngine()
	s.Require().NoError(err)

	s.True(second.IsCached())
	s.Equal(first.State(), second.State())
	s.Equal(bucketOneUnit, second.RandomizationUnit(), "persisted unit wins over config")
	s.Empty(second.Decisions())
}

func (s *EngineSuite) TestEmptyBranchesListedButNotEnrolled() {
	s.fetcher.EXPECT().Fetch(gomock.Any()).Return([]models.Experiment{
		experiment("empty", 0, models.MaxBuckets),
		experiment("full", 0, models.MaxBuckets, "only"),
	}, nil)

	engine, err := s.newEngine()
	s.Require().NoError(err)

	s.Len(engine.GetExperiments(), 2)
	s.Equal([]models.EnrolledExperiment{{ID: "full", Branch: "only"}}, engine.GetEnrolledExperiments())
}

func (s *EngineSuite) TestEmptyCatalog() {
	s.fetcher.EXPECT().Fetch(gomock.Any()).Return(nil, nil)

	engine, err := s.newEngine()
	s.Require().NoError(err)

	s.Empty(engine.GetEnrolledExperiments())
	s.NotNil(engine.GetExperiments())
}

func (s *EngineSuite) TestGetExperimentBranchMiss() {
	s.fetcher.EXPECT().Fetch(gomock.Any()).Return(nil, nil)

	engine, err := s.newEngine()
	s.Require().NoError(err)

	_, err = engine.GetExperimentBranch("unknown")
	s.Require().Error(err)
	s.True(errors.Is(err, ErrNotEnrolled))
	s.True(dErrors.HasCode(err, dErrors.CodeNotEnrolled))
}

func (s *EngineSuite) TestFetchFailureAbortsConstruction() {
	s.fetcher.EXPECT().Fetch(gomock.Any()).Return(nil,
		catalog.NewFetchError(catalog.ErrorTimeout, "deadline exceeded", context.DeadlineExceeded))

	engine, err := s.newEngine()
	s.Require().Error(err)
	s.Nil(engine)
	s.True(dErrors.HasCode(err, dErrors.CodeFetchFailed))
	s.Equal(catalog.ErrorTimeout, catalog.GetCategory(err))

	_, found, err := store.GetJSON[models.EnrollmentState](s.ctx, s.store, store.PersistedKey)
	s.Require().NoError(err)
	s.False(found, "nothing is persisted on failure")
}

func (s *EngineSuite) TestCorruptRecord() {
	s.Require().NoError(s.store.Put(s.ctx, store.PersistedKey, []byte("{truncated")))

	s.Run("fails construction by default", func() {
		_, err := s.newEngine()
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeCorruptRecord))
		s.True(store.IsCorrupt(err))
	})

	s.Run("re-enrolls when reset on corrupt is set", func() {
		s.fetcher.EXPECT().Fetch(gomock.Any()).Return([]models.Experiment{
			experiment("exp", 0, models.MaxBuckets, "only"),
		}, nil)

		engine, err := s.newEngine(WithResetOnCorrupt())
		s.Require().NoError(err)
		s.False(engine.IsCached())
		branch, err := engine.GetExperimentBranch("exp")
		s.Require().NoError(err)
		s.Equal("only", branch)
	})
}

func (s *EngineSuite) TestPersistedStateViolatingInvariantsIsCorrupt() {
	s.Require().NoError(store.PutJSON(s.ctx, s.store, store.PersistedKey, models.EnrollmentState{
		Bucket: models.BucketAssignment{BucketNumber: models.MaxBuckets},
	}))

	_, err := s.newEngine()
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeCorruptRecord))
}

func (s *EngineSuite) TestTargetingUsesInjectedEvaluator() {
	predicate := "anything"
	targeted := experiment("targeted", 0, models.MaxBuckets, "only")
	targeted.Targeting = &predicate
	s.fetcher.EXPECT().Fetch(gomock.Any()).Return([]models.Experiment{targeted}, nil)

	engine, err := s.newEngine(WithEvaluator(targeting.Never))
	s.Require().NoError(err)
	s.Empty(engine.GetEnrolledExperiments())
}

func (s *EngineSuite) TestResetDeletesPersistedState() {
	s.fetcher.EXPECT().Fetch(gomock.Any()).Return(nil, nil).Times(2)

	engine, err := s.newEngine()
	s.Require().NoError(err)
	s.Require().NoError(engine.Reset(s.ctx))

	again, err := s.newEngine()
	s.Require().NoError(err)
	s.False(again.IsCached())
}

func (s *EngineSuite) TestMetrics() {
	s.fetcher.EXPECT().Fetch(gomock.Any()).Return([]models.Experiment{
		experiment("first", 0, models.MaxBuckets, "only"),
		experiment("second", 0, models.MaxBuckets, "only"),
	}, nil)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	_, err := s.newEngine(WithMetrics(m))
	s.Require().NoError(err)
	_, err = s.newEngine(WithMetrics(m))
	s.Require().NoError(err)

	s.Equal(float64(1), testutil.ToFloat64(m.CatalogFetches))
	s.Equal(float64(2), testutil.ToFloat64(m.Enrollments))
	s.Equal(float64(1), testutil.ToFloat64(m.CacheHits))
}

func TestNew_StoreFailures(t *testing.T) {
	ctx := context.Background()
	unit := bucketOneUnit
	cfg := Config{RandomizationUnit: &unit}

	t.Run("nil store is rejected", func(t *testing.T) {
		_, err := New(ctx, models.AppContext{}, nil, cfg)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("unreadable store", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		fetcher := mocks.NewMockFetcher(ctrl)
		st.EXPECT().Get(gomock.Any(), store.PersistedKey).Return(nil, sentinel.ErrUnavailable)

		_, err := New(ctx, models.AppContext{}, st, cfg, WithFetcher(fetcher))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodePersistFailed))
	})

	t.Run("write failure aborts construction", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		fetcher := mocks.NewMockFetcher(ctrl)
		st.EXPECT().Get(gomock.Any(), store.PersistedKey).Return(nil, fmt.Errorf("lookup: %w", sentinel.ErrNotFound))
		fetcher.EXPECT().Fetch(gomock.Any()).Return([]models.Experiment{experiment("exp", 0, 10, "a")}, nil)
		st.EXPECT().Put(gomock.Any(), store.PersistedKey, gomock.Any()).Return(errors.New("disk full"))

		engine, err := New(ctx, models.AppContext{}, st, cfg, WithFetcher(fetcher))
		require.Error(t, err)
		assert.Nil(t, engine)
		assert.True(t, dErrors.HasCode(err, dErrors.CodePersistFailed))
	})

	t.Run("reset failure is reported", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		fetcher := mocks.NewMockFetcher(ctrl)
		st.EXPECT().Get(gomock.Any(), store.PersistedKey).Return(nil, sentinel.ErrNotFound)
		fetcher.EXPECT().Fetch(gomock.Any()).Return(nil, nil)
		st.EXPECT().Put(gomock.Any(), store.PersistedKey, gomock.Any()).Return(nil)
		st.EXPECT().Delete(gomock.Any(), store.PersistedKey).Return(sentinel.ErrUnavailable)

		engine, err := New(ctx, models.AppContext{}, st, cfg, WithFetcher(fetcher))
		require.NoError(t, err)
		err = engine.Reset(ctx)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodePersistFailed))
	})
}

func TestNew_DefaultCatalogClient(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"exp","enabled":true,"arguments":{"slug":"exp",
			"bucketConfig":{"randomizationUnit":"normandy_id","namespace":"exp","start":0,"count":10000,"total":10000},
			"branches":[{"slug":"only","ratio":1}]}}]}`))
	}))
	defer srv.Close()

	unit := bucketOneUnit
	engine, err := New(context.Background(), models.AppContext{}, store.NewInMemoryStore(), Config{
		ServerURL:         srv.URL + "/v1/",
		RandomizationUnit: &unit,
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/buckets/main/collections/messaging-collection/records", requested)
	branch, err := engine.GetExperimentBranch("exp")
	require.NoError(t, err)
	assert.Equal(t, "only", branch)
}

func (s *EngineSuite) TestCatalogRecordWithoutRandomizationUnitReloadsFromCache() {
	exp := experiment("exp", 0, models.MaxBuckets, "control")
	exp.Arguments.BucketConfig.RandomizationUnit = ""
	s.fetcher.EXPECT().Fetch(gomock.Any()).Return([]models.Experiment{exp}, nil).Times(1)

	first, err := s.newEngine()
	s.Require().NoError(err)
	s.False(first.IsCached())

	second, err := s.newEngine()
	s.Require().NoError(err)
	s.True(second.IsCached())
	s.Equal(first.State(), second.State())

	branch, err := second.GetExperimentBranch("exp")
	s.Require().NoError(err)
	s.Equal("control", branch)
}

func (s *EngineSuite) TestUnknownRandomizationUnitIsListedButNotEnrolled() {
	exp := experiment("exp", 0, models.MaxBuckets, "control")
	exp.Arguments.BucketConfig.RandomizationUnit = "device_id"
	s.fetcher.EXPECT().Fetch(gomock.Any()).Return([]models.Experiment{exp}, nil)

	engine, err := s.newEngine()
	s.Require().NoError(err)

	s.Len(engine.GetExperiments(), 1)
	s.Empty(engine.GetEnrolledExperiments())
	s.Require().Len(engine.Decisions(), 1)
	s.Equal(bucketing.ReasonInvalidDefinition, engine.Decisions()[0].Reason)
}

func TestNew_CatalogRecordSurvivesPersistence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"exp","enabled":true,"arguments":{"slug":"exp",
			"bucketConfig":{"namespace":"exp","start":0,"count":10000,"total":10000},
			"branches":[{"slug":"only","ratio":1,"group":[],"value":{ "title": "hi",
				"body": "<b>bold</b>" }}],
			"startDate":"2020-06-17T00:00:00Z"}}]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	st := store.NewInMemoryStore()
	unit := bucketOneUnit
	cfg := Config{ServerURL: srv.URL + "/v1/", RandomizationUnit: &unit}

	first, err := New(ctx, models.AppContext{}, st, cfg)
	require.NoError(t, err)
	require.False(t, first.IsCached())

	second, err := New(ctx, models.AppContext{}, st, cfg)
	require.NoError(t, err)
	require.True(t, second.IsCached())

	assert.Equal(t, first.State(), second.State())
	assert.JSONEq(t, `{"title":"hi","body":"<b>bold</b>"}`, string(second.GetExperiments()[0].Branches()[0].Value))
}

func TestNew_InvalidServerURL(t *testing.T) {
	_, err := New(context.Background(), models.AppContext{}, store.NewInMemoryStore(), Config{ServerURL: "not a url"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestConfig_Resolved(t *testing.T) {
	t.Run("defaults each field independently", func(t *testing.T) {
		cfg := Config{CollectionName: "custom"}.Resolved()
		assert.Equal(t, catalog.DefaultBaseURL, cfg.ServerURL)
		assert.Equal(t, "custom", cfg.CollectionName)
		assert.Equal(t, catalog.DefaultBucketName, cfg.BucketName)
		require.NotNil(t, cfg.RandomizationUnit)
		assert.NotEqual(t, uuid.Nil, *cfg.RandomizationUnit)
	})

	t.Run("keeps a supplied unit", func(t *testing.T) {
		unit := bucketOneUnit
		cfg := Config{RandomizationUnit: &unit}.Resolved()
		assert.Equal(t, bucketOneUnit, *cfg.RandomizationUnit)
	})
}
