package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medigate/navigator/internal/adapters/providers/geolocation"
	"github.com/medigate/navigator/internal/adapters/session"
	"github.com/medigate/navigator/internal/domain/entities"
	"github.com/medigate/navigator/internal/domain/repositories"
	apperrors "github.com/medigate/navigator/pkg/errors"
)

// Mocks

type MockGenerationProvider struct {
	mock.Mock
}

func (m *MockGenerationProvider) GenerateClarifyingQuestions(ctx context.Context, symptom string) ([]string, error) {
	args := m.Called(ctx, symptom)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockGenerationProvider) RecommendDepartments(ctx context.Context, symptom string, answers []entities.QuestionAnswer) ([]entities.DepartmentRecommendation, string, error) {
	args := m.Called(ctx, symptom, answers)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).([]entities.DepartmentRecommendation), args.String(1), args.Error(2)
}

func (m *MockGenerationProvider) GenerateNote(ctx context.Context, symptom string, answers []entities.QuestionAnswer) (*entities.PQRSTNote, error) {
	args := m.Called(ctx, symptom, answers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.PQRSTNote), args.Error(1)
}

// stubDirectory serves canned matches and records the last query params
type stubDirectory struct {
	mu        sync.Mutex
	matches   []entities.ClinicMatch
	err       error
	lastQuery repositories.QueryParams
}

func (d *stubDirectory) Query(_ context.Context, params repositories.QueryParams) ([]entities.ClinicMatch, error) {
	d.mu.Lock()
	d.lastQuery = params
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.matches, nil
}

func (d *stubDirectory) GetByID(_ context.Context, id string) (*entities.Clinic, error) {
	for _, m := range d.matches {
		if m.Clinic.ID == id {
			clinic := m.Clinic
			return &clinic, nil
		}
	}
	return nil, apperrors.NewNotFoundError("clinic not found")
}

func (d *stubDirectory) ClampRadius(radiusM int) int {
	switch {
	case radiusM == 0:
		return 2000
	case radiusM < 500:
		return 500
	case radiusM > 5000:
		return 5000
	}
	return radiusM
}

func (d *stubDirectory) ClampResults(n int) int {
	switch {
	case n == 0:
		return 5
	case n < 1:
		return 1
	case n > 20:
		return 20
	}
	return n
}

func (d *stubDirectory) Size() int { return len(d.matches) }

// stubGrounding delegates to a function, with an optional gate that blocks
// every call until released. started is closed when the first call arrives.
type stubGrounding struct {
	fn        func(clinicName string) ([]entities.SpecialistFinding, error)
	gate      chan struct{}
	started   chan struct{}
	startOnce sync.Once
}

func (g *stubGrounding) FindSpecialistInfo(_ context.Context, clinicName, _ string) ([]entities.SpecialistFinding, error) {
	if g.started != nil {
		g.startOnce.Do(func() { close(g.started) })
	}
	if g.gate != nil {
		<-g.gate
	}
	return g.fn(clinicName)
}

func testMatches() []entities.ClinicMatch {
	return []entities.ClinicMatch{
		{Clinic: entities.Clinic{ID: "c1", Name: "田町内科クリニック", Address: "東京都港区芝浦3-1-1", Departments: []string{"内科"}}, DistanceKm: 0.4},
		{Clinic: entities.Clinic{ID: "c2", Name: "芝浦消化器内科", Address: "東京都港区芝浦4-2-2", Departments: []string{"消化器内科"}}, DistanceKm: 1.1},
	}
}

type fixture struct {
	svc       *WorkflowService
	store     *session.MemoryStore
	generator *MockGenerationProvider
	directory *stubDirectory
	grounding *stubGrounding
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := session.NewMemoryStore(1800)
	generator := new(MockGenerationProvider)
	directory := &stubDirectory{matches: testMatches()}
	grounding := &stubGrounding{fn: func(string) ([]entities.SpecialistFinding, error) { return nil, nil }}
	svc := NewWorkflowService(store, generator, grounding, geolocation.NewStaticProvider(), directory)
	return &fixture{svc: svc, store: store, generator: generator, directory: directory, grounding: grounding}
}

// advance walks a fresh workflow up to the requested stage
func (f *fixture) advance(t *testing.T, upTo entities.Stage) *entities.WorkflowState {
	t.Helper()
	ctx := context.Background()

	state, err := f.svc.Start(ctx)
	require.NoError(t, err)
	if upTo == entities.StageIntake {
		return state
	}

	f.generator.On("GenerateClarifyingQuestions", mock.Anything, mock.Anything).
		Return([]string{"いつから痛みますか？", "発熱はありますか？"}, nil).Once()
	state, err = f.svc.SubmitSymptom(ctx, state.ID, state.Stage, "3日前から右下腹部が痛む")
	require.NoError(t, err)
	if upTo == entities.StageClarification {
		return state
	}

	f.generator.On("RecommendDepartments", mock.Anything, mock.Anything, mock.Anything).
		Return([]entities.DepartmentRecommendation{
			{Department: "消化器内科", Rationale: "腹痛の評価のため"},
			{Department: "内科", Rationale: "全身症状の確認のため"},
		}, "このシステムは診断を行いません。", nil).Once()
	state, err = f.svc.SubmitAnswers(ctx, state.ID, state.Stage, []entities.QuestionAnswer{
		{Question: "いつから痛みますか？", Answer: "3日前から"},
		{Question: "発熱はありますか？", Answer: ""},
	})
	require.NoError(t, err)
	if upTo == entities.StageRecommendation {
		return state
	}

	state, err = f.svc.LookupFacilities(ctx, state.ID, state.Stage, FacilityLookupParams{OriginName: "田町駅"})
	require.NoError(t, err)
	return state
}

// Tests

func TestStart_CreatesIntakeWorkflow(t *testing.T) {
	f := newFixture(t)

	state, err := f.svc.Start(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, state.ID)
	assert.Equal(t, entities.StageIntake, state.Stage)
	assert.Equal(t, int64(1), state.Epoch)

	loaded, err := f.store.Load(context.Background(), state.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StageIntake, loaded.Stage)
}

func TestSubmitSymptom_AdvancesToClarification(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageClarification)

	assert.Equal(t, entities.StageClarification, state.Stage)
	assert.Equal(t, "3日前から右下腹部が痛む", state.SymptomText)
	assert.Len(t, state.Questions, 2)
	assert.Empty(t, state.Recommendations, "later-stage fields stay empty until reached")
	assert.Nil(t, state.Note)
}

func TestSubmitSymptom_Validation(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageIntake)
	ctx := context.Background()

	_, err := f.svc.SubmitSymptom(ctx, state.ID, state.Stage, "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	long := make([]rune, maxSymptomRunes+1)
	for i := range long {
		long[i] = '痛'
	}
	_, err = f.svc.SubmitSymptom(ctx, state.ID, state.Stage, string(long))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestSubmitSymptom_GenerationFailureDoesNotAdvance(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageIntake)

	f.generator.On("GenerateClarifyingQuestions", mock.Anything, mock.Anything).
		Return(nil, apperrors.NewGenerationError("generation service unavailable", nil)).Once()

	_, err := f.svc.SubmitSymptom(context.Background(), state.ID, state.Stage, "頭痛")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeGeneration))

	loaded, err := f.store.Load(context.Background(), state.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StageIntake, loaded.Stage)
	assert.Empty(t, loaded.SymptomText)
}

func TestSubmitAnswers_EmptyMeansSkipped(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageClarification)

	f.generator.On("RecommendDepartments", mock.Anything, state.SymptomText, mock.MatchedBy(func(answers []entities.QuestionAnswer) bool {
		return len(answers) == 2 && answers[0].Answer == "" && answers[0].Question != ""
	})).Return([]entities.DepartmentRecommendation{{Department: "内科", Rationale: "初期評価のため"}}, "注意書き", nil).Once()

	state, err := f.svc.SubmitAnswers(context.Background(), state.ID, state.Stage, nil)
	require.NoError(t, err)
	assert.Equal(t, entities.StageRecommendation, state.Stage)
	assert.Len(t, state.Answers, 2)
	assert.NotEmpty(t, state.Disclaimer)
}

func TestSubmitAnswers_BeforeClarificationRejected(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageIntake)

	_, err := f.svc.SubmitAnswers(context.Background(), state.ID, state.Stage, nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestSubmitAnswers_MoreAnswersThanQuestionsRejected(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageClarification)

	answers := []entities.QuestionAnswer{
		{Question: "q1", Answer: "a"}, {Question: "q2", Answer: "b"}, {Question: "q3", Answer: "c"},
	}
	_, err := f.svc.SubmitAnswers(context.Background(), state.ID, state.Stage, answers)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestLookupFacilities_QueriesWithRecommendedDepartments(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageFacilityLookup)

	assert.Equal(t, entities.StageFacilityLookup, state.Stage)
	assert.Equal(t, "田町駅", state.Origin.Label)
	assert.Equal(t, 2000, state.RadiusM, "zero radius takes the default")
	assert.Equal(t, 5, state.MaxResults)
	assert.Len(t, state.Clinics, 2)

	q := f.directory.lastQuery
	assert.Equal(t, []string{"消化器内科", "内科"}, q.DepartmentKeywords)
	assert.Contains(t, q.ExcludeDepartments, "心療内科")
	assert.Contains(t, q.ExcludeDepartments, "精神科")
	assert.Equal(t, []string{"在宅", "訪問", "ホームケア"}, q.ExcludeNameKeywords)
}

func TestLookupFacilities_MentalHealthExclusionLiftedWhenRecommended(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageClarification)

	f.generator.On("RecommendDepartments", mock.Anything, mock.Anything, mock.Anything).
		Return([]entities.DepartmentRecommendation{{Department: "心療内科", Rationale: "ストレス性の症状のため"}}, "注意書き", nil).Once()
	state, err := f.svc.SubmitAnswers(context.Background(), state.ID, state.Stage, nil)
	require.NoError(t, err)

	_, err = f.svc.LookupFacilities(context.Background(), state.ID, state.Stage, FacilityLookupParams{OriginName: "田町駅"})
	require.NoError(t, err)

	q := f.directory.lastQuery
	assert.NotContains(t, q.ExcludeDepartments, "心療内科")
	assert.Contains(t, q.ExcludeDepartments, "精神科")
}

func TestLookupFacilities_ExplicitCoordinates(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageRecommendation)

	state, err := f.svc.LookupFacilities(context.Background(), state.ID, state.Stage, FacilityLookupParams{
		Coordinates:  &entities.Location{Latitude: 35.6457, Longitude: 139.7476},
		RadiusMeters: 100000,
		MaxResults:   50,
	})
	require.NoError(t, err)
	assert.Equal(t, "現在地", state.Origin.Label)
	assert.Equal(t, 5000, state.RadiusM, "oversized radius clamped to the maximum")
	assert.Equal(t, 20, state.MaxResults)
}

func TestLookupFacilities_OriginValidation(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageRecommendation)
	ctx := context.Background()

	_, err := f.svc.LookupFacilities(ctx, state.ID, state.Stage, FacilityLookupParams{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.svc.LookupFacilities(ctx, state.ID, state.Stage, FacilityLookupParams{OriginName: "存在しない駅"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.svc.LookupFacilities(ctx, state.ID, state.Stage, FacilityLookupParams{
		OriginName:  "田町駅",
		Coordinates: &entities.Location{Latitude: 35.6, Longitude: 139.7},
	})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.svc.LookupFacilities(ctx, state.ID, state.Stage, FacilityLookupParams{
		Coordinates: &entities.Location{Latitude: 120, Longitude: 139.7},
	})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestLookupFacilities_EmptyResultKeepsStage(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageRecommendation)
	f.directory.err = apperrors.NewEmptyResultError("no clinics found within the radius, try widening the radius")

	_, err := f.svc.LookupFacilities(context.Background(), state.ID, state.Stage, FacilityLookupParams{OriginName: "田町駅"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeEmptyResult))

	loaded, loadErr := f.store.Load(context.Background(), state.ID)
	require.NoError(t, loadErr)
	assert.Equal(t, entities.StageRecommendation, loaded.Stage)
	assert.Empty(t, loaded.Clinics)
}

func TestEnrichClinics_PartialFailurePerClinic(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageFacilityLookup)

	f.grounding.fn = func(clinicName string) ([]entities.SpecialistFinding, error) {
		if clinicName == "田町内科クリニック" {
			return []entities.SpecialistFinding{
				{Text: "総合内科専門医が在籍。", SourceURLs: []string{"https://example.com/a"}},
				{Text: "出典のない主張", SourceURLs: nil},
			}, nil
		}
		return nil, apperrors.NewEnrichmentUnavailableError("search failed", nil)
	}

	state, err := f.svc.EnrichClinics(context.Background(), state.ID, state.Stage, []string{"c1", "c2"})
	require.NoError(t, err)
	require.NotNil(t, state.Enrichment)

	assert.Len(t, state.Enrichment.Findings["c1"], 1, "unsourced finding discarded")
	assert.Equal(t, "総合内科専門医が在籍。", state.Enrichment.Findings["c1"][0].Text)
	assert.Contains(t, state.Enrichment.Failures, "c2")
	assert.Equal(t, entities.StageFacilityLookup, state.Stage, "enrichment is not a numbered stage")
}

func TestEnrichClinics_UnknownClinicRejected(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageFacilityLookup)

	_, err := f.svc.EnrichClinics(context.Background(), state.ID, state.Stage, []string{"nope"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestEnrichClinics_RestartDiscardsInFlightResults(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageFacilityLookup)

	gate := make(chan struct{})
	started := make(chan struct{})
	f.grounding.gate = gate
	f.grounding.started = started
	f.grounding.fn = func(string) ([]entities.SpecialistFinding, error) {
		return []entities.SpecialistFinding{{Text: "専門医在籍", SourceURLs: []string{"https://example.com"}}}, nil
	}

	done := make(chan struct{})
	var enriched *entities.WorkflowState
	var enrichErr error
	go func() {
		enriched, enrichErr = f.svc.EnrichClinics(context.Background(), state.ID, state.Stage, []string{"c1"})
		close(done)
	}()

	// Restart while the grounded search is still in flight
	<-started
	restarted, err := f.svc.Restart(context.Background(), state.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), restarted.Epoch)

	close(gate)
	<-done

	require.NoError(t, enrichErr)
	assert.Equal(t, entities.StageIntake, enriched.Stage)
	assert.Nil(t, enriched.Enrichment, "in-flight results must not reach the new run")

	loaded, err := f.store.Load(context.Background(), state.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.Enrichment)
}

func TestGenerateNote_TerminalStage(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageFacilityLookup)

	f.generator.On("GenerateNote", mock.Anything, state.SymptomText, state.Answers).
		Return(&entities.PQRSTNote{
			Provocation: "体動で悪化",
			Quality:     "鈍痛",
			Region:      "右下腹部",
			Severity:    entities.NoteSectionMissing,
			TimeCourse:  "3日前から持続",
		}, nil).Once()

	state, err := f.svc.GenerateNote(context.Background(), state.ID, state.Stage)
	require.NoError(t, err)
	assert.Equal(t, entities.StageNoteGeneration, state.Stage)
	require.NotNil(t, state.Note)
	assert.Equal(t, "右下腹部", state.Note.Region)
	assert.Equal(t, entities.NoteSectionMissing, state.Note.Severity)
}

func TestGenerateNote_RequiresFacilityLookup(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageRecommendation)

	_, err := f.svc.GenerateNote(context.Background(), state.ID, state.Stage)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestSubmitSymptom_ReentryClearsDownstream(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageFacilityLookup)
	require.NotEmpty(t, state.Clinics)

	f.generator.On("GenerateClarifyingQuestions", mock.Anything, "昨日から喉が痛い").
		Return([]string{"熱はありますか？"}, nil).Once()

	state, err := f.svc.SubmitSymptom(context.Background(), state.ID, state.Stage, "昨日から喉が痛い")
	require.NoError(t, err)

	assert.Equal(t, entities.StageClarification, state.Stage)
	assert.Equal(t, "昨日から喉が痛い", state.SymptomText)
	assert.Empty(t, state.Recommendations, "stale recommendations cleared")
	assert.Nil(t, state.Origin)
	assert.Empty(t, state.Clinics)
	assert.Nil(t, state.Enrichment)
	assert.Nil(t, state.Note)
}

func TestGet_LostSessionDetection(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageClarification)
	ctx := context.Background()

	// Serving layer forgets the session between requests
	f.store.Evict(state.ID)

	_, err := f.svc.Get(ctx, state.ID, entities.StageClarification)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSessionLost))

	// The same miss with an intake token is just an unknown workflow
	_, err = f.svc.Get(ctx, state.ID, entities.StageIntake)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestGet_InvalidToken(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageIntake)

	_, err := f.svc.Get(context.Background(), state.ID, entities.Stage(9))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestRestart_FreshIntakeUnderSameID(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageFacilityLookup)

	restarted, err := f.svc.Restart(context.Background(), state.ID)
	require.NoError(t, err)
	assert.Equal(t, state.ID, restarted.ID)
	assert.Equal(t, entities.StageIntake, restarted.Stage)
	assert.Equal(t, int64(2), restarted.Epoch)
	assert.Empty(t, restarted.SymptomText)
	assert.Empty(t, restarted.Clinics)
}

func TestWorkflow_EndToEnd(t *testing.T) {
	f := newFixture(t)
	state := f.advance(t, entities.StageFacilityLookup)

	f.grounding.fn = func(string) ([]entities.SpecialistFinding, error) {
		return []entities.SpecialistFinding{{Text: "消化器病専門医が在籍。", SourceURLs: []string{"https://example.com/s"}}}, nil
	}
	state, err := f.svc.EnrichClinics(context.Background(), state.ID, state.Stage, []string{"c2"})
	require.NoError(t, err)

	f.generator.On("GenerateNote", mock.Anything, mock.Anything, mock.Anything).
		Return(&entities.PQRSTNote{Region: "右下腹部", TimeCourse: "3日前から"}, nil).Once()
	state, err = f.svc.GenerateNote(context.Background(), state.ID, state.Stage)
	require.NoError(t, err)

	assert.Equal(t, entities.StageNoteGeneration, state.Stage)
	assert.Equal(t, "3日前から右下腹部が痛む", state.SymptomText)
	assert.Len(t, state.Enrichment.Findings["c2"], 1)
	assert.NotNil(t, state.Note)
}
