package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medigate/navigator/internal/adapters/providers/geolocation"
	"github.com/medigate/navigator/internal/adapters/session"
	"github.com/medigate/navigator/internal/api/handlers"
	"github.com/medigate/navigator/internal/application/services"
	"github.com/medigate/navigator/internal/domain/entities"
	"github.com/medigate/navigator/internal/domain/repositories"
	apperrors "github.com/medigate/navigator/pkg/errors"
)

type stubGenerator struct {
	questionsErr error
}

func (s *stubGenerator) GenerateClarifyingQuestions(_ context.Context, _ string) ([]string, error) {
	if s.questionsErr != nil {
		return nil, s.questionsErr
	}
	return []string{"いつから痛みますか？", "発熱はありますか？"}, nil
}

func (s *stubGenerator) RecommendDepartments(_ context.Context, _ string, _ []entities.QuestionAnswer) ([]entities.DepartmentRecommendation, string, error) {
	return []entities.DepartmentRecommendation{
		{Department: "消化器内科", Rationale: "腹痛の評価のため"},
	}, "このシステムは診断を行いません。", nil
}

func (s *stubGenerator) GenerateNote(_ context.Context, _ string, _ []entities.QuestionAnswer) (*entities.PQRSTNote, error) {
	return &entities.PQRSTNote{Region: "右下腹部", TimeCourse: "3日前から"}, nil
}

type stubDirectory struct {
	empty bool
}

func (d *stubDirectory) Query(_ context.Context, _ repositories.QueryParams) ([]entities.ClinicMatch, error) {
	if d.empty {
		return nil, apperrors.NewEmptyResultError("no clinics found within the radius, try widening the radius")
	}
	return []entities.ClinicMatch{
		{Clinic: entities.Clinic{ID: "c1", Name: "田町内科クリニック", Address: "東京都港区芝浦3-1-1"}, DistanceKm: 0.4},
	}, nil
}

func (d *stubDirectory) GetByID(_ context.Context, _ string) (*entities.Clinic, error) {
	return nil, apperrors.NewNotFoundError("clinic not found")
}

func (d *stubDirectory) ClampRadius(radiusM int) int {
	if radiusM == 0 {
		return 2000
	}
	return radiusM
}

func (d *stubDirectory) ClampResults(n int) int {
	if n == 0 {
		return 5
	}
	return n
}

func (d *stubDirectory) Size() int { return 1 }

type stubGrounding struct{}

func (stubGrounding) FindSpecialistInfo(_ context.Context, _, _ string) ([]entities.SpecialistFinding, error) {
	return []entities.SpecialistFinding{
		{Text: "総合内科専門医が在籍。", SourceURLs: []string{"https://example.com/a"}},
	}, nil
}

type testServer struct {
	mux       *http.ServeMux
	store     *session.MemoryStore
	generator *stubGenerator
	directory *stubDirectory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := session.NewMemoryStore(1800)
	generator := &stubGenerator{}
	directory := &stubDirectory{}
	svc := services.NewWorkflowService(store, generator, stubGrounding{}, geolocation.NewStaticProvider(), directory)

	h := handlers.NewWorkflowHandler(svc, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/workflows", h.StartWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", h.GetWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/symptom", h.SubmitSymptom)
	mux.HandleFunc("POST /api/workflows/{id}/answers", h.SubmitAnswers)
	mux.HandleFunc("POST /api/workflows/{id}/facilities", h.LookupFacilities)
	mux.HandleFunc("POST /api/workflows/{id}/enrichment", h.EnrichClinics)
	mux.HandleFunc("POST /api/workflows/{id}/note", h.GenerateNote)
	mux.HandleFunc("POST /api/workflows/{id}/restart", h.RestartWorkflow)
	mux.HandleFunc("GET /api/reference-points", h.ListReferencePoints)

	return &testServer{mux: mux, store: store, generator: generator, directory: directory}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)

	var payload map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	}
	return w, payload
}

// start runs the workflow up to the facility stage and returns its id
func (ts *testServer) startToFacilities(t *testing.T) string {
	t.Helper()
	w, payload := ts.do(t, "POST", "/api/workflows", "")
	require.Equal(t, http.StatusCreated, w.Code)
	id := payload["workflow_id"].(string)

	w, _ = ts.do(t, "POST", "/api/workflows/"+id+"/symptom", `{"stage":1,"symptom":"3日前から右下腹部が痛む"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, "POST", "/api/workflows/"+id+"/answers", `{"stage":2,"answers":[{"question":"いつから痛みますか？","answer":"3日前"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, "POST", "/api/workflows/"+id+"/facilities", `{"stage":3,"origin":{"name":"田町駅"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	return id
}

func TestWorkflowHandler_StartWorkflow(t *testing.T) {
	ts := newTestServer(t)

	w, payload := ts.do(t, "POST", "/api/workflows", "")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, payload["workflow_id"])
	assert.Equal(t, float64(1), payload["stage"])
	assert.Equal(t, "intake", payload["stage_name"])
}

func TestWorkflowHandler_SymptomAdvancesStage(t *testing.T) {
	ts := newTestServer(t)
	_, payload := ts.do(t, "POST", "/api/workflows", "")
	id := payload["workflow_id"].(string)

	w, payload := ts.do(t, "POST", "/api/workflows/"+id+"/symptom", `{"stage":1,"symptom":"頭痛がする"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), payload["stage"])
	assert.Len(t, payload["questions"], 2)
}

func TestWorkflowHandler_EmptySymptomRejected(t *testing.T) {
	ts := newTestServer(t)
	_, payload := ts.do(t, "POST", "/api/workflows", "")
	id := payload["workflow_id"].(string)

	w, payload := ts.do(t, "POST", "/api/workflows/"+id+"/symptom", `{"stage":1,"symptom":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperrors.ErrorTypeValidation), payload["type"])
	assert.NotEmpty(t, payload["error"])
}

func TestWorkflowHandler_GenerationFailureIs502(t *testing.T) {
	ts := newTestServer(t)
	_, payload := ts.do(t, "POST", "/api/workflows", "")
	id := payload["workflow_id"].(string)

	ts.generator.questionsErr = apperrors.NewGenerationError("generation service unavailable", nil)
	w, payload := ts.do(t, "POST", "/api/workflows/"+id+"/symptom", `{"stage":1,"symptom":"頭痛"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(apperrors.ErrorTypeGeneration), payload["type"])
}

func TestWorkflowHandler_EmptyLookupIs404WithHint(t *testing.T) {
	ts := newTestServer(t)
	_, payload := ts.do(t, "POST", "/api/workflows", "")
	id := payload["workflow_id"].(string)
	ts.do(t, "POST", "/api/workflows/"+id+"/symptom", `{"stage":1,"symptom":"腹痛"}`)
	ts.do(t, "POST", "/api/workflows/"+id+"/answers", `{"stage":2,"answers":[]}`)

	ts.directory.empty = true
	w, payload := ts.do(t, "POST", "/api/workflows/"+id+"/facilities", `{"stage":3,"origin":{"name":"田町駅"}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(apperrors.ErrorTypeEmptyResult), payload["type"])
	assert.Contains(t, payload["error"], "widening")
}

func TestWorkflowHandler_LostSessionIs410(t *testing.T) {
	ts := newTestServer(t)
	_, payload := ts.do(t, "POST", "/api/workflows", "")
	id := payload["workflow_id"].(string)
	ts.do(t, "POST", "/api/workflows/"+id+"/symptom", `{"stage":1,"symptom":"頭痛"}`)

	ts.store.Evict(id)

	w, payload := ts.do(t, "GET", "/api/workflows/"+id+"?stage=2", "")
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, string(apperrors.ErrorTypeSessionLost), payload["type"])
}

func TestWorkflowHandler_MissingStageTokenRejected(t *testing.T) {
	ts := newTestServer(t)
	_, payload := ts.do(t, "POST", "/api/workflows", "")
	id := payload["workflow_id"].(string)

	w, payload := ts.do(t, "GET", "/api/workflows/"+id, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperrors.ErrorTypeValidation), payload["type"])
}

func TestWorkflowHandler_EnrichmentInline(t *testing.T) {
	ts := newTestServer(t)
	id := ts.startToFacilities(t)

	w, payload := ts.do(t, "POST", "/api/workflows/"+id+"/enrichment", `{"stage":4,"clinic_ids":["c1"]}`)
	assert.Equal(t, http.StatusOK, w.Code)

	enrichment := payload["enrichment"].(map[string]any)
	findings := enrichment["findings"].(map[string]any)
	assert.Contains(t, findings, "c1")
}

func TestWorkflowHandler_NoteSections(t *testing.T) {
	ts := newTestServer(t)
	id := ts.startToFacilities(t)

	w, payload := ts.do(t, "POST", "/api/workflows/"+id+"/note", `{"stage":4}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), payload["stage"])

	note := payload["note"].([]any)
	require.Len(t, note, 5)
	first := note[0].(map[string]any)
	assert.Contains(t, first["label"], "P")
	// Sections the stub left blank carry the explicit missing marker
	second := note[1].(map[string]any)
	assert.Equal(t, entities.NoteSectionMissing, second["value"])
}

func TestWorkflowHandler_RestartReturnsIntake(t *testing.T) {
	ts := newTestServer(t)
	id := ts.startToFacilities(t)

	w, payload := ts.do(t, "POST", "/api/workflows/"+id+"/restart", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), payload["stage"])
	assert.Equal(t, id, payload["workflow_id"])
	assert.Nil(t, payload["clinics"])
}

func TestWorkflowHandler_ReferencePoints(t *testing.T) {
	ts := newTestServer(t)

	w, payload := ts.do(t, "GET", "/api/reference-points", "")
	assert.Equal(t, http.StatusOK, w.Code)

	points := payload["reference_points"].([]any)
	require.Len(t, points, 3)
	names := make([]string, 0, len(points))
	for _, p := range points {
		names = append(names, fmt.Sprint(p.(map[string]any)["name"]))
	}
	assert.Contains(t, names, "田町駅")
	assert.Contains(t, names, "上野駅")
	assert.Contains(t, names, "柏駅")
}
