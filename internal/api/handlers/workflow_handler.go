package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/medigate/navigator/internal/application/services"
	"github.com/medigate/navigator/internal/domain/entities"
	"github.com/medigate/navigator/internal/infrastructure/observability"
	apperrors "github.com/medigate/navigator/pkg/errors"
)

// WorkflowHandler handles the symptom-navigation workflow HTTP requests
type WorkflowHandler struct {
	workflowService *services.WorkflowService
	metrics         *observability.Metrics
}

// NewWorkflowHandler creates a new workflow handler. Metrics may be nil.
func NewWorkflowHandler(workflowService *services.WorkflowService, metrics *observability.Metrics) *WorkflowHandler {
	return &WorkflowHandler{
		workflowService: workflowService,
		metrics:         metrics,
	}
}

// respondWorkflow writes the workflow view and counts the stage reached
func (h *WorkflowHandler) respondWorkflow(w http.ResponseWriter, r *http.Request, statusCode int, state *entities.WorkflowState) {
	observability.RecordStageTransition(r.Context(), h.metrics, state.Stage.String())
	respondWithJSON(w, statusCode, workflowResponse(state))
}

type symptomRequest struct {
	Stage   int    `json:"stage"`
	Symptom string `json:"symptom"`
}

type answersRequest struct {
	Stage   int                       `json:"stage"`
	Answers []entities.QuestionAnswer `json:"answers"`
}

type facilitiesRequest struct {
	Stage  int `json:"stage"`
	Origin struct {
		Name      string   `json:"name"`
		Latitude  *float64 `json:"lat"`
		Longitude *float64 `json:"lng"`
	} `json:"origin"`
	RadiusMeters int `json:"radius_m"`
	MaxResults   int `json:"max_results"`
}

type enrichmentRequest struct {
	Stage     int      `json:"stage"`
	ClinicIDs []string `json:"clinic_ids"`
}

type noteRequest struct {
	Stage int `json:"stage"`
}

// StartWorkflow handles POST /api/workflows
func (h *WorkflowHandler) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	state, err := h.workflowService.Start(r.Context())
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWorkflow(w, r, http.StatusCreated, state)
}

// GetWorkflow handles GET /api/workflows/{id}?stage=N
func (h *WorkflowHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	token, err := stageToken(r.URL.Query().Get("stage"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	state, err := h.workflowService.Get(r.Context(), id, token)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWorkflow(w, r, http.StatusOK, state)
}

// SubmitSymptom handles POST /api/workflows/{id}/symptom
func (h *WorkflowHandler) SubmitSymptom(w http.ResponseWriter, r *http.Request) {
	var req symptomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body", apperrors.ErrorTypeValidation)
		return
	}

	state, err := h.workflowService.SubmitSymptom(r.Context(), r.PathValue("id"), entities.Stage(req.Stage), req.Symptom)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWorkflow(w, r, http.StatusOK, state)
}

// SubmitAnswers handles POST /api/workflows/{id}/answers
func (h *WorkflowHandler) SubmitAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body", apperrors.ErrorTypeValidation)
		return
	}

	state, err := h.workflowService.SubmitAnswers(r.Context(), r.PathValue("id"), entities.Stage(req.Stage), req.Answers)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWorkflow(w, r, http.StatusOK, state)
}

// LookupFacilities handles POST /api/workflows/{id}/facilities
func (h *WorkflowHandler) LookupFacilities(w http.ResponseWriter, r *http.Request) {
	var req facilitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body", apperrors.ErrorTypeValidation)
		return
	}

	params := services.FacilityLookupParams{
		OriginName:   req.Origin.Name,
		RadiusMeters: req.RadiusMeters,
		MaxResults:   req.MaxResults,
	}
	if req.Origin.Latitude != nil && req.Origin.Longitude != nil {
		params.Coordinates = &entities.Location{
			Latitude:  *req.Origin.Latitude,
			Longitude: *req.Origin.Longitude,
		}
	}

	state, err := h.workflowService.LookupFacilities(r.Context(), r.PathValue("id"), entities.Stage(req.Stage), params)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWorkflow(w, r, http.StatusOK, state)
}

// EnrichClinics handles POST /api/workflows/{id}/enrichment
func (h *WorkflowHandler) EnrichClinics(w http.ResponseWriter, r *http.Request) {
	var req enrichmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body", apperrors.ErrorTypeValidation)
		return
	}

	state, err := h.workflowService.EnrichClinics(r.Context(), r.PathValue("id"), entities.Stage(req.Stage), req.ClinicIDs)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWorkflow(w, r, http.StatusOK, state)
}

// GenerateNote handles POST /api/workflows/{id}/note
func (h *WorkflowHandler) GenerateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body", apperrors.ErrorTypeValidation)
		return
	}

	state, err := h.workflowService.GenerateNote(r.Context(), r.PathValue("id"), entities.Stage(req.Stage))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWorkflow(w, r, http.StatusOK, state)
}

// RestartWorkflow handles POST /api/workflows/{id}/restart
func (h *WorkflowHandler) RestartWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "workflow id is required", apperrors.ErrorTypeValidation)
		return
	}

	state, err := h.workflowService.Restart(r.Context(), id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWorkflow(w, r, http.StatusOK, state)
}

// ListReferencePoints handles GET /api/reference-points
func (h *WorkflowHandler) ListReferencePoints(w http.ResponseWriter, r *http.Request) {
	points := h.workflowService.ReferencePoints()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"reference_points": points,
	})
}

func stageToken(raw string) (entities.Stage, error) {
	if raw == "" {
		return 0, apperrors.NewValidationError("stage token is required")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidationError("stage token must be an integer")
	}
	return entities.Stage(n), nil
}

type noteSectionView struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// workflowView is the wire shape of a workflow. The stage field doubles as
// the resumption token the client must send on the next request.
type workflowView struct {
	WorkflowID string `json:"workflow_id"`
	Stage      int    `json:"stage"`
	StageName  string `json:"stage_name"`

	Symptom         string                              `json:"symptom,omitempty"`
	Questions       []string                            `json:"questions,omitempty"`
	Answers         []entities.QuestionAnswer           `json:"answers,omitempty"`
	Recommendations []entities.DepartmentRecommendation `json:"recommendations,omitempty"`
	Disclaimer      string                              `json:"disclaimer,omitempty"`

	Origin     *entities.SearchOrigin     `json:"origin,omitempty"`
	RadiusM    int                        `json:"radius_m,omitempty"`
	MaxResults int                        `json:"max_results,omitempty"`
	Clinics    []entities.ClinicMatch     `json:"clinics,omitempty"`
	Enrichment *entities.EnrichmentResult `json:"enrichment,omitempty"`

	Note []noteSectionView `json:"note,omitempty"`
}

func workflowResponse(state *entities.WorkflowState) workflowView {
	view := workflowView{
		WorkflowID:      state.ID,
		Stage:           int(state.Stage),
		StageName:       state.Stage.String(),
		Symptom:         state.SymptomText,
		Questions:       state.Questions,
		Answers:         state.Answers,
		Recommendations: state.Recommendations,
		Disclaimer:      state.Disclaimer,
		Origin:          state.Origin,
		RadiusM:         state.RadiusM,
		MaxResults:      state.MaxResults,
		Clinics:         state.Clinics,
		Enrichment:      state.Enrichment,
	}
	if state.Note != nil {
		sections := state.Note.Sections()
		view.Note = make([]noteSectionView, len(sections))
		for i, value := range sections {
			view.Note[i] = noteSectionView{Label: entities.NoteSectionLabels[i], Value: value}
		}
	}
	return view
}

// Helper functions
func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string, errType apperrors.ErrorType) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
		"type":  string(errType),
	})
}

// respondWithAppError maps the error taxonomy to HTTP statuses
func respondWithAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		respondWithError(w, http.StatusInternalServerError, "internal server error", apperrors.ErrorTypeInternal)
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Type {
	case apperrors.ErrorTypeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrorTypeNotFound, apperrors.ErrorTypeEmptyResult:
		status = http.StatusNotFound
	case apperrors.ErrorTypeSessionLost:
		status = http.StatusGone
	case apperrors.ErrorTypeGeneration, apperrors.ErrorTypeExternal:
		status = http.StatusBadGateway
	case apperrors.ErrorTypeEnrichmentUnavailable:
		status = http.StatusServiceUnavailable
	}
	respondWithError(w, status, appErr.Message, appErr.Type)
}
