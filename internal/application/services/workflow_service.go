package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/medigate/navigator/internal/domain/entities"
	"github.com/medigate/navigator/internal/domain/providers"
	"github.com/medigate/navigator/internal/domain/repositories"
	"github.com/medigate/navigator/internal/infrastructure/observability"
	apperrors "github.com/medigate/navigator/pkg/errors"
)

const maxSymptomRunes = 2000

// mentalHealthDepartments are excluded from facility lookups unless the
// recommendation stage explicitly suggested them.
var mentalHealthDepartments = []string{"心療内科", "精神科"}

// homeVisitNameKeywords mark home-visit style practices that a walk-in
// navigation result should not include.
var homeVisitNameKeywords = []string{"在宅", "訪問", "ホームケア"}

// WorkflowService drives the symptom-to-note workflow. Every operation
// loads the workflow from the session store, verifies the client-held
// stage token, applies one strictly-forward transition and parks the
// updated state back in the store.
type WorkflowService struct {
	store     providers.SessionStore
	generator providers.GenerationProvider
	grounding providers.GroundingProvider
	geo       providers.GeolocationProvider
	directory repositories.ClinicDirectory

	newID func() string
	now   func() time.Time
}

// NewWorkflowService creates a new workflow service. The grounding
// provider may be nil, in which case specialist enrichment reports
// unavailable.
func NewWorkflowService(
	store providers.SessionStore,
	generator providers.GenerationProvider,
	grounding providers.GroundingProvider,
	geo providers.GeolocationProvider,
	directory repositories.ClinicDirectory,
) *WorkflowService {
	return &WorkflowService{
		store:     store,
		generator: generator,
		grounding: grounding,
		geo:       geo,
		directory: directory,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// FacilityLookupParams describes one facility lookup request. Exactly one
// of OriginName and Coordinates must be set.
type FacilityLookupParams struct {
	OriginName  string
	Coordinates *entities.Location

	RadiusMeters int
	MaxResults   int
}

// Start creates a fresh workflow at the intake stage
func (s *WorkflowService) Start(ctx context.Context) (*entities.WorkflowState, error) {
	now := s.now()
	state := &entities.WorkflowState{
		ID:        s.newID(),
		Stage:     entities.StageIntake,
		Epoch:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(ctx, state); err != nil {
		return nil, apperrors.NewInternalError("failed to park workflow state", err)
	}

	observability.LoggerFromContext(ctx).Info().
		Str("workflow_id", state.ID).
		Msg("workflow started")
	return state, nil
}

// Get resumes a workflow, distinguishing a lost session from an unknown id
// via the client-held stage token.
func (s *WorkflowService) Get(ctx context.Context, id string, token entities.Stage) (*entities.WorkflowState, error) {
	return s.load(ctx, id, token)
}

// SubmitSymptom records the symptom text and generates clarifying
// questions. Called on a workflow already past intake it clears all
// downstream state first, so nothing generated for the previous text
// survives.
func (s *WorkflowService) SubmitSymptom(ctx context.Context, id string, token entities.Stage, symptom string) (*entities.WorkflowState, error) {
	state, err := s.load(ctx, id, token)
	if err != nil {
		return nil, err
	}

	if symptom == "" {
		return nil, apperrors.NewValidationError("symptom text is required")
	}
	if utf8.RuneCountInString(symptom) > maxSymptomRunes {
		return nil, apperrors.NewValidationError(fmt.Sprintf("symptom text exceeds %d characters", maxSymptomRunes))
	}

	questions, err := s.generator.GenerateClarifyingQuestions(ctx, symptom)
	if err != nil {
		return nil, err
	}

	state.ClearFrom(entities.StageClarification)
	state.SymptomText = symptom
	state.Questions = questions
	state.Stage = entities.StageClarification
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// SubmitAnswers records the clarifying answers and generates department
// recommendations. Empty answers mean the user skipped; the questions are
// still carried into the prompt so the recommendation sees what was asked.
func (s *WorkflowService) SubmitAnswers(ctx context.Context, id string, token entities.Stage, answers []entities.QuestionAnswer) (*entities.WorkflowState, error) {
	state, err := s.load(ctx, id, token)
	if err != nil {
		return nil, err
	}
	if state.Stage < entities.StageClarification {
		return nil, apperrors.NewValidationError("submit a symptom before answering questions")
	}
	if len(answers) > len(state.Questions) {
		return nil, apperrors.NewValidationError("more answers than questions were asked")
	}

	// Skipped entirely: carry the questions with blank answers
	if len(answers) == 0 {
		answers = make([]entities.QuestionAnswer, len(state.Questions))
		for i, q := range state.Questions {
			answers[i] = entities.QuestionAnswer{Question: q}
		}
	}

	recs, disclaimer, err := s.generator.RecommendDepartments(ctx, state.SymptomText, answers)
	if err != nil {
		return nil, err
	}

	state.ClearFrom(entities.StageRecommendation)
	state.Answers = answers
	state.Recommendations = recs
	state.Disclaimer = disclaimer
	state.Stage = entities.StageRecommendation
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// LookupFacilities resolves the search origin and queries the clinic
// directory using the recommended departments as match keywords. An empty
// result keeps the workflow at the recommendation stage so the user can
// widen the radius and retry.
func (s *WorkflowService) LookupFacilities(ctx context.Context, id string, token entities.Stage, params FacilityLookupParams) (*entities.WorkflowState, error) {
	state, err := s.load(ctx, id, token)
	if err != nil {
		return nil, err
	}
	if state.Stage < entities.StageRecommendation {
		return nil, apperrors.NewValidationError("department recommendations are required before a facility lookup")
	}

	origin, err := s.resolveOrigin(ctx, params)
	if err != nil {
		return nil, err
	}

	radiusM := s.directory.ClampRadius(params.RadiusMeters)
	maxResults := s.directory.ClampResults(params.MaxResults)

	keywords := make([]string, 0, len(state.Recommendations))
	for _, rec := range state.Recommendations {
		keywords = append(keywords, rec.Department)
	}

	matches, err := s.directory.Query(ctx, repositories.QueryParams{
		Origin:              origin.Location,
		RadiusMeters:        radiusM,
		MaxResults:          maxResults,
		DepartmentKeywords:  keywords,
		ExcludeDepartments:  excludedDepartments(keywords),
		ExcludeNameKeywords: homeVisitNameKeywords,
	})
	if err != nil {
		return nil, err
	}

	state.ClearFrom(entities.StageFacilityLookup)
	state.Origin = origin
	state.RadiusM = radiusM
	state.MaxResults = maxResults
	state.Clinics = matches
	state.Stage = entities.StageFacilityLookup
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// EnrichClinics runs grounded specialist searches for the given clinics
// concurrently. Per-clinic failures are recorded inline next to that
// clinic; results are merged only when the workflow epoch is unchanged, so
// a restart during the search discards the in-flight work.
func (s *WorkflowService) EnrichClinics(ctx context.Context, id string, token entities.Stage, clinicIDs []string) (*entities.WorkflowState, error) {
	state, err := s.load(ctx, id, token)
	if err != nil {
		return nil, err
	}
	if state.Stage < entities.StageFacilityLookup {
		return nil, apperrors.NewValidationError("a facility lookup is required before enrichment")
	}
	if len(clinicIDs) == 0 {
		return nil, apperrors.NewValidationError("at least one clinic id is required")
	}
	if s.grounding == nil {
		return nil, apperrors.NewEnrichmentUnavailableError("specialist enrichment is not configured", nil)
	}

	clinics := make([]*entities.ClinicMatch, 0, len(clinicIDs))
	for _, clinicID := range clinicIDs {
		match, ok := state.ClinicByID(clinicID)
		if !ok {
			return nil, apperrors.NewValidationError(fmt.Sprintf("clinic %s is not part of this lookup result", clinicID))
		}
		clinics = append(clinics, match)
	}

	epoch := state.Epoch
	findings := make(map[string][]entities.SpecialistFinding)
	failures := make(map[string]string)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, match := range clinics {
		wg.Add(1)
		go func(clinic entities.Clinic) {
			defer wg.Done()
			found, err := s.grounding.FindSpecialistInfo(ctx, clinic.Name, clinic.Address)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[clinic.ID] = "専門医情報の取得に失敗しました"
				observability.LoggerFromContext(ctx).Warn().
					Str("workflow_id", id).
					Str("clinic_id", clinic.ID).
					Err(err).
					Msg("specialist enrichment failed")
				return
			}
			// An empty result is attributable-nothing-found, not a failure
			findings[clinic.ID] = validFindings(found)
		}(match.Clinic)
	}
	wg.Wait()

	// Reload before merging: a restart while searches were in flight means
	// these results belong to an abandoned run and must be dropped.
	current, err := s.load(ctx, id, token)
	if err != nil {
		return nil, err
	}
	if current.Epoch != epoch {
		observability.LoggerFromContext(ctx).Info().
			Str("workflow_id", id).
			Int64("epoch", epoch).
			Int64("current_epoch", current.Epoch).
			Msg("discarding enrichment results for restarted workflow")
		return current, nil
	}

	if current.Enrichment == nil {
		current.Enrichment = &entities.EnrichmentResult{
			Findings: make(map[string][]entities.SpecialistFinding),
			Failures: make(map[string]string),
		}
	}
	for clinicID, f := range findings {
		current.Enrichment.Findings[clinicID] = f
		delete(current.Enrichment.Failures, clinicID)
	}
	for clinicID, msg := range failures {
		current.Enrichment.Failures[clinicID] = msg
		delete(current.Enrichment.Findings, clinicID)
	}
	if err := s.save(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

// GenerateNote produces the clinician-facing PQRST note from the symptom
// text and clarifying answers. Note generation is the terminal stage.
func (s *WorkflowService) GenerateNote(ctx context.Context, id string, token entities.Stage) (*entities.WorkflowState, error) {
	state, err := s.load(ctx, id, token)
	if err != nil {
		return nil, err
	}
	if state.Stage < entities.StageFacilityLookup {
		return nil, apperrors.NewValidationError("complete the facility lookup before generating a note")
	}

	note, err := s.generator.GenerateNote(ctx, state.SymptomText, state.Answers)
	if err != nil {
		return nil, err
	}

	state.Note = note
	state.Stage = entities.StageNoteGeneration
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Restart discards all accumulated state and returns the workflow to
// intake under the same id. The epoch bump makes any in-flight adapter
// results for the abandoned run unmergeable.
func (s *WorkflowService) Restart(ctx context.Context, id string) (*entities.WorkflowState, error) {
	epoch := int64(1)
	if previous, err := s.store.Load(ctx, id); err == nil {
		epoch = previous.Epoch + 1
	} else if !errors.Is(err, providers.ErrSessionNotFound) {
		return nil, apperrors.NewInternalError("failed to load workflow state", err)
	}

	now := s.now()
	state := &entities.WorkflowState{
		ID:        id,
		Stage:     entities.StageIntake,
		Epoch:     epoch,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(ctx, state); err != nil {
		return nil, apperrors.NewInternalError("failed to park workflow state", err)
	}

	observability.LoggerFromContext(ctx).Info().
		Str("workflow_id", id).
		Int64("epoch", epoch).
		Msg("workflow restarted")
	return state, nil
}

// ReferencePoints lists the named origins users can pick for a lookup
func (s *WorkflowService) ReferencePoints() []providers.ReferencePoint {
	return s.geo.ReferencePoints()
}

// load retrieves the workflow and applies the continuity check: a token
// past intake without matching state is a lost session, not a fresh visit.
func (s *WorkflowService) load(ctx context.Context, id string, token entities.Stage) (*entities.WorkflowState, error) {
	if id == "" {
		return nil, apperrors.NewValidationError("workflow id is required")
	}
	if !token.Valid() {
		return nil, apperrors.NewValidationError("invalid stage token")
	}

	state, err := s.store.Load(ctx, id)
	if errors.Is(err, providers.ErrSessionNotFound) {
		if token > entities.StageIntake {
			return nil, apperrors.NewSessionLostError("your session has expired; restart to begin again")
		}
		return nil, apperrors.NewNotFoundError("workflow not found")
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load workflow state", err)
	}
	return state, nil
}

func (s *WorkflowService) save(ctx context.Context, state *entities.WorkflowState) error {
	state.UpdatedAt = s.now()
	if err := s.store.Save(ctx, state); err != nil {
		return apperrors.NewInternalError("failed to park workflow state", err)
	}
	return nil
}

// resolveOrigin turns the lookup request into a concrete search origin
func (s *WorkflowService) resolveOrigin(ctx context.Context, params FacilityLookupParams) (*entities.SearchOrigin, error) {
	if params.OriginName != "" && params.Coordinates != nil {
		return nil, apperrors.NewValidationError("specify either a reference point or coordinates, not both")
	}

	if params.OriginName != "" {
		loc, err := s.geo.ResolvePlace(ctx, params.OriginName)
		if err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("unknown reference point %q", params.OriginName))
		}
		return &entities.SearchOrigin{Label: params.OriginName, Location: *loc}, nil
	}

	if params.Coordinates == nil {
		return nil, apperrors.NewValidationError("a search origin is required")
	}
	lat, lng := params.Coordinates.Latitude, params.Coordinates.Longitude
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, apperrors.NewValidationError("coordinates are out of range")
	}
	return &entities.SearchOrigin{Label: "現在地", Location: *params.Coordinates}, nil
}

// excludedDepartments returns the mental-health departments that were not
// themselves recommended. A recommendation for one of them lifts the
// exclusion for that department only.
func excludedDepartments(recommended []string) []string {
	var excluded []string
	for _, dept := range mentalHealthDepartments {
		hit := false
		for _, rec := range recommended {
			if rec == dept {
				hit = true
				break
			}
		}
		if !hit {
			excluded = append(excluded, dept)
		}
	}
	return excluded
}

// validFindings drops findings without at least one source URL
func validFindings(findings []entities.SpecialistFinding) []entities.SpecialistFinding {
	valid := findings[:0]
	for _, f := range findings {
		if f.Valid() {
			valid = append(valid, f)
		}
	}
	return valid
}
