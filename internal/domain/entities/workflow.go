package entities

import (
	"time"
)

// Stage identifies a step of the symptom-to-note workflow. The integer
// values double as the opaque resumption token round-tripped by clients.
type Stage int

const (
	StageIntake Stage = iota + 1
	StageClarification
	StageRecommendation
	StageFacilityLookup
	StageNoteGeneration
)

// stageNames maps stages to wire names
var stageNames = map[Stage]string{
	StageIntake:         "intake",
	StageClarification:  "clarification",
	StageRecommendation: "recommendation",
	StageFacilityLookup: "facility_lookup",
	StageNoteGeneration: "note_generation",
}

// String returns the wire name for the stage
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether the stage is one of the defined workflow stages
func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// QuestionAnswer pairs one clarifying question with the user's answer.
// The answer may be empty when the user skipped the question.
type QuestionAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// DepartmentRecommendation is one recommended department with its rationale
type DepartmentRecommendation struct {
	Department string `json:"department"`
	Rationale  string `json:"rationale"`
}

// SpecialistFinding is a source-attributed specialist or certification claim
// about a clinic. A finding without at least one source URL is invalid and
// must never be surfaced.
type SpecialistFinding struct {
	Text       string   `json:"text"`
	SourceURLs []string `json:"source_urls"`
}

// Valid reports whether the finding carries at least one non-empty source URL
func (f SpecialistFinding) Valid() bool {
	for _, u := range f.SourceURLs {
		if u != "" {
			return true
		}
	}
	return false
}

// EnrichmentResult accumulates per-clinic specialist findings. A nil
// EnrichmentResult on the workflow means enrichment was never attempted;
// a present one records both findings and per-clinic failures so one
// clinic's failure never hides its siblings' results.
type EnrichmentResult struct {
	Findings map[string][]SpecialistFinding `json:"findings"`
	Failures map[string]string              `json:"failures,omitempty"`
}

// PQRSTNote is a clinician-facing symptom note with the five fixed PQRST
// sections. Sections the AI could not fill carry NoteSectionMissing instead
// of being omitted, so consumers can rely on a fixed section set.
type PQRSTNote struct {
	Provocation string `json:"provocation"`
	Quality     string `json:"quality"`
	Region      string `json:"region"`
	Severity    string `json:"severity"`
	TimeCourse  string `json:"time_course"`
}

// NoteSectionMissing marks a PQRST section the patient information did not
// cover.
const NoteSectionMissing = "記載なし"

// NoteSectionLabels are the five PQRST section labels in order
var NoteSectionLabels = [5]string{
	"P (誘発・軽減要因)",
	"Q (性質)",
	"R (部位・放散)",
	"S (重症度)",
	"T (発症・持続時間)",
}

// Sections returns the note's five section values in PQRST order, with
// empty sections replaced by the explicit missing marker.
func (n *PQRSTNote) Sections() [5]string {
	vals := [5]string{n.Provocation, n.Quality, n.Region, n.Severity, n.TimeCourse}
	for i, v := range vals {
		if v == "" {
			vals[i] = NoteSectionMissing
		}
	}
	return vals
}

// SearchOrigin is the resolved starting point for a facility lookup: either
// a named reference point or the user's own coordinates.
type SearchOrigin struct {
	Label    string   `json:"label"`
	Location Location `json:"location"`
}

// WorkflowState carries everything one workflow run has accumulated. Fields
// belonging to a later stage stay zero until that stage is reached; once
// populated they change only when the user re-enters an earlier stage, which
// clears everything downstream.
type WorkflowState struct {
	ID    string `json:"id"`
	Stage Stage  `json:"stage"`

	// Epoch increments on every restart. In-flight adapter results carrying
	// a stale epoch are discarded instead of being applied to the new run.
	Epoch int64 `json:"epoch"`

	SymptomText     string                     `json:"symptom_text,omitempty"`
	Questions       []string                   `json:"questions,omitempty"`
	Answers         []QuestionAnswer           `json:"answers,omitempty"`
	Recommendations []DepartmentRecommendation `json:"recommendations,omitempty"`
	Disclaimer      string                     `json:"disclaimer,omitempty"`

	Origin     *SearchOrigin     `json:"origin,omitempty"`
	RadiusM    int               `json:"radius_m,omitempty"`
	MaxResults int               `json:"max_results,omitempty"`
	Clinics    []ClinicMatch     `json:"clinics,omitempty"`
	Enrichment *EnrichmentResult `json:"enrichment,omitempty"`
	Note       *PQRSTNote        `json:"note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClearFrom discards all state belonging to the given stage and every stage
// after it. Used when the user edits an earlier step so stale AI output for
// changed inputs is never shown.
func (w *WorkflowState) ClearFrom(stage Stage) {
	if stage <= StageClarification {
		w.Questions = nil
		w.Answers = nil
	}
	if stage <= StageRecommendation {
		w.Recommendations = nil
		w.Disclaimer = ""
	}
	if stage <= StageFacilityLookup {
		w.Origin = nil
		w.RadiusM = 0
		w.MaxResults = 0
		w.Clinics = nil
		w.Enrichment = nil
	}
	if stage <= StageNoteGeneration {
		w.Note = nil
	}
	if w.Stage > stage {
		w.Stage = stage
	}
}

// ClinicByID returns the looked-up clinic match with the given id, if any
func (w *WorkflowState) ClinicByID(id string) (*ClinicMatch, bool) {
	for i := range w.Clinics {
		if w.Clinics[i].Clinic.ID == id {
			return &w.Clinics[i], true
		}
	}
	return nil, false
}
