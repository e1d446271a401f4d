package providers

import (
	"context"

	"github.com/medigate/navigator/internal/domain/entities"
)

// GenerationProvider defines the interface for the AI text-generation
// collaborator. Implementations must never return silently-empty output:
// unusable responses surface as Generation errors after bounded retries.
type GenerationProvider interface {
	// GenerateClarifyingQuestions produces 1-5 follow-up questions for a
	// free-text symptom description
	GenerateClarifyingQuestions(ctx context.Context, symptom string) ([]string, error)

	// RecommendDepartments produces 1-3 non-diagnostic department
	// recommendations plus a patient-facing disclaimer
	RecommendDepartments(ctx context.Context, symptom string, answers []entities.QuestionAnswer) ([]entities.DepartmentRecommendation, string, error)

	// GenerateNote produces a clinician-facing PQRST note
	GenerateNote(ctx context.Context, symptom string, answers []entities.QuestionAnswer) (*entities.PQRSTNote, error)
}
