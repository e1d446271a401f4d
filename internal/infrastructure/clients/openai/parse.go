package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/medigate/navigator/internal/domain/entities"
)

const (
	minQuestions = 1
	maxQuestions = 5

	maxDepartments = 3
)

type questionsPayload struct {
	Questions []string `json:"questions"`
}

type departmentsPayload struct {
	Departments []departmentEntry `json:"departments"`
	Disclaimer  string            `json:"disclaimer"`
}

type departmentEntry struct {
	Department string `json:"department"`
	Rationale  string `json:"rationale"`
}

type notePayload struct {
	Provocation string `json:"provocation"`
	Quality     string `json:"quality"`
	Region      string `json:"region"`
	Severity    string `json:"severity"`
	TimeCourse  string `json:"time_course"`
}

// cleanMarkdownFences strips ```json fences models wrap JSON output in
func cleanMarkdownFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}

func parseQuestionsPayload(text string) ([]string, error) {
	var payload questionsPayload
	if err := json.Unmarshal([]byte(cleanMarkdownFences(text)), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse questions payload: %w", err)
	}

	questions := make([]string, 0, len(payload.Questions))
	for _, q := range payload.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) < minQuestions {
		return nil, fmt.Errorf("questions payload contains no usable questions")
	}
	if len(questions) > maxQuestions {
		questions = questions[:maxQuestions]
	}
	return questions, nil
}

func parseDepartmentsPayload(text string) ([]entities.DepartmentRecommendation, string, error) {
	var payload departmentsPayload
	if err := json.Unmarshal([]byte(cleanMarkdownFences(text)), &payload); err != nil {
		return nil, "", fmt.Errorf("failed to parse departments payload: %w", err)
	}

	recs := make([]entities.DepartmentRecommendation, 0, len(payload.Departments))
	for _, entry := range payload.Departments {
		dept := strings.TrimSpace(entry.Department)
		if dept == "" {
			continue
		}
		recs = append(recs, entities.DepartmentRecommendation{
			Department: dept,
			Rationale:  strings.TrimSpace(entry.Rationale),
		})
	}
	if len(recs) == 0 {
		return nil, "", fmt.Errorf("departments payload contains no usable recommendations")
	}
	if len(recs) > maxDepartments {
		recs = recs[:maxDepartments]
	}
	return recs, strings.TrimSpace(payload.Disclaimer), nil
}

func parseNotePayload(text string) (*entities.PQRSTNote, error) {
	var payload notePayload
	if err := json.Unmarshal([]byte(cleanMarkdownFences(text)), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse note payload: %w", err)
	}

	note := &entities.PQRSTNote{
		Provocation: orMissing(payload.Provocation),
		Quality:     orMissing(payload.Quality),
		Region:      orMissing(payload.Region),
		Severity:    orMissing(payload.Severity),
		TimeCourse:  orMissing(payload.TimeCourse),
	}
	return note, nil
}

// orMissing fills an absent section with the explicit marker so downstream
// consumers can rely on the full PQRST section set.
func orMissing(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return entities.NoteSectionMissing
	}
	return s
}
