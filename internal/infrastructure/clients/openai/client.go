package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/medigate/navigator/internal/domain/entities"
	"github.com/medigate/navigator/internal/infrastructure/observability"
	"github.com/medigate/navigator/pkg/config"
	apperrors "github.com/medigate/navigator/pkg/errors"
	"github.com/medigate/navigator/pkg/retry"
)

// Client implements the GenerationProvider on the OpenAI chat completion
// API. Each operation is one structured request/response exchange with a
// distinct instruction template; transient failures are retried with
// backoff, unparseable output is re-requested once with a stricter
// reformulation instruction and then surfaced as a Generation error.
type Client struct {
	client   *openai.Client
	model    string
	retryCfg retry.Config
}

// NewClient creates a new OpenAI generation client
func NewClient(cfg *config.OpenAIConfig) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		retryCfg: retry.DefaultConfig(),
	}, nil
}

// GenerateClarifyingQuestions produces follow-up questions for a symptom
func (c *Client) GenerateClarifyingQuestions(ctx context.Context, symptom string) ([]string, error) {
	var questions []string
	err := c.completeParsed(ctx, "questions", questionsSystemPrompt, buildQuestionsUserPrompt(symptom), func(text string) error {
		parsed, err := parseQuestionsPayload(text)
		if err != nil {
			return err
		}
		questions = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// RecommendDepartments produces non-diagnostic department recommendations
// with a patient-facing disclaimer
func (c *Client) RecommendDepartments(ctx context.Context, symptom string, answers []entities.QuestionAnswer) ([]entities.DepartmentRecommendation, string, error) {
	userPrompt := buildAssessmentUserPrompt(symptom, answers)

	var recs []entities.DepartmentRecommendation
	var disclaimer string
	parse := func(text string) error {
		parsed, d, err := parseDepartmentsPayload(text)
		if err != nil {
			return err
		}
		recs = parsed
		disclaimer = d
		return nil
	}

	if err := c.completeParsed(ctx, "departments", departmentsSystemPrompt, userPrompt, parse); err != nil {
		return nil, "", err
	}

	if !containsDiagnosticLanguage(recs) {
		return recs, disclaimer, nil
	}

	// Diagnostic-sounding output: one re-prompt with the guard reminder
	logger := observability.LoggerFromContext(ctx)
	logger.Warn().Str("operation", "departments").Msg("recommendation contained diagnostic language, re-prompting")

	if err := c.completeParsed(ctx, "departments", departmentsSystemPrompt+nonDiagnosisReminder, userPrompt, parse); err != nil {
		return nil, "", err
	}
	if containsDiagnosticLanguage(recs) {
		return nil, "", apperrors.NewGenerationError("recommendation still contained diagnostic language after re-prompt", nil)
	}
	return recs, disclaimer, nil
}

// GenerateNote produces the clinician-facing PQRST note
func (c *Client) GenerateNote(ctx context.Context, symptom string, answers []entities.QuestionAnswer) (*entities.PQRSTNote, error) {
	var note *entities.PQRSTNote
	err := c.completeParsed(ctx, "note", noteSystemPrompt, buildAssessmentUserPrompt(symptom, answers), func(text string) error {
		parsed, err := parseNotePayload(text)
		if err != nil {
			return err
		}
		note = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// completeParsed runs one exchange and parses the response, re-requesting
// once with the strict reformulation instruction when parsing fails.
func (c *Client) completeParsed(ctx context.Context, operation, systemPrompt, userPrompt string, parse func(string) error) error {
	text, err := c.complete(ctx, operation, systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	if parseErr := parse(text); parseErr == nil {
		return nil
	}

	text, err = c.complete(ctx, operation, systemPrompt+strictJSONReminder, userPrompt)
	if err != nil {
		return err
	}
	if parseErr := parse(text); parseErr != nil {
		return apperrors.NewGenerationError("response did not match the expected structure after reformulation", parseErr)
	}
	return nil
}

// complete runs one chat completion with transport-level retry
func (c *Client) complete(ctx context.Context, operation, systemPrompt, userPrompt string) (string, error) {
	logger := observability.LoggerFromContext(ctx)

	var text string
	err := retry.DoWithLog(ctx, c.retryCfg, "openai", func() error {
		start := time.Now()
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			Temperature: 0.2,
		})
		recordGenerationMetric(ctx, c.model, operation, time.Since(start), err)
		if err != nil {
			if isRetriable(err) {
				return err
			}
			return retry.Permanent(err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			// An empty completion is worth one more attempt
			return errors.New("completion returned no content")
		}
		text = resp.Choices[0].Message.Content
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("next_delay", nextDelay).
			Err(err).
			Msg("generation request failed, retrying")
	})
	if err != nil {
		return "", apperrors.NewGenerationError("generation service unavailable", err)
	}
	return text, nil
}

// isRetriable reports whether the API error is transient (rate limit,
// server error, timeout) rather than a request defect.
func isRetriable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	// Transport-level failures (timeouts, connection resets) come through
	// as plain errors
	return true
}

type generationMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestErrors   metric.Int64Counter
}

var genMetricsInit = false
var genMetrics generationMetrics

func ensureGenerationMetrics() {
	if genMetricsInit {
		return
	}
	meter := otel.Meter("github.com/medigate/navigator/openai")

	requestCount, err := meter.Int64Counter(
		"ai.generation.request.count",
		metric.WithDescription("Number of generation requests"),
	)
	if err != nil {
		return
	}
	requestDuration, err := meter.Float64Histogram(
		"ai.generation.request.duration",
		metric.WithDescription("Generation request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return
	}
	requestErrors, err := meter.Int64Counter(
		"ai.generation.request.errors",
		metric.WithDescription("Number of generation request errors"),
	)
	if err != nil {
		return
	}

	genMetrics = generationMetrics{
		requestCount:    requestCount,
		requestDuration: requestDuration,
		requestErrors:   requestErrors,
	}
	genMetricsInit = true
}

func recordGenerationMetric(ctx context.Context, model, operation string, duration time.Duration, err error) {
	ensureGenerationMetrics()
	if !genMetricsInit {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("ai.provider", "openai"),
		attribute.String("ai.model", model),
		attribute.String("ai.operation", operation),
	}

	genMetrics.requestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	genMetrics.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		genMetrics.requestErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
