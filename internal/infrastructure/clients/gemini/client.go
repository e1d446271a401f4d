package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/medigate/navigator/internal/domain/entities"
	"github.com/medigate/navigator/internal/infrastructure/observability"
	"github.com/medigate/navigator/pkg/config"
	apperrors "github.com/medigate/navigator/pkg/errors"
	"github.com/medigate/navigator/pkg/retry"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const specialistSystemPrompt = `あなたは医療機関の専門医情報を調査するリサーチアシスタントです。
指定されたクリニックについてウェブ検索を行い、在籍する専門医・専門外来・
対応できる専門的な診療内容を調べてください。
確認できた事実のみを、1件ごとに改行区切りの簡潔な日本語の文で report してください。
検索で確認できなかった場合は「情報なし」とだけ出力してください。`

// Client implements the GroundingProvider on the Gemini generateContent
// API with the google_search tool. Findings that cannot be attributed to
// at least one web source are discarded rather than returned unsourced.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	retryCfg   retry.Config
}

// NewClient creates a new Gemini grounded-search client
func NewClient(cfg *config.GeminiConfig) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retry.DefaultConfig(),
	}, nil
}

type generateContentRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTool    `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiTool struct {
	GoogleSearch struct{} `json:"google_search"`
}

type generateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content           geminiContent      `json:"content"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata"`
}

type groundingMetadata struct {
	GroundingChunks   []groundingChunk   `json:"groundingChunks"`
	GroundingSupports []groundingSupport `json:"groundingSupports"`
}

type groundingChunk struct {
	Web *groundingWeb `json:"web"`
}

type groundingWeb struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

type groundingSupport struct {
	Segment               *groundingSegment `json:"segment"`
	GroundingChunkIndices []int             `json:"groundingChunkIndices"`
}

type groundingSegment struct {
	Text string `json:"text"`
}

// FindSpecialistInfo searches the web for specialist coverage at the given
// clinic and returns source-attributed findings. Transport and service
// failures surface as EnrichmentUnavailable so the caller can degrade per
// clinic; a response with nothing attributable is an empty result, not an
// error.
func (c *Client) FindSpecialistInfo(ctx context.Context, clinicName, clinicAddress string) ([]entities.SpecialistFinding, error) {
	if strings.TrimSpace(clinicName) == "" {
		return nil, apperrors.NewValidationError("clinic name is required")
	}

	prompt := fmt.Sprintf("クリニック名: %s\n所在地: %s", clinicName, clinicAddress)

	candidate, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, apperrors.NewEnrichmentUnavailableError(
			fmt.Sprintf("specialist search failed for %s", clinicName), err)
	}

	return extractFindings(candidate), nil
}

// generate runs one grounded generateContent call with transport retry
func (c *Client) generate(ctx context.Context, prompt string) (*geminiCandidate, error) {
	logger := observability.LoggerFromContext(ctx)

	reqBody := generateContentRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: specialistSystemPrompt}}},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		Tools: []geminiTool{{}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)

	var candidate *geminiCandidate
	err = retry.DoWithLog(ctx, c.retryCfg, "gemini", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", c.apiKey)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			recordGroundingMetric(ctx, c.model, 0, time.Since(start), err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := fmt.Errorf("gemini request failed with status %d", resp.StatusCode)
			recordGroundingMetric(ctx, c.model, resp.StatusCode, time.Since(start), statusErr)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return statusErr
			}
			return retry.Permanent(statusErr)
		}

		var envelope generateContentResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			recordGroundingMetric(ctx, c.model, resp.StatusCode, time.Since(start), err)
			return retry.Permanent(err)
		}
		if len(envelope.Candidates) == 0 {
			missingErr := errors.New("gemini response missing candidates")
			recordGroundingMetric(ctx, c.model, resp.StatusCode, time.Since(start), missingErr)
			return missingErr
		}

		recordGroundingMetric(ctx, c.model, resp.StatusCode, time.Since(start), nil)
		candidate = &envelope.Candidates[0]
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		logger.Warn().
			Int("attempt", attempt).
			Dur("next_delay", nextDelay).
			Err(err).
			Msg("grounded search request failed, retrying")
	})
	if err != nil {
		return nil, err
	}
	return candidate, nil
}

// extractFindings turns a grounded candidate into source-attributed
// findings. When per-segment attribution is available each supported
// segment becomes one finding; otherwise the whole text becomes a single
// finding carrying every web source. Segments and responses without any
// web source are dropped.
func extractFindings(candidate *geminiCandidate) []entities.SpecialistFinding {
	if candidate == nil || candidate.GroundingMetadata == nil {
		return nil
	}

	sources := make([]string, len(candidate.GroundingMetadata.GroundingChunks))
	hasSources := false
	for i, chunk := range candidate.GroundingMetadata.GroundingChunks {
		if chunk.Web != nil && chunk.Web.URI != "" {
			sources[i] = chunk.Web.URI
			hasSources = true
		}
	}
	if !hasSources {
		return nil
	}

	text := candidateText(candidate)
	if text == "" || strings.Contains(text, "情報なし") {
		return nil
	}

	var findings []entities.SpecialistFinding
	for _, support := range candidate.GroundingMetadata.GroundingSupports {
		if support.Segment == nil || strings.TrimSpace(support.Segment.Text) == "" {
			continue
		}
		urls := dedupeURLs(support.GroundingChunkIndices, sources)
		if len(urls) == 0 {
			continue
		}
		findings = append(findings, entities.SpecialistFinding{
			Text:       strings.TrimSpace(support.Segment.Text),
			SourceURLs: urls,
		})
	}
	if len(findings) > 0 {
		return findings
	}

	// No per-segment attribution: fall back to one finding over all sources
	all := make([]int, len(sources))
	for i := range all {
		all[i] = i
	}
	urls := dedupeURLs(all, sources)
	if len(urls) == 0 {
		return nil
	}
	return []entities.SpecialistFinding{{Text: text, SourceURLs: urls}}
}

func candidateText(candidate *geminiCandidate) string {
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

func dedupeURLs(indices []int, sources []string) []string {
	seen := make(map[string]bool, len(indices))
	var urls []string
	for _, idx := range indices {
		if idx < 0 || idx >= len(sources) || sources[idx] == "" {
			continue
		}
		if seen[sources[idx]] {
			continue
		}
		seen[sources[idx]] = true
		urls = append(urls, sources[idx])
	}
	return urls
}

type groundingMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestErrors   metric.Int64Counter
}

var groundingMetricsInit = false
var grounding groundingMetrics

func ensureGroundingMetrics() {
	if groundingMetricsInit {
		return
	}
	meter := otel.Meter("github.com/medigate/navigator/gemini")

	requestCount, err := meter.Int64Counter(
		"ai.grounding.request.count",
		metric.WithDescription("Number of grounded search requests"),
	)
	if err != nil {
		return
	}
	requestDuration, err := meter.Float64Histogram(
		"ai.grounding.request.duration",
		metric.WithDescription("Grounded search request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return
	}
	requestErrors, err := meter.Int64Counter(
		"ai.grounding.request.errors",
		metric.WithDescription("Number of grounded search request errors"),
	)
	if err != nil {
		return
	}

	grounding = groundingMetrics{
		requestCount:    requestCount,
		requestDuration: requestDuration,
		requestErrors:   requestErrors,
	}
	groundingMetricsInit = true
}

func recordGroundingMetric(ctx context.Context, model string, statusCode int, duration time.Duration, err error) {
	ensureGroundingMetrics()
	if !groundingMetricsInit {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("ai.provider", "gemini"),
		attribute.String("ai.model", model),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", statusCode))
	}

	grounding.requestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	grounding.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		grounding.requestErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
