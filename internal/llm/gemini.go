// Package llm provides the Gemini REST client used for dialogue
// generation and text embeddings.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/smartstress/smartstress/internal/session"
)

const (
	defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultGenerationModel is the chat model used when none is configured.
	DefaultGenerationModel = "gemini-2.0-flash"
	// DefaultEmbeddingModel is the embedding model used when none is configured.
	DefaultEmbeddingModel = "text-embedding-004"

	embeddingDimensions = 768
	maxRetries          = 3
)

// GeminiClient talks to the Gemini generateContent and embedContent
// endpoints. Transient failures (network errors, 429, 5xx) are retried
// with exponential backoff; 4xx responses fail immediately.
type GeminiClient struct {
	apiKey          string
	generationModel string
	embeddingModel  string
	endpoint        string
	client          *http.Client
}

// GeminiOption configures the client.
type GeminiOption func(*GeminiClient)

// WithEndpoint sets a custom API base URL (e.g. for proxies or tests).
func WithEndpoint(endpoint string) GeminiOption {
	return func(c *GeminiClient) { c.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) GeminiOption {
	return func(c *GeminiClient) { c.client.Timeout = d }
}

// WithModels overrides the generation and embedding model names. Empty
// values keep the defaults.
func WithModels(generation, embedding string) GeminiOption {
	return func(c *GeminiClient) {
		if generation != "" {
			c.generationModel = generation
		}
		if embedding != "" {
			c.embeddingModel = embedding
		}
	}
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(apiKey string, opts ...GeminiOption) *GeminiClient {
	c := &GeminiClient{
		apiKey:          apiKey,
		generationModel: DefaultGenerationModel,
		embeddingModel:  DefaultEmbeddingModel,
		endpoint:        defaultEndpoint,
		client:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dimensions reports the embedding vector width.
func (c *GeminiClient) Dimensions() int { return embeddingDimensions }

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generateRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type embedRequest struct {
	Content geminiContent `json:"content"`
}

type embedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
	Error *geminiError `json:"error,omitempty"`
}

// Generate produces one assistant reply for the given history and
// system prompt. Assistant turns map to Gemini's "model" role.
func (c *GeminiClient) Generate(ctx context.Context, history []session.Message, systemPrompt string) (string, error) {
	req := generateRequest{}
	if systemPrompt != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	for _, m := range history {
		role := "user"
		if m.Role == session.RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, c.generationModel)

	var result generateResponse
	if err := c.post(ctx, url, req, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("gemini error %d: %s", result.Error.Code, result.Error.Message)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Embed generates one embedding vector per input text. Gemini's
// embedContent endpoint takes a single text, so inputs are sent
// sequentially.
func (c *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	url := fmt.Sprintf("%s/models/%s:embedContent", c.endpoint, c.embeddingModel)

	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		req := embedRequest{Content: geminiContent{Parts: []geminiPart{{Text: text}}}}

		var result embedResponse
		if err := c.post(ctx, url, req, &result); err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		if result.Error != nil {
			return nil, fmt.Errorf("gemini error %d: %s", result.Error.Code, result.Error.Message)
		}
		if len(result.Embedding.Values) == 0 {
			return nil, fmt.Errorf("gemini returned empty embedding for text %d", i)
		}
		vectors[i] = result.Embedding.Values
	}
	return vectors, nil
}

// HealthCheck verifies the API key by embedding a test string.
func (c *GeminiClient) HealthCheck(ctx context.Context) error {
	_, err := c.Embed(ctx, []string{"health check"})
	return err
}

// post sends one JSON request with retries and decodes the response
// into out. Client errors other than 429 are permanent.
func (c *GeminiClient) post(ctx context.Context, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("Gemini request throttled or failed, retrying")
			return fmt.Errorf("gemini API returned %d: %s", resp.StatusCode, string(respBody))
		default:
			return backoff.Permanent(fmt.Errorf("gemini API returned %d: %s", resp.StatusCode, string(respBody)))
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	return backoff.Retry(op, policy)
}
