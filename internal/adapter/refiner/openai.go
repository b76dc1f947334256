// Package refiner rewrites search queries with an LLM before keyword
// search. Refinement is best effort and only feeds the keyword path; the
// semantic path always uses the original query.
package refiner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const refinePrompt = `Analyze the following user search query to understand the user's intent. Refine the query by adding relevant synonyms, related concepts, or context-aware keywords that would improve a search across text documents. Do not hallucinate information. Respond with only the refined search query string.
Original Query: %q
Refined Query:`

// OpenAIRefiner calls an OpenAI-compatible chat completions endpoint.
type OpenAIRefiner struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIRefiner creates a refiner, reading the API key from the
// environment. A missing key is an error so the caller can fall back to
// the noop refiner.
func NewOpenAIRefiner(apiKeyEnv, model, baseURL string, timeout time.Duration, logger *slog.Logger) (*OpenAIRefiner, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIRefiner{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Refine rewrites the query. On any failure the original query is
// returned unchanged; refinement never blocks or fails the search.
func (r *OpenAIRefiner) Refine(ctx context.Context, query string) string {
	refined, err := r.complete(ctx, fmt.Sprintf(refinePrompt, query))
	if err != nil {
		r.logger.Warn("query refinement failed, falling back to original query", "error", err)
		return query
	}
	refined = strings.TrimSpace(refined)
	if refined == "" {
		return query
	}
	return refined
}

func (r *OpenAIRefiner) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:    r.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("API response contained no choices")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// Noop passes queries through unchanged, used when refinement is
// disabled or misconfigured.
type Noop struct{}

// Refine returns the query unchanged.
func (Noop) Refine(_ context.Context, query string) string {
	return query
}
