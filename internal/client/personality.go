package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/config"
	"github.com/characterhub/api/internal/model"
)

// PersonalityGenerator is the text-generation collaborator used to write a
// character's personality description. It is best-effort everywhere it is
// called: a failure degrades the job, never fails it.
type PersonalityGenerator interface {
	GeneratePersonalityDetails(ctx context.Context, traits *model.PersonalityInput) (string, error)
	IsConfigured() bool
}

// MotionPrompter writes the short motion prompt handed to the video backend.
// Best-effort: callers fall back to a static prompt on failure.
type MotionPrompter interface {
	GenerateMotionPrompt(ctx context.Context, subject string) (string, error)
	IsConfigured() bool
}

// PersonalityClient calls a Groq-style chat completions endpoint.
type PersonalityClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	log        zerolog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewPersonalityClient(cfg *config.GroqConfig, log zerolog.Logger) *PersonalityClient {
	return &PersonalityClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		log:        log.With().Str("client", "personality-api").Logger(),
	}
}

func (c *PersonalityClient) IsConfigured() bool {
	return c.apiKey != ""
}

const personalitySystemPrompt = "You write vivid, coherent personality descriptions for fictional AI companions. " +
	"Given trait keywords, produce a single paragraph of 80-120 words in the second person. No lists, no headings."

// GeneratePersonalityDetails produces free text from the trait keywords.
func (c *PersonalityClient) GeneratePersonalityDetails(ctx context.Context, traits *model.PersonalityInput) (string, error) {
	return c.complete(ctx, personalitySystemPrompt, traitsPrompt(traits), 512)
}

const motionSystemPrompt = "You write motion prompts for an image-to-video model. " +
	"Given a subject description, produce one sentence describing subtle, natural motion. " +
	"No camera jargon, no quotes, under 25 words."

// GenerateMotionPrompt produces a one-line motion description for the subject.
func (c *PersonalityClient) GenerateMotionPrompt(ctx context.Context, subject string) (string, error) {
	return c.complete(ctx, motionSystemPrompt, subject, 64)
}

func (c *PersonalityClient) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

func traitsPrompt(traits *model.PersonalityInput) string {
	var parts []string
	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}
	if traits != nil {
		add("Personality", traits.Personality)
		add("Hobby", traits.Hobby)
		add("Occupation", traits.Occupation)
		add("Relationship", traits.Relationship)
		add("Signature pose", traits.Pose)
	}
	if len(parts) == 0 {
		return "Traits: unspecified. Invent a warm, curious personality."
	}
	return strings.Join(parts, "\n")
}
