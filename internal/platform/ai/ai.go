// Package ai answers health questions and describes medical images through an
// OpenAI-compatible chat endpoint (Gemini by default).
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrNotConfigured = errors.New("ai: api key not configured")
	ErrInvalidMode   = errors.New("ai: unsupported mode")
	ErrEmptyQuery    = errors.New("ai: query is required")
	ErrEmptyReply    = errors.New("ai: empty reply")
)

// Mode selects the system prompt and how suggestions are extracted.
type Mode string

const (
	ModeDoctor     Mode = "doctor"
	ModeHealthTips Mode = "health-tips"
	ModeMedicine   Mode = "medicine"
	ModeSymptoms   Mode = "symptoms"
)

var systemPrompts = map[Mode]string{
	ModeDoctor: "You are a medical triage assistant for a telehealth app. Recommend which kind of " +
		"specialist the user should see and explain briefly. Never diagnose. Keep answers under 150 words.",
	ModeHealthTips: "You are a friendly wellness coach. Give practical, evidence-based everyday health " +
		"tips as a short bulleted list.",
	ModeMedicine: "You are a pharmacist assistant. Explain what a medicine is commonly used for, typical " +
		"precautions and notable side effects. Always tell the user to follow their prescriber's dosage.",
	ModeSymptoms: "You are a symptom checker. Describe possible causes in plain language and state " +
		"clearly whether the user should seek emergency care, see a doctor soon, or monitor at home.",
}

const imagePrompt = "Describe what is visible in this medical image or document in plain language. " +
	"Point out anything that should be shown to a doctor. Do not give a diagnosis."

// Reply is what the assistant returns to clients.
type Reply struct {
	Mode        Mode     `json:"mode"`
	Text        string   `json:"text"`
	Suggestions []string `json:"suggestions"`
	Model       string   `json:"model"`
}

// Config for Assistant.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration

	// Retry governs 429 handling: Attempts tries in total, waiting
	// BaseDelay, 2*BaseDelay, ... between them.
	Attempts  int
	BaseDelay time.Duration
}

// Assistant wraps a go-openai client.
type Assistant struct {
	client *openai.Client
	cfg    Config

	// Observe, when set, is called after every upstream request.
	Observe func(service string, err error)
}

func NewAssistant(cfg Config) *Assistant {
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Assistant{client: openai.NewClientWithConfig(oc), cfg: cfg}
}

// ValidMode reports whether m is a known mode.
func ValidMode(m Mode) bool {
	_, ok := systemPrompts[m]
	return ok
}

// Ask answers query in the given mode.
func (a *Assistant) Ask(ctx context.Context, query string, mode Mode) (*Reply, error) {
	if a.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if mode == "" {
		mode = ModeDoctor
	}
	prompt, ok := systemPrompts[mode]
	if !ok {
		return nil, ErrInvalidMode
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	text, err := a.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt},
		{Role: openai.ChatMessageRoleUser, Content: query},
	})
	if err != nil {
		return nil, err
	}
	return &Reply{Mode: mode, Text: text, Suggestions: Suggest(mode, text), Model: a.cfg.Model}, nil
}

// AnalyzeImage asks the model to describe the image at imageURL.
func (a *Assistant) AnalyzeImage(ctx context.Context, imageURL, prompt string) (*Reply, error) {
	if a.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(imageURL) == "" {
		return nil, fmt.Errorf("image_url is required")
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = imagePrompt
	}

	text, err := a.complete(ctx, []openai.ChatCompletionMessage{
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    imageURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return &Reply{Mode: ModeSymptoms, Text: text, Suggestions: Suggest(ModeSymptoms, text), Model: a.cfg.Model}, nil
}

// complete runs a chat completion, retrying rate-limited calls with
// exponential backoff.
func (a *Assistant) complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     a.cfg.Model,
		Messages:  msgs,
		MaxTokens: a.cfg.MaxTokens,
	}

	delay := a.cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= a.cfg.Attempts; attempt++ {
		resp, err := a.client.CreateChatCompletion(ctx, req)
		a.observe(err)
		if err == nil {
			if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
				return "", ErrEmptyReply
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}
		lastErr = err
		if !isRateLimited(err) || attempt == a.cfg.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", fmt.Errorf("chat completion: %w", lastErr)
}

func (a *Assistant) observe(err error) {
	if a.Observe != nil {
		a.Observe("ai", err)
	}
}

// IsRateLimited reports whether err is an upstream 429.
func IsRateLimited(err error) bool {
	return isRateLimited(err)
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
