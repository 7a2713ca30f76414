package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"lawchat-gateway/internal/config"
	"lawchat-gateway/internal/models"
	"lawchat-gateway/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "lawchat-gateway/0.1"
)

// Provider implements the Provider interface for OpenAI-compatible chat APIs.
// It only serves the degraded fallback path: no grounding, no thinking, no streaming.
type Provider struct {
	name    string
	apiKey  string
	model   string
	headers map[string]string
	client  *http.Client
	chatURL string
}

// New creates a new OpenAI provider.
func New(cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("model must not be empty")
	}

	return &Provider{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		headers: cfg.Headers,
		client:  client,
		chatURL: baseURL + "/chat/completions",
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	payload, err := buildChatPayload(p.model, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.newRequest(ctx, http.MethodPost, p.chatURL, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.TransportError(p.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, provider.ParseAPIError(p.name, httpResp)
	}

	var providerResp chatResponse
	if err := decodeJSON(httpResp.Body, &providerResp); err != nil {
		return nil, provider.TransportError(p.name, err)
	}

	return providerResp.toCompletion()
}

// CompleteStream is not offered by the fallback provider.
func (p *Provider) CompleteStream(ctx context.Context, req models.CompletionRequest) (io.ReadCloser, error) {
	return nil, fmt.Errorf("streaming is not supported for provider %s: %w", p.name, provider.ErrUnsupportedOperation)
}

func (p *Provider) newRequest(ctx context.Context, method, endpoint string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type chatPayload struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildChatPayload(model string, req models.CompletionRequest) (chatPayload, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return chatPayload{}, errors.New("prompt must not be empty")
	}

	messages := make([]openAIMessage, 0, 2)
	if strings.TrimSpace(req.SystemInstruction) != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemInstruction})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	payload := chatPayload{
		Model:    model,
		Messages: messages,
	}

	if req.MaxOutputTokens > 0 {
		v := req.MaxOutputTokens
		payload.MaxTokens = &v
	}
	temperature := req.Temperature
	payload.Temperature = &temperature

	return payload, nil
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *usageBlock  `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (r chatResponse) toCompletion() (*models.CompletionResponse, error) {
	if len(r.Choices) == 0 {
		return nil, errors.New("openai response did not include choices")
	}

	choice := r.Choices[0]
	return &models.CompletionResponse{
		Candidates: []models.Candidate{{
			Content: &models.Content{
				Role:  "model",
				Parts: []models.Part{{Text: choice.Message.Content}},
			},
			FinishReason: finishReason(choice.FinishReason),
			Index:        choice.Index,
		}},
		UsageMetadata: &models.Usage{
			PromptTokenCount:     valueOrZero(r.Usage, func(u *usageBlock) int { return u.PromptTokens }),
			CandidatesTokenCount: valueOrZero(r.Usage, func(u *usageBlock) int { return u.CompletionTokens }),
			TotalTokenCount:      valueOrZero(r.Usage, func(u *usageBlock) int { return u.TotalTokens }),
		},
		ModelVersion: r.Model,
	}, nil
}

// finishReason maps OpenAI finish reasons onto the Gemini vocabulary used downstream.
func finishReason(reason string) string {
	switch reason {
	case "stop":
		return "STOP"
	case "length":
		return "MAX_TOKENS"
	case "content_filter":
		return "SAFETY"
	case "":
		return ""
	default:
		return strings.ToUpper(reason)
	}
}

func decodeJSON(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

func valueOrZero[T any, R any](ptr *T, getter func(*T) R) R {
	var zero R
	if ptr == nil {
		return zero
	}
	return getter(ptr)
}
