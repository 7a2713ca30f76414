package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"lawchat-gateway/internal/config"
	"lawchat-gateway/internal/models"
	"lawchat-gateway/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"
	userAgent       = "lawchat-gateway/0.1"
	safetyThreshold = "BLOCK_MEDIUM_AND_ABOVE"
)

var safetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// Provider implements the Provider interface for the Gemini generateContent API.
type Provider struct {
	name        string
	apiKey      string
	headers     map[string]string
	client      *http.Client
	model       string
	completeURL string
	streamURL   string
}

// New creates a new Gemini provider.
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

	modelPath := baseURL + "/models/" + url.PathEscape(cfg.Model)
	return &Provider{
		name:        cfg.Name,
		apiKey:      cfg.APIKey,
		headers:     cfg.Headers,
		client:      client,
		model:       cfg.Model,
		completeURL: modelPath + ":generateContent",
		streamURL:   modelPath + ":streamGenerateContent?alt=sse",
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	payload, err := buildPayload(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.newRequest(ctx, p.completeURL, contentTypeJSON, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.TransportError(p.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, provider.ParseAPIError(p.name, httpResp)
	}

	var resp models.CompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, provider.TransportError(p.name, fmt.Errorf("decode provider response: %w", err))
	}
	return &resp, nil
}

func (p *Provider) CompleteStream(ctx context.Context, req models.CompletionRequest) (io.ReadCloser, error) {
	payload, err := buildPayload(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.newRequest(ctx, p.streamURL, contentTypeSSE, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.TransportError(p.name, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		return nil, provider.ParseAPIError(p.name, httpResp)
	}
	return httpResp.Body, nil
}

func (p *Provider) newRequest(ctx context.Context, endpoint, accept string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-goog-api-key", p.apiKey)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type generatePayload struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	SafetySettings    []safetySetting  `json:"safetySettings"`
	Tools             []tool           `json:"tools,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type tool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

func buildPayload(req models.CompletionRequest) (generatePayload, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return generatePayload{}, errors.New("prompt must not be empty")
	}

	payload := generatePayload{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: req.Prompt}},
		}},
		GenerationConfig: generationConfig{
			MaxOutputTokens: req.MaxOutputTokens,
			ThinkingConfig: &thinkingConfig{
				ThinkingBudget:  req.ThinkingBudget,
				IncludeThoughts: req.IncludeThoughts && req.ThinkingBudget != 0,
			},
		},
	}

	temperature := req.Temperature
	payload.GenerationConfig.Temperature = &temperature

	if strings.TrimSpace(req.SystemInstruction) != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: req.SystemInstruction}}}
	}

	for _, category := range safetyCategories {
		payload.SafetySettings = append(payload.SafetySettings, safetySetting{
			Category:  category,
			Threshold: safetyThreshold,
		})
	}

	if req.Grounding {
		payload.Tools = []tool{{GoogleSearch: &struct{}{}}}
	}

	return payload, nil
}
