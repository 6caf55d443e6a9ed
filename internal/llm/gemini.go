package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiProvider calls the Gemini generateContent REST API. There is no
// official Go SDK dependency here; the wire format is small enough to speak
// directly.
type GeminiProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(cfg ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini requires an API key")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = geminiEndpoint
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModels["gemini"]
	}

	client := &http.Client{}
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}

	return &GeminiProvider{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		client:  client,
	}, nil
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Invoke sends page content plus the extraction prompt to Gemini.
func (p *GeminiProvider) Invoke(ctx context.Context, req Request) (Response, error) {
	parts := make([]geminiPart, 0, len(req.Pages)+1)
	parts = append(parts, geminiPart{Text: req.Prompt})

	for _, page := range req.Pages {
		if page.IsImage() {
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MIMEType: page.MIME,
				Data:     base64.StdEncoding.EncodeToString(page.Data),
			}})
		} else {
			parts = append(parts, geminiPart{
				Text: fmt.Sprintf("--- Page %d ---\n%s", page.Number, page.Text),
			})
		}
	}

	gemReq := geminiRequest{
		Contents: []geminiContent{{Parts: parts, Role: "user"}},
	}
	if req.System != "" {
		gemReq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	gemReq.GenerationConfig.Temperature = req.Temperature
	gemReq.GenerationConfig.MaxOutputTokens = req.MaxTokens

	body, err := json.Marshal(gemReq)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s",
		p.baseURL, p.model, url.QueryEscape(p.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Response{}, err
		}
		return Response{}, &TransportError{Provider: "gemini", Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Response{}, &TransportError{Provider: "gemini", Message: "read response: " + err.Error()}
	}

	if typed := classifyStatus("gemini", resp.StatusCode, string(respBody)); typed != nil {
		return Response{}, typed
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var gemResp geminiResponse
	if err := json.Unmarshal(respBody, &gemResp); err != nil {
		return Response{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if gemResp.Error != nil {
		return Response{}, fmt.Errorf("gemini error %s: %s", gemResp.Error.Status, gemResp.Error.Message)
	}
	if len(gemResp.Candidates) == 0 {
		return Response{}, fmt.Errorf("empty response from gemini")
	}

	var content string
	for _, part := range gemResp.Candidates[0].Content.Parts {
		content += part.Text
	}

	return Response{
		Content:      content,
		FinishReason: gemResp.Candidates[0].FinishReason,
		Usage: Usage{
			InputTokens:  gemResp.UsageMetadata.PromptTokenCount,
			OutputTokens: gemResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  gemResp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}
