package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider wraps the Anthropic SDK.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
	cfg    ProviderConfig
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg ProviderConfig) (*AnthropicProvider, error) {
	opts := []option.RequestOption{}

	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = DefaultModels["anthropic"]
	}

	return &AnthropicProvider{
		client: client,
		model:  model,
		cfg:    cfg,
	}, nil
}

// Invoke sends page content plus the extraction prompt to Anthropic.
func (p *AnthropicProvider) Invoke(ctx context.Context, req Request) (Response, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Pages)+1)
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))

	for _, page := range req.Pages {
		if page.IsImage() {
			encoded := base64.StdEncoding.EncodeToString(page.Data)
			blocks = append(blocks, anthropic.NewImageBlockBase64(page.MIME, encoded))
		} else {
			blocks = append(blocks, anthropic.NewTextBlock(
				fmt.Sprintf("--- Page %d ---\n%s", page.Number, page.Text)))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apierr *anthropic.Error
		if errors.As(err, &apierr) {
			if typed := classifyStatus("anthropic", apierr.StatusCode, apierr.Error()); typed != nil {
				return Response{}, typed
			}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Response{}, &TransportError{Provider: "anthropic", Message: "request timed out"}
		}
		return Response{}, fmt.Errorf("anthropic API error: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}

	usage := Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return Response{
		Content:      content,
		FinishReason: string(resp.StopReason),
		Usage:        usage,
	}, nil
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}
