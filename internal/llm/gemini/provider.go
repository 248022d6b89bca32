package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/llm"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type Provider struct {
	apiKey string
}

func NewProvider(cfg config.GeminiConfig) *Provider {
	return &Provider{apiKey: cfg.APIKey}
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *Provider) model(client *genai.Client, req llm.Request) *genai.GenerativeModel {
	params := req.Params.WithDefaults("")

	m := client.GenerativeModel(req.Model)
	m.SetTemperature(float32(params.Temp()))
	m.SetTopP(float32(params.TopP))
	if params.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(params.MaxTokens))
	}
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	return m
}

func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if !p.IsConfigured() {
		return nil, fmt.Errorf("gemini provider is not configured (missing API key)")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	start := time.Now()
	resp, err := p.model(client, req).GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}

	output := responseText(resp)
	if output == "" {
		return nil, fmt.Errorf("empty response from gemini")
	}

	return &llm.Response{
		Text:      output,
		Model:     req.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (p *Provider) Stream(ctx context.Context, req llm.Request) (*llm.Stream, error) {
	if !p.IsConfigured() {
		return nil, fmt.Errorf("gemini provider is not configured (missing API key)")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	iter := p.model(client, req).GenerateContentStream(ctx, genai.Text(req.Prompt))
	header := llm.StreamHeader{Model: req.Model, Condense: req.Condense}
	return llm.NewStream(ctx, header, func(emit func(string) bool) error {
		defer client.Close()
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("gemini stream error: %w", err)
			}
			if !emit(responseText(resp)) {
				return ctx.Err()
			}
		}
	}), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}
