package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/genai-platform/internal/llm"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const anthropicVersion = "bedrock-2023-05-31"

// RuntimeAPI is the subset of the Bedrock runtime client used here.
type RuntimeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// Provider implements llm.Provider on Amazon Bedrock
type Provider struct {
	client     RuntimeAPI
	maxRetries int
}

// NewProvider loads the default AWS configuration for region
func NewProvider(ctx context.Context, region string, maxRetries int) (*Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return New(bedrockruntime.NewFromConfig(cfg), maxRetries), nil
}

// New wraps an existing runtime client
func New(client RuntimeAPI, maxRetries int) *Provider {
	return &Provider{client: client, maxRetries: maxRetries}
}

func (p *Provider) Name() string {
	return "bedrock"
}

func (p *Provider) IsConfigured() bool {
	return p.client != nil
}

// Complete sends a non-streaming InvokeModel request
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body, err := requestBody(req)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	}

	start := time.Now()
	var resp *bedrockruntime.InvokeModelOutput
	var invokeErr error
	for i := 0; i < max(1, p.maxRetries); i++ {
		resp, invokeErr = p.client.InvokeModel(ctx, input)
		if invokeErr == nil || !retryable(invokeErr) || ctx.Err() != nil {
			break
		}
	}
	if invokeErr != nil {
		return nil, classify(invokeErr)
	}

	var out completion
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &llm.Response{
		Text:      out.text(),
		Model:     req.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Stream sends an InvokeModelWithResponseStream request
func (p *Provider) Stream(ctx context.Context, req llm.Request) (*llm.Stream, error) {
	body, err := requestBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(req.Model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, classify(err)
	}

	events := resp.GetStream()
	header := llm.StreamHeader{Model: req.Model, Condense: req.Condense}
	return llm.NewStream(ctx, header, func(emit func(string) bool) error {
		defer events.Close()
		for event := range events.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var c completion
			if err := json.Unmarshal(chunk.Value.Bytes, &c); err != nil {
				return fmt.Errorf("failed to decode stream chunk: %w", err)
			}
			if !emit(c.text()) {
				return ctx.Err()
			}
		}
		if err := events.Err(); err != nil {
			return classify(err)
		}
		return nil
	}), nil
}

// requestBody renders the provider-family body for InvokeModel
func requestBody(req llm.Request) ([]byte, error) {
	family := req.Family
	if family == "" {
		family = familyOf(req.Model)
	}
	params := req.Params.Translate(family)

	var body map[string]any
	switch family {
	case "anthropic":
		body = params
		body["anthropic_version"] = anthropicVersion
		body["messages"] = []map[string]any{{
			"role":    "user",
			"content": []map[string]string{{"type": "text", "text": req.Prompt}},
		}}
		if req.System != "" {
			body["system"] = req.System
		}
	case "amazon":
		body = map[string]any{
			"inputText":            withSystem(req),
			"textGenerationConfig": params,
		}
	case "mistral":
		body = params
		body["prompt"] = "<s>[INST] " + withSystem(req) + " [/INST]"
	case "ai21", "cohere", "meta":
		body = params
		body["prompt"] = withSystem(req)
	default:
		return nil, fmt.Errorf("unsupported model provider %q", family)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return data, nil
}

func withSystem(req llm.Request) string {
	if req.System == "" {
		return req.Prompt
	}
	return req.System + "\n\n" + req.Prompt
}

func familyOf(modelID string) string {
	// Cross-region profiles prefix the id with a geography, e.g. us.anthropic...
	parts := strings.Split(modelID, ".")
	for _, p := range parts {
		if llm.KnownFamily(p) {
			return p
		}
	}
	return ""
}

// completion covers the response and stream-chunk shapes of every family
type completion struct {
	Results []struct {
		OutputText string `json:"outputText"`
	} `json:"results"`
	OutputText string `json:"outputText"`
	Content    []struct {
		Text string `json:"text"`
	} `json:"content"`
	Delta *struct {
		Text string `json:"text"`
	} `json:"delta"`
	Completions []struct {
		Data struct {
			Text string `json:"text"`
		} `json:"data"`
	} `json:"completions"`
	Generations []struct {
		Text string `json:"text"`
	} `json:"generations"`
	Text       string `json:"text"`
	Generation string `json:"generation"`
	Outputs    []struct {
		Text string `json:"text"`
	} `json:"outputs"`
}

func (c completion) text() string {
	var sb strings.Builder
	for _, r := range c.Results {
		sb.WriteString(r.OutputText)
	}
	sb.WriteString(c.OutputText)
	for _, r := range c.Content {
		sb.WriteString(r.Text)
	}
	if c.Delta != nil {
		sb.WriteString(c.Delta.Text)
	}
	for _, r := range c.Completions {
		sb.WriteString(r.Data.Text)
	}
	for _, r := range c.Generations {
		sb.WriteString(r.Text)
	}
	sb.WriteString(c.Text)
	sb.WriteString(c.Generation)
	for _, r := range c.Outputs {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

func retryable(err error) bool {
	var throttled *types.ThrottlingException
	var unavailable *types.ServiceUnavailableException
	var timeout *types.ModelTimeoutException
	return errors.As(err, &throttled) || errors.As(err, &unavailable) || errors.As(err, &timeout)
}

func classify(err error) error {
	var denied *types.AccessDeniedException
	if errors.As(err, &denied) {
		return fmt.Errorf("%w: %v", llm.ErrModelAccess, err)
	}
	return fmt.Errorf("failed to invoke Bedrock model: %w", err)
}
