package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/genai-platform/internal/llm"
)

// Provider implements llm.Provider for OpenAI-compatible chat completion APIs.
// The API key comes with each request because keys belong to users.
type Provider struct {
	client  *http.Client
	baseURL string
}

// NewProvider creates a new OpenAI provider
func NewProvider(baseURL string, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Provider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the host identifier
func (p *Provider) Name() string {
	return "openai"
}

// IsConfigured checks if the provider has an endpoint
func (p *Provider) IsConfigured() bool {
	return p.baseURL != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Complete runs a non-streaming chat completion
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	start := time.Now()

	resp, err := p.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	return &llm.Response{
		Text:      chatResp.Choices[0].Message.Content,
		Model:     req.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Stream runs a server-sent-events chat completion
func (p *Provider) Stream(ctx context.Context, req llm.Request) (*llm.Stream, error) {
	resp, err := p.do(ctx, req, true)
	if err != nil {
		return nil, err
	}

	header := llm.StreamHeader{Model: req.Model, Condense: req.Condense}
	return llm.NewStream(ctx, header, func(emit func(string) bool) error {
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if !emit(chunk.Choices[0].Delta.Content) {
				return ctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read stream: %w", err)
		}
		return nil
	}), nil
}

func (p *Provider) do(ctx context.Context, req llm.Request, stream bool) (*http.Response, error) {
	if req.Credential == "" {
		return nil, llm.ErrInvalidCredential
	}

	params := req.Params.WithDefaults("")
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: params.Temp(),
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, llm.ErrInvalidCredential
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", llm.ErrModelAccess, resp.StatusCode)
	case resp.StatusCode >= 300:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(raw))
	}
	return resp, nil
}
