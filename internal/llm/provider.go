package llm

import (
	"context"
	"errors"
)

// ErrInvalidCredential is returned when a provider rejects or lacks the
// caller's credential.
var ErrInvalidCredential = errors.New("invalid provider credential")

// ErrModelAccess is returned when the caller may not invoke the model.
var ErrModelAccess = errors.New("model access denied")

// Request is a single completion call.
type Request struct {
	// Model is the identifier sent to the inference service.
	Model string
	// Family is the provider family used for parameter translation.
	Family string
	System string
	Prompt string
	Params Params
	// Condense marks the question-condensing step; its tokens are never
	// streamed to the user.
	Condense bool
	// Credential is the caller's provider key for hosts that need one.
	Credential string
}

// Response contains a completed generation
type Response struct {
	Text      string
	Model     string
	LatencyMs int64
}

// Provider defines the interface for inference hosts
type Provider interface {
	// Name returns the host identifier (bedrock, openai, gemini)
	Name() string

	// IsConfigured checks if the host can be reached with current settings
	IsConfigured() bool

	// Complete runs a non-streaming generation
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream runs a streaming generation. The returned stream's channel is
	// closed when generation ends.
	Stream(ctx context.Context, req Request) (*Stream, error)
}

// Embedder turns text into a vector with an embedding model.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}
