package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name       string
	configured bool
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }

func (f *fakeProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	return &Response{Text: req.Prompt, Model: req.Model}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req Request) (*Stream, error) {
	return StaticStream(StreamHeader{Model: req.Model, Condense: req.Condense}, req.Prompt), nil
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	r.RegisterProvider(&fakeProvider{name: "bedrock", configured: true})
	r.RegisterProvider(&fakeProvider{name: "gemini", configured: false})

	p, err := r.GetProvider("bedrock")
	require.NoError(t, err)
	assert.Equal(t, "bedrock", p.Name())

	_, err = r.GetProvider("gemini")
	assert.Error(t, err)

	_, err = r.GetProvider("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"bedrock"}, r.ListProviders())
}
