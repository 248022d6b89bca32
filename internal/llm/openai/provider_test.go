package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Rrens/genai-platform/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, "system", req.Messages[0].Role)

		fmt.Fprint(w, `{"choices":[{"message":{"content":"hello"}}]}`)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, time.Second)
	resp, err := p.Complete(context.Background(), llm.Request{Model: "gpt-4o", System: "sys", Prompt: "hi", Credential: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
}

func TestProvider_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, time.Second)
	stream, err := p.Stream(context.Background(), llm.Request{Model: "gpt-4o", Prompt: "hi", Credential: "sk-test", Condense: true})
	require.NoError(t, err)
	assert.True(t, stream.Header.Condense)

	text, err := llm.Collect(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestProvider_Credential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, time.Second)

	_, err := p.Complete(context.Background(), llm.Request{Model: "gpt-4o", Prompt: "hi"})
	assert.ErrorIs(t, err, llm.ErrInvalidCredential)

	_, err = p.Complete(context.Background(), llm.Request{Model: "gpt-4o", Prompt: "hi", Credential: "bad"})
	assert.ErrorIs(t, err, llm.ErrInvalidCredential)
}
