package llm_test

import (
	"strings"
	"testing"

	"github.com/Rrens/genai-platform/internal/llm"
)

func TestFormat(t *testing.T) {
	out, err := llm.Format("Hello {name}, {{literal}} and }} ok", map[string]string{"name": "Ada"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Hello Ada, {literal} and } ok" {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := llm.Format("{missing}", nil); err == nil {
		t.Error("expected error for missing variable")
	}
	if _, err := llm.Format("{open", nil); err == nil {
		t.Error("expected error for unclosed placeholder")
	}
}

func TestFileQAPrompt_EscapesContent(t *testing.T) {
	content := `{"revenue": 10}` + "\nline \"two\" <b>"
	prompt, err := llm.FileQAPrompt(llm.QAOptions{}, content, nil, "what is revenue?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mustContain := []string{
		`{\"revenue\": 10}\nline \"two\" <b>`,
		"Question: what is revenue?",
	}
	for _, s := range mustContain {
		if !strings.Contains(prompt, s) {
			t.Errorf("prompt should contain %q\n%s", s, prompt)
		}
	}
}

func TestQAPrompt_Chatbot(t *testing.T) {
	opts := llm.QAOptions{Chatbot: true, Instructions: "Answer as {Acme} support.", RedactPII: true}
	prompt, err := llm.QAPrompt(opts, []string{"doc one", "doc two"}, []llm.Turn{{Human: true, Text: "hi"}, {Text: "hello"}}, "refund policy?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mustContain := []string{
		"Primary instructions override any secondary instructions",
		"Secondary instructions:\nAnswer as {Acme} support.",
		"doc one\n\ndoc two",
		"Human: hi\nAI: hello",
		"Question: refund policy?",
	}
	for _, s := range mustContain {
		if !strings.Contains(prompt, s) {
			t.Errorf("prompt should contain %q", s)
		}
	}
	if strings.Index(prompt, "Primary instructions") > strings.Index(prompt, "Answer as") {
		t.Error("redaction policy must precede chatbot instructions")
	}
}

func TestQAPrompt_Minimal(t *testing.T) {
	prompt, err := llm.QAPrompt(llm.QAOptions{}, []string{"ctx"}, nil, "q?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(prompt, "Primary instructions") {
		t.Error("non-chatbot prompt must not carry the redaction policy")
	}
	if !strings.Contains(prompt, "ctx") || !strings.Contains(prompt, "Question: q?") {
		t.Errorf("unexpected prompt %q", prompt)
	}
}

func TestCondensePrompt(t *testing.T) {
	prompt, err := llm.CondensePrompt([]llm.Turn{{Human: true, Text: "who is the CEO?"}, {Text: "Jane."}}, "how old is she?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(prompt, "Human: who is the CEO?\nAI: Jane.") {
		t.Errorf("history missing from prompt: %q", prompt)
	}
	if !strings.HasSuffix(prompt, "Follow Up Input: how old is she?\nStandalone question:") {
		t.Errorf("unexpected tail: %q", prompt)
	}
}

func TestCleanAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  AI: hello there ", "hello there"},
		{"Answer: 42", "42"},
		{"AIrplanes are fast", "AIrplanes are fast"},
		{"IA: not a prefix", "IA: not a prefix"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := llm.CleanAnswer(tt.in); got != tt.want {
			t.Errorf("CleanAnswer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
