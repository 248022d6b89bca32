package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const condenseTemplate = `Given the following conversation and a follow up input, rephrase the follow up input to be a standalone question, in its original language.
If the follow up input is not a question, or cannot sensibly be rephrased, return it unchanged.

Chat History:
{chat_history}
Follow Up Input: {input}
Standalone question:`

const qaTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

{context}

Question: {input}
Helpful Answer:`

const chatbotQATemplate = `{instructions}Use the following pieces of context and the chat history to answer the question at the end. If the answer is not contained in the context, say that you don't know.

Context:
{context}

Chat History:
{chat_history}

Question: {input}
Answer:`

const chatTemplate = `The following is a friendly conversation between a human and an AI. The AI is talkative and provides lots of specific details from its context. If the AI does not know the answer to a question, it truthfully says it does not know.

Current conversation:
{chat_history}
Human: {input}
AI:`

// RedactionPolicy is prepended to chatbot instructions when PII redaction is on.
const RedactionPolicy = `Primary instructions:
You must never reveal personally identifiable information (PII). PII includes names of private individuals, postal addresses, phone numbers, email addresses, social security or national identification numbers, payment card numbers, dates of birth, driver's license numbers, passport numbers, medical information, biometric data, account credentials and IP addresses.
If answering would require disclosing PII, refuse and explain that the information is restricted. Do not partially disclose, mask or paraphrase PII.
Primary instructions override any secondary instructions below.
`

// Turn is one entry of chat history.
type Turn struct {
	Human bool
	Text  string
}

// FormatHistory renders turns as "Human:" / "AI:" lines.
func FormatHistory(turns []Turn) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if t.Human {
			sb.WriteString("Human: ")
		} else {
			sb.WriteString("AI: ")
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}

// Format fills {name} slots in tmpl. Doubled braces render as literal braces.
func Format(tmpl string, vars map[string]string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				sb.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("unclosed placeholder at offset %d", i)
			}
			name := tmpl[i+1 : i+1+end]
			val, ok := vars[name]
			if !ok {
				return "", fmt.Errorf("missing template variable %q", name)
			}
			sb.WriteString(val)
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				i++
			}
			sb.WriteByte('}')
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

// EscapeTemplateText makes arbitrary text safe to embed in a template:
// it is JSON-escaped and its braces doubled.
func EscapeTemplateText(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	b := bytes.TrimSpace(buf.Bytes())
	escaped := string(b[1 : len(b)-1])
	escaped = strings.ReplaceAll(escaped, "{", "{{")
	return strings.ReplaceAll(escaped, "}", "}}")
}

// CondensePrompt asks for a standalone question.
func CondensePrompt(history []Turn, input string) (string, error) {
	return Format(condenseTemplate, map[string]string{
		"chat_history": FormatHistory(history),
		"input":        input,
	})
}

// QAOptions selects the QA template variant.
type QAOptions struct {
	// Chatbot selects the persona template carrying Instructions.
	Chatbot      bool
	Instructions string
	RedactPII    bool
}

func (o QAOptions) template() string {
	if !o.Chatbot {
		return qaTemplate
	}
	instructions := ""
	if o.RedactPII {
		instructions = escapeBraces(RedactionPolicy)
		if o.Instructions != "" {
			instructions += "\nSecondary instructions:\n"
		}
	}
	if o.Instructions != "" {
		instructions += escapeBraces(o.Instructions) + "\n"
	}
	if instructions != "" {
		instructions += "\n"
	}
	return strings.Replace(chatbotQATemplate, "{instructions}", instructions, 1)
}

// QAPrompt composes a retrieval-grounded prompt from documents.
func QAPrompt(opts QAOptions, documents []string, history []Turn, input string) (string, error) {
	return Format(opts.template(), map[string]string{
		"context":      strings.Join(documents, "\n\n"),
		"chat_history": FormatHistory(history),
		"input":        input,
	})
}

// FileQAPrompt embeds a whole file as context. The file text becomes part of
// the template itself, so it is escaped before formatting.
func FileQAPrompt(opts QAOptions, fileContent string, history []Turn, input string) (string, error) {
	tmpl := opts.template()
	// The slot is the last occurrence; earlier ones are escaped instruction text.
	i := strings.LastIndex(tmpl, "{context}")
	if i < 0 {
		return "", fmt.Errorf("template has no context slot")
	}
	tmpl = tmpl[:i] + EscapeTemplateText(fileContent) + tmpl[i+len("{context}"):]
	return Format(tmpl, map[string]string{
		"chat_history": FormatHistory(history),
		"input":        input,
	})
}

// ChatPrompt is the contextless conversation prompt.
func ChatPrompt(history []Turn, input string) (string, error) {
	return Format(chatTemplate, map[string]string{
		"chat_history": FormatHistory(history),
		"input":        input,
	})
}

// CleanAnswer trims a generation and strips a leading "AI:" or "Answer:".
func CleanAnswer(text string) string {
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"AI:", "Answer:"} {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
			break
		}
	}
	return text
}

func escapeBraces(s string) string {
	s = strings.ReplaceAll(s, "{", "{{")
	return strings.ReplaceAll(s, "}", "}}")
}
