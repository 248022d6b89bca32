package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

type embedding struct {
	Embedding  []float32   `json:"embedding"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding of text under model. Titan and Cohere bodies
// are supported.
func (p *Provider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	var body map[string]any
	if strings.HasPrefix(model, "cohere.") {
		body = map[string]any{"texts": []string{text}, "input_type": "search_query"}
	} else {
		body = map[string]any{"inputText": text}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        data,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, classify(err)
	}

	var out embedding
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	if len(out.Embedding) > 0 {
		return out.Embedding, nil
	}
	if len(out.Embeddings) > 0 {
		return out.Embeddings[0], nil
	}
	return nil, fmt.Errorf("embedding response for %s is empty", model)
}
