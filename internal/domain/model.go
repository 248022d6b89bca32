package domain

import (
	"context"
	"strings"
)

// Modality is an input or output modality of a model.
type Modality string

const (
	ModalityText      Modality = "TEXT"
	ModalityEmbedding Modality = "EMBEDDING"
	ModalityImage     Modality = "IMAGE"
)

// ModelType distinguishes base models from customized ones.
type ModelType string

const (
	ModelBase   ModelType = "base"
	ModelCustom ModelType = "custom"
)

// Model is an inference model registered with the platform.
type Model struct {
	ID       string     `json:"ModelId"`
	Name     string     `json:"ModelName"`
	Provider string     `json:"ModelProvider"`
	Modality []Modality `json:"Modalities"`
	Type     ModelType  `json:"ModelType"`
	// Host selects the inference backend (bedrock, openai, gemini).
	Host                string `json:"Host"`
	OnDemand            bool   `json:"OnDemandInference"`
	ProvisionedHandle   string `json:"ProvisionedThroughputArn,omitempty"`
	Streaming           bool   `json:"StreamingSupported"`
	Enabled             bool   `json:"IsEnabled"`
	Available           bool   `json:"IsAvailable"`
	MaxInputChars       int    `json:"MaxInputChars,omitempty"`
	EmbeddingDimension  int    `json:"EmbeddingDimension,omitempty"`
	EmbeddingTokenLimit int    `json:"EmbeddingTokenLimit,omitempty"`
	RequiresCredential  bool   `json:"RequiresCredential"`
}

// HasModality reports whether m supports modality.
func (m *Model) HasModality(modality Modality) bool {
	for _, x := range m.Modality {
		if x == modality {
			return true
		}
	}
	return false
}

// InvocationID returns the identifier to send to the inference service.
func (m *Model) InvocationID() string {
	if m.Type == ModelCustom && m.ProvisionedHandle != "" {
		return m.ProvisionedHandle
	}
	return m.ID
}

// ProviderFamily returns the lower-cased provider family, derived from the
// model id prefix when the record does not carry one.
func (m *Model) ProviderFamily() string {
	if m.Provider != "" {
		return strings.ToLower(m.Provider)
	}
	if i := strings.Index(m.ID, "."); i > 0 {
		return strings.ToLower(m.ID[:i])
	}
	return ""
}

// ModelRepository stores the model catalog.
type ModelRepository interface {
	Get(ctx context.Context, id string) (*Model, error)
	List(ctx context.Context) ([]Model, error)
	Upsert(ctx context.Context, m *Model) error
}
