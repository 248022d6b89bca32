package service

import (
	"context"
	"strings"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/llm"
)

const defaultHost = "bedrock"

// embeddingModels lists the supported embedding models with their vector
// width and input token limit.
var embeddingModels = map[string]struct {
	dimension  int
	tokenLimit int
}{
	"amazon.titan-embed-text-v1":   {1536, 8192},
	"amazon.titan-embed-text-v2:0": {1024, 8192},
	"cohere.embed-english-v3":      {1024, 512},
	"cohere.embed-multilingual-v3": {1024, 512},
}

// ResolvedModel is a model cleared for invocation.
type ResolvedModel struct {
	Model *domain.Model
	// InvocationID is the id sent to the inference host.
	InvocationID string
	Family       string
	Provider     llm.Provider
}

// EmbeddingModel is a model cleared for workspace ingestion.
type EmbeddingModel struct {
	Model      *domain.Model
	Dimension  int
	TokenLimit int
}

// ModelService exposes the model catalog and resolves models for use
type ModelService struct {
	modelRepo domain.ModelRepository
	providers Providers
}

// NewModelService creates a new model service
func NewModelService(modelRepo domain.ModelRepository, providers Providers) *ModelService {
	return &ModelService{modelRepo: modelRepo, providers: providers}
}

// List returns the catalog, optionally filtered by modality.
func (s *ModelService) List(ctx context.Context, modality domain.Modality, opts domain.ListOptions) (domain.Page[domain.Model], error) {
	models, err := s.modelRepo.List(ctx)
	if err != nil {
		return domain.Page[domain.Model]{}, domain.Storage(err, "failed to list models")
	}
	if modality != "" {
		filtered := models[:0]
		for _, m := range models {
			if m.HasModality(modality) {
				filtered = append(filtered, m)
			}
		}
		models = filtered
	}
	return paginate(models, opts, sortFields[domain.Model]{
		"LastModifiedTime": func(a, b domain.Model) bool { return a.ID < b.ID },
		"ModelName":        func(a, b domain.Model) bool { return a.Name < b.Name },
		"ModelProvider":    func(a, b domain.Model) bool { return a.Provider < b.Provider },
	}), nil
}

// Get returns one catalog entry.
func (s *ModelService) Get(ctx context.Context, id string) (*domain.Model, error) {
	m, err := s.modelRepo.Get(ctx, id)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("model %s not found", id)
		}
		return nil, domain.Storage(err, "failed to load model")
	}
	return m, nil
}

// SetEnabled toggles whether a model may be used.
func (s *ModelService) SetEnabled(ctx context.Context, id string, enabled bool) (*domain.Model, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Enabled = enabled
	if err := s.modelRepo.Upsert(ctx, m); err != nil {
		return nil, domain.Storage(err, "failed to update model")
	}
	return m, nil
}

// Resolve clears a text model for a chat turn.
func (s *ModelService) Resolve(ctx context.Context, id string) (*ResolvedModel, error) {
	if id == "" {
		return nil, domain.Invalid("ModelId is required")
	}
	m, err := s.Get(ctx, id)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, domain.E(domain.KindModelAccess, err, "model %s is not available", id)
		}
		return nil, err
	}
	if !m.Enabled || !m.Available {
		return nil, domain.E(domain.KindModelAccess, nil, "model %s is not enabled", id)
	}
	if m.Type == domain.ModelBase && !m.OnDemand {
		return nil, domain.Invalid("model %s does not support on-demand inference", id)
	}
	if m.Type == domain.ModelCustom && m.ProvisionedHandle == "" {
		return nil, domain.Invalid("custom model %s has no provisioned throughput", id)
	}

	host := m.Host
	if host == "" {
		host = defaultHost
	}
	provider, err := s.providers.GetProvider(host)
	if err != nil {
		return nil, domain.Upstream(err, "inference host %s is unavailable", host)
	}

	return &ResolvedModel{
		Model:        m,
		InvocationID: m.InvocationID(),
		Family:       m.ProviderFamily(),
		Provider:     provider,
	}, nil
}

// ResolveEmbedding clears an embedding model for a workspace.
func (s *ModelService) ResolveEmbedding(ctx context.Context, id string) (*EmbeddingModel, error) {
	if id == "" {
		return nil, domain.Invalid("EmbeddingsModel is required")
	}
	m, err := s.Get(ctx, id)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, domain.Invalid("embedding model %s does not exist", id)
		}
		return nil, err
	}
	if !m.Enabled || !m.HasModality(domain.ModalityEmbedding) {
		return nil, domain.Invalid("model %s is not an enabled embedding model", id)
	}

	known, ok := embeddingModels[strings.ToLower(m.ID)]
	if !ok {
		return nil, domain.Invalid("embedding model %s is not supported", id)
	}
	out := &EmbeddingModel{Model: m, Dimension: known.dimension, TokenLimit: known.tokenLimit}
	if m.EmbeddingDimension > 0 {
		out.Dimension = m.EmbeddingDimension
	}
	if m.EmbeddingTokenLimit > 0 {
		out.TokenLimit = m.EmbeddingTokenLimit
	}
	return out, nil
}
