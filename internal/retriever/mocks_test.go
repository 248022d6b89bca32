package retriever

import (
	"context"
	"io"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/dataplane"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/repository/postgres"
	"github.com/stretchr/testify/mock"
)

// MockKnowledgeBase mocks KnowledgeBaseSearcher
type MockKnowledgeBase struct {
	mock.Mock
}

func (m *MockKnowledgeBase) Retrieve(ctx context.Context, knowledgeBaseID, query string, topK int) ([]cloud.RetrievalResult, error) {
	args := m.Called(ctx, knowledgeBaseID, query, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cloud.RetrievalResult), args.Error(1)
}

// MockVectors mocks VectorSearcher
type MockVectors struct {
	mock.Mock
}

func (m *MockVectors) Nearest(ctx context.Context, table string, embedding []float32, k int) ([]postgres.Chunk, error) {
	args := m.Called(ctx, table, embedding, k)
	return args.Get(0).([]postgres.Chunk), args.Error(1)
}

// MockEmbedder mocks llm.Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	args := m.Called(ctx, model, text)
	return args.Get(0).([]float32), args.Error(1)
}

// MockAccess mocks AccessChecker
type MockAccess struct {
	mock.Mock
}

func (m *MockAccess) AuthorizedFiles(ctx context.Context, cred dataplane.Credential, datasetID string, keys []string) ([]string, error) {
	args := m.Called(ctx, cred, datasetID, keys)
	return args.Get(0).([]string), args.Error(1)
}

// MockDocuments mocks DocumentLookup
type MockDocuments struct {
	mock.Mock
}

func (m *MockDocuments) Get(ctx context.Context, workspaceID, documentID string) (*domain.Document, error) {
	args := m.Called(ctx, workspaceID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

// MockObjects mocks ObjectGetter
type MockObjects struct {
	mock.Mock
}

func (m *MockObjects) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}
