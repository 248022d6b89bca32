package retriever

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/dataplane"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/repository/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testWorkspace() *domain.Workspace {
	return &domain.Workspace{
		ID:              "ws-1",
		Name:            "finance",
		KnowledgeBaseID: "kb-1",
		Datasets: []domain.Dataset{{
			ID:            "ds-1",
			Name:          "reports",
			Domain:        "fin",
			Prefix:        "fin/reports/",
			AccessControl: true,
		}},
	}
}

func TestWorkspaceRetriever_AccessFilter(t *testing.T) {
	ctx := context.Background()
	kb := new(MockKnowledgeBase)
	access := new(MockAccess)
	docs := new(MockDocuments)

	hits := []cloud.RetrievalResult{
		{Text: "one", Location: "s3://bucket/fin/reports/file1.pdf", Score: 0.9},
		{Text: "two", Location: "s3://bucket/fin/reports/file2.pdf", Score: 0.8},
		{Text: "three", Location: "s3://bucket/fin/reports/file3.pdf", Score: 0.7},
	}
	kb.On("Retrieve", ctx, "kb-1", "what is X?", 5).Return(hits, nil)

	cred := dataplane.Credential{Token: "tok"}
	access.On("AuthorizedFiles", ctx, cred, "ds-1", []string{
		"fin/reports/file1.pdf", "fin/reports/file2.pdf", "fin/reports/file3.pdf",
	}).Return([]string{"fin/reports/file2.pdf"}, nil)

	r := NewWorkspaceRetriever(kb, nil, nil, access, docs, 5)
	res, err := r.Retrieve(ctx, testWorkspace(), &Principal{UserID: "u1", Credential: cred}, "what is X?")
	require.NoError(t, err)

	require.Len(t, res.Documents, 1)
	assert.Equal(t, "two", res.Documents[0].Text)
	assert.Equal(t, "file2.pdf", res.Documents[0].Metadata.FileName)
	assert.Equal(t, "ds-1", res.Documents[0].Metadata.DatasetID)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, domain.Source{Domain: "fin", Dataset: "reports", FileName: "file2.pdf"}, res.Sources[0])
}

func TestWorkspaceRetriever_UnattributedDocuments(t *testing.T) {
	ctx := context.Background()
	hits := []cloud.RetrievalResult{
		{Text: "foreign", Location: "s3://bucket/hr/payroll/salaries.csv", Score: 0.9},
		{Text: "owned", Location: "s3://bucket/fin/reports/file1.pdf", Score: 0.8},
	}
	cred := dataplane.Credential{Token: "tok"}

	t.Run("dropped when a dataset is access controlled", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		access := new(MockAccess)
		kb.On("Retrieve", ctx, "kb-1", "q", 5).Return(hits, nil)
		access.On("AuthorizedFiles", ctx, cred, "ds-1", []string{"fin/reports/file1.pdf"}).
			Return([]string{"fin/reports/file1.pdf"}, nil)

		r := NewWorkspaceRetriever(kb, nil, nil, access, nil, 5)
		res, err := r.Retrieve(ctx, testWorkspace(), &Principal{UserID: "u1", Credential: cred}, "q")
		require.NoError(t, err)
		require.Len(t, res.Documents, 1)
		assert.Equal(t, "owned", res.Documents[0].Text)
	})

	t.Run("dropped even without any authorized lookup", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		access := new(MockAccess)
		kb.On("Retrieve", ctx, "kb-1", "q", 5).Return(hits[:1], nil)

		r := NewWorkspaceRetriever(kb, nil, nil, access, nil, 5)
		res, err := r.Retrieve(ctx, testWorkspace(), &Principal{UserID: "u1", Credential: cred}, "q")
		require.NoError(t, err)
		assert.Empty(t, res.Documents)
		access.AssertNotCalled(t, "AuthorizedFiles", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("kept when nothing is access controlled", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		access := new(MockAccess)
		kb.On("Retrieve", ctx, "kb-1", "q", 5).Return(hits[:1], nil)
		ws := testWorkspace()
		ws.Datasets[0].AccessControl = false

		r := NewWorkspaceRetriever(kb, nil, nil, access, nil, 5)
		res, err := r.Retrieve(ctx, ws, &Principal{UserID: "u1", Credential: cred}, "q")
		require.NoError(t, err)
		assert.Len(t, res.Documents, 1)
	})
}

func TestWorkspaceRetriever_ChatbotSkipsFilter(t *testing.T) {
	ctx := context.Background()
	kb := new(MockKnowledgeBase)
	access := new(MockAccess)

	kb.On("Retrieve", ctx, "kb-1", "q", 5).Return([]cloud.RetrievalResult{
		{Text: "one", Location: "s3://bucket/fin/reports/file1.pdf"},
	}, nil)

	r := NewWorkspaceRetriever(kb, nil, nil, access, nil, 5)
	res, err := r.Retrieve(ctx, testWorkspace(), nil, "q")
	require.NoError(t, err)
	assert.Len(t, res.Documents, 1)
	access.AssertNotCalled(t, "AuthorizedFiles", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorkspaceRetriever_WebsiteSource(t *testing.T) {
	ctx := context.Background()
	kb := new(MockKnowledgeBase)
	docs := new(MockDocuments)
	docID := "5f0c6c2e-8a71-4a4f-9f55-2d6f2e9a1b3c"

	ws := testWorkspace()
	ws.Datasets[0].AccessControl = false
	kb.On("Retrieve", ctx, "kb-1", "q", 5).Return([]cloud.RetrievalResult{
		{Text: "page", Location: "s3://bucket/fin/reports/website_" + docID + ".txt"},
	}, nil)
	docs.On("Get", ctx, "ws-1", docID).Return(&domain.Document{ID: docID, URLs: []string{"https://example.com/pricing"}}, nil)

	r := NewWorkspaceRetriever(kb, nil, nil, new(MockAccess), docs, 5)
	res, err := r.Retrieve(ctx, ws, &Principal{UserID: "u1"}, "q")
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "https://example.com/pricing", res.Sources[0].URL)
}

func TestWorkspaceRetriever_PGVector(t *testing.T) {
	ctx := context.Background()
	vectors := new(MockVectors)
	embedder := new(MockEmbedder)

	ws := testWorkspace()
	ws.RAGEngine = EnginePGVector
	ws.EmbeddingModel = "amazon.titan-embed-text-v1"
	ws.VectorTable = "ws_1"
	ws.Datasets[0].AccessControl = false

	embedder.On("Embed", ctx, ws.EmbeddingModel, "q").Return([]float32{0.1, 0.2}, nil)
	vectors.On("Nearest", ctx, "ws_1", []float32{0.1, 0.2}, 3).Return([]postgres.Chunk{
		{ID: "c1", Text: "chunk", Metadata: []byte(`{"x-amz-bedrock-kb-source-uri":"s3://b/fin/reports/a.txt"}`), Distance: 0.25},
	}, nil)

	r := NewWorkspaceRetriever(nil, vectors, embedder, nil, nil, 3)
	res, err := r.Retrieve(ctx, ws, nil, "q")
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "a.txt", res.Documents[0].Metadata.FileName)
	assert.InDelta(t, 0.75, res.Documents[0].Metadata.Score, 1e-9)
}

func TestSniffDelimiter(t *testing.T) {
	assert.Equal(t, ',', SniffDelimiter("a,b,c\n1,2,3\n"))
	assert.Equal(t, ';', SniffDelimiter("a;b;c\n1;2;3\n"))
	assert.Equal(t, '\t', SniffDelimiter("a\tb\n1\t2\n"))
	assert.Equal(t, '|', SniffDelimiter("a|b|c\n1|2|3\n4|5|6"))
}

func TestSessionFileRetriever_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("csv", func(t *testing.T) {
		objects := new(MockObjects)
		objects.On("Get", ctx, "sessions", "chat-sessions/u1/s1/data.csv").
			Return(io.NopCloser(strings.NewReader("name;age\nann;31\n")), nil)

		doc, err := NewSessionFileRetriever(objects, "sessions").Load(ctx, "u1", "s1", "data.csv", 0)
		require.NoError(t, err)
		assert.Equal(t, "name: ann, age: 31", doc.Text)
		assert.Equal(t, "data.csv", doc.Metadata.FileName)
	})

	t.Run("too big", func(t *testing.T) {
		objects := new(MockObjects)
		objects.On("Get", ctx, "sessions", "chat-sessions/u1/s1/notes.txt").
			Return(io.NopCloser(strings.NewReader(strings.Repeat("x", 50))), nil)

		_, err := NewSessionFileRetriever(objects, "sessions").Load(ctx, "u1", "s1", "notes.txt", 10)
		assert.Equal(t, domain.KindFileTooBig, domain.KindOf(err))
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewSessionFileRetriever(new(MockObjects), "sessions").Load(ctx, "u1", "s1", "image.png", 0)
		assert.Equal(t, domain.KindUnsupportedFileType, domain.KindOf(err))
	})

	t.Run("missing", func(t *testing.T) {
		objects := new(MockObjects)
		objects.On("Get", ctx, "sessions", "chat-sessions/u1/s1/gone.txt").Return(nil, cloud.ErrObjectNotFound)

		_, err := NewSessionFileRetriever(objects, "sessions").Load(ctx, "u1", "s1", "gone.txt", 0)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	})
}
