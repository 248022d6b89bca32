// Package retriever returns prompt-ready documents for a turn, either from a
// workspace knowledge base or from a file attached to the session.
package retriever

import (
	"context"
	"encoding/json"
	"net/url"
	"path"
	"strings"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/dataplane"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/llm"
	"github.com/Rrens/genai-platform/internal/repository/postgres"
	"github.com/rs/zerolog/log"
)

// EnginePGVector selects similarity search directly over the workspace's
// vector table instead of the managed knowledge base API.
const EnginePGVector = "pgvector"

const sourceURIKey = "x-amz-bedrock-kb-source-uri"

// Document is a retrieved passage and its attribution.
type Document struct {
	Text     string
	Metadata domain.RetrievedDocument
}

// Result is the outcome of a workspace retrieval.
type Result struct {
	Documents []Document
	// Sources lists the distinct files behind Documents.
	Sources []domain.Source
}

// Principal is the caller whose file access is enforced. A nil principal
// (chatbot callers) skips access filtering.
type Principal struct {
	UserID     string
	Credential dataplane.Credential
}

type KnowledgeBaseSearcher interface {
	Retrieve(ctx context.Context, knowledgeBaseID, query string, topK int) ([]cloud.RetrievalResult, error)
}

type VectorSearcher interface {
	Nearest(ctx context.Context, table string, embedding []float32, k int) ([]postgres.Chunk, error)
}

type AccessChecker interface {
	AuthorizedFiles(ctx context.Context, cred dataplane.Credential, datasetID string, keys []string) ([]string, error)
}

type DocumentLookup interface {
	Get(ctx context.Context, workspaceID, documentID string) (*domain.Document, error)
}

// WorkspaceRetriever runs similarity search over a workspace and drops the
// documents the caller may not read.
type WorkspaceRetriever struct {
	kb       KnowledgeBaseSearcher
	vectors  VectorSearcher
	embedder llm.Embedder
	access   AccessChecker
	docs     DocumentLookup
	topK     int
}

func NewWorkspaceRetriever(kb KnowledgeBaseSearcher, vectors VectorSearcher, embedder llm.Embedder, access AccessChecker, docs DocumentLookup, topK int) *WorkspaceRetriever {
	if topK <= 0 {
		topK = 5
	}
	return &WorkspaceRetriever{kb: kb, vectors: vectors, embedder: embedder, access: access, docs: docs, topK: topK}
}

// Retrieve returns the authorized top-K documents for query.
func (r *WorkspaceRetriever) Retrieve(ctx context.Context, ws *domain.Workspace, principal *Principal, query string) (*Result, error) {
	docs, err := r.search(ctx, ws, query)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		r.attribute(ws, &docs[i])
	}

	if principal != nil {
		docs, err = r.filter(ctx, ws, principal, docs)
		if err != nil {
			return nil, err
		}
	}

	return &Result{Documents: docs, Sources: r.sources(ctx, ws, docs)}, nil
}

func (r *WorkspaceRetriever) search(ctx context.Context, ws *domain.Workspace, query string) ([]Document, error) {
	if ws.RAGEngine == EnginePGVector {
		if r.vectors == nil || r.embedder == nil {
			return nil, domain.Upstream(nil, "vector search is not configured")
		}
		vec, err := r.embedder.Embed(ctx, ws.EmbeddingModel, query)
		if err != nil {
			return nil, domain.Upstream(err, "failed to embed query")
		}
		chunks, err := r.vectors.Nearest(ctx, ws.VectorTable, vec, r.topK)
		if err != nil {
			return nil, domain.Upstream(err, "failed to query vector table")
		}
		docs := make([]Document, 0, len(chunks))
		for _, c := range chunks {
			docs = append(docs, Document{
				Text: c.Text,
				Metadata: domain.RetrievedDocument{
					Location: chunkLocation(c.Metadata),
					Score:    1 - c.Distance,
				},
			})
		}
		return docs, nil
	}

	if ws.KnowledgeBaseID == "" {
		return nil, domain.Upstream(nil, "workspace %s has no knowledge base", ws.Name)
	}
	hits, err := r.kb.Retrieve(ctx, ws.KnowledgeBaseID, query, r.topK)
	if err != nil {
		return nil, domain.Upstream(err, "failed to retrieve documents")
	}
	docs := make([]Document, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, Document{
			Text:     h.Text,
			Metadata: domain.RetrievedDocument{Location: h.Location, Score: h.Score},
		})
	}
	return docs, nil
}

// attribute resolves the dataset and file name behind a document location.
func (r *WorkspaceRetriever) attribute(ws *domain.Workspace, d *Document) {
	key := objectKey(d.Metadata.Location)
	d.Metadata.FileName = path.Base(key)
	for _, ds := range ws.Datasets {
		if ds.Prefix != "" && strings.HasPrefix(key, ds.Prefix) {
			d.Metadata.DatasetID = ds.ID
			return
		}
	}
}

func (r *WorkspaceRetriever) filter(ctx context.Context, ws *domain.Workspace, principal *Principal, docs []Document) ([]Document, error) {
	controlled := make(map[string]bool, len(ws.Datasets))
	anyControlled := false
	for _, ds := range ws.Datasets {
		controlled[ds.ID] = ds.AccessControl
		anyControlled = anyControlled || ds.AccessControl
	}
	// Documents outside every known dataset cannot be checked, so they are
	// dropped once any dataset of the workspace is access controlled.
	if anyControlled {
		resolved := docs[:0]
		for _, d := range docs {
			if d.Metadata.DatasetID != "" {
				resolved = append(resolved, d)
			}
		}
		docs = resolved
	}

	keysByDataset := make(map[string][]string)
	for _, d := range docs {
		if id := d.Metadata.DatasetID; controlled[id] {
			keysByDataset[id] = append(keysByDataset[id], objectKey(d.Metadata.Location))
		}
	}
	if len(keysByDataset) == 0 {
		return docs, nil
	}

	allowed := make(map[string]bool)
	for datasetID, keys := range keysByDataset {
		authorized, err := r.access.AuthorizedFiles(ctx, principal.Credential, datasetID, unique(keys))
		if err != nil {
			return nil, err
		}
		for _, k := range authorized {
			allowed[k] = true
		}
	}

	kept := docs[:0]
	for _, d := range docs {
		if controlled[d.Metadata.DatasetID] && !allowed[objectKey(d.Metadata.Location)] {
			continue
		}
		kept = append(kept, d)
	}
	log.Debug().
		Str("workspace_id", ws.ID).
		Str("user_id", principal.UserID).
		Int("kept", len(kept)).
		Msg("Filtered retrieved documents")
	return kept, nil
}

func (r *WorkspaceRetriever) sources(ctx context.Context, ws *domain.Workspace, docs []Document) []domain.Source {
	datasets := make(map[string]domain.Dataset, len(ws.Datasets))
	for _, ds := range ws.Datasets {
		datasets[ds.ID] = ds
	}

	seen := make(map[string]bool)
	var out []domain.Source
	for _, d := range docs {
		key := objectKey(d.Metadata.Location)
		if seen[key] {
			continue
		}
		seen[key] = true

		src := domain.Source{FileName: d.Metadata.FileName}
		if ds, ok := datasets[d.Metadata.DatasetID]; ok {
			src.Domain = ds.Domain
			src.Dataset = ds.Name
		} else {
			src.Domain, src.Dataset = inferDomainDataset(key)
		}
		if docID, ok := domain.WebsiteDocumentID(key); ok && r.docs != nil {
			if doc, err := r.docs.Get(ctx, ws.ID, docID); err == nil && len(doc.URLs) > 0 {
				src.URL = doc.URLs[0]
			}
		}
		out = append(out, src)
	}
	return out
}

// objectKey strips the scheme and bucket from an object location.
func objectKey(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" {
		return strings.TrimPrefix(location, "/")
	}
	return strings.TrimPrefix(u.Path, "/")
}

// inferDomainDataset reads <domain>/<dataset>/... from a dataset file key.
func inferDomainDataset(key string) (string, string) {
	parts := strings.Split(key, "/")
	if len(parts) < 3 {
		return "", ""
	}
	return parts[0], parts[1]
}

func chunkLocation(metadata []byte) string {
	if len(metadata) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(metadata, &m); err != nil {
		return ""
	}
	s, _ := m[sourceURIKey].(string)
	return s
}

func unique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
