package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/crawler"
	"github.com/Rrens/genai-platform/internal/dataplane"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/retriever"
	"github.com/Rrens/genai-platform/internal/security"
	"github.com/Rrens/genai-platform/internal/task"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxPageLimit = 100
	maxUploadBytes      = 10 << 20
)

// Crawler discovers and renders website pages.
type Crawler interface {
	Discover(ctx context.Context, seed string, followLinks bool, limit int, progress func([]string)) ([]string, error)
	Fetch(ctx context.Context, rawURL string) (*crawler.Page, error)
}

// DocumentInput adds documents to a workspace.
type DocumentInput struct {
	WebsiteURLs []string     `json:"WebsiteURLs" validate:"max=50,dive,required,url"`
	Files       []FileUpload `json:"Files" validate:"max=20,dive"`
}

// FileUpload is an inline file body.
type FileUpload struct {
	Name string `json:"FileName" validate:"required"`
	// Content is base64 encoded.
	Content string `json:"Content" validate:"required"`
}

// CrawlInput configures a website crawl job.
type CrawlInput struct {
	URL         string `json:"Url" validate:"required,url"`
	FollowLinks bool   `json:"FollowLinks"`
	PageLimit   int    `json:"PageLimit" validate:"omitempty,min=1"`
	Domain      string `json:"Domain"`
}

// CrawlTask is the payload of a crawl job.
type CrawlTask struct {
	WorkspaceID string `json:"WorkspaceId"`
	CrawlID     string `json:"CrawlId"`
	UserID      string `json:"UserId"`
}

// MaterializeTask renders website documents, or every page of a crawl,
// into dataset text files.
type MaterializeTask struct {
	WorkspaceID string   `json:"WorkspaceId"`
	UserID      string   `json:"UserId"`
	CrawlID     string   `json:"CrawlId,omitempty"`
	DocumentIDs []string `json:"DocumentIds,omitempty"`
}

// DocumentService manages workspace documents and website crawls.
type DocumentService struct {
	documentRepo domain.DocumentRepository
	workspaces   *WorkspaceService
	dataPlane    DataPlane
	crawler      Crawler
	publisher    task.Publisher
	cfg          config.WorkspaceConfig
	now          func() time.Time
}

// NewDocumentService creates a new document service
func NewDocumentService(documentRepo domain.DocumentRepository, workspaces *WorkspaceService, dataPlane DataPlane, c Crawler, publisher task.Publisher, cfg config.WorkspaceConfig) *DocumentService {
	if cfg.MaxPageLimit <= 0 {
		cfg.MaxPageLimit = defaultMaxPageLimit
	}
	return &DocumentService{
		documentRepo: documentRepo,
		workspaces:   workspaces,
		dataPlane:    dataPlane,
		crawler:      c,
		publisher:    publisher,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Register binds the document task handlers.
func (s *DocumentService) Register(d *task.Dispatcher) {
	d.Register(task.WorkspaceCrawl, s.HandleCrawl)
	d.Register(task.WorkspaceMaterialize, s.HandleMaterialize)
}

// List returns the documents of a workspace, optionally of one type.
func (s *DocumentService) List(ctx context.Context, userID, workspaceID string, t domain.DocumentType, opts domain.ListOptions) (domain.Page[domain.Document], error) {
	if _, err := s.workspaces.authorized(ctx, userID, workspaceID, false); err != nil {
		return domain.Page[domain.Document]{}, err
	}
	docs, err := s.documentRepo.List(ctx, workspaceID, t)
	if err != nil {
		return domain.Page[domain.Document]{}, domain.Storage(err, "failed to list documents")
	}
	return paginate(docs, opts, sortFields[domain.Document]{
		"LastModifiedTime": func(a, b domain.Document) bool { return before(a.UpdatedAt, b.UpdatedAt) },
		"CreationTime":     func(a, b domain.Document) bool { return before(a.CreatedAt, b.CreatedAt) },
		"FileName":         func(a, b domain.Document) bool { return a.ObjectKey < b.ObjectKey },
	}), nil
}

// Get returns one document.
func (s *DocumentService) Get(ctx context.Context, userID, workspaceID, documentID string) (*domain.Document, error) {
	if _, err := s.workspaces.authorized(ctx, userID, workspaceID, false); err != nil {
		return nil, err
	}
	return s.load(ctx, workspaceID, documentID)
}

// Delete removes a document record. Files stay in their dataset until the
// next ingestion run drops them from the index.
func (s *DocumentService) Delete(ctx context.Context, userID, workspaceID, documentID string) error {
	if _, err := s.workspaces.authorized(ctx, userID, workspaceID, true); err != nil {
		return err
	}
	doc, err := s.load(ctx, workspaceID, documentID)
	if err != nil {
		return err
	}
	if doc.Type == domain.DocumentWebCrawlJob {
		return domain.Invalid("use the crawl-website endpoint to delete crawl jobs")
	}
	if err := s.documentRepo.Delete(ctx, workspaceID, documentID); err != nil {
		return domain.Storage(err, "failed to delete document")
	}
	return nil
}

// Add uploads inline files into the managed dataset and registers website
// documents for materialization.
func (s *DocumentService) Add(ctx context.Context, userID, workspaceID string, in DocumentInput) ([]domain.Document, error) {
	ws, err := s.workspaces.authorized(ctx, userID, workspaceID, true)
	if err != nil {
		return nil, err
	}
	if ws.Status != domain.WorkspaceActive {
		return nil, domain.Invalid("workspace %s is not active", ws.ID)
	}
	if len(in.WebsiteURLs) == 0 && len(in.Files) == 0 {
		return nil, domain.Invalid("WebsiteURLs or Files is required")
	}
	dataset := ws.ManagedDataset()
	if dataset == nil {
		return nil, domain.Invalid("workspace %s has no dataset to upload into", ws.ID)
	}

	var created []domain.Document
	if len(in.Files) > 0 {
		docs, err := s.uploadFiles(ctx, ws, dataset.ID, userID, in.Files)
		if err != nil {
			return nil, err
		}
		created = append(created, docs...)
	}

	if len(in.WebsiteURLs) > 0 {
		now := s.now().UTC()
		var ids []string
		for _, raw := range in.WebsiteURLs {
			u, err := security.ValidateCrawlURL(raw)
			if err != nil {
				return nil, domain.Invalid("%s", err.Error())
			}
			doc := domain.Document{
				WorkspaceID: ws.ID,
				ID:          uuid.NewString(),
				Type:        domain.DocumentWebsite,
				DatasetID:   dataset.ID,
				URLs:        []string{crawler.Normalize(u)},
				CreatedBy:   userID,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.documentRepo.Create(ctx, &doc); err != nil {
				return nil, domain.Storage(err, "failed to create website document")
			}
			ids = append(ids, doc.ID)
			created = append(created, doc)
		}
		if err := task.Enqueue(ctx, s.publisher, task.WorkspaceMaterialize, MaterializeTask{
			WorkspaceID: ws.ID,
			UserID:      userID,
			DocumentIDs: ids,
		}); err != nil {
			return nil, domain.Upstream(err, "failed to schedule website rendering")
		}
	}
	return created, nil
}

func (s *DocumentService) uploadFiles(ctx context.Context, ws *domain.Workspace, datasetID, userID string, files []FileUpload) ([]domain.Document, error) {
	cred, err := s.workspaces.credential(ctx, ws, userID)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(files))
	for _, f := range files {
		name, err := security.SanitizeFileName(f.Name)
		if err != nil {
			return nil, domain.Invalid("%s", err.Error())
		}
		if !retriever.Supported(strings.ToLower(path.Ext(name))) {
			return nil, domain.E(domain.KindUnsupportedFileType, nil, "file type of %s is not supported", name)
		}
		body, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return nil, domain.Invalid("Content of %s is not valid base64", name)
		}
		if len(body) > maxUploadBytes {
			return nil, domain.E(domain.KindFileTooBig, nil, "%s exceeds %d bytes", name, maxUploadBytes)
		}

		key, err := s.dataPlane.UploadFile(ctx, cred, datasetID, name, bytes.NewReader(body))
		if err != nil {
			return nil, domain.Upstream(err, "failed to upload %s", name)
		}
		now := s.now().UTC()
		doc := domain.Document{
			WorkspaceID: ws.ID,
			ID:          uuid.NewString(),
			Type:        domain.DocumentFile,
			DatasetID:   datasetID,
			ObjectKey:   key,
			CreatedBy:   userID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.documentRepo.Create(ctx, &doc); err != nil {
			return nil, domain.Storage(err, "failed to create document")
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// CreateCrawl registers a crawl job and starts link discovery.
func (s *DocumentService) CreateCrawl(ctx context.Context, userID, workspaceID string, in CrawlInput) (*domain.Document, error) {
	ws, err := s.workspaces.authorized(ctx, userID, workspaceID, true)
	if err != nil {
		return nil, err
	}
	if ws.Status != domain.WorkspaceActive {
		return nil, domain.Invalid("workspace %s is not active", ws.ID)
	}
	seed, err := security.ValidateCrawlURL(in.URL)
	if err != nil {
		return nil, domain.Invalid("%s", err.Error())
	}
	limit := in.PageLimit
	if limit == 0 {
		limit = 1
		if in.FollowLinks {
			limit = s.cfg.MaxPageLimit
		}
	}
	if limit > s.cfg.MaxPageLimit {
		return nil, domain.Invalid("PageLimit cannot exceed %d", s.cfg.MaxPageLimit)
	}

	now := s.now().UTC()
	doc := &domain.Document{
		WorkspaceID: ws.ID,
		ID:          uuid.NewString(),
		Type:        domain.DocumentWebCrawlJob,
		Crawl: &domain.Crawl{
			SeedURL:     crawler.Normalize(seed),
			FollowLinks: in.FollowLinks,
			PageLimit:   limit,
			Status:      domain.CrawlPending,
			URLs:        []domain.CrawledURL{},
			Domain:      in.Domain,
		},
		CreatedBy: userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.documentRepo.Create(ctx, doc); err != nil {
		return nil, domain.Storage(err, "failed to create crawl job")
	}
	if err := task.Enqueue(ctx, s.publisher, task.WorkspaceCrawl, CrawlTask{WorkspaceID: ws.ID, CrawlID: doc.ID, UserID: userID}); err != nil {
		s.finishCrawl(ctx, doc, domain.CrawlFailed, "failed to schedule crawl")
		return nil, domain.Upstream(err, "failed to schedule crawl")
	}
	return doc, nil
}

// ListCrawls returns the crawl jobs of a workspace.
func (s *DocumentService) ListCrawls(ctx context.Context, userID, workspaceID string, opts domain.ListOptions) (domain.Page[domain.Document], error) {
	return s.List(ctx, userID, workspaceID, domain.DocumentWebCrawlJob, opts)
}

// GetCrawl returns one crawl job with its discovered URLs.
func (s *DocumentService) GetCrawl(ctx context.Context, userID, workspaceID, crawlID string) (*domain.Document, error) {
	doc, err := s.Get(ctx, userID, workspaceID, crawlID)
	if err != nil {
		return nil, err
	}
	if doc.Type != domain.DocumentWebCrawlJob {
		return nil, domain.NotFoundf("crawl job %s not found", crawlID)
	}
	return doc, nil
}

// DeleteCrawl removes a finished crawl job. Pages it indexed stay as
// website documents.
func (s *DocumentService) DeleteCrawl(ctx context.Context, userID, workspaceID, crawlID string) error {
	if _, err := s.workspaces.authorized(ctx, userID, workspaceID, true); err != nil {
		return err
	}
	doc, err := s.load(ctx, workspaceID, crawlID)
	if err != nil {
		return err
	}
	if doc.Type != domain.DocumentWebCrawlJob {
		return domain.NotFoundf("crawl job %s not found", crawlID)
	}
	if doc.Crawl != nil && doc.Crawl.Status == domain.CrawlInProgress {
		return domain.Conflict("crawl job %s is still running", crawlID)
	}
	if err := s.documentRepo.Delete(ctx, workspaceID, crawlID); err != nil {
		return domain.Storage(err, "failed to delete crawl job")
	}
	return nil
}

// HandleCrawl discovers the pages of a crawl job, then hands them to
// materialization.
func (s *DocumentService) HandleCrawl(ctx context.Context, env task.Envelope) error {
	var p CrawlTask
	if err := env.Decode(&p); err != nil {
		return task.Permanent(err)
	}
	doc, err := s.load(ctx, p.WorkspaceID, p.CrawlID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return task.Permanent(err)
		}
		return err
	}
	if doc.Crawl == nil {
		return task.Permanent(fmt.Errorf("document %s is not a crawl job", doc.ID))
	}

	doc.Crawl.Status = domain.CrawlInProgress
	if err := s.save(ctx, doc); err != nil {
		return err
	}

	progress := func(urls []string) {
		doc.Crawl.URLs = mergeURLs(doc.Crawl.URLs, urls)
		if err := s.save(ctx, doc); err != nil {
			log.Warn().Err(err).Str("crawl_id", doc.ID).Msg("failed to record crawl progress")
		}
	}
	urls, err := s.crawler.Discover(ctx, doc.Crawl.SeedURL, doc.Crawl.FollowLinks, doc.Crawl.PageLimit, progress)
	if err != nil && len(urls) == 0 {
		s.finishCrawl(ctx, doc, domain.CrawlFailed, err.Error())
		return task.Permanent(err)
	}
	doc.Crawl.URLs = mergeURLs(doc.Crawl.URLs, urls)
	if err := s.save(ctx, doc); err != nil {
		return err
	}

	log.Info().Str("crawl_id", doc.ID).Int("urls", len(doc.Crawl.URLs)).Msg("crawl discovered pages")
	return task.Enqueue(ctx, s.publisher, task.WorkspaceMaterialize, MaterializeTask{
		WorkspaceID: p.WorkspaceID,
		UserID:      p.UserID,
		CrawlID:     doc.ID,
	})
}

func mergeURLs(existing []domain.CrawledURL, urls []string) []domain.CrawledURL {
	seen := make(map[string]bool, len(existing))
	for _, u := range existing {
		seen[u.URL] = true
	}
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			existing = append(existing, domain.CrawledURL{URL: u})
		}
	}
	return existing
}

// HandleMaterialize renders pages into website_<id>.txt files in the
// workspace dataset.
func (s *DocumentService) HandleMaterialize(ctx context.Context, env task.Envelope) error {
	var p MaterializeTask
	if err := env.Decode(&p); err != nil {
		return task.Permanent(err)
	}
	ws, err := s.workspaces.load(ctx, p.WorkspaceID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return task.Permanent(err)
		}
		return err
	}
	dataset := ws.ManagedDataset()
	if dataset == nil {
		return task.Permanent(fmt.Errorf("workspace %s has no dataset", ws.ID))
	}

	var indexed int
	if p.CrawlID != "" {
		indexed, err = s.materializeCrawl(ctx, ws, dataset.ID, p)
	} else {
		indexed, err = s.materializeDocuments(ctx, ws, dataset.ID, p)
	}
	if err != nil {
		return err
	}

	if indexed > 0 && ws.TriggerType == domain.TriggerFileBased {
		if _, err := s.workspaces.startRun(ctx, ws, p.UserID, domain.TriggerFileBased); err != nil {
			log.Warn().Err(err).Str("workspace_id", ws.ID).Msg("file-based run not started")
		}
	}
	return nil
}

func (s *DocumentService) materializeCrawl(ctx context.Context, ws *domain.Workspace, datasetID string, p MaterializeTask) (int, error) {
	doc, err := s.load(ctx, ws.ID, p.CrawlID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return 0, task.Permanent(err)
		}
		return 0, err
	}
	cred, err := s.workspaces.credential(ctx, ws, p.UserID)
	if err != nil {
		s.finishCrawl(ctx, doc, domain.CrawlFailed, domain.MessageOf(err))
		return 0, task.Permanent(err)
	}

	var indexed, unchanged, failed int
	for i := range doc.Crawl.URLs {
		entry := &doc.Crawl.URLs[i]
		if entry.Indexed {
			continue
		}
		page, err := s.crawler.Fetch(ctx, entry.URL)
		if err != nil {
			log.Warn().Err(err).Str("url", entry.URL).Msg("failed to render page")
			failed++
			continue
		}
		if entry.DocumentID != "" && entry.ContentHash == page.Hash {
			entry.Indexed = true
			unchanged++
			continue
		}
		if entry.DocumentID == "" {
			entry.DocumentID = uuid.NewString()
		}

		if err := s.storePage(ctx, ws, datasetID, p.UserID, entry.DocumentID, page, cred); err != nil {
			log.Warn().Err(err).Str("url", entry.URL).Msg("failed to store page")
			failed++
			continue
		}
		entry.ContentHash = page.Hash
		entry.Indexed = true
		indexed++

		if err := s.save(ctx, doc); err != nil {
			return indexed, err
		}
	}

	s.finishCrawl(ctx, doc, domain.CrawlCompleted,
		fmt.Sprintf("%d pages indexed, %d unchanged, %d failed", indexed, unchanged, failed))
	return indexed, nil
}

func (s *DocumentService) materializeDocuments(ctx context.Context, ws *domain.Workspace, datasetID string, p MaterializeTask) (int, error) {
	cred, err := s.workspaces.credential(ctx, ws, p.UserID)
	if err != nil {
		return 0, task.Permanent(err)
	}
	indexed := 0
	for _, id := range p.DocumentIDs {
		doc, err := s.load(ctx, ws.ID, id)
		if err != nil {
			if domain.IsKind(err, domain.KindNotFound) {
				continue
			}
			return indexed, err
		}
		if doc.ObjectKey != "" || len(doc.URLs) == 0 {
			continue
		}
		page, err := s.crawler.Fetch(ctx, doc.URLs[0])
		if err != nil {
			log.Warn().Err(err).Str("url", doc.URLs[0]).Msg("failed to render page")
			continue
		}
		if err := s.storePage(ctx, ws, datasetID, p.UserID, doc.ID, page, cred); err != nil {
			return indexed, err
		}
		indexed++
	}
	return indexed, nil
}

// storePage uploads the rendered page and upserts its website document.
func (s *DocumentService) storePage(ctx context.Context, ws *domain.Workspace, datasetID, userID, documentID string, page *crawler.Page, cred dataplane.Credential) error {
	var sb strings.Builder
	if page.Title != "" {
		sb.WriteString(page.Title)
		sb.WriteString("\n\n")
	}
	sb.WriteString(page.Text)

	key, err := s.dataPlane.UploadFile(ctx, cred, datasetID, domain.WebsiteFileName(documentID), strings.NewReader(sb.String()))
	if err != nil {
		return domain.Upstream(err, "failed to upload page")
	}

	now := s.now().UTC()
	doc, err := s.documentRepo.Get(ctx, ws.ID, documentID)
	switch {
	case err == nil:
		doc.ObjectKey = key
		doc.DatasetID = datasetID
		doc.URLs = []string{page.URL}
		doc.UpdatedAt = now
		if err := s.documentRepo.Update(ctx, doc); err != nil {
			return domain.Storage(err, "failed to update website document")
		}
	case notFound(err):
		doc = &domain.Document{
			WorkspaceID: ws.ID,
			ID:          documentID,
			Type:        domain.DocumentWebsite,
			DatasetID:   datasetID,
			ObjectKey:   key,
			URLs:        []string{page.URL},
			CreatedBy:   userID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.documentRepo.Create(ctx, doc); err != nil {
			return domain.Storage(err, "failed to create website document")
		}
	default:
		return domain.Storage(err, "failed to load website document")
	}
	return nil
}

func (s *DocumentService) finishCrawl(ctx context.Context, doc *domain.Document, status domain.CrawlStatus, message string) {
	doc.Crawl.Status = status
	doc.Crawl.Message = message
	if err := s.save(ctx, doc); err != nil {
		log.Error().Err(err).Str("crawl_id", doc.ID).Msg("failed to finish crawl job")
	}
}

func (s *DocumentService) save(ctx context.Context, doc *domain.Document) error {
	doc.UpdatedAt = s.now().UTC()
	if err := s.documentRepo.Update(ctx, doc); err != nil {
		return domain.Storage(err, "failed to update document")
	}
	return nil
}

func (s *DocumentService) load(ctx context.Context, workspaceID, documentID string) (*domain.Document, error) {
	doc, err := s.documentRepo.Get(ctx, workspaceID, documentID)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("document %s not found", documentID)
		}
		return nil, domain.Storage(err, "failed to load document")
	}
	return doc, nil
}
