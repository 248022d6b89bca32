package domain

import (
	"context"
	"time"
)

// DocumentType is the kind of ingestable unit.
type DocumentType string

const (
	DocumentFile        DocumentType = "file"
	DocumentWebsite     DocumentType = "website"
	DocumentWebCrawlJob DocumentType = "webCrawlJob"
)

// CrawlStatus is the state of a website crawl job.
type CrawlStatus string

const (
	CrawlPending    CrawlStatus = "pending"
	CrawlInProgress CrawlStatus = "in-progress"
	CrawlCompleted  CrawlStatus = "completed"
	CrawlFailed     CrawlStatus = "failed"
)

// CrawledURL is a page discovered by a crawl job.
type CrawledURL struct {
	URL         string `json:"Url"`
	Indexed     bool   `json:"IsIndexed"`
	ContentHash string `json:"ContentHash,omitempty"`
	DocumentID  string `json:"DocumentId,omitempty"`
}

// Crawl holds the configuration and progress of a crawl job.
type Crawl struct {
	SeedURL     string       `json:"SeedUrl"`
	FollowLinks bool         `json:"FollowLinks"`
	PageLimit   int          `json:"PageLimit"`
	Status      CrawlStatus  `json:"CrawlStatus"`
	Message     string       `json:"Message,omitempty"`
	URLs        []CrawledURL `json:"NestedUrls"`
	Domain      string       `json:"Domain,omitempty"`
}

// Document is an ingestable unit inside a workspace.
type Document struct {
	WorkspaceID string       `json:"WorkspaceId"`
	ID          string       `json:"DocumentId"`
	Type        DocumentType `json:"DocumentType"`
	DatasetID   string       `json:"DatasetId,omitempty"`
	ObjectKey   string       `json:"FileName,omitempty"`
	URLs        []string     `json:"WebsiteURLs,omitempty"`
	Crawl       *Crawl       `json:"CrawlDetails,omitempty"`
	CreatedBy   string       `json:"CreatedBy"`
	CreatedAt   time.Time    `json:"CreationTime"`
	UpdatedAt   time.Time    `json:"LastModifiedTime"`
}

// DocumentRepository stores documents.
type DocumentRepository interface {
	Create(ctx context.Context, d *Document) error
	// CreateBatch inserts docs, skipping object keys already present.
	CreateBatch(ctx context.Context, docs []Document) error
	Get(ctx context.Context, workspaceID, documentID string) (*Document, error)
	List(ctx context.Context, workspaceID string, t DocumentType) ([]Document, error)
	Update(ctx context.Context, d *Document) error
	Delete(ctx context.Context, workspaceID, documentID string) error
	DeleteByWorkspace(ctx context.Context, workspaceID string) error
	CountByType(ctx context.Context, workspaceID string) (map[DocumentType]int, error)
}
