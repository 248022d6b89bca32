package domain

import (
	"context"
	"time"
)

// WorkspaceStatus is the lifecycle state of a workspace.
type WorkspaceStatus string

const (
	WorkspaceCreating         WorkspaceStatus = "Creating"
	WorkspaceActive           WorkspaceStatus = "Active"
	WorkspaceDeleteInProgress WorkspaceStatus = "DeleteInProgress"
	WorkspaceDeleteFailed     WorkspaceStatus = "DeleteFailed"
	WorkspaceCreateFailed     WorkspaceStatus = "CreateFailed"
)

// TriggerType controls when ingestion runs.
type TriggerType string

const (
	TriggerOnDemand  TriggerType = "on-demand"
	TriggerFileBased TriggerType = "file-based"
	TriggerTimeBased TriggerType = "time-based"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerOnDemand, TriggerFileBased, TriggerTimeBased:
		return true
	}
	return false
}

// SyncStatus is the state of the dataset file metadata sync.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncInProgress SyncStatus = "in-progress"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// Chunking controls how documents are split before embedding.
type Chunking struct {
	MaxTokens         int `json:"MaxTokens"`
	OverlapPercentage int `json:"OverlapPercentage"`
}

// Dataset is a Data Plane dataset attached to a workspace.
type Dataset struct {
	ID             string `json:"DatasetId"`
	Name           string `json:"DatasetName"`
	Domain         string `json:"Domain"`
	TargetLocation string `json:"TargetLocation"`
	FileType       string `json:"FileType"`
	AccessControl  bool   `json:"AccessControlled"`
	// Prefix is the object-key prefix holding the dataset's files.
	Prefix  string `json:"Prefix"`
	Managed bool   `json:"Managed"`
}

// Workspace binds datasets, an embedding model and chunking to a knowledge base.
type Workspace struct {
	ID                 string          `json:"WorkspaceId"`
	Name               string          `json:"WorkspaceName"`
	Description        string          `json:"Description"`
	Keywords           []string        `json:"Keywords"`
	TriggerType        TriggerType     `json:"TriggerType"`
	ScheduleExpression string          `json:"ScheduleExpression,omitempty"`
	Chunking           Chunking        `json:"ChunkingConfig"`
	EmbeddingModel     string          `json:"EmbeddingsModel"`
	RAGEngine          string          `json:"RAGEngine"`
	Datasets           []Dataset       `json:"AttachedDatasets"`
	KnowledgeBaseID    string          `json:"KnowledgeBaseId,omitempty"`
	DataSourceID       string          `json:"DataSourceId,omitempty"`
	RoleHandle         string          `json:"-"`
	VectorTable        string          `json:"-"`
	Status             WorkspaceStatus `json:"WorkspaceStatus"`
	Message            string          `json:"Message,omitempty"`
	FileSyncStatus     SyncStatus      `json:"SourceFileSyncStatus"`
	CreatedBy          string          `json:"CreatedBy"`
	CreatedAt          time.Time       `json:"CreationTime"`
	LastModifiedBy     string          `json:"LastModifiedBy"`
	LastModifiedAt     time.Time       `json:"LastModifiedTime"`
}

// ScheduleName is the name of the recurring trigger owned by the workspace.
func (w *Workspace) ScheduleName() string {
	return "workspace-" + w.ID
}

// ManagedDataset returns the platform-managed dataset, if any.
func (w *Workspace) ManagedDataset() *Dataset {
	for i := range w.Datasets {
		if w.Datasets[i].Managed {
			return &w.Datasets[i]
		}
	}
	if len(w.Datasets) > 0 {
		return &w.Datasets[0]
	}
	return nil
}

// WorkspaceRepository stores workspaces.
type WorkspaceRepository interface {
	Create(ctx context.Context, w *Workspace) error
	Get(ctx context.Context, id string) (*Workspace, error)
	GetByName(ctx context.Context, name string) (*Workspace, error)
	List(ctx context.Context, ids []string) ([]Workspace, error)
	Update(ctx context.Context, w *Workspace) error
	UpdateStatus(ctx context.Context, id string, status WorkspaceStatus, message string) error
	UpdateSyncStatus(ctx context.Context, id string, status SyncStatus) error
	Delete(ctx context.Context, id string) error
}
