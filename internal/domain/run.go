package domain

import (
	"context"
	"time"
)

// RunStatus is the state of an ingestion run.
type RunStatus string

const (
	RunStarting   RunStatus = "Starting"
	RunInProgress RunStatus = "InProgress"
	RunComplete   RunStatus = "Complete"
	RunFailed     RunStatus = "Failed"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunComplete || s == RunFailed
}

// RunStatistics are the document counters reported by an ingestion job.
type RunStatistics struct {
	Scanned  int64 `json:"DocumentsScanned"`
	New      int64 `json:"NewDocumentsIndexed"`
	Modified int64 `json:"ModifiedDocumentsIndexed"`
	Deleted  int64 `json:"DocumentsDeleted"`
	Failed   int64 `json:"DocumentsFailed"`
}

// WorkspaceRun is a single ingestion execution.
type WorkspaceRun struct {
	ID             string        `json:"RunId"`
	WorkspaceID    string        `json:"WorkspaceId"`
	Status         RunStatus     `json:"RunStatus"`
	TriggerType    TriggerType   `json:"TriggerType"`
	TriggeredBy    string        `json:"TriggeredBy"`
	IngestionJobID string        `json:"IngestionJobId,omitempty"`
	StartTime      time.Time     `json:"StartTime"`
	EndTime        *time.Time    `json:"EndTime,omitempty"`
	Message        string        `json:"Message,omitempty"`
	Statistics     RunStatistics `json:"Statistics"`
}

// RunRepository stores workspace runs.
type RunRepository interface {
	Create(ctx context.Context, r *WorkspaceRun) error
	Get(ctx context.Context, workspaceID, runID string) (*WorkspaceRun, error)
	List(ctx context.Context, workspaceID string) ([]WorkspaceRun, error)
	Update(ctx context.Context, r *WorkspaceRun) error
	// InProgress returns the runs of the workspace that have not finished.
	InProgress(ctx context.Context, workspaceID string) ([]WorkspaceRun, error)
	DeleteByWorkspace(ctx context.Context, workspaceID string) error
}
