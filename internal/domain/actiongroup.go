package domain

import (
	"context"
	"time"
)

// ActionGroupStatus is the build state of an action group.
type ActionGroupStatus string

const (
	ActionGroupCreating     ActionGroupStatus = "Creating"
	ActionGroupReady        ActionGroupStatus = "Ready"
	ActionGroupUpdating     ActionGroupStatus = "Updating"
	ActionGroupCreateFailed ActionGroupStatus = "CreateFailed"
	ActionGroupUpdateFailed ActionGroupStatus = "UpdateFailed"
)

// Busy reports whether a build or update is running.
func (s ActionGroupStatus) Busy() bool {
	return s == ActionGroupCreating || s == ActionGroupUpdating
}

// ActionGroup is a tool surface: an OpenAPI schema plus a function.
type ActionGroup struct {
	ID              string            `json:"ActionGroupId"`
	Name            string            `json:"ActionGroupName"`
	Description     string            `json:"Description"`
	Handler         string            `json:"Handler"`
	FunctionName    string            `json:"FunctionName"`
	SchemaKey       string            `json:"-"`
	CodeKey         string            `json:"-"`
	LayerKey        string            `json:"-"`
	Libraries       []string          `json:"AttachedLibraries"`
	Status          ActionGroupStatus `json:"ActionGroupStatus"`
	Message         string            `json:"Message,omitempty"`
	FunctionHandle  string            `json:"FunctionArn,omitempty"`
	RoleHandle      string            `json:"-"`
	LayerHandle     string            `json:"LayerArn,omitempty"`
	SystemGenerated bool              `json:"SystemGenerated"`
	CreatedBy       string            `json:"CreatedBy"`
	CreatedAt       time.Time         `json:"CreationTime"`
	LastModifiedBy  string            `json:"LastModifiedBy"`
	LastModifiedAt  time.Time         `json:"LastModifiedTime"`
}

// ActionGroupRepository stores action groups.
type ActionGroupRepository interface {
	Create(ctx context.Context, g *ActionGroup) error
	Get(ctx context.Context, id string) (*ActionGroup, error)
	GetByName(ctx context.Context, name string) (*ActionGroup, error)
	List(ctx context.Context, ids []string) ([]ActionGroup, error)
	ListSystemGenerated(ctx context.Context) ([]ActionGroup, error)
	ListByLibrary(ctx context.Context, libraryID string) ([]ActionGroup, error)
	Update(ctx context.Context, g *ActionGroup) error
	Delete(ctx context.Context, id string) error
}

// Library is a reusable set of packaged dependency archives.
type Library struct {
	ID             string    `json:"LibraryId"`
	Name           string    `json:"LibraryName"`
	Description    string    `json:"Description"`
	Archives       []string  `json:"Packages"`
	CreatedBy      string    `json:"CreatedBy"`
	CreatedAt      time.Time `json:"CreationTime"`
	LastModifiedBy string    `json:"LastModifiedBy"`
	LastModifiedAt time.Time `json:"LastModifiedTime"`
}

// LibraryRepository stores libraries.
type LibraryRepository interface {
	Create(ctx context.Context, l *Library) error
	Get(ctx context.Context, id string) (*Library, error)
	GetByName(ctx context.Context, name string) (*Library, error)
	List(ctx context.Context, ids []string) ([]Library, error)
	Update(ctx context.Context, l *Library) error
	Delete(ctx context.Context, id string) error
}
