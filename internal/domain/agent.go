package domain

import (
	"context"
	"time"
)

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentCreating    AgentStatus = "Creating"
	AgentNotPrepared AgentStatus = "NotPrepared"
	AgentPreparing   AgentStatus = "Preparing"
	AgentPrepared    AgentStatus = "Prepared"
	AgentUpdating    AgentStatus = "Updating"
	AgentFailed      AgentStatus = "Failed"
)

const (
	MaxAgentWorkspaces   = 2
	MaxAgentActionGroups = 5
)

// AttachedActionGroup links an action group to its registration on an agent.
type AttachedActionGroup struct {
	ID          string `json:"ActionGroupId"`
	ReferenceID string `json:"ReferenceId"`
}

// AttachedWorkspace links a workspace knowledge base to an agent.
type AttachedWorkspace struct {
	ID              string `json:"WorkspaceId"`
	KnowledgeBaseID string `json:"KnowledgeBaseId"`
	Description     string `json:"Description,omitempty"`
}

// Agent is an LLM-driven controller with tools.
type Agent struct {
	ID             string                `json:"AgentId"`
	Name           string                `json:"AgentName"`
	Description    string                `json:"Description"`
	ReferenceID    string                `json:"ReferenceId"`
	AliasID        string                `json:"AliasId"`
	Version        int                   `json:"Version"`
	BaseModel      string                `json:"BaseModel"`
	Instruction    string                `json:"Instruction"`
	QueryFollowUp  bool                  `json:"QueryFollowUp"`
	Status         AgentStatus           `json:"AgentStatus"`
	Message        string                `json:"Message,omitempty"`
	ActionGroups   []AttachedActionGroup `json:"ActionGroups"`
	Workspaces     []AttachedWorkspace   `json:"Workspaces"`
	CreatedBy      string                `json:"CreatedBy"`
	CreatedAt      time.Time             `json:"CreationTime"`
	LastModifiedBy string                `json:"LastModifiedBy"`
	LastModifiedAt time.Time             `json:"LastModifiedTime"`
}

// HasActionGroup reports whether the action group is attached.
func (a *Agent) HasActionGroup(id string) bool {
	for _, g := range a.ActionGroups {
		if g.ID == id {
			return true
		}
	}
	return false
}

// HasWorkspace reports whether the workspace is attached.
func (a *Agent) HasWorkspace(id string) bool {
	for _, w := range a.Workspaces {
		if w.ID == id {
			return true
		}
	}
	return false
}

// AgentRepository stores agents.
type AgentRepository interface {
	Create(ctx context.Context, a *Agent) error
	Get(ctx context.Context, id string) (*Agent, error)
	GetByName(ctx context.Context, name string) (*Agent, error)
	List(ctx context.Context, ids []string) ([]Agent, error)
	Update(ctx context.Context, a *Agent) error
	Delete(ctx context.Context, id string) error
	ListByWorkspace(ctx context.Context, workspaceID string) ([]Agent, error)
	ListByActionGroup(ctx context.Context, actionGroupID string) ([]Agent, error)
}
