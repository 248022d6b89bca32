package domain

import (
	"context"
	"time"
)

// Chatbot is a shareable persona bound to a workspace and a model.
type Chatbot struct {
	ID             string            `json:"ChatbotId"`
	Name           string            `json:"ChatbotName"`
	Description    string            `json:"Description"`
	WorkspaceID    string            `json:"WorkspaceId"`
	ModelID        string            `json:"ModelId"`
	EmbeddedConfig map[string]string `json:"EmbeddedConfig,omitempty"`
	KeepActive     bool              `json:"KeepActive"`
	Instructions   string            `json:"Instructions,omitempty"`
	RedactPII      bool              `json:"EnableRedaction"`
	CreatedBy      string            `json:"CreatedBy"`
	CreatedAt      time.Time         `json:"CreationTime"`
	LastModifiedBy string            `json:"LastModifiedBy"`
	LastModifiedAt time.Time         `json:"LastModifiedTime"`
}

// ChatbotRepository stores chatbots.
type ChatbotRepository interface {
	Create(ctx context.Context, c *Chatbot) error
	Get(ctx context.Context, id string) (*Chatbot, error)
	GetByName(ctx context.Context, name string) (*Chatbot, error)
	List(ctx context.Context, ids []string) ([]Chatbot, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]Chatbot, error)
	Update(ctx context.Context, c *Chatbot) error
	Delete(ctx context.Context, id string) error
}
