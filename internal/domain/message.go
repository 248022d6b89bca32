package domain

import (
	"context"
	"time"
)

// MessageType is the speaker of a message.
type MessageType string

const (
	MessageHuman MessageType = "human"
	MessageAI    MessageType = "ai"
)

// Mode names the execution path a turn took.
type Mode string

const (
	ModeTrivial     Mode = "N/A"
	ModeFileQA      Mode = "file-qa"
	ModeWorkspaceQA Mode = "workspace-qa"
	ModeAgent       Mode = "agent"
	ModePlainChat   Mode = "chat"
)

// Source describes a file behind retrieved context.
type Source struct {
	Domain   string `json:"Domain,omitempty"`
	Dataset  string `json:"DatasetName,omitempty"`
	FileName string `json:"FileName"`
	URL      string `json:"WebsiteURL,omitempty"`
}

// RetrievedDocument is a retrieval hit without its page text.
type RetrievedDocument struct {
	Location  string            `json:"location"`
	DatasetID string            `json:"dataset_id,omitempty"`
	FileName  string            `json:"file_name,omitempty"`
	Score     float64           `json:"score,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Citation is an agent runtime citation reference.
type Citation struct {
	Text       string   `json:"text,omitempty"`
	References []string `json:"references,omitempty"`
}

// MessageMetadata is the producer-side envelope stored with a message.
type MessageMetadata struct {
	ModelID      string              `json:"modelId,omitempty"`
	Mode         Mode                `json:"mode,omitempty"`
	ModelKwargs  map[string]any      `json:"modelKwargs,omitempty"`
	Documents    []RetrievedDocument `json:"documents,omitempty"`
	Sources      []Source            `json:"Sources,omitempty"`
	WorkspaceID  string              `json:"workspaceId,omitempty"`
	AgentID      string              `json:"agentId,omitempty"`
	Citations    []Citation          `json:"citations,omitempty"`
	ResponseTime int64               `json:"ResponseTime,omitempty"`
	Failed       bool                `json:"failed,omitempty"`
}

// Message is one entry of a session's append-only log.
type Message struct {
	SessionID      string          `json:"SessionId"`
	MessageID      string          `json:"MessageId"`
	Time           time.Time       `json:"MessageTime"`
	Type           MessageType     `json:"Type"`
	Data           string          `json:"Data"`
	Metadata       MessageMetadata `json:"Metadata"`
	ResponseTime   int64           `json:"ResponseTime,omitempty"`
	ReviewRequired bool            `json:"ReviewRequired"`
	Reviewed       bool            `json:"Reviewed,omitempty"`
}

// MessageRepository is the session message log.
type MessageRepository interface {
	Append(ctx context.Context, m *Message) error
	// History returns up to limit most recent messages in ascending time
	// order. A limit of 0 returns the whole log.
	History(ctx context.Context, sessionID string, limit int) ([]Message, error)
	// Get returns the messages (human and ai) sharing messageID.
	Get(ctx context.Context, sessionID, messageID string) ([]Message, error)
	Exists(ctx context.Context, sessionID, messageID string, t MessageType) (bool, error)
	// SetReviewFlag flags the ai message conditionally on its current flag.
	SetReviewFlag(ctx context.Context, sessionID, messageID string, required bool) error
	DeleteSession(ctx context.Context, sessionID string) error
}
