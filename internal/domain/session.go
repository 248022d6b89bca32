package domain

import (
	"context"
	"strings"
	"time"
)

// QueryStatus is the state of the latest turn in a session.
type QueryStatus string

const (
	QueryProcessing QueryStatus = "processing"
	QueryCompleted  QueryStatus = "completed"
	QueryFailed     QueryStatus = "failed"
)

// DeliveryStatus is the push state of the latest turn's final chunk.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

const (
	DefaultSessionTitle = "New Session"
	SessionTitleLength  = 128

	agentClientPrefix   = "agent-"
	chatbotClientPrefix = "chatbot-"

	userSessionTTL    = 365 * 24 * time.Hour
	chatbotSessionTTL = 7 * 24 * time.Hour
	agentSessionIdle  = 60 * time.Minute
)

// ClientKind is the kind of conversation target a session talks to.
type ClientKind int

const (
	ClientSelf ClientKind = iota
	ClientChatbot
	ClientAgent
)

// ParseClientID splits a session client id into its kind and target id.
func ParseClientID(clientID string) (ClientKind, string) {
	switch {
	case strings.HasPrefix(clientID, agentClientPrefix):
		return ClientAgent, strings.TrimPrefix(clientID, agentClientPrefix)
	case strings.HasPrefix(clientID, chatbotClientPrefix):
		return ClientChatbot, strings.TrimPrefix(clientID, chatbotClientPrefix)
	}
	return ClientSelf, clientID
}

func AgentClientID(agentID string) string     { return agentClientPrefix + agentID }
func ChatbotClientID(chatbotID string) string { return chatbotClientPrefix + chatbotID }

// SessionExpiry returns the expiry for a session of clientID touched at now.
// Agent sessions expire after an idle window that resets on activity.
func SessionExpiry(clientID string, now time.Time) time.Time {
	kind, _ := ParseClientID(clientID)
	switch kind {
	case ClientAgent:
		return now.Add(agentSessionIdle)
	case ClientChatbot:
		return now.Add(chatbotSessionTTL)
	}
	return now.Add(userSessionTTL)
}

// IdleExpiry returns the refreshed expiry of an agent session active at
// now, or nil for sessions whose expiry is fixed at creation.
func IdleExpiry(clientID string, now time.Time) *time.Time {
	if kind, _ := ParseClientID(clientID); kind != ClientAgent {
		return nil
	}
	expiry := now.Add(agentSessionIdle)
	return &expiry
}

// SessionTitle derives a title from the first human message.
func SessionTitle(message string) string {
	r := []rune(strings.TrimSpace(message))
	if len(r) > SessionTitleLength {
		r = r[:SessionTitleLength]
	}
	return string(r)
}

// Session is a conversation container.
type Session struct {
	UserID             string         `json:"UserId"`
	ID                 string         `json:"SessionId"`
	ClientID           string         `json:"ClientId"`
	Title              string         `json:"Title"`
	StartTime          time.Time      `json:"StartTime"`
	LastModified       time.Time      `json:"LastModifiedTime"`
	ExpiresAt          time.Time      `json:"-"`
	ConnectionID       string         `json:"ConnectionId,omitempty"`
	ConnectionStart    *time.Time     `json:"ConnectionStartTime,omitempty"`
	ConnectionEnd      *time.Time     `json:"ConnectionEndTime,omitempty"`
	LatestMessageID    string         `json:"LatestMessageId,omitempty"`
	QueryStatus        QueryStatus    `json:"QueryStatus,omitempty"`
	QueryFailureReason string         `json:"QueryFailureReason,omitempty"`
	DeliveryStatus     DeliveryStatus `json:"MessageDeliveryStatus,omitempty"`
	Files              []string       `json:"SessionFiles"`
}

// Connected reports whether the session currently has a live connection.
func (s *Session) Connected() bool {
	return s.ConnectionID != ""
}

// HasFile reports whether name is attached to the session.
func (s *Session) HasFile(name string) bool {
	for _, f := range s.Files {
		if f == name {
			return true
		}
	}
	return false
}

// SessionRepository stores sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, userID, sessionID string) (*Session, error)
	List(ctx context.Context, userID, clientID string) ([]Session, error)
	GetByConnection(ctx context.Context, connectionID string) (*Session, error)
	Delete(ctx context.Context, userID, sessionID string) error
	// StartQuery moves the session into processing in a single conditional
	// write. It returns Conflict when a turn is already processing. The
	// title is only replaced while it still holds the placeholder. A nil
	// expiresAt leaves the expiry as is.
	StartQuery(ctx context.Context, userID, sessionID, title string, expiresAt *time.Time) error
	FinishQuery(ctx context.Context, userID, sessionID string, status QueryStatus, reason, latestMessageID string) error
	UpdateDeliveryStatus(ctx context.Context, userID, sessionID string, status DeliveryStatus) error
	BindConnection(ctx context.Context, userID, sessionID, connectionID string, at time.Time) error
	// ReleaseConnection clears the live connection and returns the session
	// it was bound to.
	ReleaseConnection(ctx context.Context, connectionID string, at time.Time) (*Session, error)
	AttachFile(ctx context.Context, userID, sessionID, name string) error
	DetachFile(ctx context.Context, userID, sessionID, name string) error
	// ListExpired returns sessions whose expiry is before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Session, error)
}
