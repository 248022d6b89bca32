package service

import (
	"context"
	"time"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/security"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ChatbotInput is the body of a chatbot create.
type ChatbotInput struct {
	Name           string            `json:"ChatbotName" validate:"required,min=3,max=64"`
	Description    string            `json:"Description" validate:"max=1024"`
	WorkspaceID    string            `json:"WorkspaceId" validate:"required"`
	ModelID        string            `json:"ModelId" validate:"required"`
	EmbeddedConfig map[string]string `json:"EmbeddedConfig"`
	KeepActive     bool              `json:"KeepActive"`
	Instructions   string            `json:"Instructions" validate:"max=4000"`
	RedactPII      bool              `json:"EnableRedaction"`
}

// ChatbotUpdate carries the mutable chatbot fields.
type ChatbotUpdate struct {
	Description    *string           `json:"Description" validate:"omitempty,max=1024"`
	WorkspaceID    string            `json:"WorkspaceId"`
	ModelID        string            `json:"ModelId"`
	EmbeddedConfig map[string]string `json:"EmbeddedConfig"`
	KeepActive     *bool             `json:"KeepActive"`
	Instructions   *string           `json:"Instructions" validate:"omitempty,max=4000"`
	RedactPII      *bool             `json:"EnableRedaction"`
}

// PublicChatbot is what the embedded widget may see of a chatbot.
type PublicChatbot struct {
	ID             string            `json:"ChatbotId"`
	Name           string            `json:"ChatbotName"`
	Description    string            `json:"Description"`
	EmbeddedConfig map[string]string `json:"EmbeddedConfig,omitempty"`
	KeepActive     bool              `json:"KeepActive"`
}

// FlagInput marks an embedded answer for review.
type FlagInput struct {
	ReviewRequired bool `json:"ReviewRequired"`
}

// ChatbotService manages chatbots and their embedded surface.
type ChatbotService struct {
	chatbotRepo   domain.ChatbotRepository
	workspaceRepo domain.WorkspaceRepository
	sessionRepo   domain.SessionRepository
	messageRepo   domain.MessageRepository
	sessions      *SessionService
	models        *ModelService
	groups        *GroupService
	now           func() time.Time
}

// NewChatbotService creates a new chatbot service
func NewChatbotService(
	chatbotRepo domain.ChatbotRepository,
	workspaceRepo domain.WorkspaceRepository,
	sessionRepo domain.SessionRepository,
	messageRepo domain.MessageRepository,
	sessions *SessionService,
	models *ModelService,
	groups *GroupService,
) *ChatbotService {
	return &ChatbotService{
		chatbotRepo:   chatbotRepo,
		workspaceRepo: workspaceRepo,
		sessionRepo:   sessionRepo,
		messageRepo:   messageRepo,
		sessions:      sessions,
		models:        models,
		groups:        groups,
		now:           time.Now,
	}
}

// Create adds a chatbot bound to a workspace the caller can read.
func (s *ChatbotService) Create(ctx context.Context, userID string, in ChatbotInput) (*domain.Chatbot, error) {
	if err := security.ValidateResourceName("ChatbotName", in.Name); err != nil {
		return nil, domain.Invalid("%s", err.Error())
	}
	switch _, err := s.chatbotRepo.GetByName(ctx, in.Name); {
	case err == nil:
		return nil, domain.Conflict("chatbot %s already exists", in.Name)
	case !notFound(err):
		return nil, domain.Storage(err, "failed to check chatbot name")
	}
	if err := s.checkBindings(ctx, userID, in.WorkspaceID, in.ModelID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	bot := &domain.Chatbot{
		ID:             uuid.NewString(),
		Name:           in.Name,
		Description:    in.Description,
		WorkspaceID:    in.WorkspaceID,
		ModelID:        in.ModelID,
		EmbeddedConfig: in.EmbeddedConfig,
		KeepActive:     in.KeepActive,
		Instructions:   in.Instructions,
		RedactPII:      in.RedactPII,
		CreatedBy:      userID,
		CreatedAt:      now,
		LastModifiedBy: userID,
		LastModifiedAt: now,
	}
	if err := s.chatbotRepo.Create(ctx, bot); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return nil, err
		}
		return nil, domain.Storage(err, "failed to create chatbot")
	}
	if err := s.groups.Grant(ctx, userID, domain.ResourceChatbot, bot.ID); err != nil {
		return nil, err
	}

	log.Info().Str("chatbot_id", bot.ID).Str("workspace_id", bot.WorkspaceID).Msg("chatbot created")
	return bot, nil
}

// checkBindings requires an active readable workspace and a usable model.
func (s *ChatbotService) checkBindings(ctx context.Context, userID, workspaceID, modelID string) error {
	if err := s.groups.Authorize(ctx, userID, domain.ResourceWorkspace, workspaceID, false); err != nil {
		return err
	}
	ws, err := s.workspaceRepo.Get(ctx, workspaceID)
	if err != nil {
		if notFound(err) {
			return domain.NotFoundf("workspace %s not found", workspaceID)
		}
		return domain.Storage(err, "failed to load workspace")
	}
	if ws.Status != domain.WorkspaceActive {
		return domain.Invalid("workspace %s is not active", workspaceID)
	}
	if _, err := s.models.Resolve(ctx, modelID); err != nil {
		return err
	}
	return nil
}

// Get returns a chatbot readable by userID.
func (s *ChatbotService) Get(ctx context.Context, userID, chatbotID string) (*domain.Chatbot, error) {
	if err := s.groups.Authorize(ctx, userID, domain.ResourceChatbot, chatbotID, false); err != nil {
		return nil, err
	}
	return s.load(ctx, chatbotID)
}

// List returns the chatbots visible to userID.
func (s *ChatbotService) List(ctx context.Context, userID string, opts domain.ListOptions) (domain.Page[domain.Chatbot], error) {
	ids, err := s.groups.Visible(ctx, userID, domain.ResourceChatbot)
	if err != nil {
		return domain.Page[domain.Chatbot]{}, err
	}
	bots, err := s.chatbotRepo.List(ctx, ids)
	if err != nil {
		return domain.Page[domain.Chatbot]{}, domain.Storage(err, "failed to list chatbots")
	}
	return paginate(bots, opts, sortFields[domain.Chatbot]{
		"LastModifiedTime": func(a, b domain.Chatbot) bool { return before(a.LastModifiedAt, b.LastModifiedAt) },
		"CreationTime":     func(a, b domain.Chatbot) bool { return before(a.CreatedAt, b.CreatedAt) },
		"ChatbotName":      func(a, b domain.Chatbot) bool { return a.Name < b.Name },
	}), nil
}

// Update changes a chatbot owned by userID.
func (s *ChatbotService) Update(ctx context.Context, userID, chatbotID string, in ChatbotUpdate) (*domain.Chatbot, error) {
	if err := s.groups.Authorize(ctx, userID, domain.ResourceChatbot, chatbotID, true); err != nil {
		return nil, err
	}
	bot, err := s.load(ctx, chatbotID)
	if err != nil {
		return nil, err
	}

	workspaceID, modelID := bot.WorkspaceID, bot.ModelID
	if in.WorkspaceID != "" {
		workspaceID = in.WorkspaceID
	}
	if in.ModelID != "" {
		modelID = in.ModelID
	}
	if workspaceID != bot.WorkspaceID || modelID != bot.ModelID {
		if err := s.checkBindings(ctx, userID, workspaceID, modelID); err != nil {
			return nil, err
		}
	}
	bot.WorkspaceID, bot.ModelID = workspaceID, modelID

	if in.Description != nil {
		bot.Description = *in.Description
	}
	if in.EmbeddedConfig != nil {
		bot.EmbeddedConfig = in.EmbeddedConfig
	}
	if in.KeepActive != nil {
		bot.KeepActive = *in.KeepActive
	}
	if in.Instructions != nil {
		bot.Instructions = *in.Instructions
	}
	if in.RedactPII != nil {
		bot.RedactPII = *in.RedactPII
	}
	bot.LastModifiedBy = userID
	bot.LastModifiedAt = s.now().UTC()

	if err := s.chatbotRepo.Update(ctx, bot); err != nil {
		return nil, domain.Storage(err, "failed to update chatbot")
	}
	return bot, nil
}

// Delete removes a chatbot with its embedded sessions.
func (s *ChatbotService) Delete(ctx context.Context, userID, chatbotID string) error {
	if err := s.groups.Authorize(ctx, userID, domain.ResourceChatbot, chatbotID, true); err != nil {
		return err
	}
	bot, err := s.load(ctx, chatbotID)
	if err != nil {
		return err
	}

	owner := domain.ChatbotClientID(bot.ID)
	sessions, err := s.sessionRepo.List(ctx, owner, owner)
	if err != nil {
		return domain.Storage(err, "failed to list chatbot sessions")
	}
	for _, sess := range sessions {
		if err := s.sessions.purge(ctx, owner, sess.ID); err != nil {
			return err
		}
	}

	if err := s.chatbotRepo.Delete(ctx, bot.ID); err != nil && !notFound(err) {
		return domain.Storage(err, "failed to delete chatbot")
	}
	if err := s.groups.Revoke(ctx, domain.ResourceChatbot, bot.ID); err != nil {
		return err
	}
	log.Info().Str("chatbot_id", bot.ID).Int("sessions", len(sessions)).Msg("chatbot deleted")
	return nil
}

// GetPublic returns the embeddable view of a chatbot.
func (s *ChatbotService) GetPublic(ctx context.Context, chatbotID string) (*PublicChatbot, error) {
	bot, err := s.load(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	return &PublicChatbot{
		ID:             bot.ID,
		Name:           bot.Name,
		Description:    bot.Description,
		EmbeddedConfig: bot.EmbeddedConfig,
		KeepActive:     bot.KeepActive,
	}, nil
}

// EmbeddedSession returns an embedded session with its history.
func (s *ChatbotService) EmbeddedSession(ctx context.Context, chatbotID, sessionID string) (*SessionDetail, error) {
	if _, err := s.load(ctx, chatbotID); err != nil {
		return nil, err
	}
	return s.sessions.Get(ctx, domain.ChatbotClientID(chatbotID), sessionID, 0)
}

// FlagMessage sets the review flag of an embedded answer.
func (s *ChatbotService) FlagMessage(ctx context.Context, chatbotID, sessionID, messageID string, in FlagInput) error {
	if _, err := s.load(ctx, chatbotID); err != nil {
		return err
	}
	if _, err := s.sessions.load(ctx, domain.ChatbotClientID(chatbotID), sessionID); err != nil {
		return err
	}
	exists, err := s.messageRepo.Exists(ctx, sessionID, messageID, domain.MessageAI)
	if err != nil {
		return domain.Storage(err, "failed to check message")
	}
	if !exists {
		return domain.NotFoundf("message %s not found", messageID)
	}
	if err := s.messageRepo.SetReviewFlag(ctx, sessionID, messageID, in.ReviewRequired); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return err
		}
		return domain.Storage(err, "failed to flag message")
	}
	return nil
}

func (s *ChatbotService) load(ctx context.Context, chatbotID string) (*domain.Chatbot, error) {
	bot, err := s.chatbotRepo.Get(ctx, chatbotID)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("chatbot %s not found", chatbotID)
		}
		return nil, domain.Storage(err, "failed to load chatbot")
	}
	return bot, nil
}
