package service

import (
	"context"
	"testing"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type chatbotFixture struct {
	svc         *ChatbotService
	chatbotRepo *MockChatbotRepository
	wsRepo      *MockWorkspaceRepository
	sessionRepo *MockSessionRepository
	messageRepo *MockMessageRepository
	modelRepo   *MockModelRepository
	providers   *MockProviders
	groupRepo   *MockGroupRepository
	objects     *MockObjectStore
}

func newChatbotFixture() *chatbotFixture {
	f := &chatbotFixture{
		chatbotRepo: new(MockChatbotRepository),
		wsRepo:      new(MockWorkspaceRepository),
		sessionRepo: new(MockSessionRepository),
		messageRepo: new(MockMessageRepository),
		modelRepo:   new(MockModelRepository),
		providers:   new(MockProviders),
		groupRepo:   new(MockGroupRepository),
		objects:     new(MockObjectStore),
	}
	sessions := NewSessionService(f.sessionRepo, f.messageRepo, f.objects, nil, nil, "sessions-bucket", 0)
	f.svc = NewChatbotService(f.chatbotRepo, f.wsRepo, f.sessionRepo, f.messageRepo, sessions,
		NewModelService(f.modelRepo, f.providers), NewGroupService(f.groupRepo))
	return f
}

func TestChatbotService_Create(t *testing.T) {
	ctx := context.Background()
	input := ChatbotInput{Name: "hr-bot", WorkspaceID: "ws-1", ModelID: "anthropic.claude-3-haiku"}

	t.Run("success", func(t *testing.T) {
		f := newChatbotFixture()
		f.chatbotRepo.On("GetByName", ctx, "hr-bot").Return(nil, domain.NotFoundf("not found"))
		f.groupRepo.On("Access", ctx, "user-1", domain.ResourceWorkspace, "ws-1").Return(domain.AccessReadOnly, nil)
		f.wsRepo.On("Get", ctx, "ws-1").Return(&domain.Workspace{ID: "ws-1", Status: domain.WorkspaceActive}, nil)
		f.modelRepo.On("Get", ctx, "anthropic.claude-3-haiku").Return(textModel(true), nil)
		f.providers.On("GetProvider", "bedrock").Return(new(MockProvider), nil)
		f.chatbotRepo.On("Create", ctx, mock.AnythingOfType("*domain.Chatbot")).Return(nil)
		f.groupRepo.On("DefaultGroup", ctx, "user-1", domain.AccessOwner).Return(&domain.Group{ID: "grp-1"}, nil)
		f.groupRepo.On("AddResource", ctx, "grp-1", domain.ResourceChatbot, mock.AnythingOfType("string")).Return(nil)

		bot, err := f.svc.Create(ctx, "user-1", input)
		require.NoError(t, err)
		assert.Equal(t, "ws-1", bot.WorkspaceID)
		assert.Equal(t, "user-1", bot.CreatedBy)
		f.chatbotRepo.AssertExpectations(t)
		f.groupRepo.AssertExpectations(t)
	})

	t.Run("inactive workspace", func(t *testing.T) {
		f := newChatbotFixture()
		f.chatbotRepo.On("GetByName", ctx, "hr-bot").Return(nil, domain.NotFoundf("not found"))
		f.groupRepo.On("Access", ctx, "user-1", domain.ResourceWorkspace, "ws-1").Return(domain.AccessOwner, nil)
		f.wsRepo.On("Get", ctx, "ws-1").Return(&domain.Workspace{ID: "ws-1", Status: domain.WorkspaceCreating}, nil)

		_, err := f.svc.Create(ctx, "user-1", input)
		assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
	})

	t.Run("disabled model", func(t *testing.T) {
		f := newChatbotFixture()
		model := textModel(true)
		model.Enabled = false
		f.chatbotRepo.On("GetByName", ctx, "hr-bot").Return(nil, domain.NotFoundf("not found"))
		f.groupRepo.On("Access", ctx, "user-1", domain.ResourceWorkspace, "ws-1").Return(domain.AccessOwner, nil)
		f.wsRepo.On("Get", ctx, "ws-1").Return(&domain.Workspace{ID: "ws-1", Status: domain.WorkspaceActive}, nil)
		f.modelRepo.On("Get", ctx, "anthropic.claude-3-haiku").Return(model, nil)

		_, err := f.svc.Create(ctx, "user-1", input)
		assert.True(t, domain.IsKind(err, domain.KindModelAccess))
		f.chatbotRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("workspace not readable", func(t *testing.T) {
		f := newChatbotFixture()
		f.chatbotRepo.On("GetByName", ctx, "hr-bot").Return(nil, domain.NotFoundf("not found"))
		f.groupRepo.On("Access", ctx, "user-1", domain.ResourceWorkspace, "ws-1").Return(domain.AccessType(""), nil)

		_, err := f.svc.Create(ctx, "user-1", input)
		assert.True(t, domain.IsKind(err, domain.KindUnauthorized))
	})
}

func TestChatbotService_Delete(t *testing.T) {
	ctx := context.Background()
	f := newChatbotFixture()
	owner := domain.ChatbotClientID("bot-1")

	f.groupRepo.On("Access", ctx, "user-1", domain.ResourceChatbot, "bot-1").Return(domain.AccessOwner, nil)
	f.chatbotRepo.On("Get", ctx, "bot-1").Return(&domain.Chatbot{ID: "bot-1", Name: "hr-bot"}, nil)
	f.sessionRepo.On("List", ctx, owner, owner).Return([]domain.Session{{ID: "s-1", UserID: owner}, {ID: "s-2", UserID: owner}}, nil)
	f.objects.On("DeletePrefix", ctx, "sessions-bucket", mock.AnythingOfType("string")).Return(nil)
	f.messageRepo.On("DeleteSession", ctx, mock.AnythingOfType("string")).Return(nil)
	f.sessionRepo.On("Delete", ctx, owner, mock.AnythingOfType("string")).Return(nil)
	f.chatbotRepo.On("Delete", ctx, "bot-1").Return(nil)
	f.groupRepo.On("RemoveResource", ctx, domain.ResourceChatbot, "bot-1").Return(nil)

	require.NoError(t, f.svc.Delete(ctx, "user-1", "bot-1"))
	f.messageRepo.AssertNumberOfCalls(t, "DeleteSession", 2)
	f.sessionRepo.AssertNumberOfCalls(t, "Delete", 2)
	f.chatbotRepo.AssertExpectations(t)
}

func TestChatbotService_FlagMessage(t *testing.T) {
	ctx := context.Background()
	owner := domain.ChatbotClientID("bot-1")

	t.Run("success", func(t *testing.T) {
		f := newChatbotFixture()
		f.chatbotRepo.On("Get", ctx, "bot-1").Return(&domain.Chatbot{ID: "bot-1"}, nil)
		f.sessionRepo.On("Get", ctx, owner, "s-1").Return(&domain.Session{ID: "s-1", UserID: owner}, nil)
		f.messageRepo.On("Exists", ctx, "s-1", "msg-1", domain.MessageAI).Return(true, nil)
		f.messageRepo.On("SetReviewFlag", ctx, "s-1", "msg-1", true).Return(nil)

		require.NoError(t, f.svc.FlagMessage(ctx, "bot-1", "s-1", "msg-1", FlagInput{ReviewRequired: true}))
		f.messageRepo.AssertExpectations(t)
	})

	t.Run("unknown message", func(t *testing.T) {
		f := newChatbotFixture()
		f.chatbotRepo.On("Get", ctx, "bot-1").Return(&domain.Chatbot{ID: "bot-1"}, nil)
		f.sessionRepo.On("Get", ctx, owner, "s-1").Return(&domain.Session{ID: "s-1", UserID: owner}, nil)
		f.messageRepo.On("Exists", ctx, "s-1", "msg-9", domain.MessageAI).Return(false, nil)

		err := f.svc.FlagMessage(ctx, "bot-1", "s-1", "msg-9", FlagInput{ReviewRequired: true})
		assert.True(t, domain.IsKind(err, domain.KindNotFound))
	})

	t.Run("unknown chatbot", func(t *testing.T) {
		f := newChatbotFixture()
		f.chatbotRepo.On("Get", ctx, "bot-9").Return(nil, domain.NotFoundf("not found"))

		err := f.svc.FlagMessage(ctx, "bot-9", "s-1", "msg-1", FlagInput{})
		assert.True(t, domain.IsKind(err, domain.KindNotFound))
	})
}

func TestChatbotService_GetPublic(t *testing.T) {
	ctx := context.Background()
	f := newChatbotFixture()
	f.chatbotRepo.On("Get", ctx, "bot-1").Return(&domain.Chatbot{
		ID:             "bot-1",
		Name:           "hr-bot",
		WorkspaceID:    "ws-1",
		Instructions:   "internal prompt",
		EmbeddedConfig: map[string]string{"theme": "dark"},
	}, nil)

	bot, err := f.svc.GetPublic(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "hr-bot", bot.Name)
	assert.Equal(t, "dark", bot.EmbeddedConfig["theme"])
}
