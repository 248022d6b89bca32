package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/llm"
	"github.com/Rrens/genai-platform/internal/retriever"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// recordingPusher keeps every payload pushed to a connection.
type recordingPusher struct {
	mu     sync.Mutex
	pushes []Push
}

func (p *recordingPusher) Push(ctx context.Context, connectionID string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, payload.(Push))
	return nil
}

func (p *recordingPusher) all() []Push {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Push(nil), p.pushes...)
}

func (p *recordingPusher) final() (Push, bool) {
	for _, push := range p.all() {
		if push.Metadata.IsComplete {
			return push, true
		}
	}
	return Push{}, false
}

type chatFixture struct {
	svc         *ChatService
	sessionRepo *MockSessionRepository
	messageRepo *MockMessageRepository
	wsRepo      *MockWorkspaceRepository
	modelRepo   *MockModelRepository
	userRepo    *MockUserRepository
	groupRepo   *MockGroupRepository
	retriever   *MockRetriever
	files       *MockFileLoader
	provider    *MockProvider
	pusher      *recordingPusher
	session     *domain.Session
}

func newChatFixture(cfg config.ChatConfig, model *domain.Model) *chatFixture {
	f := &chatFixture{
		sessionRepo: new(MockSessionRepository),
		messageRepo: new(MockMessageRepository),
		wsRepo:      new(MockWorkspaceRepository),
		modelRepo:   new(MockModelRepository),
		userRepo:    new(MockUserRepository),
		groupRepo:   new(MockGroupRepository),
		retriever:   new(MockRetriever),
		files:       new(MockFileLoader),
		provider:    new(MockProvider),
		pusher:      &recordingPusher{},
		session:     &domain.Session{ID: "sess-1", UserID: "user-1", ClientID: "user-1"},
	}
	providers := new(MockProviders)
	providers.On("GetProvider", "bedrock").Return(f.provider, nil).Maybe()
	f.modelRepo.On("Get", mock.Anything, model.ID).Return(model, nil).Maybe()

	groups := NewGroupService(f.groupRepo)
	f.svc = NewChatService(ChatDeps{
		SessionRepo:   f.sessionRepo,
		MessageRepo:   f.messageRepo,
		WorkspaceRepo: f.wsRepo,
		Models:        NewModelService(f.modelRepo, providers),
		Users:         NewUserService(f.userRepo, groups, nil, nil),
		Groups:        groups,
		Retriever:     f.retriever,
		Files:         f.files,
		Pusher:        f.pusher,
	}, cfg)
	return f
}

// expectTurn registers the session and message log calls every started
// turn makes.
func (f *chatFixture) expectTurn(messageID string, status domain.QueryStatus, reason string) {
	f.messageRepo.On("Exists", mock.Anything, "sess-1", messageID, domain.MessageHuman).Return(false, nil)
	f.sessionRepo.On("StartQuery", mock.Anything, "user-1", "sess-1", mock.Anything, (*time.Time)(nil)).Return(nil)
	f.messageRepo.On("History", mock.Anything, "sess-1", 10).Return([]domain.Message{}, nil)
	f.messageRepo.On("Append", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Type == domain.MessageHuman && m.MessageID == messageID
	})).Return(nil)
	f.messageRepo.On("Append", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Type == domain.MessageAI && m.MessageID == messageID
	})).Return(nil)
	f.sessionRepo.On("FinishQuery", mock.Anything, "user-1", "sess-1", status, reason, messageID).Return(nil)
}

func textModel(streaming bool) *domain.Model {
	return &domain.Model{
		ID:        "anthropic.claude-3-haiku",
		Provider:  "Anthropic",
		Type:      domain.ModelBase,
		Modality:  []domain.Modality{domain.ModalityText},
		OnDemand:  true,
		Streaming: streaming,
		Enabled:   true,
		Available: true,
	}
}

func tokenStream(tokens ...string) *llm.Stream {
	ch := make(chan llm.Chunk, len(tokens))
	for _, tok := range tokens {
		ch <- llm.Chunk{Text: tok}
	}
	close(ch)
	return &llm.Stream{C: ch}
}

func TestChatService_Greeting(t *testing.T) {
	f := newChatFixture(config.ChatConfig{TurnBudget: 5 * time.Second}, textModel(true))
	f.expectTurn("msg-1", domain.QueryCompleted, "")
	f.sessionRepo.On("UpdateDeliveryStatus", mock.Anything, "user-1", "sess-1", domain.DeliveryDelivered).Return(nil)

	err := f.svc.Handle(context.Background(), "conn-1", f.session, ChatRequest{
		SessionID:   "sess-1",
		MessageID:   "msg-1",
		ModelID:     "anthropic.claude-3-haiku",
		UserMessage: "Hi",
	})
	require.NoError(t, err)

	pushes := f.pusher.all()
	require.Len(t, pushes, 1)
	assert.Equal(t, greetingReply, pushes[0].AIMessage)
	assert.True(t, pushes[0].Metadata.IsComplete)
	assert.Equal(t, domain.ModeTrivial, pushes[0].Metadata.Mode)
	assert.Empty(t, pushes[0].Metadata.ModelKwargs)

	f.provider.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	f.provider.AssertNotCalled(t, "Stream", mock.Anything, mock.Anything)
	f.sessionRepo.AssertExpectations(t)
	f.messageRepo.AssertExpectations(t)
}

func TestChatService_WorkspaceAnswerWithSources(t *testing.T) {
	f := newChatFixture(config.ChatConfig{TurnBudget: 5 * time.Second}, textModel(false))
	f.expectTurn("msg-2", domain.QueryCompleted, "")
	f.sessionRepo.On("UpdateDeliveryStatus", mock.Anything, "user-1", "sess-1", domain.DeliveryDelivered).Return(nil)

	ws := &domain.Workspace{ID: "ws-1", Status: domain.WorkspaceActive}
	f.wsRepo.On("Get", mock.Anything, "ws-1").Return(ws, nil)
	f.groupRepo.On("Access", mock.Anything, "user-1", domain.ResourceWorkspace, "ws-1").Return(domain.AccessReadOnly, nil)
	f.userRepo.On("Get", mock.Anything, "user-1").Return(&domain.User{ID: "user-1"}, nil)

	sources := []domain.Source{{Dataset: "handbook", FileName: "leave-policy.pdf"}}
	f.retriever.On("Retrieve", mock.Anything, ws, mock.AnythingOfType("*retriever.Principal"), "How many leave days do I get?").
		Return(&retriever.Result{
			Documents: []retriever.Document{{
				Text:     "Employees receive 25 days of paid leave.",
				Metadata: domain.RetrievedDocument{Location: "s3://kb/handbook/leave-policy.pdf", FileName: "leave-policy.pdf"},
			}},
			Sources: sources,
		}, nil)
	f.provider.On("Complete", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
		return strings.Contains(req.Prompt, "25 days of paid leave") && !req.Condense
	})).Return(&llm.Response{Text: "Answer: You get 25 days of paid leave."}, nil)

	err := f.svc.Handle(context.Background(), "conn-1", f.session, ChatRequest{
		MessageID:   "msg-2",
		ModelID:     "anthropic.claude-3-haiku",
		UserMessage: "How many leave days do I get?",
		WorkspaceID: "ws-1",
	})
	require.NoError(t, err)

	pushes := f.pusher.all()
	require.Len(t, pushes, 2)
	assert.False(t, pushes[0].Metadata.IsComplete)
	assert.Equal(t, sources, pushes[0].Metadata.Sources)

	final := pushes[1]
	assert.True(t, final.Metadata.IsComplete)
	assert.Equal(t, "You get 25 days of paid leave.", final.AIMessage)
	assert.Equal(t, sources, final.Metadata.Sources)
	assert.Equal(t, domain.ModeWorkspaceQA, final.Metadata.Mode)
	assert.Equal(t, "ws-1", final.Metadata.WorkspaceID)
	require.Len(t, final.Metadata.Documents, 1)
	assert.Equal(t, "leave-policy.pdf", final.Metadata.Documents[0].FileName)

	stored := f.appended()
	require.Len(t, stored, 3)
	assert.Equal(t, domain.MessageHuman, stored[0].Type)
	assert.Empty(t, stored[1].Data)
	assert.Equal(t, sources, stored[1].Metadata.Sources)
	assert.Equal(t, "ws-1", stored[1].Metadata.WorkspaceID)
	assert.Equal(t, "You get 25 days of paid leave.", stored[2].Data)
	assert.True(t, stored[1].Time.After(stored[0].Time))
	assert.True(t, stored[2].Time.After(stored[1].Time))

	f.retriever.AssertExpectations(t)
	f.provider.AssertExpectations(t)
	f.messageRepo.AssertExpectations(t)
}

// appended returns the messages written to the log, in order.
func (f *chatFixture) appended() []*domain.Message {
	var out []*domain.Message
	for _, call := range f.messageRepo.Calls {
		if call.Method == "Append" {
			out = append(out, call.Arguments.Get(1).(*domain.Message))
		}
	}
	return out
}

func TestChatService_FileAnswer(t *testing.T) {
	fileRequest := func(messageID string) ChatRequest {
		return ChatRequest{
			MessageID:   messageID,
			ModelID:     "anthropic.claude-3-haiku",
			UserMessage: "How long do refunds take?",
			AdvancedConfig: &AdvancedConfig{
				OriginalFile: true,
				FileName:     "refund-policy.txt",
				ModelKwargs:  llm.Params{Temperature: llm.Float(0)},
			},
		}
	}

	t.Run("answers from the attached file", func(t *testing.T) {
		f := newChatFixture(config.ChatConfig{TurnBudget: 5 * time.Second}, textModel(false))
		f.session.Files = []string{"refund-policy.txt"}
		f.expectTurn("msg-7", domain.QueryCompleted, "")
		f.sessionRepo.On("UpdateDeliveryStatus", mock.Anything, "user-1", "sess-1", domain.DeliveryDelivered).Return(nil)
		f.files.On("Load", mock.Anything, "user-1", "sess-1", "refund-policy.txt", 0).Return(&retriever.Document{
			Text:     "Refunds are issued within 14 days of purchase.",
			Metadata: domain.RetrievedDocument{Location: "sessions/user-1/sess-1/refund-policy.txt", FileName: "refund-policy.txt"},
		}, nil)
		f.provider.On("Complete", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
			return strings.Contains(req.Prompt, "14 days of purchase") && req.Params.Temp() == 0
		})).Return(&llm.Response{Text: "Refunds take up to 14 days."}, nil)

		require.NoError(t, f.svc.Handle(context.Background(), "conn-1", f.session, fileRequest("msg-7")))

		pushes := f.pusher.all()
		require.Len(t, pushes, 1)
		final := pushes[0]
		assert.True(t, final.Metadata.IsComplete)
		assert.Equal(t, "Refunds take up to 14 days.", final.AIMessage)
		assert.Equal(t, domain.ModeFileQA, final.Metadata.Mode)
		assert.Equal(t, []domain.Source{{FileName: "refund-policy.txt"}}, final.Metadata.Sources)
		require.Len(t, final.Metadata.Documents, 1)
		assert.Equal(t, "refund-policy.txt", final.Metadata.Documents[0].FileName)
		assert.Equal(t, 0.0, final.Metadata.ModelKwargs["temperature"])

		f.retriever.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.wsRepo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
		f.provider.AssertExpectations(t)
	})

	t.Run("file too big for the model", func(t *testing.T) {
		f := newChatFixture(config.ChatConfig{TurnBudget: 5 * time.Second}, textModel(false))
		f.session.Files = []string{"refund-policy.txt"}
		f.expectTurn("msg-8", domain.QueryFailed, mock.Anything)
		f.sessionRepo.On("UpdateDeliveryStatus", mock.Anything, "user-1", "sess-1", domain.DeliveryDelivered).Return(nil)
		f.files.On("Load", mock.Anything, "user-1", "sess-1", "refund-policy.txt", 0).
			Return(nil, domain.E(domain.KindFileTooBig, nil, "file refund-policy.txt exceeds the model input limit"))

		err := f.svc.Handle(context.Background(), "conn-1", f.session, fileRequest("msg-8"))
		assert.True(t, domain.IsKind(err, domain.KindFileTooBig))

		final, ok := f.pusher.final()
		require.True(t, ok)
		assert.Equal(t, msgFileTooBig, final.AIMessage)
		f.provider.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	})

	t.Run("file not attached to the session", func(t *testing.T) {
		f := newChatFixture(config.ChatConfig{TurnBudget: 5 * time.Second}, textModel(false))
		f.expectTurn("msg-9", domain.QueryFailed, mock.Anything)
		f.sessionRepo.On("UpdateDeliveryStatus", mock.Anything, "user-1", "sess-1", domain.DeliveryDelivered).Return(nil)

		err := f.svc.Handle(context.Background(), "conn-1", f.session, fileRequest("msg-9"))
		assert.True(t, domain.IsKind(err, domain.KindNotFound))
		f.files.AssertNotCalled(t, "Load", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestChatService_SelectMode(t *testing.T) {
	f := newChatFixture(config.ChatConfig{}, textModel(false))
	resolved := &ResolvedModel{Model: textModel(false), Family: "anthropic"}

	tests := []struct {
		name     string
		req      ChatRequest
		clientID string
		model    *ResolvedModel
		want     turnMode
		wantKind domain.Kind
	}{
		{
			name:  "attached file",
			req:   ChatRequest{AdvancedConfig: &AdvancedConfig{OriginalFile: true, FileName: "a.txt"}},
			model: resolved,
			want:  fileQA{fileName: "a.txt"},
		},
		{
			name:  "file flag without a name",
			req:   ChatRequest{AdvancedConfig: &AdvancedConfig{OriginalFile: true}},
			model: resolved,
			want:  plainChat{},
		},
		{
			name:  "agent id",
			req:   ChatRequest{AgentID: "agent-1"},
			model: resolved,
			want:  agentTurn{agentID: "agent-1"},
		},
		{
			name:     "agent session",
			clientID: domain.AgentClientID("agent-7"),
			want:     agentTurn{agentID: "agent-7"},
		},
		{
			name:  "tool-capable model without an agent",
			model: resolved,
			want:  plainChat{},
		},
		{
			name:     "no model",
			wantKind: domain.KindInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientID := tt.clientID
			if clientID == "" {
				clientID = "user-1"
			}
			tr := &turn{
				req:     tt.req,
				userID:  "user-1",
				session: &domain.Session{ID: "sess-1", UserID: "user-1", ClientID: clientID},
				model:   tt.model,
			}
			got, err := f.svc.selectMode(context.Background(), tr)
			if tt.wantKind != "" {
				assert.True(t, domain.IsKind(err, tt.wantKind))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChatService_NoDocuments(t *testing.T) {
	f := newChatFixture(config.ChatConfig{TurnBudget: 5 * time.Second}, textModel(false))
	f.expectTurn("msg-3", domain.QueryFailed, mock.Anything)
	f.sessionRepo.On("UpdateDeliveryStatus", mock.Anything, "user-1", "sess-1", domain.DeliveryDelivered).Return(nil)

	ws := &domain.Workspace{ID: "ws-1", Status: domain.WorkspaceActive}
	f.wsRepo.On("Get", mock.Anything, "ws-1").Return(ws, nil)
	f.groupRepo.On("Access", mock.Anything, "user-1", domain.ResourceWorkspace, "ws-1").Return(domain.AccessOwner, nil)
	f.userRepo.On("Get", mock.Anything, "user-1").Return(&domain.User{ID: "user-1"}, nil)
	f.retriever.On("Retrieve", mock.Anything, ws, mock.Anything, mock.Anything).Return(&retriever.Result{}, nil)

	err := f.svc.Handle(context.Background(), "conn-1", f.session, ChatRequest{
		MessageID:   "msg-3",
		ModelID:     "anthropic.claude-3-haiku",
		UserMessage: "What is the travel policy?",
		WorkspaceID: "ws-1",
	})
	assert.Error(t, err)

	final, ok := f.pusher.final()
	require.True(t, ok)
	assert.Equal(t, msgNoDocuments, final.AIMessage)
	f.provider.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestChatService_StreamsInGroups(t *testing.T) {
	f := newChatFixture(config.ChatConfig{TurnBudget: 5 * time.Second, StreamGroupSize: 2}, textModel(true))
	f.expectTurn("msg-4", domain.QueryCompleted, "")
	f.sessionRepo.On("UpdateDeliveryStatus", mock.Anything, "user-1", "sess-1", domain.DeliveryDelivered).Return(nil)
	f.provider.On("Stream", mock.Anything, mock.AnythingOfType("llm.Request")).
		Return(tokenStream("AI:", " Go", " channels", " are", " typed", " conduits."), nil)

	err := f.svc.Handle(context.Background(), "conn-1", f.session, ChatRequest{
		MessageID:   "msg-4",
		ModelID:     "anthropic.claude-3-haiku",
		UserMessage: "What are Go channels?",
	})
	require.NoError(t, err)

	pushes := f.pusher.all()
	require.GreaterOrEqual(t, len(pushes), 4)

	var streamed strings.Builder
	for _, p := range pushes[:len(pushes)-1] {
		assert.False(t, p.Metadata.IsComplete)
		assert.Equal(t, "msg-4", p.Metadata.MessageID)
		streamed.WriteString(p.AIMessage)
	}
	final := pushes[len(pushes)-1]
	assert.True(t, final.Metadata.IsComplete)
	assert.Equal(t, "Go channels are typed conduits.", final.AIMessage)
	assert.Equal(t, final.AIMessage, streamed.String())
	assert.Equal(t, domain.ModePlainChat, final.Metadata.Mode)
	assert.NotEmpty(t, final.Metadata.ModelKwargs)
}

func TestChatService_Timeout(t *testing.T) {
	f := newChatFixture(config.ChatConfig{TurnBudget: 50 * time.Millisecond}, textModel(false))
	f.expectTurn("msg-5", domain.QueryFailed, timeoutReason)

	delivered := make(chan struct{})
	f.sessionRepo.On("UpdateDeliveryStatus", mock.Anything, "user-1", "sess-1", domain.DeliveryDelivered).
		Run(func(mock.Arguments) { close(delivered) }).Return(nil).Once()
	f.provider.On("Complete", mock.Anything, mock.AnythingOfType("llm.Request")).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	err := f.svc.Handle(context.Background(), "conn-1", f.session, ChatRequest{
		MessageID:   "msg-5",
		ModelID:     "anthropic.claude-3-haiku",
		UserMessage: "Summarize the quarterly report",
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTimeout))

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("failure chunk was not delivered")
	}

	final, ok := f.pusher.final()
	require.True(t, ok)
	assert.Equal(t, msgTimeout, final.AIMessage)
	f.sessionRepo.AssertExpectations(t)
	f.messageRepo.AssertExpectations(t)
}

func TestChatService_RejectsDuplicateMessage(t *testing.T) {
	f := newChatFixture(config.ChatConfig{TurnBudget: 5 * time.Second}, textModel(false))
	f.messageRepo.On("Exists", mock.Anything, "sess-1", "msg-6", domain.MessageHuman).Return(true, nil)

	err := f.svc.Handle(context.Background(), "conn-1", f.session, ChatRequest{
		MessageID:   "msg-6",
		ModelID:     "anthropic.claude-3-haiku",
		UserMessage: "Hello again",
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	pushes := f.pusher.all()
	require.Len(t, pushes, 1)
	assert.True(t, pushes[0].Metadata.IsComplete)
	assert.Contains(t, pushes[0].AIMessage, "msg-6")
	f.sessionRepo.AssertNotCalled(t, "StartQuery", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChatService_Validation(t *testing.T) {
	f := newChatFixture(config.ChatConfig{TurnBudget: 5 * time.Second, MaxMessageChars: 10}, textModel(false))

	tests := []struct {
		name string
		req  ChatRequest
	}{
		{"missing message id", ChatRequest{ModelID: "anthropic.claude-3-haiku", UserMessage: "hi"}},
		{"foreign session", ChatRequest{SessionID: "other", MessageID: "m", UserMessage: "hi"}},
		{"empty message", ChatRequest{MessageID: "m", UserMessage: "   "}},
		{"too long", ChatRequest{MessageID: "m", UserMessage: "this message is too long"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.Handle(context.Background(), "conn-1", f.session, tt.req)
			assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
		})
	}
	f.messageRepo.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTriage(t *testing.T) {
	reply, ok := triage("  Hello ")
	assert.True(t, ok)
	assert.Equal(t, greetingReply, reply)

	reply, ok = triage("Thanks")
	assert.True(t, ok)
	assert.Equal(t, thanksReply, reply)

	_, ok = triage("hello, what is our refund policy?")
	assert.False(t, ok)
}

func TestCleanLeading(t *testing.T) {
	assert.Equal(t, "Paris", cleanLeading("  AI: Paris"))
	assert.Equal(t, "Paris", cleanLeading("Answer:Paris"))
	assert.Equal(t, "Paris AI:", cleanLeading("Paris AI:"))
}
