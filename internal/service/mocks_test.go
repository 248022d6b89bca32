package service

import (
	"context"
	"io"
	"time"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/crawler"
	"github.com/Rrens/genai-platform/internal/dataplane"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/llm"
	"github.com/Rrens/genai-platform/internal/repository/redis"
	"github.com/Rrens/genai-platform/internal/retriever"
	"github.com/Rrens/genai-platform/internal/task"
	"github.com/stretchr/testify/mock"
)

// MockSessionRepository mocks the SessionRepository interface
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockSessionRepository) Get(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, userID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) List(ctx context.Context, userID, clientID string) ([]domain.Session, error) {
	args := m.Called(ctx, userID, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Session), args.Error(1)
}

func (m *MockSessionRepository) GetByConnection(ctx context.Context, connectionID string) (*domain.Session, error) {
	args := m.Called(ctx, connectionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) Delete(ctx context.Context, userID, sessionID string) error {
	args := m.Called(ctx, userID, sessionID)
	return args.Error(0)
}

func (m *MockSessionRepository) StartQuery(ctx context.Context, userID, sessionID, title string, expiresAt *time.Time) error {
	args := m.Called(ctx, userID, sessionID, title, expiresAt)
	return args.Error(0)
}

func (m *MockSessionRepository) FinishQuery(ctx context.Context, userID, sessionID string, status domain.QueryStatus, reason, latestMessageID string) error {
	args := m.Called(ctx, userID, sessionID, status, reason, latestMessageID)
	return args.Error(0)
}

func (m *MockSessionRepository) UpdateDeliveryStatus(ctx context.Context, userID, sessionID string, status domain.DeliveryStatus) error {
	args := m.Called(ctx, userID, sessionID, status)
	return args.Error(0)
}

func (m *MockSessionRepository) BindConnection(ctx context.Context, userID, sessionID, connectionID string, at time.Time) error {
	args := m.Called(ctx, userID, sessionID, connectionID, at)
	return args.Error(0)
}

func (m *MockSessionRepository) ReleaseConnection(ctx context.Context, connectionID string, at time.Time) (*domain.Session, error) {
	args := m.Called(ctx, connectionID, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) AttachFile(ctx context.Context, userID, sessionID, name string) error {
	args := m.Called(ctx, userID, sessionID, name)
	return args.Error(0)
}

func (m *MockSessionRepository) DetachFile(ctx context.Context, userID, sessionID, name string) error {
	args := m.Called(ctx, userID, sessionID, name)
	return args.Error(0)
}

func (m *MockSessionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Session, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Session), args.Error(1)
}

// MockMessageRepository mocks the MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Append(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepository) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockMessageRepository) Get(ctx context.Context, sessionID, messageID string) ([]domain.Message, error) {
	args := m.Called(ctx, sessionID, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockMessageRepository) Exists(ctx context.Context, sessionID, messageID string, t domain.MessageType) (bool, error) {
	args := m.Called(ctx, sessionID, messageID, t)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepository) SetReviewFlag(ctx context.Context, sessionID, messageID string, required bool) error {
	args := m.Called(ctx, sessionID, messageID, required)
	return args.Error(0)
}

func (m *MockMessageRepository) DeleteSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// MockWorkspaceRepository mocks the WorkspaceRepository interface
type MockWorkspaceRepository struct {
	mock.Mock
}

func (m *MockWorkspaceRepository) Create(ctx context.Context, w *domain.Workspace) error {
	args := m.Called(ctx, w)
	return args.Error(0)
}

func (m *MockWorkspaceRepository) Get(ctx context.Context, id string) (*domain.Workspace, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Workspace), args.Error(1)
}

func (m *MockWorkspaceRepository) GetByName(ctx context.Context, name string) (*domain.Workspace, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Workspace), args.Error(1)
}

func (m *MockWorkspaceRepository) List(ctx context.Context, ids []string) ([]domain.Workspace, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Workspace), args.Error(1)
}

func (m *MockWorkspaceRepository) Update(ctx context.Context, w *domain.Workspace) error {
	args := m.Called(ctx, w)
	return args.Error(0)
}

func (m *MockWorkspaceRepository) UpdateStatus(ctx context.Context, id string, status domain.WorkspaceStatus, message string) error {
	args := m.Called(ctx, id, status, message)
	return args.Error(0)
}

func (m *MockWorkspaceRepository) UpdateSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockWorkspaceRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockDocumentRepository mocks the DocumentRepository interface
type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDocumentRepository) CreateBatch(ctx context.Context, docs []domain.Document) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

func (m *MockDocumentRepository) Get(ctx context.Context, workspaceID, documentID string) (*domain.Document, error) {
	args := m.Called(ctx, workspaceID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) List(ctx context.Context, workspaceID string, t domain.DocumentType) ([]domain.Document, error) {
	args := m.Called(ctx, workspaceID, t)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) Update(ctx context.Context, d *domain.Document) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, workspaceID, documentID string) error {
	args := m.Called(ctx, workspaceID, documentID)
	return args.Error(0)
}

func (m *MockDocumentRepository) DeleteByWorkspace(ctx context.Context, workspaceID string) error {
	args := m.Called(ctx, workspaceID)
	return args.Error(0)
}

func (m *MockDocumentRepository) CountByType(ctx context.Context, workspaceID string) (map[domain.DocumentType]int, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.DocumentType]int), args.Error(1)
}

// MockRunRepository mocks the RunRepository interface
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Create(ctx context.Context, r *domain.WorkspaceRun) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRunRepository) Get(ctx context.Context, workspaceID, runID string) (*domain.WorkspaceRun, error) {
	args := m.Called(ctx, workspaceID, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WorkspaceRun), args.Error(1)
}

func (m *MockRunRepository) List(ctx context.Context, workspaceID string) ([]domain.WorkspaceRun, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.WorkspaceRun), args.Error(1)
}

func (m *MockRunRepository) Update(ctx context.Context, r *domain.WorkspaceRun) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRunRepository) InProgress(ctx context.Context, workspaceID string) ([]domain.WorkspaceRun, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.WorkspaceRun), args.Error(1)
}

func (m *MockRunRepository) DeleteByWorkspace(ctx context.Context, workspaceID string) error {
	args := m.Called(ctx, workspaceID)
	return args.Error(0)
}

// MockUserRepository mocks the UserRepository interface
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepository) Get(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) List(ctx context.Context) ([]domain.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.User), args.Error(1)
}

func (m *MockUserRepository) Update(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepository) BeginRoleChange(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUserRepository) FinishRoleChange(ctx context.Context, id string, role domain.Role) error {
	args := m.Called(ctx, id, role)
	return args.Error(0)
}

// MockModelRepository mocks the ModelRepository interface
type MockModelRepository struct {
	mock.Mock
}

func (m *MockModelRepository) Get(ctx context.Context, id string) (*domain.Model, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Model), args.Error(1)
}

func (m *MockModelRepository) List(ctx context.Context) ([]domain.Model, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Model), args.Error(1)
}

func (m *MockModelRepository) Upsert(ctx context.Context, model *domain.Model) error {
	args := m.Called(ctx, model)
	return args.Error(0)
}

// MockChatbotRepository mocks the ChatbotRepository interface
type MockChatbotRepository struct {
	mock.Mock
}

func (m *MockChatbotRepository) Create(ctx context.Context, c *domain.Chatbot) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockChatbotRepository) Get(ctx context.Context, id string) (*domain.Chatbot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chatbot), args.Error(1)
}

func (m *MockChatbotRepository) GetByName(ctx context.Context, name string) (*domain.Chatbot, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chatbot), args.Error(1)
}

func (m *MockChatbotRepository) List(ctx context.Context, ids []string) ([]domain.Chatbot, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Chatbot), args.Error(1)
}

func (m *MockChatbotRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.Chatbot, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Chatbot), args.Error(1)
}

func (m *MockChatbotRepository) Update(ctx context.Context, c *domain.Chatbot) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockChatbotRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockAgentRepository mocks the AgentRepository interface
type MockAgentRepository struct {
	mock.Mock
}

func (m *MockAgentRepository) Create(ctx context.Context, a *domain.Agent) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockAgentRepository) Get(ctx context.Context, id string) (*domain.Agent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Agent), args.Error(1)
}

func (m *MockAgentRepository) GetByName(ctx context.Context, name string) (*domain.Agent, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Agent), args.Error(1)
}

func (m *MockAgentRepository) List(ctx context.Context, ids []string) ([]domain.Agent, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Agent), args.Error(1)
}

func (m *MockAgentRepository) Update(ctx context.Context, a *domain.Agent) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockAgentRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAgentRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.Agent, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Agent), args.Error(1)
}

func (m *MockAgentRepository) ListByActionGroup(ctx context.Context, actionGroupID string) ([]domain.Agent, error) {
	args := m.Called(ctx, actionGroupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Agent), args.Error(1)
}

// MockActionGroupRepository mocks the ActionGroupRepository interface
type MockActionGroupRepository struct {
	mock.Mock
}

func (m *MockActionGroupRepository) Create(ctx context.Context, g *domain.ActionGroup) error {
	args := m.Called(ctx, g)
	return args.Error(0)
}

func (m *MockActionGroupRepository) Get(ctx context.Context, id string) (*domain.ActionGroup, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ActionGroup), args.Error(1)
}

func (m *MockActionGroupRepository) GetByName(ctx context.Context, name string) (*domain.ActionGroup, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ActionGroup), args.Error(1)
}

func (m *MockActionGroupRepository) List(ctx context.Context, ids []string) ([]domain.ActionGroup, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ActionGroup), args.Error(1)
}

func (m *MockActionGroupRepository) ListSystemGenerated(ctx context.Context) ([]domain.ActionGroup, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ActionGroup), args.Error(1)
}

func (m *MockActionGroupRepository) ListByLibrary(ctx context.Context, libraryID string) ([]domain.ActionGroup, error) {
	args := m.Called(ctx, libraryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ActionGroup), args.Error(1)
}

func (m *MockActionGroupRepository) Update(ctx context.Context, g *domain.ActionGroup) error {
	args := m.Called(ctx, g)
	return args.Error(0)
}

func (m *MockActionGroupRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockLibraryRepository mocks the LibraryRepository interface
type MockLibraryRepository struct {
	mock.Mock
}

func (m *MockLibraryRepository) Create(ctx context.Context, l *domain.Library) error {
	args := m.Called(ctx, l)
	return args.Error(0)
}

func (m *MockLibraryRepository) Get(ctx context.Context, id string) (*domain.Library, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Library), args.Error(1)
}

func (m *MockLibraryRepository) GetByName(ctx context.Context, name string) (*domain.Library, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Library), args.Error(1)
}

func (m *MockLibraryRepository) List(ctx context.Context, ids []string) ([]domain.Library, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Library), args.Error(1)
}

func (m *MockLibraryRepository) Update(ctx context.Context, l *domain.Library) error {
	args := m.Called(ctx, l)
	return args.Error(0)
}

func (m *MockLibraryRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockGroupRepository mocks the GroupRepository interface
type MockGroupRepository struct {
	mock.Mock
}

func (m *MockGroupRepository) Create(ctx context.Context, g *domain.Group) error {
	args := m.Called(ctx, g)
	return args.Error(0)
}

func (m *MockGroupRepository) Get(ctx context.Context, id string) (*domain.Group, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Group), args.Error(1)
}

func (m *MockGroupRepository) ListForUser(ctx context.Context, userID string) ([]domain.Group, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Group), args.Error(1)
}

func (m *MockGroupRepository) Update(ctx context.Context, g *domain.Group) error {
	args := m.Called(ctx, g)
	return args.Error(0)
}

func (m *MockGroupRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockGroupRepository) DefaultGroup(ctx context.Context, userID string, access domain.AccessType) (*domain.Group, error) {
	args := m.Called(ctx, userID, access)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Group), args.Error(1)
}

func (m *MockGroupRepository) AddResource(ctx context.Context, groupID string, kind domain.ResourceKind, resourceID string) error {
	args := m.Called(ctx, groupID, kind, resourceID)
	return args.Error(0)
}

func (m *MockGroupRepository) RemoveResource(ctx context.Context, kind domain.ResourceKind, resourceID string) error {
	args := m.Called(ctx, kind, resourceID)
	return args.Error(0)
}

func (m *MockGroupRepository) Access(ctx context.Context, userID string, kind domain.ResourceKind, resourceID string) (domain.AccessType, error) {
	args := m.Called(ctx, userID, kind, resourceID)
	return args.Get(0).(domain.AccessType), args.Error(1)
}

func (m *MockGroupRepository) ResourceIDs(ctx context.Context, userID string, kind domain.ResourceKind) ([]string, error) {
	args := m.Called(ctx, userID, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockObjectStore mocks the cloud.ObjectStore interface
type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	args := m.Called(ctx, bucket, key, body, contentType)
	return args.Error(0)
}

func (m *MockObjectStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockObjectStore) Delete(ctx context.Context, bucket, key string) error {
	args := m.Called(ctx, bucket, key)
	return args.Error(0)
}

func (m *MockObjectStore) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	args := m.Called(ctx, bucket, prefix)
	return args.Error(0)
}

func (m *MockObjectStore) List(ctx context.Context, bucket, prefix string) ([]cloud.Object, error) {
	args := m.Called(ctx, bucket, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cloud.Object), args.Error(1)
}

func (m *MockObjectStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	args := m.Called(ctx, srcBucket, srcKey, dstBucket, dstKey)
	return args.Error(0)
}

func (m *MockObjectStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, bucket, key, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockObjectStore) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, bucket, key, ttl)
	return args.String(0), args.Error(1)
}

// MockKnowledgeBases mocks the cloud.KnowledgeBases interface
type MockKnowledgeBases struct {
	mock.Mock
}

func (m *MockKnowledgeBases) CreateKnowledgeBase(ctx context.Context, spec cloud.KnowledgeBaseSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockKnowledgeBases) DeleteKnowledgeBase(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockKnowledgeBases) CreateDataSource(ctx context.Context, spec cloud.DataSourceSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockKnowledgeBases) StartIngestion(ctx context.Context, knowledgeBaseID, dataSourceID string) (*cloud.IngestionJob, error) {
	args := m.Called(ctx, knowledgeBaseID, dataSourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cloud.IngestionJob), args.Error(1)
}

func (m *MockKnowledgeBases) GetIngestion(ctx context.Context, knowledgeBaseID, dataSourceID, jobID string) (*cloud.IngestionJob, error) {
	args := m.Called(ctx, knowledgeBaseID, dataSourceID, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cloud.IngestionJob), args.Error(1)
}

func (m *MockKnowledgeBases) Retrieve(ctx context.Context, knowledgeBaseID, query string, topK int) ([]cloud.RetrievalResult, error) {
	args := m.Called(ctx, knowledgeBaseID, query, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cloud.RetrievalResult), args.Error(1)
}

// MockAgents mocks the cloud.Agents interface
type MockAgents struct {
	mock.Mock
}

func (m *MockAgents) CreateAgent(ctx context.Context, spec cloud.AgentSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockAgents) GetAgent(ctx context.Context, ref string) (*cloud.AgentState, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cloud.AgentState), args.Error(1)
}

func (m *MockAgents) PrepareAgent(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockAgents) DeleteAgent(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockAgents) CreateAlias(ctx context.Context, ref, name string) (string, error) {
	args := m.Called(ctx, ref, name)
	return args.String(0), args.Error(1)
}

func (m *MockAgents) UpdateAlias(ctx context.Context, ref, aliasID, name string) error {
	args := m.Called(ctx, ref, aliasID, name)
	return args.Error(0)
}

func (m *MockAgents) GetAlias(ctx context.Context, ref, aliasID string) (*cloud.AliasState, error) {
	args := m.Called(ctx, ref, aliasID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cloud.AliasState), args.Error(1)
}

func (m *MockAgents) DeleteVersion(ctx context.Context, ref, version string) error {
	args := m.Called(ctx, ref, version)
	return args.Error(0)
}

func (m *MockAgents) AssociateKnowledgeBase(ctx context.Context, ref, knowledgeBaseID, description string) error {
	args := m.Called(ctx, ref, knowledgeBaseID, description)
	return args.Error(0)
}

func (m *MockAgents) DisassociateKnowledgeBase(ctx context.Context, ref, knowledgeBaseID string) error {
	args := m.Called(ctx, ref, knowledgeBaseID)
	return args.Error(0)
}

func (m *MockAgents) CreateActionGroup(ctx context.Context, ref string, spec cloud.ActionGroupSpec) (string, error) {
	args := m.Called(ctx, ref, spec)
	return args.String(0), args.Error(1)
}

func (m *MockAgents) DeleteActionGroup(ctx context.Context, ref, groupRef, name string) error {
	args := m.Called(ctx, ref, groupRef, name)
	return args.Error(0)
}

func (m *MockAgents) Invoke(ctx context.Context, req cloud.InvokeRequest) (<-chan cloud.AgentEvent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan cloud.AgentEvent), args.Error(1)
}

// MockFunctions mocks the cloud.Functions interface
type MockFunctions struct {
	mock.Mock
}

func (m *MockFunctions) CreateFunction(ctx context.Context, spec cloud.FunctionSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockFunctions) UpdateFunctionCode(ctx context.Context, name, bucket, key string) error {
	args := m.Called(ctx, name, bucket, key)
	return args.Error(0)
}

func (m *MockFunctions) UpdateFunctionConfiguration(ctx context.Context, name, handler string, layers []string) error {
	args := m.Called(ctx, name, handler, layers)
	return args.Error(0)
}

func (m *MockFunctions) DeleteFunction(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockFunctions) PublishLayer(ctx context.Context, name, bucket, key, runtime string) (string, int64, error) {
	args := m.Called(ctx, name, bucket, key, runtime)
	return args.String(0), args.Get(1).(int64), args.Error(2)
}

func (m *MockFunctions) PruneLayer(ctx context.Context, name string, keep int64) error {
	args := m.Called(ctx, name, keep)
	return args.Error(0)
}

// MockRoles mocks the cloud.Roles interface
type MockRoles struct {
	mock.Mock
}

func (m *MockRoles) EnsureRole(ctx context.Context, kind cloud.RoleKind, name string) (string, error) {
	args := m.Called(ctx, kind, name)
	return args.String(0), args.Error(1)
}

func (m *MockRoles) DeleteRole(ctx context.Context, handle string) error {
	args := m.Called(ctx, handle)
	return args.Error(0)
}

// MockPublisher mocks the task.Publisher interface
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, env task.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

// MockPusher mocks the Pusher interface
type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) Push(ctx context.Context, connectionID string, payload any) error {
	args := m.Called(ctx, connectionID, payload)
	return args.Error(0)
}

// MockRetriever mocks the Retriever interface
type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, ws *domain.Workspace, principal *retriever.Principal, query string) (*retriever.Result, error) {
	args := m.Called(ctx, ws, principal, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retriever.Result), args.Error(1)
}

// MockFileLoader mocks the FileLoader interface
type MockFileLoader struct {
	mock.Mock
}

func (m *MockFileLoader) Load(ctx context.Context, userID, sessionID, name string, maxChars int) (*retriever.Document, error) {
	args := m.Called(ctx, userID, sessionID, name, maxChars)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retriever.Document), args.Error(1)
}

// MockAgentInvoker mocks the AgentInvoker interface
type MockAgentInvoker struct {
	mock.Mock
}

func (m *MockAgentInvoker) Invoke(ctx context.Context, in AgentInvocation) (<-chan cloud.AgentEvent, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan cloud.AgentEvent), args.Error(1)
}

// MockRateLimiter mocks the RateLimiter interface
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) Allow(ctx context.Context, scope, principal string) (redis.Decision, error) {
	args := m.Called(ctx, scope, principal)
	return args.Get(0).(redis.Decision), args.Error(1)
}

// MockSchedules mocks the Schedules interface
type MockSchedules struct {
	mock.Mock
}

func (m *MockSchedules) Put(ctx context.Context, name, expression, workspaceID string) error {
	args := m.Called(ctx, name, expression, workspaceID)
	return args.Error(0)
}

func (m *MockSchedules) Remove(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// MockVectorTables mocks the VectorTables interface
type MockVectorTables struct {
	mock.Mock
}

func (m *MockVectorTables) CreateTable(ctx context.Context, table string, dimension int) error {
	args := m.Called(ctx, table, dimension)
	return args.Error(0)
}

func (m *MockVectorTables) DropTable(ctx context.Context, table string) error {
	args := m.Called(ctx, table)
	return args.Error(0)
}

func (m *MockVectorTables) Count(ctx context.Context, table string) (int64, error) {
	args := m.Called(ctx, table)
	return args.Get(0).(int64), args.Error(1)
}

// MockDataPlane mocks the DataPlane interface
type MockDataPlane struct {
	mock.Mock
}

func (m *MockDataPlane) ListDomains(ctx context.Context, cred dataplane.Credential) ([]dataplane.Domain, error) {
	args := m.Called(ctx, cred)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dataplane.Domain), args.Error(1)
}

func (m *MockDataPlane) ListTenants(ctx context.Context, cred dataplane.Credential) ([]dataplane.Tenant, error) {
	args := m.Called(ctx, cred)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dataplane.Tenant), args.Error(1)
}

func (m *MockDataPlane) ListRoles(ctx context.Context, cred dataplane.Credential, userID string) ([]dataplane.Role, error) {
	args := m.Called(ctx, cred, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dataplane.Role), args.Error(1)
}

func (m *MockDataPlane) ListDatasets(ctx context.Context, cred dataplane.Credential, domainName string) ([]dataplane.Dataset, error) {
	args := m.Called(ctx, cred, domainName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dataplane.Dataset), args.Error(1)
}

func (m *MockDataPlane) GetDataset(ctx context.Context, cred dataplane.Credential, datasetID string) (*dataplane.Dataset, error) {
	args := m.Called(ctx, cred, datasetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dataplane.Dataset), args.Error(1)
}

func (m *MockDataPlane) CreateDataset(ctx context.Context, cred dataplane.Credential, in dataplane.CreateDatasetInput) (*dataplane.Dataset, error) {
	args := m.Called(ctx, cred, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dataplane.Dataset), args.Error(1)
}

func (m *MockDataPlane) ListFiles(ctx context.Context, cred dataplane.Credential, datasetID string) ([]dataplane.File, error) {
	args := m.Called(ctx, cred, datasetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dataplane.File), args.Error(1)
}

func (m *MockDataPlane) UploadFile(ctx context.Context, cred dataplane.Credential, datasetID, name string, body io.Reader) (string, error) {
	args := m.Called(ctx, cred, datasetID, name, body)
	return args.String(0), args.Error(1)
}

func (m *MockDataPlane) Identify(ctx context.Context, cred dataplane.Credential) (*dataplane.Identity, error) {
	args := m.Called(ctx, cred)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dataplane.Identity), args.Error(1)
}

// MockCrawler mocks the Crawler interface
type MockCrawler struct {
	mock.Mock
}

func (m *MockCrawler) Discover(ctx context.Context, seed string, followLinks bool, limit int, progress func([]string)) ([]string, error) {
	args := m.Called(ctx, seed, followLinks, limit, progress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCrawler) Fetch(ctx context.Context, rawURL string) (*crawler.Page, error) {
	args := m.Called(ctx, rawURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*crawler.Page), args.Error(1)
}

// MockProvider mocks the llm.Provider interface
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockProvider) IsConfigured() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}

func (m *MockProvider) Stream(ctx context.Context, req llm.Request) (*llm.Stream, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Stream), args.Error(1)
}

// MockProviders mocks the Providers interface
type MockProviders struct {
	mock.Mock
}

func (m *MockProviders) GetProvider(name string) (llm.Provider, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(llm.Provider), args.Error(1)
}
