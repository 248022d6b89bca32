// Package bootstrap connects the stores and clients named by the
// configuration and builds the application services shared by the server,
// gateway and worker binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	awsclients "github.com/Rrens/genai-platform/internal/cloud/aws"
	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/crawler"
	"github.com/Rrens/genai-platform/internal/dataplane"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/llm"
	"github.com/Rrens/genai-platform/internal/llm/bedrock"
	"github.com/Rrens/genai-platform/internal/llm/gemini"
	"github.com/Rrens/genai-platform/internal/llm/openai"
	"github.com/Rrens/genai-platform/internal/repository/mongo"
	"github.com/Rrens/genai-platform/internal/repository/postgres"
	"github.com/Rrens/genai-platform/internal/repository/redis"
	"github.com/Rrens/genai-platform/internal/retriever"
	"github.com/Rrens/genai-platform/internal/scheduler"
	"github.com/Rrens/genai-platform/internal/security"
	"github.com/Rrens/genai-platform/internal/service"
	"github.com/Rrens/genai-platform/internal/task"
	"github.com/rs/zerolog/log"
)

// connectionTTL bounds how long an idle WebSocket registration survives.
const connectionTTL = 2 * time.Hour

// Services are the application services behind every entrypoint.
type Services struct {
	Users        *service.UserService
	Groups       *service.GroupService
	Models       *service.ModelService
	Sessions     *service.SessionService
	Workspaces   *service.WorkspaceService
	Documents    *service.DocumentService
	Chatbots     *service.ChatbotService
	Agents       *service.AgentService
	ActionGroups *service.ActionGroupService
	Libraries    *service.LibraryService
}

// App holds the connected infrastructure and the services built on it.
type App struct {
	Config *config.Config

	DB          *postgres.DB
	Redis       *redis.Client
	Queue       *task.Queue
	Mongo       *mongo.MessageRepository
	Cloud       *awsclients.Clients
	Providers   *llm.Router
	Embedder    llm.Embedder
	DataPlane   *dataplane.Client
	JWT         *security.JWTManager
	RateLimiter *redis.RateLimiter
	Connections *redis.ConnectionRegistry
	Scheduler   *scheduler.Scheduler

	// Dispatcher routes fan-out tasks to their handlers. Every service that
	// owns a task kind is registered on it.
	Dispatcher *task.Dispatcher
	// Publisher is the RabbitMQ queue, or an in-process runner when no
	// broker URL is configured.
	Publisher task.Publisher

	Services Services

	sessionRepo   domain.SessionRepository
	messageRepo   domain.MessageRepository
	workspaceRepo domain.WorkspaceRepository
	chatbotRepo   domain.ChatbotRepository
	documentRepo  *postgres.DocumentRepository
	vectors       *postgres.VectorStore

	StartedAt time.Time
}

// New connects every store named by cfg and builds the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg, StartedAt: time.Now(), Dispatcher: task.NewDispatcher()}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.DB = db

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	app.Redis = redisClient

	if cfg.RabbitMQ.URL != "" {
		queue, err := task.Dial(ctx, cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		app.Queue = queue
		app.Publisher = queue
	} else {
		log.Warn().Msg("No RabbitMQ URL configured, running tasks in-process")
		app.Publisher = task.NewInline(ctx, app.Dispatcher)
	}

	cloudClients, err := awsclients.New(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	app.Cloud = cloudClients

	if err := app.initProviders(ctx); err != nil {
		return nil, err
	}

	encryptor, err := security.NewEncryptorFromBase64(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to init encryptor: %w", err)
	}

	app.JWT = security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL)
	app.DataPlane = dataplane.NewClient(cfg.DataPlane)
	app.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Security.RateLimit.RequestsPerMinute, cfg.Security.RateLimit.Burst)
	app.Connections = redis.NewConnectionRegistry(redisClient, connectionTTL)

	if err := app.initHistory(ctx); err != nil {
		return nil, err
	}

	app.buildServices(encryptor)
	ok = true
	return app, nil
}

func (a *App) initProviders(ctx context.Context) error {
	cfg := a.Config
	a.Providers = llm.NewRouter()

	br, err := bedrock.NewProvider(ctx, cfg.AWS.Region, cfg.AWS.MaxRetries)
	if err != nil {
		return fmt.Errorf("failed to init bedrock provider: %w", err)
	}
	a.Providers.RegisterProvider(br)
	a.Embedder = br

	a.Providers.RegisterProvider(openai.NewProvider(cfg.LLM.OpenAI.BaseURL, cfg.LLM.OpenAI.Timeout))

	if cfg.LLM.Gemini.APIKey != "" {
		a.Providers.RegisterProvider(gemini.NewProvider(cfg.LLM.Gemini))
	} else {
		log.Warn().Msg("Gemini API key is empty, skipping registration")
	}

	log.Info().Strs("providers", a.Providers.ListProviders()).Msg("Registered inference providers")
	return nil
}

// initHistory selects the message log backend and puts the redis window
// cache in front of it.
func (a *App) initHistory(ctx context.Context) error {
	var messages domain.MessageRepository
	switch a.Config.History.Backend {
	case "mongo":
		repo, err := mongo.Connect(ctx, a.Config.Mongo)
		if err != nil {
			return fmt.Errorf("failed to connect to mongo: %w", err)
		}
		a.Mongo = repo
		messages = repo
	case "", "postgres":
		messages = postgres.NewMessageRepository(a.DB)
	default:
		return fmt.Errorf("unknown history backend %q", a.Config.History.Backend)
	}

	if a.Config.History.CacheTTL > 0 {
		messages = redis.NewCachedMessageRepository(messages, a.Redis, a.Config.History.CacheTTL)
	}
	a.messageRepo = messages
	return nil
}

func (a *App) buildServices(encryptor *security.Encryptor) {
	cfg := a.Config

	userRepo := postgres.NewUserRepository(a.DB)
	groupRepo := postgres.NewGroupRepository(a.DB)
	modelRepo := postgres.NewModelRepository(a.DB)
	runRepo := postgres.NewRunRepository(a.DB)
	agentRepo := postgres.NewAgentRepository(a.DB)
	actionGroupRepo := postgres.NewActionGroupRepository(a.DB)
	libraryRepo := postgres.NewLibraryRepository(a.DB)
	scheduleRepo := postgres.NewScheduleRepository(a.DB)
	a.sessionRepo = postgres.NewSessionRepository(a.DB)
	a.workspaceRepo = postgres.NewWorkspaceRepository(a.DB)
	a.chatbotRepo = postgres.NewChatbotRepository(a.DB)
	a.documentRepo = postgres.NewDocumentRepository(a.DB)
	a.vectors = postgres.NewVectorStore(a.DB)

	a.Scheduler = scheduler.New(scheduleRepo, a.Publisher)

	groups := service.NewGroupService(groupRepo)
	models := service.NewModelService(modelRepo, a.Providers)
	users := service.NewUserService(userRepo, groups, a.DataPlane, encryptor)
	sessions := service.NewSessionService(
		a.sessionRepo,
		a.messageRepo,
		a.Cloud.Objects,
		users,
		a.DataPlane,
		cfg.AWS.SessionsBucket,
		cfg.AWS.PresignTTL,
	)
	workspaces := service.NewWorkspaceService(service.WorkspaceDeps{
		WorkspaceRepo:  a.workspaceRepo,
		DocumentRepo:   a.documentRepo,
		RunRepo:        runRepo,
		ChatbotRepo:    a.chatbotRepo,
		AgentRepo:      agentRepo,
		Models:         models,
		Users:          users,
		Groups:         groups,
		DataPlane:      a.DataPlane,
		KnowledgeBases: a.Cloud.KnowledgeBases,
		Roles:          a.Cloud.Roles,
		Objects:        a.Cloud.Objects,
		Vectors:        a.vectors,
		Schedules:      a.Scheduler,
		Publisher:      a.Publisher,
	}, cfg.Workspace, cfg.AWS, cfg.Project)
	documents := service.NewDocumentService(
		a.documentRepo,
		workspaces,
		a.DataPlane,
		crawler.New(cfg.Workspace.CrawlTimeout),
		a.Publisher,
		cfg.Workspace,
	)
	chatbots := service.NewChatbotService(a.chatbotRepo, a.workspaceRepo, a.sessionRepo, a.messageRepo, sessions, models, groups)
	agents := service.NewAgentService(service.AgentDeps{
		AgentRepo:       agentRepo,
		ActionGroupRepo: actionGroupRepo,
		WorkspaceRepo:   a.workspaceRepo,
		Agents:          a.Cloud.Agents,
		Roles:           a.Cloud.Roles,
		Groups:          groups,
	}, cfg.Agent, cfg.AWS, cfg.Project)
	actionGroups := service.NewActionGroupService(service.ActionGroupDeps{
		ActionGroupRepo: actionGroupRepo,
		LibraryRepo:     libraryRepo,
		AgentRepo:       agentRepo,
		Objects:         a.Cloud.Objects,
		Functions:       a.Cloud.Functions,
		Roles:           a.Cloud.Roles,
		Groups:          groups,
		Publisher:       a.Publisher,
	}, cfg.AWS, cfg.Project)
	libraries := service.NewLibraryService(libraryRepo, actionGroupRepo, a.Cloud.Objects, groups, a.Publisher, cfg.AWS)

	workspaces.Register(a.Dispatcher)
	documents.Register(a.Dispatcher)
	actionGroups.Register(a.Dispatcher)
	sessions.Register(a.Dispatcher)

	a.Services = Services{
		Users:        users,
		Groups:       groups,
		Models:       models,
		Sessions:     sessions,
		Workspaces:   workspaces,
		Documents:    documents,
		Chatbots:     chatbots,
		Agents:       agents,
		ActionGroups: actionGroups,
		Libraries:    libraries,
	}
}

// ChatService builds the conversation orchestrator around pusher.
func (a *App) ChatService(pusher service.Pusher) *service.ChatService {
	return service.NewChatService(service.ChatDeps{
		Sessions:      a.Services.Sessions,
		SessionRepo:   a.sessionRepo,
		MessageRepo:   a.messageRepo,
		WorkspaceRepo: a.workspaceRepo,
		ChatbotRepo:   a.chatbotRepo,
		Models:        a.Services.Models,
		Users:         a.Services.Users,
		Groups:        a.Services.Groups,
		Retriever: retriever.NewWorkspaceRetriever(
			a.Cloud.KnowledgeBases,
			a.vectors,
			a.Embedder,
			a.DataPlane,
			a.documentRepo,
			a.Config.Chat.RetrievalTopK,
		),
		Files:   retriever.NewSessionFileRetriever(a.Cloud.Objects, a.Config.AWS.SessionsBucket),
		Agents:  a.Services.Agents,
		Pusher:  pusher,
		Limiter: a.RateLimiter,
	}, a.Config.Chat)
}

// Close releases every connection the app opened.
func (a *App) Close() error {
	var errs []error
	if inline, ok := a.Publisher.(*task.Inline); ok {
		inline.Wait()
	}
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.Mongo.Close(ctx))
		cancel()
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		a.DB.Close()
	}
	return errors.Join(errs...)
}
