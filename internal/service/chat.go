package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/llm"
	"github.com/Rrens/genai-platform/internal/retriever"
	"github.com/Rrens/genai-platform/internal/task"
	"github.com/Rrens/genai-platform/internal/transport/ws"
	"github.com/rs/zerolog/log"
)

const (
	greetingReply = "Hello! How can I assist you today?"
	thanksReply   = "You're welcome! Let me know if there is anything else I can help you with."

	timeoutReason    = "Timed out"
	rateLimitScope   = "sendmessage"
	pushQueueSize    = 256
	finalizeTimeout  = 15 * time.Second
	defaultGroupSize = 40
)

// Messages shown to the user when a turn fails.
const (
	msgNoDocuments     = "Sorry, I could not find any relevant information to answer your question."
	msgFailed          = "Apologies, failed to process query. Please try again later."
	msgModelFailure    = "Apologies, the model failed to generate a response. Please try again later."
	msgFileTooBig      = "The file is too large for the selected model. Please use a smaller file or a model with a larger context window."
	msgInvalidAPIKey   = "The API key for the selected model provider is missing or invalid."
	msgModelAccess     = "You do not have access to the selected model."
	msgUnsupportedFile = "The file type is not supported."
	msgTimeout         = "Apologies, failed to process query due to timeout."
)

var (
	errNoDocuments  = errors.New("no documents retrieved")
	errModelFailure = errors.New("model invocation failed")
	errNoResponse   = errors.New("no response")
)

var greetings = map[string]bool{
	"hi": true, "hii": true, "hello": true, "hey": true, "hi there": true, "hello there": true,
	"hey there": true, "greetings": true, "good morning": true, "good afternoon": true,
	"good evening": true, "howdy": true,
}

var thanks = map[string]bool{
	"thanks": true, "thank you": true, "thanks a lot": true, "thank you so much": true,
	"many thanks": true, "thx": true, "ty": true, "thanks!": true, "thank you!": true,
}

// ChatRequest is the sendmessage payload.
type ChatRequest struct {
	SessionID      string          `json:"SessionId"`
	MessageID      string          `json:"MessageId"`
	ModelID        string          `json:"ModelId"`
	UserMessage    string          `json:"UserMessage"`
	WorkspaceID    string          `json:"WorkspaceId,omitempty"`
	AgentID        string          `json:"AgentId,omitempty"`
	ChatbotID      string          `json:"ChatbotId,omitempty"`
	AdvancedConfig *AdvancedConfig `json:"AdvancedConfig,omitempty"`
}

// AdvancedConfig carries per-turn overrides.
type AdvancedConfig struct {
	// OriginalFile answers from FileName instead of the workspace.
	OriginalFile bool       `json:"OriginalFileContext"`
	FileName     string     `json:"FileName,omitempty"`
	ModelKwargs  llm.Params `json:"ModelKwargs"`
}

// Push is a server message sent to the client during a turn.
type Push struct {
	AIMessage string       `json:"AIMessage,omitempty"`
	Metadata  PushMetadata `json:"Metadata"`
}

type PushMetadata struct {
	MessageID    string                     `json:"MessageId"`
	IsComplete   bool                       `json:"IsComplete"`
	ResponseTime int64                      `json:"ResponseTime,omitempty"`
	Sources      []domain.Source            `json:"Sources,omitempty"`
	Documents    []domain.RetrievedDocument `json:"documents,omitempty"`
	Mode         domain.Mode                `json:"mode,omitempty"`
	ModelID      string                     `json:"modelId,omitempty"`
	ModelKwargs  map[string]any             `json:"modelKwargs,omitempty"`
	WorkspaceID  string                     `json:"workspaceId,omitempty"`
}

// AgentInvocation is one agent turn.
type AgentInvocation struct {
	UserID             string
	AgentID            string
	SessionID          string
	Input              string
	DataPlaneConnected bool
}

// AgentInvoker runs agent turns.
type AgentInvoker interface {
	Invoke(ctx context.Context, in AgentInvocation) (<-chan cloud.AgentEvent, error)
}

// ChatService is the conversation orchestrator. It serves the WebSocket
// gateway and runs one pipeline per user turn.
type ChatService struct {
	sessions      *SessionService
	sessionRepo   domain.SessionRepository
	messageRepo   domain.MessageRepository
	workspaceRepo domain.WorkspaceRepository
	chatbotRepo   domain.ChatbotRepository
	models        *ModelService
	users         *UserService
	groups        *GroupService
	retriever     Retriever
	files         FileLoader
	agents        AgentInvoker
	pusher        Pusher
	limiter       RateLimiter
	cfg           config.ChatConfig
	now           func() time.Time
}

var _ ws.Handler = (*ChatService)(nil)

// ChatDeps groups the collaborators of the orchestrator.
type ChatDeps struct {
	Sessions      *SessionService
	SessionRepo   domain.SessionRepository
	MessageRepo   domain.MessageRepository
	WorkspaceRepo domain.WorkspaceRepository
	ChatbotRepo   domain.ChatbotRepository
	Models        *ModelService
	Users         *UserService
	Groups        *GroupService
	Retriever     Retriever
	Files         FileLoader
	Agents        AgentInvoker
	Pusher        Pusher
	// Limiter may be nil.
	Limiter RateLimiter
}

// NewChatService creates the orchestrator
func NewChatService(deps ChatDeps, cfg config.ChatConfig) *ChatService {
	if cfg.StreamGroupSize <= 0 {
		cfg.StreamGroupSize = defaultGroupSize
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = 16000
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	return &ChatService{
		sessions:      deps.Sessions,
		sessionRepo:   deps.SessionRepo,
		messageRepo:   deps.MessageRepo,
		workspaceRepo: deps.WorkspaceRepo,
		chatbotRepo:   deps.ChatbotRepo,
		models:        deps.Models,
		users:         deps.Users,
		groups:        deps.Groups,
		retriever:     deps.Retriever,
		files:         deps.Files,
		agents:        deps.Agents,
		pusher:        deps.Pusher,
		limiter:       deps.Limiter,
		cfg:           cfg,
		now:           time.Now,
	}
}

// Connect binds a new connection to its session. Embedded chatbot
// connections get their session created on first connect.
func (s *ChatService) Connect(ctx context.Context, req ws.ConnectRequest) error {
	userID := req.UserID
	if req.ChatbotID != "" {
		if _, err := s.chatbotRepo.Get(ctx, req.ChatbotID); err != nil {
			if notFound(err) {
				return domain.NotFoundf("chatbot %s not found", req.ChatbotID)
			}
			return domain.Storage(err, "failed to load chatbot")
		}
		userID = domain.ChatbotClientID(req.ChatbotID)
		if _, err := s.sessions.load(ctx, userID, req.SessionID); err != nil {
			if !domain.IsKind(err, domain.KindNotFound) {
				return err
			}
			if _, err := s.sessions.create(ctx, userID, req.SessionID, userID); err != nil &&
				!domain.IsKind(err, domain.KindConflict) {
				return err
			}
		}
	} else if _, err := s.sessions.load(ctx, userID, req.SessionID); err != nil {
		return err
	}

	if err := s.sessionRepo.BindConnection(ctx, userID, req.SessionID, req.ConnectionID, s.now().UTC()); err != nil {
		return domain.Storage(err, "failed to bind connection")
	}
	log.Info().Str("session_id", req.SessionID).Str("connection_id", req.ConnectionID).Msg("session connected")
	return nil
}

// Disconnect marks the connection end. An in-flight turn keeps running.
func (s *ChatService) Disconnect(ctx context.Context, connectionID string) error {
	if _, err := s.sessionRepo.ReleaseConnection(ctx, connectionID, s.now().UTC()); err != nil && !notFound(err) {
		return domain.Storage(err, "failed to release connection")
	}
	return nil
}

// SendMessage runs one turn for the session bound to connectionID.
func (s *ChatService) SendMessage(ctx context.Context, connectionID string, body []byte) error {
	var frame struct {
		Data ChatRequest `json:"data"`
	}
	if err := json.Unmarshal(body, &frame); err != nil {
		return s.reject(ctx, connectionID, "", domain.Invalid("malformed message"))
	}
	session, err := s.sessionRepo.GetByConnection(ctx, connectionID)
	if err != nil {
		if notFound(err) {
			err = domain.NotFoundf("no session is bound to connection %s", connectionID)
		} else {
			err = domain.Storage(err, "failed to load session")
		}
		return s.reject(ctx, connectionID, frame.Data.MessageID, err)
	}
	return s.Handle(ctx, connectionID, session, frame.Data)
}

// turn is the private state of one user turn.
type turn struct {
	req        ChatRequest
	connID     string
	userID     string
	callerID   string
	session    *domain.Session
	chatbot    *domain.Chatbot
	model      *ResolvedModel
	params     llm.Params
	credential string
	history    []llm.Turn
	started    time.Time
	out        *delivery

	humanSaved atomic.Bool
	settleOnce sync.Once

	stampMu  sync.Mutex
	lastTime time.Time
}

// stamp returns a message time later than every message the turn wrote.
func (t *turn) stamp(after func(time.Time) time.Time) time.Time {
	t.stampMu.Lock()
	defer t.stampMu.Unlock()
	t.lastTime = after(t.lastTime)
	return t.lastTime
}

// settle reports true to the first caller only; the winner writes the
// terminal state of the turn.
func (t *turn) settle() bool {
	won := false
	t.settleOnce.Do(func() { won = true })
	return won
}

func (t *turn) modelID() string {
	if t.model != nil {
		return t.model.Model.ID
	}
	return t.req.ModelID
}

// Handle runs the turn pipeline for req in session.
func (s *ChatService) Handle(ctx context.Context, connectionID string, session *domain.Session, req ChatRequest) error {
	t := &turn{
		req:      req,
		connID:   connectionID,
		userID:   session.UserID,
		callerID: session.UserID,
		session:  session,
		started:  s.now(),
	}

	// 1-2. Validate and resolve the model
	if err := s.prepare(ctx, t); err != nil {
		return s.reject(ctx, connectionID, req.MessageID, err)
	}

	t.out = newDelivery(ctx, s.pusher, connectionID)
	err := task.Guard(ctx, s.cfg.TurnBudget, s.cfg.SafetyMargin,
		func(ctx context.Context) error {
			return s.process(ctx, t)
		},
		func(ctx context.Context) {
			if t.settle() {
				s.abort(ctx, t, domain.E(domain.KindTimeout, task.ErrDeadline, "turn timed out"), timeoutReason)
			}
		},
	)
	if errors.Is(err, task.ErrDeadline) {
		return domain.E(domain.KindTimeout, err, "turn %s timed out", req.MessageID)
	}
	return err
}

func (s *ChatService) prepare(ctx context.Context, t *turn) error {
	req := &t.req
	if req.MessageID == "" {
		return domain.Invalid("MessageId is required")
	}
	if req.SessionID != "" && req.SessionID != t.session.ID {
		return domain.Invalid("SessionId does not match the connection")
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return domain.Invalid("UserMessage is required")
	}
	if utf8.RuneCountInString(req.UserMessage) > s.cfg.MaxMessageChars {
		return domain.Invalid("UserMessage exceeds %d characters", s.cfg.MaxMessageChars)
	}

	if s.limiter != nil {
		decision, err := s.limiter.Allow(ctx, rateLimitScope, t.userID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", t.userID).Msg("rate limiter unavailable")
		} else if !decision.Allowed {
			return domain.E(domain.KindQuotaExceeded, nil, "too many messages, retry after %s", decision.ResetAt.Format(time.RFC3339))
		}
	}

	exists, err := s.messageRepo.Exists(ctx, t.session.ID, req.MessageID, domain.MessageHuman)
	if err != nil {
		return domain.Storage(err, "failed to check message")
	}
	if exists {
		return domain.Conflict("message %s already exists", req.MessageID)
	}

	kind, target := domain.ParseClientID(t.session.ClientID)
	if kind == domain.ClientChatbot {
		if req.ChatbotID != "" && req.ChatbotID != target {
			return domain.Invalid("ChatbotId does not match the session")
		}
		bot, err := s.chatbotRepo.Get(ctx, target)
		if err != nil {
			if notFound(err) {
				return domain.NotFoundf("chatbot %s not found", target)
			}
			return domain.Storage(err, "failed to load chatbot")
		}
		t.chatbot = bot
		t.callerID = bot.CreatedBy
		req.WorkspaceID = bot.WorkspaceID
		req.ModelID = bot.ModelID
	}

	// Agent turns run on the agent's own model.
	if req.ModelID == "" && (kind == domain.ClientAgent || req.AgentID != "") {
		return nil
	}

	model, err := s.models.Resolve(ctx, req.ModelID)
	if err != nil {
		return err
	}
	t.model = model

	var kwargs llm.Params
	if req.AdvancedConfig != nil {
		kwargs = req.AdvancedConfig.ModelKwargs
	}
	t.params = kwargs.WithDefaults(model.Family)

	if model.Model.RequiresCredential {
		key, err := s.users.ProviderKey(ctx, t.callerID)
		if err != nil {
			return err
		}
		t.credential = key
	}
	return nil
}

func (s *ChatService) process(ctx context.Context, t *turn) error {
	req := t.req

	// 3. Move the session into processing
	err := s.sessionRepo.StartQuery(ctx, t.userID, t.session.ID, domain.SessionTitle(req.UserMessage),
		domain.IdleExpiry(t.session.ClientID, s.now()))
	if err != nil {
		if t.settle() {
			if !domain.IsKind(err, domain.KindConflict) && !domain.IsKind(err, domain.KindNotFound) {
				err = domain.Storage(err, "failed to start query")
			}
			s.pushFailure(ctx, t, err)
		}
		return err
	}

	// 7. Load history before this turn's message lands
	history, err := s.messageRepo.History(ctx, t.session.ID, s.cfg.HistoryWindow)
	if err != nil {
		return s.fail(ctx, t, domain.Storage(err, "failed to load history"))
	}
	t.history = toTurns(history)

	human := &domain.Message{
		SessionID: t.session.ID,
		MessageID: req.MessageID,
		Time:      s.now().UTC(),
		Type:      domain.MessageHuman,
		Data:      req.UserMessage,
		Metadata: domain.MessageMetadata{
			ModelID:     t.modelID(),
			WorkspaceID: req.WorkspaceID,
			AgentID:     req.AgentID,
		},
	}
	if err := s.messageRepo.Append(ctx, human); err != nil {
		return s.fail(ctx, t, domain.Storage(err, "failed to write message"))
	}
	t.stampMu.Lock()
	t.lastTime = human.Time
	t.stampMu.Unlock()
	t.humanSaved.Store(true)

	// 4. Triage
	if reply, ok := triage(req.UserMessage); ok {
		return s.complete(ctx, t, domain.ModeTrivial, &answer{text: reply})
	}

	// 5. Mode selection
	mode, err := s.selectMode(ctx, t)
	if err != nil {
		return s.fail(ctx, t, err)
	}

	log.Debug().
		Str("session_id", t.session.ID).
		Str("message_id", req.MessageID).
		Str("mode", string(mode.mode())).
		Msg("turn routed")

	// 6-9. Retrieval and generation
	ans, err := mode.run(ctx, s, t)
	if err != nil {
		return s.fail(ctx, t, err)
	}

	// 10. Persist and finalize
	return s.complete(ctx, t, mode.mode(), ans)
}

// triage matches canned replies on the literal message.
func triage(message string) (string, bool) {
	m := strings.ToLower(strings.TrimSpace(message))
	switch {
	case greetings[m]:
		return greetingReply, true
	case thanks[m]:
		return thanksReply, true
	}
	return "", false
}

func toTurns(messages []domain.Message) []llm.Turn {
	turns := make([]llm.Turn, 0, len(messages))
	for _, m := range messages {
		if m.Type == domain.MessageAI && (m.Metadata.Failed || m.Data == "") {
			continue
		}
		turns = append(turns, llm.Turn{Human: m.Type == domain.MessageHuman, Text: m.Data})
	}
	return turns
}

func (s *ChatService) selectMode(ctx context.Context, t *turn) (turnMode, error) {
	req := t.req
	if cfg := req.AdvancedConfig; cfg != nil && cfg.OriginalFile && cfg.FileName != "" {
		return fileQA{fileName: cfg.FileName}, nil
	}

	if req.WorkspaceID != "" {
		workspace, err := s.workspaceRepo.Get(ctx, req.WorkspaceID)
		if err != nil {
			if notFound(err) {
				return nil, domain.NotFoundf("workspace %s not found", req.WorkspaceID)
			}
			return nil, domain.Storage(err, "failed to load workspace")
		}
		if workspace.Status != domain.WorkspaceActive {
			return nil, domain.Invalid("workspace %s is not active", workspace.ID)
		}
		if t.chatbot != nil {
			return workspaceQA{workspace: workspace}, nil
		}
		if err := s.groups.Authorize(ctx, t.userID, domain.ResourceWorkspace, workspace.ID, false); err != nil {
			return nil, err
		}
		principal, err := s.principal(ctx, t.userID, workspace)
		if err != nil {
			return nil, err
		}
		return workspaceQA{workspace: workspace, principal: principal}, nil
	}

	agentID := req.AgentID
	if kind, target := domain.ParseClientID(t.session.ClientID); kind == domain.ClientAgent {
		agentID = target
	}
	if agentID != "" {
		return agentTurn{agentID: agentID}, nil
	}
	if t.model == nil {
		return nil, domain.Invalid("ModelId is required")
	}
	return plainChat{}, nil
}

// principal builds the access-filtering identity of a user. A user
// without a Data Plane link can still query workspaces without
// access-controlled datasets.
func (s *ChatService) principal(ctx context.Context, userID string, workspace *domain.Workspace) (*retriever.Principal, error) {
	cred, err := s.users.DataPlaneCredential(ctx, userID)
	if err != nil {
		for _, ds := range workspace.Datasets {
			if ds.AccessControl {
				return nil, err
			}
		}
	}
	return &retriever.Principal{UserID: userID, Credential: cred}, nil
}

// answer is the outcome of a mode.
type answer struct {
	text        string
	documents   []domain.RetrievedDocument
	sources     []domain.Source
	citations   []domain.Citation
	workspaceID string
	agentID     string
}

// turnMode is one execution path of a turn.
type turnMode interface {
	mode() domain.Mode
	run(ctx context.Context, s *ChatService, t *turn) (*answer, error)
}

type plainChat struct{}

func (plainChat) mode() domain.Mode { return domain.ModePlainChat }

func (plainChat) run(ctx context.Context, s *ChatService, t *turn) (*answer, error) {
	prompt, err := llm.ChatPrompt(t.history, t.req.UserMessage)
	if err != nil {
		return nil, err
	}
	text, err := s.generate(ctx, t, prompt, false)
	if err != nil {
		return nil, err
	}
	return &answer{text: text}, nil
}

type fileQA struct {
	fileName string
}

func (fileQA) mode() domain.Mode { return domain.ModeFileQA }

func (m fileQA) run(ctx context.Context, s *ChatService, t *turn) (*answer, error) {
	if t.model == nil {
		return nil, domain.Invalid("ModelId is required")
	}
	if !t.session.HasFile(m.fileName) {
		return nil, domain.NotFoundf("file %s is not attached to the session", m.fileName)
	}
	doc, err := s.files.Load(ctx, t.userID, t.session.ID, m.fileName, t.model.Model.MaxInputChars)
	if err != nil {
		return nil, err
	}
	prompt, err := llm.FileQAPrompt(qaOptions(t.chatbot), doc.Text, t.history, t.req.UserMessage)
	if err != nil {
		return nil, err
	}
	text, err := s.generate(ctx, t, prompt, false)
	if err != nil {
		return nil, err
	}
	return &answer{
		text:      text,
		documents: []domain.RetrievedDocument{doc.Metadata},
		sources:   []domain.Source{{FileName: m.fileName}},
	}, nil
}

type workspaceQA struct {
	workspace *domain.Workspace
	// principal is nil for chatbot callers.
	principal *retriever.Principal
}

func (workspaceQA) mode() domain.Mode { return domain.ModeWorkspaceQA }

func (m workspaceQA) run(ctx context.Context, s *ChatService, t *turn) (*answer, error) {
	if t.model == nil {
		return nil, domain.Invalid("ModelId is required")
	}

	// Condense
	question := t.req.UserMessage
	if len(t.history) > 0 {
		prompt, err := llm.CondensePrompt(t.history, question)
		if err != nil {
			return nil, err
		}
		condensed, err := s.generate(ctx, t, prompt, true)
		if err != nil {
			return nil, err
		}
		if c := strings.TrimSpace(condensed); c != "" {
			question = c
		}
	}

	// Retrieve
	result, err := s.retriever.Retrieve(ctx, m.workspace, m.principal, question)
	if err != nil {
		return nil, err
	}
	if len(result.Documents) == 0 {
		return nil, domain.E(domain.KindNotFound, errNoDocuments, "no documents found for the query")
	}
	if len(result.Sources) > 0 {
		t.out.partial(Push{Metadata: PushMetadata{MessageID: t.req.MessageID, Sources: result.Sources}})
		s.recordSources(ctx, t, m.workspace.ID, result.Sources)
	}

	// Compose and generate
	prompt, err := llm.QAPrompt(qaOptions(t.chatbot), retriever.Format(result.Documents), t.history, question)
	if err != nil {
		return nil, err
	}
	text, err := s.generate(ctx, t, prompt, false)
	if err != nil {
		return nil, err
	}
	return &answer{
		text:        text,
		documents:   retriever.Strip(result.Documents),
		sources:     result.Sources,
		workspaceID: m.workspace.ID,
	}, nil
}

// recordSources logs the interim sources event as its own AI message.
func (s *ChatService) recordSources(ctx context.Context, t *turn, workspaceID string, sources []domain.Source) {
	msg := &domain.Message{
		SessionID: t.session.ID,
		MessageID: t.req.MessageID,
		Time:      t.stamp(s.after),
		Type:      domain.MessageAI,
		Metadata: domain.MessageMetadata{
			ModelID:     t.modelID(),
			Mode:        domain.ModeWorkspaceQA,
			Sources:     sources,
			WorkspaceID: workspaceID,
		},
	}
	if err := s.messageRepo.Append(ctx, msg); err != nil {
		log.Warn().Err(err).Str("session_id", t.session.ID).Msg("failed to record sources")
	}
}

func qaOptions(bot *domain.Chatbot) llm.QAOptions {
	if bot == nil {
		return llm.QAOptions{}
	}
	return llm.QAOptions{Chatbot: true, Instructions: bot.Instructions, RedactPII: bot.RedactPII}
}

type agentTurn struct {
	agentID string
}

func (agentTurn) mode() domain.Mode { return domain.ModeAgent }

func (m agentTurn) run(ctx context.Context, s *ChatService, t *turn) (*answer, error) {
	events, err := s.agents.Invoke(ctx, AgentInvocation{
		UserID:             t.userID,
		AgentID:            m.agentID,
		SessionID:          t.session.ID,
		Input:              t.req.UserMessage,
		DataPlaneConnected: s.users.Connected(ctx, t.userID),
	})
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	var citations []domain.Citation
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return &answer{text: sb.String(), citations: citations, agentID: m.agentID}, nil
			}
			if ev.Err != nil {
				return nil, modelError(ev.Err)
			}
			citations = append(citations, ev.Citations...)
			if len(ev.Chunk) > 0 {
				sb.Write(ev.Chunk)
				t.out.partial(Push{
					AIMessage: string(ev.Chunk),
					Metadata:  PushMetadata{MessageID: t.req.MessageID},
				})
			}
		}
	}
}

// generate runs one completion. Streaming models feed the sink unless the
// call is the condense step.
func (s *ChatService) generate(ctx context.Context, t *turn, prompt string, condense bool) (string, error) {
	req := llm.Request{
		Model:      t.model.InvocationID,
		Family:     t.model.Family,
		Prompt:     prompt,
		Params:     t.params,
		Condense:   condense,
		Credential: t.credential,
	}

	if !t.model.Model.Streaming {
		resp, err := t.model.Provider.Complete(ctx, req)
		if err != nil {
			return "", modelError(err)
		}
		return resp.Text, nil
	}

	stream, err := t.model.Provider.Stream(ctx, req)
	if err != nil {
		return "", modelError(err)
	}
	if stream.Header.Condense {
		text, err := llm.Collect(ctx, stream)
		return text, modelError(err)
	}

	sink := &sink{t: t, group: s.cfg.StreamGroupSize}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-stream.C:
			if !ok {
				sink.flush()
				return sink.full.String(), nil
			}
			if chunk.Err != nil {
				return "", modelError(chunk.Err)
			}
			sink.add(chunk.Text)
		}
	}
}

func modelError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, llm.ErrInvalidCredential):
		return domain.E(domain.KindInvalidCredential, err, "provider rejected the credential")
	case errors.Is(err, llm.ErrModelAccess):
		return domain.E(domain.KindModelAccess, err, "model access denied")
	}
	return domain.E(domain.KindUpstreamFailed, fmt.Errorf("%w: %w", errModelFailure, err), "model invocation failed")
}

// sink groups streamed tokens into partial pushes. Partials concatenate
// to the cleaned answer: a leading "AI:" or "Answer:" and surrounding
// whitespace are never sent.
type sink struct {
	t     *turn
	group int
	full  strings.Builder
	count int
	sent  string
	// broken stops partials once the cleaned text no longer extends what
	// was already sent.
	broken bool
}

func (k *sink) add(text string) {
	k.full.WriteString(text)
	k.count++
	if k.count >= k.group {
		k.flush()
		k.count = 0
	}
}

func (k *sink) flush() {
	if k.broken {
		return
	}
	visible := strings.TrimRightFunc(cleanLeading(k.full.String()), unicode.IsSpace)
	if !strings.HasPrefix(visible, k.sent) {
		k.broken = true
		return
	}
	if len(visible) == len(k.sent) {
		return
	}
	k.t.out.partial(Push{
		AIMessage: visible[len(k.sent):],
		Metadata:  PushMetadata{MessageID: k.t.req.MessageID},
	})
	k.sent = visible
}

func cleanLeading(text string) string {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	for _, prefix := range []string{"AI:", "Answer:"} {
		if strings.HasPrefix(text, prefix) {
			return strings.TrimLeftFunc(strings.TrimPrefix(text, prefix), unicode.IsSpace)
		}
	}
	return text
}

// complete persists the answer, closes the turn and pushes the final chunk.
func (s *ChatService) complete(ctx context.Context, t *turn, mode domain.Mode, ans *answer) error {
	if !t.settle() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	text := llm.CleanAnswer(ans.text)
	elapsed := max(s.now().Sub(t.started).Milliseconds(), 1)

	var kwargs map[string]any
	if t.model != nil && mode != domain.ModeTrivial {
		kwargs = t.params.Translate(t.model.Family)
	}
	meta := domain.MessageMetadata{
		ModelID:      t.modelID(),
		Mode:         mode,
		ModelKwargs:  kwargs,
		Documents:    ans.documents,
		Sources:      ans.sources,
		WorkspaceID:  ans.workspaceID,
		AgentID:      ans.agentID,
		Citations:    ans.citations,
		ResponseTime: elapsed,
	}
	ai := &domain.Message{
		SessionID:    t.session.ID,
		MessageID:    t.req.MessageID,
		Time:         t.stamp(s.after),
		Type:         domain.MessageAI,
		Data:         text,
		Metadata:     meta,
		ResponseTime: elapsed,
	}
	if err := s.messageRepo.Append(ctx, ai); err != nil {
		err = domain.Storage(err, "failed to write answer")
		s.abort(ctx, t, err, domain.MessageOf(err))
		return err
	}
	if err := s.sessionRepo.FinishQuery(ctx, t.userID, t.session.ID, domain.QueryCompleted, "", t.req.MessageID); err != nil {
		log.Error().Err(err).Str("session_id", t.session.ID).Msg("failed to complete query")
	}

	s.deliver(ctx, t, Push{
		AIMessage: text,
		Metadata: PushMetadata{
			MessageID:    t.req.MessageID,
			IsComplete:   true,
			ResponseTime: elapsed,
			Sources:      ans.sources,
			Documents:    ans.documents,
			Mode:         mode,
			ModelID:      meta.ModelID,
			ModelKwargs:  kwargs,
			WorkspaceID:  ans.workspaceID,
		},
	})

	log.Info().
		Str("session_id", t.session.ID).
		Str("message_id", t.req.MessageID).
		Str("mode", string(mode)).
		Int64("response_ms", elapsed).
		Msg("turn completed")
	return nil
}

// fail settles the turn as failed unless it already settled. A turn whose
// budget ran out fails as a timeout whichever side settles first.
func (s *ChatService) fail(ctx context.Context, t *turn, err error) error {
	if t.settle() {
		reason := domain.MessageOf(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = domain.E(domain.KindTimeout, task.ErrDeadline, "turn timed out")
			reason = timeoutReason
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
		s.abort(ctx, t, err, reason)
	}
	return err
}

// abort writes the failure answer, marks the query failed and pushes the
// failure chunk.
func (s *ChatService) abort(ctx context.Context, t *turn, err error, reason string) {
	text := userMessageFor(err)
	log.Error().Err(err).
		Str("session_id", t.session.ID).
		Str("message_id", t.req.MessageID).
		Msg("turn failed")

	latest := ""
	if t.humanSaved.Load() {
		latest = t.req.MessageID
		ai := &domain.Message{
			SessionID: t.session.ID,
			MessageID: t.req.MessageID,
			Time:      t.stamp(s.after),
			Type:      domain.MessageAI,
			Data:      text,
			Metadata:  domain.MessageMetadata{ModelID: t.modelID(), Failed: true},
		}
		if werr := s.messageRepo.Append(ctx, ai); werr != nil {
			log.Error().Err(werr).Str("session_id", t.session.ID).Msg("failed to write failure message")
		}
	}
	if werr := s.sessionRepo.FinishQuery(ctx, t.userID, t.session.ID, domain.QueryFailed, reason, latest); werr != nil {
		log.Error().Err(werr).Str("session_id", t.session.ID).Msg("failed to mark query failed")
	}
	s.deliver(ctx, t, Push{
		AIMessage: text,
		Metadata:  PushMetadata{MessageID: t.req.MessageID, IsComplete: true},
	})
}

// pushFailure notifies a turn that failed before touching the session.
func (s *ChatService) pushFailure(ctx context.Context, t *turn, err error) {
	if werr := t.out.final(Push{
		AIMessage: rejectionMessage(err),
		Metadata:  PushMetadata{MessageID: t.req.MessageID, IsComplete: true},
	}); werr != nil {
		log.Warn().Err(werr).Str("connection_id", t.connID).Msg("failed to push rejection")
	}
}

// reject answers a request that never started a turn.
func (s *ChatService) reject(ctx context.Context, connectionID, messageID string, err error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	push := Push{
		AIMessage: rejectionMessage(err),
		Metadata:  PushMetadata{MessageID: messageID, IsComplete: true},
	}
	if perr := s.pusher.Push(ctx, connectionID, push); perr != nil {
		log.Warn().Err(perr).Str("connection_id", connectionID).Msg("failed to push rejection")
	}
	return err
}

// deliver pushes the final chunk and records the delivery outcome.
func (s *ChatService) deliver(ctx context.Context, t *turn, p Push) {
	status := domain.DeliveryDelivered
	if err := t.out.final(p); err != nil {
		status = domain.DeliveryFailed
		log.Warn().Err(err).Str("session_id", t.session.ID).Str("connection_id", t.connID).Msg("final chunk not delivered")
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := s.sessionRepo.UpdateDeliveryStatus(ctx, t.userID, t.session.ID, status); err != nil {
		log.Error().Err(err).Str("session_id", t.session.ID).Msg("failed to update delivery status")
	}
}

// after returns now, nudged past prev so the log stays ordered.
func (s *ChatService) after(prev time.Time) time.Time {
	now := s.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

// rejectionMessage explains validation failures verbatim and maps the
// rest onto the user-visible set.
func rejectionMessage(err error) string {
	switch domain.KindOf(err) {
	case domain.KindInvalidInput, domain.KindConflict, domain.KindQuotaExceeded, domain.KindNotFound, domain.KindUnauthorized:
		return domain.MessageOf(err)
	}
	return userMessageFor(err)
}

// userMessageFor maps a turn failure onto the fixed user-visible messages.
func userMessageFor(err error) string {
	switch {
	case errors.Is(err, errNoDocuments):
		return msgNoDocuments
	case errors.Is(err, task.ErrDeadline), domain.IsKind(err, domain.KindTimeout), errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.Is(err, errModelFailure):
		return msgModelFailure
	}
	switch domain.KindOf(err) {
	case domain.KindFileTooBig:
		return msgFileTooBig
	case domain.KindInvalidCredential:
		return msgInvalidAPIKey
	case domain.KindModelAccess:
		return msgModelAccess
	case domain.KindUnsupportedFileType:
		return msgUnsupportedFile
	}
	return msgFailed
}

// delivery serializes the pushes of one turn off the generation path.
type delivery struct {
	pusher Pusher
	connID string
	ctx    context.Context

	mu     sync.Mutex
	queue  chan Push
	closed bool
	done   chan struct{}
	// result is the outcome of the final push.
	result error
}

func newDelivery(ctx context.Context, pusher Pusher, connID string) *delivery {
	d := &delivery{
		pusher: pusher,
		connID: connID,
		ctx:    context.WithoutCancel(ctx),
		queue:  make(chan Push, pushQueueSize),
		done:   make(chan struct{}),
		result: errNoResponse,
	}
	go d.loop()
	return d
}

func (d *delivery) loop() {
	defer close(d.done)
	for p := range d.queue {
		err := d.pusher.Push(d.ctx, d.connID, p)
		if p.Metadata.IsComplete {
			d.result = err
			continue
		}
		if err != nil {
			log.Debug().Err(err).Str("connection_id", d.connID).Msg("partial chunk not delivered")
		}
	}
}

// partial queues a non-final chunk, dropping it when the queue is full.
func (d *delivery) partial(p Push) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- p:
	default:
		log.Warn().Str("connection_id", d.connID).Msg("push queue full, dropping partial chunk")
	}
}

// final queues the closing chunk and waits until every push finished.
func (d *delivery) final(p Push) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.queue <- p
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
	return d.result
}
