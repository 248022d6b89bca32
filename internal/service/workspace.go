package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/dataplane"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/scheduler"
	"github.com/Rrens/genai-platform/internal/security"
	"github.com/Rrens/genai-platform/internal/task"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultChunkTokens   = 300
	defaultChunkOverlap  = 20
	minChunkTokens       = 100
	defaultPollInterval  = 30 * time.Second
	defaultSyncBatch     = 500
	engineKnowledgeBase  = "knowledge-base"
	managedDatasetFormat = "others"
)

// WorkspaceInput is the body of a workspace create.
type WorkspaceInput struct {
	Name               string             `json:"WorkspaceName" validate:"required,min=3,max=64"`
	Description        string             `json:"Description" validate:"max=1024"`
	Keywords           []string           `json:"Keywords" validate:"max=20"`
	TriggerType        domain.TriggerType `json:"TriggerType" validate:"required,oneof=on-demand file-based time-based"`
	ScheduleExpression string             `json:"ScheduleExpression"`
	Chunking           domain.Chunking    `json:"ChunkingConfig"`
	EmbeddingModel     string             `json:"EmbeddingsModel" validate:"required"`
	RAGEngine          string             `json:"RAGEngine" validate:"omitempty,oneof=knowledge-base pgvector"`
	Datasets           []DatasetRef       `json:"AttachedDatasets" validate:"max=1,dive"`
	// Domain hosts the managed dataset; the user's default domain otherwise.
	Domain string `json:"Domain"`
}

// DatasetRef names an existing Data Plane dataset.
type DatasetRef struct {
	ID string `json:"DatasetId" validate:"required"`
}

// WorkspaceUpdate carries the mutable workspace fields.
type WorkspaceUpdate struct {
	Description        *string            `json:"Description" validate:"omitempty,max=1024"`
	Keywords           []string           `json:"Keywords" validate:"max=20"`
	TriggerType        domain.TriggerType `json:"TriggerType" validate:"omitempty,oneof=on-demand file-based time-based"`
	ScheduleExpression string             `json:"ScheduleExpression"`
}

// WorkspaceStats summarizes the contents of a workspace.
type WorkspaceStats struct {
	Documents   map[domain.DocumentType]int `json:"DocumentCount"`
	Runs        map[domain.RunStatus]int    `json:"RunCount"`
	VectorCount int64                       `json:"VectorCount"`
	LastRun     *domain.WorkspaceRun        `json:"LastRun,omitempty"`
}

// SyncTask is the payload of a dataset file metadata sync.
type SyncTask struct {
	WorkspaceID string `json:"WorkspaceId"`
	UserID      string `json:"UserId"`
}

// RunPollState is the state of the ingestion poll machine.
type RunPollState struct {
	WorkspaceID string           `json:"WorkspaceId"`
	RunID       string           `json:"RunId"`
	JobID       string           `json:"JobId"`
	Status      domain.RunStatus `json:"Status"`
	Polls       int              `json:"Polls"`
}

// WorkspaceDeps groups the collaborators of the workspace engine.
type WorkspaceDeps struct {
	WorkspaceRepo  domain.WorkspaceRepository
	DocumentRepo   domain.DocumentRepository
	RunRepo        domain.RunRepository
	ChatbotRepo    domain.ChatbotRepository
	AgentRepo      domain.AgentRepository
	Models         *ModelService
	Users          *UserService
	Groups         *GroupService
	DataPlane      DataPlane
	KnowledgeBases cloud.KnowledgeBases
	Roles          cloud.Roles
	Objects        cloud.ObjectStore
	Vectors        VectorTables
	Schedules      Schedules
	Publisher      task.Publisher
}

// WorkspaceService runs the workspace lifecycle: provisioning, dataset
// sync, ingestion runs, schedules and ordered teardown.
type WorkspaceService struct {
	workspaceRepo  domain.WorkspaceRepository
	documentRepo   domain.DocumentRepository
	runRepo        domain.RunRepository
	chatbotRepo    domain.ChatbotRepository
	agentRepo      domain.AgentRepository
	models         *ModelService
	users          *UserService
	groups         *GroupService
	dataPlane      DataPlane
	knowledgeBases cloud.KnowledgeBases
	roles          cloud.Roles
	objects        cloud.ObjectStore
	vectors        VectorTables
	schedules      Schedules
	publisher      task.Publisher
	cfg            config.WorkspaceConfig
	aws            config.AWSConfig
	project        config.ProjectConfig
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
}

// NewWorkspaceService creates the workspace engine
func NewWorkspaceService(deps WorkspaceDeps, cfg config.WorkspaceConfig, awsCfg config.AWSConfig, project config.ProjectConfig) *WorkspaceService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SyncPageSize <= 0 {
		cfg.SyncPageSize = defaultSyncBatch
	}
	return &WorkspaceService{
		workspaceRepo:  deps.WorkspaceRepo,
		documentRepo:   deps.DocumentRepo,
		runRepo:        deps.RunRepo,
		chatbotRepo:    deps.ChatbotRepo,
		agentRepo:      deps.AgentRepo,
		models:         deps.Models,
		users:          deps.Users,
		groups:         deps.Groups,
		dataPlane:      deps.DataPlane,
		knowledgeBases: deps.KnowledgeBases,
		roles:          deps.Roles,
		objects:        deps.Objects,
		vectors:        deps.Vectors,
		schedules:      deps.Schedules,
		publisher:      deps.Publisher,
		cfg:            cfg,
		aws:            awsCfg,
		project:        project,
		sleep:          sleep,
		now:            time.Now,
	}
}

// Register binds the workspace task handlers.
func (s *WorkspaceService) Register(d *task.Dispatcher) {
	d.Register(task.WorkspaceSync, s.HandleSync)
	d.Register(task.WorkspaceRunPoll, s.HandleRunPoll)
	d.Register(task.WorkspaceScheduled, s.HandleScheduled)
}

// Create provisions a workspace and starts its dataset file sync.
func (s *WorkspaceService) Create(ctx context.Context, userID string, in WorkspaceInput) (*domain.Workspace, error) {
	if err := security.ValidateResourceName("WorkspaceName", in.Name); err != nil {
		return nil, domain.Invalid("%s", err.Error())
	}
	if err := validateTrigger(in.TriggerType, in.ScheduleExpression); err != nil {
		return nil, err
	}
	if len(in.Datasets) > 1 {
		return nil, domain.Invalid("at most one dataset can be attached to a workspace")
	}

	switch _, err := s.workspaceRepo.GetByName(ctx, in.Name); {
	case err == nil:
		return nil, domain.Conflict("workspace %s already exists", in.Name)
	case !notFound(err):
		return nil, domain.Storage(err, "failed to check workspace name")
	}

	embedding, err := s.models.ResolveEmbedding(ctx, in.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	chunking, err := validateChunking(in.Chunking, embedding.TokenLimit)
	if err != nil {
		return nil, err
	}
	engine := in.RAGEngine
	if engine == "" {
		engine = engineKnowledgeBase
	}

	cred, err := s.users.DataPlaneCredential(ctx, userID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	datasets, err := s.attachDatasets(ctx, cred, userID, id, in)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ws := &domain.Workspace{
		ID:                 id,
		Name:               in.Name,
		Description:        in.Description,
		Keywords:           in.Keywords,
		TriggerType:        in.TriggerType,
		ScheduleExpression: in.ScheduleExpression,
		Chunking:           chunking,
		EmbeddingModel:     embedding.Model.ID,
		RAGEngine:          engine,
		Datasets:           datasets,
		VectorTable:        vectorTableName(id),
		Status:             domain.WorkspaceCreating,
		FileSyncStatus:     domain.SyncPending,
		CreatedBy:          userID,
		CreatedAt:          now,
		LastModifiedBy:     userID,
		LastModifiedAt:     now,
	}
	if err := s.workspaceRepo.Create(ctx, ws); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return nil, err
		}
		return nil, domain.Storage(err, "failed to create workspace")
	}

	if err := s.provision(ctx, ws, embedding); err != nil {
		s.setStatus(ctx, ws.ID, domain.WorkspaceCreateFailed, domain.MessageOf(err))
		return nil, err
	}

	if ws.TriggerType == domain.TriggerTimeBased {
		if err := s.schedules.Put(ctx, ws.ScheduleName(), ws.ScheduleExpression, ws.ID); err != nil {
			s.setStatus(ctx, ws.ID, domain.WorkspaceCreateFailed, "failed to register schedule")
			return nil, scheduleError(err)
		}
	}

	ws.Status = domain.WorkspaceActive
	ws.LastModifiedAt = s.now().UTC()
	if err := s.workspaceRepo.Update(ctx, ws); err != nil {
		return nil, domain.Storage(err, "failed to activate workspace")
	}
	if err := s.groups.Grant(ctx, userID, domain.ResourceWorkspace, ws.ID); err != nil {
		return nil, err
	}
	if err := task.Enqueue(ctx, s.publisher, task.WorkspaceSync, SyncTask{WorkspaceID: ws.ID, UserID: userID}); err != nil {
		log.Error().Err(err).Str("workspace_id", ws.ID).Msg("failed to enqueue dataset sync")
		if err := s.workspaceRepo.UpdateSyncStatus(ctx, ws.ID, domain.SyncFailed); err != nil {
			log.Error().Err(err).Str("workspace_id", ws.ID).Msg("failed to update sync status")
		}
	}

	log.Info().
		Str("workspace_id", ws.ID).
		Str("name", ws.Name).
		Str("trigger", string(ws.TriggerType)).
		Msg("workspace created")
	return ws, nil
}

func validateTrigger(trigger domain.TriggerType, expression string) error {
	if !trigger.Valid() {
		return domain.Invalid("TriggerType must be one of on-demand, file-based, time-based")
	}
	timeBased := trigger == domain.TriggerTimeBased
	switch {
	case timeBased && expression == "":
		return domain.Invalid("ScheduleExpression is required for time-based workspaces")
	case !timeBased && expression != "":
		return domain.Invalid("ScheduleExpression is only allowed for time-based workspaces")
	}
	if timeBased {
		if _, err := scheduler.Parse(expression); err != nil {
			return domain.Invalid("invalid ScheduleExpression: %s", err.Error())
		}
	}
	return nil
}

func validateChunking(c domain.Chunking, tokenLimit int) (domain.Chunking, error) {
	if c.MaxTokens == 0 {
		c.MaxTokens = min(defaultChunkTokens, tokenLimit)
	}
	if c.OverlapPercentage == 0 {
		c.OverlapPercentage = defaultChunkOverlap
	}
	if c.MaxTokens < minChunkTokens || c.MaxTokens > tokenLimit {
		return c, domain.Invalid("MaxTokens must be between %d and %d for this embedding model", minChunkTokens, tokenLimit)
	}
	if c.OverlapPercentage < 1 || c.OverlapPercentage > 100 {
		return c, domain.Invalid("OverlapPercentage must be between 1 and 100")
	}
	return c, nil
}

func vectorTableName(workspaceID string) string {
	return "ws_" + strings.ReplaceAll(workspaceID, "-", "_")
}

// attachDatasets validates user datasets or provisions a managed one.
func (s *WorkspaceService) attachDatasets(ctx context.Context, cred dataplane.Credential, userID, workspaceID string, in WorkspaceInput) ([]domain.Dataset, error) {
	if len(in.Datasets) == 1 {
		ds, err := s.dataPlane.GetDataset(ctx, cred, in.Datasets[0].ID)
		if err != nil {
			return nil, domain.E(domain.KindInvalidInput, err, "dataset %s could not be validated", in.Datasets[0].ID)
		}
		return []domain.Dataset{fromDataPlane(*ds, false)}, nil
	}

	domainName := in.Domain
	if domainName == "" {
		u, err := s.users.Get(ctx, userID, userID)
		if err != nil {
			return nil, err
		}
		domainName = u.DefaultDomain
	}
	if domainName == "" {
		return nil, domain.Invalid("Domain is required when no dataset is attached")
	}

	ds, err := s.dataPlane.CreateDataset(ctx, cred, dataplane.CreateDatasetInput{
		Name:           managedDatasetName(in.Name, workspaceID),
		Description:    fmt.Sprintf("Documents of workspace %s", in.Name),
		Domain:         domainName,
		FileType:       managedDatasetFormat,
		TargetLocation: "s3",
	})
	if err != nil {
		return nil, domain.Upstream(err, "failed to create managed dataset")
	}
	return []domain.Dataset{fromDataPlane(*ds, true)}, nil
}

func fromDataPlane(ds dataplane.Dataset, managed bool) domain.Dataset {
	prefix := ds.Prefix
	if prefix == "" {
		prefix = ds.Domain + "/" + ds.Name + "/"
	}
	return domain.Dataset{
		ID:             ds.ID,
		Name:           ds.Name,
		Domain:         ds.Domain,
		TargetLocation: ds.TargetLocation,
		FileType:       ds.FileType,
		AccessControl:  ds.AccessControlled,
		Prefix:         prefix,
		Managed:        managed,
	}
}

func managedDatasetName(workspaceName, workspaceID string) string {
	name := strings.NewReplacer("-", "_", " ", "_").Replace(workspaceName)
	return fmt.Sprintf("ws_%s_%s", name, workspaceID[:8])
}

// provision installs the vector table, role, knowledge base and data source.
func (s *WorkspaceService) provision(ctx context.Context, ws *domain.Workspace, embedding *EmbeddingModel) error {
	name := resourceName(s.project, "ws", ws.ID[:8])

	// 1. Vector table sized to the embedding model
	if err := s.vectors.CreateTable(ctx, ws.VectorTable, embedding.Dimension); err != nil {
		return domain.Storage(err, "failed to create vector table")
	}

	// 2. Execution role, given time to propagate
	role, err := s.roles.EnsureRole(ctx, cloud.RoleKnowledgeBase, name)
	if err != nil {
		return domain.Upstream(err, "failed to create knowledge base role")
	}
	ws.RoleHandle = role
	if err := s.sleep(ctx, s.cfg.RolePropagation); err != nil {
		return err
	}

	// 3. Knowledge base
	kbID, err := s.knowledgeBases.CreateKnowledgeBase(ctx, cloud.KnowledgeBaseSpec{
		Name:           name,
		Description:    ws.Description,
		RoleHandle:     role,
		EmbeddingModel: embedding.Model.ID,
		VectorTable:    ws.VectorTable,
	})
	if err != nil {
		s.rollback(ctx, ws)
		if errors.Is(err, cloud.ErrQuotaExceeded) {
			return domain.E(domain.KindQuotaExceeded, err, "knowledge base quota exceeded, try again later")
		}
		return domain.Upstream(err, "failed to create knowledge base")
	}
	ws.KnowledgeBaseID = kbID

	// 4. Data source over the dataset prefixes
	prefixes := make([]string, 0, len(ws.Datasets))
	for _, ds := range ws.Datasets {
		prefixes = append(prefixes, ds.Prefix)
	}
	dsID, err := s.knowledgeBases.CreateDataSource(ctx, cloud.DataSourceSpec{
		KnowledgeBaseID:   kbID,
		Name:              name,
		Bucket:            s.aws.DatasetBucket,
		Prefixes:          prefixes,
		MaxTokens:         ws.Chunking.MaxTokens,
		OverlapPercentage: ws.Chunking.OverlapPercentage,
	})
	if err != nil {
		s.rollback(ctx, ws)
		if errors.Is(err, cloud.ErrQuotaExceeded) {
			return domain.E(domain.KindQuotaExceeded, err, "data source quota exceeded, try again later")
		}
		return domain.Upstream(err, "failed to create data source")
	}
	ws.DataSourceID = dsID
	return nil
}

// rollback releases what provision installed before failing.
func (s *WorkspaceService) rollback(ctx context.Context, ws *domain.Workspace) {
	if ws.KnowledgeBaseID != "" {
		if err := s.knowledgeBases.DeleteKnowledgeBase(ctx, ws.KnowledgeBaseID); err != nil {
			log.Warn().Err(err).Str("workspace_id", ws.ID).Msg("failed to delete knowledge base")
		}
		ws.KnowledgeBaseID = ""
	}
	if ws.RoleHandle != "" {
		if err := s.roles.DeleteRole(ctx, ws.RoleHandle); err != nil {
			log.Warn().Err(err).Str("workspace_id", ws.ID).Msg("failed to delete knowledge base role")
		}
		ws.RoleHandle = ""
	}
	if err := s.vectors.DropTable(ctx, ws.VectorTable); err != nil {
		log.Warn().Err(err).Str("workspace_id", ws.ID).Msg("failed to drop vector table")
	}
}

func (s *WorkspaceService) setStatus(ctx context.Context, id string, status domain.WorkspaceStatus, message string) {
	if err := s.workspaceRepo.UpdateStatus(ctx, id, status, message); err != nil {
		log.Error().Err(err).Str("workspace_id", id).Str("status", string(status)).Msg("failed to update workspace status")
	}
}

// HandleSync materializes a Document per dataset file.
func (s *WorkspaceService) HandleSync(ctx context.Context, env task.Envelope) error {
	var p SyncTask
	if err := env.Decode(&p); err != nil {
		return task.Permanent(err)
	}
	ws, err := s.load(ctx, p.WorkspaceID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return task.Permanent(err)
		}
		return err
	}

	if err := s.workspaceRepo.UpdateSyncStatus(ctx, ws.ID, domain.SyncInProgress); err != nil {
		return domain.Storage(err, "failed to update sync status")
	}
	count, err := s.syncFiles(ctx, ws, p.UserID)
	if err != nil {
		if uerr := s.workspaceRepo.UpdateSyncStatus(ctx, ws.ID, domain.SyncFailed); uerr != nil {
			log.Error().Err(uerr).Str("workspace_id", ws.ID).Msg("failed to update sync status")
		}
		return err
	}
	if err := s.workspaceRepo.UpdateSyncStatus(ctx, ws.ID, domain.SyncCompleted); err != nil {
		return domain.Storage(err, "failed to update sync status")
	}
	log.Info().Str("workspace_id", ws.ID).Int("files", count).Msg("dataset files synced")

	if ws.TriggerType == domain.TriggerFileBased {
		if _, err := s.startRun(ctx, ws, p.UserID, domain.TriggerFileBased); err != nil {
			log.Warn().Err(err).Str("workspace_id", ws.ID).Msg("file-based run not started")
		}
	}
	return nil
}

// syncFiles records the dataset files that have no document yet and
// returns how many were added.
func (s *WorkspaceService) syncFiles(ctx context.Context, ws *domain.Workspace, userID string) (int, error) {
	existing, err := s.documentRepo.List(ctx, ws.ID, "")
	if err != nil {
		return 0, domain.Storage(err, "failed to list documents")
	}
	known := make(map[string]bool, len(existing))
	for _, d := range existing {
		if d.ObjectKey != "" {
			known[d.ObjectKey] = true
		}
	}

	total := 0
	for _, ds := range ws.Datasets {
		files, err := s.listFiles(ctx, ws, userID, ds.ID)
		if err != nil {
			return total, err
		}
		now := s.now().UTC()
		docs := make([]domain.Document, 0, len(files))
		for _, f := range files {
			if known[f.Key] {
				continue
			}
			known[f.Key] = true
			docs = append(docs, domain.Document{
				WorkspaceID: ws.ID,
				ID:          uuid.NewString(),
				Type:        domain.DocumentFile,
				DatasetID:   ds.ID,
				ObjectKey:   f.Key,
				CreatedBy:   userID,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
		for start := 0; start < len(docs); start += s.cfg.SyncPageSize {
			end := min(start+s.cfg.SyncPageSize, len(docs))
			if err := s.documentRepo.CreateBatch(ctx, docs[start:end]); err != nil {
				return total, domain.Storage(err, "failed to store dataset files")
			}
		}
		total += len(docs)
	}
	return total, nil
}

// listFiles lists a dataset as userID, falling back to the workspace
// creator when the caller cannot read it.
func (s *WorkspaceService) listFiles(ctx context.Context, ws *domain.Workspace, userID, datasetID string) ([]dataplane.File, error) {
	var lastErr error
	for _, id := range actingUsers(userID, ws.CreatedBy) {
		cred, err := s.users.DataPlaneCredential(ctx, id)
		if err != nil {
			lastErr = err
			continue
		}
		files, err := s.dataPlane.ListFiles(ctx, cred, datasetID)
		if err != nil {
			lastErr = domain.Upstream(err, "failed to list files of dataset %s", datasetID)
			continue
		}
		return files, nil
	}
	return nil, lastErr
}

// credential returns a usable Data Plane credential of userID or, failing
// that, of the workspace creator.
func (s *WorkspaceService) credential(ctx context.Context, ws *domain.Workspace, userID string) (dataplane.Credential, error) {
	var lastErr error
	for _, id := range actingUsers(userID, ws.CreatedBy) {
		cred, err := s.users.DataPlaneCredential(ctx, id)
		if err == nil {
			return cred, nil
		}
		lastErr = err
	}
	return dataplane.Credential{}, lastErr
}

func actingUsers(userID, creator string) []string {
	if userID == "" || userID == creator {
		return []string{creator}
	}
	return []string{userID, creator}
}

// StartRun triggers an on-demand ingestion run.
func (s *WorkspaceService) StartRun(ctx context.Context, userID, workspaceID string) (*domain.WorkspaceRun, error) {
	ws, err := s.authorized(ctx, userID, workspaceID, true)
	if err != nil {
		return nil, err
	}
	if ws.Status != domain.WorkspaceActive {
		return nil, domain.Invalid("workspace %s is not active", ws.ID)
	}
	return s.startRun(ctx, ws, userID, domain.TriggerOnDemand)
}

func (s *WorkspaceService) startRun(ctx context.Context, ws *domain.Workspace, userID string, trigger domain.TriggerType) (*domain.WorkspaceRun, error) {
	running, err := s.runRepo.InProgress(ctx, ws.ID)
	if err != nil {
		return nil, domain.Storage(err, "failed to check runs")
	}
	if len(running) > 0 {
		return nil, domain.Conflict("run %s is already in progress for workspace %s", running[0].ID, ws.ID)
	}

	job, err := s.knowledgeBases.StartIngestion(ctx, ws.KnowledgeBaseID, ws.DataSourceID)
	if err != nil {
		return nil, domain.Upstream(err, "failed to start ingestion")
	}

	run := &domain.WorkspaceRun{
		ID:             uuid.NewString(),
		WorkspaceID:    ws.ID,
		Status:         domain.RunInProgress,
		TriggerType:    trigger,
		TriggeredBy:    userID,
		IngestionJobID: job.ID,
		StartTime:      s.now().UTC(),
	}
	if err := s.runRepo.Create(ctx, run); err != nil {
		return nil, domain.Storage(err, "failed to record run")
	}

	state := RunPollState{WorkspaceID: ws.ID, RunID: run.ID, JobID: job.ID, Status: run.Status}
	if err := task.Enqueue(ctx, s.publisher, task.WorkspaceRunPoll, state); err != nil {
		return nil, domain.Upstream(err, "failed to schedule run polling")
	}

	log.Info().Str("workspace_id", ws.ID).Str("run_id", run.ID).Str("trigger", string(trigger)).Msg("ingestion run started")
	return run, nil
}

// HandleRunPoll drives the ingestion poll machine of one run.
func (s *WorkspaceService) HandleRunPoll(ctx context.Context, env task.Envelope) error {
	var state RunPollState
	if err := env.Decode(&state); err != nil {
		return task.Permanent(err)
	}
	return task.Drive(ctx, env, s.runMachine(), state)
}

func (s *WorkspaceService) runMachine() task.Machine[RunPollState] {
	return task.Machine[RunPollState]{
		Name:       "workspace-run",
		Transition: s.pollRun,
		Done:       func(st RunPollState) bool { return st.Status.Terminal() },
	}
}

func (s *WorkspaceService) pollRun(ctx context.Context, st RunPollState) (RunPollState, time.Duration, error) {
	ws, err := s.load(ctx, st.WorkspaceID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			st.Status = domain.RunFailed
			return st, 0, nil
		}
		return st, 0, err
	}

	job, err := s.knowledgeBases.GetIngestion(ctx, ws.KnowledgeBaseID, ws.DataSourceID, st.JobID)
	if err != nil {
		return st, 0, domain.Upstream(err, "failed to read ingestion job")
	}
	st.Polls++
	if !job.Status.Terminal() {
		st.Status = domain.RunInProgress
		return st, s.cfg.PollInterval, nil
	}

	run, err := s.runRepo.Get(ctx, ws.ID, st.RunID)
	if err != nil {
		if notFound(err) {
			st.Status = job.Status
			return st, 0, nil
		}
		return st, 0, domain.Storage(err, "failed to load run")
	}
	end := s.now().UTC()
	run.Status = job.Status
	run.EndTime = &end
	run.Statistics = job.Statistics
	run.Message = runMessage(job)
	if err := s.runRepo.Update(ctx, run); err != nil {
		return st, 0, domain.Storage(err, "failed to update run")
	}

	log.Info().
		Str("workspace_id", ws.ID).
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("polls", st.Polls).
		Msg("ingestion run finished")
	st.Status = job.Status
	return st, 0, nil
}

func runMessage(job *cloud.IngestionJob) string {
	if job.Status == domain.RunFailed {
		if len(job.FailureReasons) == 0 {
			return "Ingestion failed"
		}
		return strings.Join(job.FailureReasons, "; ")
	}
	st := job.Statistics
	return fmt.Sprintf("Ingestion completed: %d scanned, %d new, %d modified, %d deleted, %d failed",
		st.Scanned, st.New, st.Modified, st.Deleted, st.Failed)
}

// HandleScheduled starts the run of a fired workspace schedule.
func (s *WorkspaceService) HandleScheduled(ctx context.Context, env task.Envelope) error {
	var ev scheduler.ScheduledEvent
	if err := env.Decode(&ev); err != nil {
		return task.Permanent(err)
	}
	ws, err := s.load(ctx, ev.WorkspaceID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			log.Warn().Str("workspace_id", ev.WorkspaceID).Str("schedule", ev.Schedule).Msg("schedule fired for missing workspace")
			if rerr := s.schedules.Remove(ctx, ev.Schedule); rerr != nil && !notFound(rerr) {
				log.Error().Err(rerr).Str("schedule", ev.Schedule).Msg("failed to remove stale schedule")
			}
			return nil
		}
		return err
	}
	if ws.Status != domain.WorkspaceActive || ws.TriggerType != domain.TriggerTimeBased {
		log.Info().Str("workspace_id", ws.ID).Str("status", string(ws.Status)).Msg("skipping scheduled run")
		return nil
	}

	if _, err := s.startRun(ctx, ws, ws.CreatedBy, domain.TriggerTimeBased); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			log.Info().Str("workspace_id", ws.ID).Msg("previous run still in progress, skipping")
			return nil
		}
		return err
	}
	return nil
}

// Update changes the mutable fields and keeps the schedule in step with
// the trigger type.
func (s *WorkspaceService) Update(ctx context.Context, userID, workspaceID string, in WorkspaceUpdate) (*domain.Workspace, error) {
	ws, err := s.authorized(ctx, userID, workspaceID, true)
	if err != nil {
		return nil, err
	}
	if ws.Status != domain.WorkspaceActive {
		return nil, domain.Invalid("workspace %s is not active", ws.ID)
	}

	trigger := ws.TriggerType
	if in.TriggerType != "" {
		trigger = in.TriggerType
	}
	expression := ws.ScheduleExpression
	if in.ScheduleExpression != "" {
		expression = in.ScheduleExpression
	}
	if trigger != domain.TriggerTimeBased {
		if in.ScheduleExpression != "" {
			return nil, domain.Invalid("ScheduleExpression is only allowed for time-based workspaces")
		}
		expression = ""
	}
	if err := validateTrigger(trigger, expression); err != nil {
		return nil, err
	}

	name := ws.ScheduleName()
	switch {
	case ws.TriggerType == domain.TriggerTimeBased && trigger != domain.TriggerTimeBased:
		if err := s.schedules.Remove(ctx, name); err != nil && !notFound(err) {
			return nil, scheduleError(err)
		}
	case trigger == domain.TriggerTimeBased && (ws.TriggerType != domain.TriggerTimeBased || expression != ws.ScheduleExpression):
		if err := s.schedules.Put(ctx, name, expression, ws.ID); err != nil {
			return nil, scheduleError(err)
		}
	}

	if in.Description != nil {
		ws.Description = *in.Description
	}
	if in.Keywords != nil {
		ws.Keywords = in.Keywords
	}
	ws.TriggerType = trigger
	ws.ScheduleExpression = expression
	ws.LastModifiedBy = userID
	ws.LastModifiedAt = s.now().UTC()

	if err := s.workspaceRepo.Update(ctx, ws); err != nil {
		return nil, domain.Storage(err, "failed to update workspace")
	}
	return ws, nil
}

func scheduleError(err error) error {
	if domain.IsKind(err, domain.KindInvalidInput) {
		return err
	}
	return domain.Storage(err, "failed to update schedule")
}

// Delete tears a workspace down in dependency order.
func (s *WorkspaceService) Delete(ctx context.Context, userID, workspaceID string) error {
	ws, err := s.authorized(ctx, userID, workspaceID, true)
	if err != nil {
		return err
	}

	// 1. Dependents
	if err := s.checkDependents(ctx, ws); err != nil {
		return err
	}

	// 2. Running ingestion
	running, err := s.runRepo.InProgress(ctx, ws.ID)
	if err != nil {
		return domain.Storage(err, "failed to check runs")
	}
	if len(running) > 0 {
		return domain.Conflict("workspace %s has a run in progress", ws.ID)
	}

	s.setStatus(ctx, ws.ID, domain.WorkspaceDeleteInProgress, "")
	if err := s.teardown(ctx, ws); err != nil {
		s.setStatus(ctx, ws.ID, domain.WorkspaceDeleteFailed, domain.MessageOf(err))
		return err
	}

	log.Info().Str("workspace_id", ws.ID).Str("name", ws.Name).Msg("workspace deleted")
	return nil
}

func (s *WorkspaceService) checkDependents(ctx context.Context, ws *domain.Workspace) error {
	bots, err := s.chatbotRepo.ListByWorkspace(ctx, ws.ID)
	if err != nil {
		return domain.Storage(err, "failed to check chatbots")
	}
	agents, err := s.agentRepo.ListByWorkspace(ctx, ws.ID)
	if err != nil {
		return domain.Storage(err, "failed to check agents")
	}
	if len(bots) == 0 && len(agents) == 0 {
		return nil
	}

	var parts []string
	if len(bots) > 0 {
		names := make([]string, 0, len(bots))
		for _, b := range bots {
			names = append(names, b.Name)
		}
		parts = append(parts, "chatbots ["+strings.Join(names, ", ")+"]")
	}
	if len(agents) > 0 {
		names := make([]string, 0, len(agents))
		for _, a := range agents {
			names = append(names, a.Name)
		}
		parts = append(parts, "agents ["+strings.Join(names, ", ")+"]")
	}
	return domain.Conflict("workspace %s is used by %s", ws.Name, strings.Join(parts, " and "))
}

func (s *WorkspaceService) teardown(ctx context.Context, ws *domain.Workspace) error {
	// 3. Documents and runs
	if err := s.documentRepo.DeleteByWorkspace(ctx, ws.ID); err != nil {
		return domain.Storage(err, "failed to delete documents")
	}
	if err := s.runRepo.DeleteByWorkspace(ctx, ws.ID); err != nil {
		return domain.Storage(err, "failed to delete runs")
	}

	// 4. Schedule
	if ws.TriggerType == domain.TriggerTimeBased || ws.ScheduleExpression != "" {
		if err := s.schedules.Remove(ctx, ws.ScheduleName()); err != nil && !notFound(err) {
			return domain.Storage(err, "failed to remove schedule")
		}
	}

	// 5. Knowledge base and role
	if ws.KnowledgeBaseID != "" {
		if err := s.knowledgeBases.DeleteKnowledgeBase(ctx, ws.KnowledgeBaseID); err != nil {
			return domain.Upstream(err, "failed to delete knowledge base")
		}
	}
	if ws.RoleHandle != "" {
		if err := s.roles.DeleteRole(ctx, ws.RoleHandle); err != nil {
			log.Warn().Err(err).Str("workspace_id", ws.ID).Msg("failed to delete knowledge base role")
		}
	}

	// 6. Record
	if err := s.workspaceRepo.Delete(ctx, ws.ID); err != nil && !notFound(err) {
		return domain.Storage(err, "failed to delete workspace")
	}

	// 7. Group access
	if err := s.groups.Revoke(ctx, domain.ResourceWorkspace, ws.ID); err != nil {
		return err
	}

	// 8. Objects
	if err := s.objects.DeletePrefix(ctx, s.aws.WorkspaceBucket, domain.WorkspacePrefix(ws.ID)); err != nil {
		return domain.Upstream(err, "failed to delete workspace objects")
	}

	// 9. Vectors
	if ws.VectorTable != "" {
		if err := s.vectors.DropTable(ctx, ws.VectorTable); err != nil {
			return domain.Storage(err, "failed to drop vector table")
		}
	}
	return nil
}

// Get returns a workspace readable by userID.
func (s *WorkspaceService) Get(ctx context.Context, userID, workspaceID string) (*domain.Workspace, error) {
	return s.authorized(ctx, userID, workspaceID, false)
}

// List returns the workspaces visible to userID.
func (s *WorkspaceService) List(ctx context.Context, userID string, opts domain.ListOptions) (domain.Page[domain.Workspace], error) {
	ids, err := s.groups.Visible(ctx, userID, domain.ResourceWorkspace)
	if err != nil {
		return domain.Page[domain.Workspace]{}, err
	}
	items, err := s.workspaceRepo.List(ctx, ids)
	if err != nil {
		return domain.Page[domain.Workspace]{}, domain.Storage(err, "failed to list workspaces")
	}
	return paginate(items, opts, sortFields[domain.Workspace]{
		"LastModifiedTime": func(a, b domain.Workspace) bool { return before(a.LastModifiedAt, b.LastModifiedAt) },
		"CreationTime":     func(a, b domain.Workspace) bool { return before(a.CreatedAt, b.CreatedAt) },
		"WorkspaceName":    func(a, b domain.Workspace) bool { return a.Name < b.Name },
	}), nil
}

// Stats counts documents, runs and stored vectors.
func (s *WorkspaceService) Stats(ctx context.Context, userID, workspaceID string) (*WorkspaceStats, error) {
	ws, err := s.authorized(ctx, userID, workspaceID, false)
	if err != nil {
		return nil, err
	}
	var (
		docs  map[domain.DocumentType]int
		runs  []domain.WorkspaceRun
		count int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if docs, err = s.documentRepo.CountByType(gctx, ws.ID); err != nil {
			return domain.Storage(err, "failed to count documents")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if runs, err = s.runRepo.List(gctx, ws.ID); err != nil {
			return domain.Storage(err, "failed to list runs")
		}
		return nil
	})
	if ws.VectorTable != "" {
		g.Go(func() error {
			n, err := s.vectors.Count(gctx, ws.VectorTable)
			if err != nil {
				log.Warn().Err(err).Str("workspace_id", ws.ID).Msg("failed to count vectors")
				return nil
			}
			count = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &WorkspaceStats{Documents: docs, Runs: map[domain.RunStatus]int{}, VectorCount: count}
	for i := range runs {
		stats.Runs[runs[i].Status]++
		if stats.LastRun == nil || runs[i].StartTime.After(stats.LastRun.StartTime) {
			stats.LastRun = &runs[i]
		}
	}
	return stats, nil
}

// ListRuns returns the runs of a workspace.
func (s *WorkspaceService) ListRuns(ctx context.Context, userID, workspaceID string, opts domain.ListOptions) (domain.Page[domain.WorkspaceRun], error) {
	if _, err := s.authorized(ctx, userID, workspaceID, false); err != nil {
		return domain.Page[domain.WorkspaceRun]{}, err
	}
	runs, err := s.runRepo.List(ctx, workspaceID)
	if err != nil {
		return domain.Page[domain.WorkspaceRun]{}, domain.Storage(err, "failed to list runs")
	}
	startTime := func(a, b domain.WorkspaceRun) bool { return before(a.StartTime, b.StartTime) }
	return paginate(runs, opts, sortFields[domain.WorkspaceRun]{
		"LastModifiedTime": startTime,
		"StartTime":        startTime,
	}), nil
}

// GetRun returns one run.
func (s *WorkspaceService) GetRun(ctx context.Context, userID, workspaceID, runID string) (*domain.WorkspaceRun, error) {
	if _, err := s.authorized(ctx, userID, workspaceID, false); err != nil {
		return nil, err
	}
	run, err := s.runRepo.Get(ctx, workspaceID, runID)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("run %s not found", runID)
		}
		return nil, domain.Storage(err, "failed to load run")
	}
	return run, nil
}

func (s *WorkspaceService) authorized(ctx context.Context, userID, workspaceID string, owner bool) (*domain.Workspace, error) {
	ws, err := s.load(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := s.groups.Authorize(ctx, userID, domain.ResourceWorkspace, ws.ID, owner); err != nil {
		return nil, err
	}
	return ws, nil
}

func (s *WorkspaceService) load(ctx context.Context, workspaceID string) (*domain.Workspace, error) {
	ws, err := s.workspaceRepo.Get(ctx, workspaceID)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("workspace %s not found", workspaceID)
		}
		return nil, domain.Storage(err, "failed to load workspace")
	}
	return ws, nil
}
