package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/packaging"
	"github.com/Rrens/genai-platform/internal/security"
	"github.com/Rrens/genai-platform/internal/task"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	functionRuntime  = "python3.12"
	functionMemoryMB = 1024
	functionTimeout  = 5 * time.Minute
	invokePrincipal  = "bedrock.amazonaws.com"
	minSchemaURLTTL  = time.Hour
	maxCodeBytes     = 50 << 20
	layerNameSuffix  = "-layer"
	contentTypeZip   = "application/zip"
	contentTypeJSON  = "application/json"
)

// ActionGroupInput is the body of an action-group create.
type ActionGroupInput struct {
	Name        string   `json:"ActionGroupName" validate:"required"`
	Description string   `json:"Description" validate:"max=200"`
	Handler     string   `json:"Handler" validate:"required"`
	APISchema   string   `json:"ApiSchema" validate:"required"`
	Code        string   `json:"LambdaCode" validate:"required"`
	Libraries   []string `json:"AttachedLibraries" validate:"max=10"`
}

// ActionGroupUpdate carries the mutable action-group fields. Code is a new
// base64 bundle; a nil Libraries leaves the attachments untouched.
type ActionGroupUpdate struct {
	Description *string  `json:"Description" validate:"omitempty,max=200"`
	Handler     *string  `json:"Handler"`
	APISchema   *string  `json:"ApiSchema"`
	Code        *string  `json:"LambdaCode"`
	Libraries   []string `json:"AttachedLibraries" validate:"omitempty,max=10"`
}

// ActionGroupDetail is an action group with a readable schema link.
type ActionGroupDetail struct {
	domain.ActionGroup
	SchemaURL string `json:"ApiSchemaUrl,omitempty"`
}

// ActionGroupLog is one log object of an action-group function.
type ActionGroupLog struct {
	Name         string    `json:"LogName"`
	LastModified time.Time `json:"LastModifiedTime"`
	URL          string    `json:"Url"`
}

// BuildTask is the payload of the build and update tasks.
type BuildTask struct {
	ActionGroupID string `json:"action_group_id"`
	UserID        string `json:"user_id"`
	CodeUpdated   bool   `json:"code_updated,omitempty"`
}

// LibraryRebuildTask fans a library change out to its action groups.
type LibraryRebuildTask struct {
	LibraryID string `json:"library_id"`
	UserID    string `json:"user_id"`
}

// ActionGroupDeps bundles the collaborators of ActionGroupService.
type ActionGroupDeps struct {
	ActionGroupRepo domain.ActionGroupRepository
	LibraryRepo     domain.LibraryRepository
	AgentRepo       domain.AgentRepository
	Objects         cloud.ObjectStore
	Functions       cloud.Functions
	Roles           cloud.Roles
	Groups          *GroupService
	Publisher       task.Publisher
}

// ActionGroupService builds and maintains the functions behind agent tools.
type ActionGroupService struct {
	actionGroupRepo domain.ActionGroupRepository
	libraryRepo     domain.LibraryRepository
	agentRepo       domain.AgentRepository
	objects         cloud.ObjectStore
	functions       cloud.Functions
	roles           cloud.Roles
	groups          *GroupService
	publisher       task.Publisher
	aws             config.AWSConfig
	project         config.ProjectConfig
	now             func() time.Time

	install   singleflight.Group
	installed atomic.Bool
}

// NewActionGroupService creates a new action group service
func NewActionGroupService(deps ActionGroupDeps, awsCfg config.AWSConfig, project config.ProjectConfig) *ActionGroupService {
	return &ActionGroupService{
		actionGroupRepo: deps.ActionGroupRepo,
		libraryRepo:     deps.LibraryRepo,
		agentRepo:       deps.AgentRepo,
		objects:         deps.Objects,
		functions:       deps.Functions,
		roles:           deps.Roles,
		groups:          deps.Groups,
		publisher:       deps.Publisher,
		aws:             awsCfg,
		project:         project,
		now:             time.Now,
	}
}

// Register binds the build, update and library rebuild handlers.
func (s *ActionGroupService) Register(d *task.Dispatcher) {
	d.Register(task.ActionGroupBuild, s.HandleBuild)
	d.Register(task.ActionGroupUpdate, s.HandleUpdate)
	d.Register(task.LibraryRebuild, s.HandleLibraryRebuild)
}

// functionName turns "foo-bar" into "fooBar".
func functionName(kebab string) string {
	parts := strings.Split(kebab, "-")
	var sb strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			sb.WriteString(p)
			continue
		}
		sb.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	return sb.String()
}

// Create stores the definition and schedules the function build.
func (s *ActionGroupService) Create(ctx context.Context, userID string, in ActionGroupInput) (*domain.ActionGroup, error) {
	if err := security.ValidateKebabName("ActionGroupName", in.Name); err != nil {
		return nil, domain.Invalid("%s", err.Error())
	}
	if err := security.ValidateHandler("Handler", in.Handler); err != nil {
		return nil, domain.Invalid("%s", err.Error())
	}
	if !json.Valid([]byte(in.APISchema)) {
		return nil, domain.Invalid("ApiSchema must be a JSON document")
	}
	code, err := decodeBundle(in.Code)
	if err != nil {
		return nil, err
	}
	switch _, err := s.actionGroupRepo.GetByName(ctx, in.Name); {
	case err == nil:
		return nil, domain.Conflict("action group %s already exists", in.Name)
	case !notFound(err):
		return nil, domain.Storage(err, "failed to check action group name")
	}
	libraries, err := s.checkLibraries(ctx, userID, in.Libraries)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := s.now().UTC()
	ag := &domain.ActionGroup{
		ID:             id,
		Name:           in.Name,
		Description:    in.Description,
		Handler:        in.Handler,
		FunctionName:   resourceName(s.project, functionName(in.Name)),
		SchemaKey:      domain.SchemaKey(id),
		CodeKey:        domain.CodeKey(id),
		Libraries:      libraries,
		Status:         domain.ActionGroupCreating,
		CreatedBy:      userID,
		CreatedAt:      now,
		LastModifiedBy: userID,
		LastModifiedAt: now,
	}

	if err := s.objects.Put(ctx, s.aws.MiscBucket, ag.SchemaKey, strings.NewReader(in.APISchema), contentTypeJSON); err != nil {
		return nil, domain.Upstream(err, "failed to store api schema")
	}
	if err := s.objects.Put(ctx, s.aws.MiscBucket, ag.CodeKey, bytes.NewReader(code), contentTypeZip); err != nil {
		return nil, domain.Upstream(err, "failed to store function code")
	}
	if err := s.actionGroupRepo.Create(ctx, ag); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return nil, err
		}
		return nil, domain.Storage(err, "failed to create action group")
	}
	if err := s.groups.Grant(ctx, userID, domain.ResourceActionGroup, ag.ID); err != nil {
		return nil, err
	}

	if err := task.Enqueue(ctx, s.publisher, task.ActionGroupBuild, BuildTask{ActionGroupID: id, UserID: userID}); err != nil {
		s.finish(ctx, ag, domain.ActionGroupCreateFailed, "failed to schedule build")
		return nil, domain.Upstream(err, "failed to schedule action group build")
	}

	log.Info().Str("action_group_id", id).Str("function", ag.FunctionName).Msg("action group build scheduled")
	return ag, nil
}

func decodeBundle(encoded string) ([]byte, error) {
	code, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, domain.Invalid("LambdaCode must be base64 encoded")
	}
	if len(code) == 0 {
		return nil, domain.Invalid("LambdaCode is empty")
	}
	if len(code) > maxCodeBytes {
		return nil, domain.E(domain.KindFileTooBig, nil, "LambdaCode exceeds %d bytes", maxCodeBytes)
	}
	return code, nil
}

// checkLibraries dedupes ids and requires each library to be readable.
func (s *ActionGroupService) checkLibraries(ctx context.Context, userID string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if contains(out, id) {
			continue
		}
		if err := s.groups.Authorize(ctx, userID, domain.ResourceLibrary, id, false); err != nil {
			return nil, err
		}
		if _, err := s.libraryRepo.Get(ctx, id); err != nil {
			if notFound(err) {
				return nil, domain.NotFoundf("library %s not found", id)
			}
			return nil, domain.Storage(err, "failed to load library")
		}
		out = append(out, id)
	}
	return out, nil
}

// HandleBuild creates the function of a new action group.
func (s *ActionGroupService) HandleBuild(ctx context.Context, env task.Envelope) error {
	var p BuildTask
	if err := env.Decode(&p); err != nil {
		return task.Permanent(err)
	}
	ag, err := s.actionGroupRepo.Get(ctx, p.ActionGroupID)
	if err != nil {
		if notFound(err) {
			return nil
		}
		return err
	}
	if ag.Status != domain.ActionGroupCreating {
		return nil
	}

	if err := s.build(ctx, ag); err != nil {
		log.Error().Err(err).Str("action_group_id", ag.ID).Msg("action group build failed")
		s.finish(ctx, ag, domain.ActionGroupCreateFailed, domain.MessageOf(err))
		return nil
	}
	s.finish(ctx, ag, domain.ActionGroupReady, "")
	log.Info().Str("action_group_id", ag.ID).Str("function", ag.FunctionHandle).Msg("action group ready")
	return nil
}

func (s *ActionGroupService) build(ctx context.Context, ag *domain.ActionGroup) error {
	role, err := s.roles.EnsureRole(ctx, cloud.RoleFunction, ag.FunctionName)
	if err != nil {
		return domain.Upstream(err, "failed to create function role")
	}
	ag.RoleHandle = role

	if err := s.publishLayer(ctx, ag); err != nil {
		return err
	}
	handle, err := s.functions.CreateFunction(ctx, cloud.FunctionSpec{
		Name:            ag.FunctionName,
		RoleHandle:      role,
		Handler:         ag.Handler,
		Runtime:         functionRuntime,
		CodeBucket:      s.aws.MiscBucket,
		CodeKey:         ag.CodeKey,
		Layers:          layersOf(ag),
		MemoryMB:        functionMemoryMB,
		Timeout:         functionTimeout,
		InvokePrincipal: invokePrincipal,
	})
	if err != nil {
		if errors.Is(err, cloud.ErrQuotaExceeded) {
			return domain.E(domain.KindQuotaExceeded, err, "function quota exceeded")
		}
		return domain.Upstream(err, "failed to create function")
	}
	ag.FunctionHandle = handle
	return nil
}

func layersOf(ag *domain.ActionGroup) []string {
	if ag.LayerHandle == "" {
		return nil
	}
	return []string{ag.LayerHandle}
}

func layerName(ag *domain.ActionGroup) string {
	return ag.FunctionName + layerNameSuffix
}

// publishLayer merges the archives of every attached library into one layer,
// publishes it and keeps only the newest version.
func (s *ActionGroupService) publishLayer(ctx context.Context, ag *domain.ActionGroup) error {
	if len(ag.Libraries) == 0 {
		ag.LayerKey, ag.LayerHandle = "", ""
		return nil
	}

	var archives []packaging.Archive
	for _, id := range ag.Libraries {
		lib, err := s.libraryRepo.Get(ctx, id)
		if err != nil {
			return domain.Storage(err, "failed to load library %s", id)
		}
		for _, name := range lib.Archives {
			data, err := s.readObject(ctx, domain.LibraryPrefix(lib.ID)+name)
			if err != nil {
				return domain.Upstream(err, "failed to read archive %s of library %s", name, lib.Name)
			}
			archives = append(archives, packaging.Archive{Name: lib.Name + "/" + name, Data: data})
		}
	}

	var buf bytes.Buffer
	files, err := packaging.MergeLayer(&buf, archives)
	if err != nil {
		return domain.Invalid("failed to build library layer: %s", err.Error())
	}
	key := domain.LayerKey(ag.ID)
	if err := s.objects.Put(ctx, s.aws.MiscBucket, key, &buf, contentTypeZip); err != nil {
		return domain.Upstream(err, "failed to store library layer")
	}
	handle, version, err := s.functions.PublishLayer(ctx, layerName(ag), s.aws.MiscBucket, key, functionRuntime)
	if err != nil {
		return domain.Upstream(err, "failed to publish library layer")
	}
	if err := s.functions.PruneLayer(ctx, layerName(ag), version); err != nil {
		log.Warn().Err(err).Str("action_group_id", ag.ID).Msg("failed to prune old layer versions")
	}
	ag.LayerKey, ag.LayerHandle = key, handle

	log.Debug().Str("action_group_id", ag.ID).Int("files", files).Int64("version", version).Msg("layer published")
	return nil
}

func (s *ActionGroupService) readObject(ctx context.Context, key string) ([]byte, error) {
	r, err := s.objects.Get(ctx, s.aws.MiscBucket, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Update stores the new definition and schedules the function refresh.
func (s *ActionGroupService) Update(ctx context.Context, userID, actionGroupID string, in ActionGroupUpdate) (*domain.ActionGroup, error) {
	ag, err := s.mutable(ctx, userID, actionGroupID)
	if err != nil {
		return nil, err
	}

	if in.Handler != nil {
		if err := security.ValidateHandler("Handler", *in.Handler); err != nil {
			return nil, domain.Invalid("%s", err.Error())
		}
		ag.Handler = *in.Handler
	}
	if in.APISchema != nil && !json.Valid([]byte(*in.APISchema)) {
		return nil, domain.Invalid("ApiSchema must be a JSON document")
	}
	var code []byte
	if in.Code != nil {
		if code, err = decodeBundle(*in.Code); err != nil {
			return nil, err
		}
	}
	if in.Libraries != nil {
		libraries, err := s.checkLibraries(ctx, userID, in.Libraries)
		if err != nil {
			return nil, err
		}
		ag.Libraries = libraries
	}
	if in.Description != nil {
		ag.Description = *in.Description
	}

	if in.APISchema != nil {
		if err := s.objects.Put(ctx, s.aws.MiscBucket, ag.SchemaKey, strings.NewReader(*in.APISchema), contentTypeJSON); err != nil {
			return nil, domain.Upstream(err, "failed to store api schema")
		}
	}
	if code != nil {
		if err := s.objects.Put(ctx, s.aws.MiscBucket, ag.CodeKey, bytes.NewReader(code), contentTypeZip); err != nil {
			return nil, domain.Upstream(err, "failed to store function code")
		}
	}

	ag.Status = domain.ActionGroupUpdating
	ag.Message = ""
	ag.LastModifiedBy = userID
	ag.LastModifiedAt = s.now().UTC()
	if err := s.actionGroupRepo.Update(ctx, ag); err != nil {
		return nil, domain.Storage(err, "failed to update action group")
	}

	payload := BuildTask{ActionGroupID: ag.ID, UserID: userID, CodeUpdated: code != nil}
	if err := task.Enqueue(ctx, s.publisher, task.ActionGroupUpdate, payload); err != nil {
		s.finish(ctx, ag, domain.ActionGroupUpdateFailed, "failed to schedule update")
		return nil, domain.Upstream(err, "failed to schedule action group update")
	}
	return ag, nil
}

// mutable loads an owned, user-defined action group that is not building.
func (s *ActionGroupService) mutable(ctx context.Context, userID, actionGroupID string) (*domain.ActionGroup, error) {
	ag, err := s.load(ctx, actionGroupID)
	if err != nil {
		return nil, err
	}
	if ag.SystemGenerated {
		return nil, domain.Invalid("action group %s is system generated and cannot be modified", ag.Name)
	}
	if err := s.groups.Authorize(ctx, userID, domain.ResourceActionGroup, actionGroupID, true); err != nil {
		return nil, err
	}
	if ag.Status.Busy() {
		return nil, domain.Conflict("action group %s is %s", ag.Name, ag.Status)
	}
	return ag, nil
}

// HandleUpdate refreshes the code, layer and configuration of a function.
func (s *ActionGroupService) HandleUpdate(ctx context.Context, env task.Envelope) error {
	var p BuildTask
	if err := env.Decode(&p); err != nil {
		return task.Permanent(err)
	}
	ag, err := s.actionGroupRepo.Get(ctx, p.ActionGroupID)
	if err != nil {
		if notFound(err) {
			return nil
		}
		return err
	}
	if ag.Status != domain.ActionGroupUpdating {
		return nil
	}
	s.refresh(ctx, ag, p.CodeUpdated)
	return nil
}

// refresh pushes the stored definition to the function and records the
// outcome on the action group.
func (s *ActionGroupService) refresh(ctx context.Context, ag *domain.ActionGroup, codeUpdated bool) {
	err := func() error {
		if ag.FunctionHandle == "" {
			// the original build never produced a function
			return s.build(ctx, ag)
		}
		if codeUpdated {
			if err := s.functions.UpdateFunctionCode(ctx, ag.FunctionName, s.aws.MiscBucket, ag.CodeKey); err != nil {
				return domain.Upstream(err, "failed to update function code")
			}
		}
		if err := s.publishLayer(ctx, ag); err != nil {
			return err
		}
		if err := s.functions.UpdateFunctionConfiguration(ctx, ag.FunctionName, ag.Handler, layersOf(ag)); err != nil {
			return domain.Upstream(err, "failed to update function configuration")
		}
		return nil
	}()
	if err != nil {
		log.Error().Err(err).Str("action_group_id", ag.ID).Msg("action group update failed")
		s.finish(ctx, ag, domain.ActionGroupUpdateFailed, domain.MessageOf(err))
		return
	}
	s.finish(ctx, ag, domain.ActionGroupReady, "")
}

// HandleLibraryRebuild refreshes every action group attaching a library.
func (s *ActionGroupService) HandleLibraryRebuild(ctx context.Context, env task.Envelope) error {
	var p LibraryRebuildTask
	if err := env.Decode(&p); err != nil {
		return task.Permanent(err)
	}
	groups, err := s.actionGroupRepo.ListByLibrary(ctx, p.LibraryID)
	if err != nil {
		return err
	}

	rebuilt := 0
	for i := range groups {
		ag := &groups[i]
		if ag.SystemGenerated || ag.Status.Busy() || ag.Status == domain.ActionGroupCreateFailed {
			log.Warn().Str("action_group_id", ag.ID).Str("status", string(ag.Status)).Msg("skipping library rebuild")
			continue
		}
		ag.Status = domain.ActionGroupUpdating
		ag.LastModifiedAt = s.now().UTC()
		if err := s.actionGroupRepo.Update(ctx, ag); err != nil {
			return err
		}
		s.refresh(ctx, ag, false)
		rebuilt++
	}

	log.Info().Str("library_id", p.LibraryID).Int("action_groups", rebuilt).Msg("library rebuild finished")
	return nil
}

// Delete removes an action group no agent attaches.
func (s *ActionGroupService) Delete(ctx context.Context, userID, actionGroupID string) error {
	ag, err := s.mutable(ctx, userID, actionGroupID)
	if err != nil {
		return err
	}
	agents, err := s.agentRepo.ListByActionGroup(ctx, ag.ID)
	if err != nil {
		return domain.Storage(err, "failed to list agents")
	}
	if len(agents) > 0 {
		names := make([]string, 0, len(agents))
		for _, a := range agents {
			names = append(names, a.Name)
		}
		return domain.Conflict("action group %s is attached to agents [%s]", ag.Name, strings.Join(names, ", "))
	}

	if ag.FunctionHandle != "" {
		if err := s.functions.DeleteFunction(ctx, ag.FunctionName); err != nil {
			return domain.Upstream(err, "failed to delete function")
		}
	}
	if ag.LayerHandle != "" {
		if err := s.functions.PruneLayer(ctx, layerName(ag), math.MaxInt64); err != nil {
			log.Warn().Err(err).Str("action_group_id", ag.ID).Msg("failed to delete layer versions")
		}
	}
	if ag.RoleHandle != "" {
		if err := s.roles.DeleteRole(ctx, ag.RoleHandle); err != nil {
			log.Warn().Err(err).Str("action_group_id", ag.ID).Msg("failed to delete function role")
		}
	}
	for _, prefix := range []string{domain.DefinitionPrefix(ag.ID), domain.LogPrefix(ag.ID)} {
		if err := s.objects.DeletePrefix(ctx, s.aws.MiscBucket, prefix); err != nil {
			return domain.Upstream(err, "failed to delete %s", prefix)
		}
	}
	if err := s.actionGroupRepo.Delete(ctx, ag.ID); err != nil && !notFound(err) {
		return domain.Storage(err, "failed to delete action group")
	}
	if err := s.groups.Revoke(ctx, domain.ResourceActionGroup, ag.ID); err != nil {
		return err
	}

	log.Info().Str("action_group_id", ag.ID).Msg("action group deleted")
	return nil
}

// Get returns an action group with a presigned link to its schema.
func (s *ActionGroupService) Get(ctx context.Context, userID, actionGroupID string) (*ActionGroupDetail, error) {
	ag, err := s.readable(ctx, userID, actionGroupID)
	if err != nil {
		return nil, err
	}
	detail := &ActionGroupDetail{ActionGroup: *ag}
	if ag.Status == domain.ActionGroupReady || ag.Status == domain.ActionGroupUpdateFailed {
		url, err := s.objects.PresignGet(ctx, s.aws.MiscBucket, ag.SchemaKey, s.schemaURLTTL())
		if err != nil {
			return nil, domain.Upstream(err, "failed to sign api schema url")
		}
		detail.SchemaURL = url
	}
	return detail, nil
}

func (s *ActionGroupService) schemaURLTTL() time.Duration {
	return max(s.aws.PresignTTL, minSchemaURLTTL)
}

// List returns the pre-baked action groups plus those visible to userID.
func (s *ActionGroupService) List(ctx context.Context, userID string, opts domain.ListOptions) (domain.Page[domain.ActionGroup], error) {
	if err := s.ensurePrebaked(ctx); err != nil {
		log.Error().Err(err).Msg("failed to install system action groups")
	}

	ids, err := s.groups.Visible(ctx, userID, domain.ResourceActionGroup)
	if err != nil {
		return domain.Page[domain.ActionGroup]{}, err
	}
	owned, err := s.actionGroupRepo.List(ctx, ids)
	if err != nil {
		return domain.Page[domain.ActionGroup]{}, domain.Storage(err, "failed to list action groups")
	}
	system, err := s.actionGroupRepo.ListSystemGenerated(ctx)
	if err != nil {
		return domain.Page[domain.ActionGroup]{}, domain.Storage(err, "failed to list action groups")
	}

	seen := make(map[string]bool, len(owned)+len(system))
	all := make([]domain.ActionGroup, 0, len(owned)+len(system))
	for _, ag := range append(system, owned...) {
		if !seen[ag.ID] {
			seen[ag.ID] = true
			all = append(all, ag)
		}
	}
	return paginate(all, opts, sortFields[domain.ActionGroup]{
		"LastModifiedTime": func(a, b domain.ActionGroup) bool { return before(a.LastModifiedAt, b.LastModifiedAt) },
		"CreationTime":     func(a, b domain.ActionGroup) bool { return before(a.CreatedAt, b.CreatedAt) },
		"ActionGroupName":  func(a, b domain.ActionGroup) bool { return a.Name < b.Name },
	}), nil
}

// Logs lists the execution logs of an action group as presigned links.
func (s *ActionGroupService) Logs(ctx context.Context, userID, actionGroupID string) ([]ActionGroupLog, error) {
	ag, err := s.readable(ctx, userID, actionGroupID)
	if err != nil {
		return nil, err
	}
	objects, err := s.objects.List(ctx, s.aws.MiscBucket, domain.LogPrefix(ag.ID))
	if err != nil {
		return nil, domain.Upstream(err, "failed to list logs")
	}
	logs := make([]ActionGroupLog, 0, len(objects))
	for _, o := range objects {
		url, err := s.objects.PresignGet(ctx, s.aws.MiscBucket, o.Key, s.aws.PresignTTL)
		if err != nil {
			return nil, domain.Upstream(err, "failed to sign log url")
		}
		logs = append(logs, ActionGroupLog{
			Name:         strings.TrimPrefix(o.Key, domain.LogPrefix(ag.ID)),
			LastModified: o.LastModified,
			URL:          url,
		})
	}
	return logs, nil
}

// readable loads an action group the caller may see. Pre-baked ones are
// readable by everyone.
func (s *ActionGroupService) readable(ctx context.Context, userID, actionGroupID string) (*domain.ActionGroup, error) {
	ag, err := s.load(ctx, actionGroupID)
	if err != nil {
		return nil, err
	}
	if !ag.SystemGenerated {
		if err := s.groups.Authorize(ctx, userID, domain.ResourceActionGroup, actionGroupID, false); err != nil {
			return nil, err
		}
	}
	return ag, nil
}

// finish records a terminal build state. The store write survives a
// cancelled task context.
func (s *ActionGroupService) finish(ctx context.Context, ag *domain.ActionGroup, status domain.ActionGroupStatus, message string) {
	ag.Status = status
	ag.Message = message
	ag.LastModifiedAt = s.now().UTC()
	if err := s.actionGroupRepo.Update(context.WithoutCancel(ctx), ag); err != nil {
		log.Error().Err(err).Str("action_group_id", ag.ID).Str("status", string(status)).Msg("failed to record action group status")
	}
}

func (s *ActionGroupService) load(ctx context.Context, actionGroupID string) (*domain.ActionGroup, error) {
	ag, err := s.actionGroupRepo.Get(ctx, actionGroupID)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("action group %s not found", actionGroupID)
		}
		return nil, domain.Storage(err, "failed to load action group")
	}
	return ag, nil
}
