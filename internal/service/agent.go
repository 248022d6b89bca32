package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/security"
	"github.com/Rrens/genai-platform/internal/task"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	backoffFactor  = 3
	aliasName      = "live"
	draftVersion   = "DRAFT"
	defaultIdleTTL = time.Hour
	minInstruction = 40

	defaultPrepareRetries   = 4
	defaultReprepareRetries = 6
)

// AgentInput is the body of an agent create.
type AgentInput struct {
	Name          string `json:"AgentName" validate:"required,min=3,max=64"`
	Description   string `json:"Description" validate:"max=200"`
	BaseModel     string `json:"BaseModel" validate:"required"`
	Instruction   string `json:"Instruction" validate:"required,max=4000"`
	QueryFollowUp bool   `json:"QueryFollowUp"`
}

// AgentWorkspace names a workspace to attach.
type AgentWorkspace struct {
	ID          string `json:"WorkspaceId" validate:"required"`
	Description string `json:"Description" validate:"max=200"`
}

// AgentUpdate carries the mutable agent fields. A nil Workspaces leaves the
// attachments untouched.
type AgentUpdate struct {
	Description *string          `json:"Description" validate:"omitempty,max=200"`
	Workspaces  []AgentWorkspace `json:"AttachedWorkspaces" validate:"omitempty,max=2,dive"`
}

// ActionGroupsInput is the requested action-group set of an agent.
type ActionGroupsInput struct {
	ActionGroupIDs []string `json:"ActionGroups" validate:"max=5"`
}

// AgentDeps bundles the collaborators of AgentService.
type AgentDeps struct {
	AgentRepo       domain.AgentRepository
	ActionGroupRepo domain.ActionGroupRepository
	WorkspaceRepo   domain.WorkspaceRepository
	Agents          cloud.Agents
	Roles           cloud.Roles
	Groups          *GroupService
}

// AgentService provisions agents and reconfigures their tools.
type AgentService struct {
	agentRepo       domain.AgentRepository
	actionGroupRepo domain.ActionGroupRepository
	workspaceRepo   domain.WorkspaceRepository
	agents          cloud.Agents
	roles           cloud.Roles
	groups          *GroupService
	cfg             config.AgentConfig
	aws             config.AWSConfig
	project         config.ProjectConfig
	now             func() time.Time
}

// NewAgentService creates a new agent service
func NewAgentService(deps AgentDeps, cfg config.AgentConfig, awsCfg config.AWSConfig, project config.ProjectConfig) *AgentService {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.PrepareRetries <= 0 {
		cfg.PrepareRetries = defaultPrepareRetries
	}
	if cfg.ReprepareRetries <= 0 {
		cfg.ReprepareRetries = defaultReprepareRetries
	}
	if cfg.IdleSessionTTL <= 0 {
		cfg.IdleSessionTTL = defaultIdleTTL
	}
	return &AgentService{
		agentRepo:       deps.AgentRepo,
		actionGroupRepo: deps.ActionGroupRepo,
		workspaceRepo:   deps.WorkspaceRepo,
		agents:          deps.Agents,
		roles:           deps.Roles,
		groups:          deps.Groups,
		cfg:             cfg,
		aws:             awsCfg,
		project:         project,
		now:             time.Now,
	}
}

var _ AgentInvoker = (*AgentService)(nil)

// Create provisions an agent and waits until its first version is live.
func (s *AgentService) Create(ctx context.Context, userID string, in AgentInput) (*domain.Agent, error) {
	if err := security.ValidateResourceName("AgentName", in.Name); err != nil {
		return nil, domain.Invalid("%s", err.Error())
	}
	if len(in.Instruction) < minInstruction {
		return nil, domain.Invalid("Instruction must be at least %d characters", minInstruction)
	}
	if !contains(s.cfg.ToolModels, in.BaseModel) {
		return nil, domain.Invalid("model %s does not support agents", in.BaseModel)
	}
	switch _, err := s.agentRepo.GetByName(ctx, in.Name); {
	case err == nil:
		return nil, domain.Conflict("agent %s already exists", in.Name)
	case !notFound(err):
		return nil, domain.Storage(err, "failed to check agent name")
	}

	id := uuid.NewString()
	name := resourceName(s.project, "agent", id[:8])

	role, err := s.roles.EnsureRole(ctx, cloud.RoleAgent, name)
	if err != nil {
		return nil, domain.Upstream(err, "failed to create agent role")
	}
	ref, err := s.agents.CreateAgent(ctx, cloud.AgentSpec{
		Name:          name,
		Description:   in.Description,
		RoleHandle:    role,
		Model:         in.BaseModel,
		Instruction:   in.Instruction,
		EncryptionKey: s.aws.AgentEncryptionKeyArn,
		IdleTTL:       s.cfg.IdleSessionTTL,
	})
	if err != nil {
		if errors.Is(err, cloud.ErrQuotaExceeded) {
			return nil, domain.E(domain.KindQuotaExceeded, err, "agent quota exceeded")
		}
		return nil, domain.Upstream(err, "failed to create agent")
	}

	aliasID, err := s.bringUp(ctx, ref)
	if err != nil {
		if derr := s.agents.DeleteAgent(context.WithoutCancel(ctx), ref); derr != nil {
			log.Warn().Err(derr).Str("agent_ref", ref).Msg("failed to remove agent after create failure")
		}
		return nil, err
	}

	now := s.now().UTC()
	agent := &domain.Agent{
		ID:             id,
		Name:           in.Name,
		Description:    in.Description,
		ReferenceID:    ref,
		AliasID:        aliasID,
		Version:        1,
		BaseModel:      in.BaseModel,
		Instruction:    in.Instruction,
		QueryFollowUp:  in.QueryFollowUp,
		Status:         domain.AgentPrepared,
		ActionGroups:   []domain.AttachedActionGroup{},
		Workspaces:     []domain.AttachedWorkspace{},
		CreatedBy:      userID,
		CreatedAt:      now,
		LastModifiedBy: userID,
		LastModifiedAt: now,
	}
	if err := s.agentRepo.Create(ctx, agent); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return nil, err
		}
		return nil, domain.Storage(err, "failed to create agent")
	}
	if err := s.groups.Grant(ctx, userID, domain.ResourceAgent, agent.ID); err != nil {
		return nil, err
	}

	log.Info().Str("agent_id", agent.ID).Str("agent_ref", ref).Msg("agent created")
	return agent, nil
}

// bringUp waits for a new agent to settle, prepares it and cuts its alias.
func (s *AgentService) bringUp(ctx context.Context, ref string) (string, error) {
	if err := s.await(ctx, ref, domain.AgentNotPrepared, s.cfg.PrepareRetries); err != nil {
		return "", err
	}
	if err := s.prepare(ctx, ref, s.cfg.PrepareRetries); err != nil {
		return "", err
	}
	aliasID, err := s.agents.CreateAlias(ctx, ref, aliasName)
	if err != nil {
		return "", domain.Upstream(err, "failed to create agent alias")
	}
	if _, err := s.awaitAlias(ctx, ref, aliasID); err != nil {
		return "", err
	}
	return aliasID, nil
}

// await polls the agent until it reaches want.
func (s *AgentService) await(ctx context.Context, ref string, want domain.AgentStatus, retries int) error {
	err := task.Poll(ctx, s.cfg.BackoffBase, backoffFactor, retries, func(ctx context.Context) (bool, error) {
		state, err := s.agents.GetAgent(ctx, ref)
		if err != nil {
			return false, domain.Upstream(err, "failed to read agent state")
		}
		if state.Status == domain.AgentFailed {
			return false, domain.Upstream(errors.New(strings.Join(state.FailureReasons, "; ")), "agent failed")
		}
		return state.Status == want, nil
	})
	if errors.Is(err, task.ErrPollExhausted) {
		return domain.E(domain.KindTimeout, err, "agent did not reach %s", want)
	}
	return err
}

func (s *AgentService) prepare(ctx context.Context, ref string, retries int) error {
	if err := s.agents.PrepareAgent(ctx, ref); err != nil {
		return domain.Upstream(err, "failed to prepare agent")
	}
	return s.await(ctx, ref, domain.AgentPrepared, retries)
}

func (s *AgentService) awaitAlias(ctx context.Context, ref, aliasID string) (string, error) {
	var version string
	err := task.Poll(ctx, s.cfg.BackoffBase, backoffFactor, s.cfg.PrepareRetries, func(ctx context.Context) (bool, error) {
		state, err := s.agents.GetAlias(ctx, ref, aliasID)
		if err != nil {
			return false, domain.Upstream(err, "failed to read agent alias")
		}
		if state.Failed {
			return false, domain.Upstream(errors.New("alias failed"), "failed to update agent alias")
		}
		version = state.Version
		return state.Ready, nil
	})
	if errors.Is(err, task.ErrPollExhausted) {
		return "", domain.E(domain.KindTimeout, err, "agent alias did not become ready")
	}
	return version, err
}

// rollForward points the alias at a fresh version and drops the old one.
func (s *AgentService) rollForward(ctx context.Context, agent *domain.Agent) error {
	prev, err := s.agents.GetAlias(ctx, agent.ReferenceID, agent.AliasID)
	if err != nil {
		return domain.Upstream(err, "failed to read agent alias")
	}
	if err := s.agents.UpdateAlias(ctx, agent.ReferenceID, agent.AliasID, aliasName); err != nil {
		return domain.Upstream(err, "failed to update agent alias")
	}
	next, err := s.awaitAlias(ctx, agent.ReferenceID, agent.AliasID)
	if err != nil {
		return err
	}
	if prev.Version != "" && prev.Version != draftVersion && prev.Version != next {
		if err := s.agents.DeleteVersion(ctx, agent.ReferenceID, prev.Version); err != nil {
			log.Warn().Err(err).Str("agent_id", agent.ID).Str("version", prev.Version).Msg("failed to delete old agent version")
		}
	}
	agent.Version++
	return nil
}

// Update changes the description and the attached workspaces of an agent.
func (s *AgentService) Update(ctx context.Context, userID, agentID string, in AgentUpdate) (*domain.Agent, error) {
	agent, err := s.editable(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	if in.Description != nil {
		agent.Description = *in.Description
	}
	if in.Workspaces != nil {
		if err := s.attachWorkspaces(ctx, userID, agent, in.Workspaces); err != nil {
			return nil, err
		}
	}
	if err := s.save(ctx, agent, userID); err != nil {
		return nil, err
	}
	return agent, nil
}

func (s *AgentService) attachWorkspaces(ctx context.Context, userID string, agent *domain.Agent, requested []AgentWorkspace) error {
	if len(requested) > domain.MaxAgentWorkspaces {
		return domain.Invalid("an agent can attach at most %d workspaces", domain.MaxAgentWorkspaces)
	}

	wanted := make([]domain.AttachedWorkspace, 0, len(requested))
	seen := make(map[string]bool)
	for _, w := range requested {
		if seen[w.ID] {
			continue
		}
		seen[w.ID] = true
		if err := s.groups.Authorize(ctx, userID, domain.ResourceWorkspace, w.ID, false); err != nil {
			return err
		}
		ws, err := s.workspaceRepo.Get(ctx, w.ID)
		if err != nil {
			if notFound(err) {
				return domain.NotFoundf("workspace %s not found", w.ID)
			}
			return domain.Storage(err, "failed to load workspace")
		}
		if ws.Status != domain.WorkspaceActive || ws.KnowledgeBaseID == "" {
			return domain.Invalid("workspace %s is not active", w.ID)
		}
		desc := w.Description
		if desc == "" {
			desc = fmt.Sprintf("Knowledge base of workspace %s. %s", ws.Name, ws.Description)
		}
		wanted = append(wanted, domain.AttachedWorkspace{ID: ws.ID, KnowledgeBaseID: ws.KnowledgeBaseID, Description: desc})
	}

	var removed, added []domain.AttachedWorkspace
	for _, cur := range agent.Workspaces {
		if !seen[cur.ID] {
			removed = append(removed, cur)
		}
	}
	for _, w := range wanted {
		if !agent.HasWorkspace(w.ID) {
			added = append(added, w)
		}
	}
	if len(removed) == 0 && len(added) == 0 {
		return nil
	}

	s.mark(ctx, agent, domain.AgentUpdating, "")
	err := func() error {
		for _, w := range removed {
			if err := s.agents.DisassociateKnowledgeBase(ctx, agent.ReferenceID, w.KnowledgeBaseID); err != nil {
				return domain.Upstream(err, "failed to detach workspace %s", w.ID)
			}
		}
		for _, w := range added {
			if err := s.agents.AssociateKnowledgeBase(ctx, agent.ReferenceID, w.KnowledgeBaseID, w.Description); err != nil {
				return domain.Upstream(err, "failed to attach workspace %s", w.ID)
			}
		}
		if err := s.prepare(ctx, agent.ReferenceID, s.cfg.PrepareRetries); err != nil {
			return err
		}
		return s.rollForward(ctx, agent)
	}()
	if err != nil {
		s.mark(ctx, agent, domain.AgentFailed, domain.MessageOf(err))
		return err
	}

	agent.Workspaces = wanted
	agent.Status = domain.AgentPrepared
	agent.Message = ""
	log.Info().Str("agent_id", agent.ID).Int("added", len(added)).Int("removed", len(removed)).Msg("agent workspaces updated")
	return nil
}

// UpdateActionGroups replaces the action-group set of an agent. A failed
// re-prepare restores the previous set before the error is returned.
func (s *AgentService) UpdateActionGroups(ctx context.Context, userID, agentID string, in ActionGroupsInput) (*domain.Agent, error) {
	agent, err := s.editable(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	if len(in.ActionGroupIDs) > domain.MaxAgentActionGroups {
		return nil, domain.Invalid("an agent can attach at most %d action groups", domain.MaxAgentActionGroups)
	}

	wanted := make(map[string]bool)
	var ordered []string
	for _, id := range in.ActionGroupIDs {
		if !wanted[id] {
			wanted[id] = true
			ordered = append(ordered, id)
		}
	}

	groups := make(map[string]*domain.ActionGroup)
	for _, id := range ordered {
		ag, err := s.usableActionGroup(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		groups[id] = ag
	}

	var removed []domain.AttachedActionGroup
	for _, cur := range agent.ActionGroups {
		if wanted[cur.ID] {
			continue
		}
		ag, err := s.actionGroupRepo.Get(ctx, cur.ID)
		if err != nil {
			return nil, domain.Storage(err, "failed to load action group %s", cur.ID)
		}
		groups[cur.ID] = ag
		removed = append(removed, cur)
	}
	var additions []string
	for _, id := range ordered {
		if !agent.HasActionGroup(id) {
			additions = append(additions, id)
		}
	}
	if len(removed) == 0 && len(additions) == 0 {
		return agent, nil
	}

	previous := append([]domain.AttachedActionGroup(nil), agent.ActionGroups...)
	s.mark(ctx, agent, domain.AgentUpdating, "")

	var added []domain.AttachedActionGroup
	var dropped []domain.AttachedActionGroup
	err = func() error {
		for _, cur := range removed {
			if err := s.agents.DeleteActionGroup(ctx, agent.ReferenceID, cur.ReferenceID, groups[cur.ID].Name); err != nil {
				return domain.Upstream(err, "failed to detach action group %s", cur.ID)
			}
			dropped = append(dropped, cur)
		}
		for _, id := range additions {
			ref, err := s.agents.CreateActionGroup(ctx, agent.ReferenceID, s.actionGroupSpec(groups[id]))
			if err != nil {
				return domain.Upstream(err, "failed to attach action group %s", id)
			}
			added = append(added, domain.AttachedActionGroup{ID: id, ReferenceID: ref})
		}
		return s.prepare(ctx, agent.ReferenceID, s.cfg.ReprepareRetries)
	}()
	if err != nil {
		agent.ActionGroups = s.restoreActionGroups(ctx, agent, previous, added, dropped, groups)
		status, message := domain.AgentPrepared, domain.MessageOf(err)
		if perr := s.prepare(ctx, agent.ReferenceID, s.cfg.ReprepareRetries); perr != nil {
			log.Error().Err(perr).Str("agent_id", agent.ID).Msg("failed to re-prepare agent after rollback")
			status = domain.AgentFailed
		}
		s.mark(ctx, agent, status, message)
		return nil, err
	}

	next := make([]domain.AttachedActionGroup, 0, len(ordered))
	for _, id := range ordered {
		next = append(next, attachedRef(id, previous, added))
	}
	agent.ActionGroups = next
	if err := s.rollForward(ctx, agent); err != nil {
		s.mark(ctx, agent, domain.AgentFailed, domain.MessageOf(err))
		return nil, err
	}
	agent.Status = domain.AgentPrepared
	agent.Message = ""
	if err := s.save(ctx, agent, userID); err != nil {
		return nil, err
	}

	log.Info().Str("agent_id", agent.ID).Int("added", len(added)).Int("removed", len(dropped)).Msg("agent action groups updated")
	return agent, nil
}

// restoreActionGroups reverses every applied add and re-adds every applied
// removal. It returns the attachment list matching the previous set.
func (s *AgentService) restoreActionGroups(
	ctx context.Context,
	agent *domain.Agent,
	previous, added, dropped []domain.AttachedActionGroup,
	groups map[string]*domain.ActionGroup,
) []domain.AttachedActionGroup {
	ctx = context.WithoutCancel(ctx)
	for i := len(added) - 1; i >= 0; i-- {
		a := added[i]
		if err := s.agents.DeleteActionGroup(ctx, agent.ReferenceID, a.ReferenceID, groups[a.ID].Name); err != nil {
			log.Error().Err(err).Str("agent_id", agent.ID).Str("action_group_id", a.ID).Msg("rollback: failed to detach action group")
		}
	}

	readded := make(map[string]string)
	for _, d := range dropped {
		ref, err := s.agents.CreateActionGroup(ctx, agent.ReferenceID, s.actionGroupSpec(groups[d.ID]))
		if err != nil {
			log.Error().Err(err).Str("agent_id", agent.ID).Str("action_group_id", d.ID).Msg("rollback: failed to re-attach action group")
			continue
		}
		readded[d.ID] = ref
	}

	restored := make([]domain.AttachedActionGroup, 0, len(previous))
	for _, p := range previous {
		if ref, ok := readded[p.ID]; ok {
			p.ReferenceID = ref
		}
		restored = append(restored, p)
	}
	return restored
}

func attachedRef(id string, lists ...[]domain.AttachedActionGroup) domain.AttachedActionGroup {
	for _, list := range lists {
		for _, a := range list {
			if a.ID == id {
				return a
			}
		}
	}
	return domain.AttachedActionGroup{ID: id}
}

func (s *AgentService) actionGroupSpec(ag *domain.ActionGroup) cloud.ActionGroupSpec {
	return cloud.ActionGroupSpec{
		Name:           ag.Name,
		Description:    ag.Description,
		FunctionHandle: ag.FunctionHandle,
		SchemaBucket:   s.aws.MiscBucket,
		SchemaKey:      ag.SchemaKey,
	}
}

// usableActionGroup loads an action group the caller may attach.
func (s *AgentService) usableActionGroup(ctx context.Context, userID, id string) (*domain.ActionGroup, error) {
	ag, err := s.actionGroupRepo.Get(ctx, id)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("action group %s not found", id)
		}
		return nil, domain.Storage(err, "failed to load action group")
	}
	if !ag.SystemGenerated {
		if err := s.groups.Authorize(ctx, userID, domain.ResourceActionGroup, id, false); err != nil {
			return nil, err
		}
	}
	if ag.Status != domain.ActionGroupReady {
		return nil, domain.Invalid("action group %s is %s", ag.Name, ag.Status)
	}
	return ag, nil
}

// Delete removes an agent from the runtime and the catalog.
func (s *AgentService) Delete(ctx context.Context, userID, agentID string) error {
	if err := s.groups.Authorize(ctx, userID, domain.ResourceAgent, agentID, true); err != nil {
		return err
	}
	agent, err := s.load(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status == domain.AgentUpdating || agent.Status == domain.AgentCreating {
		return domain.Conflict("agent %s is %s", agent.Name, agent.Status)
	}

	if agent.ReferenceID != "" {
		if err := s.agents.DeleteAgent(ctx, agent.ReferenceID); err != nil {
			return domain.Upstream(err, "failed to delete agent")
		}
	}
	if err := s.agentRepo.Delete(ctx, agent.ID); err != nil && !notFound(err) {
		return domain.Storage(err, "failed to delete agent")
	}
	if err := s.groups.Revoke(ctx, domain.ResourceAgent, agent.ID); err != nil {
		return err
	}
	log.Info().Str("agent_id", agent.ID).Msg("agent deleted")
	return nil
}

// Get returns an agent readable by userID.
func (s *AgentService) Get(ctx context.Context, userID, agentID string) (*domain.Agent, error) {
	if err := s.groups.Authorize(ctx, userID, domain.ResourceAgent, agentID, false); err != nil {
		return nil, err
	}
	return s.load(ctx, agentID)
}

// List returns the agents visible to userID.
func (s *AgentService) List(ctx context.Context, userID string, opts domain.ListOptions) (domain.Page[domain.Agent], error) {
	ids, err := s.groups.Visible(ctx, userID, domain.ResourceAgent)
	if err != nil {
		return domain.Page[domain.Agent]{}, err
	}
	agents, err := s.agentRepo.List(ctx, ids)
	if err != nil {
		return domain.Page[domain.Agent]{}, domain.Storage(err, "failed to list agents")
	}
	return paginate(agents, opts, sortFields[domain.Agent]{
		"LastModifiedTime": func(a, b domain.Agent) bool { return before(a.LastModifiedAt, b.LastModifiedAt) },
		"CreationTime":     func(a, b domain.Agent) bool { return before(a.CreatedAt, b.CreatedAt) },
		"AgentName":        func(a, b domain.Agent) bool { return a.Name < b.Name },
	}), nil
}

// ListActionGroups returns the action groups attached to an agent.
func (s *AgentService) ListActionGroups(ctx context.Context, userID, agentID string) ([]domain.ActionGroup, error) {
	agent, err := s.Get(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ActionGroup, 0, len(agent.ActionGroups))
	for _, a := range agent.ActionGroups {
		ag, err := s.actionGroupRepo.Get(ctx, a.ID)
		if err != nil {
			if notFound(err) {
				continue
			}
			return nil, domain.Storage(err, "failed to load action group")
		}
		out = append(out, *ag)
	}
	return out, nil
}

// Invoke opens an agent turn on the runtime.
func (s *AgentService) Invoke(ctx context.Context, in AgentInvocation) (<-chan cloud.AgentEvent, error) {
	if err := s.groups.Authorize(ctx, in.UserID, domain.ResourceAgent, in.AgentID, false); err != nil {
		return nil, err
	}
	agent, err := s.load(ctx, in.AgentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != domain.AgentPrepared {
		return nil, domain.Invalid("agent %s is %s", agent.Name, agent.Status)
	}
	if !in.DataPlaneConnected {
		for _, a := range agent.ActionGroups {
			ag, err := s.actionGroupRepo.Get(ctx, a.ID)
			if err != nil {
				return nil, domain.Storage(err, "failed to load action group")
			}
			if ag.SystemGenerated {
				return nil, domain.Unauthorized("agent %s needs a connected Data Plane account", agent.Name)
			}
		}
	}

	events, err := s.agents.Invoke(ctx, cloud.InvokeRequest{
		AgentRef:  agent.ReferenceID,
		AliasID:   agent.AliasID,
		SessionID: in.SessionID,
		Input:     in.UserID + " : " + in.Input,
	})
	if err != nil {
		return nil, domain.Upstream(err, "failed to invoke agent")
	}
	return events, nil
}

// editable loads an owned agent that is ready for reconfiguration.
func (s *AgentService) editable(ctx context.Context, userID, agentID string) (*domain.Agent, error) {
	if err := s.groups.Authorize(ctx, userID, domain.ResourceAgent, agentID, true); err != nil {
		return nil, err
	}
	agent, err := s.load(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != domain.AgentPrepared && agent.Status != domain.AgentFailed {
		return nil, domain.Conflict("agent %s is %s", agent.Name, agent.Status)
	}
	return agent, nil
}

// mark persists a status change without failing the caller.
func (s *AgentService) mark(ctx context.Context, agent *domain.Agent, status domain.AgentStatus, message string) {
	agent.Status = status
	agent.Message = message
	agent.LastModifiedAt = s.now().UTC()
	if err := s.agentRepo.Update(context.WithoutCancel(ctx), agent); err != nil {
		log.Error().Err(err).Str("agent_id", agent.ID).Str("status", string(status)).Msg("failed to record agent status")
	}
}

func (s *AgentService) save(ctx context.Context, agent *domain.Agent, userID string) error {
	agent.LastModifiedBy = userID
	agent.LastModifiedAt = s.now().UTC()
	if err := s.agentRepo.Update(ctx, agent); err != nil {
		return domain.Storage(err, "failed to update agent")
	}
	return nil
}

func (s *AgentService) load(ctx context.Context, agentID string) (*domain.Agent, error) {
	agent, err := s.agentRepo.Get(ctx, agentID)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("agent %s not found", agentID)
		}
		return nil, domain.Storage(err, "failed to load agent")
	}
	return agent, nil
}
