package service

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type actionGroupFixture struct {
	svc       *ActionGroupService
	agRepo    *MockActionGroupRepository
	libRepo   *MockLibraryRepository
	agentRepo *MockAgentRepository
	groupRepo *MockGroupRepository
	objects   *MockObjectStore
	functions *MockFunctions
	roles     *MockRoles
	publisher *MockPublisher
}

func newActionGroupFixture() *actionGroupFixture {
	f := &actionGroupFixture{
		agRepo:    new(MockActionGroupRepository),
		libRepo:   new(MockLibraryRepository),
		agentRepo: new(MockAgentRepository),
		groupRepo: new(MockGroupRepository),
		objects:   new(MockObjectStore),
		functions: new(MockFunctions),
		roles:     new(MockRoles),
		publisher: new(MockPublisher),
	}
	f.svc = NewActionGroupService(ActionGroupDeps{
		ActionGroupRepo: f.agRepo,
		LibraryRepo:     f.libRepo,
		AgentRepo:       f.agentRepo,
		Objects:         f.objects,
		Functions:       f.functions,
		Roles:           f.roles,
		Groups:          NewGroupService(f.groupRepo),
		Publisher:       f.publisher,
	}, config.AWSConfig{
		MiscBucket:           "misc-bucket",
		PrebakedFunctionArns: map[string]string{"datasetoperations": "arn:aws:lambda:fn:datasets"},
	}, config.ProjectConfig{ShortName: "gp", Environment: "test"})
	return f
}

func validActionGroupInput() ActionGroupInput {
	return ActionGroupInput{
		Name:        "dataset-tools",
		Description: "Tools over datasets",
		Handler:     "app.lambda_handler",
		APISchema:   `{"openapi":"3.0.0","paths":{}}`,
		Code:        base64.StdEncoding.EncodeToString([]byte("PK\x03\x04code")),
	}
}

func TestFunctionName(t *testing.T) {
	assert.Equal(t, "datasetTools", functionName("dataset-tools"))
	assert.Equal(t, "single", functionName("single"))
	assert.Equal(t, "aBC", functionName("a-b-c"))
}

func TestActionGroupService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newActionGroupFixture()
		f.agRepo.On("GetByName", ctx, "dataset-tools").Return(nil, domain.NotFoundf("not found"))
		f.objects.On("Put", ctx, "misc-bucket", mock.AnythingOfType("string"), mock.Anything, contentTypeJSON).Return(nil).Once()
		f.objects.On("Put", ctx, "misc-bucket", mock.AnythingOfType("string"), mock.Anything, contentTypeZip).Return(nil).Once()
		f.agRepo.On("Create", ctx, mock.MatchedBy(func(ag *domain.ActionGroup) bool {
			return ag.Status == domain.ActionGroupCreating && ag.FunctionName == "gp-test-datasetTools"
		})).Return(nil)
		f.groupRepo.On("DefaultGroup", ctx, "user-1", domain.AccessOwner).Return(&domain.Group{ID: "grp-1"}, nil)
		f.groupRepo.On("AddResource", ctx, "grp-1", domain.ResourceActionGroup, mock.AnythingOfType("string")).Return(nil)
		f.publisher.On("Publish", ctx, mock.MatchedBy(func(env task.Envelope) bool {
			return env.Kind == task.ActionGroupBuild
		})).Return(nil)

		ag, err := f.svc.Create(ctx, "user-1", validActionGroupInput())
		require.NoError(t, err)
		assert.Equal(t, domain.SchemaKey(ag.ID), ag.SchemaKey)
		assert.Equal(t, domain.CodeKey(ag.ID), ag.CodeKey)
		assert.Empty(t, ag.Libraries)
		f.agRepo.AssertExpectations(t)
		f.objects.AssertExpectations(t)
		f.publisher.AssertExpectations(t)
	})

	t.Run("schedule failure marks create failed", func(t *testing.T) {
		f := newActionGroupFixture()
		f.agRepo.On("GetByName", ctx, "dataset-tools").Return(nil, domain.NotFoundf("not found"))
		f.objects.On("Put", ctx, "misc-bucket", mock.AnythingOfType("string"), mock.Anything, mock.AnythingOfType("string")).Return(nil)
		f.agRepo.On("Create", ctx, mock.AnythingOfType("*domain.ActionGroup")).Return(nil)
		f.groupRepo.On("DefaultGroup", ctx, "user-1", domain.AccessOwner).Return(&domain.Group{ID: "grp-1"}, nil)
		f.groupRepo.On("AddResource", ctx, "grp-1", domain.ResourceActionGroup, mock.AnythingOfType("string")).Return(nil)
		f.publisher.On("Publish", ctx, mock.Anything).Return(errors.New("broker down"))
		f.agRepo.On("Update", mock.Anything, mock.MatchedBy(func(ag *domain.ActionGroup) bool {
			return ag.Status == domain.ActionGroupCreateFailed
		})).Return(nil)

		_, err := f.svc.Create(ctx, "user-1", validActionGroupInput())
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindUpstreamFailed))
		f.agRepo.AssertExpectations(t)
	})

	t.Run("duplicate name", func(t *testing.T) {
		f := newActionGroupFixture()
		f.agRepo.On("GetByName", ctx, "dataset-tools").Return(&domain.ActionGroup{ID: "ag-1"}, nil)

		_, err := f.svc.Create(ctx, "user-1", validActionGroupInput())
		assert.True(t, domain.IsKind(err, domain.KindConflict))
		f.objects.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("validation", func(t *testing.T) {
		cases := map[string]func(*ActionGroupInput){
			"upper case name": func(in *ActionGroupInput) { in.Name = "Dataset-Tools" },
			"bad handler":     func(in *ActionGroupInput) { in.Handler = "lambda_handler" },
			"schema not json": func(in *ActionGroupInput) { in.APISchema = "openapi: 3.0.0" },
			"code not base64": func(in *ActionGroupInput) { in.Code = "%%%" },
			"empty code":      func(in *ActionGroupInput) { in.Code = "" },
		}
		for name, mutate := range cases {
			t.Run(name, func(t *testing.T) {
				f := newActionGroupFixture()
				in := validActionGroupInput()
				mutate(&in)

				_, err := f.svc.Create(ctx, "user-1", in)
				assert.True(t, domain.IsKind(err, domain.KindInvalidInput), "got %v", err)
				f.agRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("unreadable library", func(t *testing.T) {
		f := newActionGroupFixture()
		f.agRepo.On("GetByName", ctx, "dataset-tools").Return(nil, domain.NotFoundf("not found"))
		f.groupRepo.On("Access", ctx, "user-1", domain.ResourceLibrary, "lib-1").Return(domain.AccessType(""), nil)
		in := validActionGroupInput()
		in.Libraries = []string{"lib-1"}

		_, err := f.svc.Create(ctx, "user-1", in)
		assert.True(t, domain.IsKind(err, domain.KindUnauthorized))
	})
}

func buildEnvelope(t *testing.T, kind task.Kind, payload any) task.Envelope {
	t.Helper()
	env, err := task.New(kind, payload)
	require.NoError(t, err)
	return env
}

func TestActionGroupService_HandleBuild(t *testing.T) {
	ctx := context.Background()
	creating := func() *domain.ActionGroup {
		return &domain.ActionGroup{
			ID:           "ag-1",
			Name:         "dataset-tools",
			Handler:      "app.lambda_handler",
			FunctionName: "gp-test-datasetTools",
			CodeKey:      domain.CodeKey("ag-1"),
			Status:       domain.ActionGroupCreating,
		}
	}

	t.Run("success", func(t *testing.T) {
		f := newActionGroupFixture()
		f.agRepo.On("Get", ctx, "ag-1").Return(creating(), nil)
		f.roles.On("EnsureRole", ctx, cloud.RoleFunction, "gp-test-datasetTools").Return("arn:role/fn", nil)
		f.functions.On("CreateFunction", ctx, mock.MatchedBy(func(spec cloud.FunctionSpec) bool {
			return spec.RoleHandle == "arn:role/fn" && spec.CodeBucket == "misc-bucket" &&
				spec.Runtime == functionRuntime && spec.InvokePrincipal == invokePrincipal && len(spec.Layers) == 0
		})).Return("arn:aws:lambda:fn:datasetTools", nil)
		f.agRepo.On("Update", mock.Anything, mock.MatchedBy(func(ag *domain.ActionGroup) bool {
			return ag.Status == domain.ActionGroupReady && ag.FunctionHandle == "arn:aws:lambda:fn:datasetTools" &&
				ag.RoleHandle == "arn:role/fn"
		})).Return(nil)

		err := f.svc.HandleBuild(ctx, buildEnvelope(t, task.ActionGroupBuild, BuildTask{ActionGroupID: "ag-1", UserID: "user-1"}))
		require.NoError(t, err)
		f.agRepo.AssertExpectations(t)
		f.functions.AssertExpectations(t)
	})

	t.Run("function failure records create failed", func(t *testing.T) {
		f := newActionGroupFixture()
		f.agRepo.On("Get", ctx, "ag-1").Return(creating(), nil)
		f.roles.On("EnsureRole", ctx, cloud.RoleFunction, "gp-test-datasetTools").Return("arn:role/fn", nil)
		f.functions.On("CreateFunction", ctx, mock.Anything).Return("", cloud.ErrQuotaExceeded)
		f.agRepo.On("Update", mock.Anything, mock.MatchedBy(func(ag *domain.ActionGroup) bool {
			return ag.Status == domain.ActionGroupCreateFailed && ag.Message == "function quota exceeded"
		})).Return(nil)

		err := f.svc.HandleBuild(ctx, buildEnvelope(t, task.ActionGroupBuild, BuildTask{ActionGroupID: "ag-1"}))
		require.NoError(t, err)
		f.agRepo.AssertExpectations(t)
	})

	t.Run("already built", func(t *testing.T) {
		f := newActionGroupFixture()
		ag := creating()
		ag.Status = domain.ActionGroupReady
		f.agRepo.On("Get", ctx, "ag-1").Return(ag, nil)

		err := f.svc.HandleBuild(ctx, buildEnvelope(t, task.ActionGroupBuild, BuildTask{ActionGroupID: "ag-1"}))
		require.NoError(t, err)
		f.roles.AssertNotCalled(t, "EnsureRole", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("bad payload is permanent", func(t *testing.T) {
		f := newActionGroupFixture()
		env := task.Envelope{Kind: task.ActionGroupBuild, Payload: []byte("{")}

		err := f.svc.HandleBuild(ctx, env)
		assert.ErrorIs(t, err, task.ErrPermanent)
	})
}

func TestActionGroupService_Delete(t *testing.T) {
	ctx := context.Background()
	ready := func() *domain.ActionGroup {
		return &domain.ActionGroup{
			ID:             "ag-1",
			Name:           "dataset-tools",
			FunctionName:   "gp-test-datasetTools",
			FunctionHandle: "arn:aws:lambda:fn:datasetTools",
			RoleHandle:     "arn:role/fn",
			Status:         domain.ActionGroupReady,
		}
	}

	t.Run("attached to agents", func(t *testing.T) {
		f := newActionGroupFixture()
		f.agRepo.On("Get", ctx, "ag-1").Return(ready(), nil)
		f.groupRepo.On("Access", ctx, "user-1", domain.ResourceActionGroup, "ag-1").Return(domain.AccessOwner, nil)
		f.agentRepo.On("ListByActionGroup", ctx, "ag-1").Return([]domain.Agent{{Name: "sales-agent"}}, nil)

		err := f.svc.Delete(ctx, "user-1", "ag-1")
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
		assert.Contains(t, err.Error(), "sales-agent")
		f.functions.AssertNotCalled(t, "DeleteFunction", mock.Anything, mock.Anything)
	})

	t.Run("system generated", func(t *testing.T) {
		f := newActionGroupFixture()
		ag := ready()
		ag.SystemGenerated = true
		f.agRepo.On("Get", ctx, "ag-1").Return(ag, nil)

		err := f.svc.Delete(ctx, "user-1", "ag-1")
		assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
	})

	t.Run("building", func(t *testing.T) {
		f := newActionGroupFixture()
		ag := ready()
		ag.Status = domain.ActionGroupUpdating
		f.agRepo.On("Get", ctx, "ag-1").Return(ag, nil)
		f.groupRepo.On("Access", ctx, "user-1", domain.ResourceActionGroup, "ag-1").Return(domain.AccessOwner, nil)

		err := f.svc.Delete(ctx, "user-1", "ag-1")
		assert.True(t, domain.IsKind(err, domain.KindConflict))
	})

	t.Run("success", func(t *testing.T) {
		f := newActionGroupFixture()
		f.agRepo.On("Get", ctx, "ag-1").Return(ready(), nil)
		f.groupRepo.On("Access", ctx, "user-1", domain.ResourceActionGroup, "ag-1").Return(domain.AccessOwner, nil)
		f.agentRepo.On("ListByActionGroup", ctx, "ag-1").Return([]domain.Agent{}, nil)
		f.functions.On("DeleteFunction", ctx, "gp-test-datasetTools").Return(nil)
		f.roles.On("DeleteRole", ctx, "arn:role/fn").Return(nil)
		f.objects.On("DeletePrefix", ctx, "misc-bucket", domain.DefinitionPrefix("ag-1")).Return(nil)
		f.objects.On("DeletePrefix", ctx, "misc-bucket", domain.LogPrefix("ag-1")).Return(nil)
		f.agRepo.On("Delete", ctx, "ag-1").Return(nil)
		f.groupRepo.On("RemoveResource", ctx, domain.ResourceActionGroup, "ag-1").Return(nil)

		require.NoError(t, f.svc.Delete(ctx, "user-1", "ag-1"))
		f.functions.AssertExpectations(t)
		f.objects.AssertExpectations(t)
		f.groupRepo.AssertExpectations(t)
		f.functions.AssertNotCalled(t, "PruneLayer", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestActionGroupService_List(t *testing.T) {
	ctx := context.Background()

	t.Run("installs system groups once", func(t *testing.T) {
		f := newActionGroupFixture()
		system := domain.ActionGroup{ID: "sys-1", Name: "DatasetOperations", SystemGenerated: true, Status: domain.ActionGroupReady}
		owned := domain.ActionGroup{ID: "ag-1", Name: "dataset-tools", Status: domain.ActionGroupReady}

		f.agRepo.On("ListSystemGenerated", mock.Anything).Return([]domain.ActionGroup{}, nil).Once()
		f.objects.On("Put", mock.Anything, "misc-bucket", mock.AnythingOfType("string"), mock.Anything, contentTypeJSON).Return(nil).Once()
		f.agRepo.On("Create", mock.Anything, mock.MatchedBy(func(ag *domain.ActionGroup) bool {
			return ag.Name == "DatasetOperations" && ag.SystemGenerated &&
				ag.FunctionHandle == "arn:aws:lambda:fn:datasets" && ag.Status == domain.ActionGroupReady
		})).Return(nil).Once()
		f.agRepo.On("ListSystemGenerated", mock.Anything).Return([]domain.ActionGroup{system}, nil)
		f.groupRepo.On("ResourceIDs", ctx, "user-1", domain.ResourceActionGroup).Return([]string{"ag-1"}, nil)
		f.agRepo.On("List", ctx, []string{"ag-1"}).Return([]domain.ActionGroup{owned}, nil)

		page, err := f.svc.List(ctx, "user-1", domain.ListOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, page.TotalCount)

		page, err = f.svc.List(ctx, "user-1", domain.ListOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, page.TotalCount)

		// EtlOperations has no configured function and is skipped
		f.agRepo.AssertNumberOfCalls(t, "Create", 1)
		f.agRepo.AssertNumberOfCalls(t, "ListSystemGenerated", 3)
	})
}

func TestActionGroupService_HandleLibraryRebuild(t *testing.T) {
	ctx := context.Background()

	f := newActionGroupFixture()
	groups := []domain.ActionGroup{
		{ID: "ag-busy", Status: domain.ActionGroupCreating, Libraries: []string{"lib-1"}},
		{ID: "ag-failed", Status: domain.ActionGroupCreateFailed, Libraries: []string{"lib-1"}},
		{ID: "ag-1", FunctionName: "gp-test-fn", FunctionHandle: "arn:fn", Handler: "app.handler", Status: domain.ActionGroupReady},
	}
	f.agRepo.On("ListByLibrary", ctx, "lib-1").Return(groups, nil)
	f.agRepo.On("Update", ctx, mock.MatchedBy(func(ag *domain.ActionGroup) bool {
		return ag.ID == "ag-1" && ag.Status == domain.ActionGroupUpdating
	})).Return(nil).Once()
	f.functions.On("UpdateFunctionConfiguration", ctx, "gp-test-fn", "app.handler", []string(nil)).Return(nil)
	f.agRepo.On("Update", mock.Anything, mock.MatchedBy(func(ag *domain.ActionGroup) bool {
		return ag.ID == "ag-1" && ag.Status == domain.ActionGroupReady
	})).Return(nil).Once()

	err := f.svc.HandleLibraryRebuild(ctx, buildEnvelope(t, task.LibraryRebuild, LibraryRebuildTask{LibraryID: "lib-1", UserID: "user-1"}))
	require.NoError(t, err)
	f.agRepo.AssertNumberOfCalls(t, "Update", 2)
	f.functions.AssertExpectations(t)
}
