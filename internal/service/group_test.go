package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestGroupService_Authorize(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		access domain.AccessType
		err    error
		owner  bool
		kind   domain.Kind
	}{
		{name: "owner may write", access: domain.AccessOwner, owner: true},
		{name: "reader may read", access: domain.AccessReadOnly},
		{name: "reader may not write", access: domain.AccessReadOnly, owner: true, kind: domain.KindUnauthorized},
		{name: "stranger", access: "", kind: domain.KindUnauthorized},
		{name: "store failure", access: "", err: errors.New("timeout"), kind: domain.KindStorageFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockGroupRepository)
			repo.On("Access", ctx, "user-1", domain.ResourceChatbot, "bot-1").Return(tt.access, tt.err)

			err := NewGroupService(repo).Authorize(ctx, "user-1", domain.ResourceChatbot, "bot-1", tt.owner)
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}
}

func TestGroupService_EnsureDefaults(t *testing.T) {
	ctx := context.Background()
	repo := new(MockGroupRepository)
	repo.On("DefaultGroup", ctx, "user-1", domain.AccessOwner).Return(&domain.Group{ID: "g-owner"}, nil)
	repo.On("DefaultGroup", ctx, "user-1", domain.AccessReadOnly).Return(nil, domain.NotFoundf("no default group"))
	repo.On("Create", ctx, mock.MatchedBy(func(g *domain.Group) bool {
		return g.Default && g.AccessType == domain.AccessReadOnly && g.OwnerID == "user-1"
	})).Return(nil).Once()

	require.NoError(t, NewGroupService(repo).EnsureDefaults(ctx, "user-1"))
	repo.AssertExpectations(t)
}

func TestGroupService_Grant(t *testing.T) {
	ctx := context.Background()

	t.Run("creates defaults on first grant", func(t *testing.T) {
		repo := new(MockGroupRepository)
		repo.On("DefaultGroup", ctx, "user-1", domain.AccessOwner).Return(nil, domain.NotFoundf("no default group")).Once()
		repo.On("DefaultGroup", ctx, "user-1", domain.AccessOwner).Return(nil, domain.NotFoundf("no default group")).Once()
		repo.On("DefaultGroup", ctx, "user-1", domain.AccessReadOnly).Return(nil, domain.NotFoundf("no default group")).Once()
		repo.On("Create", ctx, mock.AnythingOfType("*domain.Group")).Return(nil).Twice()
		repo.On("DefaultGroup", ctx, "user-1", domain.AccessOwner).Return(&domain.Group{ID: "g-owner"}, nil).Once()
		repo.On("AddResource", ctx, "g-owner", domain.ResourceWorkspace, "ws-1").Return(nil)

		require.NoError(t, NewGroupService(repo).Grant(ctx, "user-1", domain.ResourceWorkspace, "ws-1"))
		repo.AssertExpectations(t)
	})

	t.Run("existing default group", func(t *testing.T) {
		repo := new(MockGroupRepository)
		repo.On("DefaultGroup", ctx, "user-1", domain.AccessOwner).Return(&domain.Group{ID: "g-owner"}, nil)
		repo.On("AddResource", ctx, "g-owner", domain.ResourceAgent, "agent-1").Return(nil)

		require.NoError(t, NewGroupService(repo).Grant(ctx, "user-1", domain.ResourceAgent, "agent-1"))
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestGroupService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("shares owned resources", func(t *testing.T) {
		repo := new(MockGroupRepository)
		repo.On("Access", ctx, "user-1", domain.ResourceWorkspace, "ws-1").Return(domain.AccessOwner, nil)
		repo.On("Create", ctx, mock.AnythingOfType("*domain.Group")).Return(nil)

		g, err := NewGroupService(repo).Create(ctx, "user-1", GroupInput{
			Name:      "analysts",
			Users:     []string{"user-2"},
			Resources: map[domain.ResourceKind][]string{domain.ResourceWorkspace: {"ws-1"}},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.AccessReadOnly, g.AccessType)
		assert.ElementsMatch(t, []string{"user-1", "user-2"}, g.Members)
	})

	t.Run("cannot share what the caller does not own", func(t *testing.T) {
		repo := new(MockGroupRepository)
		repo.On("Access", ctx, "user-1", domain.ResourceWorkspace, "ws-9").Return(domain.AccessReadOnly, nil)

		_, err := NewGroupService(repo).Create(ctx, "user-1", GroupInput{
			Name:      "analysts",
			Resources: map[domain.ResourceKind][]string{domain.ResourceWorkspace: {"ws-9"}},
		})
		assert.True(t, domain.IsKind(err, domain.KindUnauthorized))
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("invalid name", func(t *testing.T) {
		_, err := NewGroupService(new(MockGroupRepository)).Create(ctx, "user-1", GroupInput{Name: "bad/name"})
		assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
	})
}

func TestGroupService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("default group keeps its name", func(t *testing.T) {
		repo := new(MockGroupRepository)
		repo.On("Get", ctx, "g-1").Return(&domain.Group{
			ID: "g-1", Name: "user-1-owner", OwnerID: "user-1", Default: true, AccessType: domain.AccessOwner,
		}, nil)
		repo.On("Update", ctx, mock.AnythingOfType("*domain.Group")).Return(nil)

		g, err := NewGroupService(repo).Update(ctx, "user-1", "g-1", GroupInput{Name: "renamed", AccessType: domain.AccessReadOnly})
		require.NoError(t, err)
		assert.Equal(t, "user-1-owner", g.Name)
		assert.Equal(t, domain.AccessOwner, g.AccessType)
	})

	t.Run("only the owner", func(t *testing.T) {
		repo := new(MockGroupRepository)
		repo.On("Get", ctx, "g-1").Return(&domain.Group{ID: "g-1", OwnerID: "user-2"}, nil)

		_, err := NewGroupService(repo).Update(ctx, "user-1", "g-1", GroupInput{Name: "renamed"})
		assert.True(t, domain.IsKind(err, domain.KindUnauthorized))
	})
}
