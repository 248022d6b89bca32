package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/security"
	"github.com/google/uuid"
)

// GroupService owns resource authorization. Groups are the only source of
// access to workspaces, chatbots, agents, action groups and libraries.
type GroupService struct {
	groupRepo domain.GroupRepository
	now       func() time.Time
}

// NewGroupService creates a new group service
func NewGroupService(groupRepo domain.GroupRepository) *GroupService {
	return &GroupService{groupRepo: groupRepo, now: time.Now}
}

// GroupInput is the body of a group create or update.
type GroupInput struct {
	Name        string                           `json:"GroupName" validate:"required,min=3,max=64"`
	Description string                           `json:"Description" validate:"max=512"`
	AccessType  domain.AccessType                `json:"AccessType" validate:"omitempty,oneof=owner read-only"`
	Users       []string                         `json:"Users"`
	Resources   map[domain.ResourceKind][]string `json:"Resources"`
}

// EnsureDefaults creates the owner and read-only default groups of a user.
func (s *GroupService) EnsureDefaults(ctx context.Context, userID string) error {
	for _, access := range []domain.AccessType{domain.AccessOwner, domain.AccessReadOnly} {
		_, err := s.groupRepo.DefaultGroup(ctx, userID, access)
		if err == nil {
			continue
		}
		if !notFound(err) {
			return domain.Storage(err, "failed to load default group")
		}

		now := s.now().UTC()
		g := &domain.Group{
			ID:         uuid.NewString(),
			Name:       fmt.Sprintf("%s-%s", userID, access),
			AccessType: access,
			OwnerID:    userID,
			Default:    true,
			Members:    []string{userID},
			Resources:  map[domain.ResourceKind][]string{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.groupRepo.Create(ctx, g); err != nil {
			return domain.Storage(err, "failed to create default group")
		}
	}
	return nil
}

// Authorize checks that userID may read the resource, or own it when
// owner is set.
func (s *GroupService) Authorize(ctx context.Context, userID string, kind domain.ResourceKind, resourceID string, owner bool) error {
	access, err := s.groupRepo.Access(ctx, userID, kind, resourceID)
	if err != nil {
		return domain.Storage(err, "failed to check access")
	}
	switch {
	case access == "":
		return domain.Unauthorized("user does not have access to %s %s", kind, resourceID)
	case owner && access != domain.AccessOwner:
		return domain.Unauthorized("user does not have owner access to %s %s", kind, resourceID)
	}
	return nil
}

// Visible lists the resource ids of kind reachable by userID.
func (s *GroupService) Visible(ctx context.Context, userID string, kind domain.ResourceKind) ([]string, error) {
	ids, err := s.groupRepo.ResourceIDs(ctx, userID, kind)
	if err != nil {
		return nil, domain.Storage(err, "failed to list %s access", kind)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Grant adds a new resource to the owner's default owner group.
func (s *GroupService) Grant(ctx context.Context, userID string, kind domain.ResourceKind, resourceID string) error {
	g, err := s.groupRepo.DefaultGroup(ctx, userID, domain.AccessOwner)
	if notFound(err) {
		if err := s.EnsureDefaults(ctx, userID); err != nil {
			return err
		}
		g, err = s.groupRepo.DefaultGroup(ctx, userID, domain.AccessOwner)
	}
	if err != nil {
		return domain.Storage(err, "failed to load default group")
	}
	if err := s.groupRepo.AddResource(ctx, g.ID, kind, resourceID); err != nil {
		return domain.Storage(err, "failed to grant %s", kind)
	}
	return nil
}

// Revoke removes a deleted resource from every group.
func (s *GroupService) Revoke(ctx context.Context, kind domain.ResourceKind, resourceID string) error {
	if err := s.groupRepo.RemoveResource(ctx, kind, resourceID); err != nil {
		return domain.Storage(err, "failed to revoke %s", kind)
	}
	return nil
}

// List returns the groups userID belongs to.
func (s *GroupService) List(ctx context.Context, userID string, opts domain.ListOptions) (domain.Page[domain.Group], error) {
	groups, err := s.groupRepo.ListForUser(ctx, userID)
	if err != nil {
		return domain.Page[domain.Group]{}, domain.Storage(err, "failed to list groups")
	}
	return paginate(groups, opts, sortFields[domain.Group]{
		"LastModifiedTime": func(a, b domain.Group) bool { return before(a.UpdatedAt, b.UpdatedAt) },
		"CreationTime":     func(a, b domain.Group) bool { return before(a.CreatedAt, b.CreatedAt) },
		"GroupName":        func(a, b domain.Group) bool { return a.Name < b.Name },
	}), nil
}

// Create adds a custom group. Every resource shared through it must be
// owned by the caller.
func (s *GroupService) Create(ctx context.Context, userID string, in GroupInput) (*domain.Group, error) {
	if err := security.ValidateResourceName("GroupName", in.Name); err != nil {
		return nil, domain.Invalid("%s", err.Error())
	}
	if in.AccessType == "" {
		in.AccessType = domain.AccessReadOnly
	}
	if err := s.checkResources(ctx, userID, in.Resources); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	g := &domain.Group{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		AccessType:  in.AccessType,
		OwnerID:     userID,
		Members:     withMember(in.Users, userID),
		Resources:   orEmptyResources(in.Resources),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.groupRepo.Create(ctx, g); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return nil, err
		}
		return nil, domain.Storage(err, "failed to create group")
	}
	return g, nil
}

// Update replaces the description, members and resources of a group
// owned by the caller. Default groups keep their name and access type.
func (s *GroupService) Update(ctx context.Context, userID, groupID string, in GroupInput) (*domain.Group, error) {
	g, err := s.groupRepo.Get(ctx, groupID)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("group %s not found", groupID)
		}
		return nil, domain.Storage(err, "failed to load group")
	}
	if g.OwnerID != userID {
		return nil, domain.Unauthorized("only the group owner can update group %s", groupID)
	}
	if err := s.checkResources(ctx, userID, in.Resources); err != nil {
		return nil, err
	}

	if !g.Default {
		if in.Name != "" {
			g.Name = in.Name
		}
		if in.AccessType != "" {
			g.AccessType = in.AccessType
		}
	}
	g.Description = in.Description
	g.Members = withMember(in.Users, userID)
	if in.Resources != nil {
		g.Resources = in.Resources
	}
	g.UpdatedAt = s.now().UTC()

	if err := s.groupRepo.Update(ctx, g); err != nil {
		return nil, domain.Storage(err, "failed to update group")
	}
	return g, nil
}

func (s *GroupService) checkResources(ctx context.Context, userID string, resources map[domain.ResourceKind][]string) error {
	for kind, ids := range resources {
		for _, id := range ids {
			if err := s.Authorize(ctx, userID, kind, id, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func withMember(members []string, userID string) []string {
	if contains(members, userID) {
		return members
	}
	return append(members, userID)
}

func orEmptyResources(r map[domain.ResourceKind][]string) map[domain.ResourceKind][]string {
	if r == nil {
		return map[domain.ResourceKind][]string{}
	}
	return r
}
