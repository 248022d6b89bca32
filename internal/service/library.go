package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"path"
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

// LibraryPackage is one uploaded dependency archive.
type LibraryPackage struct {
	Name    string `json:"FileName" validate:"required"`
	Content string `json:"Content" validate:"required"`
}

// LibraryInput is the body of a library create.
type LibraryInput struct {
	Name        string           `json:"LibraryName" validate:"required,min=3,max=64"`
	Description string           `json:"Description" validate:"max=1024"`
	Packages    []LibraryPackage `json:"Packages" validate:"dive"`
}

// LibraryUpdate adds and removes archives of a library.
type LibraryUpdate struct {
	Description    *string          `json:"Description" validate:"omitempty,max=1024"`
	Packages       []LibraryPackage `json:"Packages" validate:"dive"`
	RemovePackages []string         `json:"RemovePackages"`
}

// LibraryService manages reusable dependency archives.
type LibraryService struct {
	libraryRepo     domain.LibraryRepository
	actionGroupRepo domain.ActionGroupRepository
	objects         cloud.ObjectStore
	groups          *GroupService
	publisher       task.Publisher
	bucket          string
	now             func() time.Time
}

// NewLibraryService creates a new library service
func NewLibraryService(
	libraryRepo domain.LibraryRepository,
	actionGroupRepo domain.ActionGroupRepository,
	objects cloud.ObjectStore,
	groups *GroupService,
	publisher task.Publisher,
	awsCfg config.AWSConfig,
) *LibraryService {
	return &LibraryService{
		libraryRepo:     libraryRepo,
		actionGroupRepo: actionGroupRepo,
		objects:         objects,
		groups:          groups,
		publisher:       publisher,
		bucket:          awsCfg.MiscBucket,
		now:             time.Now,
	}
}

// Create stores a library and its archives.
func (s *LibraryService) Create(ctx context.Context, userID string, in LibraryInput) (*domain.Library, error) {
	if err := security.ValidateResourceName("LibraryName", in.Name); err != nil {
		return nil, domain.Invalid("%s", err.Error())
	}
	switch _, err := s.libraryRepo.GetByName(ctx, in.Name); {
	case err == nil:
		return nil, domain.Conflict("library %s already exists", in.Name)
	case !notFound(err):
		return nil, domain.Storage(err, "failed to check library name")
	}

	id := uuid.NewString()
	archives, err := s.upload(ctx, id, nil, in.Packages)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	lib := &domain.Library{
		ID:             id,
		Name:           in.Name,
		Description:    in.Description,
		Archives:       archives,
		CreatedBy:      userID,
		CreatedAt:      now,
		LastModifiedBy: userID,
		LastModifiedAt: now,
	}
	if err := s.libraryRepo.Create(ctx, lib); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return nil, err
		}
		return nil, domain.Storage(err, "failed to create library")
	}
	if err := s.groups.Grant(ctx, userID, domain.ResourceLibrary, lib.ID); err != nil {
		return nil, err
	}

	log.Info().Str("library_id", lib.ID).Int("archives", len(archives)).Msg("library created")
	return lib, nil
}

// upload writes packages under the library prefix and returns the merged
// archive list.
func (s *LibraryService) upload(ctx context.Context, libraryID string, current []string, packages []LibraryPackage) ([]string, error) {
	archives := append([]string{}, current...)
	for _, p := range packages {
		name, err := security.SanitizeFileName(p.Name)
		if err != nil {
			return nil, domain.Invalid("%s", err.Error())
		}
		if strings.ToLower(path.Ext(name)) != ".zip" {
			return nil, domain.E(domain.KindUnsupportedFileType, nil, "package %s must be a .zip archive", name)
		}
		data, err := base64.StdEncoding.DecodeString(p.Content)
		if err != nil || len(data) == 0 {
			return nil, domain.Invalid("package %s must be base64 encoded", name)
		}
		if len(data) > maxCodeBytes {
			return nil, domain.E(domain.KindFileTooBig, nil, "package %s exceeds %d bytes", name, maxCodeBytes)
		}
		if err := s.objects.Put(ctx, s.bucket, domain.LibraryPrefix(libraryID)+name, bytes.NewReader(data), contentTypeZip); err != nil {
			return nil, domain.Upstream(err, "failed to store package %s", name)
		}
		if !contains(archives, name) {
			archives = append(archives, name)
		}
	}
	return archives, nil
}

// Update changes a library and rebuilds the action groups using it when its
// archives changed.
func (s *LibraryService) Update(ctx context.Context, userID, libraryID string, in LibraryUpdate) (*domain.Library, error) {
	if err := s.groups.Authorize(ctx, userID, domain.ResourceLibrary, libraryID, true); err != nil {
		return nil, err
	}
	lib, err := s.load(ctx, libraryID)
	if err != nil {
		return nil, err
	}

	archives, err := s.upload(ctx, lib.ID, lib.Archives, in.Packages)
	if err != nil {
		return nil, err
	}
	changed := len(in.Packages) > 0
	for _, name := range in.RemovePackages {
		if !contains(archives, name) {
			return nil, domain.NotFoundf("package %s not found in library %s", name, lib.Name)
		}
		if err := s.objects.Delete(ctx, s.bucket, domain.LibraryPrefix(lib.ID)+name); err != nil {
			return nil, domain.Upstream(err, "failed to delete package %s", name)
		}
		archives = without(archives, name)
		changed = true
	}

	lib.Archives = archives
	if in.Description != nil {
		lib.Description = *in.Description
	}
	lib.LastModifiedBy = userID
	lib.LastModifiedAt = s.now().UTC()
	if err := s.libraryRepo.Update(ctx, lib); err != nil {
		return nil, domain.Storage(err, "failed to update library")
	}

	if changed {
		if err := task.Enqueue(ctx, s.publisher, task.LibraryRebuild, LibraryRebuildTask{LibraryID: lib.ID, UserID: userID}); err != nil {
			return nil, domain.Upstream(err, "failed to schedule action group rebuild")
		}
	}
	return lib, nil
}

func without(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// Delete removes a library no action group references.
func (s *LibraryService) Delete(ctx context.Context, userID, libraryID string) error {
	if err := s.groups.Authorize(ctx, userID, domain.ResourceLibrary, libraryID, true); err != nil {
		return err
	}
	lib, err := s.load(ctx, libraryID)
	if err != nil {
		return err
	}
	users, err := s.actionGroupRepo.ListByLibrary(ctx, lib.ID)
	if err != nil {
		return domain.Storage(err, "failed to list action groups")
	}
	if len(users) > 0 {
		names := make([]string, 0, len(users))
		for _, ag := range users {
			names = append(names, ag.Name)
		}
		return domain.Conflict("library %s is used by action groups [%s]", lib.Name, strings.Join(names, ", "))
	}

	if err := s.objects.DeletePrefix(ctx, s.bucket, domain.LibraryPrefix(lib.ID)); err != nil {
		return domain.Upstream(err, "failed to delete library packages")
	}
	if err := s.libraryRepo.Delete(ctx, lib.ID); err != nil && !notFound(err) {
		return domain.Storage(err, "failed to delete library")
	}
	return s.groups.Revoke(ctx, domain.ResourceLibrary, lib.ID)
}

// Get returns a library readable by userID.
func (s *LibraryService) Get(ctx context.Context, userID, libraryID string) (*domain.Library, error) {
	if err := s.groups.Authorize(ctx, userID, domain.ResourceLibrary, libraryID, false); err != nil {
		return nil, err
	}
	return s.load(ctx, libraryID)
}

// List returns the libraries visible to userID.
func (s *LibraryService) List(ctx context.Context, userID string, opts domain.ListOptions) (domain.Page[domain.Library], error) {
	ids, err := s.groups.Visible(ctx, userID, domain.ResourceLibrary)
	if err != nil {
		return domain.Page[domain.Library]{}, err
	}
	libs, err := s.libraryRepo.List(ctx, ids)
	if err != nil {
		return domain.Page[domain.Library]{}, domain.Storage(err, "failed to list libraries")
	}
	return paginate(libs, opts, sortFields[domain.Library]{
		"LastModifiedTime": func(a, b domain.Library) bool { return before(a.LastModifiedAt, b.LastModifiedAt) },
		"CreationTime":     func(a, b domain.Library) bool { return before(a.CreatedAt, b.CreatedAt) },
		"LibraryName":      func(a, b domain.Library) bool { return a.Name < b.Name },
	}), nil
}

func (s *LibraryService) load(ctx context.Context, libraryID string) (*domain.Library, error) {
	lib, err := s.libraryRepo.Get(ctx, libraryID)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("library %s not found", libraryID)
		}
		return nil, domain.Storage(err, "failed to load library")
	}
	return lib, nil
}
