package service

import (
	"context"
	"time"

	"github.com/Rrens/genai-platform/internal/dataplane"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/security"
	"github.com/rs/zerolog/log"
)

// IntegrationAction is a Data Plane integration verb.
type IntegrationAction string

const (
	IntegrationConnect    IntegrationAction = "connect"
	IntegrationDisconnect IntegrationAction = "disconnect"
	IntegrationEnable     IntegrationAction = "enable"
	IntegrationDisable    IntegrationAction = "disable"
)

// UserService handles users, their preferences and their Data Plane link
type UserService struct {
	userRepo  domain.UserRepository
	groups    *GroupService
	dataPlane DataPlane
	encryptor *security.Encryptor
	now       func() time.Time
}

// NewUserService creates a new user service
func NewUserService(userRepo domain.UserRepository, groups *GroupService, dataPlane DataPlane, encryptor *security.Encryptor) *UserService {
	return &UserService{
		userRepo:  userRepo,
		groups:    groups,
		dataPlane: dataPlane,
		encryptor: encryptor,
		now:       time.Now,
	}
}

// Identity is the authenticated caller as asserted by the access token.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// UpdateUserInput is the body of PUT /users/{id}.
type UpdateUserInput struct {
	Name        string      `json:"Name" validate:"max=128"`
	Role        domain.Role `json:"UserRole" validate:"omitempty,oneof=Admin Developer User"`
	ProviderKey *string     `json:"ProviderKey,omitempty"`
}

// IntegrationInput carries the Data Plane token for the connect action.
type IntegrationInput struct {
	Token     string    `json:"Token"`
	RoleID    string    `json:"RoleId"`
	ExpiresAt time.Time `json:"ExpiresAt"`
}

// Ensure returns the caller's record, creating it and its default groups
// on first authentication.
func (s *UserService) Ensure(ctx context.Context, id Identity) (*domain.User, error) {
	u, err := s.userRepo.Get(ctx, id.UserID)
	if err == nil {
		return u, nil
	}
	if !notFound(err) {
		return nil, domain.Storage(err, "failed to load user")
	}

	now := s.now().UTC()
	u = &domain.User{
		ID:                id.UserID,
		Email:             id.Email,
		Name:              id.Name,
		Role:              domain.RoleUser,
		IntegrationStatus: domain.IntegrationNone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return s.userRepo.Get(ctx, id.UserID)
		}
		return nil, domain.Storage(err, "failed to create user")
	}
	if err := s.groups.EnsureDefaults(ctx, u.ID); err != nil {
		return nil, err
	}

	log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("user registered")
	return u, nil
}

// Get returns a user. Only the user and admins may read a record.
func (s *UserService) Get(ctx context.Context, callerID, userID string) (*domain.User, error) {
	if callerID != userID {
		if err := s.requireAdmin(ctx, callerID); err != nil {
			return nil, err
		}
	}
	return s.load(ctx, userID)
}

// List returns every user. Admin only.
func (s *UserService) List(ctx context.Context, callerID string, opts domain.ListOptions) (domain.Page[domain.User], error) {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return domain.Page[domain.User]{}, err
	}
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return domain.Page[domain.User]{}, domain.Storage(err, "failed to list users")
	}
	return paginate(users, opts, sortFields[domain.User]{
		"LastModifiedTime": func(a, b domain.User) bool { return before(a.UpdatedAt, b.UpdatedAt) },
		"CreationTime":     func(a, b domain.User) bool { return before(a.CreatedAt, b.CreatedAt) },
		"Email":            func(a, b domain.User) bool { return a.Email < b.Email },
	}), nil
}

// Update changes a user's name, provider key or role. Role changes are
// admin only, one at a time, and an admin cannot demote themselves.
func (s *UserService) Update(ctx context.Context, callerID, userID string, in UpdateUserInput) (*domain.User, error) {
	if in.Role != "" {
		if err := s.changeRole(ctx, callerID, userID, in.Role); err != nil {
			return nil, err
		}
	}
	if in.Name == "" && in.ProviderKey == nil {
		return s.load(ctx, userID)
	}
	if callerID != userID {
		return nil, domain.Unauthorized("users can only update their own profile")
	}

	u, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Name != "" {
		u.Name = in.Name
	}
	if in.ProviderKey != nil {
		u.ProviderKey = nil
		if *in.ProviderKey != "" {
			sealed, err := s.encryptor.SealCredential(security.Credential{Token: *in.ProviderKey})
			if err != nil {
				return nil, domain.E(domain.KindInternal, err, "failed to seal provider key")
			}
			u.ProviderKey = sealed
		}
	}
	return u, s.save(ctx, u)
}

func (s *UserService) changeRole(ctx context.Context, callerID, userID string, role domain.Role) error {
	if !role.Valid() {
		return domain.Invalid("unknown role %q", role)
	}
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return err
	}
	if callerID == userID && role != domain.RoleAdmin {
		return domain.Invalid("an admin cannot demote themselves")
	}

	// 1. Claim the role change
	if err := s.userRepo.BeginRoleChange(ctx, userID); err != nil {
		if notFound(err) {
			return domain.NotFoundf("user %s not found", userID)
		}
		if domain.IsKind(err, domain.KindConflict) {
			return err
		}
		return domain.Storage(err, "failed to begin role change")
	}

	// 2. Store the role and release the claim
	if err := s.userRepo.FinishRoleChange(ctx, userID, role); err != nil {
		return domain.Storage(err, "failed to change role")
	}

	log.Info().Str("user_id", userID).Str("role", string(role)).Str("by", callerID).Msg("user role changed")
	return nil
}

// SetPreferences merges key/value preferences into the user's record.
func (s *UserService) SetPreferences(ctx context.Context, callerID, userID string, prefs map[string]string) (*domain.User, error) {
	u, err := s.own(ctx, callerID, userID)
	if err != nil {
		return nil, err
	}
	if u.Preferences == nil {
		u.Preferences = map[string]string{}
	}
	for k, v := range prefs {
		if v == "" {
			delete(u.Preferences, k)
			continue
		}
		u.Preferences[k] = v
	}
	return u, s.save(ctx, u)
}

// AlertPreferences returns the alert subscriptions of a user.
func (s *UserService) AlertPreferences(ctx context.Context, callerID, userID string) ([]string, error) {
	u, err := s.own(ctx, callerID, userID)
	if err != nil {
		return nil, err
	}
	if u.AlertPreferences == nil {
		return []string{}, nil
	}
	return u.AlertPreferences, nil
}

// AddAlertPreferences subscribes the user to alerts.
func (s *UserService) AddAlertPreferences(ctx context.Context, callerID, userID string, alerts []string) ([]string, error) {
	u, err := s.own(ctx, callerID, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range alerts {
		if a != "" && !contains(u.AlertPreferences, a) {
			u.AlertPreferences = append(u.AlertPreferences, a)
		}
	}
	return u.AlertPreferences, s.save(ctx, u)
}

// RemoveAlertPreferences unsubscribes the user from alerts.
func (s *UserService) RemoveAlertPreferences(ctx context.Context, callerID, userID string, alerts []string) ([]string, error) {
	u, err := s.own(ctx, callerID, userID)
	if err != nil {
		return nil, err
	}
	kept := u.AlertPreferences[:0]
	for _, a := range u.AlertPreferences {
		if !contains(alerts, a) {
			kept = append(kept, a)
		}
	}
	u.AlertPreferences = kept
	return u.AlertPreferences, s.save(ctx, u)
}

// Integrate connects, disconnects, enables or disables the user's Data
// Plane link.
func (s *UserService) Integrate(ctx context.Context, userID string, action IntegrationAction, in IntegrationInput) (*domain.User, error) {
	u, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch action {
	case IntegrationConnect:
		if in.Token == "" {
			return nil, domain.Invalid("Token is required to connect")
		}
		cred := dataplane.Credential{Token: in.Token, RoleID: in.RoleID}
		identity, err := s.dataPlane.Identify(ctx, cred)
		if err != nil {
			if domain.IsKind(err, domain.KindUnauthorized) {
				return nil, domain.E(domain.KindInvalidCredential, err, "the Data Plane rejected the token")
			}
			return nil, err
		}
		sealed, err := s.encryptor.SealCredential(security.Credential{Token: in.Token, ExpiresAt: in.ExpiresAt})
		if err != nil {
			return nil, domain.E(domain.KindInternal, err, "failed to seal credential")
		}
		u.Credential = sealed
		u.CredentialExpiry = in.ExpiresAt
		u.DataPlaneUserID = identity.UserID
		u.DataPlaneRoleID = identity.RoleID
		if in.RoleID != "" {
			u.DataPlaneRoleID = in.RoleID
		}
		u.DefaultDomain = identity.DefaultDomain
		u.IntegrationStatus = domain.IntegrationConnected

	case IntegrationDisconnect:
		u.Credential = nil
		u.CredentialExpiry = time.Time{}
		u.DataPlaneUserID = ""
		u.DataPlaneRoleID = ""
		u.IntegrationStatus = domain.IntegrationNone

	case IntegrationEnable:
		if len(u.Credential) == 0 {
			return nil, domain.Invalid("user is not connected to the Data Plane")
		}
		u.IntegrationStatus = domain.IntegrationConnected

	case IntegrationDisable:
		if u.IntegrationStatus != domain.IntegrationConnected {
			return nil, domain.Invalid("user is not connected to the Data Plane")
		}
		u.IntegrationStatus = domain.IntegrationDisabled

	default:
		return nil, domain.Invalid("unknown action %q", action)
	}

	if err := s.save(ctx, u); err != nil {
		return nil, err
	}
	log.Info().Str("user_id", userID).Str("action", string(action)).Msg("data plane integration updated")
	return u, nil
}

// DataPlaneCredential opens the stored Data Plane credential of a user.
func (s *UserService) DataPlaneCredential(ctx context.Context, userID string) (dataplane.Credential, error) {
	u, err := s.load(ctx, userID)
	if err != nil {
		return dataplane.Credential{}, err
	}
	return s.credentialOf(u)
}

func (s *UserService) credentialOf(u *domain.User) (dataplane.Credential, error) {
	if !u.HasDataPlane() {
		return dataplane.Credential{}, domain.E(domain.KindInvalidCredential, nil, "user %s is not connected to the Data Plane", u.ID)
	}
	if u.CredentialExpired(s.now()) {
		return dataplane.Credential{}, domain.E(domain.KindInvalidCredential, nil, "the Data Plane credential of user %s has expired", u.ID)
	}
	c, err := s.encryptor.OpenCredential(u.Credential)
	if err != nil {
		return dataplane.Credential{}, domain.E(domain.KindInvalidCredential, err, "failed to open Data Plane credential")
	}
	return dataplane.Credential{Token: c.Token, RoleID: u.DataPlaneRoleID}, nil
}

// ProviderKey opens the stored inference provider key of a user.
func (s *UserService) ProviderKey(ctx context.Context, userID string) (string, error) {
	u, err := s.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(u.ProviderKey) == 0 {
		return "", domain.E(domain.KindInvalidCredential, nil, "no provider key configured")
	}
	c, err := s.encryptor.OpenCredential(u.ProviderKey)
	if err != nil {
		return "", domain.E(domain.KindInvalidCredential, err, "failed to open provider key")
	}
	return c.Token, nil
}

// Connected reports whether the user can currently act on the Data Plane.
func (s *UserService) Connected(ctx context.Context, userID string) bool {
	_, err := s.DataPlaneCredential(ctx, userID)
	return err == nil
}

// Domains lists the Data Plane domains visible to the user.
func (s *UserService) Domains(ctx context.Context, userID string) ([]dataplane.Domain, error) {
	cred, err := s.DataPlaneCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.dataPlane.ListDomains(ctx, cred)
}

// Tenants lists the Data Plane tenants visible to the user.
func (s *UserService) Tenants(ctx context.Context, userID string) ([]dataplane.Tenant, error) {
	cred, err := s.DataPlaneCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.dataPlane.ListTenants(ctx, cred)
}

// Roles lists the Data Plane roles of the user.
func (s *UserService) Roles(ctx context.Context, userID string) ([]dataplane.Role, error) {
	u, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	cred, err := s.credentialOf(u)
	if err != nil {
		return nil, err
	}
	return s.dataPlane.ListRoles(ctx, cred, u.DataPlaneUserID)
}

// Datasets lists the Data Plane datasets of a domain.
func (s *UserService) Datasets(ctx context.Context, userID, domainName string) ([]dataplane.Dataset, error) {
	cred, err := s.DataPlaneCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.dataPlane.ListDatasets(ctx, cred, domainName)
}

// IsAdmin reports whether userID holds the Admin role.
func (s *UserService) IsAdmin(ctx context.Context, userID string) bool {
	return s.requireAdmin(ctx, userID) == nil
}

func (s *UserService) requireAdmin(ctx context.Context, userID string) error {
	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role != domain.RoleAdmin {
		return domain.Unauthorized("admin role required")
	}
	return nil
}

func (s *UserService) own(ctx context.Context, callerID, userID string) (*domain.User, error) {
	if callerID != userID {
		return nil, domain.Unauthorized("users can only change their own preferences")
	}
	return s.load(ctx, userID)
}

func (s *UserService) load(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("user %s not found", userID)
		}
		return nil, domain.Storage(err, "failed to load user")
	}
	return u, nil
}

func (s *UserService) save(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = s.now().UTC()
	if err := s.userRepo.Update(ctx, u); err != nil {
		return domain.Storage(err, "failed to update user")
	}
	return nil
}
