package domain

import (
	"context"
	"time"
)

// Role is a platform role.
type Role string

const (
	RoleAdmin     Role = "Admin"
	RoleDeveloper Role = "Developer"
	RoleUser      Role = "User"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDeveloper, RoleUser:
		return true
	}
	return false
}

// IntegrationStatus tracks the Data Plane link of a user.
type IntegrationStatus string

const (
	IntegrationNone      IntegrationStatus = "not-integrated"
	IntegrationConnected IntegrationStatus = "connected"
	IntegrationDisabled  IntegrationStatus = "disabled"
)

// User is a platform principal.
type User struct {
	ID                string            `json:"UserId"`
	Email             string            `json:"Email"`
	Name              string            `json:"Name"`
	Role              Role              `json:"UserRole"`
	RoleUpdating      bool              `json:"-"`
	IntegrationStatus IntegrationStatus `json:"IntegrationStatus"`
	DefaultDomain     string            `json:"DefaultDomain,omitempty"`
	DataPlaneUserID   string            `json:"DataPlaneUserId,omitempty"`
	DataPlaneRoleID   string            `json:"DataPlaneRoleId,omitempty"`
	// Credential holds the encrypted Data Plane token.
	Credential []byte `json:"-"`
	// CredentialExpiry is zero when the token does not expire.
	CredentialExpiry time.Time `json:"-"`
	// ProviderKey holds the encrypted external inference credential.
	ProviderKey      []byte            `json:"-"`
	Preferences      map[string]string `json:"Preferences,omitempty"`
	AlertPreferences []string          `json:"AlertPreferences,omitempty"`
	CreatedAt        time.Time         `json:"CreationTime"`
	UpdatedAt        time.Time         `json:"LastModifiedTime"`
}

// HasDataPlane reports whether the user can act on the Data Plane.
func (u *User) HasDataPlane() bool {
	return u.IntegrationStatus == IntegrationConnected && len(u.Credential) > 0
}

// CredentialExpired reports whether the stored Data Plane token has lapsed.
func (u *User) CredentialExpired(now time.Time) bool {
	return !u.CredentialExpiry.IsZero() && now.After(u.CredentialExpiry)
}

// UserRepository stores users.
type UserRepository interface {
	// Create inserts u, granting Admin when no other user exists.
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, u *User) error
	// BeginRoleChange marks a role change in progress; it fails with
	// Conflict when one is already running.
	BeginRoleChange(ctx context.Context, id string) error
	FinishRoleChange(ctx context.Context, id string, role Role) error
}

// ResourceKind names the resource lists kept by groups.
type ResourceKind string

const (
	ResourceWorkspace   ResourceKind = "workspace"
	ResourceChatbot     ResourceKind = "chatbot"
	ResourceAgent       ResourceKind = "agent"
	ResourceActionGroup ResourceKind = "action-group"
	ResourceLibrary     ResourceKind = "library"
)

// AccessType is the flavor of access a group grants.
type AccessType string

const (
	AccessOwner    AccessType = "owner"
	AccessReadOnly AccessType = "read-only"
)

// Group is a named collection of resources granting one access flavor.
type Group struct {
	ID          string                    `json:"GroupId"`
	Name        string                    `json:"GroupName"`
	Description string                    `json:"Description,omitempty"`
	AccessType  AccessType                `json:"AccessType"`
	OwnerID     string                    `json:"OwnerId"`
	Default     bool                      `json:"IsDefault"`
	Members     []string                  `json:"Users"`
	Resources   map[ResourceKind][]string `json:"Resources"`
	CreatedAt   time.Time                 `json:"CreationTime"`
	UpdatedAt   time.Time                 `json:"LastModifiedTime"`
}

// GroupRepository stores groups and their resource membership.
type GroupRepository interface {
	Create(ctx context.Context, g *Group) error
	Get(ctx context.Context, id string) (*Group, error)
	ListForUser(ctx context.Context, userID string) ([]Group, error)
	Update(ctx context.Context, g *Group) error
	Delete(ctx context.Context, id string) error
	// DefaultGroup returns the user's default group with the given access.
	DefaultGroup(ctx context.Context, userID string, access AccessType) (*Group, error)
	AddResource(ctx context.Context, groupID string, kind ResourceKind, resourceID string) error
	// RemoveResource drops resourceID from every group.
	RemoveResource(ctx context.Context, kind ResourceKind, resourceID string) error
	// Access returns the strongest access userID holds on the resource,
	// or "" when none.
	Access(ctx context.Context, userID string, kind ResourceKind, resourceID string) (AccessType, error)
	// ResourceIDs lists the resources of kind reachable by userID.
	ResourceIDs(ctx context.Context, userID string, kind ResourceKind) ([]string, error)
}
