// Package service holds the platform's application logic: sessions and the
// conversation orchestrator, the workspace lifecycle, chatbots, agents with
// their action groups and libraries, users and groups.
package service

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/dataplane"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/llm"
	"github.com/Rrens/genai-platform/internal/repository/redis"
	"github.com/Rrens/genai-platform/internal/retriever"
)

// DataPlane is the part of the external Data Plane the services call.
type DataPlane interface {
	ListDomains(ctx context.Context, cred dataplane.Credential) ([]dataplane.Domain, error)
	ListTenants(ctx context.Context, cred dataplane.Credential) ([]dataplane.Tenant, error)
	ListRoles(ctx context.Context, cred dataplane.Credential, userID string) ([]dataplane.Role, error)
	ListDatasets(ctx context.Context, cred dataplane.Credential, domainName string) ([]dataplane.Dataset, error)
	GetDataset(ctx context.Context, cred dataplane.Credential, datasetID string) (*dataplane.Dataset, error)
	CreateDataset(ctx context.Context, cred dataplane.Credential, in dataplane.CreateDatasetInput) (*dataplane.Dataset, error)
	ListFiles(ctx context.Context, cred dataplane.Credential, datasetID string) ([]dataplane.File, error)
	UploadFile(ctx context.Context, cred dataplane.Credential, datasetID, name string, body io.Reader) (string, error)
	Identify(ctx context.Context, cred dataplane.Credential) (*dataplane.Identity, error)
}

// Pusher delivers a server message to a live connection.
type Pusher interface {
	Push(ctx context.Context, connectionID string, payload any) error
}

// Schedules registers the named recurring triggers of workspaces.
type Schedules interface {
	Put(ctx context.Context, name, expression, workspaceID string) error
	Remove(ctx context.Context, name string) error
}

// VectorTables manages the per-workspace vector tables.
type VectorTables interface {
	CreateTable(ctx context.Context, table string, dimension int) error
	DropTable(ctx context.Context, table string) error
	Count(ctx context.Context, table string) (int64, error)
}

// RateLimiter meters sendmessage calls per principal.
type RateLimiter interface {
	Allow(ctx context.Context, scope, principal string) (redis.Decision, error)
}

// Retriever searches a workspace on behalf of a principal.
type Retriever interface {
	Retrieve(ctx context.Context, ws *domain.Workspace, principal *retriever.Principal, query string) (*retriever.Result, error)
}

// FileLoader loads one session file as a document.
type FileLoader interface {
	Load(ctx context.Context, userID, sessionID, name string, maxChars int) (*retriever.Document, error)
}

// Providers resolves inference hosts by name.
type Providers interface {
	GetProvider(name string) (llm.Provider, error)
}

// sortFields maps a sortby value to its ordering.
type sortFields[T any] map[string]func(a, b T) bool

// paginate sorts items by opts.SortBy, falling back to the default field.
func paginate[T any](items []T, opts domain.ListOptions, fields sortFields[T]) domain.Page[T] {
	opts = opts.Normalize()
	less, ok := fields[opts.SortBy]
	if !ok {
		less = fields[domain.DefaultSortBy]
	}
	return domain.Paginate(items, opts, less)
}

func before(a, b time.Time) bool { return a.Before(b) }

func notFound(err error) bool {
	return domain.IsKind(err, domain.KindNotFound)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// resourceName builds the provider-side name of a platform resource.
func resourceName(p config.ProjectConfig, parts ...string) string {
	names := make([]string, 0, len(parts)+2)
	for _, part := range append([]string{p.ShortName, p.Environment}, parts...) {
		if part != "" {
			names = append(names, part)
		}
	}
	return strings.Join(names, "-")
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
