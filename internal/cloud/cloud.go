// Package cloud declares the narrow interfaces the platform consumes from its
// hosting cloud: object storage, vector knowledge bases, agent runtime,
// serverless functions and execution roles.
package cloud

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Rrens/genai-platform/internal/domain"
)

var (
	// ErrObjectNotFound is returned when a key does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrQuotaExceeded is returned when the provider refuses for capacity.
	ErrQuotaExceeded = errors.New("service quota exceeded")
)

// Object is a listed object-store entry.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore stores blobs by bucket and key.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key string) error
	// DeletePrefix removes every object under prefix.
	DeletePrefix(ctx context.Context, bucket, prefix string) error
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// KnowledgeBaseSpec describes a vector knowledge base to provision.
type KnowledgeBaseSpec struct {
	Name           string
	Description    string
	RoleHandle     string
	EmbeddingModel string
	VectorTable    string
}

// DataSourceSpec describes the object-store source of a knowledge base.
type DataSourceSpec struct {
	KnowledgeBaseID   string
	Name              string
	Bucket            string
	Prefixes          []string
	MaxTokens         int
	OverlapPercentage int
}

// IngestionJob is the provider view of an ingestion run.
type IngestionJob struct {
	ID             string
	Status         domain.RunStatus
	FailureReasons []string
	Statistics     domain.RunStatistics
}

// RetrievalResult is a single similarity hit.
type RetrievalResult struct {
	Text     string
	Location string
	Score    float64
}

// KnowledgeBases manages vector knowledge bases and retrieval over them.
type KnowledgeBases interface {
	CreateKnowledgeBase(ctx context.Context, spec KnowledgeBaseSpec) (string, error)
	DeleteKnowledgeBase(ctx context.Context, id string) error
	CreateDataSource(ctx context.Context, spec DataSourceSpec) (string, error)
	StartIngestion(ctx context.Context, knowledgeBaseID, dataSourceID string) (*IngestionJob, error)
	GetIngestion(ctx context.Context, knowledgeBaseID, dataSourceID, jobID string) (*IngestionJob, error)
	Retrieve(ctx context.Context, knowledgeBaseID, query string, topK int) ([]RetrievalResult, error)
}

// AgentSpec describes an agent to provision.
type AgentSpec struct {
	Name          string
	Description   string
	RoleHandle    string
	Model         string
	Instruction   string
	EncryptionKey string
	IdleTTL       time.Duration
}

// AgentState is the provider view of an agent.
type AgentState struct {
	Status         domain.AgentStatus
	FailureReasons []string
}

// AliasState is the provider view of an agent alias.
type AliasState struct {
	Ready   bool
	Failed  bool
	Version string
}

// ActionGroupSpec registers a function-backed tool surface on an agent.
type ActionGroupSpec struct {
	Name           string
	Description    string
	FunctionHandle string
	SchemaBucket   string
	SchemaKey      string
}

// InvokeRequest is one agent turn.
type InvokeRequest struct {
	AgentRef  string
	AliasID   string
	SessionID string
	Input     string
}

// AgentEvent is a pre-chunked piece of an agent answer.
type AgentEvent struct {
	Chunk     []byte
	Citations []domain.Citation
	Err       error
}

// Agents manages agents on the agent runtime.
type Agents interface {
	CreateAgent(ctx context.Context, spec AgentSpec) (string, error)
	GetAgent(ctx context.Context, ref string) (*AgentState, error)
	PrepareAgent(ctx context.Context, ref string) error
	DeleteAgent(ctx context.Context, ref string) error
	CreateAlias(ctx context.Context, ref, name string) (string, error)
	// UpdateAlias points the alias at a fresh version cut from the draft.
	UpdateAlias(ctx context.Context, ref, aliasID, name string) error
	GetAlias(ctx context.Context, ref, aliasID string) (*AliasState, error)
	DeleteVersion(ctx context.Context, ref, version string) error
	AssociateKnowledgeBase(ctx context.Context, ref, knowledgeBaseID, description string) error
	DisassociateKnowledgeBase(ctx context.Context, ref, knowledgeBaseID string) error
	CreateActionGroup(ctx context.Context, ref string, spec ActionGroupSpec) (string, error)
	// DeleteActionGroup disables the registration and then removes it.
	DeleteActionGroup(ctx context.Context, ref, groupRef, name string) error
	Invoke(ctx context.Context, req InvokeRequest) (<-chan AgentEvent, error)
}

// FunctionSpec describes a function to create.
type FunctionSpec struct {
	Name       string
	RoleHandle string
	Handler    string
	Runtime    string
	CodeBucket string
	CodeKey    string
	Layers     []string
	MemoryMB   int
	Timeout    time.Duration
	// InvokePrincipal is granted permission to invoke the function.
	InvokePrincipal string
}

// Functions manages serverless functions and their dependency layers.
type Functions interface {
	CreateFunction(ctx context.Context, spec FunctionSpec) (string, error)
	UpdateFunctionCode(ctx context.Context, name, bucket, key string) error
	UpdateFunctionConfiguration(ctx context.Context, name, handler string, layers []string) error
	DeleteFunction(ctx context.Context, name string) error
	// PublishLayer publishes a layer version and returns its handle and number.
	PublishLayer(ctx context.Context, name, bucket, key, runtime string) (string, int64, error)
	// PruneLayer deletes every version of the layer older than keep.
	PruneLayer(ctx context.Context, name string, keep int64) error
}

// RoleKind names the purpose of an execution role.
type RoleKind string

const (
	RoleKnowledgeBase RoleKind = "knowledge-base"
	RoleFunction      RoleKind = "function"
	RoleAgent         RoleKind = "agent"
)

// Roles hands out execution roles for provisioned resources.
type Roles interface {
	EnsureRole(ctx context.Context, kind RoleKind, name string) (string, error)
	DeleteRole(ctx context.Context, handle string) error
}
