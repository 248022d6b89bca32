// Package aws implements the cloud interfaces on AWS: S3 for objects, Bedrock
// knowledge bases and agents, Lambda for action-group functions.
package aws

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Clients bundles every AWS-backed implementation.
type Clients struct {
	Objects        *ObjectStore
	KnowledgeBases *KnowledgeBases
	Agents         *Agents
	Functions      *Functions
	Roles          *StaticRoles
}

// New loads the default credential chain and builds all clients.
func New(ctx context.Context, cfg config.AWSConfig) (*Clients, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(max(1, cfg.MaxRetries)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewFromConfig(awsCfg, cfg), nil
}

// NewFromConfig builds all clients from an already loaded aws.Config.
func NewFromConfig(awsCfg aws.Config, cfg config.AWSConfig) *Clients {
	s3Client := s3.NewFromConfig(awsCfg)
	agentClient := bedrockagent.NewFromConfig(awsCfg)
	runtimeClient := bedrockagentruntime.NewFromConfig(awsCfg)

	return &Clients{
		Objects: NewObjectStore(s3Client, s3.NewPresignClient(s3Client)),
		KnowledgeBases: NewKnowledgeBases(agentClient, runtimeClient, VectorStore{
			ClusterArn: cfg.VectorClusterArn,
			SecretArn:  cfg.VectorSecretArn,
			Database:   cfg.VectorDatabase,
		}, cfg.EmbeddingModelArnFmt),
		Agents:    NewAgents(agentClient, runtimeClient),
		Functions: NewFunctions(lambda.NewFromConfig(awsCfg)),
		Roles:     NewStaticRoles(cfg),
	}
}
