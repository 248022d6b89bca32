package aws

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/config"
)

// StaticRoles hands out pre-provisioned role ARNs from configuration. Role
// minting happens at deploy time, so DeleteRole is a no-op.
type StaticRoles struct {
	arns map[cloud.RoleKind]string
}

func NewStaticRoles(cfg config.AWSConfig) *StaticRoles {
	return &StaticRoles{arns: map[cloud.RoleKind]string{
		cloud.RoleKnowledgeBase: cfg.KnowledgeBaseRoleArn,
		cloud.RoleFunction:      cfg.FunctionRoleArn,
		cloud.RoleAgent:         cfg.AgentRoleArn,
	}}
}

func (r *StaticRoles) EnsureRole(_ context.Context, kind cloud.RoleKind, name string) (string, error) {
	arn := r.arns[kind]
	if arn == "" {
		return "", fmt.Errorf("no %s role configured for %s", kind, name)
	}
	return arn, nil
}

func (r *StaticRoles) DeleteRole(context.Context, string) error {
	return nil
}
