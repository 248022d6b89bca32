package aws

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	runtimetypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
)

const draftVersion = "DRAFT"

// AgentAPI is the subset of the Bedrock agent client used for agents.
type AgentAPI interface {
	CreateAgent(ctx context.Context, params *bedrockagent.CreateAgentInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.CreateAgentOutput, error)
	GetAgent(ctx context.Context, params *bedrockagent.GetAgentInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.GetAgentOutput, error)
	PrepareAgent(ctx context.Context, params *bedrockagent.PrepareAgentInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.PrepareAgentOutput, error)
	DeleteAgent(ctx context.Context, params *bedrockagent.DeleteAgentInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.DeleteAgentOutput, error)
	CreateAgentAlias(ctx context.Context, params *bedrockagent.CreateAgentAliasInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.CreateAgentAliasOutput, error)
	UpdateAgentAlias(ctx context.Context, params *bedrockagent.UpdateAgentAliasInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.UpdateAgentAliasOutput, error)
	GetAgentAlias(ctx context.Context, params *bedrockagent.GetAgentAliasInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.GetAgentAliasOutput, error)
	DeleteAgentVersion(ctx context.Context, params *bedrockagent.DeleteAgentVersionInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.DeleteAgentVersionOutput, error)
	AssociateAgentKnowledgeBase(ctx context.Context, params *bedrockagent.AssociateAgentKnowledgeBaseInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.AssociateAgentKnowledgeBaseOutput, error)
	DisassociateAgentKnowledgeBase(ctx context.Context, params *bedrockagent.DisassociateAgentKnowledgeBaseInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.DisassociateAgentKnowledgeBaseOutput, error)
	CreateAgentActionGroup(ctx context.Context, params *bedrockagent.CreateAgentActionGroupInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.CreateAgentActionGroupOutput, error)
	UpdateAgentActionGroup(ctx context.Context, params *bedrockagent.UpdateAgentActionGroupInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.UpdateAgentActionGroupOutput, error)
	DeleteAgentActionGroup(ctx context.Context, params *bedrockagent.DeleteAgentActionGroupInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.DeleteAgentActionGroupOutput, error)
}

// InvokeAPI is the subset of the Bedrock agent runtime client used to talk
// to agents.
type InvokeAPI interface {
	InvokeAgent(ctx context.Context, params *bedrockagentruntime.InvokeAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.InvokeAgentOutput, error)
}

// Agents implements cloud.Agents on Bedrock.
type Agents struct {
	client  AgentAPI
	runtime InvokeAPI
}

func NewAgents(client AgentAPI, runtime InvokeAPI) *Agents {
	return &Agents{client: client, runtime: runtime}
}

func (a *Agents) CreateAgent(ctx context.Context, spec cloud.AgentSpec) (string, error) {
	input := &bedrockagent.CreateAgentInput{
		AgentName:            aws.String(spec.Name),
		AgentResourceRoleArn: aws.String(spec.RoleHandle),
		FoundationModel:      aws.String(spec.Model),
		Instruction:          aws.String(spec.Instruction),
	}
	if spec.Description != "" {
		input.Description = aws.String(spec.Description)
	}
	if spec.EncryptionKey != "" {
		input.CustomerEncryptionKeyArn = aws.String(spec.EncryptionKey)
	}
	if spec.IdleTTL > 0 {
		input.IdleSessionTTLInSeconds = aws.Int32(int32(spec.IdleTTL.Seconds()))
	}

	out, err := a.client.CreateAgent(ctx, input)
	if err != nil {
		return "", classify(err, "failed to create agent")
	}
	return aws.ToString(out.Agent.AgentId), nil
}

func (a *Agents) GetAgent(ctx context.Context, ref string) (*cloud.AgentState, error) {
	out, err := a.client.GetAgent(ctx, &bedrockagent.GetAgentInput{AgentId: aws.String(ref)})
	if err != nil {
		return nil, classify(err, "failed to get agent")
	}
	return &cloud.AgentState{
		Status:         agentStatus(out.Agent.AgentStatus),
		FailureReasons: out.Agent.FailureReasons,
	}, nil
}

func (a *Agents) PrepareAgent(ctx context.Context, ref string) error {
	if _, err := a.client.PrepareAgent(ctx, &bedrockagent.PrepareAgentInput{AgentId: aws.String(ref)}); err != nil {
		return classify(err, "failed to prepare agent")
	}
	return nil
}

func (a *Agents) DeleteAgent(ctx context.Context, ref string) error {
	_, err := a.client.DeleteAgent(ctx, &bedrockagent.DeleteAgentInput{AgentId: aws.String(ref)})
	if err != nil && !isNotFound(err) {
		return classify(err, "failed to delete agent")
	}
	return nil
}

func (a *Agents) CreateAlias(ctx context.Context, ref, name string) (string, error) {
	out, err := a.client.CreateAgentAlias(ctx, &bedrockagent.CreateAgentAliasInput{
		AgentId:        aws.String(ref),
		AgentAliasName: aws.String(name),
	})
	if err != nil {
		return "", classify(err, "failed to create agent alias")
	}
	return aws.ToString(out.AgentAlias.AgentAliasId), nil
}

func (a *Agents) UpdateAlias(ctx context.Context, ref, aliasID, name string) error {
	_, err := a.client.UpdateAgentAlias(ctx, &bedrockagent.UpdateAgentAliasInput{
		AgentId:        aws.String(ref),
		AgentAliasId:   aws.String(aliasID),
		AgentAliasName: aws.String(name),
	})
	if err != nil {
		return classify(err, "failed to update agent alias")
	}
	return nil
}

func (a *Agents) GetAlias(ctx context.Context, ref, aliasID string) (*cloud.AliasState, error) {
	out, err := a.client.GetAgentAlias(ctx, &bedrockagent.GetAgentAliasInput{
		AgentId:      aws.String(ref),
		AgentAliasId: aws.String(aliasID),
	})
	if err != nil {
		return nil, classify(err, "failed to get agent alias")
	}

	alias := out.AgentAlias
	state := &cloud.AliasState{
		Ready:  alias.AgentAliasStatus == agenttypes.AgentAliasStatusPrepared,
		Failed: alias.AgentAliasStatus == agenttypes.AgentAliasStatusFailed,
	}
	if len(alias.RoutingConfiguration) > 0 {
		state.Version = aws.ToString(alias.RoutingConfiguration[0].AgentVersion)
	}
	return state, nil
}

func (a *Agents) DeleteVersion(ctx context.Context, ref, version string) error {
	if version == "" || version == draftVersion {
		return nil
	}
	_, err := a.client.DeleteAgentVersion(ctx, &bedrockagent.DeleteAgentVersionInput{
		AgentId:      aws.String(ref),
		AgentVersion: aws.String(version),
	})
	if err != nil && !isNotFound(err) {
		return classify(err, "failed to delete agent version")
	}
	return nil
}

func (a *Agents) AssociateKnowledgeBase(ctx context.Context, ref, knowledgeBaseID, description string) error {
	_, err := a.client.AssociateAgentKnowledgeBase(ctx, &bedrockagent.AssociateAgentKnowledgeBaseInput{
		AgentId:            aws.String(ref),
		AgentVersion:       aws.String(draftVersion),
		KnowledgeBaseId:    aws.String(knowledgeBaseID),
		Description:        aws.String(description),
		KnowledgeBaseState: agenttypes.KnowledgeBaseStateEnabled,
	})
	if err != nil {
		return classify(err, "failed to associate knowledge base")
	}
	return nil
}

func (a *Agents) DisassociateKnowledgeBase(ctx context.Context, ref, knowledgeBaseID string) error {
	_, err := a.client.DisassociateAgentKnowledgeBase(ctx, &bedrockagent.DisassociateAgentKnowledgeBaseInput{
		AgentId:         aws.String(ref),
		AgentVersion:    aws.String(draftVersion),
		KnowledgeBaseId: aws.String(knowledgeBaseID),
	})
	if err != nil && !isNotFound(err) {
		return classify(err, "failed to disassociate knowledge base")
	}
	return nil
}

func (a *Agents) CreateActionGroup(ctx context.Context, ref string, spec cloud.ActionGroupSpec) (string, error) {
	input := &bedrockagent.CreateAgentActionGroupInput{
		AgentId:             aws.String(ref),
		AgentVersion:        aws.String(draftVersion),
		ActionGroupName:     aws.String(spec.Name),
		ActionGroupState:    agenttypes.ActionGroupStateEnabled,
		ActionGroupExecutor: &agenttypes.ActionGroupExecutorMemberLambda{Value: spec.FunctionHandle},
		ApiSchema: &agenttypes.APISchemaMemberS3{Value: agenttypes.S3Identifier{
			S3BucketName: aws.String(spec.SchemaBucket),
			S3ObjectKey:  aws.String(spec.SchemaKey),
		}},
	}
	if spec.Description != "" {
		input.Description = aws.String(spec.Description)
	}

	out, err := a.client.CreateAgentActionGroup(ctx, input)
	if err != nil {
		return "", classify(err, "failed to create agent action group")
	}
	return aws.ToString(out.AgentActionGroup.ActionGroupId), nil
}

func (a *Agents) DeleteActionGroup(ctx context.Context, ref, groupRef, name string) error {
	_, err := a.client.UpdateAgentActionGroup(ctx, &bedrockagent.UpdateAgentActionGroupInput{
		AgentId:          aws.String(ref),
		AgentVersion:     aws.String(draftVersion),
		ActionGroupId:    aws.String(groupRef),
		ActionGroupName:  aws.String(name),
		ActionGroupState: agenttypes.ActionGroupStateDisabled,
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return classify(err, "failed to disable agent action group")
	}

	_, err = a.client.DeleteAgentActionGroup(ctx, &bedrockagent.DeleteAgentActionGroupInput{
		AgentId:       aws.String(ref),
		AgentVersion:  aws.String(draftVersion),
		ActionGroupId: aws.String(groupRef),
	})
	if err != nil && !isNotFound(err) {
		return classify(err, "failed to delete agent action group")
	}
	return nil
}

// Invoke starts an agent turn and relays its pre-chunked answer.
func (a *Agents) Invoke(ctx context.Context, req cloud.InvokeRequest) (<-chan cloud.AgentEvent, error) {
	out, err := a.runtime.InvokeAgent(ctx, &bedrockagentruntime.InvokeAgentInput{
		AgentId:      aws.String(req.AgentRef),
		AgentAliasId: aws.String(req.AliasID),
		SessionId:    aws.String(req.SessionID),
		InputText:    aws.String(req.Input),
	})
	if err != nil {
		return nil, classify(err, "failed to invoke agent")
	}

	stream := out.GetStream()
	events := make(chan cloud.AgentEvent)
	go func() {
		defer close(events)
		defer stream.Close()

		for event := range stream.Events() {
			chunk, ok := event.(*runtimetypes.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			ev := cloud.AgentEvent{Chunk: chunk.Value.Bytes}
			if chunk.Value.Attribution != nil {
				ev.Citations = citations(chunk.Value.Attribution.Citations)
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case events <- cloud.AgentEvent{Err: fmt.Errorf("agent stream failed: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return events, nil
}

func citations(in []runtimetypes.Citation) []domain.Citation {
	out := make([]domain.Citation, 0, len(in))
	for _, c := range in {
		var citation domain.Citation
		if part := c.GeneratedResponsePart; part != nil && part.TextResponsePart != nil {
			citation.Text = aws.ToString(part.TextResponsePart.Text)
		}
		for _, ref := range c.RetrievedReferences {
			if loc := retrievalLocation(ref.Location); loc != "" {
				citation.References = append(citation.References, loc)
			}
		}
		out = append(out, citation)
	}
	return out
}

func agentStatus(s agenttypes.AgentStatus) domain.AgentStatus {
	switch s {
	case agenttypes.AgentStatusCreating:
		return domain.AgentCreating
	case agenttypes.AgentStatusNotPrepared:
		return domain.AgentNotPrepared
	case agenttypes.AgentStatusPreparing:
		return domain.AgentPreparing
	case agenttypes.AgentStatusPrepared:
		return domain.AgentPrepared
	case agenttypes.AgentStatusUpdating, agenttypes.AgentStatusVersioning:
		return domain.AgentUpdating
	default:
		return domain.AgentFailed
	}
}
