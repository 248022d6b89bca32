package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

const (
	defaultRuntime  = types.RuntimePython312
	defaultMemoryMB = 1024
	defaultTimeout  = 300 * time.Second
	waitTimeout     = 5 * time.Minute
)

// LambdaAPI is the subset of the Lambda client used here.
type LambdaAPI interface {
	CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	AddPermission(ctx context.Context, params *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error)
	UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	UpdateFunctionConfiguration(ctx context.Context, params *lambda.UpdateFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error)
	DeleteFunction(ctx context.Context, params *lambda.DeleteFunctionInput, optFns ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error)
	PublishLayerVersion(ctx context.Context, params *lambda.PublishLayerVersionInput, optFns ...func(*lambda.Options)) (*lambda.PublishLayerVersionOutput, error)
	ListLayerVersions(ctx context.Context, params *lambda.ListLayerVersionsInput, optFns ...func(*lambda.Options)) (*lambda.ListLayerVersionsOutput, error)
	DeleteLayerVersion(ctx context.Context, params *lambda.DeleteLayerVersionInput, optFns ...func(*lambda.Options)) (*lambda.DeleteLayerVersionOutput, error)
}

// Functions implements cloud.Functions on Lambda.
type Functions struct {
	client LambdaAPI
}

func NewFunctions(client LambdaAPI) *Functions {
	return &Functions{client: client}
}

func (f *Functions) CreateFunction(ctx context.Context, spec cloud.FunctionSpec) (string, error) {
	runtime := defaultRuntime
	if spec.Runtime != "" {
		runtime = types.Runtime(spec.Runtime)
	}
	memory := spec.MemoryMB
	if memory == 0 {
		memory = defaultMemoryMB
	}
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	out, err := f.client.CreateFunction(ctx, &lambda.CreateFunctionInput{
		FunctionName: aws.String(spec.Name),
		Role:         aws.String(spec.RoleHandle),
		Handler:      aws.String(spec.Handler),
		Runtime:      runtime,
		Code: &types.FunctionCode{
			S3Bucket: aws.String(spec.CodeBucket),
			S3Key:    aws.String(spec.CodeKey),
		},
		Layers:     spec.Layers,
		MemorySize: aws.Int32(int32(memory)),
		Timeout:    aws.Int32(int32(timeout.Seconds())),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create function %s: %w", spec.Name, err)
	}

	if err := f.waitActive(ctx, spec.Name); err != nil {
		return "", err
	}

	if spec.InvokePrincipal != "" {
		_, err := f.client.AddPermission(ctx, &lambda.AddPermissionInput{
			FunctionName: aws.String(spec.Name),
			StatementId:  aws.String("allow-" + spec.Name),
			Action:       aws.String("lambda:InvokeFunction"),
			Principal:    aws.String(spec.InvokePrincipal),
		})
		if err != nil {
			return "", fmt.Errorf("failed to grant invoke on %s: %w", spec.Name, err)
		}
	}
	return aws.ToString(out.FunctionArn), nil
}

func (f *Functions) UpdateFunctionCode(ctx context.Context, name, bucket, key string) error {
	_, err := f.client.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(name),
		S3Bucket:     aws.String(bucket),
		S3Key:        aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to update code of %s: %w", name, err)
	}
	return f.waitUpdated(ctx, name)
}

func (f *Functions) UpdateFunctionConfiguration(ctx context.Context, name, handler string, layers []string) error {
	input := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(name),
		Layers:       layers,
	}
	if handler != "" {
		input.Handler = aws.String(handler)
	}
	if _, err := f.client.UpdateFunctionConfiguration(ctx, input); err != nil {
		return fmt.Errorf("failed to update configuration of %s: %w", name, err)
	}
	return f.waitUpdated(ctx, name)
}

func (f *Functions) DeleteFunction(ctx context.Context, name string) error {
	_, err := f.client.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: aws.String(name)})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			return nil
		}
		return fmt.Errorf("failed to delete function %s: %w", name, err)
	}
	return nil
}

func (f *Functions) PublishLayer(ctx context.Context, name, bucket, key, runtime string) (string, int64, error) {
	if runtime == "" {
		runtime = string(defaultRuntime)
	}
	out, err := f.client.PublishLayerVersion(ctx, &lambda.PublishLayerVersionInput{
		LayerName: aws.String(name),
		Content: &types.LayerVersionContentInput{
			S3Bucket: aws.String(bucket),
			S3Key:    aws.String(key),
		},
		CompatibleRuntimes: []types.Runtime{types.Runtime(runtime)},
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to publish layer %s: %w", name, err)
	}
	return aws.ToString(out.LayerVersionArn), out.Version, nil
}

func (f *Functions) PruneLayer(ctx context.Context, name string, keep int64) error {
	out, err := f.client.ListLayerVersions(ctx, &lambda.ListLayerVersionsInput{LayerName: aws.String(name)})
	if err != nil {
		return fmt.Errorf("failed to list layer versions of %s: %w", name, err)
	}
	for _, v := range out.LayerVersions {
		if v.Version >= keep {
			continue
		}
		_, err := f.client.DeleteLayerVersion(ctx, &lambda.DeleteLayerVersionInput{
			LayerName:     aws.String(name),
			VersionNumber: aws.Int64(v.Version),
		})
		if err != nil {
			return fmt.Errorf("failed to delete layer %s version %d: %w", name, v.Version, err)
		}
	}
	return nil
}

func (f *Functions) waitActive(ctx context.Context, name string) error {
	waiter := lambda.NewFunctionActiveV2Waiter(f.client)
	if err := waiter.Wait(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)}, waitTimeout); err != nil {
		return fmt.Errorf("function %s did not become active: %w", name, err)
	}
	return nil
}

func (f *Functions) waitUpdated(ctx context.Context, name string) error {
	waiter := lambda.NewFunctionUpdatedV2Waiter(f.client)
	if err := waiter.Wait(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)}, waitTimeout); err != nil {
		return fmt.Errorf("function %s did not finish updating: %w", name, err)
	}
	return nil
}
