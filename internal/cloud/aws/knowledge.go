package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	runtimetypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
)

// Column names of every workspace vector table.
const (
	vectorIDField       = "id"
	vectorEmbedField    = "embedding"
	vectorTextField     = "chunks"
	vectorMetadataField = "metadata"
)

// KnowledgeBaseAPI is the subset of the Bedrock agent client used for
// knowledge bases.
type KnowledgeBaseAPI interface {
	CreateKnowledgeBase(ctx context.Context, params *bedrockagent.CreateKnowledgeBaseInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.CreateKnowledgeBaseOutput, error)
	DeleteKnowledgeBase(ctx context.Context, params *bedrockagent.DeleteKnowledgeBaseInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.DeleteKnowledgeBaseOutput, error)
	CreateDataSource(ctx context.Context, params *bedrockagent.CreateDataSourceInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.CreateDataSourceOutput, error)
	StartIngestionJob(ctx context.Context, params *bedrockagent.StartIngestionJobInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.StartIngestionJobOutput, error)
	GetIngestionJob(ctx context.Context, params *bedrockagent.GetIngestionJobInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.GetIngestionJobOutput, error)
}

// RetrieveAPI is the subset of the Bedrock agent runtime client used for
// similarity search.
type RetrieveAPI interface {
	Retrieve(ctx context.Context, params *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
}

// VectorStore locates the relational vector cluster backing knowledge bases.
type VectorStore struct {
	ClusterArn string
	SecretArn  string
	Database   string
}

// KnowledgeBases implements cloud.KnowledgeBases on Bedrock.
type KnowledgeBases struct {
	client      KnowledgeBaseAPI
	runtime     RetrieveAPI
	store       VectorStore
	modelArnFmt string
}

func NewKnowledgeBases(client KnowledgeBaseAPI, runtime RetrieveAPI, store VectorStore, modelArnFmt string) *KnowledgeBases {
	return &KnowledgeBases{client: client, runtime: runtime, store: store, modelArnFmt: modelArnFmt}
}

func (k *KnowledgeBases) modelArn(model string) string {
	if strings.HasPrefix(model, "arn:") || k.modelArnFmt == "" {
		return model
	}
	return fmt.Sprintf(k.modelArnFmt, model)
}

func (k *KnowledgeBases) CreateKnowledgeBase(ctx context.Context, spec cloud.KnowledgeBaseSpec) (string, error) {
	input := &bedrockagent.CreateKnowledgeBaseInput{
		Name:    aws.String(spec.Name),
		RoleArn: aws.String(spec.RoleHandle),
		KnowledgeBaseConfiguration: &agenttypes.KnowledgeBaseConfiguration{
			Type: agenttypes.KnowledgeBaseTypeVector,
			VectorKnowledgeBaseConfiguration: &agenttypes.VectorKnowledgeBaseConfiguration{
				EmbeddingModelArn: aws.String(k.modelArn(spec.EmbeddingModel)),
			},
		},
		StorageConfiguration: &agenttypes.StorageConfiguration{
			Type: agenttypes.KnowledgeBaseStorageTypeRds,
			RdsConfiguration: &agenttypes.RdsConfiguration{
				ResourceArn:          aws.String(k.store.ClusterArn),
				CredentialsSecretArn: aws.String(k.store.SecretArn),
				DatabaseName:         aws.String(k.store.Database),
				TableName:            aws.String(spec.VectorTable),
				FieldMapping: &agenttypes.RdsFieldMapping{
					PrimaryKeyField: aws.String(vectorIDField),
					VectorField:     aws.String(vectorEmbedField),
					TextField:       aws.String(vectorTextField),
					MetadataField:   aws.String(vectorMetadataField),
				},
			},
		},
	}
	if spec.Description != "" {
		input.Description = aws.String(spec.Description)
	}

	out, err := k.client.CreateKnowledgeBase(ctx, input)
	if err != nil {
		return "", classify(err, "failed to create knowledge base")
	}
	return aws.ToString(out.KnowledgeBase.KnowledgeBaseId), nil
}

func (k *KnowledgeBases) DeleteKnowledgeBase(ctx context.Context, id string) error {
	_, err := k.client.DeleteKnowledgeBase(ctx, &bedrockagent.DeleteKnowledgeBaseInput{
		KnowledgeBaseId: aws.String(id),
	})
	if err != nil && !isNotFound(err) {
		return classify(err, "failed to delete knowledge base")
	}
	return nil
}

func (k *KnowledgeBases) CreateDataSource(ctx context.Context, spec cloud.DataSourceSpec) (string, error) {
	out, err := k.client.CreateDataSource(ctx, &bedrockagent.CreateDataSourceInput{
		KnowledgeBaseId: aws.String(spec.KnowledgeBaseID),
		Name:            aws.String(spec.Name),
		DataSourceConfiguration: &agenttypes.DataSourceConfiguration{
			Type: agenttypes.DataSourceTypeS3,
			S3Configuration: &agenttypes.S3DataSourceConfiguration{
				BucketArn:         aws.String("arn:aws:s3:::" + spec.Bucket),
				InclusionPrefixes: spec.Prefixes,
			},
		},
		VectorIngestionConfiguration: &agenttypes.VectorIngestionConfiguration{
			ChunkingConfiguration: &agenttypes.ChunkingConfiguration{
				ChunkingStrategy: agenttypes.ChunkingStrategyFixedSize,
				FixedSizeChunkingConfiguration: &agenttypes.FixedSizeChunkingConfiguration{
					MaxTokens:         aws.Int32(int32(spec.MaxTokens)),
					OverlapPercentage: aws.Int32(int32(spec.OverlapPercentage)),
				},
			},
		},
	})
	if err != nil {
		return "", classify(err, "failed to create data source")
	}
	return aws.ToString(out.DataSource.DataSourceId), nil
}

func (k *KnowledgeBases) StartIngestion(ctx context.Context, knowledgeBaseID, dataSourceID string) (*cloud.IngestionJob, error) {
	out, err := k.client.StartIngestionJob(ctx, &bedrockagent.StartIngestionJobInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
		DataSourceId:    aws.String(dataSourceID),
	})
	if err != nil {
		return nil, classify(err, "failed to start ingestion job")
	}
	return ingestionJob(out.IngestionJob), nil
}

func (k *KnowledgeBases) GetIngestion(ctx context.Context, knowledgeBaseID, dataSourceID, jobID string) (*cloud.IngestionJob, error) {
	out, err := k.client.GetIngestionJob(ctx, &bedrockagent.GetIngestionJobInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
		DataSourceId:    aws.String(dataSourceID),
		IngestionJobId:  aws.String(jobID),
	})
	if err != nil {
		return nil, classify(err, "failed to get ingestion job")
	}
	return ingestionJob(out.IngestionJob), nil
}

func (k *KnowledgeBases) Retrieve(ctx context.Context, knowledgeBaseID, query string, topK int) ([]cloud.RetrievalResult, error) {
	out, err := k.runtime.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
		RetrievalQuery:  &runtimetypes.KnowledgeBaseQuery{Text: aws.String(query)},
		RetrievalConfiguration: &runtimetypes.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: &runtimetypes.KnowledgeBaseVectorSearchConfiguration{
				NumberOfResults: aws.Int32(int32(topK)),
			},
		},
	})
	if err != nil {
		return nil, classify(err, "failed to retrieve")
	}

	results := make([]cloud.RetrievalResult, 0, len(out.RetrievalResults))
	for _, r := range out.RetrievalResults {
		result := cloud.RetrievalResult{Score: aws.ToFloat64(r.Score)}
		if r.Content != nil {
			result.Text = aws.ToString(r.Content.Text)
		}
		result.Location = retrievalLocation(r.Location)
		results = append(results, result)
	}
	return results, nil
}

func retrievalLocation(loc *runtimetypes.RetrievalResultLocation) string {
	if loc == nil {
		return ""
	}
	if loc.S3Location != nil {
		return aws.ToString(loc.S3Location.Uri)
	}
	if loc.WebLocation != nil {
		return aws.ToString(loc.WebLocation.Url)
	}
	return ""
}

func ingestionJob(job *agenttypes.IngestionJob) *cloud.IngestionJob {
	if job == nil {
		return &cloud.IngestionJob{Status: domain.RunFailed}
	}
	out := &cloud.IngestionJob{
		ID:             aws.ToString(job.IngestionJobId),
		Status:         runStatus(job.Status),
		FailureReasons: job.FailureReasons,
	}
	if s := job.Statistics; s != nil {
		out.Statistics = domain.RunStatistics{
			Scanned:  s.NumberOfDocumentsScanned,
			New:      s.NumberOfNewDocumentsIndexed,
			Modified: s.NumberOfModifiedDocumentsIndexed,
			Deleted:  s.NumberOfDocumentsDeleted,
			Failed:   s.NumberOfDocumentsFailed,
		}
	}
	return out
}

func runStatus(s agenttypes.IngestionJobStatus) domain.RunStatus {
	switch s {
	case agenttypes.IngestionJobStatusStarting:
		return domain.RunStarting
	case agenttypes.IngestionJobStatusInProgress:
		return domain.RunInProgress
	case agenttypes.IngestionJobStatusComplete:
		return domain.RunComplete
	default:
		return domain.RunFailed
	}
}

// classify maps provider errors onto the cloud sentinel errors.
func classify(err error, msg string) error {
	var quota *agenttypes.ServiceQuotaExceededException
	if errors.As(err, &quota) {
		return fmt.Errorf("%s: %w: %s", msg, cloud.ErrQuotaExceeded, quota.ErrorMessage())
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isNotFound(err error) bool {
	var nf *agenttypes.ResourceNotFoundException
	return errors.As(err, &nf)
}
