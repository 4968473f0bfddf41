// Package dynamodb implements the tally stores using AWS DynamoDB.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/tally/internal/provider"
	"github.com/dwsmith1983/tally/pkg/types"
)

// Compile-time interface satisfaction check.
var _ provider.Store = (*DynamoDBProvider)(nil)

// DDBAPI is the subset of the DynamoDB client used by the provider.
type DDBAPI interface {
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, input *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Batch write limits.
const (
	maxBatchWrite         = 25
	maxUnprocessedRetries = 5
	unprocessedBackoff    = 100 * time.Millisecond
)

// DynamoDBProvider implements provider.Store backed by a single DynamoDB
// table.
type DynamoDBProvider struct {
	client      DDBAPI
	tableName   string
	logger      *slog.Logger
	createTable bool
	backoff     time.Duration
}

// New creates a new DynamoDBProvider.
func New(cfg *types.DynamoDBConfig) (*DynamoDBProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	// For DynamoDB Local: use static credentials and custom endpoint.
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var clientOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	p := NewFromClient(dynamodb.NewFromConfig(awsCfg, clientOpts...), cfg.TableName)
	p.createTable = cfg.CreateTable
	return p, nil
}

// NewFromClient creates a DynamoDBProvider over an existing client (useful for testing).
func NewFromClient(client DDBAPI, tableName string) *DynamoDBProvider {
	return &DynamoDBProvider{
		client:    client,
		tableName: tableName,
		logger:    slog.Default(),
		backoff:   unprocessedBackoff,
	}
}

// Start pings DynamoDB, creating the table first when configured to.
func (p *DynamoDBProvider) Start(ctx context.Context) error {
	if p.createTable {
		if err := p.EnsureTable(ctx); err != nil {
			return err
		}
	}
	return p.Ping(ctx)
}

// Close is a no-op for DynamoDB (no persistent connections to close).
func (p *DynamoDBProvider) Close() error {
	return nil
}

// Ping checks connectivity by describing the table.
func (p *DynamoDBProvider) Ping(ctx context.Context) error {
	_, err := p.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: &p.tableName,
	})
	if err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

// EnsureTable creates the table if it does not exist.
func (p *DynamoDBProvider) EnsureTable(ctx context.Context) error {
	_, err := p.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &p.tableName,
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: ddbtypes.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: ddbtypes.KeyTypeRange},
		},
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		BillingMode: ddbtypes.BillingModePayPerRequest,
	})
	if err != nil {
		var riue *ddbtypes.ResourceInUseException
		if errors.As(err, &riue) {
			return nil // table already exists
		}
		return fmt.Errorf("creating table: %w", err)
	}
	return nil
}
