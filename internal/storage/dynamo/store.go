// Package dynamo stores import records in a single DynamoDB table keyed by
// tenant partition and entity sort key.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"
)

// DefaultTable is used when the store config names no table
const DefaultTable = "crm-imports"

// RunIndex is the GSI grouping records by import run
const RunIndex = "import-run-index"

// maxTransactItems is the TransactWriteItems limit
const maxTransactItems = 100

func init() {
	storage.Register("dynamodb", New)
}

// Client is the subset of the DynamoDB API the store uses
type Client interface {
	dynamodb.QueryAPIClient
	dynamodb.DescribeTableAPIClient
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// recordItem is the stored shape of an assembled record
type recordItem struct {
	PK          string         `dynamodbav:"PK"`
	SK          string         `dynamodbav:"SK"`
	RunKey      string         `dynamodbav:"RunKey,omitempty"`
	ID          string         `dynamodbav:"id"`
	TenantID    string         `dynamodbav:"tenant_id"`
	Name        string         `dynamodbav:"name"`
	Core        map[string]any `dynamodbav:"core"`
	Extra       map[string]any `dynamodbav:"extra_attributes,omitempty"`
	CreatedBy   string         `dynamodbav:"created_by,omitempty"`
	ImportRunID string         `dynamodbav:"import_run_id,omitempty"`
	CreatedAt   string         `dynamodbav:"created_at"`
}

type dimensionItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	models.DimensionEntity
}

// Store implements storage.RecordStore on DynamoDB
type Store struct {
	client Client
	table  string
}

// New connects with the default AWS credential chain. A DSN overrides the
// endpoint, for DynamoDB Local.
func New(ctx context.Context, cfg storage.Config) (storage.RecordStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DSN != "" {
			o.BaseEndpoint = aws.String(cfg.DSN)
		}
	})
	return NewWithClient(client, cfg.Table), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client Client, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{client: client, table: table}
}

// Close is a no-op
func (s *Store) Close() {}

// EnsureSchema creates the table and its run index when missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table %s: %w", s.table, err)
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("RunKey"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(RunIndex),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("RunKey"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, 2*time.Minute); err != nil {
		return fmt.Errorf("table %s did not become active: %w", s.table, err)
	}
	return nil
}

// InsertRecords writes the batch in one transaction per hundred records.
// ModeInsert refuses records whose key already exists; ModeUpsert replaces
// them. The partition key carries the tenant, so an upsert can never touch
// another tenant's record.
func (s *Store) InsertRecords(ctx context.Context, tenantID string, records []models.AssembledRecord, mode storage.InsertMode) error {
	if err := storage.ValidateMode(mode); err != nil {
		return err
	}
	if mode == storage.ModeUpsert {
		records = storage.LastByID(records)
	}

	items := make([]types.TransactWriteItem, 0, len(records))
	for _, rec := range records {
		if rec.TenantID != "" && rec.TenantID != tenantID {
			return fmt.Errorf("record %s belongs to tenant %s, not %s", rec.ID, rec.TenantID, tenantID)
		}
		item, err := marshalRecord(tenantID, rec)
		if err != nil {
			return err
		}

		put := &types.Put{TableName: aws.String(s.table), Item: item}
		if mode == storage.ModeInsert {
			put.ConditionExpression = aws.String("attribute_not_exists(PK)")
		}
		items = append(items, types.TransactWriteItem{Put: put})
	}

	for start := 0; start < len(items); start += maxTransactItems {
		end := start + maxTransactItems
		if end > len(items) {
			end = len(items)
		}
		_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items[start:end]})
		if err != nil {
			var canceled *types.TransactionCanceledException
			if errors.As(err, &canceled) {
				return fmt.Errorf("batch rejected: %s", cancellationSummary(canceled))
			}
			return fmt.Errorf("failed to write records: %w", err)
		}
	}
	return nil
}

// SelectDimensions lists the dimension values of one kind, by name
func (s *Store) SelectDimensions(ctx context.Context, tenantID, kind string) ([]models.DimensionEntity, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: models.CreateTenantPK(tenantID)},
			":prefix": &types.AttributeValueMemberS{Value: models.CreateDimensionPrefix(kind)},
		},
	})

	var out []models.DimensionEntity
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s dimensions: %w", kind, err)
		}
		var items []dimensionItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dimensions: %w", err)
		}
		for _, item := range items {
			out = append(out, item.DimensionEntity)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateDimension stores a new dimension value. An existing value is
// returned with storage.ErrDimensionExists.
func (s *Store) CreateDimension(ctx context.Context, tenantID, kind, name string) (models.DimensionEntity, error) {
	d := models.NewDimensionEntity(tenantID, kind, name)
	item, err := attributevalue.MarshalMap(dimensionItem{
		PK:              models.CreateTenantPK(tenantID),
		SK:              models.CreateDimensionSK(kind, name),
		DimensionEntity: d,
	})
	if err != nil {
		return models.DimensionEntity{}, fmt.Errorf("failed to marshal dimension: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return d, nil
	}

	var exists *types.ConditionalCheckFailedException
	if !errors.As(err, &exists) {
		return models.DimensionEntity{}, fmt.Errorf("failed to create %s dimension %q: %w", kind, name, err)
	}

	current, err := s.getDimension(ctx, tenantID, kind, name)
	if err != nil {
		return models.DimensionEntity{}, err
	}
	return current, storage.ErrDimensionExists
}

func (s *Store) getDimension(ctx context.Context, tenantID, kind, name string) (models.DimensionEntity, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: models.CreateTenantPK(tenantID)},
			"SK": &types.AttributeValueMemberS{Value: models.CreateDimensionSK(kind, name)},
		},
	})
	if err != nil {
		return models.DimensionEntity{}, fmt.Errorf("failed to get %s dimension %q: %w", kind, name, err)
	}
	if out.Item == nil {
		return models.DimensionEntity{}, fmt.Errorf("%s dimension %q not found", kind, name)
	}

	var item dimensionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return models.DimensionEntity{}, fmt.Errorf("failed to unmarshal dimension: %w", err)
	}
	return item.DimensionEntity, nil
}

func marshalRecord(tenantID string, rec models.AssembledRecord) (map[string]types.AttributeValue, error) {
	item := recordItem{
		PK:          models.CreateTenantPK(tenantID),
		SK:          models.CreateRecordSK(rec.ID),
		ID:          rec.ID,
		TenantID:    tenantID,
		Name:        rec.Name(),
		Core:        rec.StoreValues(),
		CreatedBy:   rec.CreatedBy,
		ImportRunID: rec.ImportRunID,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.ImportRunID != "" {
		item.RunKey = models.GenerateImportRunKey(rec.ImportRunID)
	}
	if len(rec.Extra) > 0 {
		extra := models.AssembledRecord{Core: rec.Extra}
		item.Extra = extra.StoreValues()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record of row %d: %w", rec.RowIndex, err)
	}
	return av, nil
}

func cancellationSummary(err *types.TransactionCanceledException) string {
	for i, reason := range err.CancellationReasons {
		code := aws.ToString(reason.Code)
		if code != "" && code != "None" {
			return fmt.Sprintf("item %d: %s", i, code)
		}
	}
	return err.ErrorMessage()
}
