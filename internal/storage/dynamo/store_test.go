package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"
)

// fakeClient keeps items in memory keyed by PK and SK and understands the
// few condition expressions the store sends
type fakeClient struct {
	items        map[string]map[string]types.AttributeValue
	transactions [][]types.TransactWriteItem
	tableExists  bool
	created      *dynamodb.CreateTableInput
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: make(map[string]map[string]types.AttributeValue), tableExists: true}
}

func itemKey(item map[string]types.AttributeValue) string {
	pk := item["PK"].(*types.AttributeValueMemberS).Value
	sk := item["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for key, item := range f.items {
		if strings.HasPrefix(key, pk+"|"+prefix) {
			items = append(items, item)
		}
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeClient) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if !f.tableExists {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no table")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *fakeClient) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.created = in
	f.tableExists = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	key := itemKey(in.Item)
	if in.ConditionExpression != nil {
		if _, ok := f.items[key]; ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeClient) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transactions = append(f.transactions, in.TransactItems)

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, item := range in.TransactItems {
		reasons[i].Code = aws.String("None")
		if item.Put.ConditionExpression != nil {
			if _, ok := f.items[itemKey(item.Put.Item)]; ok {
				reasons[i].Code = aws.String("ConditionalCheckFailed")
				failed = true
			}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{Message: aws.String("cancelled"), CancellationReasons: reasons}
	}

	for _, item := range in.TransactItems {
		f.items[itemKey(item.Put.Item)] = item.Put.Item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func record(id, name string) models.AssembledRecord {
	return models.AssembledRecord{
		ID:          id,
		TenantID:    "t1",
		Core:        map[string]any{models.FieldName: name, models.FieldListedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		Extra:       map[string]any{models.FieldFeatures: []string{"piscina"}},
		ImportRunID: "run-1",
		CreatedAt:   time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
	}
}

func TestInsertRecords_ItemShape(t *testing.T) {
	client := newFakeClient()
	store := NewWithClient(client, "")

	if err := store.InsertRecords(context.Background(), "t1", []models.AssembledRecord{record("rec_1", "Casa")}, storage.ModeInsert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item, ok := client.items["TENANT#t1|RECORD#rec_1"]
	if !ok {
		t.Fatalf("record not stored under tenant partition, have %v", client.items)
	}

	var got recordItem
	if err := attributevalue.UnmarshalMap(item, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RunKey != "RUN#run-1" || got.Name != "Casa" || got.CreatedAt != "2024-03-04T05:06:07Z" {
		t.Errorf("unexpected item %+v", got)
	}
	if got.Core[models.FieldListedAt] != "2024-01-02" {
		t.Errorf("Expected ISO date in core, got %v", got.Core[models.FieldListedAt])
	}
	if aws.ToString(client.transactions[0][0].Put.TableName) != DefaultTable {
		t.Errorf("Expected default table, got %q", aws.ToString(client.transactions[0][0].Put.TableName))
	}
}

func TestInsertRecords_Modes(t *testing.T) {
	client := newFakeClient()
	store := NewWithClient(client, "crm")
	ctx := context.Background()

	if err := store.InsertRecords(ctx, "t1", []models.AssembledRecord{record("rec_1", "Casa")}, storage.ModeInsert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := store.InsertRecords(ctx, "t1", []models.AssembledRecord{record("rec_2", "Apto"), record("rec_1", "Casa")}, storage.ModeInsert)
	if err == nil || !strings.Contains(err.Error(), "item 1: ConditionalCheckFailed") {
		t.Fatalf("Expected conditional failure on item 1, got %v", err)
	}
	if _, ok := client.items["TENANT#t1|RECORD#rec_2"]; ok {
		t.Error("a rejected transaction must not write any item")
	}

	batch := []models.AssembledRecord{record("rec_1", "Casa v2"), record("rec_1", "Casa v3")}
	if err := store.InsertRecords(ctx, "t1", batch, storage.ModeUpsert); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	last := client.transactions[len(client.transactions)-1]
	if len(last) != 1 || last[0].Put.ConditionExpression != nil {
		t.Errorf("Expected one unconditional put, got %d items", len(last))
	}

	var got recordItem
	_ = attributevalue.UnmarshalMap(client.items["TENANT#t1|RECORD#rec_1"], &got)
	if got.Name != "Casa v3" {
		t.Errorf("Expected last values to win, got %q", got.Name)
	}
}

func TestInsertRecords_ChunksTransactions(t *testing.T) {
	client := newFakeClient()
	store := NewWithClient(client, "crm")

	records := make([]models.AssembledRecord, 250)
	for i := range records {
		records[i] = record(fmt.Sprintf("rec_%d", i), "Casa")
	}
	if err := store.InsertRecords(context.Background(), "t1", records, storage.ModeInsert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sizes []int
	for _, tx := range client.transactions {
		sizes = append(sizes, len(tx))
	}
	if fmt.Sprint(sizes) != "[100 100 50]" {
		t.Errorf("Expected chunks [100 100 50], got %v", sizes)
	}
}

func TestInsertRecords_RejectsForeignTenant(t *testing.T) {
	store := NewWithClient(newFakeClient(), "crm")
	rec := record("rec_1", "Casa")
	rec.TenantID = "t2"

	if err := store.InsertRecords(context.Background(), "t1", []models.AssembledRecord{rec}, storage.ModeUpsert); err == nil {
		t.Error("Expected foreign tenant error")
	}
}

func TestDimensions(t *testing.T) {
	client := newFakeClient()
	store := NewWithClient(client, "crm")
	ctx := context.Background()

	for _, name := range []string{"Zona Sul", "Centro"} {
		if _, err := store.CreateDimension(ctx, "t1", models.DimensionRegion, name); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	if _, err := store.CreateDimension(ctx, "t1", models.DimensionCategory, "Venda"); err != nil {
		t.Fatalf("create category: %v", err)
	}

	existing, err := store.CreateDimension(ctx, "t1", models.DimensionRegion, "Centro")
	if !errors.Is(err, storage.ErrDimensionExists) {
		t.Fatalf("Expected ErrDimensionExists, got %v", err)
	}
	if existing.ID != models.GenerateDimensionID("t1", models.DimensionRegion, "Centro") {
		t.Errorf("Expected the stored entity back, got %+v", existing)
	}

	regions, err := store.SelectDimensions(ctx, "t1", models.DimensionRegion)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(regions) != 2 || regions[0].Name != "Centro" || regions[1].Name != "Zona Sul" {
		t.Errorf("unexpected regions %+v", regions)
	}

	other, _ := store.SelectDimensions(ctx, "t2", models.DimensionRegion)
	if len(other) != 0 {
		t.Errorf("Expected no dimensions for another tenant, got %+v", other)
	}
}

func TestEnsureSchema(t *testing.T) {
	client := newFakeClient()
	store := NewWithClient(client, "crm")

	if err := store.EnsureSchema(context.Background()); err != nil || client.created != nil {
		t.Fatalf("existing table should be left alone, err=%v", err)
	}

	client.tableExists = false
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.created == nil || aws.ToString(client.created.GlobalSecondaryIndexes[0].IndexName) != RunIndex {
		t.Errorf("Expected table with run index, got %+v", client.created)
	}
}
