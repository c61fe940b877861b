package models

import "time"

// DimensionEntity is a tenant-scoped lookup value (category, region, ...)
type DimensionEntity struct {
	ID        string    `json:"id" dynamodbav:"id"`
	TenantID  string    `json:"tenant_id" dynamodbav:"tenant_id"`
	Kind      string    `json:"kind" dynamodbav:"kind"`
	Name      string    `json:"name" dynamodbav:"name"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}

// NewDimensionEntity builds an entity with its deterministic ID
func NewDimensionEntity(tenantID, kind, name string) DimensionEntity {
	return DimensionEntity{
		ID:        GenerateDimensionID(tenantID, kind, name),
		TenantID:  tenantID,
		Kind:      kind,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// Single-table key layout used by the DynamoDB store
const (
	EntityTypeTenant    = "TENANT"
	SortKeyRecord       = "RECORD"
	SortKeyDimension    = "DIM"
	SortKeyImportStatus = "RUN"
)

// CreateTenantPK builds the partition key for everything a tenant owns
func CreateTenantPK(tenantID string) string {
	return EntityTypeTenant + "#" + tenantID
}

// CreateRecordSK builds the sort key of a record
func CreateRecordSK(recordID string) string {
	return SortKeyRecord + "#" + recordID
}

// CreateDimensionSK builds the sort key of a dimension value
func CreateDimensionSK(kind, name string) string {
	return SortKeyDimension + "#" + kind + "#" + name
}

// CreateDimensionPrefix is the begins_with prefix for all values of one kind
func CreateDimensionPrefix(kind string) string {
	return SortKeyDimension + "#" + kind + "#"
}

// GenerateImportRunKey is the GSI key grouping records by import run
func GenerateImportRunKey(runID string) string {
	return SortKeyImportStatus + "#" + runID
}
