package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage/memory"
)

func listing(name string, extra map[string]any) models.AssembledRecord {
	return models.AssembledRecord{
		ID:       models.GenerateRecordID("t1", ""),
		TenantID: "t1",
		Core:     map[string]any{models.FieldName: name},
		Extra:    extra,
	}
}

func TestCollectDimensionValues(t *testing.T) {
	records := []models.AssembledRecord{
		listing("a", map[string]any{models.FieldCategory: " Casa "}),
		listing("b", map[string]any{models.FieldCategory: "casa"}),
		listing("c", map[string]any{models.FieldCategory: "Casa"}),
		listing("d", map[string]any{models.FieldCategory: ""}),
		listing("e", nil),
	}

	got := CollectDimensionValues(records, models.FieldCategory)
	expected := []string{"Casa", "casa"}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected: %v, got: %v", expected, got)
	}

	tagged := []models.AssembledRecord{
		listing("a", map[string]any{models.FieldFeatures: []string{"piscina", "sauna"}}),
		listing("b", map[string]any{models.FieldFeatures: []string{"sauna", "academia"}}),
	}
	got = CollectDimensionValues(tagged, models.FieldFeatures)
	expected = []string{"piscina", "sauna", "academia"}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected: %v, got: %v", expected, got)
	}
}

func TestDimensionProvisioner_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	provisioner := NewDimensionProvisioner(store, nil, nil)

	records := []models.AssembledRecord{
		listing("a", map[string]any{models.FieldCategory: "Casa", models.FieldRegion: "Centro"}),
		listing("b", map[string]any{models.FieldCategory: "Apartamento", models.FieldFeatures: []string{"piscina"}}),
		listing("c", map[string]any{models.FieldCategory: "Casa"}),
	}

	first, err := provisioner.Provision(ctx, "t1", records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Created != 4 || first.Existing != 0 {
		t.Errorf("Expected 4 created, got %+v", first)
	}

	second, err := provisioner.Provision(ctx, "t1", records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Created != 0 || second.Existing != 4 {
		t.Errorf("Expected everything to exist on the second run, got %+v", second)
	}

	categories, _ := store.SelectDimensions(ctx, "t1", models.DimensionCategory)
	if len(categories) != 2 {
		t.Errorf("Expected 2 categories, got %d", len(categories))
	}
}

// flakyDimensionStore fails creation for selected names and hides existing
// dimensions from the pre-check
type flakyDimensionStore struct {
	*memory.Store
	failNames  map[string]bool
	hideSelect bool
	created    []string
}

func (s *flakyDimensionStore) SelectDimensions(ctx context.Context, tenantID, kind string) ([]models.DimensionEntity, error) {
	if s.hideSelect {
		return nil, errors.New("select unavailable")
	}
	return s.Store.SelectDimensions(ctx, tenantID, kind)
}

func (s *flakyDimensionStore) CreateDimension(ctx context.Context, tenantID, kind, name string) (models.DimensionEntity, error) {
	if s.failNames[name] {
		return models.DimensionEntity{}, errors.New("transient conflict")
	}
	s.created = append(s.created, name)
	return s.Store.CreateDimension(ctx, tenantID, kind, name)
}

func TestDimensionProvisioner_FailureDoesNotAbort(t *testing.T) {
	store := &flakyDimensionStore{Store: memory.New(), failNames: map[string]bool{"Casa": true}}
	provisioner := NewDimensionProvisioner(store, nil, nil)

	records := []models.AssembledRecord{
		listing("a", map[string]any{models.FieldCategory: "Casa"}),
		listing("b", map[string]any{models.FieldCategory: "Sobrado"}),
	}

	result, err := provisioner.Provision(context.Background(), "t1", records)
	if err != nil {
		t.Fatalf("provisioning must not fail on a single value: %v", err)
	}
	if result.Created != 1 || len(result.Failed) != 1 || result.Failed[0].Name != "Casa" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestDimensionProvisioner_ExistsWithoutPrecheck(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	if _, err := inner.CreateDimension(ctx, "t1", models.DimensionCategory, "Casa"); err != nil {
		t.Fatal(err)
	}
	store := &flakyDimensionStore{Store: inner, hideSelect: true}

	result, err := NewDimensionProvisioner(store, nil, nil).Provision(ctx, "t1", []models.AssembledRecord{
		listing("a", map[string]any{models.FieldCategory: "Casa"}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Created != 0 || result.Existing != 1 {
		t.Errorf("duplicate create should count as existing, got %+v", result)
	}

	dims, _ := inner.SelectDimensions(ctx, "t1", models.DimensionCategory)
	if len(dims) != 1 {
		t.Errorf("Expected a single entity, got %d", len(dims))
	}
}

func TestDimensionProvisioner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDimensionProvisioner(memory.New(), nil, nil).Provision(ctx, "t1", []models.AssembledRecord{
		listing("a", map[string]any{models.FieldCategory: "Casa"}),
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

var _ storage.RecordStore = (*flakyDimensionStore)(nil)
