// Package memory is a process-local RecordStore used by tests, previews and
// the CLI dry-run mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"
)

func init() {
	storage.Register("memory", func(_ context.Context, _ storage.Config) (storage.RecordStore, error) {
		return New(), nil
	})
}

// Store keeps records and dimensions per tenant
type Store struct {
	mu         sync.RWMutex
	records    map[string]map[string]models.AssembledRecord
	order      map[string][]string
	dimensions map[string][]models.DimensionEntity
}

// New returns an empty store
func New() *Store {
	return &Store{
		records:    make(map[string]map[string]models.AssembledRecord),
		order:      make(map[string][]string),
		dimensions: make(map[string][]models.DimensionEntity),
	}
}

// EnsureSchema is a no-op
func (s *Store) EnsureSchema(context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() {}

// InsertRecords stores the batch atomically
func (s *Store) InsertRecords(ctx context.Context, tenantID string, records []models.AssembledRecord, mode storage.InsertMode) error {
	if err := storage.ValidateMode(mode); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.records[tenantID]
	if existing == nil {
		existing = make(map[string]models.AssembledRecord)
		s.records[tenantID] = existing
	}

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.TenantID != "" && rec.TenantID != tenantID {
			return fmt.Errorf("record %s belongs to tenant %s, not %s", rec.ID, rec.TenantID, tenantID)
		}
		if mode == storage.ModeInsert {
			if _, dup := existing[rec.ID]; dup || seen[rec.ID] {
				return fmt.Errorf("duplicate record id %s", rec.ID)
			}
		}
		seen[rec.ID] = true
	}

	for _, rec := range records {
		if _, ok := existing[rec.ID]; !ok {
			s.order[tenantID] = append(s.order[tenantID], rec.ID)
		}
		rec.TenantID = tenantID
		existing[rec.ID] = rec
	}
	return nil
}

// SelectDimensions lists the dimension values of one kind, by name
func (s *Store) SelectDimensions(ctx context.Context, tenantID, kind string) ([]models.DimensionEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]models.DimensionEntity{}, s.dimensions[dimensionKey(tenantID, kind)]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateDimension stores a new dimension value
func (s *Store) CreateDimension(ctx context.Context, tenantID, kind, name string) (models.DimensionEntity, error) {
	if err := ctx.Err(); err != nil {
		return models.DimensionEntity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := dimensionKey(tenantID, kind)
	for _, d := range s.dimensions[key] {
		if d.Name == name {
			return d, storage.ErrDimensionExists
		}
	}

	d := models.NewDimensionEntity(tenantID, kind, name)
	s.dimensions[key] = append(s.dimensions[key], d)
	return d, nil
}

// Records returns a tenant's records in first-insert order
func (s *Store) Records(tenantID string) []models.AssembledRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AssembledRecord, 0, len(s.order[tenantID]))
	for _, id := range s.order[tenantID] {
		out = append(out, s.records[tenantID][id])
	}
	return out
}

func dimensionKey(tenantID, kind string) string {
	return tenantID + "\x00" + kind
}
