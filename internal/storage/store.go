package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// InsertMode selects how a batch treats records whose ID already exists
type InsertMode string

const (
	// ModeInsert fails the batch on an existing record ID
	ModeInsert InsertMode = "insert"
	// ModeUpsert replaces stored records that share an ID
	ModeUpsert InsertMode = "upsert"
)

// ErrDimensionExists is returned by CreateDimension for a (tenant, kind, name) already stored
var ErrDimensionExists = errors.New("storage: dimension already exists")

// Config selects and configures a backend.
//
// Kind must match a registered backend. DSN is passed through to SQL
// backends, Table to the DynamoDB backend.
type Config struct {
	Kind  string
	DSN   string
	Table string
}

// RecordStore is the tenant-scoped, batch-capable system of record.
//
// InsertRecords is atomic per call: either every record of the batch is
// stored or none is. CreateDimension must be idempotent by (tenant, kind,
// name) and report duplicates with ErrDimensionExists.
type RecordStore interface {
	EnsureSchema(ctx context.Context) error
	InsertRecords(ctx context.Context, tenantID string, records []models.AssembledRecord, mode InsertMode) error
	SelectDimensions(ctx context.Context, tenantID, kind string) ([]models.DimensionEntity, error)
	CreateDimension(ctx context.Context, tenantID, kind, name string) (models.DimensionEntity, error)
	Close()
}

// Factory opens a backend
type Factory func(ctx context.Context, cfg Config) (RecordStore, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Call it from an init
// function in the backend package. Registering a kind twice panics.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Open constructs the store registered for cfg.Kind
func Open(ctx context.Context, cfg Config) (RecordStore, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// ValidateMode rejects unknown insert modes
func ValidateMode(mode InsertMode) error {
	switch mode {
	case ModeInsert, ModeUpsert:
		return nil
	}
	return fmt.Errorf("storage: unknown insert mode %q", mode)
}
