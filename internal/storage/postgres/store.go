package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"
)

// Store implements storage.RecordStore for Postgres.
//
// Record batches are written with a single multi-row INSERT, so a batch is
// atomic without an explicit transaction. Upserts use ON CONFLICT (id) DO
// UPDATE and never touch a row owned by another tenant.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pgx pool for cfg.DSN
func New(ctx context.Context, cfg storage.Config) (storage.RecordStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the record and dimension tables if missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

// InsertRecords writes one batch
func (s *Store) InsertRecords(ctx context.Context, tenantID string, records []models.AssembledRecord, mode storage.InsertMode) error {
	if len(records) == 0 {
		return nil
	}
	if err := storage.ValidateMode(mode); err != nil {
		return err
	}

	if mode == storage.ModeUpsert {
		records = storage.LastByID(records)
	}

	rows, err := storage.RecordRows(tenantID, records)
	if err != nil {
		return err
	}

	sql, args := buildInsertSQL(rows, mode)
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("postgres: insert %d records: %w", len(records), err)
	}
	return nil
}

// SelectDimensions lists the values of one dimension kind
func (s *Store) SelectDimensions(ctx context.Context, tenantID, kind string) ([]models.DimensionEntity, error) {
	rows, err := s.pool.Query(ctx, selectDimensionsSQL, tenantID, kind)
	if err != nil {
		return nil, fmt.Errorf("postgres: select dimensions: %w", err)
	}
	defer rows.Close()

	var out []models.DimensionEntity
	for rows.Next() {
		var d models.DimensionEntity
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Kind, &d.Name, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateDimension inserts a dimension value, reporting existing ones with
// storage.ErrDimensionExists
func (s *Store) CreateDimension(ctx context.Context, tenantID, kind, name string) (models.DimensionEntity, error) {
	d := models.NewDimensionEntity(tenantID, kind, name)

	tag, err := s.pool.Exec(ctx, insertDimensionSQL, storage.DimensionRow(d)...)
	if err != nil {
		return models.DimensionEntity{}, fmt.Errorf("postgres: create dimension %s/%s: %w", kind, name, err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.lookupDimension(ctx, tenantID, kind, name)
		if err != nil {
			return models.DimensionEntity{}, err
		}
		return existing, storage.ErrDimensionExists
	}
	return d, nil
}

func (s *Store) lookupDimension(ctx context.Context, tenantID, kind, name string) (models.DimensionEntity, error) {
	var d models.DimensionEntity
	err := s.pool.QueryRow(ctx, lookupDimensionSQL, tenantID, kind, name).
		Scan(&d.ID, &d.TenantID, &d.Kind, &d.Name, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, fmt.Errorf("postgres: dimension %s/%s vanished after conflict", kind, name)
	}
	return d, err
}

const (
	selectDimensionsSQL = `SELECT id, tenant_id, kind, name, created_at FROM ` + storage.DimensionsTable +
		` WHERE tenant_id = $1 AND kind = $2 ORDER BY name`
	lookupDimensionSQL = `SELECT id, tenant_id, kind, name, created_at FROM ` + storage.DimensionsTable +
		` WHERE tenant_id = $1 AND kind = $2 AND name = $3`
	insertDimensionSQL = `INSERT INTO ` + storage.DimensionsTable +
		` (id, tenant_id, kind, name, created_at) VALUES ($1, $2, $3, $4, $5)` +
		` ON CONFLICT (tenant_id, kind, name) DO NOTHING`
)

func schemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + storage.RecordsTable + ` (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	core JSONB NOT NULL,
	extra_attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_by TEXT,
	import_run_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_` + storage.RecordsTable + `_tenant ON ` + storage.RecordsTable + ` (tenant_id)`,
		`CREATE TABLE IF NOT EXISTS ` + storage.DimensionsTable + ` (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (tenant_id, kind, name)
)`,
	}
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// Constraints:
//   - every row must be in storage.RecordColumns order.
//   - JSON columns are cast explicitly so text parameters land as jsonb.
func buildInsertSQL(rows [][]any, mode storage.InsertMode) (string, []any) {
	columns := storage.RecordColumns

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(storage.RecordsTable)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, c := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			if c == "core" || c == "extra_attributes" {
				b.WriteString("::jsonb")
			}
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if mode == storage.ModeUpsert {
		b.WriteString(" ON CONFLICT (id) DO UPDATE SET ")
		first := true
		for _, c := range columns {
			if c == "id" || c == "tenant_id" || c == "created_at" {
				continue
			}
			if !first {
				b.WriteString(", ")
			}
			first = false
			b.WriteString(pgIdent(c))
			b.WriteString(" = EXCLUDED.")
			b.WriteString(pgIdent(c))
		}
		b.WriteString(" WHERE ")
		b.WriteString(storage.RecordsTable)
		b.WriteString(".tenant_id = EXCLUDED.tenant_id")
	}

	return b.String(), args
}

func pgIdent(name string) string {
	return storage.QuoteIdent(name, `"`, `"`)
}
