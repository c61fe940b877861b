package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"
)

// Store implements storage.RecordStore for SQLite.
//
// SQLite has no timestamp type, so created_at is stored as an RFC3339Nano
// string. Core and extra attributes are JSON text.
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database file named by cfg.DSN
func New(ctx context.Context, cfg storage.Config) (storage.RecordStore, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened handle
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() { _ = s.db.Close() }

// EnsureSchema creates the tables if missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

// InsertRecords writes one batch with a single statement
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

	q, args := buildInsertSQL(rows, mode)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("sqlite: insert %d records: %w", len(records), err)
	}
	return nil
}

// SelectDimensions lists the values of one kind
func (s *Store) SelectDimensions(ctx context.Context, tenantID, kind string) ([]models.DimensionEntity, error) {
	rows, err := s.db.QueryContext(ctx, selectDimensionsSQL, tenantID, kind)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select dimensions: %w", err)
	}
	defer rows.Close()

	var out []models.DimensionEntity
	for rows.Next() {
		d, err := scanDimension(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateDimension relies on INSERT OR IGNORE and the UNIQUE constraint
func (s *Store) CreateDimension(ctx context.Context, tenantID, kind, name string) (models.DimensionEntity, error) {
	d := models.NewDimensionEntity(tenantID, kind, name)

	res, err := s.db.ExecContext(ctx, insertDimensionSQL, d.ID, d.TenantID, d.Kind, d.Name, formatTime(d.CreatedAt))
	if err != nil {
		return models.DimensionEntity{}, fmt.Errorf("sqlite: create dimension %s/%s: %w", kind, name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		existing, err := scanDimension(s.db.QueryRowContext(ctx, lookupDimensionSQL, tenantID, kind, name))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.DimensionEntity{}, fmt.Errorf("sqlite: dimension %s/%s vanished after conflict", kind, name)
			}
			return models.DimensionEntity{}, err
		}
		return existing, storage.ErrDimensionExists
	}
	return d, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDimension(row scanner) (models.DimensionEntity, error) {
	var d models.DimensionEntity
	var created string
	if err := row.Scan(&d.ID, &d.TenantID, &d.Kind, &d.Name, &created); err != nil {
		return d, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return d, fmt.Errorf("sqlite: bad created_at %q for dimension %s: %w", created, d.ID, err)
	}
	d.CreatedAt = t
	return d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ` + storage.RecordsTable + ` (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	core TEXT NOT NULL,
	extra_attributes TEXT NOT NULL DEFAULT '{}',
	created_by TEXT,
	import_run_id TEXT,
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_` + storage.RecordsTable + `_tenant ON ` + storage.RecordsTable + ` (tenant_id)`,
	`CREATE TABLE IF NOT EXISTS ` + storage.DimensionsTable + ` (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (tenant_id, kind, name)
)`,
}

const (
	selectDimensionsSQL = `SELECT id, tenant_id, kind, name, created_at FROM ` + storage.DimensionsTable +
		` WHERE tenant_id = ? AND kind = ? ORDER BY name`
	lookupDimensionSQL = `SELECT id, tenant_id, kind, name, created_at FROM ` + storage.DimensionsTable +
		` WHERE tenant_id = ? AND kind = ? AND name = ?`
	insertDimensionSQL = `INSERT OR IGNORE INTO ` + storage.DimensionsTable +
		` (id, tenant_id, kind, name, created_at) VALUES (?, ?, ?, ?, ?)`
)

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
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	ph := "(" + strings.TrimRight(strings.Repeat("?, ", len(columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ph)
		for _, v := range row {
			if t, ok := v.(time.Time); ok {
				v = formatTime(t)
			}
			args = append(args, v)
		}
	}

	if mode == storage.ModeUpsert {
		b.WriteString(" ON CONFLICT(id) DO UPDATE SET ")
		first := true
		for _, c := range columns {
			if c == "id" || c == "tenant_id" || c == "created_at" {
				continue
			}
			if !first {
				b.WriteString(", ")
			}
			first = false
			b.WriteString(sqlIdent(c))
			b.WriteString(" = excluded.")
			b.WriteString(sqlIdent(c))
		}
		b.WriteString(" WHERE ")
		b.WriteString(storage.RecordsTable)
		b.WriteString(".tenant_id = excluded.tenant_id")
	}

	return b.String(), args
}

func sqlIdent(name string) string {
	return storage.QuoteIdent(name, `"`, `"`)
}
